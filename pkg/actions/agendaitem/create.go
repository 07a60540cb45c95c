package agendaitem

import (
	"context"
	"fmt"

	"github.com/openslides/backend/pkg/action"
	"github.com/openslides/backend/pkg/actionschema"
	"github.com/openslides/backend/pkg/dispatch"
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/model"
)

// Register wires agenda_item.create/update/delete plus the custom assign and
// numbering actions into actions.
func Register(actions *dispatch.Registry, m *model.Model) error {
	createSchema, err := actionschema.ForCreate("agenda_item.create", m,
		[]string{"content_object_id"},
		[]string{"item_number", "comment", "type", "parent_id", "duration", "weight"})
	if err != nil {
		return err
	}
	actions.Register("agenda_item.create", func(b *action.Base) action.Action {
		return &action.CreateAction{
			Base:           b,
			Schema:         createSchema,
			UpdateInstance: makeUpdateInstance(b),
		}
	}, createSchema)

	updateSchema, err := actionschema.ForUpdate("agenda_item.update", m,
		[]string{"item_number", "comment", "type", "parent_id", "duration", "weight"})
	if err != nil {
		return err
	}
	actions.Register("agenda_item.update", func(b *action.Base) action.Action {
		return &action.UpdateAction{Base: b, Schema: updateSchema}
	}, updateSchema)

	actions.Register("agenda_item.delete", func(b *action.Base) action.Action {
		return &action.DeleteAction{Base: b}
	}, nil)

	if err := registerAssign(actions); err != nil {
		return err
	}
	return registerNumbering(actions)
}

// makeUpdateInstance builds the create-time hook that infers meeting_id from
// content_object_id and, if a parent is given, derives weight from it.
func makeUpdateInstance(b *action.Base) func(ctx context.Context, data map[string]any) error {
	return func(ctx context.Context, data map[string]any) error {
		contentObject, ok := data["content_object_id"].(fqid.FQId)
		if !ok {
			return fmt.Errorf("agenda_item.create: content_object_id must resolve to a fqid")
		}
		content, err := b.Fetch(ctx, contentObject, []string{"meeting_id"})
		if err != nil {
			return err
		}
		if meetingID, ok := content.Get("meeting_id"); ok && meetingID != nil {
			id, err := toUint64(meetingID)
			if err != nil {
				return err
			}
			data["meeting_id"] = id
		}

		parentID, ok := data["parent_id"]
		if !ok || parentID == nil {
			return nil
		}
		pid, err := toUint64(parentID)
		if err != nil {
			return err
		}
		parent, err := b.Fetch(ctx, fqid.FQId{Collection: Collection, ID: pid}, []string{"weight"})
		if err != nil {
			return err
		}
		weight, ok := parent.Get("weight")
		if !ok || weight == nil {
			return nil
		}
		w, err := toUint64(weight)
		if err != nil {
			return err
		}
		data["weight"] = w + 1
		return nil
	}
}

func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case int:
		return uint64(n), nil
	case int64:
		return uint64(n), nil
	case float64:
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("agenda_item: expected integer, got %T", v)
	}
}
