package agendaitem

import (
	"context"
	"encoding/json"

	"github.com/openslides/backend/pkg/action"
	"github.com/openslides/backend/pkg/actionerror"
	"github.com/openslides/backend/pkg/actionschema"
	"github.com/openslides/backend/pkg/datastore"
	"github.com/openslides/backend/pkg/dispatch"
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/relations"
)

var assignSchemaDoc = json.RawMessage(`{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"title": "agenda_item.assign",
	"type": "object",
	"properties": {
		"ids": {"type": "array", "items": {"type": "integer"}, "minItems": 1, "uniqueItems": true},
		"parent_id": {"type": ["integer", "null"]},
		"meeting_id": {"type": "integer"}
	},
	"required": ["ids", "parent_id", "meeting_id"],
	"additionalProperties": false
}`)

type assignPayload struct {
	IDs       []uint64 `json:"ids"`
	ParentID  *uint64  `json:"parent_id"`
	MeetingID uint64   `json:"meeting_id"`
}

// assignAction implements agenda_item.assign: reparent a batch of
// agenda items under one new parent, rejecting assignment of an item to
// one of its own descendants.
type assignAction struct {
	base   *action.Base
	schema *actionschema.Schema
}

func registerAssign(actions *dispatch.Registry) error {
	schema, err := actionschema.FromDocument("agenda_item.assign", assignSchemaDoc)
	if err != nil {
		return err
	}
	actions.Register("agenda_item.assign", func(b *action.Base) action.Action {
		return &assignAction{base: b, schema: schema}
	}, schema)
	return nil
}

func (a *assignAction) Perform(ctx context.Context, payload []json.RawMessage, userID uint64) ([]datastore.WriteRequestElement, error) {
	var all []datastore.WriteRequestElement
	for _, raw := range payload {
		if a.schema != nil {
			if err := a.schema.Validate(raw); err != nil {
				return nil, err
			}
		}
		var p assignPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, actionerror.NewActionError("agenda_item.assign: %s", err)
		}
		elements, err := a.performOne(ctx, p, userID)
		if err != nil {
			return nil, err
		}
		all = append(all, elements...)
	}
	return all, nil
}

func (a *assignAction) performOne(ctx context.Context, p assignPayload, userID uint64) ([]datastore.WriteRequestElement, error) {
	dbInstances, err := a.base.DB.Filter(ctx, Collection, datastore.Equal("meeting_id", p.MeetingID), []string{"id"})
	if err != nil {
		return nil, err
	}
	known := map[uint64]bool{}
	for _, inst := range dbInstances {
		if v, ok := inst.Get("id"); ok {
			id, err := toUint64(v)
			if err != nil {
				return nil, err
			}
			known[id] = true
		}
	}

	ancestors := map[uint64]bool{}
	if p.ParentID != nil {
		ancestors[*p.ParentID] = true
		cursor := *p.ParentID
		for {
			obj, rev, err := a.base.DB.Get(ctx, fqid.FQId{Collection: Collection, ID: cursor}, []string{"parent_id"})
			if err != nil {
				return nil, err
			}
			a.base.Locked.Observe(fqid.FQId{Collection: Collection, ID: cursor}.String(), rev)
			parent, ok := obj.Get("parent_id")
			if !ok || parent == nil {
				break
			}
			cursor, err = toUint64(parent)
			if err != nil {
				return nil, err
			}
			ancestors[cursor] = true
		}
	}

	parentField, ok := a.base.Model.Field("parent_id")
	if !ok {
		return nil, actionerror.NewActionError("agenda_item.assign: model has no parent_id field")
	}
	resolver := relations.New(a.base.Registry, a.base.DB, a.base.Locked, a.base.Overlay)

	var events []datastore.Event
	information := map[fqid.FQId][]string{}
	effects := relations.Effects{}
	for _, id := range p.IDs {
		if ancestors[id] {
			return nil, actionerror.NewActionError("Assigning item %d to one of its children is not possible.", id)
		}
		if !known[id] {
			return nil, actionerror.NewActionError("Id %d not in db_instances.", id)
		}
		fields := datastore.NewOrderedModel()
		var proposed any
		if p.ParentID != nil {
			proposed = *p.ParentID
			fields.Set("parent_id", *p.ParentID)
		} else {
			fields.Set("parent_id", nil)
		}
		owner := fqid.FQId{Collection: Collection, ID: id}
		events = append(events, datastore.Event{Type: datastore.EventUpdate, FQId: owner, Fields: fields})
		information[owner] = []string{"Object updated"}

		ownerView := datastore.NewOrderedModel()
		ownerView.Set("meeting_id", p.MeetingID)

		one, err := resolver.Resolve(ctx, relations.Request{
			Model:     a.base.Model,
			ID:        id,
			Field:     parentField,
			FieldName: "parent_id",
			Proposed:  proposed,
			Owner:     ownerView,
		})
		if err != nil {
			return nil, err
		}
		for k, v := range one {
			effects[k] = v
			// Stage the new reverse value so resolving the next item in the
			// same batch sees this one's effect (two items gaining the same
			// parent must both land in its child_ids).
			staged := datastore.NewOrderedModel()
			staged.Set(k.Field, v.Value)
			a.base.Overlay.PutModel(k.FQId(), staged)
		}
	}
	events = append(events, effectsToEvents(effects)...)

	if len(events) == 0 {
		return nil, nil
	}

	return []datastore.WriteRequestElement{{
		Events:       events,
		Information:  information,
		UserID:       userID,
		LockedFields: a.base.Locked.Snapshot(),
	}}, nil
}

// effectsToEvents groups a resolver's per-field effects into one update
// event per affected object, in deterministic sorted-key order, mirroring
// pkg/action's unexported helper of the same shape.
func effectsToEvents(effects relations.Effects) []datastore.Event {
	var events []datastore.Event
	byID := map[fqid.FQId]*datastore.OrderedModel{}
	var order []fqid.FQId
	for _, fq := range effects.Ordered() {
		eff := effects[fq]
		id := fq.FQId()
		fields, ok := byID[id]
		if !ok {
			fields = datastore.NewOrderedModel()
			byID[id] = fields
			order = append(order, id)
		}
		fields.Set(fq.Field, eff.Value)
	}
	for _, id := range order {
		events = append(events, datastore.Event{Type: datastore.EventUpdate, FQId: id, Fields: byID[id]})
	}
	return events
}
