package action

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/openslides/backend/pkg/actionerror"
	"github.com/openslides/backend/pkg/actionschema"
	"github.com/openslides/backend/pkg/datastore"
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/model"
	"github.com/openslides/backend/pkg/relations"
)

// UpdateAction is the generic update action base. Only the
// fields present in the payload change; reverse-side updates are diffed
// against the database's current value.
type UpdateAction struct {
	Base *Base

	// Schema validates the raw payload before any database interaction.
	Schema *actionschema.Schema

	// GetUpdatedInstances lets a custom action rewrite the decoded payload
	// before it is applied, e.g. agenda_item.assign derives parent_id for a
	// whole batch of ids instead of taking it from each payload item
	// directly.
	GetUpdatedInstances func(ctx context.Context, data map[string]any) (map[string]any, error)

	// CheckPermissions runs after GetUpdatedInstances, given the id the
	// payload targets (already stripped out of data by then) and the
	// remaining fields.
	CheckPermissions func(ctx context.Context, id uint64, data map[string]any) error
}

// Perform implements Action.
func (a *UpdateAction) Perform(ctx context.Context, payload []json.RawMessage, userID uint64) ([]datastore.WriteRequestElement, error) {
	var all []datastore.WriteRequestElement
	for _, raw := range payload {
		if a.Schema != nil {
			if err := a.Schema.Validate(raw); err != nil {
				return nil, err
			}
		}
		elements, err := a.performOne(ctx, raw, userID)
		if err != nil {
			return nil, err
		}
		all = append(all, elements...)
	}
	return all, nil
}

func (a *UpdateAction) performOne(ctx context.Context, raw json.RawMessage, userID uint64) ([]datastore.WriteRequestElement, error) {
	m := a.Base.Model

	data, err := decodeInstance(m, raw)
	if err != nil {
		return nil, err
	}
	rawID, ok := data["id"]
	if !ok {
		return nil, actionerror.NewActionError("%s.update: payload is missing required field \"id\"", m.Collection)
	}
	id, ok := rawID.(uint64)
	if !ok {
		return nil, actionerror.NewActionError("%s.update: \"id\" must be an integer", m.Collection)
	}
	delete(data, "id")

	if a.GetUpdatedInstances != nil {
		data, err = a.GetUpdatedInstances(ctx, data)
		if err != nil {
			return nil, err
		}
	}

	if a.CheckPermissions != nil {
		if err := a.CheckPermissions(ctx, id, data); err != nil {
			return nil, err
		}
	}

	owner := fqid.FQId{Collection: m.Collection, ID: id}

	if err := a.applyTemplateTokenUpdates(ctx, m, owner, data); err != nil {
		return nil, err
	}

	relationFields, _, err := enumerateRelationFields(m, data)
	if err != nil {
		return nil, err
	}

	effects := relations.Effects{}
	resolver := a.Base.resolver()
	ownerView := toOrderedModel(m, data)
	for _, rf := range relationFields {
		one, err := resolver.Resolve(ctx, relations.Request{
			Model:     m,
			ID:        id,
			Field:     rf.field,
			FieldName: rf.fieldName,
			Proposed:  data[rf.fieldName],
			Owner:     ownerView,
		})
		if err != nil {
			return nil, err
		}
		mergeEffects(effects, one)
	}

	if len(data) == 0 && len(effects) == 0 {
		// An update whose payload fields already equal the database
		// values emits no events at all.
		return nil, nil
	}

	var events []datastore.Event
	if len(data) > 0 {
		events = append(events, datastore.Event{Type: datastore.EventUpdate, FQId: owner, Fields: toOrderedModel(m, data)})
	}
	events = append(events, effectsToEvents(effects)...)

	information := map[fqid.FQId][]string{owner: {"Object updated"}}

	return []datastore.WriteRequestElement{{
		Events:       events,
		Information:  information,
		UserID:       userID,
		LockedFields: a.Base.Locked.Snapshot(),
	}}, nil
}

// applyTemplateTokenUpdates keeps template token sets in step: for
// every concrete instantiation of a template field present in data, read
// the template field's current token set and add or remove the token
// depending on whether the new concrete value is empty, folding the updated
// token set back into data so it is written alongside the instance update.
func (a *UpdateAction) applyTemplateTokenUpdates(ctx context.Context, m *model.Model, owner fqid.FQId, data map[string]any) error {
	for _, f := range m.RelationFields() {
		if !f.Relation.IsTemplate() {
			continue
		}
		raw := f.TemplateFieldName()
		var concrete string
		var token string
		found := false
		for key := range data {
			if t, ok := f.TemplateField(key); ok {
				concrete, token, found = key, t, true
				break
			}
		}
		if !found {
			continue
		}

		current, rev, err := a.Base.DB.Get(ctx, owner, []string{raw})
		if err != nil {
			return err
		}
		a.Base.Locked.Observe(owner.String(), rev)

		tokens := stringSet(current, raw)
		empty := isEmptyValue(data[concrete])
		if empty {
			tokens = removeString(tokens, token)
		} else if !containsString(tokens, token) {
			tokens = append(tokens, token)
		}
		sort.Strings(tokens)
		data[raw] = tokens
	}
	return nil
}

func stringSet(m *datastore.OrderedModel, key string) []string {
	v, ok := m.Get(key)
	if !ok || v == nil {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return append([]string{}, list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func isEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case []uint64:
		return len(x) == 0
	case []fqid.FQId:
		return len(x) == 0
	default:
		return false
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
