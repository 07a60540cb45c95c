package action

import (
	"context"
	"encoding/json"

	"github.com/openslides/backend/pkg/actionerror"
	"github.com/openslides/backend/pkg/datastore"
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/model"
	"github.com/openslides/backend/pkg/relations"
)

// DeleteAction is the generic delete action base. It traverses
// every relation field on the instance being deleted, applies each field's
// on_delete policy, and recursively cascades.
type DeleteAction struct {
	Base *Base
}

type deletePayload struct {
	ID uint64 `json:"id"`
}

// Perform implements Action.
func (a *DeleteAction) Perform(ctx context.Context, payload []json.RawMessage, userID uint64) ([]datastore.WriteRequestElement, error) {
	var all []datastore.WriteRequestElement
	for _, raw := range payload {
		var item deletePayload
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, &actionerror.SchemaError{Action: string(a.Base.Model.Collection) + ".delete", Detail: err.Error()}
		}
		if item.ID == 0 {
			return nil, actionerror.NewActionError("%s.delete: payload is missing required field \"id\"", a.Base.Model.Collection)
		}
		elements, err := a.performOne(ctx, item.ID, userID)
		if err != nil {
			return nil, err
		}
		all = append(all, elements...)
	}
	return all, nil
}

func (a *DeleteAction) performOne(ctx context.Context, id uint64, userID uint64) ([]datastore.WriteRequestElement, error) {
	m := a.Base.Model
	owner := fqid.FQId{Collection: m.Collection, ID: id}

	var guardedFields []string
	for _, f := range m.RelationFields() {
		if f.Relation.OnDelete != model.SetNull {
			guardedFields = append(guardedFields, f.Name)
		}
	}

	var current *datastore.OrderedModel
	if len(guardedFields) > 0 {
		fetched, rev, err := a.Base.DB.Get(ctx, owner, guardedFields)
		if err != nil {
			return nil, err
		}
		a.Base.Locked.Observe(owner.String(), rev)
		current = fetched
	} else {
		current = datastore.NewOrderedModel()
	}

	var nested []datastore.WriteRequestElement
	setNullFields := map[string]model.Field{}

	for _, f := range m.RelationFields() {
		if f.Relation.IsTemplate() {
			if f.Relation.OnDelete != model.SetNull {
				return nil, actionerror.NewActionError(
					"%s.delete: on_delete=%s is not supported on template field %q", m.Collection, f.Relation.OnDelete, f.Name)
			}
			if err := a.cascadeSetNullTemplate(ctx, owner, f, setNullFields); err != nil {
				return nil, err
			}
			continue
		}

		switch f.Relation.OnDelete {
		case model.SetNull:
			setNullFields[f.Name] = f

		case model.Protect:
			targets, err := extractTargets(current, f)
			if err != nil {
				return nil, err
			}
			for _, target := range targets {
				if !a.scheduledForDeletion(target) {
					return nil, actionerror.NewActionError(
						"you can not delete %s %d, because you have to delete the related %s first",
						m.Collection, id, target.Collection)
				}
			}

		case model.Cascade:
			targets, err := extractTargets(current, f)
			if err != nil {
				return nil, err
			}
			for _, target := range targets {
				factory, ok := a.Base.Actions.Lookup(string(target.Collection) + ".delete")
				if !ok {
					return nil, actionerror.NewActionError(
						"can't cascade the delete action to %s since no delete action was registered", target.Collection)
				}
				a.Base.Overlay.MarkDeleted(target)
				targetModel, ok := a.Base.Registry.Model(target.Collection)
				if !ok {
					return nil, actionerror.NewActionError("unknown collection %q", target.Collection)
				}
				cascadeBase := a.Base.WithModel(targetModel)
				act := factory(cascadeBase)
				rawID, err := json.Marshal(deletePayload{ID: target.ID})
				if err != nil {
					return nil, err
				}
				elements, err := act.Perform(ctx, []json.RawMessage{rawID}, userID)
				if err != nil {
					return nil, err
				}
				nested = append(nested, elements...)
			}
		}
	}

	effects := relations.Effects{}
	resolver := a.Base.resolver()
	for fieldName, f := range setNullFields {
		one, err := resolver.Resolve(ctx, relations.Request{
			Model:     m,
			ID:        id,
			Field:     f,
			FieldName: fieldName,
			Reverse:   true,
		})
		if err != nil {
			return nil, err
		}
		mergeEffects(effects, one)
	}

	a.Base.Overlay.MarkDeleted(owner)

	events := append([]datastore.Event{{Type: datastore.EventDelete, FQId: owner}}, effectsToEvents(effects)...)
	information := map[fqid.FQId][]string{owner: {"Object deleted"}}

	own := datastore.WriteRequestElement{
		Events:       events,
		Information:  information,
		UserID:       userID,
		LockedFields: a.Base.Locked.Snapshot(),
	}

	return dedupeTombstones(append(nested, own)), nil
}

// cascadeSetNullTemplate resolves a set_null template field at delete time:
// read its raw token-set field, and for every token currently in use,
// schedule the concrete field for a reverse resolve.
func (a *DeleteAction) cascadeSetNullTemplate(ctx context.Context, owner fqid.FQId, f model.Field, setNullFields map[string]model.Field) error {
	raw := f.TemplateFieldName()
	current, rev, err := a.Base.DB.Get(ctx, owner, []string{raw})
	if err != nil {
		return err
	}
	a.Base.Locked.Observe(owner.String(), rev)
	for _, token := range stringSet(current, raw) {
		concrete := f.Name[:f.Relation.Template.Index] + token + f.Name[f.Relation.Template.Index:]
		setNullFields[concrete] = f
	}
	return nil
}

// extractTargets reads the current ids referenced by a protect/cascade
// relation field and returns them as fully-qualified targets.
func extractTargets(current *datastore.OrderedModel, f model.Field) ([]fqid.FQId, error) {
	value, ok := current.Get(f.Name)
	if !ok || value == nil {
		return nil, nil
	}
	if f.Relation.Generic {
		switch v := value.(type) {
		case fqid.FQId:
			return []fqid.FQId{v}, nil
		case []fqid.FQId:
			return v, nil
		default:
			return nil, actionerror.NewActionError("%s: expected fqid value, got %T", f.Name, value)
		}
	}
	if len(f.Relation.To) != 1 {
		return nil, actionerror.NewActionError("%s: non-generic relation field must declare exactly one target collection", f.Name)
	}
	target := f.Relation.To[0]
	switch v := value.(type) {
	case uint64:
		return []fqid.FQId{{Collection: target, ID: v}}, nil
	case []uint64:
		out := make([]fqid.FQId, len(v))
		for i, id := range v {
			out[i] = fqid.FQId{Collection: target, ID: id}
		}
		return out, nil
	default:
		return nil, actionerror.NewActionError("%s: expected integer id value, got %T", f.Name, value)
	}
}

func (a *DeleteAction) scheduledForDeletion(target fqid.FQId) bool {
	entry, ok := a.Base.Overlay.Lookup(target)
	return ok && entry.Deleted
}

// dedupeTombstones drops doomed updates: once an FQId has a delete event
// anywhere in the merged result, any later update event for the same FQId
// is dropped (you cannot update a tombstone).
func dedupeTombstones(elements []datastore.WriteRequestElement) []datastore.WriteRequestElement {
	deleted := map[fqid.FQId]bool{}
	out := make([]datastore.WriteRequestElement, 0, len(elements))
	for _, el := range elements {
		var events []datastore.Event
		for _, ev := range el.Events {
			if ev.Type == datastore.EventDelete {
				deleted[ev.FQId] = true
				events = append(events, ev)
				continue
			}
			if ev.Type == datastore.EventUpdate && deleted[ev.FQId] {
				continue
			}
			events = append(events, ev)
		}
		if len(events) == 0 {
			continue
		}
		cp := el
		cp.Events = events
		out = append(out, cp)
	}
	return out
}
