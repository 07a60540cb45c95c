package action

import (
	"context"
	"encoding/json"

	"github.com/openslides/backend/pkg/actionschema"
	"github.com/openslides/backend/pkg/datastore"
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/relations"
)

// CreateAction is the generic create action base. Concrete
// create actions build one, supplying the schema and the hook functions
// that matter for their collection; every hook is optional and defaults to
// a no-op.
type CreateAction struct {
	Base *Base

	// Schema validates the raw payload before any database interaction.
	Schema *actionschema.Schema

	// UpdateInstance derives fields at validation time, e.g.
	// "agenda_item.create infers meeting_id from content_object_id".
	UpdateInstance func(ctx context.Context, data map[string]any) error

	// CheckPermissions runs after UpdateInstance, before an id is reserved.
	CheckPermissions func(ctx context.Context, data map[string]any) error

	// Dependencies returns actions to run immediately after this instance is
	// created, given its final field map and new id.
	Dependencies func(data map[string]any, id uint64) []Dependency
}

// Perform implements Action.
func (a *CreateAction) Perform(ctx context.Context, payload []json.RawMessage, userID uint64) ([]datastore.WriteRequestElement, error) {
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

func (a *CreateAction) performOne(ctx context.Context, raw json.RawMessage, userID uint64) ([]datastore.WriteRequestElement, error) {
	m := a.Base.Model

	data, err := decodeInstance(m, raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(m, data)

	if a.UpdateInstance != nil {
		if err := a.UpdateInstance(ctx, data); err != nil {
			return nil, err
		}
	}

	relationFields, templateTokens, err := enumerateRelationFields(m, data)
	if err != nil {
		return nil, err
	}
	for templateField, tokens := range templateTokens {
		data[templateField] = tokens
	}

	if a.CheckPermissions != nil {
		if err := a.CheckPermissions(ctx, data); err != nil {
			return nil, err
		}
	}

	ids, err := a.Base.DB.ReserveIDs(ctx, m.Collection, 1)
	if err != nil {
		return nil, err
	}
	id := ids[0]
	data["id"] = id

	instance := toOrderedModel(m, data)
	owner := fqid.FQId{Collection: m.Collection, ID: id}

	effects := relations.Effects{}
	resolver := a.Base.resolver()
	for _, rf := range relationFields {
		one, err := resolver.Resolve(ctx, relations.Request{
			Model:     m,
			ID:        id,
			Field:     rf.field,
			FieldName: rf.fieldName,
			Proposed:  data[rf.fieldName],
			Owner:     instance,
			OnlyAdd:   true,
		})
		if err != nil {
			return nil, err
		}
		mergeEffects(effects, one)
	}

	events := append([]datastore.Event{{Type: datastore.EventCreate, FQId: owner, Fields: instance}}, effectsToEvents(effects)...)
	information := map[fqid.FQId][]string{owner: {"Object created"}}

	a.Base.Overlay.PutModel(owner, instance)

	elements := []datastore.WriteRequestElement{{
		Events:       events,
		Information:  information,
		UserID:       userID,
		LockedFields: a.Base.Locked.Snapshot(),
	}}

	if a.Dependencies != nil {
		depElements, err := a.Base.runDependencies(ctx, a.Dependencies(data, id))
		if err != nil {
			return nil, err
		}
		elements = append(elements, depElements...)
	}

	return elements, nil
}
