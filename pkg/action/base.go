// Package action implements the generic action base:
// the create/update/delete pipelines that turn one validated payload item
// into a validated instance, the induced relation-resolver effects, and a
// write-request element ready for the dispatcher to merge and submit.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/openslides/backend/pkg/actionerror"
	"github.com/openslides/backend/pkg/datastore"
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/model"
	"github.com/openslides/backend/pkg/permission"
	"github.com/openslides/backend/pkg/relations"
)

// Action is implemented by every concrete action: the three generic bases
// (CreateAction, UpdateAction, DeleteAction) and any custom action built on
// top of them.
type Action interface {
	Perform(ctx context.Context, payload []json.RawMessage, userID uint64) ([]datastore.WriteRequestElement, error)
}

// Factory constructs a fresh Action bound to one request's shared Base.
// Concrete action packages register one Factory per dotted action name with
// a pkg/dispatch.Registry.
type Factory func(base *Base) Action

// Registry is the subset of pkg/dispatch.Registry the generic action base
// needs: resolving a create action's declared Dependencies, and a delete
// action's cascades, by dotted action name.
type Registry interface {
	Lookup(name string) (Factory, bool)
}

// Dependency is a create action's request to run another action immediately
// after itself, sharing the same Base (overlay, locked fields, user).
type Dependency struct {
	ActionName string
	Payload    json.RawMessage
}

// Base carries the state shared by every action invoked within one batch:
// the model being acted on, the datastore client, the request-scoped
// overlay of in-flight objects, the locked-fields accumulator, the
// permission checker, the action registry (for dependencies/cascades), and
// the authenticated caller.
type Base struct {
	Model      *model.Model
	Registry   *model.Registry
	DB         datastore.Client
	Overlay    *relations.Overlay
	Locked     *datastore.LockedFields
	Permission permission.Checker
	Actions    Registry
	UserID     uint64
}

// WithModel returns a shallow copy of b bound to a different model, used
// when a cascade or dependency needs to invoke an action on another
// collection while sharing this Base's overlay, locked fields and registry.
func (b *Base) WithModel(m *model.Model) *Base {
	cp := *b
	cp.Model = m
	return &cp
}

func (b *Base) resolver() *relations.Resolver {
	return relations.New(b.Registry, b.DB, b.Locked, b.Overlay)
}

// Fetch reads fields of fq, consulting the request's in-flight overlay
// before the datastore, so hooks can reference objects created earlier in
// the same batch. Datastore reads are recorded in the locked-fields map.
func (b *Base) Fetch(ctx context.Context, fq fqid.FQId, fields []string) (*datastore.OrderedModel, error) {
	if b.Overlay != nil {
		if entry, ok := b.Overlay.Lookup(fq); ok {
			if entry.Deleted {
				return nil, actionerror.NewActionError("you try to reference an instance of %s that does not exist", fq.Collection)
			}
			out := datastore.NewOrderedModel()
			for _, f := range fields {
				if v, ok := entry.Model.Get(f); ok {
					out.Set(f, v)
				}
			}
			return out, nil
		}
	}
	m, rev, err := b.DB.Get(ctx, fq, fields)
	if err != nil {
		return nil, err
	}
	if b.Locked != nil {
		b.Locked.Observe(fq.String(), rev)
	}
	return m, nil
}

func (b *Base) runDependencies(ctx context.Context, deps []Dependency) ([]datastore.WriteRequestElement, error) {
	var out []datastore.WriteRequestElement
	for _, dep := range deps {
		factory, ok := b.Actions.Lookup(dep.ActionName)
		if !ok {
			return nil, actionerror.NewActionError("action: unknown dependency action %q", dep.ActionName)
		}
		// The dependency targets its own collection (the part of the dotted
		// name before the verb), not the collection of the action that
		// declared it.
		depBase := b
		if i := strings.LastIndex(dep.ActionName, "."); i > 0 {
			m, ok := b.Registry.Model(fqid.Collection(dep.ActionName[:i]))
			if !ok {
				return nil, actionerror.NewActionError("action: dependency %q names an unknown collection", dep.ActionName)
			}
			depBase = b.WithModel(m)
		}
		act := factory(depBase)
		elements, err := act.Perform(ctx, []json.RawMessage{dep.Payload}, b.UserID)
		if err != nil {
			return nil, err
		}
		out = append(out, elements...)
	}
	return out, nil
}

// decodeInstance turns a raw action payload item into a field -> value map
// typed per the model's field kinds, so downstream code never has to juggle
// encoding/json's float64-for-every-number representation directly.
func decodeInstance(m *model.Model, raw json.RawMessage) (map[string]any, error) {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, &actionerror.SchemaError{Detail: err.Error()}
	}
	out := make(map[string]any, len(generic))
	for name, v := range generic {
		f, ok := m.Field(name)
		if !ok {
			if tf, isTemplate := templateFieldFor(m, name); isTemplate {
				f = tf
			} else {
				out[name] = v
				continue
			}
		}
		converted, err := convertValue(f, v)
		if err != nil {
			return nil, fmt.Errorf("action: field %q: %w", name, err)
		}
		out[name] = converted
	}
	return out, nil
}

// templateFieldFor finds the template field whose concrete instantiations
// include name, so template-instantiated payload keys get the same value
// conversion their declared template field would.
func templateFieldFor(m *model.Model, name string) (model.Field, bool) {
	for _, f := range m.RelationFields() {
		if !f.Relation.IsTemplate() {
			continue
		}
		if _, ok := f.TemplateField(name); ok {
			return f, true
		}
	}
	return model.Field{}, false
}

func convertValue(f model.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f.IsRelation() && f.Relation.Generic {
		return convertGenericValue(v)
	}
	switch f.Kind {
	case model.KindInteger:
		return toUint64(v)
	case model.KindList:
		if f.IsRelation() {
			return toUint64List(v)
		}
		return v, nil
	default:
		return v, nil
	}
}

func toUint64(v any) (uint64, error) {
	switch n := v.(type) {
	case float64:
		return uint64(n), nil
	case uint64:
		return n, nil
	case int:
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func toUint64List(v any) ([]uint64, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]uint64, len(arr))
	for i, item := range arr {
		n, err := toUint64(item)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func convertGenericValue(v any) (any, error) {
	switch x := v.(type) {
	case string:
		f, err := fqid.ParseFQId(x)
		if err != nil {
			return nil, err
		}
		return f, nil
	case []any:
		out := make([]fqid.FQId, len(x))
		for i, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected fqid string, got %T", item)
			}
			f, err := fqid.ParseFQId(s)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected fqid value, got %T", v)
	}
}

// applyDefaults fills in model defaults for any field missing from data.
func applyDefaults(m *model.Model, data map[string]any) {
	for _, f := range m.Fields() {
		if _, ok := data[f.Name]; !ok && f.Default != nil {
			data[f.Name] = f.Default
		}
	}
}

// toOrderedModel lays out data in model field declaration order; keys with
// no declared field (template-instantiated concrete fields) are appended
// afterwards in sorted order.
func toOrderedModel(m *model.Model, data map[string]any) *datastore.OrderedModel {
	out := datastore.NewOrderedModel()
	seen := make(map[string]bool, len(data))
	for _, f := range m.Fields() {
		if v, ok := data[f.Name]; ok {
			out.Set(f.Name, v)
			seen[f.Name] = true
		}
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		out.Set(k, data[k])
	}
	return out
}

// relationFieldRef is one relation field present on an instance, resolved to
// its concrete (possibly template-instantiated) field name.
type relationFieldRef struct {
	field     model.Field
	fieldName string
}

// enumerateRelationFields finds every relation field present in data,
// including concrete instantiations of template fields, and returns the
// token bookkeeping (raw template field name -> sorted token list) that must
// be folded back into data so the template field itself stays in sync.
func enumerateRelationFields(m *model.Model, data map[string]any) ([]relationFieldRef, map[string][]string, error) {
	var out []relationFieldRef
	tokens := map[string][]string{}
	for _, f := range m.RelationFields() {
		if f.Relation.IsTemplate() {
			for key := range data {
				if token, ok := f.TemplateField(key); ok {
					out = append(out, relationFieldRef{field: f, fieldName: key})
					raw := f.TemplateFieldName()
					tokens[raw] = append(tokens[raw], token)
				}
			}
			continue
		}
		if _, ok := data[f.Name]; !ok {
			continue
		}
		if len(f.Relation.StructuredRelation) > 0 {
			anchor := f.Relation.StructuredRelation[0]
			if _, ok := data[anchor]; !ok {
				return nil, nil, actionerror.NewActionError(
					"you must give both a relation field with structured_relation and its corresponding foreign key field")
			}
		}
		out = append(out, relationFieldRef{field: f, fieldName: f.Name})
	}
	for k := range tokens {
		sort.Strings(tokens[k])
	}
	return out, tokens, nil
}

// effectsToEvents groups a resolver's per-field effects into one update
// event per affected object, in deterministic sorted-key order.
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

// mergeEffects folds src into dst in place.
func mergeEffects(dst relations.Effects, src relations.Effects) {
	for k, v := range src {
		dst[k] = v
	}
}
