// Package relations implements the relation-resolution engine: given a
// proposed change to one relation field of one object, it computes the
// exact set of writes needed on the reverse side of every affected related
// object so that both ends of every relation stay consistent.
package relations

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/openslides/backend/pkg/actionerror"
	"github.com/openslides/backend/pkg/datastore"
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/model"
)

// Op is the operation an Effect applies to the reverse-side field.
type Op string

const (
	Add    Op = "add"
	Remove Op = "remove"
)

// Effect is one computed write on the reverse side of a relation: the new
// value the related_name field must take.
type Effect struct {
	Op    Op
	Value any // nil, uint64, []uint64, fqid.FQId, or []fqid.FQId
}

// Effects maps every affected reverse field to the effect to apply there.
// Iterating in sorted-key order (via Ordered) makes the emitted writes
// deterministic.
type Effects map[fqid.FQField]Effect

// Ordered returns the affected fields sorted by their stringified key, so
// that callers produce deterministic output.
func (e Effects) Ordered() []fqid.FQField {
	keys := make([]fqid.FQField, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Request describes one relation-field-change to resolve.
type Request struct {
	Model     *model.Model
	ID        uint64
	Field     model.Field
	FieldName string // concrete name; may be a template instantiation
	Proposed  any    // nil, uint64, []uint64, fqid.FQId, or []fqid.FQId
	// Owner optionally carries the owning instance's in-flight field values,
	// so equal-field checks on a create can see fields that are not in the
	// datastore yet. Fields missing here are fetched on demand.
	Owner *datastore.OrderedModel
	// Reverse marks that this field is being cleared because the object that
	// owns it is being deleted: every currently-referenced id moves to the
	// remove set regardless of Proposed, and, unless the field is m:n, an
	// on_delete of Protect declared on the reverse field aborts the
	// resolution instead of producing a remove effect.
	Reverse    bool
	OnlyAdd    bool
	OnlyRemove bool
}

// Reader is the subset of datastore.Client the resolver needs; the revision
// of every read is fed into Resolver.Locked.
type Reader interface {
	Get(ctx context.Context, id fqid.FQId, mappedFields []string) (*datastore.OrderedModel, datastore.Revision, error)
}

// Resolver computes reverse-side effects for a relation change.
type Resolver struct {
	Registry *model.Registry
	DB       Reader
	Locked   *datastore.LockedFields
	Overlay  *Overlay
}

// New builds a Resolver bound to one request's shared state.
func New(registry *model.Registry, db Reader, locked *datastore.LockedFields, overlay *Overlay) *Resolver {
	return &Resolver{Registry: registry, DB: db, Locked: locked, Overlay: overlay}
}

func (r *Resolver) observe(key fqid.FQId, rev datastore.Revision) {
	if r.Locked != nil {
		r.Locked.Observe(key.String(), rev)
	}
}

// effectiveType is the cardinality of the field being resolved. Every
// relation field in the registry declares its own type independently on
// both sides (the registry has no single shared relation object flipped
// between two field names), so resolution never needs to invert it.
func effectiveType(rel *model.Relation, _ bool) model.RelationType {
	return rel.Type
}

func singularSide(t model.RelationType) bool {
	return t == model.OneToOne || t == model.OneToMany
}

// Resolve computes the reverse effects that must be applied to other
// objects when req.FieldName changes to req.Proposed.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Effects, error) {
	if req.OnlyAdd && req.OnlyRemove {
		return nil, actionerror.NewActionError("relations: only_add and only_remove are mutually exclusive")
	}
	if req.OnlyRemove {
		return nil, actionerror.NewActionError("relations: only_remove is not supported")
	}
	rel := req.Field.Relation
	if rel == nil {
		return nil, actionerror.NewActionError("relations: field %q is not a relation", req.FieldName)
	}
	efType := effectiveType(rel, req.Reverse)
	singular := singularSide(efType)

	relatedName, err := r.relatedName(ctx, req, rel)
	if err != nil {
		return nil, err
	}

	if rel.Generic {
		return r.resolveGeneric(ctx, req, rel, efType, singular, relatedName)
	}
	return r.resolvePlain(ctx, req, rel, efType, singular, relatedName)
}

// relatedName resolves the name of the reverse field, including the
// structured-relation walk.
func (r *Resolver) relatedName(ctx context.Context, req Request, rel *model.Relation) (string, error) {
	if len(rel.StructuredRelation) == 0 {
		return rel.RelatedName, nil
	}
	if req.Reverse {
		return "", actionerror.NewActionError("relations: structured relations are not supported in reverse")
	}
	token, err := r.searchStructuredRelation(ctx, append([]string{}, rel.StructuredRelation...), req.Model.Collection, req.ID)
	if err != nil {
		return "", err
	}
	return replaceToken(rel.RelatedName, token), nil
}

func replaceToken(name, token string) string {
	out := make([]byte, 0, len(name)+len(token))
	for i := 0; i < len(name); i++ {
		if name[i] == '$' {
			out = append(out, token...)
			continue
		}
		out = append(out, name[i])
	}
	return string(out)
}

func (r *Resolver) searchStructuredRelation(ctx context.Context, chain []string, collection fqid.Collection, id uint64) (string, error) {
	fieldName := chain[0]
	rest := chain[1:]
	dbInstance, rev, err := r.DB.Get(ctx, fqid.FQId{Collection: collection, ID: id}, []string{fieldName})
	if err != nil {
		return "", fmt.Errorf("relations: structured relation lookup of %s/%d.%s: %w", collection, id, fieldName, err)
	}
	r.observe(fqid.FQId{Collection: collection, ID: id}, rev)
	value, ok := dbInstance.Get(fieldName)
	if !ok || value == nil {
		return "", actionerror.NewActionError("the field %s for %s must not be empty in database", fieldName, collection)
	}
	if len(rest) > 0 {
		nextCollection, _, ok := r.Registry.Reverse(collection, fieldName)
		if !ok {
			return "", actionerror.NewActionError("relations: cannot resolve structured relation chain through %s.%s", collection, fieldName)
		}
		nextID, err := toUint64(value)
		if err != nil {
			return "", err
		}
		return r.searchStructuredRelation(ctx, rest, nextCollection, nextID)
	}
	if n, err := toUint64(value); err == nil {
		return strconv.FormatUint(n, 10), nil
	}
	return fmt.Sprint(value), nil
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
		return 0, actionerror.NewActionError("relations: expected integer id, got %T", v)
	}
}
