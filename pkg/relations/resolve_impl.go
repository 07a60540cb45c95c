package relations

import (
	"context"
	"sort"
	"strconv"

	"github.com/openslides/backend/pkg/actionerror"
	"github.com/openslides/backend/pkg/datastore"
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/model"
)

// relID is either a plain integer id or a generic FQId, whichever the
// relation field's value kind is. It is the common currency the diff and
// effect-building helpers operate on so that plain and generic relations
// share one implementation.
type relID struct {
	plain  uint64
	fq     fqid.FQId
	isFQId bool
}

func plainID(id uint64) relID  { return relID{plain: id} }
func fqidID(f fqid.FQId) relID { return relID{fq: f, isFQId: true} }

func (r relID) key() string {
	if r.isFQId {
		return r.fq.String()
	}
	return strconv.FormatUint(r.plain, 10)
}

// normalizeIDs turns an arbitrary proposed/current field value into a
// uniform list of relID (singleton-wrap for singular fields, null -> empty).
// Values that round-tripped through JSON arrive as strings ("collection/id")
// and float64s, so both spellings are accepted alongside the native types.
func normalizeIDs(value any, generic, thisSingular bool) ([]relID, error) {
	if value == nil {
		return nil, nil
	}
	if generic {
		switch v := value.(type) {
		case fqid.FQId:
			return []relID{fqidID(v)}, nil
		case string:
			f, err := fqid.ParseFQId(v)
			if err != nil {
				return nil, actionerror.NewActionError("relations: %s", err)
			}
			return []relID{fqidID(f)}, nil
		case []fqid.FQId:
			out := make([]relID, len(v))
			for i, f := range v {
				out[i] = fqidID(f)
			}
			return out, nil
		case []any:
			out := make([]relID, 0, len(v))
			for _, item := range v {
				one, err := normalizeIDs(item, true, false)
				if err != nil {
					return nil, err
				}
				out = append(out, one...)
			}
			return out, nil
		default:
			return nil, actionerror.NewActionError("relations: expected fqid value, got %T", value)
		}
	}
	switch v := value.(type) {
	case uint64:
		return []relID{plainID(v)}, nil
	case int:
		return []relID{plainID(uint64(v))}, nil
	case int64:
		return []relID{plainID(uint64(v))}, nil
	case float64:
		return []relID{plainID(uint64(v))}, nil
	case []uint64:
		out := make([]relID, len(v))
		for i, id := range v {
			out[i] = plainID(id)
		}
		return out, nil
	case []any:
		out := make([]relID, 0, len(v))
		for _, item := range v {
			one, err := normalizeIDs(item, false, false)
			if err != nil {
				return nil, err
			}
			out = append(out, one...)
		}
		return out, nil
	default:
		return nil, actionerror.NewActionError("relations: expected integer id value, got %T", value)
	}
}

func diffSets(proposed, current []relID) (add, remove []relID) {
	proposedSet := map[string]relID{}
	for _, p := range proposed {
		proposedSet[p.key()] = p
	}
	currentSet := map[string]relID{}
	for _, c := range current {
		currentSet[c.key()] = c
	}
	for k, v := range proposedSet {
		if _, ok := currentSet[k]; !ok {
			add = append(add, v)
		}
	}
	for k, v := range currentSet {
		if _, ok := proposedSet[k]; !ok {
			remove = append(remove, v)
		}
	}
	sortRelIDs(add)
	sortRelIDs(remove)
	return add, remove
}

func sortRelIDs(ids []relID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].key() < ids[j].key() })
}

// resolvePlain handles non-generic relation fields (both directions).
func (r *Resolver) resolvePlain(ctx context.Context, req Request, rel *model.Relation, efType model.RelationType, thisSingular bool, relatedName string) (Effects, error) {
	proposed, err := normalizeIDs(req.Proposed, false, thisSingular)
	if err != nil {
		return nil, err
	}

	add, remove, err := r.diffAgainstCurrent(ctx, req, false, proposed)
	if err != nil {
		return nil, err
	}

	if len(rel.To) != 1 {
		return nil, actionerror.NewActionError("relations: non-generic field %q must declare exactly one target collection", req.FieldName)
	}
	target := rel.To[0]

	fields := append([]string{relatedName}, rel.EqualFields...)
	rels, err := r.fetchTargets(ctx, target, add, remove, fields)
	if err != nil {
		return nil, err
	}

	toFQId := func(id relID) fqid.FQId {
		return fqid.FQId{Collection: target, ID: id.plain}
	}
	if err := r.checkEqualFields(ctx, req, rel, add, rels, toFQId); err != nil {
		return nil, err
	}

	return r.buildEffects(req, rel, efType, add, remove, rels, relatedName, toFQId)
}

// resolveGeneric handles generic relation fields, where each id carries its
// own target collection (the wire value is itself an FQId).
func (r *Resolver) resolveGeneric(ctx context.Context, req Request, rel *model.Relation, efType model.RelationType, thisSingular bool, relatedName string) (Effects, error) {
	proposed, err := normalizeIDs(req.Proposed, true, thisSingular)
	if err != nil {
		return nil, err
	}

	add, remove, err := r.diffAgainstCurrent(ctx, req, true, proposed)
	if err != nil {
		return nil, err
	}

	fields := append([]string{relatedName}, rel.EqualFields...)
	rels, err := r.fetchGenericTargets(ctx, add, remove, fields)
	if err != nil {
		return nil, err
	}

	toFQId := func(id relID) fqid.FQId { return id.fq }
	if err := r.checkEqualFields(ctx, req, rel, add, rels, toFQId); err != nil {
		return nil, err
	}

	return r.buildEffects(req, rel, efType, add, remove, rels, relatedName, toFQId)
}

// diffAgainstCurrent computes the add/remove sets: only_add short-circuits to
// (proposed, nil); Reverse (field being cleared by a delete) short-circuits
// to (nil, current); otherwise the current DB value is read (recording the
// lock) and diffed against proposed.
func (r *Resolver) diffAgainstCurrent(ctx context.Context, req Request, generic bool, proposed []relID) (add, remove []relID, err error) {
	if req.OnlyAdd {
		sortRelIDs(proposed)
		return proposed, nil, nil
	}

	owner := fqid.FQId{Collection: req.Model.Collection, ID: req.ID}
	dbInstance, rev, err := r.DB.Get(ctx, owner, []string{req.FieldName})
	if err != nil {
		return nil, nil, err
	}
	r.observe(owner, rev)

	currentValue, _ := dbInstance.Get(req.FieldName)
	current, err := normalizeIDs(currentValue, generic, false)
	if err != nil {
		return nil, nil, err
	}

	if req.Reverse {
		sortRelIDs(current)
		return nil, current, nil
	}

	add, remove = diffSets(proposed, current)
	return add, remove, nil
}

// fetchTargets fetches the listed fields (the related_name plus any equal
// fields) from a single target collection for every id in add union remove,
// consulting the overlay first.
func (r *Resolver) fetchTargets(ctx context.Context, target fqid.Collection, add, remove []relID, fields []string) (map[string]*datastore.OrderedModel, error) {
	rels := map[string]*datastore.OrderedModel{}
	for _, id := range append(append([]relID{}, add...), remove...) {
		fq := fqid.FQId{Collection: target, ID: id.plain}
		m, err := r.fetchOne(ctx, fq, fields)
		if err != nil {
			return nil, err
		}
		rels[id.key()] = m
	}
	return rels, nil
}

// fetchGenericTargets is fetchTargets for generic relations, where the
// target collection is embedded in each id's own FQId.
func (r *Resolver) fetchGenericTargets(ctx context.Context, add, remove []relID, fields []string) (map[string]*datastore.OrderedModel, error) {
	rels := map[string]*datastore.OrderedModel{}
	for _, id := range append(append([]relID{}, add...), remove...) {
		m, err := r.fetchOne(ctx, id.fq, fields)
		if err != nil {
			return nil, err
		}
		rels[id.key()] = m
	}
	return rels, nil
}

// checkEqualFields enforces the relation's equal_fields constraint on every
// id being added: both endpoints must agree on each named field. Owner-side
// values come from req.Owner when present (a create's instance is not in
// the datastore yet), falling back to one fetch of the owning object. A
// field missing on either side is not a violation.
func (r *Resolver) checkEqualFields(ctx context.Context, req Request, rel *model.Relation, add []relID, rels map[string]*datastore.OrderedModel, toFQId func(relID) fqid.FQId) error {
	if len(rel.EqualFields) == 0 || len(add) == 0 {
		return nil
	}

	ownValue := func(fieldName string) (any, bool) {
		if req.Owner != nil {
			if v, ok := req.Owner.Get(fieldName); ok {
				return v, true
			}
		}
		return nil, false
	}
	var fetched *datastore.OrderedModel
	for _, fieldName := range rel.EqualFields {
		want, ok := ownValue(fieldName)
		if !ok {
			if fetched == nil {
				m, err := r.fetchOne(ctx, fqid.FQId{Collection: req.Model.Collection, ID: req.ID}, rel.EqualFields)
				if err != nil {
					return err
				}
				fetched = m
			}
			want, ok = fetched.Get(fieldName)
			if !ok {
				continue
			}
		}
		for _, id := range add {
			got, ok := rels[id.key()].Get(fieldName)
			if !ok {
				continue
			}
			if !equalValues(want, got) {
				return actionerror.NewActionError(
					"you can not add %s to field %s because their %s differs", toFQId(id), req.FieldName, fieldName)
			}
		}
	}
	return nil
}

func equalValues(a, b any) bool {
	if a == b {
		return true
	}
	na, errA := toUint64(a)
	nb, errB := toUint64(b)
	return errA == nil && errB == nil && na == nb
}

// reverseOnDelete looks up the on_delete policy declared on the reverse
// field itself (e.g. agenda_item.meeting_id's own declaration), since that
// is where Django-style FK semantics put it, not on the field being
// resolved.
func (r *Resolver) reverseOnDelete(collection fqid.Collection, fieldName string) (model.OnDelete, bool) {
	m, ok := r.Registry.Model(collection)
	if !ok {
		return "", false
	}
	f, ok := m.Field(fieldName)
	if !ok || f.Relation == nil {
		return "", false
	}
	return f.Relation.OnDelete, true
}

func (r *Resolver) fetchOne(ctx context.Context, fq fqid.FQId, fields []string) (*datastore.OrderedModel, error) {
	if r.Overlay != nil {
		if entry, ok := r.Overlay.Lookup(fq); ok {
			if entry.Deleted {
				return datastore.NewOrderedModel(), nil
			}
			return entry.Model, nil
		}
	}
	m, rev, err := r.DB.Get(ctx, fq, fields)
	if err != nil {
		return nil, actionerror.NewActionError("you try to reference an instance of %s that does not exist", fq.Collection)
	}
	r.observe(fq, rev)
	return m, nil
}

// buildEffects computes the per-object add/remove effects, the
// single-valued-reassignment guard, and the protect-on-delete guard.
func (r *Resolver) buildEffects(
	req Request,
	rel *model.Relation,
	efType model.RelationType,
	add, remove []relID,
	rels map[string]*datastore.OrderedModel,
	relatedName string,
	toFQId func(relID) fqid.FQId,
) (Effects, error) {
	revSingular := efType == model.OneToOne || efType == model.ManyToOne
	owningValue := req.ID

	effects := Effects{}

	handle := func(id relID, isAdd bool) error {
		target := rels[id.key()]
		fq := toFQId(id)

		if isAdd {
			current, _ := target.Get(relatedName)
			var newValue any
			if revSingular {
				if current != nil {
					return actionerror.NewActionError("you can not add %s to field %s because related field is not empty", fq, req.FieldName)
				}
				newValue = owningValue
			} else {
				newValue = appendValue(current, owningValue)
			}
			effects[fq.Field(relatedName)] = Effect{Op: Add, Value: newValue}
			return nil
		}

		if req.Reverse && efType != model.ManyToMany {
			if onDelete, ok := r.reverseOnDelete(fq.Collection, relatedName); ok && onDelete == model.Protect {
				return actionerror.NewActionError(
					"you are not allowed to delete %s %d as long as there are some required related objects (see %s)",
					req.Model.Collection, req.ID, req.FieldName,
				)
			}
		}

		var newValue any
		if revSingular {
			newValue = nil
		} else {
			current, _ := target.Get(relatedName)
			newValue = removeValue(current, owningValue)
		}
		effects[fq.Field(relatedName)] = Effect{Op: Remove, Value: newValue}
		return nil
	}

	for _, id := range add {
		if err := handle(id, true); err != nil {
			return nil, err
		}
	}
	for _, id := range remove {
		if err := handle(id, false); err != nil {
			return nil, err
		}
	}
	return effects, nil
}

func appendValue(current any, owning uint64) any {
	list, _ := current.([]uint64)
	return append(append([]uint64{}, list...), owning)
}

func removeValue(current any, owning uint64) any {
	list, ok := current.([]uint64)
	if !ok {
		return []uint64{}
	}
	out := make([]uint64, 0, len(list))
	for _, v := range list {
		if v != owning {
			out = append(out, v)
		}
	}
	return out
}
