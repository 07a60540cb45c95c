// Package model holds the declarative description of every persistent
// collection: its fields, their value schemas, and the relations between
// collections. The registry built from these descriptors is immutable after
// startup and is the single source of truth the action pipeline and relation
// resolver introspect.
package model

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/dgraph-io/ristretto"

	"github.com/openslides/backend/pkg/fqid"
)

// RelationType is the cardinality of a relation field, as seen from the side
// on which it is declared.
type RelationType string

const (
	OneToOne   RelationType = "1:1"
	OneToMany  RelationType = "1:m"
	ManyToOne  RelationType = "m:1"
	ManyToMany RelationType = "m:n"
)

// OnDelete describes what happens to the reverse side of a relation when the
// object on this side is deleted.
type OnDelete string

const (
	SetNull OnDelete = "set_null"
	Protect OnDelete = "protect"
	Cascade OnDelete = "cascade"
)

// TemplateInfo marks a relation field as a template field: Index is the
// position in Field.Name (which holds no placeholder itself) where the "$"
// placeholder goes in the raw name and where concrete names carry a numeric
// token (typically a meeting id).
type TemplateInfo struct {
	Index int
}

// Relation carries the metadata that only relation fields have.
type Relation struct {
	Type               RelationType
	To                 []fqid.Collection // more than one entry only for generic relations
	OwnFieldName       string
	RelatedName        string
	OnDelete           OnDelete
	EqualFields        []string
	Generic            bool
	StructuredRelation []string
	Template           *TemplateInfo
}

// IsTemplate reports whether this relation is a template field.
func (r *Relation) IsTemplate() bool {
	return r != nil && r.Template != nil
}

// ValueKind is the scalar shape of a field's value, ignoring relation
// metadata (which additionally constrains what the ids point to).
type ValueKind int

const (
	KindString ValueKind = iota
	KindInteger
	KindBoolean
	KindList
	KindEnum
)

// Field describes one field of a Model.
type Field struct {
	Name     string
	Kind     ValueKind
	Enum     []string // only used when Kind == KindEnum
	Default  any
	ReadOnly bool
	Relation *Relation // nil for non-relation fields
}

// IsRelation reports whether this field carries relation metadata.
func (f Field) IsRelation() bool {
	return f.Relation != nil
}

type compiledTemplate struct {
	re *regexp.Regexp
}

var templateCache, _ = ristretto.NewCache(&ristretto.Config{
	NumCounters: 1e4,
	MaxCost:     1 << 20,
	BufferItems: 64,
})

// TemplateField reports whether concreteName is a valid instantiation of this
// template field (F[:i] + token + F[i:], token matching \d+) and, if so,
// returns the token.
//
// The compiled matcher is cached in a small ristretto cache keyed by the
// field name, since the registry is immutable but built once per process and
// this check runs on every create/update payload field.
func (f Field) TemplateField(concreteName string) (token string, ok bool) {
	if f.Relation == nil || f.Relation.Template == nil {
		return "", false
	}
	idx := f.Relation.Template.Index
	if idx < 0 || idx > len(f.Name) {
		return "", false
	}
	prefix, suffix := f.Name[:idx], f.Name[idx:]

	cacheKey := f.Name
	var re *regexp.Regexp
	if v, found := templateCache.Get(cacheKey); found {
		re = v.(*compiledTemplate).re
	} else {
		re = regexp.MustCompile("^" + regexp.QuoteMeta(prefix) + `(\d+)` + regexp.QuoteMeta(suffix) + "$")
		templateCache.Set(cacheKey, &compiledTemplate{re: re}, 1)
	}

	m := re.FindStringSubmatch(concreteName)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// TemplateFieldName returns the raw "$"-bearing field name for this template
// field, e.g. "agenda_item_$_ids"; used as the key that stores the set of
// currently-used tokens.
func (f Field) TemplateFieldName() string {
	if f.Relation == nil || f.Relation.Template == nil {
		return f.Name
	}
	idx := f.Relation.Template.Index
	return f.Name[:idx] + "$" + f.Name[idx:]
}

// Model is a named, ordered set of fields.
type Model struct {
	Collection fqid.Collection
	fields     []Field
	byName     map[string]int
}

// NewModel builds a Model from an ordered field list.
func NewModel(collection fqid.Collection, fields []Field) *Model {
	byName := make(map[string]int, len(fields))
	for i, f := range fields {
		byName[f.Name] = i
	}
	return &Model{Collection: collection, fields: fields, byName: byName}
}

// Fields returns all fields in declaration order.
func (m *Model) Fields() []Field {
	return m.fields
}

// Field looks up a field by exact name.
func (m *Model) Field(name string) (Field, bool) {
	i, ok := m.byName[name]
	if !ok {
		return Field{}, false
	}
	return m.fields[i], true
}

// RelationFields returns only the fields that carry relation metadata.
func (m *Model) RelationFields() []Field {
	out := make([]Field, 0, len(m.fields))
	for _, f := range m.fields {
		if f.IsRelation() {
			out = append(out, f)
		}
	}
	return out
}

// Registry is the process-wide, immutable map of collection name to Model.
type Registry struct {
	mu     sync.RWMutex
	models map[fqid.Collection]*Model
	built  bool
}

// NewRegistry creates an empty, mutable registry. Call Register for each
// model, then Build to freeze it.
func NewRegistry() *Registry {
	return &Registry{models: map[fqid.Collection]*Model{}}
}

// Register adds a model to the registry. Panics if called after Build.
func (r *Registry) Register(m *Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.built {
		panic("model: cannot register a collection after the registry has been built")
	}
	r.models[m.Collection] = m
}

// Build freezes the registry against further registration.
func (r *Registry) Build() *Registry {
	r.mu.Lock()
	r.built = true
	r.mu.Unlock()
	return r
}

// Model returns the model for collection, if registered.
func (r *Registry) Model(collection fqid.Collection) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[collection]
	return m, ok
}

// MustModel is like Model but panics if the collection is unknown. Intended
// for use deep in the action pipeline, where an unknown collection means a
// programming error (schema validation already rejected unknown actions).
func (r *Registry) MustModel(collection fqid.Collection) *Model {
	m, ok := r.Model(collection)
	if !ok {
		panic(fmt.Sprintf("model: unknown collection %q", collection))
	}
	return m
}

// Reverse resolves the (collection, field name) pair on the other side of a
// relation field, without requiring a live pointer back into the registry,
// just the stable (collection, field name) index pair.
func (r *Registry) Reverse(collection fqid.Collection, fieldName string) (fqid.Collection, string, bool) {
	m, ok := r.Model(collection)
	if !ok {
		return "", "", false
	}
	f, ok := m.Field(fieldName)
	if !ok || f.Relation == nil {
		return "", "", false
	}
	if len(f.Relation.To) != 1 {
		return "", "", false
	}
	return f.Relation.To[0], f.Relation.RelatedName, true
}
