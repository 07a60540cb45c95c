// Package datastore declares the client interface the action pipeline uses
// to talk to the external document store, along with the revision and
// locked-fields types that implement optimistic concurrency control.
//
// The datastore itself is an external collaborator: this package only
// specifies the contract. internal/datastore/memory provides an in-process
// reference implementation for tests; internal/datastore/rest provides a
// JSON-over-HTTP client to a real datastore service.
package datastore

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/openslides/backend/pkg/fqid"
)

// Revision is a type alias so that changing the underlying representation
// remains easy. Implementations should code directly against
// decimal.Decimal when creating or parsing one. It stands in for the
// datastore's meta_position: a monotonically increasing version counter.
type Revision = decimal.Decimal

// NoRevision is the zero value, used to signal an empty/error revision.
var NoRevision Revision

// OrderedModel is a field-name-ordered view of an object's data. A plain
// map[string]any loses iteration order, which matters for deterministic
// wire encoding and for stable field ordering in tests; OrderedModel
// preserves insertion order.
type OrderedModel struct {
	order  []string
	values map[string]any
}

// NewOrderedModel returns an empty OrderedModel; keys added with Set keep
// the order in which they were first set.
func NewOrderedModel() *OrderedModel {
	return &OrderedModel{values: map[string]any{}}
}

// Set assigns a value, appending the key to the order if it is new.
func (m *OrderedModel) Set(key string, value any) {
	if _, ok := m.values[key]; !ok {
		m.order = append(m.order, key)
	}
	m.values[key] = value
}

// Delete removes a key, if present.
func (m *OrderedModel) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Get returns the value for key and whether it was present.
func (m *OrderedModel) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Has reports whether key is present.
func (m *OrderedModel) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Keys returns the keys in insertion order.
func (m *OrderedModel) Keys() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Map returns a copy of the model as a plain map, for callers that do not
// care about order (e.g. JSON marshaling, which sorts object keys anyway).
func (m *OrderedModel) Map() map[string]any {
	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// EventType distinguishes the three kinds of write events.
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event is one mutation within a write transaction.
type Event struct {
	Type   EventType
	FQId   fqid.FQId
	Fields *OrderedModel // nil for EventDelete
}

// WriteRequestElement is the bundle of events, information and user id that
// one action contributes to a transaction. The dispatcher merges one
// WriteRequestElement per batch item into a single transaction before
// calling Client.Write.
type WriteRequestElement struct {
	Events       []Event
	Information  map[fqid.FQId][]string
	UserID       uint64
	LockedFields map[string]Revision
}

// GetManyRequest is one entry of a GetMany batch: the collection, the ids
// within it, and which fields to fetch.
type GetManyRequest struct {
	Collection   fqid.Collection
	IDs          []uint64
	MappedFields []string
}

// FilterOperator is a leaf comparison in a filter tree.
type FilterOperator string

const (
	OpEqual        FilterOperator = "="
	OpNotEqual     FilterOperator = "!="
	OpLessThan     FilterOperator = "<"
	OpGreaterThan  FilterOperator = ">"
	OpLessEqual    FilterOperator = "<="
	OpGreaterEqual FilterOperator = ">="
)

// Filter is a boolean combination of comparisons against a field. Exactly
// one of Operator (a leaf) or And/Or/Not (a combinator) is set. The type
// supports the full boolean tree since internal/datastore/rest can render
// it with squirrel at no extra cost, but every concrete action in this
// repository only constructs single equality leaves.
type Filter struct {
	Field    string
	Operator FilterOperator
	Value    any

	And []Filter
	Or  []Filter
	Not *Filter
}

// Equal builds a leaf equality filter, the only shape the bundled actions
// use.
func Equal(field string, value any) Filter {
	return Filter{Field: field, Operator: OpEqual, Value: value}
}

// Found is the result of an Exists query.
type Found struct {
	Exists   bool
	Position Revision
}

// Count is the result of a Count query.
type Count struct {
	Count    uint64
	Position Revision
}

// Aggregate is the result of a Min/Max query.
type Aggregate struct {
	Value    any
	Position Revision
}

// Client is the full read/write interface the action pipeline depends on.
type Client interface {
	// Get fetches selected fields of one object. The returned revision is
	// folded into the caller-supplied LockedFields via Observe.
	Get(ctx context.Context, id fqid.FQId, mappedFields []string) (*OrderedModel, Revision, error)

	// GetMany is the batch form of Get, grouped by collection then id.
	GetMany(ctx context.Context, requests []GetManyRequest) (map[fqid.Collection]map[uint64]*OrderedModel, map[fqid.FQId]Revision, error)

	// GetAll fetches every object in a collection.
	GetAll(ctx context.Context, collection fqid.Collection, mappedFields []string) ([]*OrderedModel, error)

	// Filter fetches every object in a collection matching filter.
	Filter(ctx context.Context, collection fqid.Collection, filter Filter, mappedFields []string) ([]*OrderedModel, error)

	Exists(ctx context.Context, collection fqid.Collection, filter Filter) (Found, error)
	Count(ctx context.Context, collection fqid.Collection, filter Filter) (Count, error)
	Min(ctx context.Context, collection fqid.Collection, filter Filter, field string) (Aggregate, error)
	Max(ctx context.Context, collection fqid.Collection, filter Filter, field string) (Aggregate, error)

	// ReserveIDs atomically allocates n previously-unused ids in collection.
	ReserveIDs(ctx context.Context, collection fqid.Collection, n int) ([]uint64, error)

	// Write commits one atomic transaction. It fails with a locked
	// *actionerror.DatastoreError if any key in element.LockedFields has
	// advanced past the recorded position.
	Write(ctx context.Context, element WriteRequestElement) (Revision, error)
}
