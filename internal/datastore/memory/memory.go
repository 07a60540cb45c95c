// Package memory is the in-process reference implementation of
// datastore.Client, built on github.com/hashicorp/go-memdb. It backs the
// test suite and a local "serve --datastore=memory" mode; a real deployment
// talks to the external datastore service through internal/datastore/rest
// instead.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-memdb"
	"github.com/shopspring/decimal"

	"github.com/openslides/backend/pkg/actionerror"
	"github.com/openslides/backend/pkg/datastore"
	"github.com/openslides/backend/pkg/fqid"
)

const tableObjects = "objects"

type record struct {
	Collection string
	ID         uint64
	Revision   int64
	Fields     *datastore.OrderedModel
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableObjects: {
				Name: tableObjects,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:   "id",
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "Collection"},
								&memdb.UintFieldIndex{Field: "ID"},
							},
						},
					},
					"collection": {
						Name:    "collection",
						Indexer: &memdb.StringFieldIndex{Field: "Collection"},
					},
				},
			},
		},
	}
}

// Client is the go-memdb-backed reference datastore.Client.
type Client struct {
	db *memdb.MemDB

	mu     sync.Mutex
	nextID map[fqid.Collection]uint64
	rev    int64
}

// New builds an empty Client.
func New() *Client {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		// The schema above is a static literal; a failure here can only mean
		// a programming error in this file, not a runtime condition.
		panic(fmt.Sprintf("memory: invalid schema: %v", err))
	}
	return &Client{db: db, nextID: map[fqid.Collection]uint64{}}
}

// Fixture is one object to preload before a test or local run starts.
type Fixture struct {
	ID     fqid.FQId
	Fields map[string]any
}

// Seed preloads fixtures, stamping each with a fresh revision and, when the
// fixture does not set one, an "id" field holding its id (as every object
// written by a create action carries).
func (c *Client) Seed(fixtures []Fixture) error {
	txn := c.db.Txn(true)
	defer txn.Abort()
	for _, f := range fixtures {
		fields := datastore.NewOrderedModel()
		for k, v := range f.Fields {
			fields.Set(k, v)
		}
		if !fields.Has("id") {
			fields.Set("id", f.ID.ID)
		}
		c.mu.Lock()
		c.rev++
		rev := c.rev
		if f.ID.ID >= c.nextID[f.ID.Collection] {
			c.nextID[f.ID.Collection] = f.ID.ID + 1
		}
		c.mu.Unlock()
		if err := txn.Insert(tableObjects, &record{
			Collection: string(f.ID.Collection), ID: f.ID.ID, Revision: rev, Fields: fields,
		}); err != nil {
			return fmt.Errorf("memory: seeding %s: %w", f.ID, err)
		}
	}
	txn.Commit()
	return nil
}

func (c *Client) lookup(txn *memdb.Txn, id fqid.FQId) (*record, error) {
	raw, err := txn.First(tableObjects, "id", string(id.Collection), id.ID)
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*record), nil
}

// Get implements datastore.Client.
func (c *Client) Get(ctx context.Context, id fqid.FQId, mappedFields []string) (*datastore.OrderedModel, datastore.Revision, error) {
	txn := c.db.Txn(false)
	rec, err := c.lookup(txn, id)
	if err != nil {
		return nil, datastore.NoRevision, err
	}
	if rec == nil {
		return nil, datastore.NoRevision, actionerror.NewActionError("you try to reference an instance of %s that does not exist", id.Collection)
	}
	out := datastore.NewOrderedModel()
	for _, f := range mappedFields {
		if v, ok := rec.Fields.Get(f); ok {
			out.Set(f, v)
		}
	}
	return out, decimal.NewFromInt(rec.Revision), nil
}

// GetMany implements datastore.Client. Ids with no matching object are
// silently omitted from the result; a missing id is "not present", not an
// error.
func (c *Client) GetMany(ctx context.Context, requests []datastore.GetManyRequest) (map[fqid.Collection]map[uint64]*datastore.OrderedModel, map[fqid.FQId]datastore.Revision, error) {
	out := map[fqid.Collection]map[uint64]*datastore.OrderedModel{}
	revs := map[fqid.FQId]datastore.Revision{}
	txn := c.db.Txn(false)
	for _, req := range requests {
		for _, id := range req.IDs {
			fq := fqid.FQId{Collection: req.Collection, ID: id}
			rec, err := c.lookup(txn, fq)
			if err != nil {
				return nil, nil, err
			}
			if rec == nil {
				continue
			}
			fields := datastore.NewOrderedModel()
			for _, f := range req.MappedFields {
				if v, ok := rec.Fields.Get(f); ok {
					fields.Set(f, v)
				}
			}
			if out[req.Collection] == nil {
				out[req.Collection] = map[uint64]*datastore.OrderedModel{}
			}
			out[req.Collection][id] = fields
			revs[fq] = decimal.NewFromInt(rec.Revision)
		}
	}
	return out, revs, nil
}

// GetAll implements datastore.Client.
func (c *Client) GetAll(ctx context.Context, collection fqid.Collection, mappedFields []string) ([]*datastore.OrderedModel, error) {
	txn := c.db.Txn(false)
	it, err := txn.Get(tableObjects, "collection", string(collection))
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	var out []*datastore.OrderedModel
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*record)
		fields := datastore.NewOrderedModel()
		for _, f := range mappedFields {
			if v, ok := rec.Fields.Get(f); ok {
				fields.Set(f, v)
			}
		}
		out = append(out, fields)
	}
	return out, nil
}

// Filter implements datastore.Client by scanning the collection in memory
// and evaluating the filter tree against each object's full field set.
func (c *Client) Filter(ctx context.Context, collection fqid.Collection, filter datastore.Filter, mappedFields []string) ([]*datastore.OrderedModel, error) {
	txn := c.db.Txn(false)
	it, err := txn.Get(tableObjects, "collection", string(collection))
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	var out []*datastore.OrderedModel
	for raw := it.Next(); raw != nil; raw = it.Next() {
		rec := raw.(*record)
		if !evaluateFilter(rec.Fields, filter) {
			continue
		}
		fields := datastore.NewOrderedModel()
		for _, f := range mappedFields {
			if v, ok := rec.Fields.Get(f); ok {
				fields.Set(f, v)
			}
		}
		out = append(out, fields)
	}
	return out, nil
}

func evaluateFilter(fields *datastore.OrderedModel, f datastore.Filter) bool {
	if f.Not != nil {
		return !evaluateFilter(fields, *f.Not)
	}
	if len(f.And) > 0 {
		for _, sub := range f.And {
			if !evaluateFilter(fields, sub) {
				return false
			}
		}
		return true
	}
	if len(f.Or) > 0 {
		for _, sub := range f.Or {
			if evaluateFilter(fields, sub) {
				return true
			}
		}
		return false
	}
	value, _ := fields.Get(f.Field)
	return compare(value, f.Operator, f.Value)
}

func compare(value any, op datastore.FilterOperator, target any) bool {
	switch op {
	case datastore.OpEqual:
		return value == target
	case datastore.OpNotEqual:
		return value != target
	}
	left, lok := toFloat(value)
	right, rok := toFloat(target)
	if !lok || !rok {
		return false
	}
	switch op {
	case datastore.OpLessThan:
		return left < right
	case datastore.OpGreaterThan:
		return left > right
	case datastore.OpLessEqual:
		return left <= right
	case datastore.OpGreaterEqual:
		return left >= right
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// Exists implements datastore.Client.
func (c *Client) Exists(ctx context.Context, collection fqid.Collection, filter datastore.Filter) (datastore.Found, error) {
	results, err := c.Filter(ctx, collection, filter, nil)
	if err != nil {
		return datastore.Found{}, err
	}
	return datastore.Found{Exists: len(results) > 0, Position: c.currentPosition()}, nil
}

// Count implements datastore.Client.
func (c *Client) Count(ctx context.Context, collection fqid.Collection, filter datastore.Filter) (datastore.Count, error) {
	results, err := c.Filter(ctx, collection, filter, nil)
	if err != nil {
		return datastore.Count{}, err
	}
	return datastore.Count{Count: uint64(len(results)), Position: c.currentPosition()}, nil
}

// Min implements datastore.Client.
func (c *Client) Min(ctx context.Context, collection fqid.Collection, filter datastore.Filter, field string) (datastore.Aggregate, error) {
	return c.aggregate(ctx, collection, filter, field, func(best, candidate float64) bool { return candidate < best })
}

// Max implements datastore.Client.
func (c *Client) Max(ctx context.Context, collection fqid.Collection, filter datastore.Filter, field string) (datastore.Aggregate, error) {
	return c.aggregate(ctx, collection, filter, field, func(best, candidate float64) bool { return candidate > best })
}

func (c *Client) aggregate(ctx context.Context, collection fqid.Collection, filter datastore.Filter, field string, better func(best, candidate float64) bool) (datastore.Aggregate, error) {
	results, err := c.Filter(ctx, collection, filter, []string{field})
	if err != nil {
		return datastore.Aggregate{}, err
	}
	var best float64
	var bestValue any
	found := false
	for _, r := range results {
		v, ok := r.Get(field)
		if !ok {
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			continue
		}
		if !found || better(best, f) {
			best, bestValue, found = f, v, true
		}
	}
	return datastore.Aggregate{Value: bestValue, Position: c.currentPosition()}, nil
}

func (c *Client) currentPosition() datastore.Revision {
	c.mu.Lock()
	defer c.mu.Unlock()
	return decimal.NewFromInt(c.rev)
}

// ReserveIDs implements datastore.Client with a simple per-collection
// monotonic counter.
func (c *Client) ReserveIDs(ctx context.Context, collection fqid.Collection, n int) ([]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.nextID[collection]
	if start == 0 {
		start = 1
	}
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = start + uint64(i)
	}
	c.nextID[collection] = start + uint64(n)
	return out, nil
}

// Write implements datastore.Client: every key in element.LockedFields is
// checked against the object's current revision before any event is
// applied, so a stale read aborts the whole transaction with a locked
// *actionerror.DatastoreError.
func (c *Client) Write(ctx context.Context, element datastore.WriteRequestElement) (datastore.Revision, error) {
	txn := c.db.Txn(true)
	defer txn.Abort()

	for key, minRev := range element.LockedFields {
		id, err := fqid.ParseFQId(key)
		if err != nil {
			// Structured-relation or field-level keys are not modeled by
			// this reference store's single per-object revision.
			continue
		}
		rec, err := c.lookup(txn, id)
		if err != nil {
			return datastore.NoRevision, err
		}
		if rec != nil && decimal.NewFromInt(rec.Revision).GreaterThan(minRev) {
			return datastore.NoRevision, &actionerror.DatastoreError{
				Detail: fmt.Sprintf("%s changed since it was read", id), Locked: true,
			}
		}
	}

	c.mu.Lock()
	c.rev++
	newRev := c.rev
	c.mu.Unlock()

	for _, ev := range element.Events {
		switch ev.Type {
		case datastore.EventCreate:
			if err := txn.Insert(tableObjects, &record{
				Collection: string(ev.FQId.Collection), ID: ev.FQId.ID, Revision: newRev, Fields: ev.Fields,
			}); err != nil {
				return datastore.NoRevision, fmt.Errorf("memory: %w", err)
			}

		case datastore.EventUpdate:
			rec, err := c.lookup(txn, ev.FQId)
			if err != nil {
				return datastore.NoRevision, err
			}
			fields := datastore.NewOrderedModel()
			if rec != nil {
				fields = rec.Fields
			}
			for _, k := range ev.Fields.Keys() {
				v, _ := ev.Fields.Get(k)
				fields.Set(k, v)
			}
			if err := txn.Insert(tableObjects, &record{
				Collection: string(ev.FQId.Collection), ID: ev.FQId.ID, Revision: newRev, Fields: fields,
			}); err != nil {
				return datastore.NoRevision, fmt.Errorf("memory: %w", err)
			}

		case datastore.EventDelete:
			if err := txn.Delete(tableObjects, &record{Collection: string(ev.FQId.Collection), ID: ev.FQId.ID}); err != nil && err != memdb.ErrNotFound {
				return datastore.NoRevision, fmt.Errorf("memory: %w", err)
			}
		}
	}

	txn.Commit()
	return decimal.NewFromInt(newRev), nil
}
