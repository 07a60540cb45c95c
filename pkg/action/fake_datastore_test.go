package action

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/openslides/backend/pkg/datastore"
	"github.com/openslides/backend/pkg/fqid"
)

// fakeClient is a minimal in-process datastore.Client test double: every
// object lives in a plain map, revisions increment by one per write, and
// ReserveIDs hands out sequential ids per collection starting at 1.
type fakeClient struct {
	mu        sync.Mutex
	objects   map[fqid.FQId]*datastore.OrderedModel
	revisions map[fqid.FQId]decimal.Decimal
	nextID    map[fqid.Collection]uint64
	rev       int64
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		objects:   map[fqid.FQId]*datastore.OrderedModel{},
		revisions: map[fqid.FQId]decimal.Decimal{},
		nextID:    map[fqid.Collection]uint64{},
	}
}

// seed inserts an object directly, bypassing Write, for test setup.
func (c *fakeClient) seed(id fqid.FQId, fields map[string]any) {
	m := datastore.NewOrderedModel()
	for k, v := range fields {
		m.Set(k, v)
	}
	c.objects[id] = m
	c.revisions[id] = decimal.NewFromInt(1)
	if id.ID >= c.nextID[id.Collection] {
		c.nextID[id.Collection] = id.ID + 1
	}
}

func (c *fakeClient) Get(ctx context.Context, id fqid.FQId, mappedFields []string) (*datastore.OrderedModel, datastore.Revision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[id]
	if !ok {
		return nil, datastore.NoRevision, fmt.Errorf("fakeClient: %s not found", id)
	}
	out := datastore.NewOrderedModel()
	for _, f := range mappedFields {
		if v, ok := obj.Get(f); ok {
			out.Set(f, v)
		}
	}
	return out, c.revisions[id], nil
}

func (c *fakeClient) GetMany(ctx context.Context, requests []datastore.GetManyRequest) (map[fqid.Collection]map[uint64]*datastore.OrderedModel, map[fqid.FQId]datastore.Revision, error) {
	out := map[fqid.Collection]map[uint64]*datastore.OrderedModel{}
	revs := map[fqid.FQId]datastore.Revision{}
	for _, req := range requests {
		for _, id := range req.IDs {
			fq := fqid.FQId{Collection: req.Collection, ID: id}
			m, rev, err := c.Get(ctx, fq, req.MappedFields)
			if err != nil {
				continue
			}
			if out[req.Collection] == nil {
				out[req.Collection] = map[uint64]*datastore.OrderedModel{}
			}
			out[req.Collection][id] = m
			revs[fq] = rev
		}
	}
	return out, revs, nil
}

func (c *fakeClient) GetAll(ctx context.Context, collection fqid.Collection, mappedFields []string) ([]*datastore.OrderedModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*datastore.OrderedModel
	for id, obj := range c.objects {
		if id.Collection != collection {
			continue
		}
		out = append(out, obj)
	}
	return out, nil
}

func (c *fakeClient) Filter(ctx context.Context, collection fqid.Collection, filter datastore.Filter, mappedFields []string) ([]*datastore.OrderedModel, error) {
	return nil, fmt.Errorf("fakeClient: Filter not implemented")
}

func (c *fakeClient) Exists(ctx context.Context, collection fqid.Collection, filter datastore.Filter) (datastore.Found, error) {
	return datastore.Found{}, fmt.Errorf("fakeClient: Exists not implemented")
}

func (c *fakeClient) Count(ctx context.Context, collection fqid.Collection, filter datastore.Filter) (datastore.Count, error) {
	return datastore.Count{}, fmt.Errorf("fakeClient: Count not implemented")
}

func (c *fakeClient) Min(ctx context.Context, collection fqid.Collection, filter datastore.Filter, field string) (datastore.Aggregate, error) {
	return datastore.Aggregate{}, fmt.Errorf("fakeClient: Min not implemented")
}

func (c *fakeClient) Max(ctx context.Context, collection fqid.Collection, filter datastore.Filter, field string) (datastore.Aggregate, error) {
	return datastore.Aggregate{}, fmt.Errorf("fakeClient: Max not implemented")
}

func (c *fakeClient) ReserveIDs(ctx context.Context, collection fqid.Collection, n int) ([]uint64, error) {
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

func (c *fakeClient) Write(ctx context.Context, element datastore.WriteRequestElement) (datastore.Revision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rev++
	newRev := decimal.NewFromInt(c.rev + 1)
	for _, ev := range element.Events {
		switch ev.Type {
		case datastore.EventCreate:
			c.objects[ev.FQId] = ev.Fields
		case datastore.EventUpdate:
			obj, ok := c.objects[ev.FQId]
			if !ok {
				obj = datastore.NewOrderedModel()
				c.objects[ev.FQId] = obj
			}
			for _, k := range ev.Fields.Keys() {
				v, _ := ev.Fields.Get(k)
				obj.Set(k, v)
			}
		case datastore.EventDelete:
			delete(c.objects, ev.FQId)
		}
		c.revisions[ev.FQId] = newRev
	}
	return newRev, nil
}
