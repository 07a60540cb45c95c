package relations

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/openslides/backend/pkg/datastore"
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/model"
)

// fakeDB is a minimal Reader backed by a plain map, enough to drive the
// resolver through every branch without a real datastore.
type fakeDB struct {
	objects map[fqid.FQId]*datastore.OrderedModel
}

func newFakeDB() *fakeDB {
	return &fakeDB{objects: map[fqid.FQId]*datastore.OrderedModel{}}
}

func (f *fakeDB) put(id fqid.FQId, fields map[string]any) {
	m := datastore.NewOrderedModel()
	for k, v := range fields {
		m.Set(k, v)
	}
	f.objects[id] = m
}

func (f *fakeDB) Get(_ context.Context, id fqid.FQId, mappedFields []string) (*datastore.OrderedModel, datastore.Revision, error) {
	obj, ok := f.objects[id]
	if !ok {
		return nil, datastore.NoRevision, &notFoundErr{id}
	}
	out := datastore.NewOrderedModel()
	for _, field := range mappedFields {
		if v, ok := obj.Get(field); ok {
			out.Set(field, v)
		}
	}
	return out, decimal.NewFromInt(1), nil
}

type notFoundErr struct{ id fqid.FQId }

func (e *notFoundErr) Error() string { return "not found: " + e.id.String() }

func manyToManyRegistry() (*model.Registry, *model.Relation) {
	r := model.NewRegistry()
	rel := &model.Relation{
		Type:         model.ManyToMany,
		To:           []fqid.Collection{"tag"},
		OwnFieldName: "tag_ids",
		RelatedName:  "topic_ids",
	}
	r.Register(model.NewModel("topic", []model.Field{{Name: "tag_ids", Kind: model.KindList, Relation: rel}}))
	r.Register(model.NewModel("tag", []model.Field{{Name: "topic_ids", Kind: model.KindList, Relation: &model.Relation{
		Type: model.ManyToMany, To: []fqid.Collection{"topic"}, OwnFieldName: "topic_ids", RelatedName: "tag_ids",
	}}}))
	r.Build()
	return r, rel
}

func TestResolveManyToManyAdd(t *testing.T) {
	registry, rel := manyToManyRegistry()
	db := newFakeDB()
	db.put(fqid.FQId{Collection: "topic", ID: 1}, map[string]any{"tag_ids": []uint64{}})
	db.put(fqid.FQId{Collection: "tag", ID: 5}, map[string]any{"topic_ids": []uint64{}})

	res := New(registry, db, datastore.NewLockedFields(), NewOverlay())
	field, _ := registry.MustModel("topic").Field("tag_ids")
	effects, err := res.Resolve(context.Background(), Request{
		Model:     registry.MustModel("topic"),
		ID:        1,
		Field:     field,
		FieldName: "tag_ids",
		Proposed:  []uint64{5},
	})
	require.NoError(t, err)
	require.Len(t, effects, 1)
	eff := effects[fqid.FQId{Collection: "tag", ID: 5}.Field("topic_ids")]
	require.Equal(t, Add, eff.Op)
	require.Equal(t, []uint64{1}, eff.Value)
	_ = rel
}

func TestResolveOneToOneReassignmentGuard(t *testing.T) {
	registry := model.NewRegistry()
	rel := &model.Relation{Type: model.OneToOne, To: []fqid.Collection{"user"}, RelatedName: "profile_id"}
	registry.Register(model.NewModel("profile", []model.Field{{Name: "user_id", Relation: rel}}))
	registry.Register(model.NewModel("user", []model.Field{{Name: "profile_id", Relation: &model.Relation{
		Type: model.OneToOne, To: []fqid.Collection{"profile"}, RelatedName: "user_id",
	}}}))
	registry.Build()

	db := newFakeDB()
	db.put(fqid.FQId{Collection: "profile", ID: 1}, map[string]any{"user_id": nil})
	db.put(fqid.FQId{Collection: "user", ID: 9}, map[string]any{"profile_id": uint64(3)})

	res := New(registry, db, datastore.NewLockedFields(), NewOverlay())
	field, _ := registry.MustModel("profile").Field("user_id")
	_, err := res.Resolve(context.Background(), Request{
		Model:     registry.MustModel("profile"),
		ID:        1,
		Field:     field,
		FieldName: "user_id",
		Proposed:  uint64(9),
	})
	require.Error(t, err)
}

func TestResolveOnlyAddSkipsCurrentLookup(t *testing.T) {
	registry, _ := manyToManyRegistry()
	db := newFakeDB()
	db.put(fqid.FQId{Collection: "tag", ID: 5}, map[string]any{"topic_ids": []uint64{2}})

	res := New(registry, db, datastore.NewLockedFields(), NewOverlay())
	field, _ := registry.MustModel("topic").Field("tag_ids")
	effects, err := res.Resolve(context.Background(), Request{
		Model:     registry.MustModel("topic"),
		ID:        1,
		Field:     field,
		FieldName: "tag_ids",
		Proposed:  []uint64{5},
		OnlyAdd:   true,
	})
	require.NoError(t, err)
	eff := effects[fqid.FQId{Collection: "tag", ID: 5}.Field("topic_ids")]
	require.Equal(t, []uint64{2, 1}, eff.Value)
}

func TestResolveProtectGuardOnReverseDelete(t *testing.T) {
	registry := model.NewRegistry()
	rel := &model.Relation{Type: model.ManyToOne, To: []fqid.Collection{"agenda_item"}, RelatedName: "meeting_id"}
	registry.Register(model.NewModel("meeting", []model.Field{{Name: "agenda_item_ids", Relation: rel}}))
	registry.Register(model.NewModel("agenda_item", []model.Field{{Name: "meeting_id", Relation: &model.Relation{
		Type: model.OneToMany, To: []fqid.Collection{"meeting"}, RelatedName: "agenda_item_ids", OnDelete: model.Protect,
	}}}))
	registry.Build()

	db := newFakeDB()
	db.put(fqid.FQId{Collection: "meeting", ID: 1}, map[string]any{"agenda_item_ids": []uint64{7}})
	db.put(fqid.FQId{Collection: "agenda_item", ID: 7}, map[string]any{"meeting_id": uint64(1)})

	res := New(registry, db, datastore.NewLockedFields(), NewOverlay())
	field, _ := registry.MustModel("meeting").Field("agenda_item_ids")
	_, err := res.Resolve(context.Background(), Request{
		Model:     registry.MustModel("meeting"),
		ID:        1,
		Field:     field,
		FieldName: "agenda_item_ids",
		Proposed:  []uint64{},
		Reverse:   true,
	})
	require.Error(t, err)
}

func TestResolveMissingTargetRaisesActionError(t *testing.T) {
	registry, _ := manyToManyRegistry()
	db := newFakeDB()
	db.put(fqid.FQId{Collection: "topic", ID: 1}, map[string]any{"tag_ids": []uint64{}})

	res := New(registry, db, datastore.NewLockedFields(), NewOverlay())
	field, _ := registry.MustModel("topic").Field("tag_ids")
	_, err := res.Resolve(context.Background(), Request{
		Model:     registry.MustModel("topic"),
		ID:        1,
		Field:     field,
		FieldName: "tag_ids",
		Proposed:  []uint64{99},
	})
	require.Error(t, err)
}

func TestResolveGenericRelationRoundTrip(t *testing.T) {
	registry := model.NewRegistry()
	rel := &model.Relation{
		Type: model.OneToMany, To: []fqid.Collection{"topic", "motion"},
		RelatedName: "attachment_ids", Generic: true,
	}
	registry.Register(model.NewModel("attachment", []model.Field{{Name: "content_object_id", Relation: rel}}))
	registry.Register(model.NewModel("topic", []model.Field{{Name: "attachment_ids", Relation: &model.Relation{
		Type: model.ManyToOne, To: []fqid.Collection{"attachment"}, RelatedName: "content_object_id",
	}}}))
	registry.Build()

	db := newFakeDB()
	db.put(fqid.FQId{Collection: "attachment", ID: 4}, map[string]any{"content_object_id": nil})
	db.put(fqid.FQId{Collection: "topic", ID: 2}, map[string]any{"attachment_ids": []uint64{}})

	res := New(registry, db, datastore.NewLockedFields(), NewOverlay())
	field, _ := registry.MustModel("attachment").Field("content_object_id")
	effects, err := res.Resolve(context.Background(), Request{
		Model:     registry.MustModel("attachment"),
		ID:        4,
		Field:     field,
		FieldName: "content_object_id",
		Proposed:  fqid.FQId{Collection: "topic", ID: 2},
	})
	require.NoError(t, err)
	eff := effects[fqid.FQId{Collection: "topic", ID: 2}.Field("attachment_ids")]
	require.Equal(t, Add, eff.Op)
	require.Equal(t, []uint64{4}, eff.Value)
}

func TestResolveEqualFieldsMismatchRejected(t *testing.T) {
	registry := model.NewRegistry()
	registry.Register(model.NewModel("agenda_item", []model.Field{
		{Name: "meeting_id"},
		{Name: "parent_id", Relation: &model.Relation{
			Type: model.OneToMany, To: []fqid.Collection{"agenda_item"},
			RelatedName: "child_ids", OnDelete: model.SetNull,
			EqualFields: []string{"meeting_id"},
		}},
		{Name: "child_ids", Relation: &model.Relation{
			Type: model.ManyToOne, To: []fqid.Collection{"agenda_item"},
			RelatedName: "parent_id", OnDelete: model.SetNull,
			EqualFields: []string{"meeting_id"},
		}},
	}))
	registry.Build()

	db := newFakeDB()
	db.put(fqid.FQId{Collection: "agenda_item", ID: 1}, map[string]any{"meeting_id": uint64(1), "child_ids": []uint64{}})
	db.put(fqid.FQId{Collection: "agenda_item", ID: 2}, map[string]any{"meeting_id": uint64(2)})

	res := New(registry, db, datastore.NewLockedFields(), NewOverlay())
	field, _ := registry.MustModel("agenda_item").Field("parent_id")
	_, err := res.Resolve(context.Background(), Request{
		Model:     registry.MustModel("agenda_item"),
		ID:        2,
		Field:     field,
		FieldName: "parent_id",
		Proposed:  uint64(1),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "meeting_id")
}

func TestEffectsOrderedIsDeterministic(t *testing.T) {
	effects := Effects{
		fqid.FQId{Collection: "b", ID: 2}.Field("x"): {Op: Add},
		fqid.FQId{Collection: "a", ID: 1}.Field("x"): {Op: Add},
	}
	ordered := effects.Ordered()
	require.Equal(t, fqid.Collection("a"), ordered[0].Collection)
	require.Equal(t, fqid.Collection("b"), ordered[1].Collection)
}

func TestOnlyAddAndOnlyRemoveMutuallyExclusive(t *testing.T) {
	registry, _ := manyToManyRegistry()
	res := New(registry, newFakeDB(), datastore.NewLockedFields(), NewOverlay())
	field, _ := registry.MustModel("topic").Field("tag_ids")
	_, err := res.Resolve(context.Background(), Request{
		Model: registry.MustModel("topic"), ID: 1, Field: field, FieldName: "tag_ids",
		OnlyAdd: true, OnlyRemove: true,
	})
	require.Error(t, err)
}
