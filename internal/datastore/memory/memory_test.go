package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openslides/backend/pkg/actionerror"
	"github.com/openslides/backend/pkg/datastore"
	"github.com/openslides/backend/pkg/fqid"
)

func TestGetReturnsOnlyMappedFields(t *testing.T) {
	c := New()
	require.NoError(t, c.Seed([]Fixture{
		{ID: fqid.FQId{Collection: "topic", ID: 1}, Fields: map[string]any{"title": "Welcome", "meeting_id": uint64(1)}},
	}))

	fields, rev, err := c.Get(context.Background(), fqid.FQId{Collection: "topic", ID: 1}, []string{"title"})
	require.NoError(t, err)
	require.True(t, rev.IsPositive())
	v, ok := fields.Get("title")
	require.True(t, ok)
	require.Equal(t, "Welcome", v)
	require.False(t, fields.Has("meeting_id"))
}

func TestGetMissingObjectErrors(t *testing.T) {
	c := New()
	_, _, err := c.Get(context.Background(), fqid.FQId{Collection: "topic", ID: 99}, []string{"title"})
	require.Error(t, err)
	var actionErr *actionerror.ActionError
	require.ErrorAs(t, err, &actionErr)
}

func TestReserveIDsAreSequentialPerCollection(t *testing.T) {
	c := New()
	first, err := c.ReserveIDs(context.Background(), "topic", 2)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, first)

	second, err := c.ReserveIDs(context.Background(), "topic", 1)
	require.NoError(t, err)
	require.Equal(t, []uint64{3}, second)
}

func TestWriteAppliesCreateUpdateDelete(t *testing.T) {
	c := New()
	ctx := context.Background()

	owner := fqid.FQId{Collection: "topic", ID: 1}
	fields := datastore.NewOrderedModel()
	fields.Set("title", "Welcome")

	_, err := c.Write(ctx, datastore.WriteRequestElement{
		Events: []datastore.Event{{Type: datastore.EventCreate, FQId: owner, Fields: fields}},
	})
	require.NoError(t, err)

	got, _, err := c.Get(ctx, owner, []string{"title"})
	require.NoError(t, err)
	v, _ := got.Get("title")
	require.Equal(t, "Welcome", v)

	update := datastore.NewOrderedModel()
	update.Set("title", "Renamed")
	_, err = c.Write(ctx, datastore.WriteRequestElement{
		Events: []datastore.Event{{Type: datastore.EventUpdate, FQId: owner, Fields: update}},
	})
	require.NoError(t, err)

	got, _, err = c.Get(ctx, owner, []string{"title"})
	require.NoError(t, err)
	v, _ = got.Get("title")
	require.Equal(t, "Renamed", v)

	_, err = c.Write(ctx, datastore.WriteRequestElement{
		Events: []datastore.Event{{Type: datastore.EventDelete, FQId: owner}},
	})
	require.NoError(t, err)

	_, _, err = c.Get(ctx, owner, []string{"title"})
	require.Error(t, err)
}

func TestWriteRejectsStaleLockedField(t *testing.T) {
	c := New()
	ctx := context.Background()

	owner := fqid.FQId{Collection: "topic", ID: 1}
	fields := datastore.NewOrderedModel()
	fields.Set("title", "Welcome")
	_, err := c.Write(ctx, datastore.WriteRequestElement{
		Events: []datastore.Event{{Type: datastore.EventCreate, FQId: owner, Fields: fields}},
	})
	require.NoError(t, err)

	_, rev, err := c.Get(ctx, owner, []string{"title"})
	require.NoError(t, err)

	update := datastore.NewOrderedModel()
	update.Set("title", "First writer")
	_, err = c.Write(ctx, datastore.WriteRequestElement{
		Events:       []datastore.Event{{Type: datastore.EventUpdate, FQId: owner, Fields: update}},
		LockedFields: map[string]datastore.Revision{owner.String(): rev},
	})
	require.NoError(t, err)

	staleUpdate := datastore.NewOrderedModel()
	staleUpdate.Set("title", "Second writer, stale")
	_, err = c.Write(ctx, datastore.WriteRequestElement{
		Events:       []datastore.Event{{Type: datastore.EventUpdate, FQId: owner, Fields: staleUpdate}},
		LockedFields: map[string]datastore.Revision{owner.String(): rev},
	})
	require.Error(t, err)
	var dsErr *actionerror.DatastoreError
	require.ErrorAs(t, err, &dsErr)
	require.True(t, dsErr.Locked)
}

func TestFilterEvaluatesEqualityAndBoolean(t *testing.T) {
	c := New()
	require.NoError(t, c.Seed([]Fixture{
		{ID: fqid.FQId{Collection: "topic", ID: 1}, Fields: map[string]any{"title": "A", "meeting_id": uint64(1)}},
		{ID: fqid.FQId{Collection: "topic", ID: 2}, Fields: map[string]any{"title": "B", "meeting_id": uint64(2)}},
	}))

	results, err := c.Filter(context.Background(), "topic", datastore.Equal("meeting_id", uint64(1)), []string{"title"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	v, _ := results[0].Get("title")
	require.Equal(t, "A", v)
}
