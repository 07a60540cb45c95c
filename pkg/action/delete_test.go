package action

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openslides/backend/pkg/datastore"
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/model"
)

func TestDeleteActionSetNullClearsReverseSide(t *testing.T) {
	registry := buildTestRegistry(model.SetNull)
	db := newFakeClient()
	db.seed(fqid.FQId{Collection: "topic", ID: 1}, map[string]any{
		"id": uint64(1), "title": "Welcome", "meeting_id": uint64(1),
	})
	db.seed(fqid.FQId{Collection: "meeting", ID: 1}, map[string]any{
		"id": uint64(1), "name": "Kickoff", "topic_ids": []uint64{1},
	})

	base := newTestBase(registry, "topic", db)
	act := &DeleteAction{Base: base}

	payload, err := json.Marshal(map[string]any{"id": 1})
	require.NoError(t, err)

	elements, err := act.Perform(context.Background(), []json.RawMessage{payload}, 9)
	require.NoError(t, err)
	require.Len(t, elements, 1)

	events := elements[0].Events
	require.Len(t, events, 2)
	require.Equal(t, datastore.EventDelete, events[0].Type)
	require.Equal(t, fqid.FQId{Collection: "topic", ID: 1}, events[0].FQId)

	require.Equal(t, datastore.EventUpdate, events[1].Type)
	require.Equal(t, fqid.FQId{Collection: "meeting", ID: 1}, events[1].FQId)
	topicIDs, ok := events[1].Fields.Get("topic_ids")
	require.True(t, ok)
	require.Equal(t, []uint64{}, topicIDs)

	entry, ok := base.Overlay.Lookup(fqid.FQId{Collection: "topic", ID: 1})
	require.True(t, ok)
	require.True(t, entry.Deleted)
}

func TestDeleteActionProtectRejectsWhenRelatedObjectsRemain(t *testing.T) {
	registry := buildTestRegistry(model.Protect)
	db := newFakeClient()
	db.seed(fqid.FQId{Collection: "topic", ID: 1}, map[string]any{
		"id": uint64(1), "title": "Welcome", "meeting_id": uint64(1),
	})
	db.seed(fqid.FQId{Collection: "meeting", ID: 1}, map[string]any{
		"id": uint64(1), "name": "Kickoff", "topic_ids": []uint64{1},
	})

	base := newTestBase(registry, "meeting", db)
	act := &DeleteAction{Base: base}

	payload, err := json.Marshal(map[string]any{"id": 1})
	require.NoError(t, err)

	_, err = act.Perform(context.Background(), []json.RawMessage{payload}, 9)
	require.Error(t, err)
}

func TestDeleteActionProtectAllowsWhenRelatedObjectAlreadyTombstoned(t *testing.T) {
	registry := buildTestRegistry(model.Protect)
	db := newFakeClient()
	db.seed(fqid.FQId{Collection: "topic", ID: 1}, map[string]any{
		"id": uint64(1), "title": "Welcome", "meeting_id": uint64(1),
	})
	db.seed(fqid.FQId{Collection: "meeting", ID: 1}, map[string]any{
		"id": uint64(1), "name": "Kickoff", "topic_ids": []uint64{1},
	})

	base := newTestBase(registry, "meeting", db)
	base.Overlay.MarkDeleted(fqid.FQId{Collection: "topic", ID: 1})
	act := &DeleteAction{Base: base}

	payload, err := json.Marshal(map[string]any{"id": 1})
	require.NoError(t, err)

	elements, err := act.Perform(context.Background(), []json.RawMessage{payload}, 9)
	require.NoError(t, err)
	require.Len(t, elements, 1)
	require.Len(t, elements[0].Events, 1)
	require.Equal(t, datastore.EventDelete, elements[0].Events[0].Type)
}

func TestDeleteActionCascadesToRelatedObjects(t *testing.T) {
	registry := buildTestRegistry(model.Cascade)
	db := newFakeClient()
	db.seed(fqid.FQId{Collection: "topic", ID: 1}, map[string]any{
		"id": uint64(1), "title": "Welcome", "meeting_id": uint64(1),
	})
	db.seed(fqid.FQId{Collection: "meeting", ID: 1}, map[string]any{
		"id": uint64(1), "name": "Kickoff", "topic_ids": []uint64{1},
	})

	base := newTestBase(registry, "meeting", db)
	base.Actions = fakeRegistry{"topic.delete": func(b *Base) Action {
		return &DeleteAction{Base: b}
	}}
	act := &DeleteAction{Base: base}

	payload, err := json.Marshal(map[string]any{"id": 1})
	require.NoError(t, err)

	elements, err := act.Perform(context.Background(), []json.RawMessage{payload}, 9)
	require.NoError(t, err)
	require.Len(t, elements, 2)

	var sawTopicDelete, sawMeetingDelete bool
	for _, el := range elements {
		for _, ev := range el.Events {
			if ev.Type == datastore.EventDelete && ev.FQId.Collection == "topic" {
				sawTopicDelete = true
			}
			if ev.Type == datastore.EventDelete && ev.FQId.Collection == "meeting" {
				sawMeetingDelete = true
			}
		}
	}
	require.True(t, sawTopicDelete, "expected the cascaded topic.delete to contribute a delete event")
	require.True(t, sawMeetingDelete, "expected the owning meeting.delete to contribute a delete event")

	topicEntry, ok := base.Overlay.Lookup(fqid.FQId{Collection: "topic", ID: 1})
	require.True(t, ok)
	require.True(t, topicEntry.Deleted)
}
