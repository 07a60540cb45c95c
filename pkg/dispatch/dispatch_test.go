package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/openslides/backend/pkg/action"
	"github.com/openslides/backend/pkg/datastore"
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func buildRegistry() *model.Registry {
	registry := model.NewRegistry()
	registry.Register(model.NewModel("topic", []model.Field{
		{Name: "id", Kind: model.KindInteger, ReadOnly: true},
		{Name: "title", Kind: model.KindString},
	}))
	return registry.Build()
}

type stubCreate struct {
	base *action.Base
}

func (s *stubCreate) Perform(ctx context.Context, payload []json.RawMessage, userID uint64) ([]datastore.WriteRequestElement, error) {
	owner := fqid.FQId{Collection: "topic", ID: 1}
	return []datastore.WriteRequestElement{{
		Events:       []datastore.Event{{Type: datastore.EventCreate, FQId: owner, Fields: datastore.NewOrderedModel()}},
		Information:  map[fqid.FQId][]string{owner: {"Object created"}},
		UserID:       userID,
		LockedFields: s.base.Locked.Snapshot(),
	}}, nil
}

func TestDispatcherHandleWritesMergedTransaction(t *testing.T) {
	registry := buildRegistry()
	actions := NewRegistry()
	actions.Register("topic.create", func(b *action.Base) action.Action { return &stubCreate{base: b} }, nil)

	db := &recordingClient{}
	d := New(actions, registry, db, nil)

	payload, err := json.Marshal(map[string]any{"title": "Welcome"})
	require.NoError(t, err)

	err = d.Handle(context.Background(), []ActionRequest{{Action: "topic.create", Data: payload}}, 5)
	require.NoError(t, err)
	require.Len(t, db.written, 1)
	require.Len(t, db.written[0].Events, 1)
}

func TestDispatcherHandleRejectsUnknownAction(t *testing.T) {
	registry := buildRegistry()
	actions := NewRegistry()
	db := &recordingClient{}
	d := New(actions, registry, db, nil)

	payload, _ := json.Marshal(map[string]any{"title": "Welcome"})
	err := d.Handle(context.Background(), []ActionRequest{{Action: "topic.create", Data: payload}}, 5)
	require.Error(t, err)
	require.Empty(t, db.written)
}

// recordingClient is a minimal datastore.Client double that only supports
// Write, sufficient for dispatcher-level tests.
type recordingClient struct {
	written []datastore.WriteRequestElement
}

func (c *recordingClient) Get(context.Context, fqid.FQId, []string) (*datastore.OrderedModel, datastore.Revision, error) {
	return datastore.NewOrderedModel(), datastore.NoRevision, nil
}
func (c *recordingClient) GetMany(context.Context, []datastore.GetManyRequest) (map[fqid.Collection]map[uint64]*datastore.OrderedModel, map[fqid.FQId]datastore.Revision, error) {
	return nil, nil, nil
}
func (c *recordingClient) GetAll(context.Context, fqid.Collection, []string) ([]*datastore.OrderedModel, error) {
	return nil, nil
}
func (c *recordingClient) Filter(context.Context, fqid.Collection, datastore.Filter, []string) ([]*datastore.OrderedModel, error) {
	return nil, nil
}
func (c *recordingClient) Exists(context.Context, fqid.Collection, datastore.Filter) (datastore.Found, error) {
	return datastore.Found{}, nil
}
func (c *recordingClient) Count(context.Context, fqid.Collection, datastore.Filter) (datastore.Count, error) {
	return datastore.Count{}, nil
}
func (c *recordingClient) Min(context.Context, fqid.Collection, datastore.Filter, string) (datastore.Aggregate, error) {
	return datastore.Aggregate{}, nil
}
func (c *recordingClient) Max(context.Context, fqid.Collection, datastore.Filter, string) (datastore.Aggregate, error) {
	return datastore.Aggregate{}, nil
}
func (c *recordingClient) ReserveIDs(context.Context, fqid.Collection, int) ([]uint64, error) {
	return nil, nil
}
func (c *recordingClient) Write(ctx context.Context, element datastore.WriteRequestElement) (datastore.Revision, error) {
	c.written = append(c.written, element)
	return datastore.NoRevision, nil
}
