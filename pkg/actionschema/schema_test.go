package actionschema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openslides/backend/pkg/model"
)

func testModel() *model.Model {
	return model.NewModel("topic", []model.Field{
		{Name: "id", Kind: model.KindInteger, ReadOnly: true},
		{Name: "title", Kind: model.KindString},
		{Name: "meeting_id", Kind: model.KindInteger},
	})
}

func TestForCreateRejectsUnknownProperty(t *testing.T) {
	m := testModel()
	schema, err := ForCreate("topic.create", m, []string{"title", "meeting_id"}, nil)
	require.NoError(t, err)

	require.NoError(t, schema.Validate([]byte(`{"title":"t","meeting_id":1}`)))
	require.Error(t, schema.Validate([]byte(`{"title":"t","meeting_id":1,"bogus":true}`)))
}

func TestForCreateRequiresListedFields(t *testing.T) {
	m := testModel()
	schema, err := ForCreate("topic.create", m, []string{"title"}, []string{"meeting_id"})
	require.NoError(t, err)

	require.Error(t, schema.Validate([]byte(`{"meeting_id":1}`)))
	require.NoError(t, schema.Validate([]byte(`{"title":"t"}`)))
}

func TestForUpdateAlwaysRequiresID(t *testing.T) {
	m := testModel()
	schema, err := ForUpdate("topic.update", m, []string{"title"})
	require.NoError(t, err)

	require.Error(t, schema.Validate([]byte(`{"title":"t"}`)))
	require.NoError(t, schema.Validate([]byte(`{"id":1,"title":"t"}`)))
}

func TestForCreateRejectsReadOnlyField(t *testing.T) {
	m := testModel()
	_, err := ForCreate("topic.create", m, []string{"id"}, nil)
	require.Error(t, err)
}

func TestForCreateUnknownField(t *testing.T) {
	m := testModel()
	_, err := ForCreate("topic.create", m, []string{"nope"}, nil)
	require.Error(t, err)
}
