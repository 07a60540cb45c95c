package model

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openslides/backend/pkg/fqid"
)

func TestTemplateFieldMatch(t *testing.T) {
	f := Field{
		Name: "number__ids",
		Relation: &Relation{
			Type:     OneToMany,
			Template: &TemplateInfo{Index: 7},
		},
	}
	require.Equal(t, "number_$_ids", f.Name[:7]+"$"+f.Name[7:])

	token, ok := f.TemplateField("number_42_ids")
	require.True(t, ok)
	require.Equal(t, "42", token)

	_, ok = f.TemplateField("number_abc_ids")
	require.False(t, ok)

	_, ok = f.TemplateField("something_else")
	require.False(t, ok)
}

func TestRegistryReverse(t *testing.T) {
	r := NewRegistry()
	r.Register(NewModel("topic", []Field{
		{Name: "agenda_item_id", Relation: &Relation{
			Type: OneToOne, To: []fqid.Collection{"agenda_item"},
			RelatedName: "content_object_id",
		}},
	}))
	r.Build()

	coll, name, ok := r.Reverse("topic", "agenda_item_id")
	require.True(t, ok)
	require.Equal(t, fqid.Collection("agenda_item"), coll)
	require.Equal(t, "content_object_id", name)

	_, _, ok = r.Reverse("topic", "missing")
	require.False(t, ok)
}

func TestRegisterAfterBuildPanics(t *testing.T) {
	r := NewRegistry()
	r.Build()
	require.Panics(t, func() {
		r.Register(NewModel("x", nil))
	})
}
