// Package topic registers the topic collection's model and its minimal
// create/update/delete action set. A topic is the plain agenda content
// object: it carries the reverse end of agenda_item's generic
// content_object_id relation.
package topic

import (
	"github.com/openslides/backend/pkg/action"
	"github.com/openslides/backend/pkg/actionschema"
	"github.com/openslides/backend/pkg/dispatch"
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/model"
)

// Collection is the topic collection name.
const Collection fqid.Collection = "topic"

// Model describes the topic collection.
func Model() *model.Model {
	return model.NewModel(Collection, []model.Field{
		{Name: "id", Kind: model.KindInteger, ReadOnly: true},
		{Name: "title", Kind: model.KindString},
		{Name: "text", Kind: model.KindString},
		{Name: "meeting_id", Kind: model.KindInteger, Relation: &model.Relation{
			Type:        model.OneToMany,
			To:          []fqid.Collection{"meeting"},
			RelatedName: "topic_ids",
			OnDelete:    model.SetNull,
		}},
		{Name: "agenda_item_id", Kind: model.KindInteger, ReadOnly: true, Relation: &model.Relation{
			Type:        model.OneToOne,
			To:          []fqid.Collection{"agenda_item"},
			RelatedName: "content_object_id",
			OnDelete:    model.SetNull,
		}},
	})
}

// Register wires topic.create/update/delete into actions, deriving their
// schemas from m (the built registry's topic model).
func Register(actions *dispatch.Registry, m *model.Model) error {
	createSchema, err := actionschema.ForCreate("topic.create", m, []string{"meeting_id"}, []string{"title", "text"})
	if err != nil {
		return err
	}
	actions.Register("topic.create", func(b *action.Base) action.Action {
		return &action.CreateAction{Base: b, Schema: createSchema}
	}, createSchema)

	updateSchema, err := actionschema.ForUpdate("topic.update", m, []string{"title", "text"})
	if err != nil {
		return err
	}
	actions.Register("topic.update", func(b *action.Base) action.Action {
		return &action.UpdateAction{Base: b, Schema: updateSchema}
	}, updateSchema)

	actions.Register("topic.delete", func(b *action.Base) action.Action {
		return &action.DeleteAction{Base: b}
	}, nil)

	return nil
}
