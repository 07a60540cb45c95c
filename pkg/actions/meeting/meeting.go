// Package meeting registers the meeting collection's model and its minimal
// create/update/delete action set. A meeting is the top-level container
// topics, agenda items and motion workflows hang off.
package meeting

import (
	"github.com/openslides/backend/pkg/action"
	"github.com/openslides/backend/pkg/actionschema"
	"github.com/openslides/backend/pkg/dispatch"
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/model"
)

// Collection is the meeting collection name.
const Collection fqid.Collection = "meeting"

// Model describes the meeting collection and the reverse end of every
// relation a meeting participates in.
func Model() *model.Model {
	return model.NewModel(Collection, []model.Field{
		{Name: "id", Kind: model.KindInteger, ReadOnly: true},
		{Name: "name", Kind: model.KindString},
		{Name: "topic_ids", Kind: model.KindList, ReadOnly: true, Relation: &model.Relation{
			Type:        model.ManyToOne,
			To:          []fqid.Collection{"topic"},
			RelatedName: "meeting_id",
			OnDelete:    model.Cascade,
		}},
		{Name: "agenda_item_ids", Kind: model.KindList, ReadOnly: true, Relation: &model.Relation{
			Type:        model.ManyToOne,
			To:          []fqid.Collection{"agenda_item"},
			RelatedName: "meeting_id",
			OnDelete:    model.Cascade,
		}},
		{Name: "motion_workflow_ids", Kind: model.KindList, ReadOnly: true, Relation: &model.Relation{
			Type:        model.ManyToOne,
			To:          []fqid.Collection{"motion_workflow"},
			RelatedName: "meeting_id",
			OnDelete:    model.Cascade,
		}},
		{Name: "user_ids", Kind: model.KindList, Relation: &model.Relation{
			Type:        model.ManyToMany,
			To:          []fqid.Collection{"user"},
			RelatedName: "meeting_ids",
			OnDelete:    model.SetNull,
		}},
	})
}

// Register wires meeting.create/update/delete into actions.
func Register(actions *dispatch.Registry, m *model.Model) error {
	createSchema, err := actionschema.ForCreate("meeting.create", m, []string{"name"}, []string{"user_ids"})
	if err != nil {
		return err
	}
	actions.Register("meeting.create", func(b *action.Base) action.Action {
		return &action.CreateAction{Base: b, Schema: createSchema}
	}, createSchema)

	updateSchema, err := actionschema.ForUpdate("meeting.update", m, []string{"name", "user_ids"})
	if err != nil {
		return err
	}
	actions.Register("meeting.update", func(b *action.Base) action.Action {
		return &action.UpdateAction{Base: b, Schema: updateSchema}
	}, updateSchema)

	actions.Register("meeting.delete", func(b *action.Base) action.Action {
		return &action.DeleteAction{Base: b}
	}, nil)

	return nil
}
