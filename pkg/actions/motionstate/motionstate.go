// Package motionstate registers the motion_state collection's model and its
// minimal create/update/delete action set. motion_state.create is the
// dependency target motion_workflow.create invokes right after creating a
// workflow: every motion_state needs at least name and workflow_id, and
// first_state_of_workflow_id is how the workflow's first_state_id reverse
// relation gets populated.
package motionstate

import (
	"github.com/openslides/backend/pkg/action"
	"github.com/openslides/backend/pkg/actionschema"
	"github.com/openslides/backend/pkg/dispatch"
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/model"
)

// Collection is the motion_state collection name.
const Collection fqid.Collection = "motion_state"

// Model describes the motion_state collection.
func Model() *model.Model {
	return model.NewModel(Collection, []model.Field{
		{Name: "id", Kind: model.KindInteger, ReadOnly: true},
		{Name: "name", Kind: model.KindString},
		{Name: "workflow_id", Kind: model.KindInteger, Relation: &model.Relation{
			Type:        model.OneToMany,
			To:          []fqid.Collection{"motion_workflow"},
			RelatedName: "state_ids",
			OnDelete:    model.SetNull,
		}},
		{Name: "first_state_of_workflow_id", Kind: model.KindInteger, Relation: &model.Relation{
			Type:        model.OneToOne,
			To:          []fqid.Collection{"motion_workflow"},
			RelatedName: "first_state_id",
			OnDelete:    model.SetNull,
		}},
	})
}

// Register wires motion_state.create/update/delete into actions.
func Register(actions *dispatch.Registry, m *model.Model) error {
	createSchema, err := actionschema.ForCreate("motion_state.create", m,
		[]string{"name", "workflow_id"}, []string{"first_state_of_workflow_id"})
	if err != nil {
		return err
	}
	actions.Register("motion_state.create", func(b *action.Base) action.Action {
		return &action.CreateAction{Base: b, Schema: createSchema}
	}, createSchema)

	updateSchema, err := actionschema.ForUpdate("motion_state.update", m, []string{"name"})
	if err != nil {
		return err
	}
	actions.Register("motion_state.update", func(b *action.Base) action.Action {
		return &action.UpdateAction{Base: b, Schema: updateSchema}
	}, updateSchema)

	actions.Register("motion_state.delete", func(b *action.Base) action.Action {
		return &action.DeleteAction{Base: b}
	}, nil)

	return nil
}
