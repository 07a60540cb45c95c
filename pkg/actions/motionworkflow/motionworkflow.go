// Package motionworkflow registers the motion_workflow collection's model
// and its create action: creating a workflow immediately creates its
// default motion_state as a declared dependency.
package motionworkflow

import (
	"encoding/json"

	"github.com/openslides/backend/pkg/action"
	"github.com/openslides/backend/pkg/actionschema"
	"github.com/openslides/backend/pkg/dispatch"
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/model"
)

// Collection is the motion_workflow collection name.
const Collection fqid.Collection = "motion_workflow"

// defaultStateName is the name given to the state created as
// motion_workflow.create's dependency.
const defaultStateName = "default"

// Model describes the motion_workflow collection.
func Model() *model.Model {
	return model.NewModel(Collection, []model.Field{
		{Name: "id", Kind: model.KindInteger, ReadOnly: true},
		{Name: "name", Kind: model.KindString},
		{Name: "meeting_id", Kind: model.KindInteger, Relation: &model.Relation{
			Type:        model.OneToMany,
			To:          []fqid.Collection{"meeting"},
			RelatedName: "motion_workflow_ids",
			OnDelete:    model.SetNull,
		}},
		{Name: "first_state_id", Kind: model.KindInteger, ReadOnly: true, Relation: &model.Relation{
			Type:        model.OneToOne,
			To:          []fqid.Collection{"motion_state"},
			RelatedName: "first_state_of_workflow_id",
			OnDelete:    model.SetNull,
		}},
		{Name: "state_ids", Kind: model.KindList, ReadOnly: true, Relation: &model.Relation{
			Type:        model.ManyToOne,
			To:          []fqid.Collection{"motion_state"},
			RelatedName: "workflow_id",
			OnDelete:    model.Cascade,
		}},
	})
}

type dependentStatePayload struct {
	Name                   string `json:"name"`
	WorkflowID             uint64 `json:"workflow_id"`
	FirstStateOfWorkflowID uint64 `json:"first_state_of_workflow_id"`
}

// Register wires motion_workflow.create into actions. Workflows are
// never updated or deleted through this service, so only create is
// registered.
func Register(actions *dispatch.Registry, m *model.Model) error {
	createSchema, err := actionschema.ForCreate("motion_workflow.create", m, []string{"name", "meeting_id"}, nil)
	if err != nil {
		return err
	}

	actions.Register("motion_workflow.create", func(b *action.Base) action.Action {
		return &action.CreateAction{
			Base:   b,
			Schema: createSchema,
			Dependencies: func(data map[string]any, id uint64) []action.Dependency {
				payload, _ := json.Marshal(dependentStatePayload{
					Name:                   defaultStateName,
					WorkflowID:             id,
					FirstStateOfWorkflowID: id,
				})
				return []action.Dependency{{ActionName: "motion_state.create", Payload: payload}}
			},
		}
	}, createSchema)

	return nil
}
