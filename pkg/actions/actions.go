// Package actions assembles the complete model registry and action
// dispatch registry out of every concrete collection package.
// internal/server and cmd/backend depend
// only on this package's Build, never on the individual collection
// packages directly.
package actions

import (
	"github.com/openslides/backend/pkg/actions/agendaitem"
	"github.com/openslides/backend/pkg/actions/committee"
	"github.com/openslides/backend/pkg/actions/meeting"
	"github.com/openslides/backend/pkg/actions/motionstate"
	"github.com/openslides/backend/pkg/actions/motionworkflow"
	"github.com/openslides/backend/pkg/actions/topic"
	"github.com/openslides/backend/pkg/actions/user"
	"github.com/openslides/backend/pkg/dispatch"
	"github.com/openslides/backend/pkg/model"
	"github.com/openslides/backend/pkg/permission"
)

// Registry bundles the built model registry with the populated dispatch
// registry that depends on it.
type Registry struct {
	Models  *model.Registry
	Actions *dispatch.Registry
}

// Build constructs every collection's model, freezes them into one
// model.Registry, then registers every collection's actions against a
// fresh dispatch.Registry bound to that frozen registry. checker resolves
// the permission guards committee.update consults.
func Build(checker permission.Checker) (*Registry, error) {
	models := model.NewRegistry()
	models.Register(topic.Model())
	models.Register(meeting.Model())
	models.Register(user.Model())
	models.Register(committee.Model())
	models.Register(motionstate.Model())
	models.Register(motionworkflow.Model())
	models.Register(agendaitem.Model())
	models.Build()

	actionRegistry := dispatch.NewRegistry()

	if err := topic.Register(actionRegistry, models.MustModel(topic.Collection)); err != nil {
		return nil, err
	}
	if err := meeting.Register(actionRegistry, models.MustModel(meeting.Collection)); err != nil {
		return nil, err
	}
	if err := user.Register(actionRegistry, models.MustModel(user.Collection)); err != nil {
		return nil, err
	}
	if err := committee.Register(actionRegistry, models.MustModel(committee.Collection), checker); err != nil {
		return nil, err
	}
	if err := motionstate.Register(actionRegistry, models.MustModel(motionstate.Collection)); err != nil {
		return nil, err
	}
	if err := motionworkflow.Register(actionRegistry, models.MustModel(motionworkflow.Collection)); err != nil {
		return nil, err
	}
	if err := agendaitem.Register(actionRegistry, models.MustModel(agendaitem.Collection)); err != nil {
		return nil, err
	}

	return &Registry{Models: models, Actions: actionRegistry}, nil
}
