// Package user registers the user collection's model and its minimal
// create/update/delete action set, carrying the reverse end of the
// meeting/committee membership relations exercised by committee.update.
package user

import (
	"github.com/openslides/backend/pkg/action"
	"github.com/openslides/backend/pkg/actionschema"
	"github.com/openslides/backend/pkg/dispatch"
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/model"
)

// Collection is the user collection name.
const Collection fqid.Collection = "user"

// Model describes the user collection.
func Model() *model.Model {
	return model.NewModel(Collection, []model.Field{
		{Name: "id", Kind: model.KindInteger, ReadOnly: true},
		{Name: "username", Kind: model.KindString},
		{Name: "meeting_ids", Kind: model.KindList, Relation: &model.Relation{
			Type:        model.ManyToMany,
			To:          []fqid.Collection{"meeting"},
			RelatedName: "user_ids",
			OnDelete:    model.SetNull,
		}},
		{Name: "committee_ids", Kind: model.KindList, Relation: &model.Relation{
			Type:        model.ManyToMany,
			To:          []fqid.Collection{"committee"},
			RelatedName: "user_ids",
			OnDelete:    model.SetNull,
		}},
		// organisation_management_level and committee_management_ids are
		// plain denormalized fields, not relations: pkg/permission.DatastoreChecker
		// reads them directly to answer the management-level questions
		// pkg/actions/committee's field-group gating asks. Only the two
		// management levels the bundled actions consult are modeled here;
		// the full group/meeting-permission lattice lives in the external
		// permission service.
		{Name: "organisation_management_level", Kind: model.KindString, Default: "no_right"},
		{Name: "committee_management_ids", Kind: model.KindList},
	})
}

// Register wires user.create/update/delete into actions.
func Register(actions *dispatch.Registry, m *model.Model) error {
	createSchema, err := actionschema.ForCreate("user.create", m, []string{"username"}, []string{
		"meeting_ids", "committee_ids", "organisation_management_level", "committee_management_ids",
	})
	if err != nil {
		return err
	}
	actions.Register("user.create", func(b *action.Base) action.Action {
		return &action.CreateAction{Base: b, Schema: createSchema}
	}, createSchema)

	updateSchema, err := actionschema.ForUpdate("user.update", m, []string{
		"username", "meeting_ids", "committee_ids", "organisation_management_level", "committee_management_ids",
	})
	if err != nil {
		return err
	}
	actions.Register("user.update", func(b *action.Base) action.Action {
		return &action.UpdateAction{Base: b, Schema: updateSchema}
	}, updateSchema)

	actions.Register("user.delete", func(b *action.Base) action.Action {
		return &action.DeleteAction{Base: b}
	}, nil)

	return nil
}
