// Package committee registers the committee collection's model and its
// update action: different field groups require different management
// levels.
package committee

import (
	"context"

	"github.com/openslides/backend/pkg/action"
	"github.com/openslides/backend/pkg/actionschema"
	"github.com/openslides/backend/pkg/dispatch"
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/model"
	"github.com/openslides/backend/pkg/permission"
)

// Collection is the committee collection name.
const Collection fqid.Collection = "committee"

// Model describes the committee collection. template_meeting_id and
// default_meeting_id are plain integer fields rather than modeled
// relations: nothing here needs their reverse side kept in sync.
// organisation_tag_ids is likewise a plain list: the organisation_tag
// collection itself is out of this system's scope.
func Model() *model.Model {
	return model.NewModel(Collection, []model.Field{
		{Name: "id", Kind: model.KindInteger, ReadOnly: true},
		{Name: "name", Kind: model.KindString},
		{Name: "description", Kind: model.KindString},
		{Name: "template_meeting_id", Kind: model.KindInteger},
		{Name: "default_meeting_id", Kind: model.KindInteger},
		{Name: "organisation_tag_ids", Kind: model.KindList},
		{Name: "user_ids", Kind: model.KindList, Relation: &model.Relation{
			Type:        model.ManyToMany,
			To:          []fqid.Collection{"user"},
			RelatedName: "committee_ids",
			OnDelete:    model.SetNull,
		}},
		{Name: "forward_to_committee_ids", Kind: model.KindList, Relation: &model.Relation{
			Type:        model.ManyToMany,
			To:          []fqid.Collection{"committee"},
			RelatedName: "receive_forwardings_from_committee_ids",
			OnDelete:    model.SetNull,
		}},
		{Name: "receive_forwardings_from_committee_ids", Kind: model.KindList, Relation: &model.Relation{
			Type:        model.ManyToMany,
			To:          []fqid.Collection{"committee"},
			RelatedName: "forward_to_committee_ids",
			OnDelete:    model.SetNull,
		}},
	})
}

var managementGatedFields = []string{"name", "description", "template_meeting_id", "default_meeting_id"}
var organisationGatedFields = []string{"user_ids", "forward_to_committee_ids", "receive_forwardings_from_committee_ids"}

// checkPermissions implements committee.update's field-group gating: editing
// name/description/template_meeting_id/default_meeting_id requires
// committee-management on the committee being updated; editing
// user_ids/forward_to_committee_ids/receive_forwardings_from_committee_ids
// requires organisation-management; organisation_tag_ids accepts either.
func checkPermissions(checker permission.Checker, userID uint64) func(ctx context.Context, committeeID uint64, data map[string]any) error {
	return func(ctx context.Context, committeeID uint64, data map[string]any) error {
		hasAny := func(fields []string) bool {
			for _, f := range fields {
				if _, ok := data[f]; ok {
					return true
				}
			}
			return false
		}

		isManager := permission.RequireCommitteeManagement(ctx, checker, userID, committeeID, permission.LevelCanManage) == nil
		canManageOrg := permission.RequireOrganisationManagement(ctx, checker, userID, permission.LevelAdmin) == nil

		if hasAny(managementGatedFields) && !isManager {
			return permission.RequireCommitteeManagement(ctx, checker, userID, committeeID, permission.LevelCanManage)
		}
		if hasAny(organisationGatedFields) && !canManageOrg {
			return permission.RequireOrganisationManagement(ctx, checker, userID, permission.LevelAdmin)
		}
		if _, ok := data["organisation_tag_ids"]; ok && !isManager && !canManageOrg {
			return permission.RequireOrganisationManagement(ctx, checker, userID, permission.LevelAdmin)
		}
		return nil
	}
}

// Register wires committee.update into actions. committee.create/delete
// are owned by the organisation bootstrap flow and are not part of this
// service's action surface.
func Register(actions *dispatch.Registry, m *model.Model, checker permission.Checker) error {
	updateSchema, err := actionschema.ForUpdate("committee.update", m, []string{
		"name", "description", "template_meeting_id", "default_meeting_id",
		"user_ids", "forward_to_committee_ids", "receive_forwardings_from_committee_ids",
		"organisation_tag_ids",
	})
	if err != nil {
		return err
	}

	actions.Register("committee.update", func(b *action.Base) action.Action {
		return &action.UpdateAction{
			Base:             b,
			Schema:           updateSchema,
			CheckPermissions: checkPermissions(checker, b.UserID),
		}
	}, updateSchema)

	return nil
}
