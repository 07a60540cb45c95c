// Package permission implements the management-level and group-permission
// guards every action consults before it is allowed to run.
package permission

import (
	"context"

	"github.com/openslides/backend/pkg/actionerror"
)

// Level is an organisation- or committee-scoped management level, ordered
// from least to most privileged.
type Level string

const (
	LevelNone      Level = ""
	LevelCanManage Level = "can_manage"
	LevelAdmin     Level = "superadmin"
)

// atLeast reports whether have meets or exceeds want on the fixed ordering
// none < can_manage < superadmin.
func atLeast(have, want Level) bool {
	rank := map[Level]int{LevelNone: 0, LevelCanManage: 1, LevelAdmin: 2}
	return rank[have] >= rank[want]
}

// Checker is the external collaborator that resolves a user's permissions.
// This package only specifies the interface and the guards built on it.
type Checker interface {
	OrganisationManagementLevel(ctx context.Context, userID uint64) (Level, error)
	CommitteeManagementLevel(ctx context.Context, userID uint64, committeeID uint64) (Level, error)
	GroupPermission(ctx context.Context, userID uint64, meetingID uint64, perm string) (bool, error)
}

// RequireOrganisationManagement fails unless userID has at least want at the
// organisation level.
func RequireOrganisationManagement(ctx context.Context, checker Checker, userID uint64, want Level) error {
	have, err := checker.OrganisationManagementLevel(ctx, userID)
	if err != nil {
		return err
	}
	if !atLeast(have, want) {
		return actionerror.MissingPermission("organisation management level " + string(want))
	}
	return nil
}

// RequireCommitteeManagement fails unless userID has at least want on
// committeeID, falling back to organisation-level management (a superadmin
// may always act on any committee).
func RequireCommitteeManagement(ctx context.Context, checker Checker, userID, committeeID uint64, want Level) error {
	orgLevel, err := checker.OrganisationManagementLevel(ctx, userID)
	if err != nil {
		return err
	}
	if atLeast(orgLevel, want) {
		return nil
	}
	have, err := checker.CommitteeManagementLevel(ctx, userID, committeeID)
	if err != nil {
		return err
	}
	if !atLeast(have, want) {
		return actionerror.MissingPermission("committee management level " + string(want))
	}
	return nil
}

// RequireGroupPermission fails unless userID holds perm in meetingID.
func RequireGroupPermission(ctx context.Context, checker Checker, userID, meetingID uint64, perm string) error {
	ok, err := checker.GroupPermission(ctx, userID, meetingID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return actionerror.MissingPermission(perm)
	}
	return nil
}
