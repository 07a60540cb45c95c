package permission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	orgLevel   Level
	commLevels map[uint64]Level
	groupPerms map[string]bool
}

func (f *fakeChecker) OrganisationManagementLevel(ctx context.Context, userID uint64) (Level, error) {
	return f.orgLevel, nil
}

func (f *fakeChecker) CommitteeManagementLevel(ctx context.Context, userID, committeeID uint64) (Level, error) {
	return f.commLevels[committeeID], nil
}

func (f *fakeChecker) GroupPermission(ctx context.Context, userID, meetingID uint64, perm string) (bool, error) {
	return f.groupPerms[perm], nil
}

func TestRequireOrganisationManagement(t *testing.T) {
	ctx := context.Background()
	c := &fakeChecker{orgLevel: LevelCanManage}
	require.NoError(t, RequireOrganisationManagement(ctx, c, 1, LevelCanManage))
	require.Error(t, RequireOrganisationManagement(ctx, c, 1, LevelAdmin))
}

func TestRequireCommitteeManagementFallsBackToOrgLevel(t *testing.T) {
	ctx := context.Background()
	c := &fakeChecker{orgLevel: LevelAdmin, commLevels: map[uint64]Level{}}
	require.NoError(t, RequireCommitteeManagement(ctx, c, 1, 42, LevelCanManage))

	c = &fakeChecker{commLevels: map[uint64]Level{42: LevelCanManage}}
	require.NoError(t, RequireCommitteeManagement(ctx, c, 1, 42, LevelCanManage))
	require.Error(t, RequireCommitteeManagement(ctx, c, 1, 7, LevelCanManage))
}

func TestRequireGroupPermission(t *testing.T) {
	ctx := context.Background()
	c := &fakeChecker{groupPerms: map[string]bool{"agenda_item.can_manage": true}}
	require.NoError(t, RequireGroupPermission(ctx, c, 1, 1, "agenda_item.can_manage"))
	require.Error(t, RequireGroupPermission(ctx, c, 1, 1, "motion.can_manage"))
}
