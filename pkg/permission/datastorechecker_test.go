package permission_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openslides/backend/internal/datastore/memory"
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/permission"
)

func TestDatastoreCheckerOrganisationManagementLevel(t *testing.T) {
	db := memory.New()
	require.NoError(t, db.Seed([]memory.Fixture{
		{ID: fqid.FQId{Collection: "user", ID: 1}, Fields: map[string]any{"organisation_management_level": "superadmin"}},
		{ID: fqid.FQId{Collection: "user", ID: 2}, Fields: map[string]any{}},
	}))
	checker := &permission.DatastoreChecker{DB: db}

	level, err := checker.OrganisationManagementLevel(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, permission.LevelAdmin, level)

	level, err = checker.OrganisationManagementLevel(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, permission.LevelNone, level)
}

func TestDatastoreCheckerCommitteeManagementLevel(t *testing.T) {
	db := memory.New()
	require.NoError(t, db.Seed([]memory.Fixture{
		{ID: fqid.FQId{Collection: "user", ID: 1}, Fields: map[string]any{"committee_management_ids": []any{int64(42)}}},
	}))
	checker := &permission.DatastoreChecker{DB: db}

	level, err := checker.CommitteeManagementLevel(context.Background(), 1, 42)
	require.NoError(t, err)
	require.Equal(t, permission.LevelCanManage, level)

	level, err = checker.CommitteeManagementLevel(context.Background(), 1, 7)
	require.NoError(t, err)
	require.Equal(t, permission.LevelNone, level)
}

func TestDatastoreCheckerGroupPermission(t *testing.T) {
	db := memory.New()
	require.NoError(t, db.Seed([]memory.Fixture{
		{ID: fqid.FQId{Collection: "user", ID: 1}, Fields: map[string]any{"meeting_ids": []any{int64(7)}}},
	}))
	checker := &permission.DatastoreChecker{DB: db}

	ok, err := checker.GroupPermission(context.Background(), 1, 7, "agenda_item.can_manage")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = checker.GroupPermission(context.Background(), 1, 9, "agenda_item.can_manage")
	require.NoError(t, err)
	require.False(t, ok)
}
