package permission

import (
	"context"

	"github.com/openslides/backend/pkg/datastore"
	"github.com/openslides/backend/pkg/fqid"
)

// DatastoreChecker implements Checker by reading the denormalized
// management-level fields pkg/actions/user.Model declares
// (organisation_management_level, committee_management_ids) straight off
// the user object. Group permissions are approximated by meeting
// membership; the full group/permission lattice lives in the external
// permission service, and none of the bundled actions need more than this.
type DatastoreChecker struct {
	DB datastore.Client
}

var _ Checker = (*DatastoreChecker)(nil)

// OrganisationManagementLevel implements Checker.
func (c *DatastoreChecker) OrganisationManagementLevel(ctx context.Context, userID uint64) (Level, error) {
	obj, _, err := c.DB.Get(ctx, fqid.FQId{Collection: "user", ID: userID}, []string{"organisation_management_level"})
	if err != nil {
		return LevelNone, err
	}
	v, ok := obj.Get("organisation_management_level")
	if !ok {
		return LevelNone, nil
	}
	s, _ := v.(string)
	switch s {
	case string(LevelAdmin):
		return LevelAdmin, nil
	case string(LevelCanManage):
		return LevelCanManage, nil
	default:
		return LevelNone, nil
	}
}

// CommitteeManagementLevel implements Checker: userID manages committeeID
// iff committeeID appears in the user's committee_management_ids list.
func (c *DatastoreChecker) CommitteeManagementLevel(ctx context.Context, userID, committeeID uint64) (Level, error) {
	obj, _, err := c.DB.Get(ctx, fqid.FQId{Collection: "user", ID: userID}, []string{"committee_management_ids"})
	if err != nil {
		return LevelNone, err
	}
	v, ok := obj.Get("committee_management_ids")
	if !ok {
		return LevelNone, nil
	}
	for _, id := range toIDs(v) {
		if id == committeeID {
			return LevelCanManage, nil
		}
	}
	return LevelNone, nil
}

// GroupPermission implements Checker by treating any meeting member as
// holding every group permission within that meeting.
func (c *DatastoreChecker) GroupPermission(ctx context.Context, userID, meetingID uint64, perm string) (bool, error) {
	obj, _, err := c.DB.Get(ctx, fqid.FQId{Collection: "user", ID: userID}, []string{"meeting_ids"})
	if err != nil {
		return false, err
	}
	v, ok := obj.Get("meeting_ids")
	if !ok {
		return false, nil
	}
	for _, id := range toIDs(v) {
		if id == meetingID {
			return true, nil
		}
	}
	return false, nil
}

func toIDs(v any) []uint64 {
	switch list := v.(type) {
	case []uint64:
		return list
	case []any:
		out := make([]uint64, 0, len(list))
		for _, e := range list {
			switch n := e.(type) {
			case uint64:
				out = append(out, n)
			case int:
				out = append(out, uint64(n))
			case int64:
				out = append(out, uint64(n))
			case float64:
				out = append(out, uint64(n))
			}
		}
		return out
	default:
		return nil
	}
}
