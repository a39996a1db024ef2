// Package authorization resolves a caller's capabilities within an
// organization. Policies are seeded from the role catalog, which stays
// the single source of truth; members only carry a display snapshot.
package authorization

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsdash/internal/role"
)

var (
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidUser         = errors.New("invalid_user")
)

type Service interface {
	// GetUserRole returns the caller's role from their unique active
	// membership, or ok=false when none exists.
	GetUserRole(ctx context.Context, userID, orgID snowflake.ID) (role.Role, bool, error)

	// HasPermission reports whether the caller's role grants the
	// capability. Inactive or missing memberships never grant anything.
	HasPermission(ctx context.Context, userID, orgID snowflake.ID, capability role.Capability) (bool, error)

	// CanInviteMembers is sugar for HasPermission(members.invite).
	CanInviteMembers(ctx context.Context, userID, orgID snowflake.ID) (bool, error)

	// Authorize is HasPermission with a typed failure.
	Authorize(ctx context.Context, userID, orgID snowflake.ID, capability role.Capability) error

	// SyncGrouping aligns the enforcer's user->role grouping with the
	// stored membership after a role change.
	SyncGrouping(ctx context.Context, userID, orgID snowflake.ID) error

	// PurgeOrganization drops all groupings for a deleted organization.
	PurgeOrganization(ctx context.Context, orgID snowflake.ID) error
}
