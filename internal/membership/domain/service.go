package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsdash/pkg/db/pagination"
)

type Service interface {
	// Invite resolves the invitee, checks the inviter's capability and
	// the member quota, and creates an active membership.
	Invite(ctx context.Context, req InviteRequest) (*MemberResponse, error)

	// InviteOK is the boolean convenience wrapper: false on every
	// failure, without distinguishing the reason.
	InviteOK(ctx context.Context, req InviteRequest) bool

	UpdateRole(ctx context.Context, callerUserID snowflake.ID, memberID string, newRole string) error
	UpdateRoleOK(ctx context.Context, callerUserID snowflake.ID, memberID string, newRole string) bool

	// Remove hard-deletes a membership. Irreversible.
	Remove(ctx context.Context, callerUserID snowflake.ID, memberID string) error

	// Deactivate soft-deletes; calling it on an already inactive
	// member is a no-op.
	Deactivate(ctx context.Context, callerUserID snowflake.ID, memberID string) error

	// Reactivate restores a deactivated membership, re-checking the
	// member quota.
	Reactivate(ctx context.Context, callerUserID snowflake.ID, memberID string) error

	Get(ctx context.Context, memberID string) (*MemberResponse, error)
	ListByOrg(ctx context.Context, req ListMembersRequest) (*ListMembersResponse, error)

	// TouchLastActive stamps the member's last activity. Best effort.
	TouchLastActive(ctx context.Context, orgID, userID snowflake.ID, at time.Time) error
}

type InviteRequest struct {
	OrgID     string
	Email     string
	Role      string
	InvitedBy snowflake.ID
}

type ListMembersRequest struct {
	OrgID string
	pagination.Pagination
}

type MemberResponse struct {
	ID           string     `json:"id"`
	OrgID        string     `json:"org_id"`
	UserID       string     `json:"user_id"`
	Email        string     `json:"email,omitempty"`
	Role         string     `json:"role"`
	Permissions  []string   `json:"permissions"`
	IsActive     bool       `json:"is_active"`
	InvitedBy    string     `json:"invited_by,omitempty"`
	JoinedAt     time.Time  `json:"joined_at"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
}

type ListMembersResponse struct {
	Members  []MemberResponse     `json:"members"`
	PageInfo *pagination.PageInfo `json:"page_info,omitempty"`
}

var (
	ErrNotFound       = errors.New("member_not_found")
	ErrInvalidRole    = errors.New("invalid_role")
	ErrInvalidMember  = errors.New("invalid_member")
	ErrAlreadyMember  = errors.New("already_member")
	ErrOwnerImmutable = errors.New("owner_immutable")
)
