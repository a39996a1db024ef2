package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// OrganizationListItem is the per-user listing projection.
type OrganizationListItem struct {
	ID        snowflake.ID
	Name      string
	Slug      string
	Plan      string
	Role      string
	CreatedAt time.Time
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, org Organization) error
	Get(ctx context.Context, id snowflake.ID) (*Organization, error)
	Update(ctx context.Context, org *Organization) error
	Delete(ctx context.Context, id snowflake.ID) (bool, error)
	ListByUser(ctx context.Context, userID snowflake.ID) ([]OrganizationListItem, error)

	// Owner membership bootstrap and cascade live here so organization
	// creation and deletion stay a single transaction without pulling
	// in the membership manager.
	AddOwnerMember(ctx context.Context, orgID, userID snowflake.ID, permissions []string, now time.Time) error
	DeleteMembers(ctx context.Context, orgID snowflake.ID) error
	SwapOwnerRoles(ctx context.Context, orgID, oldOwnerID, newOwnerID snowflake.ID, demotedRole string, demotedPerms []string, ownerPerms []string) error
}
