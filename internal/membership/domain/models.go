// Package domain contains persistence models for the membership manager.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Member represents a user's membership in an organization. Permissions
// is a materialized snapshot of the role catalog entry for Role; the two
// always change together.
type Member struct {
	ID     snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID  snowflake.ID `gorm:"not null;index;column:org_id" json:"org_id"`
	UserID snowflake.ID `gorm:"not null;index;column:user_id" json:"user_id"`
	Email  string       `gorm:"type:text" json:"email,omitempty"`

	Role        string         `gorm:"type:text;not null" json:"role"`
	Permissions datatypes.JSON `gorm:"type:jsonb" json:"permissions"`

	IsActive  bool          `gorm:"not null;default:true;column:is_active" json:"is_active"`
	InvitedBy *snowflake.ID `gorm:"column:invited_by" json:"invited_by,omitempty"`

	JoinedAt     time.Time  `gorm:"not null;column:joined_at" json:"joined_at"`
	LastActiveAt *time.Time `gorm:"column:last_active_at" json:"last_active_at,omitempty"`
}

// TableName sets the database table name.
func (Member) TableName() string { return "organization_members" }
