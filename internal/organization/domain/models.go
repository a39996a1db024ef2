// Package domain contains persistence models for the organization registry.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsdash/internal/plan"
	"gorm.io/datatypes"
)

// BillingStatus is a stub for the external billing processor.
type BillingStatus string

const (
	BillingActive   BillingStatus = "active"
	BillingPastDue  BillingStatus = "past_due"
	BillingCanceled BillingStatus = "canceled"
)

// Settings is the per-organization settings bundle.
type Settings struct {
	Theme                string            `json:"theme,omitempty"`
	Branding             map[string]string `json:"branding,omitempty"`
	FeatureFlags         map[string]bool   `json:"feature_flags,omitempty"`
	NotificationChannels []string          `json:"notification_channels,omitempty"`
	SecurityPolicy       map[string]string `json:"security_policy,omitempty"`
}

// Organization represents a tenant. Limits are snapshotted from the plan
// catalog at creation and re-snapshotted on every plan change.
type Organization struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"type:text;not null" json:"name"`
	Slug        string       `gorm:"type:text;not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	Description string       `gorm:"type:text" json:"description,omitempty"`
	LogoURL     string       `gorm:"type:text;column:logo_url" json:"logo_url,omitempty"`
	Website     string       `gorm:"type:text" json:"website,omitempty"`
	Industry    string       `gorm:"type:text" json:"industry,omitempty"`
	Size        string       `gorm:"type:text" json:"size,omitempty"`

	Plan   plan.Plan   `gorm:"type:text;not null" json:"plan"`
	Limits plan.Limits `gorm:"embedded;embeddedPrefix:limit_" json:"limits"`

	Settings      datatypes.JSONType[Settings] `gorm:"type:jsonb" json:"settings"`
	BillingStatus BillingStatus                `gorm:"type:text;column:billing_status" json:"billing_status"`

	OwnerUserID snowflake.ID `gorm:"not null;index;column:owner_user_id" json:"owner_user_id"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }
