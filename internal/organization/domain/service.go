package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsdash/internal/plan"
)

type Service interface {
	Create(ctx context.Context, ownerUserID snowflake.ID, req CreateOrganizationRequest) (*OrganizationResponse, error)
	GetByID(ctx context.Context, id string) (*OrganizationResponse, error)
	ListByUser(ctx context.Context, userID snowflake.ID) ([]OrganizationListResponseItem, error)
	Update(ctx context.Context, userID snowflake.ID, id string, req UpdateOrganizationRequest) error
	Delete(ctx context.Context, userID snowflake.ID, id string) error
	TransferOwnership(ctx context.Context, callerUserID snowflake.ID, id string, newOwnerUserID string) error
}

type CreateOrganizationRequest struct {
	Name        string
	Slug        string
	Description string
	LogoURL     string
	Website     string
	Industry    string
	Size        string
}

// UpdateOrganizationRequest carries a partial update; nil fields are
// left untouched.
type UpdateOrganizationRequest struct {
	Name        *string
	Slug        *string
	Description *string
	LogoURL     *string
	Website     *string
	Industry    *string
	Size        *string
	Plan        *string
	Settings    *Settings
}

type OrganizationResponse struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Slug          string      `json:"slug"`
	Description   string      `json:"description,omitempty"`
	LogoURL       string      `json:"logo_url,omitempty"`
	Website       string      `json:"website,omitempty"`
	Industry      string      `json:"industry,omitempty"`
	Size          string      `json:"size,omitempty"`
	Plan          string      `json:"plan"`
	Limits        plan.Limits `json:"limits"`
	BillingStatus string      `json:"billing_status"`
	OwnerUserID   string      `json:"owner_user_id"`
	Settings      Settings    `json:"settings"`
	CreatedAt     time.Time   `json:"created_at"`
}

type OrganizationListResponseItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Plan      string    `json:"plan"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidPlan         = errors.New("invalid_plan")
	ErrSlugTaken           = errors.New("slug_taken")
	ErrNotFound            = errors.New("organization_not_found")
	ErrNotOwner            = errors.New("not_owner")
	ErrNotMember           = errors.New("not_member")
)
