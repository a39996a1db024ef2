// Package seed bootstraps a default organization for first-run and
// self-hosted installs.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	orgdomain "github.com/smallbiznis/opsdash/internal/organization/domain"
	"github.com/smallbiznis/opsdash/internal/plan"
	"github.com/smallbiznis/opsdash/internal/role"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EnsureDefaultOrg creates the named organization with ownerID as its
// owner unless an organization with that slug already exists.
func EnsureDefaultOrg(db *gorm.DB, node *snowflake.Node, name string, ownerID snowflake.ID) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if ownerID == 0 {
		return errors.New("seed owner id is required")
	}

	orgSlug := slug.Make(name)
	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing orgdomain.Organization
		err := tx.WithContext(ctx).Where("slug = ?", orgSlug).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		org := orgdomain.Organization{
			ID:            node.Generate(),
			Name:          name,
			Slug:          orgSlug,
			Plan:          plan.Free,
			Limits:        plan.LimitsFor(plan.Free),
			Settings:      datatypes.NewJSONType(orgdomain.Settings{}),
			BillingStatus: orgdomain.BillingActive,
			OwnerUserID:   ownerID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.WithContext(ctx).Create(&org).Error; err != nil {
			return err
		}

		return tx.WithContext(ctx).Exec(
			`INSERT INTO organization_members (id, org_id, user_id, role, permissions, is_active, joined_at)
			 VALUES (?, ?, ?, ?, ?, true, ?)`,
			node.Generate(), org.ID, ownerID, string(role.Owner), datatypes.JSON(`["*"]`), now,
		).Error
	})
}
