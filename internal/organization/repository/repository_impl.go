package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsdash/internal/organization/domain"
	"github.com/smallbiznis/opsdash/internal/role"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repository struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewRepository(db *gorm.DB, genID *snowflake.Node) domain.Repository {
	return &repository{db: db, genID: genID}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx, genID: r.genID}
}

func (r *repository) Create(ctx context.Context, org domain.Organization) error {
	return r.db.WithContext(ctx).Create(&org).Error
}

func (r *repository) Get(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).First(&org, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &org, nil
}

func (r *repository) Update(ctx context.Context, org *domain.Organization) error {
	return r.db.WithContext(ctx).Save(org).Error
}

func (r *repository) Delete(ctx context.Context, id snowflake.ID) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`DELETE FROM organizations WHERE id = ?`, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ListByUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationListItem, error) {
	var items []domain.OrganizationListItem
	err := r.db.WithContext(ctx).Raw(
		`SELECT o.id, o.name, o.slug, o.plan, m.role, o.created_at
		 FROM organizations o
		 JOIN organization_members m ON m.org_id = o.id
		 WHERE m.user_id = ? AND m.is_active
		 ORDER BY o.created_at ASC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}

	return items, nil
}

func (r *repository) AddOwnerMember(ctx context.Context, orgID, userID snowflake.ID, permissions []string, now time.Time) error {
	perms, err := permissionsJSON(permissions)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO organization_members (id, org_id, user_id, role, permissions, is_active, joined_at)
		 VALUES (?, ?, ?, ?, ?, true, ?)`,
		r.genID.Generate(),
		orgID,
		userID,
		string(role.Owner),
		perms,
		now,
	).Error
}

func (r *repository) DeleteMembers(ctx context.Context, orgID snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(
		`DELETE FROM organization_members WHERE org_id = ?`, orgID,
	).Error
}

func (r *repository) SwapOwnerRoles(ctx context.Context, orgID, oldOwnerID, newOwnerID snowflake.ID, demotedRole string, demotedPerms []string, ownerPerms []string) error {
	demoted, err := permissionsJSON(demotedPerms)
	if err != nil {
		return err
	}
	promoted, err := permissionsJSON(ownerPerms)
	if err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Exec(
		`UPDATE organization_members SET role = ?, permissions = ?
		 WHERE org_id = ? AND user_id = ? AND is_active`,
		demotedRole, demoted, orgID, oldOwnerID,
	).Error; err != nil {
		return err
	}

	res := r.db.WithContext(ctx).Exec(
		`UPDATE organization_members SET role = ?, permissions = ?
		 WHERE org_id = ? AND user_id = ? AND is_active`,
		string(role.Owner), promoted, orgID, newOwnerID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotMember
	}
	return nil
}

func permissionsJSON(permissions []string) (datatypes.JSON, error) {
	raw, err := json.Marshal(permissions)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
