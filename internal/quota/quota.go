// Package quota computes live usage against an organization's plan
// limit snapshot and gates membership growth.
package quota

import (
	"context"
	"database/sql"
	"errors"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/smallbiznis/opsdash/internal/organization/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrQuotaExceeded = errors.New("quota_exceeded")

// UsageStats is the usage report for an organization.
type UsageStats struct {
	MemberCount   int     `json:"member_count"`
	ProjectCount  int     `json:"project_count"`
	StorageUsedGB float64 `json:"storage_used_gb"`
}

// UsageSource reports project and storage consumption. Those live in
// external accounting services; the default source reports zero.
type UsageSource interface {
	ProjectCount(ctx context.Context, orgID snowflake.ID) (int, error)
	StorageUsedGB(ctx context.Context, orgID snowflake.ID) (float64, error)
}

// StubUsageSource stands in until the project/storage accounting
// services are wired up.
type StubUsageSource struct{}

func (StubUsageSource) ProjectCount(ctx context.Context, orgID snowflake.ID) (int, error) {
	return 0, nil
}

func (StubUsageSource) StorageUsedGB(ctx context.Context, orgID snowflake.ID) (float64, error) {
	return 0, nil
}

type Service interface {
	WithTx(tx *gorm.DB) Service
	CanAddMember(ctx context.Context, orgID snowflake.ID) (bool, error)
	CountActiveMembers(ctx context.Context, orgID snowflake.ID) (int, error)
	GetUsageStats(ctx context.Context, orgID snowflake.ID) (*UsageStats, error)
}

type service struct {
	db    *gorm.DB
	usage UsageSource
	log   *zap.Logger
}

func NewService(db *gorm.DB, usage UsageSource, log *zap.Logger) Service {
	return &service{
		db:    db,
		usage: usage,
		log:   log.Named("quota.service"),
	}
}

func (s *service) WithTx(tx *gorm.DB) Service {
	return &service{db: tx, usage: s.usage, log: s.log}
}

func (s *service) CanAddMember(ctx context.Context, orgID snowflake.ID) (bool, error) {
	maxMembers, err := s.maxMembers(ctx, orgID)
	if err != nil {
		return false, err
	}
	count, err := s.CountActiveMembers(ctx, orgID)
	if err != nil {
		return false, err
	}
	return count < maxMembers, nil
}

func (s *service) CountActiveMembers(ctx context.Context, orgID snowflake.ID) (int, error) {
	var count int
	err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM organization_members WHERE org_id = ? AND is_active`,
		orgID,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *service) GetUsageStats(ctx context.Context, orgID snowflake.ID) (*UsageStats, error) {
	if _, err := s.maxMembers(ctx, orgID); err != nil {
		return nil, err
	}

	memberCount, err := s.CountActiveMembers(ctx, orgID)
	if err != nil {
		return nil, err
	}

	projectCount, err := s.usage.ProjectCount(ctx, orgID)
	if err != nil {
		s.log.Warn("project usage source failed", zap.Error(err))
		projectCount = 0
	}
	storageUsed, err := s.usage.StorageUsedGB(ctx, orgID)
	if err != nil {
		s.log.Warn("storage usage source failed", zap.Error(err))
		storageUsed = 0
	}

	return &UsageStats{
		MemberCount:   memberCount,
		ProjectCount:  projectCount,
		StorageUsedGB: storageUsed,
	}, nil
}

func (s *service) maxMembers(ctx context.Context, orgID snowflake.ID) (int, error) {
	var maxMembers sql.NullInt64
	err := s.db.WithContext(ctx).Raw(
		`SELECT limit_max_members FROM organizations WHERE id = ?`,
		orgID,
	).Scan(&maxMembers).Error
	if err != nil {
		return 0, err
	}
	if !maxMembers.Valid {
		return 0, orgdomain.ErrNotFound
	}
	return int(maxMembers.Int64), nil
}
