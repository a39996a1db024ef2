package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/opsdash/internal/authorization"
	"github.com/smallbiznis/opsdash/internal/clock"
	"github.com/smallbiznis/opsdash/internal/observability/metrics"
	"github.com/smallbiznis/opsdash/internal/organization/domain"
	"github.com/smallbiznis/opsdash/internal/organization/event"
	"github.com/smallbiznis/opsdash/internal/orglock"
	"github.com/smallbiznis/opsdash/internal/plan"
	"github.com/smallbiznis/opsdash/internal/quota"
	"github.com/smallbiznis/opsdash/internal/role"
	pkgdb "github.com/smallbiznis/opsdash/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Repo      domain.Repository
	Quota     quota.Service
	Authz     authorization.Service
	Locker    orglock.Locker
	Publisher event.EventPublisher
	Clock     clock.Clock
	GenID     *snowflake.Node
	Metrics   *metrics.Metrics `optional:"true"`
}

type service struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      domain.Repository
	quota     quota.Service
	authz     authorization.Service
	locker    orglock.Locker
	publisher event.EventPublisher
	clock     clock.Clock
	genID     *snowflake.Node
	metrics   *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		db:        p.DB,
		log:       p.Log.Named("organization.service"),
		repo:      p.Repo,
		quota:     p.Quota,
		authz:     p.Authz,
		locker:    p.Locker,
		publisher: p.Publisher,
		clock:     p.Clock,
		genID:     p.GenID,
		metrics:   p.Metrics,
	}
}

func (s *service) Create(ctx context.Context, ownerUserID snowflake.ID, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	if ownerUserID == 0 {
		return nil, domain.ErrInvalidUser
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	orgSlug := strings.TrimSpace(req.Slug)
	if orgSlug == "" {
		orgSlug = name
	}
	orgSlug = slug.Make(orgSlug)
	if orgSlug == "" {
		return nil, domain.ErrInvalidName
	}

	now := s.clock.Now()
	org := domain.Organization{
		ID:            s.genID.Generate(),
		Name:          name,
		Slug:          orgSlug,
		Description:   strings.TrimSpace(req.Description),
		LogoURL:       strings.TrimSpace(req.LogoURL),
		Website:       strings.TrimSpace(req.Website),
		Industry:      strings.TrimSpace(req.Industry),
		Size:          strings.TrimSpace(req.Size),
		Plan:          plan.Free,
		Limits:        plan.LimitsFor(plan.Free),
		Settings:      datatypes.NewJSONType(domain.Settings{}),
		BillingStatus: domain.BillingActive,
		OwnerUserID:   ownerUserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, org); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return domain.ErrSlugTaken
			}
			return err
		}
		return repo.AddOwnerMember(ctx, org.ID, ownerUserID, role.Capabilities(role.Owner).List(), now)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordOrganizationCreated(ctx, string(org.Plan))
	}
	s.emitOrgEvent(ctx, event.OrganizationCreatedTopic, org.ID, map[string]string{
		"organization_id": org.ID.String(),
		"owner_user_id":   ownerUserID.String(),
		"slug":            org.Slug,
		"plan":            string(org.Plan),
	})

	return toResponse(org), nil
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.OrganizationResponse, error) {
	orgID, err := parseOrgID(id)
	if err != nil {
		return nil, err
	}
	org, err := s.repo.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return toResponse(*org), nil
}

func (s *service) ListByUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationListResponseItem, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	items, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := make([]domain.OrganizationListResponseItem, 0, len(items))
	for _, item := range items {
		resp = append(resp, domain.OrganizationListResponseItem{
			ID:        item.ID.String(),
			Name:      item.Name,
			Slug:      item.Slug,
			Plan:      item.Plan,
			Role:      item.Role,
			CreatedAt: item.CreatedAt,
		})
	}
	return resp, nil
}

func (s *service) Update(ctx context.Context, userID snowflake.ID, id string, req domain.UpdateOrganizationRequest) error {
	orgID, err := parseOrgID(id)
	if err != nil {
		return err
	}
	if err := s.authz.Authorize(ctx, userID, orgID, role.OrgManage); err != nil {
		return err
	}

	var newPlan *plan.Plan
	if req.Plan != nil {
		parsed, ok := plan.Parse(*req.Plan)
		if !ok {
			return domain.ErrInvalidPlan
		}
		newPlan = &parsed
	}

	var newSlug string
	if req.Slug != nil {
		newSlug = slug.Make(strings.TrimSpace(*req.Slug))
		if newSlug == "" {
			return domain.ErrInvalidName
		}
	}

	release, err := s.locker.Acquire(ctx, orgID)
	if err != nil {
		return err
	}
	defer release()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		org, err := repo.Get(ctx, orgID)
		if err != nil {
			return err
		}

		applyUpdate(org, req)
		if newSlug != "" {
			org.Slug = newSlug
		}

		if newPlan != nil && *newPlan != org.Plan {
			limits := plan.LimitsFor(*newPlan)

			// Downgrades are blocked while the active roster would not
			// fit under the new ceiling.
			if limits.MaxMembers < org.Limits.MaxMembers {
				count, err := s.quota.WithTx(tx).CountActiveMembers(ctx, orgID)
				if err != nil {
					return err
				}
				if count > limits.MaxMembers {
					return quota.ErrQuotaExceeded
				}
			}

			org.Plan = *newPlan
			org.Limits = limits
		}

		org.UpdatedAt = s.clock.Now()
		if err := repo.Update(ctx, org); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return domain.ErrSlugTaken
			}
			return err
		}
		return nil
	})
}

func (s *service) Delete(ctx context.Context, userID snowflake.ID, id string) error {
	orgID, err := parseOrgID(id)
	if err != nil {
		return err
	}

	release, err := s.locker.Acquire(ctx, orgID)
	if err != nil {
		return err
	}
	defer release()

	var deleted bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		org, err := repo.Get(ctx, orgID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// Deleting an unknown organization stays a no-op.
				return nil
			}
			return err
		}
		// Ownership may have been transferred while this caller was
		// waiting on the lock, so the check runs on the locked read.
		if org.OwnerUserID != userID {
			return domain.ErrNotOwner
		}
		if err := repo.DeleteMembers(ctx, orgID); err != nil {
			return err
		}
		deleted, err = repo.Delete(ctx, orgID)
		return err
	})
	if err != nil {
		return err
	}
	if !deleted {
		return nil
	}

	if err := s.authz.PurgeOrganization(ctx, orgID); err != nil {
		s.log.Warn("failed to purge authorization groupings",
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
	}
	s.emitOrgEvent(ctx, event.OrganizationDeletedTopic, orgID, map[string]string{
		"organization_id": orgID.String(),
	})
	return nil
}

func (s *service) TransferOwnership(ctx context.Context, callerUserID snowflake.ID, id string, newOwnerUserID string) error {
	orgID, err := parseOrgID(id)
	if err != nil {
		return err
	}
	newOwnerID, err := snowflake.ParseString(strings.TrimSpace(newOwnerUserID))
	if err != nil || newOwnerID == 0 {
		return domain.ErrInvalidUser
	}

	release, err := s.locker.Acquire(ctx, orgID)
	if err != nil {
		return err
	}
	defer release()

	var oldOwnerID snowflake.ID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		org, err := repo.Get(ctx, orgID)
		if err != nil {
			return err
		}
		if org.OwnerUserID != callerUserID {
			return domain.ErrNotOwner
		}
		if newOwnerID == org.OwnerUserID {
			return nil
		}
		oldOwnerID = org.OwnerUserID

		if err := repo.SwapOwnerRoles(
			ctx, orgID, oldOwnerID, newOwnerID,
			string(role.Admin),
			role.Capabilities(role.Admin).List(),
			role.Capabilities(role.Owner).List(),
		); err != nil {
			return err
		}

		org.OwnerUserID = newOwnerID
		org.UpdatedAt = s.clock.Now()
		return repo.Update(ctx, org)
	})
	if err != nil || oldOwnerID == 0 {
		return err
	}

	for _, userID := range []snowflake.ID{oldOwnerID, newOwnerID} {
		if err := s.authz.SyncGrouping(ctx, userID, orgID); err != nil {
			s.log.Warn("failed to sync role grouping after transfer", zap.Error(err))
		}
	}
	s.emitOrgEvent(ctx, event.OwnershipTransferedTopic, orgID, map[string]string{
		"organization_id": orgID.String(),
		"old_owner_id":    oldOwnerID.String(),
		"new_owner_id":    newOwnerID.String(),
	})
	return nil
}

func applyUpdate(org *domain.Organization, req domain.UpdateOrganizationRequest) {
	if req.Name != nil {
		org.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		org.Description = strings.TrimSpace(*req.Description)
	}
	if req.LogoURL != nil {
		org.LogoURL = strings.TrimSpace(*req.LogoURL)
	}
	if req.Website != nil {
		org.Website = strings.TrimSpace(*req.Website)
	}
	if req.Industry != nil {
		org.Industry = strings.TrimSpace(*req.Industry)
	}
	if req.Size != nil {
		org.Size = strings.TrimSpace(*req.Size)
	}
	if req.Settings != nil {
		org.Settings = datatypes.NewJSONType(*req.Settings)
	}
}

func (s *service) emitOrgEvent(ctx context.Context, topic string, orgID snowflake.ID, payload map[string]string) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal org event payload", zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, topic, data); err != nil {
		s.log.Warn("failed to publish org event",
			zap.String("topic", topic),
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
	}
}

func toResponse(org domain.Organization) *domain.OrganizationResponse {
	return &domain.OrganizationResponse{
		ID:            org.ID.String(),
		Name:          org.Name,
		Slug:          org.Slug,
		Description:   org.Description,
		LogoURL:       org.LogoURL,
		Website:       org.Website,
		Industry:      org.Industry,
		Size:          org.Size,
		Plan:          string(org.Plan),
		Limits:        org.Limits,
		BillingStatus: string(org.BillingStatus),
		OwnerUserID:   org.OwnerUserID.String(),
		Settings:      org.Settings.Data(),
		CreatedAt:     org.CreatedAt,
	}
}

func parseOrgID(raw string) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, domain.ErrInvalidOrganization
	}
	id, err := snowflake.ParseString(trimmed)
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidOrganization
	}
	return id, nil
}
