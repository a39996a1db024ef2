package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsdash/internal/authorization"
	"github.com/smallbiznis/opsdash/internal/clock"
	"github.com/smallbiznis/opsdash/internal/membership/domain"
	"github.com/smallbiznis/opsdash/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/opsdash/internal/organization/domain"
	"github.com/smallbiznis/opsdash/internal/organization/event"
	"github.com/smallbiznis/opsdash/internal/orglock"
	"github.com/smallbiznis/opsdash/internal/providers/email"
	"github.com/smallbiznis/opsdash/internal/quota"
	"github.com/smallbiznis/opsdash/internal/role"
	"github.com/smallbiznis/opsdash/internal/userdir"
	"github.com/smallbiznis/opsdash/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 250
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Repo      domain.Repository
	OrgRepo   orgdomain.Repository
	Quota     quota.Service
	Authz     authorization.Service
	Locker    orglock.Locker
	Users     userdir.Resolver
	Mailer    email.Provider
	Publisher event.EventPublisher
	Clock     clock.Clock
	GenID     *snowflake.Node
	Metrics   *metrics.Metrics `optional:"true"`
}

type service struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      domain.Repository
	orgRepo   orgdomain.Repository
	quota     quota.Service
	authz     authorization.Service
	locker    orglock.Locker
	users     userdir.Resolver
	mailer    email.Provider
	publisher event.EventPublisher
	clock     clock.Clock
	genID     *snowflake.Node
	metrics   *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		db:        p.DB,
		log:       p.Log.Named("membership.service"),
		repo:      p.Repo,
		orgRepo:   p.OrgRepo,
		quota:     p.Quota,
		authz:     p.Authz,
		locker:    p.Locker,
		users:     p.Users,
		mailer:    p.Mailer,
		publisher: p.Publisher,
		clock:     p.Clock,
		genID:     p.GenID,
		metrics:   p.Metrics,
	}
}

func (s *service) Invite(ctx context.Context, req domain.InviteRequest) (*domain.MemberResponse, error) {
	orgID, err := parseID(req.OrgID, orgdomain.ErrInvalidOrganization)
	if err != nil {
		return nil, err
	}
	if req.InvitedBy == 0 {
		return nil, orgdomain.ErrInvalidUser
	}

	memberRole, ok := role.Parse(req.Role)
	if !ok || memberRole == role.Owner {
		return nil, domain.ErrInvalidRole
	}

	if err := s.authz.Authorize(ctx, req.InvitedBy, orgID, role.MembersInvite); err != nil {
		s.recordInvite(ctx, orgID, "denied")
		return nil, err
	}

	// Directory resolution can hit the network, so it stays outside the
	// org lock.
	invitee, err := s.users.ResolveByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}

	// Best effort; the mail template falls back to anonymous wording.
	inviterEmail := ""
	if inviter, err := s.repo.GetActiveByOrgUser(ctx, orgID, req.InvitedBy); err == nil {
		inviterEmail = inviter.Email
	}

	release, err := s.locker.Acquire(ctx, orgID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.clock.Now()
	member := domain.Member{
		ID:       s.genID.Generate(),
		OrgID:    orgID,
		UserID:   invitee.ID,
		Email:    invitee.Email,
		Role:     string(memberRole),
		IsActive: true,
		JoinedAt: now,
	}
	invitedBy := req.InvitedBy
	member.InvitedBy = &invitedBy

	perms, err := permissionsJSON(role.Capabilities(memberRole).List())
	if err != nil {
		return nil, err
	}
	member.Permissions = perms

	var org *orgdomain.Organization
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err = s.orgRepo.WithTx(tx).Get(ctx, orgID)
		if err != nil {
			return err
		}

		headroom, err := s.quota.WithTx(tx).CanAddMember(ctx, orgID)
		if err != nil {
			return err
		}
		if !headroom {
			return quota.ErrQuotaExceeded
		}

		repo := s.repo.WithTx(tx)
		if _, err := repo.GetActiveByOrgUser(ctx, orgID, invitee.ID); err == nil {
			return domain.ErrAlreadyMember
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		return repo.Insert(ctx, member)
	})
	if err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			s.recordQuotaDenied(ctx, orgID)
			s.recordInvite(ctx, orgID, "quota_exceeded")
		}
		return nil, err
	}

	s.recordInvite(ctx, orgID, "success")
	s.emitMemberEvent(ctx, event.MemberInvitedTopic, member)
	s.sendInviteMail(member, org.Name, inviterEmail)

	return toResponse(member), nil
}

func (s *service) InviteOK(ctx context.Context, req domain.InviteRequest) bool {
	_, err := s.Invite(ctx, req)
	return err == nil
}

func (s *service) UpdateRole(ctx context.Context, callerUserID snowflake.ID, memberID string, newRole string) error {
	id, err := parseID(memberID, domain.ErrInvalidMember)
	if err != nil {
		return err
	}

	parsed, ok := role.Parse(newRole)
	if !ok || parsed == role.Owner {
		return domain.ErrInvalidRole
	}

	member, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if member.Role == string(role.Owner) {
		return domain.ErrOwnerImmutable
	}
	if err := s.authz.Authorize(ctx, callerUserID, member.OrgID, role.MembersManage); err != nil {
		return err
	}

	release, err := s.locker.Acquire(ctx, member.OrgID)
	if err != nil {
		return err
	}
	defer release()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.Role == string(role.Owner) {
			return domain.ErrOwnerImmutable
		}

		perms, err := permissionsJSON(role.Capabilities(parsed).List())
		if err != nil {
			return err
		}

		// Role and its permission snapshot change together, always.
		current.Role = string(parsed)
		current.Permissions = perms
		return repo.Update(ctx, current)
	})
	if err != nil {
		return err
	}

	if err := s.authz.SyncGrouping(ctx, member.UserID, member.OrgID); err != nil {
		s.log.Warn("failed to sync role grouping", zap.Error(err))
	}
	member.Role = string(parsed)
	s.emitMemberEvent(ctx, event.MemberRoleChangedTopic, *member)
	return nil
}

func (s *service) UpdateRoleOK(ctx context.Context, callerUserID snowflake.ID, memberID string, newRole string) bool {
	return s.UpdateRole(ctx, callerUserID, memberID, newRole) == nil
}

func (s *service) Remove(ctx context.Context, callerUserID snowflake.ID, memberID string) error {
	id, err := parseID(memberID, domain.ErrInvalidMember)
	if err != nil {
		return err
	}

	member, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if member.Role == string(role.Owner) {
		return domain.ErrOwnerImmutable
	}
	if err := s.authz.Authorize(ctx, callerUserID, member.OrgID, role.MembersRemove); err != nil {
		return err
	}

	release, err := s.locker.Acquire(ctx, member.OrgID)
	if err != nil {
		return err
	}
	defer release()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.Role == string(role.Owner) {
			return domain.ErrOwnerImmutable
		}
		return repo.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	if err := s.authz.SyncGrouping(ctx, member.UserID, member.OrgID); err != nil {
		s.log.Warn("failed to sync role grouping", zap.Error(err))
	}
	s.emitMemberEvent(ctx, event.MemberRemovedTopic, *member)
	return nil
}

func (s *service) Deactivate(ctx context.Context, callerUserID snowflake.ID, memberID string) error {
	id, err := parseID(memberID, domain.ErrInvalidMember)
	if err != nil {
		return err
	}

	member, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if member.Role == string(role.Owner) {
		return domain.ErrOwnerImmutable
	}
	if err := s.authz.Authorize(ctx, callerUserID, member.OrgID, role.MembersManage); err != nil {
		return err
	}

	release, err := s.locker.Acquire(ctx, member.OrgID)
	if err != nil {
		return err
	}
	defer release()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !current.IsActive {
			return nil
		}
		if current.Role == string(role.Owner) {
			return domain.ErrOwnerImmutable
		}
		current.IsActive = false
		return repo.Update(ctx, current)
	})
	if err != nil {
		return err
	}

	if err := s.authz.SyncGrouping(ctx, member.UserID, member.OrgID); err != nil {
		s.log.Warn("failed to sync role grouping", zap.Error(err))
	}
	return nil
}

func (s *service) Reactivate(ctx context.Context, callerUserID snowflake.ID, memberID string) error {
	id, err := parseID(memberID, domain.ErrInvalidMember)
	if err != nil {
		return err
	}

	member, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authz.Authorize(ctx, callerUserID, member.OrgID, role.MembersManage); err != nil {
		return err
	}

	release, err := s.locker.Acquire(ctx, member.OrgID)
	if err != nil {
		return err
	}
	defer release()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.IsActive {
			return nil
		}

		// Another active membership may have been created for the same
		// user while this one was dormant.
		if _, err := repo.GetActiveByOrgUser(ctx, current.OrgID, current.UserID); err == nil {
			return domain.ErrAlreadyMember
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		headroom, err := s.quota.WithTx(tx).CanAddMember(ctx, current.OrgID)
		if err != nil {
			return err
		}
		if !headroom {
			return quota.ErrQuotaExceeded
		}

		current.IsActive = true
		return repo.Update(ctx, current)
	})
	if err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			s.recordQuotaDenied(ctx, member.OrgID)
		}
		return err
	}

	if err := s.authz.SyncGrouping(ctx, member.UserID, member.OrgID); err != nil {
		s.log.Warn("failed to sync role grouping", zap.Error(err))
	}
	return nil
}

func (s *service) Get(ctx context.Context, memberID string) (*domain.MemberResponse, error) {
	id, err := parseID(memberID, domain.ErrInvalidMember)
	if err != nil {
		return nil, err
	}
	member, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return toResponse(*member), nil
}

func (s *service) ListByOrg(ctx context.Context, req domain.ListMembersRequest) (*domain.ListMembersResponse, error) {
	orgID, err := parseID(req.OrgID, orgdomain.ErrInvalidOrganization)
	if err != nil {
		return nil, err
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	var afterID snowflake.ID
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return nil, domain.ErrInvalidMember
		}
		if cursor.ID != "" {
			afterID, err = snowflake.ParseString(cursor.ID)
			if err != nil {
				return nil, domain.ErrInvalidMember
			}
		}
	}

	members, err := s.repo.ListActiveByOrg(ctx, orgID, afterID, limit+1)
	if err != nil {
		return nil, err
	}

	page, pageInfo := pagination.BuildPageInfo(members, limit, func(m domain.Member) string {
		return m.ID.String()
	})

	resp := &domain.ListMembersResponse{
		Members:  make([]domain.MemberResponse, 0, len(page)),
		PageInfo: pageInfo,
	}
	for _, member := range page {
		resp.Members = append(resp.Members, *toResponse(member))
	}
	return resp, nil
}

func (s *service) TouchLastActive(ctx context.Context, orgID, userID snowflake.ID, at time.Time) error {
	return s.db.WithContext(ctx).Exec(
		`UPDATE organization_members SET last_active_at = ?
		 WHERE org_id = ? AND user_id = ? AND is_active`,
		at, orgID, userID,
	).Error
}

func (s *service) sendInviteMail(member domain.Member, orgName, inviterEmail string) {
	mail := email.InviteMail{
		To:           member.Email,
		OrgName:      orgName,
		RoleName:     member.Role,
		InviterEmail: inviterEmail,
	}

	// Fire and forget; delivery never holds the org lock or the caller.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.mailer.SendMemberInvite(ctx, mail); err != nil {
			s.log.Warn("failed to send invite mail",
				zap.String("org_id", member.OrgID.String()),
				zap.Error(err),
			)
		}
	}()
}

func (s *service) emitMemberEvent(ctx context.Context, topic string, member domain.Member) {
	if s.publisher == nil {
		return
	}

	payload := map[string]string{
		"organization_id": member.OrgID.String(),
		"member_id":       member.ID.String(),
		"user_id":         member.UserID.String(),
		"role":            member.Role,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal member event payload", zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, topic, data); err != nil {
		s.log.Warn("failed to publish member event", zap.String("topic", topic), zap.Error(err))
	}
}

func (s *service) recordInvite(ctx context.Context, orgID snowflake.ID, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordMemberInvite(ctx, orgID.String(), result)
}

func (s *service) recordQuotaDenied(ctx context.Context, orgID snowflake.ID) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordQuotaDenied(ctx, orgID.String(), "members")
}

func toResponse(member domain.Member) *domain.MemberResponse {
	resp := &domain.MemberResponse{
		ID:           member.ID.String(),
		OrgID:        member.OrgID.String(),
		UserID:       member.UserID.String(),
		Email:        member.Email,
		Role:         member.Role,
		Permissions:  decodePermissions(member.Permissions),
		IsActive:     member.IsActive,
		JoinedAt:     member.JoinedAt,
		LastActiveAt: member.LastActiveAt,
	}
	if member.InvitedBy != nil {
		resp.InvitedBy = member.InvitedBy.String()
	}
	return resp
}

func decodePermissions(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var perms []string
	if err := json.Unmarshal(raw, &perms); err != nil {
		return nil
	}
	return perms
}

func permissionsJSON(permissions []string) (datatypes.JSON, error) {
	raw, err := json.Marshal(permissions)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func parseID(raw string, invalid error) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, invalid
	}
	id, err := snowflake.ParseString(trimmed)
	if err != nil || id == 0 {
		return 0, invalid
	}
	return id, nil
}
