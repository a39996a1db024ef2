package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/opsdash/internal/observability/metrics"
	"github.com/smallbiznis/opsdash/internal/role"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	Metrics  *metrics.Metrics `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	metrics  *metrics.Metrics
}

// NewEnforcer builds the enforcer with policies persisted through the
// gorm adapter and seeds the role catalog.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		metrics:  p.Metrics,
	}
}

func (s *ServiceImpl) GetUserRole(ctx context.Context, userID, orgID snowflake.ID) (role.Role, bool, error) {
	if userID == 0 {
		return "", false, ErrInvalidUser
	}
	if orgID == 0 {
		return "", false, ErrInvalidOrganization
	}

	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM organization_members
		 WHERE org_id = ? AND user_id = ? AND is_active = ?
		 LIMIT 1`,
		orgID,
		userID,
		true,
	).Scan(&row).Error; err != nil {
		return "", false, err
	}

	r, ok := role.Parse(row.Role)
	if !ok {
		return "", false, nil
	}
	return r, true, nil
}

func (s *ServiceImpl) HasPermission(ctx context.Context, userID, orgID snowflake.ID, capability role.Capability) (bool, error) {
	memberRole, ok, err := s.GetUserRole(ctx, userID, orgID)
	if err != nil {
		return false, err
	}
	if !ok {
		s.recordDecision(ctx, orgID, "deny")
		return false, nil
	}

	subject := subjectForUser(userID)
	domain := domainForOrg(orgID)
	if err := s.ensureGrouping(subject, roleSubject(memberRole), domain); err != nil {
		return false, err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, capability.Area(), capability.Action())
	if err != nil {
		return false, err
	}
	if allowed {
		s.recordDecision(ctx, orgID, "allow")
	} else {
		s.recordDecision(ctx, orgID, "deny")
	}
	return allowed, nil
}

func (s *ServiceImpl) CanInviteMembers(ctx context.Context, userID, orgID snowflake.ID) (bool, error) {
	return s.HasPermission(ctx, userID, orgID, role.MembersInvite)
}

func (s *ServiceImpl) Authorize(ctx context.Context, userID, orgID snowflake.ID, capability role.Capability) error {
	allowed, err := s.HasPermission(ctx, userID, orgID, capability)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("permission denied",
			zap.String("user_id", userID.String()),
			zap.String("org_id", orgID.String()),
			zap.String("capability", string(capability)),
		)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) SyncGrouping(ctx context.Context, userID, orgID snowflake.ID) error {
	memberRole, ok, err := s.GetUserRole(ctx, userID, orgID)
	if err != nil {
		return err
	}
	subject := subjectForUser(userID)
	domain := domainForOrg(orgID)
	if !ok {
		_, err := s.enforcer.RemoveFilteredGroupingPolicy(0, subject, "", domain)
		return err
	}
	return s.ensureGrouping(subject, roleSubject(memberRole), domain)
}

func (s *ServiceImpl) PurgeOrganization(ctx context.Context, orgID snowflake.ID) error {
	if orgID == 0 {
		return ErrInvalidOrganization
	}
	_, err := s.enforcer.RemoveFilteredGroupingPolicy(2, domainForOrg(orgID))
	return err
}

// ensureGrouping keeps exactly one role grouping per user per domain,
// replacing stale entries left by role changes.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) recordDecision(ctx context.Context, orgID snowflake.ID, decision string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordAccessDecision(ctx, orgID.String(), decision)
}

func subjectForUser(userID snowflake.ID) string {
	return fmt.Sprintf("user:%s", userID.String())
}

func domainForOrg(orgID snowflake.ID) string {
	return fmt.Sprintf("org:%s", orgID.String())
}

func roleSubject(r role.Role) string {
	return fmt.Sprintf("role:%s", strings.ToLower(string(r)))
}

// seedPolicies mirrors the role catalog into the enforcer. The owner
// role gets the wildcard rule so new capability areas are covered
// without a reseed.
func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	var policies [][]string
	for _, r := range role.All() {
		caps := role.Capabilities(r)
		if caps.IsWildcard() {
			policies = append(policies, []string{roleSubject(r), "*", "*", "*"})
			continue
		}
		for _, grant := range caps.List() {
			capability := role.Capability(grant)
			policies = append(policies, []string{roleSubject(r), "*", capability.Area(), capability.Action()})
		}
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
