package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsdash/internal/authorization"
	"github.com/smallbiznis/opsdash/internal/clock"
	"github.com/smallbiznis/opsdash/internal/membership/domain"
	memrepo "github.com/smallbiznis/opsdash/internal/membership/repository"
	orgrepo "github.com/smallbiznis/opsdash/internal/organization/repository"
	"github.com/smallbiznis/opsdash/internal/orglock"
	"github.com/smallbiznis/opsdash/internal/providers/email"
	"github.com/smallbiznis/opsdash/internal/quota"
	"github.com/smallbiznis/opsdash/internal/role"
	"github.com/smallbiznis/opsdash/internal/userdir"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	svc    domain.Service
	authz  authorization.Service
	db     *gorm.DB
	node   *snowflake.Node
	clock  *clock.FakeClock
	mailer *recordingMailer
}

// recordingMailer captures invite mail on a channel so tests can wait
// for the asynchronous send.
type recordingMailer struct {
	invites chan email.InviteMail
}

func (m *recordingMailer) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return nil
}

func (m *recordingMailer) SendMemberInvite(ctx context.Context, mail email.InviteMail) error {
	m.invites <- mail
	return nil
}

func setupMembership(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	prepareSchema(t, db)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	enforcer, err := authorization.NewEnforcer(db)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	authz := authorization.NewService(authorization.Params{
		DB:       db,
		Log:      zap.NewNop(),
		Enforcer: enforcer,
	})

	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	mailer := &recordingMailer{invites: make(chan email.InviteMail, 8)}
	svc := NewService(Params{
		DB:      db,
		Log:     zap.NewNop(),
		Repo:    memrepo.NewRepository(db),
		OrgRepo: orgrepo.NewRepository(db, node),
		Quota:   quota.NewService(db, quota.StubUsageSource{}, zap.NewNop()),
		Authz:   authz,
		Locker:  orglock.NewMemoryLocker(2 * time.Second),
		Users:   userdir.NewMemoryResolver(node),
		Mailer:  mailer,
		Clock:   clk,
		GenID:   node,
	})

	return &testEnv{svc: svc, authz: authz, db: db, node: node, clock: clk, mailer: mailer}
}

func prepareSchema(t *testing.T, db *gorm.DB) {
	t.Helper()

	statements := []string{
		`CREATE TABLE organizations (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL,
			description TEXT,
			logo_url TEXT,
			website TEXT,
			industry TEXT,
			size TEXT,
			plan TEXT NOT NULL,
			limit_max_members INTEGER NOT NULL,
			limit_max_projects INTEGER NOT NULL,
			limit_storage_limit_gb REAL NOT NULL,
			settings TEXT,
			billing_status TEXT,
			owner_user_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_organizations_slug ON organizations(slug)`,
		`CREATE TABLE organization_members (
			id INTEGER PRIMARY KEY,
			org_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			email TEXT,
			role TEXT NOT NULL,
			permissions TEXT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			invited_by INTEGER,
			joined_at DATETIME NOT NULL,
			last_active_at DATETIME
		)`,
		`CREATE UNIQUE INDEX ux_members_active ON organization_members(org_id, user_id) WHERE is_active`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
}

func seedOrg(t *testing.T, env *testEnv, ownerID snowflake.ID, maxMembers int) snowflake.ID {
	t.Helper()

	orgID := env.node.Generate()
	now := env.clock.Now()
	if err := env.db.Exec(
		`INSERT INTO organizations (id, name, slug, plan, limit_max_members, limit_max_projects, limit_storage_limit_gb, billing_status, owner_user_id, created_at, updated_at)
		 VALUES (?, ?, ?, 'free', ?, 1, 1, 'active', ?, ?, ?)`,
		orgID, fmt.Sprintf("Org %s", orgID), fmt.Sprintf("org-%s", orgID), maxMembers, ownerID, now, now,
	).Error; err != nil {
		t.Fatalf("seed org: %v", err)
	}
	if err := env.db.Exec(
		`INSERT INTO organization_members (id, org_id, user_id, email, role, permissions, is_active, joined_at)
		 VALUES (?, ?, ?, ?, 'owner', '["*"]', TRUE, ?)`,
		env.node.Generate(), orgID, ownerID, ownerEmail(ownerID), now,
	).Error; err != nil {
		t.Fatalf("seed owner member: %v", err)
	}
	return orgID
}

func ownerEmail(ownerID snowflake.ID) string {
	return fmt.Sprintf("owner-%s@example.com", ownerID)
}

func countActive(t *testing.T, db *gorm.DB, orgID snowflake.ID) int {
	t.Helper()
	var count int
	if err := db.Raw(
		`SELECT COUNT(*) FROM organization_members WHERE org_id = ? AND is_active`, orgID,
	).Scan(&count).Error; err != nil {
		t.Fatalf("count members: %v", err)
	}
	return count
}

func TestInviteCreatesActiveMember(t *testing.T) {
	env := setupMembership(t)
	ownerID := env.node.Generate()
	orgID := seedOrg(t, env, ownerID, 3)

	ctx := context.Background()
	resp, err := env.svc.Invite(ctx, domain.InviteRequest{
		OrgID:     orgID.String(),
		Email:     "dana@example.com",
		Role:      "manager",
		InvitedBy: ownerID,
	})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}

	if !resp.IsActive {
		t.Fatal("expected invited member to be active")
	}
	if resp.Role != "manager" {
		t.Fatalf("expected manager role, got %s", resp.Role)
	}
	if resp.InvitedBy != ownerID.String() {
		t.Fatalf("expected inviter %s, got %s", ownerID, resp.InvitedBy)
	}

	want := role.Capabilities(role.Manager).List()
	if len(resp.Permissions) != len(want) {
		t.Fatalf("expected %d permissions, got %d", len(want), len(resp.Permissions))
	}
	for i, capability := range want {
		if resp.Permissions[i] != capability {
			t.Fatalf("permission %d: expected %s, got %s", i, capability, resp.Permissions[i])
		}
	}

	if count := countActive(t, env.db, orgID); count != 2 {
		t.Fatalf("expected 2 active members, got %d", count)
	}
}

func TestInviteMailNamesInviter(t *testing.T) {
	env := setupMembership(t)
	ownerID := env.node.Generate()
	orgID := seedOrg(t, env, ownerID, 3)

	ctx := context.Background()
	if _, err := env.svc.Invite(ctx, domain.InviteRequest{
		OrgID:     orgID.String(),
		Email:     "newcomer@example.com",
		Role:      "analyst",
		InvitedBy: ownerID,
	}); err != nil {
		t.Fatalf("invite: %v", err)
	}

	// The mail goes out on a goroutine after the invite commits.
	var mail email.InviteMail
	select {
	case mail = <-env.mailer.invites:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for invite mail")
	}

	if mail.To != "newcomer@example.com" {
		t.Fatalf("expected mail to newcomer@example.com, got %s", mail.To)
	}
	if mail.RoleName != "analyst" {
		t.Fatalf("expected role analyst, got %s", mail.RoleName)
	}
	if mail.InviterEmail != ownerEmail(ownerID) {
		t.Fatalf("expected inviter %s, got %q", ownerEmail(ownerID), mail.InviterEmail)
	}
}

func TestInviteQuotaCeiling(t *testing.T) {
	env := setupMembership(t)
	ownerID := env.node.Generate()
	orgID := seedOrg(t, env, ownerID, 3)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if ok := env.svc.InviteOK(ctx, domain.InviteRequest{
			OrgID:     orgID.String(),
			Email:     fmt.Sprintf("member%d@example.com", i),
			Role:      "viewer",
			InvitedBy: ownerID,
		}); !ok {
			t.Fatalf("invite %d should succeed", i)
		}
	}

	if count := countActive(t, env.db, orgID); count != 3 {
		t.Fatalf("expected 3 active members, got %d", count)
	}

	_, err := env.svc.Invite(ctx, domain.InviteRequest{
		OrgID:     orgID.String(),
		Email:     "overflow@example.com",
		Role:      "viewer",
		InvitedBy: ownerID,
	})
	if err != quota.ErrQuotaExceeded {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	if count := countActive(t, env.db, orgID); count != 3 {
		t.Fatalf("expected member count to stay at 3, got %d", count)
	}
}

func TestViewerCannotInviteDespiteHeadroom(t *testing.T) {
	env := setupMembership(t)
	ownerID := env.node.Generate()
	orgID := seedOrg(t, env, ownerID, 25)

	ctx := context.Background()
	resp, err := env.svc.Invite(ctx, domain.InviteRequest{
		OrgID:     orgID.String(),
		Email:     "watcher@example.com",
		Role:      "viewer",
		InvitedBy: ownerID,
	})
	if err != nil {
		t.Fatalf("invite viewer: %v", err)
	}

	viewerID, err := snowflake.ParseString(resp.UserID)
	if err != nil {
		t.Fatalf("parse viewer id: %v", err)
	}

	_, err = env.svc.Invite(ctx, domain.InviteRequest{
		OrgID:     orgID.String(),
		Email:     "friend@example.com",
		Role:      "viewer",
		InvitedBy: viewerID,
	})
	if err != authorization.ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestInviteRejectsInvalidRole(t *testing.T) {
	env := setupMembership(t)
	ownerID := env.node.Generate()
	orgID := seedOrg(t, env, ownerID, 3)

	ctx := context.Background()
	for _, raw := range []string{"superadmin", "owner", ""} {
		_, err := env.svc.Invite(ctx, domain.InviteRequest{
			OrgID:     orgID.String(),
			Email:     "someone@example.com",
			Role:      raw,
			InvitedBy: ownerID,
		})
		if err != domain.ErrInvalidRole {
			t.Fatalf("role %q: expected ErrInvalidRole, got %v", raw, err)
		}
	}
}

func TestInviteRejectsDuplicateActiveMember(t *testing.T) {
	env := setupMembership(t)
	ownerID := env.node.Generate()
	orgID := seedOrg(t, env, ownerID, 25)

	ctx := context.Background()
	req := domain.InviteRequest{
		OrgID:     orgID.String(),
		Email:     "dup@example.com",
		Role:      "analyst",
		InvitedBy: ownerID,
	}
	if _, err := env.svc.Invite(ctx, req); err != nil {
		t.Fatalf("first invite: %v", err)
	}
	if _, err := env.svc.Invite(ctx, req); err != domain.ErrAlreadyMember {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}
}

func TestUpdateRoleInvalidLeavesMemberUnchanged(t *testing.T) {
	env := setupMembership(t)
	ownerID := env.node.Generate()
	orgID := seedOrg(t, env, ownerID, 25)

	ctx := context.Background()
	resp, err := env.svc.Invite(ctx, domain.InviteRequest{
		OrgID:     orgID.String(),
		Email:     "stable@example.com",
		Role:      "manager",
		InvitedBy: ownerID,
	})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}

	if ok := env.svc.UpdateRoleOK(ctx, ownerID, resp.ID, "superadmin"); ok {
		t.Fatal("expected invalid role update to fail")
	}

	after, err := env.svc.Get(ctx, resp.ID)
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if after.Role != resp.Role {
		t.Fatalf("role changed: %s -> %s", resp.Role, after.Role)
	}
	if len(after.Permissions) != len(resp.Permissions) {
		t.Fatalf("permissions changed: %v -> %v", resp.Permissions, after.Permissions)
	}
}

func TestUpdateRoleSwapsSnapshotAtomically(t *testing.T) {
	env := setupMembership(t)
	ownerID := env.node.Generate()
	orgID := seedOrg(t, env, ownerID, 25)

	ctx := context.Background()
	resp, err := env.svc.Invite(ctx, domain.InviteRequest{
		OrgID:     orgID.String(),
		Email:     "promote@example.com",
		Role:      "viewer",
		InvitedBy: ownerID,
	})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}

	if err := env.svc.UpdateRole(ctx, ownerID, resp.ID, "admin"); err != nil {
		t.Fatalf("update role: %v", err)
	}

	after, err := env.svc.Get(ctx, resp.ID)
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if after.Role != "admin" {
		t.Fatalf("expected admin, got %s", after.Role)
	}
	want := role.Capabilities(role.Admin).List()
	if len(after.Permissions) != len(want) {
		t.Fatalf("expected %d permissions, got %d", len(want), len(after.Permissions))
	}

	userID, err := snowflake.ParseString(after.UserID)
	if err != nil {
		t.Fatalf("parse user id: %v", err)
	}
	allowed, err := env.authz.HasPermission(ctx, userID, orgID, role.MembersRemove)
	if err != nil {
		t.Fatalf("has permission: %v", err)
	}
	if !allowed {
		t.Fatal("expected promoted member to gain members.remove")
	}
}

func TestOwnerMembershipIsImmutable(t *testing.T) {
	env := setupMembership(t)
	ownerID := env.node.Generate()
	orgID := seedOrg(t, env, ownerID, 25)

	var ownerMemberID snowflake.ID
	if err := env.db.Raw(
		`SELECT id FROM organization_members WHERE org_id = ? AND role = 'owner'`, orgID,
	).Scan(&ownerMemberID).Error; err != nil {
		t.Fatalf("lookup owner member: %v", err)
	}

	ctx := context.Background()
	if err := env.svc.UpdateRole(ctx, ownerID, ownerMemberID.String(), "viewer"); err != domain.ErrOwnerImmutable {
		t.Fatalf("update role on owner: expected ErrOwnerImmutable, got %v", err)
	}
	if err := env.svc.Remove(ctx, ownerID, ownerMemberID.String()); err != domain.ErrOwnerImmutable {
		t.Fatalf("remove owner: expected ErrOwnerImmutable, got %v", err)
	}
	if err := env.svc.Deactivate(ctx, ownerID, ownerMemberID.String()); err != domain.ErrOwnerImmutable {
		t.Fatalf("deactivate owner: expected ErrOwnerImmutable, got %v", err)
	}

	if count := countActive(t, env.db, orgID); count != 1 {
		t.Fatalf("expected owner membership intact, got %d active members", count)
	}
}

func TestDeactivateIsIdempotentAndRevokesAccess(t *testing.T) {
	env := setupMembership(t)
	ownerID := env.node.Generate()
	orgID := seedOrg(t, env, ownerID, 25)

	ctx := context.Background()
	resp, err := env.svc.Invite(ctx, domain.InviteRequest{
		OrgID:     orgID.String(),
		Email:     "dormant@example.com",
		Role:      "analyst",
		InvitedBy: ownerID,
	})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}

	if err := env.svc.Deactivate(ctx, ownerID, resp.ID); err != nil {
		t.Fatalf("first deactivate: %v", err)
	}
	if err := env.svc.Deactivate(ctx, ownerID, resp.ID); err != nil {
		t.Fatalf("second deactivate should be a no-op, got %v", err)
	}

	after, err := env.svc.Get(ctx, resp.ID)
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if after.IsActive {
		t.Fatal("expected member to stay inactive")
	}

	userID, err := snowflake.ParseString(resp.UserID)
	if err != nil {
		t.Fatalf("parse user id: %v", err)
	}
	allowed, err := env.authz.HasPermission(ctx, userID, orgID, role.AnalyticsView)
	if err != nil {
		t.Fatalf("has permission: %v", err)
	}
	if allowed {
		t.Fatal("expected deactivated member to lose permissions")
	}

	list, err := env.svc.ListByOrg(ctx, domain.ListMembersRequest{OrgID: orgID.String()})
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	for _, member := range list.Members {
		if member.ID == resp.ID {
			t.Fatal("expected deactivated member to be excluded from active listing")
		}
	}
}

func TestReactivateRechecksQuota(t *testing.T) {
	env := setupMembership(t)
	ownerID := env.node.Generate()
	orgID := seedOrg(t, env, ownerID, 3)

	ctx := context.Background()
	first, err := env.svc.Invite(ctx, domain.InviteRequest{
		OrgID:     orgID.String(),
		Email:     "first@example.com",
		Role:      "viewer",
		InvitedBy: ownerID,
	})
	if err != nil {
		t.Fatalf("invite first: %v", err)
	}
	if _, err := env.svc.Invite(ctx, domain.InviteRequest{
		OrgID:     orgID.String(),
		Email:     "second@example.com",
		Role:      "viewer",
		InvitedBy: ownerID,
	}); err != nil {
		t.Fatalf("invite second: %v", err)
	}

	if err := env.svc.Deactivate(ctx, ownerID, first.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := env.svc.Invite(ctx, domain.InviteRequest{
		OrgID:     orgID.String(),
		Email:     "third@example.com",
		Role:      "viewer",
		InvitedBy: ownerID,
	}); err != nil {
		t.Fatalf("invite third after freeing a slot: %v", err)
	}

	if err := env.svc.Reactivate(ctx, ownerID, first.ID); err != quota.ErrQuotaExceeded {
		t.Fatalf("expected ErrQuotaExceeded on reactivate, got %v", err)
	}
	if count := countActive(t, env.db, orgID); count != 3 {
		t.Fatalf("expected 3 active members, got %d", count)
	}
}

func TestRemoveHardDeletesMember(t *testing.T) {
	env := setupMembership(t)
	ownerID := env.node.Generate()
	orgID := seedOrg(t, env, ownerID, 25)

	ctx := context.Background()
	resp, err := env.svc.Invite(ctx, domain.InviteRequest{
		OrgID:     orgID.String(),
		Email:     "leaver@example.com",
		Role:      "manager",
		InvitedBy: ownerID,
	})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}

	if err := env.svc.Remove(ctx, ownerID, resp.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := env.svc.Get(ctx, resp.ID); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
	if count := countActive(t, env.db, orgID); count != 1 {
		t.Fatalf("expected 1 active member, got %d", count)
	}
}

func TestListByOrgPaginates(t *testing.T) {
	env := setupMembership(t)
	ownerID := env.node.Generate()
	orgID := seedOrg(t, env, ownerID, 25)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := env.svc.Invite(ctx, domain.InviteRequest{
			OrgID:     orgID.String(),
			Email:     fmt.Sprintf("page%d@example.com", i),
			Role:      "viewer",
			InvitedBy: ownerID,
		}); err != nil {
			t.Fatalf("invite %d: %v", i, err)
		}
	}

	seen := make(map[string]struct{})
	token := ""
	pages := 0
	for {
		req := domain.ListMembersRequest{OrgID: orgID.String()}
		req.PageSize = 2
		req.PageToken = token

		page, err := env.svc.ListByOrg(ctx, req)
		if err != nil {
			t.Fatalf("list page %d: %v", pages, err)
		}
		for _, member := range page.Members {
			if _, dup := seen[member.ID]; dup {
				t.Fatalf("member %s returned twice", member.ID)
			}
			seen[member.ID] = struct{}{}
		}
		pages++
		if page.PageInfo == nil || !page.PageInfo.HasMore {
			break
		}
		token = page.PageInfo.NextPageToken
	}

	if len(seen) != 6 {
		t.Fatalf("expected 6 members across pages, got %d", len(seen))
	}
	if pages < 3 {
		t.Fatalf("expected at least 3 pages, got %d", pages)
	}
}

func TestConcurrentInvitesNeverExceedQuota(t *testing.T) {
	env := setupMembership(t)
	ownerID := env.node.Generate()
	orgID := seedOrg(t, env, ownerID, 3)

	ctx := context.Background()
	var wg sync.WaitGroup
	results := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results <- env.svc.InviteOK(ctx, domain.InviteRequest{
				OrgID:     orgID.String(),
				Email:     fmt.Sprintf("race%d@example.com", n),
				Role:      "viewer",
				InvitedBy: ownerID,
			})
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for ok := range results {
		if ok {
			succeeded++
		}
	}
	if succeeded != 2 {
		t.Fatalf("expected exactly 2 invites to succeed, got %d", succeeded)
	}
	if count := countActive(t, env.db, orgID); count != 3 {
		t.Fatalf("quota invariant violated: %d active members", count)
	}
}
