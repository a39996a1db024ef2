package authorization

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsdash/internal/role"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupAuthz(t *testing.T) (Service, *gorm.DB, *snowflake.Node) {
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

	if err := db.Exec(`CREATE TABLE organization_members (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		permissions TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		invited_by INTEGER,
		joined_at DATETIME,
		last_active_at DATETIME
	)`).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}

	enforcer, err := NewEnforcer(db)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Enforcer: enforcer,
	})
	return svc, db, node
}

func seedMember(t *testing.T, db *gorm.DB, node *snowflake.Node, orgID, userID snowflake.ID, r role.Role, active bool) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO organization_members (id, org_id, user_id, role, is_active) VALUES (?, ?, ?, ?, ?)`,
		node.Generate(), orgID, userID, string(r), active,
	).Error; err != nil {
		t.Fatalf("seed member: %v", err)
	}
}

func TestOwnerHasEveryCapability(t *testing.T) {
	svc, db, node := setupAuthz(t)
	orgID := node.Generate()
	ownerID := node.Generate()
	seedMember(t, db, node, orgID, ownerID, role.Owner, true)

	ctx := context.Background()
	for _, capability := range []role.Capability{
		role.OrgManage,
		role.MembersInvite,
		role.SecurityConfigure,
		role.ComplianceManage,
	} {
		allowed, err := svc.HasPermission(ctx, ownerID, orgID, capability)
		if err != nil {
			t.Fatalf("has permission %s: %v", capability, err)
		}
		if !allowed {
			t.Fatalf("expected owner to hold %s", capability)
		}
	}
}

func TestViewerCannotInvite(t *testing.T) {
	svc, db, node := setupAuthz(t)
	orgID := node.Generate()
	viewerID := node.Generate()
	seedMember(t, db, node, orgID, viewerID, role.Viewer, true)

	ctx := context.Background()
	allowed, err := svc.CanInviteMembers(ctx, viewerID, orgID)
	if err != nil {
		t.Fatalf("can invite: %v", err)
	}
	if allowed {
		t.Fatal("expected viewer to be denied members.invite")
	}

	allowed, err = svc.HasPermission(ctx, viewerID, orgID, role.AnalyticsView)
	if err != nil {
		t.Fatalf("has permission: %v", err)
	}
	if !allowed {
		t.Fatal("expected viewer to hold analytics.view")
	}
}

func TestInactiveMembershipGrantsNothing(t *testing.T) {
	svc, db, node := setupAuthz(t)
	orgID := node.Generate()
	userID := node.Generate()
	seedMember(t, db, node, orgID, userID, role.Admin, false)

	allowed, err := svc.HasPermission(context.Background(), userID, orgID, role.AnalyticsView)
	if err != nil {
		t.Fatalf("has permission: %v", err)
	}
	if allowed {
		t.Fatal("expected inactive member to be denied")
	}
}

func TestNonMemberIsDenied(t *testing.T) {
	svc, _, node := setupAuthz(t)
	orgID := node.Generate()
	strangerID := node.Generate()

	if err := svc.Authorize(context.Background(), strangerID, orgID, role.ProjectsView); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestRoleChangeTakesEffectAfterSync(t *testing.T) {
	svc, db, node := setupAuthz(t)
	orgID := node.Generate()
	userID := node.Generate()
	seedMember(t, db, node, orgID, userID, role.Manager, true)

	ctx := context.Background()
	allowed, err := svc.HasPermission(ctx, userID, orgID, role.MembersInvite)
	if err != nil {
		t.Fatalf("has permission: %v", err)
	}
	if !allowed {
		t.Fatal("expected manager to hold members.invite")
	}

	if err := db.Exec(
		`UPDATE organization_members SET role = ? WHERE org_id = ? AND user_id = ?`,
		string(role.Viewer), orgID, userID,
	).Error; err != nil {
		t.Fatalf("update role: %v", err)
	}
	if err := svc.SyncGrouping(ctx, userID, orgID); err != nil {
		t.Fatalf("sync grouping: %v", err)
	}

	allowed, err = svc.HasPermission(ctx, userID, orgID, role.MembersInvite)
	if err != nil {
		t.Fatalf("has permission after downgrade: %v", err)
	}
	if allowed {
		t.Fatal("expected downgraded member to lose members.invite")
	}
}

func TestGetUserRoleScopedPerOrganization(t *testing.T) {
	svc, db, node := setupAuthz(t)
	orgA := node.Generate()
	orgB := node.Generate()
	userID := node.Generate()
	seedMember(t, db, node, orgA, userID, role.Admin, true)
	seedMember(t, db, node, orgB, userID, role.Viewer, true)

	ctx := context.Background()
	r, ok, err := svc.GetUserRole(ctx, userID, orgA)
	if err != nil || !ok {
		t.Fatalf("get role org A: ok=%v err=%v", ok, err)
	}
	if r != role.Admin {
		t.Fatalf("expected admin in org A, got %s", r)
	}

	r, ok, err = svc.GetUserRole(ctx, userID, orgB)
	if err != nil || !ok {
		t.Fatalf("get role org B: ok=%v err=%v", ok, err)
	}
	if r != role.Viewer {
		t.Fatalf("expected viewer in org B, got %s", r)
	}

	allowed, err := svc.HasPermission(ctx, userID, orgB, role.MembersRemove)
	if err != nil {
		t.Fatalf("has permission: %v", err)
	}
	if allowed {
		t.Fatal("expected admin rights not to leak into org B")
	}
}

func TestPurgeOrganizationRemovesGroupings(t *testing.T) {
	svc, db, node := setupAuthz(t)
	orgID := node.Generate()
	userID := node.Generate()
	seedMember(t, db, node, orgID, userID, role.Admin, true)

	ctx := context.Background()
	if err := svc.Authorize(ctx, userID, orgID, role.MembersInvite); err != nil {
		t.Fatalf("authorize before purge: %v", err)
	}

	if err := db.Exec(`DELETE FROM organization_members WHERE org_id = ?`, orgID).Error; err != nil {
		t.Fatalf("delete members: %v", err)
	}
	if err := svc.PurgeOrganization(ctx, orgID); err != nil {
		t.Fatalf("purge: %v", err)
	}

	if err := svc.Authorize(ctx, userID, orgID, role.MembersInvite); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden after purge, got %v", err)
	}
}
