package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/opsdash/internal/clock"
	memdomain "github.com/smallbiznis/opsdash/internal/membership/domain"
	orgdomain "github.com/smallbiznis/opsdash/internal/organization/domain"
	"github.com/smallbiznis/opsdash/internal/orglock"
	"github.com/smallbiznis/opsdash/internal/quota"
)

type fakeOrgService struct {
	createCalls int
	createErr   error
	lastName    string
	lastUserID  snowflake.ID
	deleteErr   error
}

func (f *fakeOrgService) Create(ctx context.Context, ownerUserID snowflake.ID, req orgdomain.CreateOrganizationRequest) (*orgdomain.OrganizationResponse, error) {
	f.createCalls++
	f.lastUserID = ownerUserID
	f.lastName = req.Name
	_ = ctx
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &orgdomain.OrganizationResponse{
		ID:   snowflake.ID(100).String(),
		Name: req.Name,
		Plan: "free",
	}, nil
}

func (f *fakeOrgService) GetByID(ctx context.Context, id string) (*orgdomain.OrganizationResponse, error) {
	_ = ctx
	_ = id
	return nil, orgdomain.ErrNotFound
}

func (f *fakeOrgService) ListByUser(ctx context.Context, userID snowflake.ID) ([]orgdomain.OrganizationListResponseItem, error) {
	_ = ctx
	_ = userID
	return nil, nil
}

func (f *fakeOrgService) Update(ctx context.Context, userID snowflake.ID, id string, req orgdomain.UpdateOrganizationRequest) error {
	_ = ctx
	_ = userID
	_ = id
	_ = req
	return nil
}

func (f *fakeOrgService) Delete(ctx context.Context, userID snowflake.ID, id string) error {
	_ = ctx
	_ = userID
	_ = id
	return f.deleteErr
}

func (f *fakeOrgService) TransferOwnership(ctx context.Context, callerUserID snowflake.ID, id string, newOwnerUserID string) error {
	_ = ctx
	_ = callerUserID
	_ = id
	_ = newOwnerUserID
	return nil
}

type fakeMembershipService struct {
	inviteErr    error
	inviteCalls  int
	lastInvite   memdomain.InviteRequest
	touchCalls   int
	lastTouchOrg snowflake.ID
	lastTouchUsr snowflake.ID
}

func (f *fakeMembershipService) Invite(ctx context.Context, req memdomain.InviteRequest) (*memdomain.MemberResponse, error) {
	f.inviteCalls++
	f.lastInvite = req
	_ = ctx
	if f.inviteErr != nil {
		return nil, f.inviteErr
	}
	return &memdomain.MemberResponse{
		ID:       snowflake.ID(500).String(),
		OrgID:    req.OrgID,
		Email:    req.Email,
		Role:     req.Role,
		IsActive: true,
		JoinedAt: time.Now(),
	}, nil
}

func (f *fakeMembershipService) InviteOK(ctx context.Context, req memdomain.InviteRequest) bool {
	_, err := f.Invite(ctx, req)
	return err == nil
}

func (f *fakeMembershipService) UpdateRole(ctx context.Context, callerUserID snowflake.ID, memberID string, newRole string) error {
	_ = ctx
	_ = callerUserID
	_ = memberID
	_ = newRole
	return nil
}

func (f *fakeMembershipService) UpdateRoleOK(ctx context.Context, callerUserID snowflake.ID, memberID string, newRole string) bool {
	return f.UpdateRole(ctx, callerUserID, memberID, newRole) == nil
}

func (f *fakeMembershipService) Remove(ctx context.Context, callerUserID snowflake.ID, memberID string) error {
	_ = ctx
	_ = callerUserID
	_ = memberID
	return nil
}

func (f *fakeMembershipService) Deactivate(ctx context.Context, callerUserID snowflake.ID, memberID string) error {
	_ = ctx
	_ = callerUserID
	_ = memberID
	return nil
}

func (f *fakeMembershipService) Reactivate(ctx context.Context, callerUserID snowflake.ID, memberID string) error {
	_ = ctx
	_ = callerUserID
	_ = memberID
	return nil
}

func (f *fakeMembershipService) Get(ctx context.Context, memberID string) (*memdomain.MemberResponse, error) {
	_ = ctx
	_ = memberID
	return nil, memdomain.ErrNotFound
}

func (f *fakeMembershipService) ListByOrg(ctx context.Context, req memdomain.ListMembersRequest) (*memdomain.ListMembersResponse, error) {
	_ = ctx
	_ = req
	return &memdomain.ListMembersResponse{Members: []memdomain.MemberResponse{}}, nil
}

func (f *fakeMembershipService) TouchLastActive(ctx context.Context, orgID, userID snowflake.ID, at time.Time) error {
	f.touchCalls++
	f.lastTouchOrg = orgID
	f.lastTouchUsr = userID
	_ = ctx
	_ = at
	return nil
}

func newTestRouter(srv *Server) *gin.Engine {
	gin.SetMode(gin.TestMode)
	if srv.membershipSvc == nil {
		srv.membershipSvc = &fakeMembershipService{}
	}
	if srv.clk == nil {
		srv.clk = clock.NewFakeClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	}
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	srv.engine = router
	srv.registerAPIRoutes()
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestCreateOrganizationHandler(t *testing.T) {
	orgSvc := &fakeOrgService{}
	srv := &Server{organizationSvc: orgSvc}
	router := newTestRouter(srv)

	resp := doJSON(t, router, http.MethodPost, "/api/v1/organizations", `{"name":"Acme"}`, "1001")

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if orgSvc.createCalls != 1 {
		t.Fatalf("expected one create call, got %d", orgSvc.createCalls)
	}
	if orgSvc.lastName != "Acme" {
		t.Fatalf("expected name Acme, got %q", orgSvc.lastName)
	}
	if orgSvc.lastUserID != snowflake.ID(1001) {
		t.Fatalf("expected owner 1001, got %d", orgSvc.lastUserID)
	}
}

func TestMissingUserHeaderIsUnauthorized(t *testing.T) {
	orgSvc := &fakeOrgService{}
	srv := &Server{organizationSvc: orgSvc}
	router := newTestRouter(srv)

	resp := doJSON(t, router, http.MethodPost, "/api/v1/organizations", `{"name":"Acme"}`, "")

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
	if orgSvc.createCalls != 0 {
		t.Fatal("expected service not to be called without identity")
	}
}

func TestMalformedBodyIsValidationError(t *testing.T) {
	srv := &Server{organizationSvc: &fakeOrgService{}}
	router := newTestRouter(srv)

	resp := doJSON(t, router, http.MethodPost, "/api/v1/organizations", `{"name":`, "1001")

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte("validation_error")) {
		t.Fatalf("expected validation_error payload, got %s", resp.Body.String())
	}
}

func TestInviteMemberQuotaExceededMapsToConflict(t *testing.T) {
	memSvc := &fakeMembershipService{inviteErr: quota.ErrQuotaExceeded}
	srv := &Server{membershipSvc: memSvc}
	router := newTestRouter(srv)

	resp := doJSON(t, router, http.MethodPost, "/api/v1/organizations/100/members",
		`{"email":"dev@example.com","role":"viewer"}`, "1001")

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", resp.Code, resp.Body.String())
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte("quota_exceeded")) {
		t.Fatalf("expected quota_exceeded payload, got %s", resp.Body.String())
	}
}

func TestInviteMemberLockTimeoutMapsToConflict(t *testing.T) {
	memSvc := &fakeMembershipService{inviteErr: orglock.ErrLockTimeout}
	srv := &Server{membershipSvc: memSvc}
	router := newTestRouter(srv)

	resp := doJSON(t, router, http.MethodPost, "/api/v1/organizations/100/members",
		`{"email":"dev@example.com","role":"viewer"}`, "1001")

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestInviteMemberPassesInviter(t *testing.T) {
	memSvc := &fakeMembershipService{}
	srv := &Server{membershipSvc: memSvc}
	router := newTestRouter(srv)

	resp := doJSON(t, router, http.MethodPost, "/api/v1/organizations/100/members",
		`{"email":"dev@example.com","role":"analyst"}`, "1001")

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if memSvc.lastInvite.InvitedBy != snowflake.ID(1001) {
		t.Fatalf("expected inviter 1001, got %d", memSvc.lastInvite.InvitedBy)
	}
	if memSvc.lastInvite.OrgID != "100" {
		t.Fatalf("expected org 100, got %q", memSvc.lastInvite.OrgID)
	}
}

func TestDeleteOrganizationNotOwnerMapsToForbidden(t *testing.T) {
	orgSvc := &fakeOrgService{deleteErr: orgdomain.ErrNotOwner}
	srv := &Server{organizationSvc: orgSvc}
	router := newTestRouter(srv)

	resp := doJSON(t, router, http.MethodDelete, "/api/v1/organizations/100", "", "1001")

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d: %s", resp.Code, resp.Body.String())
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte("permission_denied")) {
		t.Fatalf("expected permission_denied payload, got %s", resp.Body.String())
	}
}

func TestGetMemberNotFoundMapsTo404(t *testing.T) {
	srv := &Server{membershipSvc: &fakeMembershipService{}}
	router := newTestRouter(srv)

	resp := doJSON(t, router, http.MethodGet, "/api/v1/members/999", "", "1001")

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestOrgScopedRequestsStampActivity(t *testing.T) {
	memSvc := &fakeMembershipService{}
	srv := &Server{membershipSvc: memSvc}
	router := newTestRouter(srv)

	resp := doJSON(t, router, http.MethodGet, "/api/v1/organizations/100/members", "", "1001")

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if memSvc.touchCalls != 1 {
		t.Fatalf("expected one activity stamp, got %d", memSvc.touchCalls)
	}
	if memSvc.lastTouchOrg != snowflake.ID(100) {
		t.Fatalf("expected org 100, got %d", memSvc.lastTouchOrg)
	}
	if memSvc.lastTouchUsr != snowflake.ID(1001) {
		t.Fatalf("expected user 1001, got %d", memSvc.lastTouchUsr)
	}
}

func TestNonOrgRoutesDoNotStampActivity(t *testing.T) {
	memSvc := &fakeMembershipService{}
	srv := &Server{organizationSvc: &fakeOrgService{}, membershipSvc: memSvc}
	router := newTestRouter(srv)

	resp := doJSON(t, router, http.MethodGet, "/api/v1/organizations", "", "1001")

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if memSvc.touchCalls != 0 {
		t.Fatalf("expected no activity stamp, got %d", memSvc.touchCalls)
	}
}
