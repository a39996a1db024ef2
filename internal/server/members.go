package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	memdomain "github.com/smallbiznis/opsdash/internal/membership/domain"
)

type inviteMemberRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type updateMemberRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) InviteMember(c *gin.Context) {
	userID, ok := s.userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req inviteMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.membershipSvc.Invite(c.Request.Context(), memdomain.InviteRequest{
		OrgID:     c.Param("org_id"),
		Email:     strings.TrimSpace(req.Email),
		Role:      strings.TrimSpace(req.Role),
		InvitedBy: userID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (s *Server) ListMembers(c *gin.Context) {
	req := memdomain.ListMembersRequest{OrgID: c.Param("org_id")}
	if err := c.ShouldBindQuery(&req.Pagination); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.membershipSvc.ListByOrg(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Members, "page_info": resp.PageInfo})
}

func (s *Server) GetMember(c *gin.Context) {
	resp, err := s.membershipSvc.Get(c.Request.Context(), c.Param("member_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) UpdateMemberRole(c *gin.Context) {
	userID, ok := s.userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req updateMemberRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err := s.membershipSvc.UpdateRole(c.Request.Context(), userID, c.Param("member_id"), strings.TrimSpace(req.Role))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) RemoveMember(c *gin.Context) {
	userID, ok := s.userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.membershipSvc.Remove(c.Request.Context(), userID, c.Param("member_id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) DeactivateMember(c *gin.Context) {
	userID, ok := s.userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.membershipSvc.Deactivate(c.Request.Context(), userID, c.Param("member_id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ReactivateMember(c *gin.Context) {
	userID, ok := s.userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.membershipSvc.Reactivate(c.Request.Context(), userID, c.Param("member_id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
