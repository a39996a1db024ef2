package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	sessionpkg "github.com/smallbiznis/opsdash/internal/session"
)

type setCurrentOrganizationRequest struct {
	OrganizationID string `json:"organization_id"`
}

func (s *Server) SetCurrentOrganization(c *gin.Context) {
	userID, ok := s.userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	sessionID, ok := s.sessionIDFromRequest(c)
	if !ok {
		AbortWithError(c, sessionpkg.ErrInvalidSession)
		return
	}

	var req setCurrentOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err := s.sessionSvc.SetCurrentOrganization(c.Request.Context(), sessionID, userID, req.OrganizationID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) CurrentOrganization(c *gin.Context) {
	userID, ok := s.userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	sessionID, ok := s.sessionIDFromRequest(c)
	if !ok {
		AbortWithError(c, sessionpkg.ErrInvalidSession)
		return
	}

	orgID, err := s.sessionSvc.CurrentOrganization(c.Request.Context(), sessionID, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"organization_id": orgID})
}

func (s *Server) ClearCurrentOrganization(c *gin.Context) {
	sessionID, ok := s.sessionIDFromRequest(c)
	if !ok {
		AbortWithError(c, sessionpkg.ErrInvalidSession)
		return
	}

	if err := s.sessionSvc.ClearCurrentOrganization(c.Request.Context(), sessionID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
