package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/opsdash/internal/role"
)

func (s *Server) GetUserRole(c *gin.Context) {
	userID, ok := s.userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	orgID, err := parsePathID(c, "org_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	r, found, err := s.authzSvc.GetUserRole(c.Request.Context(), userID, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusOK, gin.H{"role": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": r})
}

func (s *Server) HasPermission(c *gin.Context) {
	userID, ok := s.userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	orgID, err := parsePathID(c, "org_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	capability := role.Capability(strings.TrimSpace(c.Param("capability")))
	if capability == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	allowed, err := s.authzSvc.HasPermission(c.Request.Context(), userID, orgID, capability)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"capability": capability, "allowed": allowed})
}

func (s *Server) ListPermissions(c *gin.Context) {
	userID, ok := s.userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	orgID, err := parsePathID(c, "org_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	r, found, err := s.authzSvc.GetUserRole(c.Request.Context(), userID, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusOK, gin.H{"role": nil, "permissions": []string{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"role": r, "permissions": role.Capabilities(r).List()})
}

func parsePathID(c *gin.Context, name string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || id == 0 {
		return 0, newValidationError(name, "invalid_"+name, "invalid identifier")
	}
	return id, nil
}
