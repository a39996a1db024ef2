package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) CanAddMember(c *gin.Context) {
	orgID, err := parsePathID(c, "org_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	canAdd, err := s.quotaSvc.CanAddMember(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"can_add_member": canAdd})
}

func (s *Server) GetUsageStats(c *gin.Context) {
	orgID, err := parsePathID(c, "org_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	stats, err := s.quotaSvc.GetUsageStats(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
