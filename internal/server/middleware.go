package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/opsdash/internal/observability/context"
	"github.com/smallbiznis/opsdash/internal/ratelimit"
)

// The edge proxy authenticates callers and forwards the identity in
// these headers; this service only authorizes.
const (
	HeaderUserID    = "X-User-Id"
	HeaderSessionID = "X-Session-Id"

	contextUserIDKey = "user_id"
)

func (s *Server) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		userID, err := snowflake.ParseString(raw)
		if err != nil || userID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, userID.String())
		ctx := obscontext.WithActor(c.Request.Context(), "user", userID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) userIDFromContext(c *gin.Context) (snowflake.ID, bool) {
	value, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0, false
	}
	raw, ok := value.(string)
	if !ok {
		return 0, false
	}
	userID, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return userID, true
}

// LimitWrites throttles mutating requests per caller. Reads pass
// through untouched; a nil limiter allows everything.
func (s *Server) LimitWrites() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.writeLimiter == nil || c.Request.Method == http.MethodGet {
			c.Next()
			return
		}
		userID, ok := s.userIDFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		result, err := s.writeLimiter.Allow(c.Request.Context(), "ratelimit:write:user:"+userID.String())
		if err != nil {
			// Redis trouble must not take writes down with it.
			c.Next()
			return
		}
		if !result.Allowed {
			if result.RetryAfter > 0 {
				seconds := int(result.RetryAfter.Seconds()) + 1
				c.Header("Retry-After", strconv.Itoa(seconds))
			}
			AbortWithError(c, ratelimit.ErrLimited)
			return
		}
		c.Next()
	}
}

// TouchActivity stamps the caller's last activity on org-scoped
// routes after the handler runs. Best effort; a failed stamp never
// affects the response.
func (s *Server) TouchActivity() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		userID, ok := s.userIDFromContext(c)
		if !ok {
			return
		}
		orgID, err := snowflake.ParseString(strings.TrimSpace(c.Param("org_id")))
		if err != nil || orgID == 0 {
			return
		}
		_ = s.membershipSvc.TouchLastActive(c.Request.Context(), orgID, userID, s.clk.Now())
	}
}

func (s *Server) sessionIDFromRequest(c *gin.Context) (string, bool) {
	sessionID := strings.TrimSpace(c.GetHeader(HeaderSessionID))
	return sessionID, sessionID != ""
}
