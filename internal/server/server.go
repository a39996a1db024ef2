package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/opsdash/internal/authorization"
	"github.com/smallbiznis/opsdash/internal/clock"
	"github.com/smallbiznis/opsdash/internal/config"
	"github.com/smallbiznis/opsdash/internal/membership"
	memdomain "github.com/smallbiznis/opsdash/internal/membership/domain"
	"github.com/smallbiznis/opsdash/internal/observability"
	obsmiddleware "github.com/smallbiznis/opsdash/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/opsdash/internal/observability/metrics"
	obstracing "github.com/smallbiznis/opsdash/internal/observability/tracing"
	"github.com/smallbiznis/opsdash/internal/organization"
	organizationdomain "github.com/smallbiznis/opsdash/internal/organization/domain"
	"github.com/smallbiznis/opsdash/internal/providers"
	"github.com/smallbiznis/opsdash/internal/quota"
	"github.com/smallbiznis/opsdash/internal/ratelimit"
	"github.com/smallbiznis/opsdash/internal/session"
	"github.com/smallbiznis/opsdash/internal/userdir"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	authorization.Module,
	organization.Module,
	membership.Module,
	quota.Module,
	session.Module,
	userdir.Module,
	providers.Module,
	ratelimit.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	genID           *snowflake.Node
	organizationSvc organizationdomain.Service
	membershipSvc   memdomain.Service
	authzSvc        authorization.Service
	quotaSvc        quota.Service
	sessionSvc      session.Service
	writeLimiter    *ratelimit.Limiter
	clk             clock.Clock
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	GenID           *snowflake.Node
	OrganizationSvc organizationdomain.Service
	MembershipSvc   memdomain.Service
	AuthzSvc        authorization.Service
	QuotaSvc        quota.Service
	SessionSvc      session.Service
	WriteLimiter    *ratelimit.Limiter `optional:"true"`
	Clock           clock.Clock
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		genID:           p.GenID,
		organizationSvc: p.OrganizationSvc,
		membershipSvc:   p.MembershipSvc,
		authzSvc:        p.AuthzSvc,
		quotaSvc:        p.QuotaSvc,
		sessionSvc:      p.SessionSvc,
		writeLimiter:    p.WriteLimiter,
		clk:             p.Clock,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")
	api.Use(s.RequireUser())
	api.Use(s.LimitWrites())
	api.Use(s.TouchActivity())

	api.POST("/organizations", s.CreateOrganization)
	api.GET("/organizations", s.ListOrganizations)
	api.GET("/organizations/:org_id", s.GetOrganization)
	api.PATCH("/organizations/:org_id", s.UpdateOrganization)
	api.DELETE("/organizations/:org_id", s.DeleteOrganization)
	api.POST("/organizations/:org_id/transfer", s.TransferOwnership)

	api.POST("/organizations/:org_id/members", s.InviteMember)
	api.GET("/organizations/:org_id/members", s.ListMembers)
	api.GET("/members/:member_id", s.GetMember)
	api.PATCH("/members/:member_id/role", s.UpdateMemberRole)
	api.DELETE("/members/:member_id", s.RemoveMember)
	api.POST("/members/:member_id/deactivate", s.DeactivateMember)
	api.POST("/members/:member_id/reactivate", s.ReactivateMember)

	api.GET("/organizations/:org_id/role", s.GetUserRole)
	api.GET("/organizations/:org_id/permissions/:capability", s.HasPermission)
	api.GET("/organizations/:org_id/permissions", s.ListPermissions)

	api.GET("/organizations/:org_id/quota/members", s.CanAddMember)
	api.GET("/organizations/:org_id/usage", s.GetUsageStats)

	api.PUT("/session/organization", s.SetCurrentOrganization)
	api.GET("/session/organization", s.CurrentOrganization)
	api.DELETE("/session/organization", s.ClearCurrentOrganization)
}
