package migration

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsdash/internal/config"
	memdomain "github.com/smallbiznis/opsdash/internal/membership/domain"
	orgdomain "github.com/smallbiznis/opsdash/internal/organization/domain"
	"github.com/smallbiznis/opsdash/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, node *snowflake.Node) error {
		if strings.EqualFold(cfg.DBType, "postgres") {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// Non-postgres engines are for local development only.
			if err := conn.AutoMigrate(&orgdomain.Organization{}, &memdomain.Member{}); err != nil {
				return err
			}
			if err := conn.Exec(
				`CREATE TABLE IF NOT EXISTS org_events (
					id INTEGER PRIMARY KEY,
					org_id INTEGER NOT NULL,
					event_type TEXT NOT NULL,
					payload TEXT NOT NULL DEFAULT '{}',
					published BOOLEAN NOT NULL DEFAULT FALSE,
					created_at DATETIME NOT NULL
				)`,
			).Error; err != nil {
				return err
			}
		}

		if cfg.Bootstrap.EnsureDefaultOrg && cfg.Bootstrap.DefaultOwnerID != 0 {
			return seed.EnsureDefaultOrg(
				conn, node,
				cfg.Bootstrap.DefaultOrgName,
				snowflake.ID(cfg.Bootstrap.DefaultOwnerID),
			)
		}
		return nil
	}),
)
