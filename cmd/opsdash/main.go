package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/opsdash/internal/clock"
	"github.com/smallbiznis/opsdash/internal/config"
	"github.com/smallbiznis/opsdash/internal/migration"
	"github.com/smallbiznis/opsdash/internal/observability"
	"github.com/smallbiznis/opsdash/internal/orglock"
	"github.com/smallbiznis/opsdash/internal/redisconn"
	"github.com/smallbiznis/opsdash/internal/server"
	"github.com/smallbiznis/opsdash/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		clock.Module,
		redisconn.Module,
		orglock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func newSnowflakeNode(cfg config.Config) *snowflake.Node {
	node, err := snowflake.NewNode(cfg.SnowflakeNodeID)
	if err != nil {
		panic(err)
	}
	return node
}
