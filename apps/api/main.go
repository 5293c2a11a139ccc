package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/answerline/internal/clock"
	"github.com/smallbiznis/answerline/internal/config"
	"github.com/smallbiznis/answerline/internal/migration"
	"github.com/smallbiznis/answerline/internal/observability"
	"github.com/smallbiznis/answerline/internal/server"
	"github.com/smallbiznis/answerline/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Webhooks and API only; the sweep runs in apps/scheduler.
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
