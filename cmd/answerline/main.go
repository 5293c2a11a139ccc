package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/answerline/internal/clock"
	"github.com/smallbiznis/answerline/internal/config"
	"github.com/smallbiznis/answerline/internal/migration"
	"github.com/smallbiznis/answerline/internal/observability"
	"github.com/smallbiznis/answerline/internal/scheduler"
	"github.com/smallbiznis/answerline/internal/server"
	"github.com/smallbiznis/answerline/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface plus every domain module
		server.Module,

		// Metering sweep
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
