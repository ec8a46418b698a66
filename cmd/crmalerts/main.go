package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/glacestorm/crmalerts/internal/clock"
	"github.com/glacestorm/crmalerts/internal/config"
	"github.com/glacestorm/crmalerts/internal/metricspush"
	"github.com/glacestorm/crmalerts/internal/migration"
	"github.com/glacestorm/crmalerts/internal/observability"
	"github.com/glacestorm/crmalerts/internal/runlock"
	"github.com/glacestorm/crmalerts/internal/scheduler"
	"github.com/glacestorm/crmalerts/internal/server"
	"github.com/glacestorm/crmalerts/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		runlock.Module,
		metricspush.Module,

		// HTTP functions and the domain services behind them
		server.Module,

		// Periodic runs of the monitor and escalation engine
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
