package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/glacestorm/crmalerts/internal/clock"
	"github.com/glacestorm/crmalerts/internal/config"
	"github.com/glacestorm/crmalerts/internal/observability"
	"github.com/glacestorm/crmalerts/internal/server"
	"github.com/glacestorm/crmalerts/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// No scheduler; cron hits the /functions endpoints instead.
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
