package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/glacestorm/crmalerts/internal/clock"
	"github.com/glacestorm/crmalerts/internal/config"
	"github.com/glacestorm/crmalerts/internal/directory"
	"github.com/glacestorm/crmalerts/internal/escalation"
	"github.com/glacestorm/crmalerts/internal/goalrisk"
	"github.com/glacestorm/crmalerts/internal/metricspush"
	"github.com/glacestorm/crmalerts/internal/notification"
	"github.com/glacestorm/crmalerts/internal/observability"
	"github.com/glacestorm/crmalerts/internal/runlock"
	"github.com/glacestorm/crmalerts/internal/scheduler"
	"github.com/glacestorm/crmalerts/internal/webhook"
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
		runlock.Module,
		metricspush.Module,

		// Domain services required by scheduler
		directory.Module,
		notification.Module,
		goalrisk.Module,
		escalation.Module,
		webhook.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
