package metricspush

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
	fx.Provide(func() prometheus.Gatherer {
		return prometheus.DefaultGatherer
	}),
)
