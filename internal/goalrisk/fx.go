package goalrisk

import (
	"github.com/glacestorm/crmalerts/internal/goalrisk/metric"
	"github.com/glacestorm/crmalerts/internal/goalrisk/repository"
	"github.com/glacestorm/crmalerts/internal/goalrisk/service"
	"go.uber.org/fx"
)

var Module = fx.Module("goalrisk.service",
	fx.Provide(metric.Default),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
