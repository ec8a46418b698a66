package escalation

import (
	"github.com/glacestorm/crmalerts/internal/escalation/repository"
	"github.com/glacestorm/crmalerts/internal/escalation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("escalation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
