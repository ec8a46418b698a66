package directory

import (
	"github.com/glacestorm/crmalerts/internal/directory/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("directory.repository",
	fx.Provide(repository.Provide),
)
