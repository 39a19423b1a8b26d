package deployment

import (
	"github.com/apploom/apploom/internal/deployment/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("deployment",
	fx.Provide(repository.Provide),
)
