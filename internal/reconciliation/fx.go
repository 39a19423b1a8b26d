package reconciliation

import (
	"github.com/apploom/apploom/internal/reconciliation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reconciliation",
	fx.Provide(service.NewEngine),
)
