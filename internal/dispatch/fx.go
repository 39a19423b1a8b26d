package dispatch

import (
	"context"

	"github.com/apploom/apploom/internal/dispatch/repository"
	"github.com/apploom/apploom/internal/dispatch/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dispatch",
	fx.Provide(
		repository.Provide,
		service.NewIngestor,
		service.NewDispatcher,
	),
	fx.Invoke(func(lc fx.Lifecycle, dispatcher *service.Dispatcher) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return dispatcher.Start(ctx)
			},
			OnStop: func(ctx context.Context) error {
				return dispatcher.Stop(ctx)
			},
		})
	}),
)
