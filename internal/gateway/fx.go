package gateway

import (
	"github.com/apploom/apploom/internal/config"
	gatewaydomain "github.com/apploom/apploom/internal/gateway/domain"
	"github.com/apploom/apploom/internal/gateway/stripe"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gateway",
	fx.Provide(func(cfg config.Config, log *zap.Logger) gatewaydomain.Gateway {
		return stripe.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, log)
	}),
	fx.Provide(func(cfg config.Config) *stripe.Webhook {
		return stripe.NewWebhook(cfg.Gateway.WebhookSecret)
	}),
)
