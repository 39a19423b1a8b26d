package main

import (
	"github.com/apploom/apploom/internal/clock"
	"github.com/apploom/apploom/internal/config"
	"github.com/apploom/apploom/internal/deployment"
	"github.com/apploom/apploom/internal/dispatch"
	"github.com/apploom/apploom/internal/gateway"
	"github.com/apploom/apploom/internal/ledger"
	"github.com/apploom/apploom/internal/lock"
	"github.com/apploom/apploom/internal/logger"
	"github.com/apploom/apploom/internal/migration"
	obsmetrics "github.com/apploom/apploom/internal/observability/metrics"
	"github.com/apploom/apploom/internal/reconciliation"
	"github.com/apploom/apploom/internal/server"
	"github.com/apploom/apploom/internal/subscription"
	"github.com/apploom/apploom/internal/tier"
	"github.com/apploom/apploom/pkg/db"
	"github.com/apploom/apploom/pkg/telemetry"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		telemetry.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,
		obsmetrics.Module,
		migration.Module,

		// Billing domains
		tier.Module,
		ledger.Module,
		subscription.Module,
		deployment.Module,
		gateway.Module,
		reconciliation.Module,
		dispatch.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
