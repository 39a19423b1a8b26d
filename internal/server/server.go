// Package server exposes the HTTP surface: the webhook intake, a small
// read API over the credit ledger, and operational endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/apploom/apploom/internal/config"
	dispatchdomain "github.com/apploom/apploom/internal/dispatch/domain"
	"github.com/apploom/apploom/internal/gateway/stripe"
	ledgerdomain "github.com/apploom/apploom/internal/ledger/domain"
	obsmetrics "github.com/apploom/apploom/internal/observability/metrics"
	obstracing "github.com/apploom/apploom/internal/observability/tracing"
	subscriptiondomain "github.com/apploom/apploom/internal/subscription/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obstracing.GinMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine  *gin.Engine
	cfg     config.Config
	log     *zap.Logger
	db      *gorm.DB
	webhook *stripe.Webhook

	ingestor         dispatchdomain.Ingestor
	ledgerRepo       ledgerdomain.Repository
	subscriptionRepo subscriptiondomain.Repository
	metrics          *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin     *gin.Engine
	Cfg     config.Config
	Log     *zap.Logger
	DB      *gorm.DB
	Webhook *stripe.Webhook

	Ingestor         dispatchdomain.Ingestor
	LedgerRepo       ledgerdomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	Metrics          *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:           p.Gin,
		cfg:              p.Cfg,
		log:              p.Log.Named("http.server"),
		db:               p.DB,
		webhook:          p.Webhook,
		ingestor:         p.Ingestor,
		ledgerRepo:       p.LedgerRepo,
		subscriptionRepo: p.SubscriptionRepo,
		metrics:          p.Metrics,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.POST("/webhooks/stripe", s.handleStripeWebhook)

	api := s.engine.Group("/api/v1")
	api.GET("/users/:user_id/credits", s.handleGetCredits)
	api.GET("/users/:user_id/transactions", s.handleListTransactions)
	api.GET("/users/:user_id/subscriptions", s.handleListSubscriptions)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
