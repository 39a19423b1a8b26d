package service

import (
	"context"
	"errors"
	"time"

	"github.com/apploom/apploom/internal/clock"
	"github.com/apploom/apploom/internal/config"
	dispatchdomain "github.com/apploom/apploom/internal/dispatch/domain"
	"github.com/apploom/apploom/internal/gateway/stripe"
	"github.com/apploom/apploom/internal/lock"
	obsmetrics "github.com/apploom/apploom/internal/observability/metrics"
	reconciliationdomain "github.com/apploom/apploom/internal/reconciliation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dispatchLockKey = "apploom:dispatch:webhook_events"

type DispatcherParams struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Cfg     config.Config
	Repo    dispatchdomain.Repository
	Webhook *stripe.Webhook
	Engine  reconciliationdomain.Engine
	Locker  *lock.Locker        `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Dispatcher polls the inbox and feeds pending deliveries to the
// reconciliation engine, oldest first. Events from the same user are
// therefore applied in arrival order as long as one dispatcher holds the
// lock.
type Dispatcher struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	cfg     config.Config
	repo    dispatchdomain.Repository
	webhook *stripe.Webhook
	engine  reconciliationdomain.Engine
	locker  *lock.Locker
	metrics *obsmetrics.Metrics

	cancel context.CancelFunc
	done   chan struct{}
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		db:      p.DB,
		log:     p.Log.Named("dispatch.worker"),
		clock:   p.Clock,
		cfg:     p.Cfg,
		repo:    p.Repo,
		webhook: p.Webhook,
		engine:  p.Engine,
		locker:  p.Locker,
		metrics: p.Metrics,
	}
}

func (d *Dispatcher) Start(context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(runCtx)
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	interval := time.Duration(d.cfg.DispatchPollSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.log.Info("dispatcher started", zap.Duration("poll_interval", interval))
	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopped")
			return
		case <-ticker.C:
			d.tick(ctx, interval)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context, interval time.Duration) {
	token, acquired, err := d.locker.TryLock(ctx, dispatchLockKey, 2*interval)
	if err != nil {
		d.log.Warn("dispatch lock unavailable", zap.Error(err))
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := d.locker.Release(ctx, dispatchLockKey, token); err != nil {
			d.log.Warn("dispatch lock release failed", zap.Error(err))
		}
	}()

	events, err := d.repo.ListPending(ctx, d.db, d.cfg.DispatchBatchSize, d.cfg.DispatchMaxAttempts)
	if err != nil {
		d.log.Error("listing pending deliveries failed", zap.Error(err))
		return
	}

	for _, event := range events {
		if ctx.Err() != nil {
			return
		}
		d.dispatch(ctx, event)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, event dispatchdomain.WebhookEvent) {
	log := d.log.With(
		zap.Int64("event_id", int64(event.ID)),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("event_type", event.EventType),
		zap.Int("attempt", event.Attempts+1),
	)
	if event.Attempts > 0 {
		d.metrics.RecordDispatchRetry()
	}

	parsed, err := d.webhook.Parse(event.Payload)
	if err != nil {
		if errors.Is(err, reconciliationdomain.ErrEventIgnored) {
			// Subscribed event types can widen at the gateway; anything
			// outside the billing set completes without dispatching.
			d.complete(ctx, log, event)
			return
		}
		// A payload that does not parse will never parse; burn the
		// attempt budget so it lands in FAILED for inspection.
		d.fail(ctx, log, event, err)
		return
	}

	if err := d.engine.Process(ctx, *parsed); err != nil {
		d.fail(ctx, log, event, err)
		return
	}
	d.complete(ctx, log, event)
}

func (d *Dispatcher) complete(ctx context.Context, log *zap.Logger, event dispatchdomain.WebhookEvent) {
	if err := d.repo.MarkProcessed(ctx, d.db, int64(event.ID), d.clock.Now()); err != nil {
		log.Error("marking delivery processed failed", zap.Error(err))
		return
	}
	log.Info("delivery processed")
}

func (d *Dispatcher) fail(ctx context.Context, log *zap.Logger, event dispatchdomain.WebhookEvent, cause error) {
	attempts := event.Attempts + 1
	if err := d.repo.MarkFailed(ctx, d.db, int64(event.ID), attempts, d.cfg.DispatchMaxAttempts, cause.Error()); err != nil {
		log.Error("marking delivery failed failed", zap.Error(err))
		return
	}
	if attempts >= d.cfg.DispatchMaxAttempts {
		log.Error("delivery abandoned after final attempt", zap.Error(cause))
		return
	}
	log.Warn("delivery failed; will retry", zap.Error(cause))
}
