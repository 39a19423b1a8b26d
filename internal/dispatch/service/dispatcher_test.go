package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/apploom/apploom/internal/clock"
	"github.com/apploom/apploom/internal/config"
	dispatchdomain "github.com/apploom/apploom/internal/dispatch/domain"
	dispatchrepo "github.com/apploom/apploom/internal/dispatch/repository"
	"github.com/apploom/apploom/internal/gateway/stripe"
	reconciliationdomain "github.com/apploom/apploom/internal/reconciliation/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeEngine struct {
	processed []reconciliationdomain.Event
	err       error
}

func (e *fakeEngine) Process(ctx context.Context, event reconciliationdomain.Event) error {
	if e.err != nil {
		return e.err
	}
	e.processed = append(e.processed, event)
	return nil
}

type dispatchFixture struct {
	db         *gorm.DB
	repo       dispatchdomain.Repository
	ingestor   dispatchdomain.Ingestor
	dispatcher *Dispatcher
	engine     *fakeEngine
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:dispatch_%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&dispatchdomain.WebhookEvent{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	repo := dispatchrepo.Provide(node)
	engine := &fakeEngine{}
	cfg := config.Config{DispatchPollSeconds: 1, DispatchBatchSize: 25, DispatchMaxAttempts: 3}

	ingestor := NewIngestor(IngestorParams{DB: db, Log: zap.NewNop(), Repo: repo})
	dispatcher := NewDispatcher(DispatcherParams{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   clock.NewFakeClock(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)),
		Cfg:     cfg,
		Repo:    repo,
		Webhook: stripe.NewWebhook("whsec_test"),
		Engine:  engine,
	})

	return &dispatchFixture{db: db, repo: repo, ingestor: ingestor, dispatcher: dispatcher, engine: engine}
}

func (f *dispatchFixture) event(t *testing.T, providerEventID string) dispatchdomain.WebhookEvent {
	t.Helper()
	var event dispatchdomain.WebhookEvent
	require.NoError(t, f.db.First(&event, "provider_event_id = ?", providerEventID).Error)
	return event
}

const subscriptionPayload = `{
	"id": "evt_1",
	"type": "customer.subscription.created",
	"data": {"object": {
		"id": "sub_1",
		"customer": "cus_1",
		"status": "active",
		"metadata": {"userId": "123", "tierId": "tier_pro"}
	}}
}`

func TestIngestDeduplicatesDeliveries(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	inserted, err := f.ingestor.Ingest(ctx, "stripe", "evt_1", "customer.subscription.created", []byte(subscriptionPayload))
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = f.ingestor.Ingest(ctx, "stripe", "evt_1", "customer.subscription.created", []byte(subscriptionPayload))
	require.NoError(t, err)
	require.False(t, inserted)

	var count int64
	require.NoError(t, f.db.Model(&dispatchdomain.WebhookEvent{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestDispatcherProcessesPendingEvents(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	_, err := f.ingestor.Ingest(ctx, "stripe", "evt_1", "customer.subscription.created", []byte(subscriptionPayload))
	require.NoError(t, err)

	f.dispatcher.tick(ctx, time.Second)

	require.Len(t, f.engine.processed, 1)
	require.Equal(t, reconciliationdomain.EventSubscriptionCreated, f.engine.processed[0].Type)

	event := f.event(t, "evt_1")
	require.Equal(t, dispatchdomain.EventStatusProcessed, event.Status)
	require.NotNil(t, event.ProcessedAt)
}

func TestDispatcherRetriesThenAbandons(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()
	f.engine.err = errors.New("gateway unavailable")

	_, err := f.ingestor.Ingest(ctx, "stripe", "evt_1", "customer.subscription.created", []byte(subscriptionPayload))
	require.NoError(t, err)

	f.dispatcher.tick(ctx, time.Second)
	event := f.event(t, "evt_1")
	require.Equal(t, dispatchdomain.EventStatusPending, event.Status)
	require.Equal(t, 1, event.Attempts)
	require.Contains(t, event.LastError, "gateway unavailable")

	f.dispatcher.tick(ctx, time.Second)
	f.dispatcher.tick(ctx, time.Second)

	event = f.event(t, "evt_1")
	require.Equal(t, dispatchdomain.EventStatusFailed, event.Status)
	require.Equal(t, 3, event.Attempts)

	// A failed event is out of the polling set for good.
	f.dispatcher.tick(ctx, time.Second)
	require.Equal(t, 3, f.event(t, "evt_1").Attempts)
}

func TestDispatcherRecoversAfterTransientFailure(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()
	f.engine.err = errors.New("transient")

	_, err := f.ingestor.Ingest(ctx, "stripe", "evt_1", "customer.subscription.created", []byte(subscriptionPayload))
	require.NoError(t, err)

	f.dispatcher.tick(ctx, time.Second)
	f.engine.err = nil
	f.dispatcher.tick(ctx, time.Second)

	event := f.event(t, "evt_1")
	require.Equal(t, dispatchdomain.EventStatusProcessed, event.Status)
	require.Len(t, f.engine.processed, 1)
}

func TestDispatcherCompletesIgnoredEventTypes(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	payload := `{"id": "evt_x", "type": "charge.succeeded", "data": {"object": {}}}`
	_, err := f.ingestor.Ingest(ctx, "stripe", "evt_x", "charge.succeeded", []byte(payload))
	require.NoError(t, err)

	f.dispatcher.tick(ctx, time.Second)

	require.Empty(t, f.engine.processed)
	require.Equal(t, dispatchdomain.EventStatusProcessed, f.event(t, "evt_x").Status)
}

func TestDispatcherProcessesOldestFirst(t *testing.T) {
	f := newDispatchFixture(t)
	ctx := context.Background()

	first := &dispatchdomain.WebhookEvent{
		Provider: "stripe", ProviderEventID: "evt_old",
		EventType: "customer.subscription.created",
		Payload:   []byte(subscriptionPayload),
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	}
	_, err := f.repo.Insert(ctx, f.db, first)
	require.NoError(t, err)

	newer := `{
		"id": "evt_new",
		"type": "invoice.payment_succeeded",
		"data": {"object": {"id": "in_1", "subscription": "sub_1", "billing_reason": "subscription_cycle"}}
	}`
	_, err = f.ingestor.Ingest(ctx, "stripe", "evt_new", "invoice.payment_succeeded", []byte(newer))
	require.NoError(t, err)

	f.dispatcher.tick(ctx, time.Second)

	require.Len(t, f.engine.processed, 2)
	require.Equal(t, reconciliationdomain.EventSubscriptionCreated, f.engine.processed[0].Type)
	require.Equal(t, reconciliationdomain.EventInvoicePaid, f.engine.processed[1].Type)
}
