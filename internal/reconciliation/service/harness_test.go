package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/apploom/apploom/internal/clock"
	"github.com/apploom/apploom/internal/config"
	deploymentdomain "github.com/apploom/apploom/internal/deployment/domain"
	deploymentrepo "github.com/apploom/apploom/internal/deployment/repository"
	gatewaydomain "github.com/apploom/apploom/internal/gateway/domain"
	ledgerdomain "github.com/apploom/apploom/internal/ledger/domain"
	ledgerrepo "github.com/apploom/apploom/internal/ledger/repository"
	reconciliationdomain "github.com/apploom/apploom/internal/reconciliation/domain"
	subscriptiondomain "github.com/apploom/apploom/internal/subscription/domain"
	subscriptionrepo "github.com/apploom/apploom/internal/subscription/repository"
	"github.com/apploom/apploom/internal/tier"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manual gateway fake. Cancelation removes the subscription so a second
// cancel observes ErrSubscriptionMissing, matching processor behavior.
type fakeGateway struct {
	subs        map[string]gatewaydomain.Subscription
	cancelCalls map[string]int
	cancelErr   error
	listErr     error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		subs:        map[string]gatewaydomain.Subscription{},
		cancelCalls: map[string]int{},
	}
}

func (g *fakeGateway) add(sub gatewaydomain.Subscription) {
	g.subs[sub.ID] = sub
}

func (g *fakeGateway) RetrieveSubscription(ctx context.Context, id string) (*gatewaydomain.Subscription, error) {
	if sub, ok := g.subs[id]; ok {
		return &sub, nil
	}
	return nil, gatewaydomain.ErrSubscriptionMissing
}

func (g *fakeGateway) ListActiveSubscriptions(ctx context.Context, customerID string) ([]gatewaydomain.Subscription, error) {
	if g.listErr != nil {
		return nil, g.listErr
	}
	var out []gatewaydomain.Subscription
	for _, sub := range g.subs {
		if sub.CustomerID == customerID && sub.Active() {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, id string) error {
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.cancelCalls[id]++
	if _, ok := g.subs[id]; !ok {
		return gatewaydomain.ErrSubscriptionMissing
	}
	delete(g.subs, id)
	return nil
}

func (g *fakeGateway) UpdateSubscriptionMetadata(ctx context.Context, id string, metadata map[string]string) error {
	return nil
}

type engineFixture struct {
	t       *testing.T
	db      *gorm.DB
	engine  reconciliationdomain.Engine
	gateway *fakeGateway
	clk     *clock.FakeClock
	ledgers ledgerdomain.Repository
	subs    subscriptiondomain.Repository
}

func newEngineFixture(t *testing.T) *engineFixture {
	return newEngineFixtureWithConfig(t, config.Config{DispatchMaxAttempts: 3})
}

func newEngineFixtureWithConfig(t *testing.T, cfg config.Config) *engineFixture {
	t.Helper()
	return newEngineFixtureWithTiers(t, cfg, tier.DefaultTiers())
}

func newEngineFixtureWithTiers(t *testing.T, cfg config.Config, tiers []tier.Tier) *engineFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:recon_%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&ledgerdomain.CreditLedger{},
		&ledgerdomain.CreditTransaction{},
		&subscriptiondomain.Subscription{},
		&deploymentdomain.Deployment{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	catalog, err := tier.NewStaticCatalog(tiers)
	require.NoError(t, err)

	gw := newFakeGateway()
	clk := clock.NewFakeClock(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	ledgers := ledgerrepo.Provide(node)
	subs := subscriptionrepo.Provide(node)

	engine := NewEngine(Params{
		DB:               db,
		Log:              zap.NewNop(),
		GenID:            node,
		Clock:            clk,
		Cfg:              cfg,
		Catalog:          catalog,
		Gateway:          gw,
		LedgerRepo:       ledgers,
		SubscriptionRepo: subs,
		DeploymentRepo:   deploymentrepo.Provide(),
	})

	return &engineFixture{
		t:       t,
		db:      db,
		engine:  engine,
		gateway: gw,
		clk:     clk,
		ledgers: ledgers,
		subs:    subs,
	}
}

func (f *engineFixture) process(event reconciliationdomain.Event) error {
	f.t.Helper()
	return f.engine.Process(context.Background(), event)
}

func (f *engineFixture) ledger(userID snowflake.ID) *ledgerdomain.CreditLedger {
	f.t.Helper()
	ledger, err := f.ledgers.FindByUserID(context.Background(), f.db, userID)
	require.NoError(f.t, err)
	require.NotNil(f.t, ledger)
	return ledger
}

func (f *engineFixture) transactions(userID snowflake.ID) []ledgerdomain.CreditTransaction {
	f.t.Helper()
	entries, err := f.ledgers.ListTransactions(context.Background(), f.db, userID, 100)
	require.NoError(f.t, err)
	return entries
}

func (f *engineFixture) subscription(externalID string) *subscriptiondomain.Subscription {
	f.t.Helper()
	sub, err := f.subs.FindByExternalID(context.Background(), f.db, externalID)
	require.NoError(f.t, err)
	return sub
}

func (f *engineFixture) spend(userID snowflake.ID, amount int64) {
	f.t.Helper()
	require.NoError(f.t, f.ledgers.DeductUsage(context.Background(), f.db, userID, amount, "usage"))
}

func (f *engineFixture) seedDeployment(userID snowflake.ID, published bool) snowflake.ID {
	f.t.Helper()
	id := snowflake.ID(time.Now().UnixNano())
	require.NoError(f.t, f.db.Create(&deploymentdomain.Deployment{
		ID:        id,
		UserID:    userID,
		Name:      "app",
		Published: published,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}).Error)
	return id
}

func (f *engineFixture) deployment(id snowflake.ID) deploymentdomain.Deployment {
	f.t.Helper()
	var dep deploymentdomain.Deployment
	require.NoError(f.t, f.db.First(&dep, "id = ?", id).Error)
	return dep
}

func subscriptionCreatedEvent(eventID string, userID snowflake.ID, subID, tierID, customerID string, periodStart, periodEnd time.Time) reconciliationdomain.Event {
	return reconciliationdomain.Event{
		ID:   eventID,
		Type: reconciliationdomain.EventSubscriptionCreated,
		Subscription: &reconciliationdomain.SubscriptionEvent{
			ID:                 subID,
			CustomerID:         customerID,
			Status:             "active",
			CurrentPeriodStart: periodStart,
			CurrentPeriodEnd:   periodEnd,
			UserID:             userID,
			TierID:             tierID,
		},
	}
}

func invoicePaidEvent(eventID, invoiceID, subID, customerID, billingReason string, periodStart, periodEnd time.Time) reconciliationdomain.Event {
	return reconciliationdomain.Event{
		ID:   eventID,
		Type: reconciliationdomain.EventInvoicePaid,
		Invoice: &reconciliationdomain.InvoiceEvent{
			ID:             invoiceID,
			SubscriptionID: subID,
			CustomerID:     customerID,
			PeriodStart:    periodStart,
			PeriodEnd:      periodEnd,
			BillingReason:  billingReason,
		},
	}
}

func subscriptionDeletedEvent(eventID, subID string) reconciliationdomain.Event {
	return reconciliationdomain.Event{
		ID:   eventID,
		Type: reconciliationdomain.EventSubscriptionDeleted,
		Subscription: &reconciliationdomain.SubscriptionEvent{
			ID:     subID,
			Status: "canceled",
		},
	}
}

func checkoutCompletedEvent(eventID string, userID snowflake.ID, sessionID string, kind reconciliationdomain.CheckoutKind, credits int64) reconciliationdomain.Event {
	return reconciliationdomain.Event{
		ID:   eventID,
		Type: reconciliationdomain.EventCheckoutCompleted,
		Checkout: &reconciliationdomain.CheckoutSession{
			ID:      sessionID,
			UserID:  userID,
			Kind:    kind,
			Credits: credits,
		},
	}
}
