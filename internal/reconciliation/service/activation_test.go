package service

import (
	"context"
	"testing"
	"time"

	gatewaydomain "github.com/apploom/apploom/internal/gateway/domain"
	ledgerdomain "github.com/apploom/apploom/internal/ledger/domain"
	subscriptiondomain "github.com/apploom/apploom/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

func TestActivationGrantsTierQuota(t *testing.T) {
	f := newEngineFixture(t)
	userID := snowflake.ID(1001)
	periodStart := f.clk.Now()
	periodEnd := periodStart.AddDate(0, 1, 0)

	f.gateway.add(gatewaydomain.Subscription{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		Status:             "active",
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
	})
	depID := f.seedDeployment(userID, false)

	err := f.process(subscriptionCreatedEvent("evt_1", userID, "sub_1", "tier_pro", "cus_1", periodStart, periodEnd))
	require.NoError(t, err)

	ledger := f.ledger(userID)
	require.Equal(t, int64(400), ledger.CreditBalance)
	require.Equal(t, int64(400), ledger.BasePlanCredits)
	require.Equal(t, int64(0), ledger.CarryOverCredits)
	require.Nil(t, ledger.CarryOverExpiresAt)
	require.Equal(t, ledgerdomain.MembershipPro, ledger.MembershipTier)
	require.NotNil(t, ledger.ExternalSubscriptionID)
	require.Equal(t, "sub_1", *ledger.ExternalSubscriptionID)
	require.NotNil(t, ledger.ExternalCustomerID)
	require.Equal(t, "cus_1", *ledger.ExternalCustomerID)

	sub := f.subscription("sub_1")
	require.NotNil(t, sub)
	require.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	require.Equal(t, "tier_pro", sub.TierID)

	entries := f.transactions(userID)
	require.Len(t, entries, 1)
	require.Equal(t, ledgerdomain.TransactionMonthlyAllocation, entries[0].Type)
	require.Equal(t, int64(400), entries[0].Amount)

	require.True(t, f.deployment(depID).Published)
}

func TestActivationCarriesExistingBalance(t *testing.T) {
	f := newEngineFixture(t)
	userID := snowflake.ID(1002)

	// Purchased credits before subscribing.
	require.NoError(t, f.process(checkoutCompletedEvent("evt_p", userID, "cs_1", "credits", 150)))
	require.Equal(t, int64(150), f.ledger(userID).CreditBalance)

	periodEnd := f.clk.Now().AddDate(0, 1, 0)
	err := f.process(subscriptionCreatedEvent("evt_s", userID, "sub_2", "tier_pro", "cus_2", f.clk.Now(), periodEnd))
	require.NoError(t, err)

	ledger := f.ledger(userID)
	require.Equal(t, int64(550), ledger.CreditBalance)
	require.Equal(t, int64(400), ledger.BasePlanCredits)
	require.Equal(t, int64(150), ledger.CarryOverCredits)
	require.NotNil(t, ledger.CarryOverExpiresAt)
}

func TestActivationReplayGrantsOnce(t *testing.T) {
	f := newEngineFixture(t)
	userID := snowflake.ID(1003)
	periodEnd := f.clk.Now().AddDate(0, 1, 0)
	event := subscriptionCreatedEvent("evt_1", userID, "sub_3", "tier_pro", "cus_3", f.clk.Now(), periodEnd)

	require.NoError(t, f.process(event))
	require.NoError(t, f.process(event))
	require.NoError(t, f.process(event))

	ledger := f.ledger(userID)
	require.Equal(t, int64(400), ledger.CreditBalance)
	require.Len(t, f.transactions(userID), 1)
}

func TestActivationUnknownTierFailsClosed(t *testing.T) {
	f := newEngineFixture(t)
	userID := snowflake.ID(1004)
	periodEnd := f.clk.Now().AddDate(0, 1, 0)

	err := f.process(subscriptionCreatedEvent("evt_1", userID, "sub_4", "tier_bogus", "cus_4", f.clk.Now(), periodEnd))
	require.Error(t, err)

	// No ledger row, no grant, no subscription record.
	ledger, lookupErr := f.ledgers.FindByUserID(context.Background(), f.db, userID)
	require.NoError(t, lookupErr)
	require.Nil(t, ledger)
	require.Nil(t, f.subscription("sub_4"))
}

func TestActivationFallsBackToThirtyDayPeriod(t *testing.T) {
	f := newEngineFixture(t)
	userID := snowflake.ID(1005)

	// No gateway record and no periods on the event payload.
	err := f.process(subscriptionCreatedEvent("evt_1", userID, "sub_5", "tier_enterprise", "", time.Time{}, time.Time{}))
	require.NoError(t, err)

	ledger := f.ledger(userID)
	require.Equal(t, int64(1200), ledger.CreditBalance)
	require.NotNil(t, ledger.MembershipExpiresAt)
	require.Equal(t, f.clk.Now().Add(30*24*time.Hour), ledger.MembershipExpiresAt.UTC())
}
