package service

import (
	"testing"

	"github.com/apploom/apploom/internal/config"
	gatewaydomain "github.com/apploom/apploom/internal/gateway/domain"
	ledgerdomain "github.com/apploom/apploom/internal/ledger/domain"
	subscriptiondomain "github.com/apploom/apploom/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

func TestCancellationForfeitsEverything(t *testing.T) {
	f := newEngineFixture(t)
	userID := snowflake.ID(4001)
	activatePro(t, f, userID, "sub_c1", "cus_c1")

	// Purchased credits are forfeited too; cancellation is total.
	require.NoError(t, f.process(checkoutCompletedEvent("evt_p", userID, "cs_c1", "credits", 100)))
	require.Equal(t, int64(500), f.ledger(userID).CreditBalance)
	depID := f.seedDeployment(userID, true)

	require.NoError(t, f.process(subscriptionDeletedEvent("evt_del", "sub_c1")))

	ledger := f.ledger(userID)
	require.Equal(t, int64(0), ledger.CreditBalance)
	require.Equal(t, int64(0), ledger.BasePlanCredits)
	require.Equal(t, int64(0), ledger.CarryOverCredits)
	require.Equal(t, ledgerdomain.MembershipFree, ledger.MembershipTier)
	require.Nil(t, ledger.MembershipExpiresAt)
	require.Nil(t, ledger.ExternalSubscriptionID)
	// The customer reference survives for future re-subscribes.
	require.NotNil(t, ledger.ExternalCustomerID)

	entries := f.transactions(userID)
	var refund *ledgerdomain.CreditTransaction
	for i := range entries {
		if entries[i].Type == ledgerdomain.TransactionRefund {
			refund = &entries[i]
		}
	}
	require.NotNil(t, refund)
	require.Equal(t, int64(-500), refund.Amount)

	sub := f.subscription("sub_c1")
	require.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, sub.Status)
	require.False(t, f.deployment(depID).Published)
}

func TestCancellationReplayIsNoOp(t *testing.T) {
	f := newEngineFixture(t)
	userID := snowflake.ID(4002)
	activatePro(t, f, userID, "sub_c2", "cus_c2")

	require.NoError(t, f.process(subscriptionDeletedEvent("evt_del", "sub_c2")))

	// Re-subscribe, then replay the old deletion: the ledger points at
	// the new subscription and the REFUND key for sub_c2 already
	// exists, so the new balance must survive either way.
	activatePro(t, f, userID, "sub_c2b", "cus_c2")
	require.Equal(t, int64(400), f.ledger(userID).CreditBalance)

	require.NoError(t, f.process(subscriptionDeletedEvent("evt_del_replay", "sub_c2")))
	require.Equal(t, int64(400), f.ledger(userID).CreditBalance)
}

func TestCancellationResolvesThroughLedgerFallback(t *testing.T) {
	f := newEngineFixture(t)
	userID := snowflake.ID(4003)
	activatePro(t, f, userID, "sub_c3", "cus_c3")

	// Drop the local subscription row; the ledger still holds the
	// external reference.
	require.NoError(t, f.db.Where("external_subscription_id = ?", "sub_c3").
		Delete(&subscriptiondomain.Subscription{}).Error)

	require.NoError(t, f.process(subscriptionDeletedEvent("evt_del3", "sub_c3")))
	require.Equal(t, int64(0), f.ledger(userID).CreditBalance)
}

func TestCancellationKeepsAdminDeploymentsPublished(t *testing.T) {
	userID := snowflake.ID(4004)
	f := newEngineFixtureWithConfig(t, config.Config{
		DispatchMaxAttempts: 3,
		AdminUserIDs:        []int64{int64(userID)},
	})
	activatePro(t, f, userID, "sub_c4", "cus_c4")
	depID := f.seedDeployment(userID, true)

	require.NoError(t, f.process(subscriptionDeletedEvent("evt_del4", "sub_c4")))

	require.Equal(t, int64(0), f.ledger(userID).CreditBalance)
	require.True(t, f.deployment(depID).Published)
}

// Upgrading cancels the old subscription at the gateway, and the
// gateway then delivers subscription.deleted for that old id. The echo
// must not forfeit the upgraded balance.
func TestDeletionOfReplacedSubscriptionKeepsBalance(t *testing.T) {
	f := newEngineFixture(t)
	userID := snowflake.ID(4005)
	activatePro(t, f, userID, "sub_c5", "cus_c5")

	f.gateway.add(gatewaydomain.Subscription{ID: "sub_c5", CustomerID: "cus_c5", Status: "active"})
	f.gateway.add(gatewaydomain.Subscription{ID: "sub_c5b", CustomerID: "cus_c5", Status: "active"})

	periodEnd := f.clk.Now().AddDate(0, 1, 0)
	require.NoError(t, f.process(subscriptionCreatedEvent("evt_up5", userID, "sub_c5b", "tier_enterprise", "cus_c5", f.clk.Now(), periodEnd)))
	require.Equal(t, int64(1600), f.ledger(userID).CreditBalance)

	require.NoError(t, f.process(subscriptionDeletedEvent("evt_del_old", "sub_c5")))

	ledger := f.ledger(userID)
	require.Equal(t, int64(1600), ledger.CreditBalance)
	require.Equal(t, ledgerdomain.MembershipEnterprise, ledger.MembershipTier)
	require.Equal(t, "sub_c5b", *ledger.ExternalSubscriptionID)
	for _, entry := range f.transactions(userID) {
		require.NotEqual(t, ledgerdomain.TransactionRefund, entry.Type)
	}

	// The deletion for the live subscription still cancels.
	require.NoError(t, f.process(subscriptionDeletedEvent("evt_del_live", "sub_c5b")))
	require.Equal(t, int64(0), f.ledger(userID).CreditBalance)
}

func TestCancellationUnknownSubscriptionSkips(t *testing.T) {
	f := newEngineFixture(t)

	// Nothing resolves the reference; the event logs loudly and drops.
	require.NoError(t, f.process(subscriptionDeletedEvent("evt_del5", "sub_ghost")))
}
