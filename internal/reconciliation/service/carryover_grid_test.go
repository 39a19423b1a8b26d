package service

import (
	"fmt"
	"testing"

	"github.com/apploom/apploom/internal/config"
	"github.com/apploom/apploom/internal/tier"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

// Renewal carry-over across quota and usage combinations. The invariant
// under test: the next cycle's balance is the new quota plus whatever
// part of the previous base grant went unspent, and the expired
// carry-over never leaks forward.
func TestRenewalCarryOverGrid(t *testing.T) {
	quotas := []int64{100, 400, 800, 1200}
	usages := []int64{50, 200, 300, 1000}

	for _, quota := range quotas {
		for _, usage := range usages {
			if usage > quota {
				continue
			}
			name := fmt.Sprintf("quota_%d_usage_%d", quota, usage)
			quota, usage := quota, usage
			t.Run(name, func(t *testing.T) {
				tiers := []tier.Tier{
					{ID: "tier_free", Name: "FREE", MonthlyCredits: 0},
					{ID: "tier_test", Name: "PRO", MonthlyCredits: quota},
				}
				f := newEngineFixtureWithTiers(t, config.Config{DispatchMaxAttempts: 3}, tiers)
				userID := snowflake.ID(6000)

				periodEnd := f.clk.Now().AddDate(0, 1, 0)
				require.NoError(t, f.process(subscriptionCreatedEvent("evt_a", userID, "sub_g", "tier_test", "cus_g", f.clk.Now(), periodEnd)))
				require.Equal(t, quota, f.ledger(userID).CreditBalance)

				if usage > 0 {
					f.spend(userID, usage)
				}

				nextStart := periodEnd
				require.NoError(t, f.process(invoicePaidEvent("evt_r", "in_g", "sub_g", "cus_g", "subscription_cycle", nextStart, nextStart.AddDate(0, 1, 0))))

				ledger := f.ledger(userID)
				unused := quota - usage
				require.Equal(t, unused+quota, ledger.CreditBalance)
				require.Equal(t, unused, ledger.CarryOverCredits)
				require.Equal(t, quota, ledger.BasePlanCredits)
			})
		}
	}
}
