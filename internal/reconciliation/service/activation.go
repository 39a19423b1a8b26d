package service

import (
	"context"
	"fmt"
	"time"

	ledgerdomain "github.com/apploom/apploom/internal/ledger/domain"
	reconciliationdomain "github.com/apploom/apploom/internal/reconciliation/domain"
	subscriptiondomain "github.com/apploom/apploom/internal/subscription/domain"
	"github.com/apploom/apploom/internal/tier"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// fallbackPeriod covers the case where the gateway cannot report the
// billing period for a fresh subscription.
const fallbackPeriod = 30 * 24 * time.Hour

// applyActivation grants the first cycle of a new subscription. Whatever
// balance the user already holds (purchased credits, a prior tier's
// remainder) becomes carry-over on top of the new tier's full quota.
func (e *Engine) applyActivation(ctx context.Context, log *zap.Logger, t reconciliationdomain.Transition) error {
	applied, err := e.ledgerRepo.HasAllocation(ctx, e.db, t.UserID, t.ExternalSubscriptionID)
	if err != nil {
		return err
	}
	if applied {
		return errAlreadyApplied
	}

	planTier, err := e.resolveTier(t.TierID, t.TierName)
	if err != nil {
		log.Error("activation aborted: tier not in catalog",
			zap.String("tier_id", t.TierID),
			zap.String("tier_name", t.TierName))
		return err
	}

	periodStart, periodEnd, customerID := e.resolvePeriod(ctx, log, t)
	now := e.clock.Now()

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ledger, err := e.ledgerRepo.EnsureForUser(ctx, tx, t.UserID)
		if err != nil {
			return err
		}

		existing := ledger.CreditBalance
		if existing < 0 {
			existing = 0
		}

		ledger.BasePlanCredits = planTier.MonthlyCredits
		ledger.CarryOverCredits = existing
		ledger.CreditBalance = existing + planTier.MonthlyCredits
		ledger.CarryOverExpiresAt = carryOverExpiry(existing, periodEnd)
		ledger.MembershipTier = ledgerdomain.MembershipTier(planTier.Name)
		ledger.MembershipExpiresAt = &periodEnd
		subID := t.ExternalSubscriptionID
		ledger.ExternalSubscriptionID = &subID
		if customerID != "" {
			ledger.ExternalCustomerID = &customerID
		}
		ledger.MonthlyCreditsUsed = 0
		ledger.LastCreditReset = now

		if err := e.ledgerRepo.Save(ctx, tx, ledger); err != nil {
			return err
		}

		if err := e.subscriptionRepo.Upsert(ctx, tx, &subscriptiondomain.Subscription{
			UserID:                 t.UserID,
			ExternalSubscriptionID: t.ExternalSubscriptionID,
			ExternalCustomerID:     customerID,
			TierID:                 planTier.ID,
			Status:                 subscriptiondomain.SubscriptionStatusActive,
			CurrentPeriodStart:     periodStart,
			CurrentPeriodEnd:       periodEnd,
			Metadata: datatypes.JSONMap{
				"tierName": planTier.Name,
			},
		}); err != nil {
			return err
		}

		key := t.ExternalSubscriptionID
		inserted, err := e.ledgerRepo.AppendTransaction(ctx, tx, &ledgerdomain.CreditTransaction{
			UserID:      t.UserID,
			Type:        ledgerdomain.TransactionMonthlyAllocation,
			Amount:      planTier.MonthlyCredits,
			Description: fmt.Sprintf("%s subscription activated: %d credits granted", planTier.Name, planTier.MonthlyCredits),
			ExternalKey: &key,
			Metadata: datatypes.JSONMap{
				"subscriptionId":   t.ExternalSubscriptionID,
				"tierId":           planTier.ID,
				"carryOverCredits": existing,
			},
		})
		if err != nil {
			return err
		}
		if !inserted {
			return errAlreadyApplied
		}

		// A lapsed subscription unpublishes deployments; activation
		// restores them.
		return e.deploymentRepo.PublishAllForUser(ctx, tx, t.UserID)
	})
}

func (e *Engine) resolveTier(tierID, tierName string) (tier.Tier, error) {
	if t, ok := e.catalog.ByID(tierID); ok {
		return t, nil
	}
	if t, ok := e.catalog.ByName(tierName); ok {
		return t, nil
	}
	return tier.Tier{}, reconciliationdomain.ErrUnknownTier
}

// resolvePeriod prefers the gateway's view of the billing period and the
// customer reference, falling back to the event payload and finally to
// now + 30 days.
func (e *Engine) resolvePeriod(ctx context.Context, log *zap.Logger, t reconciliationdomain.Transition) (time.Time, time.Time, string) {
	periodStart := t.PeriodStart
	periodEnd := t.PeriodEnd
	customerID := t.ExternalCustomerID

	if gwSub, err := e.gateway.RetrieveSubscription(ctx, t.ExternalSubscriptionID); err == nil {
		if !gwSub.CurrentPeriodEnd.IsZero() {
			periodStart = gwSub.CurrentPeriodStart
			periodEnd = gwSub.CurrentPeriodEnd
		}
		if gwSub.CustomerID != "" {
			customerID = gwSub.CustomerID
		}
	} else {
		log.Warn("period lookup failed; using event payload",
			zap.String("subscription_id", t.ExternalSubscriptionID),
			zap.Error(err))
	}

	now := e.clock.Now()
	if periodEnd.IsZero() {
		periodEnd = now.Add(fallbackPeriod)
	}
	if periodStart.IsZero() {
		periodStart = now
	}
	return periodStart.UTC(), periodEnd.UTC(), customerID
}

func carryOverExpiry(carryOver int64, periodEnd time.Time) *time.Time {
	if carryOver <= 0 {
		return nil
	}
	expiry := periodEnd
	return &expiry
}
