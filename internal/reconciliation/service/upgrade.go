package service

import (
	"context"
	"errors"
	"fmt"

	gatewaydomain "github.com/apploom/apploom/internal/gateway/domain"
	ledgerdomain "github.com/apploom/apploom/internal/ledger/domain"
	reconciliationdomain "github.com/apploom/apploom/internal/reconciliation/domain"
	subscriptiondomain "github.com/apploom/apploom/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// applyUpgrade replaces the stored subscription with the incoming one.
// The user's current balance, whatever its composition, survives as
// carry-over on top of the new tier's quota. Stale subscriptions are
// canceled at the gateway so the user is not double-billed.
func (e *Engine) applyUpgrade(ctx context.Context, log *zap.Logger, t reconciliationdomain.Transition) error {
	applied, err := e.ledgerRepo.HasAllocation(ctx, e.db, t.UserID, t.ExternalSubscriptionID)
	if err != nil {
		return err
	}
	if applied {
		return errAlreadyApplied
	}

	planTier, err := e.resolveTier(t.TierID, t.TierName)
	if err != nil {
		log.Error("upgrade aborted: tier not in catalog",
			zap.String("tier_id", t.TierID),
			zap.String("tier_name", t.TierName))
		return err
	}

	periodStart, periodEnd, customerID := e.resolvePeriod(ctx, log, t)

	canceled, err := e.cancelStaleSubscriptions(ctx, log, t, customerID)
	if err != nil {
		return err
	}

	now := e.clock.Now()

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ledger, err := e.ledgerRepo.EnsureForUser(ctx, tx, t.UserID)
		if err != nil {
			return err
		}

		// The old plan's remaining balance carries over in full; a
		// negative balance carries nothing.
		leftover := ledger.CreditBalance
		if leftover < 0 || t.IsFirstSubscription {
			leftover = 0
		}

		ledger.BasePlanCredits = planTier.MonthlyCredits
		ledger.CarryOverCredits = leftover
		ledger.CreditBalance = leftover + planTier.MonthlyCredits
		ledger.CarryOverExpiresAt = carryOverExpiry(leftover, periodEnd)
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

		if len(canceled) > 0 {
			if err := e.subscriptionRepo.MarkCanceled(ctx, tx, canceled, now); err != nil {
				return err
			}
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
			Description: fmt.Sprintf("upgraded to %s: %d credits granted, %d carried over", planTier.Name, planTier.MonthlyCredits, leftover),
			ExternalKey: &key,
			Metadata: datatypes.JSONMap{
				"subscriptionId":        t.ExternalSubscriptionID,
				"tierId":                planTier.ID,
				"isUpgrade":             true,
				"carryOverCredits":      leftover,
				"replacedSubscriptions": canceled,
			},
		})
		if err != nil {
			return err
		}
		if !inserted {
			return errAlreadyApplied
		}

		return e.deploymentRepo.PublishAllForUser(ctx, tx, t.UserID)
	})
}

// cancelStaleSubscriptions cancels every gateway subscription for the
// customer other than the incoming one, plus the stored previous id in
// case the gateway listing lags. Returns the external ids canceled.
func (e *Engine) cancelStaleSubscriptions(
	ctx context.Context,
	log *zap.Logger,
	t reconciliationdomain.Transition,
	customerID string,
) ([]string, error) {
	stale := map[string]struct{}{}

	if customerID != "" {
		active, err := e.gateway.ListActiveSubscriptions(ctx, customerID)
		if err != nil {
			log.Warn("could not list gateway subscriptions; canceling stored id only",
				zap.String("customer_id", customerID),
				zap.Error(err))
		} else {
			for _, sub := range active {
				if sub.ID != t.ExternalSubscriptionID {
					stale[sub.ID] = struct{}{}
				}
			}
		}
	}
	if t.PreviousExternalSubscriptionID != "" &&
		t.PreviousExternalSubscriptionID != t.ExternalSubscriptionID {
		stale[t.PreviousExternalSubscriptionID] = struct{}{}
	}

	canceled := make([]string, 0, len(stale))
	for id := range stale {
		err := e.gateway.CancelSubscription(ctx, id)
		switch {
		case err == nil:
			log.Info("canceled stale subscription", zap.String("subscription_id", id))
		case errors.Is(err, gatewaydomain.ErrSubscriptionMissing):
			log.Info("stale subscription already gone", zap.String("subscription_id", id))
		default:
			// Leaving a stale subscription active double-bills the user;
			// fail so the dispatcher retries the event.
			return nil, fmt.Errorf("cancel stale subscription %s: %w", id, err)
		}
		canceled = append(canceled, id)
	}
	return canceled, nil
}
