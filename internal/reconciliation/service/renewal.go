package service

import (
	"context"
	"fmt"

	ledgerdomain "github.com/apploom/apploom/internal/ledger/domain"
	reconciliationdomain "github.com/apploom/apploom/internal/reconciliation/domain"
	"github.com/apploom/apploom/internal/tier"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// applyRenewal resets the cycle on a recurring invoice. Unlike an
// upgrade, only the unused portion of the previous cycle's base grant
// carries forward; the previous carry-over is treated as spent first and
// expires with the cycle.
func (e *Engine) applyRenewal(ctx context.Context, log *zap.Logger, t reconciliationdomain.Transition) error {
	applied, err := e.ledgerRepo.HasAllocation(ctx, e.db, t.UserID, t.InvoiceID)
	if err != nil {
		return err
	}
	if applied {
		return errAlreadyApplied
	}

	periodStart, periodEnd, _ := e.resolvePeriod(ctx, log, t)

	planTier, ok := e.renewalTier(ctx, t)
	if !ok {
		// Keep the subscription record honest even when the grant cannot
		// be sized; the next event for a known tier repairs the ledger.
		log.Error("renewal tier unresolved; extending period without granting credits",
			zap.String("tier_id", t.TierID),
			zap.String("invoice_id", t.InvoiceID))
		return e.subscriptionRepo.ExtendPeriod(ctx, e.db, t.ExternalSubscriptionID, periodStart, periodEnd)
	}

	now := e.clock.Now()

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ledger, err := e.ledgerRepo.EnsureForUser(ctx, tx, t.UserID)
		if err != nil {
			return err
		}

		// Spending order within a cycle is carry-over first, then the
		// base grant. Whatever exceeds the old carry-over is the unused
		// part of the base grant and survives; the rest expires.
		unusedFromBase := ledger.CreditBalance - ledger.CarryOverCredits
		if unusedFromBase < 0 {
			unusedFromBase = 0
		}

		ledger.BasePlanCredits = planTier.MonthlyCredits
		ledger.CarryOverCredits = unusedFromBase
		ledger.CreditBalance = unusedFromBase + planTier.MonthlyCredits
		ledger.CarryOverExpiresAt = carryOverExpiry(unusedFromBase, periodEnd)
		ledger.MembershipTier = ledgerdomain.MembershipTier(planTier.Name)
		ledger.MembershipExpiresAt = &periodEnd
		subID := t.ExternalSubscriptionID
		ledger.ExternalSubscriptionID = &subID
		ledger.MonthlyCreditsUsed = 0
		ledger.LastCreditReset = now

		if err := e.ledgerRepo.Save(ctx, tx, ledger); err != nil {
			return err
		}

		if err := e.subscriptionRepo.ExtendPeriod(ctx, tx, t.ExternalSubscriptionID, periodStart, periodEnd); err != nil {
			return err
		}

		key := t.InvoiceID
		inserted, err := e.ledgerRepo.AppendTransaction(ctx, tx, &ledgerdomain.CreditTransaction{
			UserID:      t.UserID,
			Type:        ledgerdomain.TransactionMonthlyAllocation,
			Amount:      planTier.MonthlyCredits,
			Description: fmt.Sprintf("%s subscription renewed: %d credits granted, %d carried over", planTier.Name, planTier.MonthlyCredits, unusedFromBase),
			ExternalKey: &key,
			Metadata: datatypes.JSONMap{
				"subscriptionId":   t.ExternalSubscriptionID,
				"invoiceId":        t.InvoiceID,
				"tierId":           planTier.ID,
				"isRenewal":        true,
				"carryOverCredits": unusedFromBase,
			},
		})
		if err != nil {
			return err
		}
		if !inserted {
			return errAlreadyApplied
		}
		return nil
	})
}

// renewalTier sizes the grant for a renewal. The gateway subscription's
// metadata is authoritative because a plan change made at the gateway
// can outrun the local record; the locally stored tier is the fallback.
func (e *Engine) renewalTier(ctx context.Context, t reconciliationdomain.Transition) (tier.Tier, bool) {
	if gwSub, err := e.gateway.RetrieveSubscription(ctx, t.ExternalSubscriptionID); err == nil {
		if id := gwSub.Metadata["tierId"]; id != "" {
			if planTier, ok := e.catalog.ByID(id); ok {
				return planTier, true
			}
		}
	}
	if planTier, ok := e.catalog.ByID(t.TierID); ok {
		return planTier, true
	}
	return tier.Tier{}, false
}
