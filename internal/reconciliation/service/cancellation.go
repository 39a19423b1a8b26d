package service

import (
	"context"
	"fmt"

	ledgerdomain "github.com/apploom/apploom/internal/ledger/domain"
	reconciliationdomain "github.com/apploom/apploom/internal/reconciliation/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// applyCancellation forfeits the entire balance and drops the user back
// to the free tier. The REFUND entry records the forfeiture and doubles
// as the idempotency key, so a replayed deletion event cannot zero an
// account that re-subscribed in between.
func (e *Engine) applyCancellation(ctx context.Context, log *zap.Logger, t reconciliationdomain.Transition) error {
	now := e.clock.Now()

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ledger, err := e.ledgerRepo.FindByUserID(ctx, tx, t.UserID)
		if err != nil {
			return err
		}
		if ledger == nil {
			log.Warn("cancellation for a user with no ledger")
			return nil
		}

		forfeited := ledger.CreditBalance
		if forfeited < 0 {
			forfeited = 0
		}

		key := t.ExternalSubscriptionID
		inserted, err := e.ledgerRepo.AppendTransaction(ctx, tx, &ledgerdomain.CreditTransaction{
			UserID:      t.UserID,
			Type:        ledgerdomain.TransactionRefund,
			Amount:      -forfeited,
			Description: fmt.Sprintf("subscription canceled: %d credits forfeited", forfeited),
			ExternalKey: &key,
			Metadata: datatypes.JSONMap{
				"subscriptionId":    t.ExternalSubscriptionID,
				"forfeitedCredits":  forfeited,
				"previousTier":      string(ledger.MembershipTier),
				"previousCarryOver": ledger.CarryOverCredits,
			},
		})
		if err != nil {
			return err
		}
		if !inserted {
			return errAlreadyApplied
		}

		ledger.CreditBalance = 0
		ledger.BasePlanCredits = 0
		ledger.CarryOverCredits = 0
		ledger.CarryOverExpiresAt = nil
		ledger.MembershipTier = ledgerdomain.MembershipFree
		ledger.MembershipExpiresAt = nil
		// The customer reference stays so a later re-subscribe still
		// resolves; only the subscription link is cleared.
		ledger.ExternalSubscriptionID = nil
		ledger.MonthlyCreditsUsed = 0
		ledger.LastCreditReset = now

		if err := e.ledgerRepo.Save(ctx, tx, ledger); err != nil {
			return err
		}

		if err := e.subscriptionRepo.MarkCanceled(ctx, tx, []string{t.ExternalSubscriptionID}, now); err != nil {
			return err
		}

		if e.cfg.IsAdminUser(int64(t.UserID)) {
			log.Info("admin user retains published deployments after cancellation")
			return nil
		}
		return e.deploymentRepo.UnpublishAllForUser(ctx, tx, t.UserID)
	})
}

// applyPastDue flags the subscription after a failed payment. Credits
// are untouched: the gateway retries the charge, and a later
// invoice.paid or subscription.deleted event settles the outcome.
func (e *Engine) applyPastDue(ctx context.Context, log *zap.Logger, t reconciliationdomain.Transition) error {
	log.Warn("payment failed; marking subscription past due",
		zap.String("subscription_id", t.ExternalSubscriptionID),
		zap.String("invoice_id", t.InvoiceID))
	return e.subscriptionRepo.MarkPastDue(ctx, e.db, t.ExternalSubscriptionID, e.clock.Now())
}
