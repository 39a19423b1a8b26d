package service

import (
	"context"
	"fmt"

	ledgerdomain "github.com/apploom/apploom/internal/ledger/domain"
	reconciliationdomain "github.com/apploom/apploom/internal/reconciliation/domain"
	subscriptiondomain "github.com/apploom/apploom/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// applyCreditPurchase credits a one-time checkout. The session id is the
// idempotency key; a replayed completion event inserts nothing.
func (e *Engine) applyCreditPurchase(ctx context.Context, log *zap.Logger, t reconciliationdomain.Transition) error {
	txType := ledgerdomain.TransactionPurchase
	if t.CheckoutKind == reconciliationdomain.CheckoutKindCloudCredits {
		txType = ledgerdomain.TransactionCloudCredit
	}

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ledger, err := e.ledgerRepo.EnsureForUser(ctx, tx, t.UserID)
		if err != nil {
			return err
		}

		key := t.CheckoutSessionID
		inserted, err := e.ledgerRepo.AppendTransaction(ctx, tx, &ledgerdomain.CreditTransaction{
			UserID:      t.UserID,
			Type:        txType,
			Amount:      t.CreditAmount,
			Description: fmt.Sprintf("purchased %d credits", t.CreditAmount),
			ExternalKey: &key,
			Metadata: datatypes.JSONMap{
				"checkoutSessionId": t.CheckoutSessionID,
				"kind":              string(t.CheckoutKind),
			},
		})
		if err != nil {
			return err
		}
		if !inserted {
			return errAlreadyApplied
		}

		ledger.CreditBalance += t.CreditAmount
		return e.ledgerRepo.Save(ctx, tx, ledger)
	})
}

// applyCheckoutPending records a subscription checkout whose
// subscription events have not arrived yet. The activation that follows
// owns the credit grant; this only pins the user/subscription mapping so
// those events resolve.
func (e *Engine) applyCheckoutPending(ctx context.Context, log *zap.Logger, t reconciliationdomain.Transition) error {
	if t.ExternalSubscriptionID == "" {
		log.Info("subscription checkout completed without a subscription reference",
			zap.String("checkout_session_id", t.CheckoutSessionID))
		return nil
	}

	existing, err := e.subscriptionRepo.FindByExternalID(ctx, e.db, t.ExternalSubscriptionID)
	if err != nil {
		return err
	}
	if existing != nil {
		// The subscription events won the race; nothing to pin.
		return nil
	}

	return e.subscriptionRepo.Upsert(ctx, e.db, &subscriptiondomain.Subscription{
		UserID:                 t.UserID,
		ExternalSubscriptionID: t.ExternalSubscriptionID,
		TierID:                 t.TierID,
		Status:                 subscriptiondomain.SubscriptionStatusPending,
		Metadata: datatypes.JSONMap{
			"checkoutSessionId": t.CheckoutSessionID,
		},
	})
}
