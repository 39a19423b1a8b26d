package service

import (
	ledgerdomain "github.com/apploom/apploom/internal/ledger/domain"
	reconciliationdomain "github.com/apploom/apploom/internal/reconciliation/domain"
	subscriptiondomain "github.com/apploom/apploom/internal/subscription/domain"
)

// Skip reasons surfaced in logs and metrics.
const (
	SkipReasonInvalidPayload         = "invalid_payload"
	SkipReasonMissingUser            = "missing_user"
	SkipReasonMissingTier            = "missing_tier"
	SkipReasonMissingSubscriptionRef = "missing_subscription_ref"
	SkipReasonUnresolvedSubscription = "unresolved_subscription"
	SkipReasonSupersededSubscription = "superseded_subscription"
	SkipReasonFirstInvoice           = "first_invoice"
	SkipReasonZeroCreditPurchase     = "zero_credit_purchase"
	SkipReasonUnknownCheckoutKind    = "unknown_checkout_kind"
)

// Classify decides which state transition an event triggers, given the
// user's current ledger and the locally resolved subscription record.
// It is pure: all branching of the engine lives here, and the handlers
// stay linear.
//
// ledger is the row for the user the event references (nil when the
// event carries no resolvable user). sub is the local subscription
// record resolved from the event's external references (nil when none).
func Classify(
	event reconciliationdomain.Event,
	ledger *ledgerdomain.CreditLedger,
	sub *subscriptiondomain.Subscription,
) reconciliationdomain.Transition {
	switch event.Type {
	case reconciliationdomain.EventCheckoutCompleted:
		return classifyCheckout(event)
	case reconciliationdomain.EventSubscriptionCreated, reconciliationdomain.EventSubscriptionUpdated:
		return classifySubscriptionChange(event, ledger)
	case reconciliationdomain.EventSubscriptionDeleted:
		return classifyDeletion(event, ledger, sub)
	case reconciliationdomain.EventInvoicePaid:
		return classifyInvoicePaid(event, sub)
	case reconciliationdomain.EventInvoiceFailed:
		return classifyInvoiceFailed(event)
	default:
		return skip(SkipReasonInvalidPayload)
	}
}

func classifyCheckout(event reconciliationdomain.Event) reconciliationdomain.Transition {
	c := event.Checkout
	if c == nil {
		return skip(SkipReasonInvalidPayload)
	}
	if c.UserID == 0 {
		return skip(SkipReasonMissingUser)
	}

	switch c.Kind {
	case reconciliationdomain.CheckoutKindCredits, reconciliationdomain.CheckoutKindCloudCredits:
		if c.Credits <= 0 {
			return skip(SkipReasonZeroCreditPurchase)
		}
		return reconciliationdomain.Transition{
			Kind:              reconciliationdomain.TransitionCreditPurchase,
			UserID:            c.UserID,
			CheckoutSessionID: c.ID,
			CreditAmount:      c.Credits,
			CheckoutKind:      c.Kind,
		}
	case reconciliationdomain.CheckoutKindSubscription:
		return reconciliationdomain.Transition{
			Kind:                   reconciliationdomain.TransitionCheckoutPending,
			UserID:                 c.UserID,
			CheckoutSessionID:      c.ID,
			TierID:                 c.TierID,
			ExternalSubscriptionID: c.SubscriptionID,
			CheckoutKind:           c.Kind,
		}
	default:
		return skip(SkipReasonUnknownCheckoutKind)
	}
}

func classifySubscriptionChange(
	event reconciliationdomain.Event,
	ledger *ledgerdomain.CreditLedger,
) reconciliationdomain.Transition {
	s := event.Subscription
	if s == nil || s.ID == "" {
		return skip(SkipReasonInvalidPayload)
	}
	if s.UserID == 0 {
		return skip(SkipReasonMissingUser)
	}
	if s.TierID == "" && s.TierName == "" {
		return skip(SkipReasonMissingTier)
	}

	isFirst := ledger == nil ||
		ledger.ExternalSubscriptionID == nil ||
		*ledger.ExternalSubscriptionID == ""

	// A different incoming subscription id while the user already holds
	// a paid tier means the new subscription replaces the stored one.
	if !isFirst &&
		*ledger.ExternalSubscriptionID != s.ID &&
		ledger.MembershipTier != ledgerdomain.MembershipFree {
		return reconciliationdomain.Transition{
			Kind:                           reconciliationdomain.TransitionUpgrade,
			UserID:                         s.UserID,
			TierID:                         s.TierID,
			TierName:                       s.TierName,
			ExternalSubscriptionID:         s.ID,
			ExternalCustomerID:             s.CustomerID,
			PreviousExternalSubscriptionID: *ledger.ExternalSubscriptionID,
			PeriodStart:                    s.CurrentPeriodStart,
			PeriodEnd:                      s.CurrentPeriodEnd,
		}
	}

	return reconciliationdomain.Transition{
		Kind:                   reconciliationdomain.TransitionActivation,
		UserID:                 s.UserID,
		TierID:                 s.TierID,
		TierName:               s.TierName,
		ExternalSubscriptionID: s.ID,
		ExternalCustomerID:     s.CustomerID,
		IsFirstSubscription:    isFirst,
		PeriodStart:            s.CurrentPeriodStart,
		PeriodEnd:              s.CurrentPeriodEnd,
	}
}

func classifyDeletion(
	event reconciliationdomain.Event,
	ledger *ledgerdomain.CreditLedger,
	sub *subscriptiondomain.Subscription,
) reconciliationdomain.Transition {
	s := event.Subscription
	if s == nil || s.ID == "" {
		return skip(SkipReasonInvalidPayload)
	}

	// A deletion for a subscription the ledger no longer points at is
	// the trailing echo of a replacement: the upgrade handler cancels
	// the old subscription at the gateway, and the processor then
	// delivers subscription.deleted for it. The live balance belongs to
	// the current subscription, so the echo must not cancel anything.
	if ledger != nil && ledger.ExternalSubscriptionID != nil &&
		*ledger.ExternalSubscriptionID != "" &&
		*ledger.ExternalSubscriptionID != s.ID {
		return skip(SkipReasonSupersededSubscription)
	}

	transition := reconciliationdomain.Transition{
		Kind:                   reconciliationdomain.TransitionCancellation,
		ExternalSubscriptionID: s.ID,
	}
	switch {
	case sub != nil:
		transition.UserID = sub.UserID
	case ledger != nil:
		transition.UserID = ledger.UserID
	default:
		return skip(SkipReasonUnresolvedSubscription)
	}
	return transition
}

func classifyInvoicePaid(
	event reconciliationdomain.Event,
	sub *subscriptiondomain.Subscription,
) reconciliationdomain.Transition {
	inv := event.Invoice
	if inv == nil || inv.ID == "" {
		return skip(SkipReasonInvalidPayload)
	}
	if inv.SubscriptionID == "" {
		return skip(SkipReasonMissingSubscriptionRef)
	}
	// Activation already granted the first cycle's credits.
	if inv.BillingReason == reconciliationdomain.BillingReasonSubscriptionCreate {
		return skip(SkipReasonFirstInvoice)
	}
	if sub == nil {
		return skip(SkipReasonUnresolvedSubscription)
	}

	return reconciliationdomain.Transition{
		Kind:                   reconciliationdomain.TransitionRenewal,
		UserID:                 sub.UserID,
		TierID:                 sub.TierID,
		ExternalSubscriptionID: sub.ExternalSubscriptionID,
		ExternalCustomerID:     sub.ExternalCustomerID,
		InvoiceID:              inv.ID,
		PeriodStart:            inv.PeriodStart,
		PeriodEnd:              inv.PeriodEnd,
	}
}

func classifyInvoiceFailed(event reconciliationdomain.Event) reconciliationdomain.Transition {
	inv := event.Invoice
	if inv == nil || inv.SubscriptionID == "" {
		return skip(SkipReasonInvalidPayload)
	}
	return reconciliationdomain.Transition{
		Kind:                   reconciliationdomain.TransitionPastDue,
		ExternalSubscriptionID: inv.SubscriptionID,
		InvoiceID:              inv.ID,
	}
}

func skip(reason string) reconciliationdomain.Transition {
	return reconciliationdomain.Transition{
		Kind:   reconciliationdomain.TransitionSkip,
		Reason: reason,
	}
}
