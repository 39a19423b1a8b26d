package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TransitionKind enumerates the ledger mutations the engine can apply.
type TransitionKind string

const (
	TransitionActivation      TransitionKind = "activation"
	TransitionUpgrade         TransitionKind = "upgrade"
	TransitionRenewal         TransitionKind = "renewal"
	TransitionCancellation    TransitionKind = "cancellation"
	TransitionPastDue         TransitionKind = "past_due"
	TransitionCreditPurchase  TransitionKind = "credit_purchase"
	TransitionCheckoutPending TransitionKind = "checkout_pending"
	TransitionSkip            TransitionKind = "skip"
)

// Transition is the classified outcome for one event: which state
// machine edge applies and the references the handler needs. Exactly one
// classification exists per event, so all branching lives in Classify
// and the handlers stay linear.
type Transition struct {
	Kind   TransitionKind
	Reason string // set for Skip

	UserID                 snowflake.ID
	TierID                 string
	TierName               string
	ExternalSubscriptionID string
	ExternalCustomerID     string

	// PreviousExternalSubscriptionID is the stored subscription being
	// replaced on an upgrade.
	PreviousExternalSubscriptionID string

	// IsFirstSubscription is true when the user has never held an
	// external subscription; an upgrade then carries nothing over.
	IsFirstSubscription bool

	InvoiceID   string
	PeriodStart time.Time
	PeriodEnd   time.Time

	CheckoutSessionID string
	CreditAmount      int64
	CheckoutKind      CheckoutKind
}
