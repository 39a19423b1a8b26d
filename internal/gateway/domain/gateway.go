// Package domain defines the outbound interface to the external payment
// processor. The processor is an unreliable, latent collaborator: every
// call is network I/O and may fail or hang.
package domain

import (
	"context"
	"time"
)

// Subscription is the gateway's view of a subscription object.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	PriceID            string
	Metadata           map[string]string
}

// Active reports whether the gateway still bills this subscription.
func (s Subscription) Active() bool {
	switch s.Status {
	case "active", "trialing", "past_due":
		return true
	default:
		return false
	}
}

// Gateway is the payment processor client surface used by reconciliation.
type Gateway interface {
	// RetrieveSubscription fetches one subscription with its period
	// boundaries and metadata.
	RetrieveSubscription(ctx context.Context, id string) (*Subscription, error)

	// ListActiveSubscriptions returns every subscription the gateway
	// still considers active for the customer. Callers use this rather
	// than the locally stored id because the stored id can lag reality.
	ListActiveSubscriptions(ctx context.Context, customerID string) ([]Subscription, error)

	// CancelSubscription cancels at the gateway. A subscription that is
	// already gone returns ErrSubscriptionMissing; callers treat that as
	// success and must propagate every other error.
	CancelSubscription(ctx context.Context, id string) error

	// UpdateSubscriptionMetadata attaches metadata to the external
	// subscription object.
	UpdateSubscriptionMetadata(ctx context.Context, id string, metadata map[string]string) error
}
