// Package domain defines the normalized billing event stream consumed by
// the reconciliation engine and the transition union it classifies
// events into.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EventType tags an inbound webhook event.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout.session.completed"
	EventSubscriptionCreated EventType = "customer.subscription.created"
	EventSubscriptionUpdated EventType = "customer.subscription.updated"
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"
	EventInvoicePaid         EventType = "invoice.payment_succeeded"
	EventInvoiceFailed       EventType = "invoice.payment_failed"
)

// CheckoutKind is the product-side meaning of a completed checkout,
// carried in the session metadata.
type CheckoutKind string

const (
	CheckoutKindCredits      CheckoutKind = "credits"
	CheckoutKindCloudCredits CheckoutKind = "cloud_credits"
	CheckoutKindSubscription CheckoutKind = "subscription"
)

// Event is one normalized webhook delivery. Exactly one payload variant
// is set, matching Type.
type Event struct {
	ID   string
	Type EventType

	Checkout     *CheckoutSession
	Subscription *SubscriptionEvent
	Invoice      *InvoiceEvent
}

// CheckoutSession carries a checkout.session.completed payload.
type CheckoutSession struct {
	ID             string
	UserID         snowflake.ID
	Kind           CheckoutKind
	Credits        int64
	TierID         string
	MonthlyCredits int64
	SubscriptionID string
	AmountTotal    int64
	PaymentIntent  string
	CustomerEmail  string
}

// SubscriptionEvent carries a customer.subscription.* payload.
type SubscriptionEvent struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	UserID             snowflake.ID
	TierID             string
	TierName           string
	SessionID          string
	PriceID            string
}

// InvoiceEvent carries an invoice.payment_succeeded or
// invoice.payment_failed payload.
type InvoiceEvent struct {
	ID             string
	SubscriptionID string
	CustomerID     string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	BillingReason  string
}

// BillingReasonSubscriptionCreate marks the first invoice of a
// subscription; activation already granted that cycle's credits.
const BillingReasonSubscriptionCreate = "subscription_create"
