package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists subscription records. Methods accept the db handle
// so reconciliation can combine them with ledger writes in one
// transaction.
type Repository interface {
	// Upsert inserts or refreshes the record keyed by external
	// subscription id.
	Upsert(ctx context.Context, db *gorm.DB, subscription *Subscription) error

	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Subscription, error)

	// FindActiveByExternalCustomerID is the eventual-consistency
	// fallback used when an invoice references a subscription the
	// direct lookup cannot resolve yet.
	FindActiveByExternalCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*Subscription, error)

	MarkCanceled(ctx context.Context, db *gorm.DB, externalIDs []string, at time.Time) error
	MarkPastDue(ctx context.Context, db *gorm.DB, externalID string, at time.Time) error
	ExtendPeriod(ctx context.Context, db *gorm.DB, externalID string, periodStart, periodEnd time.Time) error

	ListByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]Subscription, error)
}
