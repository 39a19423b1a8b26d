package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists credit ledgers and their transaction log. Methods
// accept the db handle so callers can run several mutations inside one
// transaction.
type Repository interface {
	FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*CreditLedger, error)

	// FindByExternalSubscriptionID resolves the ledger holding the
	// external subscription reference. Used when a deletion event
	// arrives for a subscription with no local record.
	FindByExternalSubscriptionID(ctx context.Context, db *gorm.DB, externalID string) (*CreditLedger, error)
	EnsureForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*CreditLedger, error)
	Save(ctx context.Context, db *gorm.DB, ledger *CreditLedger) error

	// AppendTransaction inserts a log entry. Entries carrying an
	// ExternalKey insert with ON CONFLICT DO NOTHING against the
	// (user_id, type, external_key) unique index; the returned bool
	// reports whether a row was actually written.
	AppendTransaction(ctx context.Context, db *gorm.DB, entry *CreditTransaction) (bool, error)

	// HasAllocation reports whether a MONTHLY_ALLOCATION entry already
	// exists for the external key. This is the idempotency guard checked
	// before any mutating transaction begins.
	HasAllocation(ctx context.Context, db *gorm.DB, userID snowflake.ID, externalKey string) (bool, error)

	ListTransactions(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]CreditTransaction, error)

	// DeductUsage spends credits outside reconciliation (the product's
	// usage path). It never lets the balance go negative.
	DeductUsage(ctx context.Context, db *gorm.DB, userID snowflake.ID, amount int64, description string) error
}
