// Package domain contains persistence models for the user credit ledger
// and its append-only transaction log.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// MembershipTier represents the user's subscription level.
type MembershipTier string

const (
	MembershipFree       MembershipTier = "FREE"
	MembershipPro        MembershipTier = "PRO"
	MembershipEnterprise MembershipTier = "ENTERPRISE"
)

// TransactionType tags a credit transaction with its origin.
type TransactionType string

const (
	TransactionPurchase          TransactionType = "PURCHASE"
	TransactionMonthlyAllocation TransactionType = "MONTHLY_ALLOCATION"
	TransactionRefund            TransactionType = "REFUND"
	TransactionCloudCredit       TransactionType = "CLOUD_CREDIT"
)

// CreditLedger is the per-user credit state. One row per user, created at
// signup with FREE tier and zero balances, mutated only by reconciliation.
//
// Invariant: immediately after any reconciliation event
// CreditBalance == BasePlanCredits + CarryOverCredits. The balance may
// drift downward between events as usage is deducted.
type CreditLedger struct {
	UserID                 snowflake.ID   `gorm:"primaryKey"`
	CreditBalance          int64          `gorm:"not null;default:0"`
	BasePlanCredits        int64          `gorm:"not null;default:0"`
	CarryOverCredits       int64          `gorm:"not null;default:0"`
	CarryOverExpiresAt     *time.Time     `gorm:""`
	MembershipTier         MembershipTier `gorm:"type:text;not null;default:FREE"`
	MembershipExpiresAt    *time.Time     `gorm:""`
	ExternalSubscriptionID *string        `gorm:"type:text;index"`
	ExternalCustomerID     *string        `gorm:"type:text;index"`
	MonthlyCreditsUsed     int64          `gorm:"not null;default:0"`
	LastCreditReset        time.Time      `gorm:"not null"`
	CreatedAt              time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditLedger) TableName() string { return "credit_ledgers" }

// CreditTransaction is an append-only audit entry for a balance change.
//
// ExternalKey carries the stable external identifier that proves an
// external event was applied: the subscription id for activations and
// upgrades, the invoice id for renewals, the checkout session id for
// purchases. The unique index on (user_id, type, external_key) is the
// idempotency contract the reconciliation engine depends on.
type CreditTransaction struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	UserID      snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_credit_transactions_user_type_key,priority:1"`
	Type        TransactionType   `gorm:"type:text;not null;uniqueIndex:ux_credit_transactions_user_type_key,priority:2"`
	Amount      int64             `gorm:"not null"`
	Description string            `gorm:"type:text;not null"`
	ExternalKey *string           `gorm:"type:text;uniqueIndex:ux_credit_transactions_user_type_key,priority:3"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }
