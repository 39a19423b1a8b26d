// Package domain contains the persisted mirror of external payment
// processor subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents lifecycle states for a subscription record.
type SubscriptionStatus string

const (
	SubscriptionStatusPending  SubscriptionStatus = "PENDING"
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
)

// Subscription mirrors one external subscription object. The external
// subscription id is unique: at most one local row per gateway
// subscription, and at most one ACTIVE row per user at any time.
type Subscription struct {
	ID                     snowflake.ID       `gorm:"primaryKey"`
	UserID                 snowflake.ID       `gorm:"not null;index"`
	ExternalSubscriptionID string             `gorm:"type:text;not null;uniqueIndex:ux_subscriptions_external_id"`
	ExternalCustomerID     string             `gorm:"type:text;not null;index"`
	TierID                 string             `gorm:"type:text;not null"`
	Status                 SubscriptionStatus `gorm:"type:text;not null"`
	CurrentPeriodStart     time.Time          `gorm:"not null"`
	CurrentPeriodEnd       time.Time          `gorm:"not null"`
	CanceledAt             *time.Time         `gorm:""`
	Metadata               datatypes.JSONMap  `gorm:"type:jsonb"`
	CreatedAt              time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }
