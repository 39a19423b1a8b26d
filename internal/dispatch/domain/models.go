// Package domain defines the durable webhook inbox. Deliveries are
// acknowledged as soon as they are persisted; a polling worker applies
// them afterwards so a slow gateway call never stalls the webhook
// endpoint.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type EventStatus string

const (
	EventStatusPending   EventStatus = "PENDING"
	EventStatusProcessed EventStatus = "PROCESSED"
	EventStatusFailed    EventStatus = "FAILED"
)

// WebhookEvent is one persisted delivery. The (provider,
// provider_event_id) unique index absorbs gateway redeliveries at the
// door.
type WebhookEvent struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	Provider        string       `gorm:"size:32;uniqueIndex:ux_webhook_events_provider_event"`
	ProviderEventID string       `gorm:"size:255;uniqueIndex:ux_webhook_events_provider_event"`
	EventType       string       `gorm:"size:64"`
	Payload         []byte

	Status    EventStatus `gorm:"size:16;index"`
	Attempts  int
	LastError string `gorm:"size:1024"`

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
