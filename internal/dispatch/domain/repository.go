package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrInvalidEvent = errors.New("invalid_event")

type Repository interface {
	// Insert persists a delivery. The returned bool reports whether the
	// row was written; false means the gateway already delivered this
	// event id.
	Insert(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)

	// ListPending returns the oldest undispatched events still under the
	// attempt budget.
	ListPending(ctx context.Context, db *gorm.DB, limit, maxAttempts int) ([]WebhookEvent, error)

	MarkProcessed(ctx context.Context, db *gorm.DB, id int64, at time.Time) error

	// MarkFailed bumps the attempt counter and records the error. Events
	// that exhaust the budget flip to FAILED and stop being polled.
	MarkFailed(ctx context.Context, db *gorm.DB, id int64, attempts, maxAttempts int, lastError string) error
}
