package repository

import (
	"context"
	"strings"
	"time"

	dispatchdomain "github.com/apploom/apploom/internal/dispatch/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct {
	genID *snowflake.Node
}

func Provide(genID *snowflake.Node) dispatchdomain.Repository {
	return &repo{genID: genID}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *dispatchdomain.WebhookEvent) (bool, error) {
	if event == nil ||
		strings.TrimSpace(event.Provider) == "" ||
		strings.TrimSpace(event.ProviderEventID) == "" {
		return false, dispatchdomain.ErrInvalidEvent
	}
	if event.ID == 0 {
		event.ID = r.genID.Generate()
	}
	if event.Status == "" {
		event.Status = dispatchdomain.EventStatusPending
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "provider"},
				{Name: "provider_event_id"},
			},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ListPending(ctx context.Context, db *gorm.DB, limit, maxAttempts int) ([]dispatchdomain.WebhookEvent, error) {
	if limit <= 0 {
		limit = 25
	}

	var events []dispatchdomain.WebhookEvent
	err := db.WithContext(ctx).
		Where("status = ? AND attempts < ?", dispatchdomain.EventStatusPending, maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id int64, at time.Time) error {
	return db.WithContext(ctx).
		Model(&dispatchdomain.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       dispatchdomain.EventStatusProcessed,
			"processed_at": at,
			"last_error":   "",
			"updated_at":   at,
		}).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id int64, attempts, maxAttempts int, lastError string) error {
	status := dispatchdomain.EventStatusPending
	if attempts >= maxAttempts {
		status = dispatchdomain.EventStatusFailed
	}
	if len(lastError) > 1024 {
		lastError = lastError[:1024]
	}
	return db.WithContext(ctx).
		Model(&dispatchdomain.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"attempts":   attempts,
			"last_error": lastError,
			"updated_at": time.Now().UTC(),
		}).Error
}
