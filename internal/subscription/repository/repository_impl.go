package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	subscriptiondomain "github.com/apploom/apploom/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct {
	genID *snowflake.Node
}

func Provide(genID *snowflake.Node) subscriptiondomain.Repository {
	return &repo{genID: genID}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	if subscription == nil || subscription.UserID == 0 {
		return subscriptiondomain.ErrInvalidUser
	}
	if strings.TrimSpace(subscription.ExternalSubscriptionID) == "" {
		return subscriptiondomain.ErrInvalidExternalID
	}
	if subscription.CurrentPeriodEnd.Before(subscription.CurrentPeriodStart) {
		return subscriptiondomain.ErrInvalidPeriodBoundary
	}

	now := time.Now().UTC()
	if subscription.ID == 0 {
		subscription.ID = r.genID.Generate()
	}
	if subscription.CreatedAt.IsZero() {
		subscription.CreatedAt = now
	}
	subscription.UpdatedAt = now

	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_subscription_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_id",
				"external_customer_id",
				"tier_id",
				"status",
				"current_period_start",
				"current_period_end",
				"canceled_at",
				"metadata",
				"updated_at",
			}),
		}).
		Create(subscription).Error
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*subscriptiondomain.Subscription, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, subscriptiondomain.ErrInvalidExternalID
	}

	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("external_subscription_id = ?", externalID).
		First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) FindActiveByExternalCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*subscriptiondomain.Subscription, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, subscriptiondomain.ErrInvalidExternalID
	}

	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("external_customer_id = ? AND status IN ?", customerID, []subscriptiondomain.SubscriptionStatus{
			subscriptiondomain.SubscriptionStatusActive,
			subscriptiondomain.SubscriptionStatusPastDue,
		}).
		Order("created_at DESC").
		First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) MarkCanceled(ctx context.Context, db *gorm.DB, externalIDs []string, at time.Time) error {
	ids := make([]string, 0, len(externalIDs))
	for _, id := range externalIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	return db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("external_subscription_id IN ?", ids).
		Updates(map[string]any{
			"status":      subscriptiondomain.SubscriptionStatusCanceled,
			"canceled_at": at.UTC(),
			"updated_at":  at.UTC(),
		}).Error
}

func (r *repo) MarkPastDue(ctx context.Context, db *gorm.DB, externalID string, at time.Time) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return subscriptiondomain.ErrInvalidExternalID
	}

	return db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("external_subscription_id = ?", externalID).
		Updates(map[string]any{
			"status":     subscriptiondomain.SubscriptionStatusPastDue,
			"updated_at": at.UTC(),
		}).Error
}

func (r *repo) ExtendPeriod(ctx context.Context, db *gorm.DB, externalID string, periodStart, periodEnd time.Time) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return subscriptiondomain.ErrInvalidExternalID
	}
	if periodEnd.Before(periodStart) {
		return subscriptiondomain.ErrInvalidPeriodBoundary
	}

	return db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("external_subscription_id = ?", externalID).
		Updates(map[string]any{
			"current_period_start": periodStart.UTC(),
			"current_period_end":   periodEnd.UTC(),
			"updated_at":           time.Now().UTC(),
		}).Error
}

func (r *repo) ListByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	if userID == 0 {
		return nil, subscriptiondomain.ErrInvalidUser
	}

	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}
