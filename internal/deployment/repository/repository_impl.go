package repository

import (
	"context"
	"time"

	deploymentdomain "github.com/apploom/apploom/internal/deployment/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() deploymentdomain.Repository {
	return &repo{}
}

func (r *repo) PublishAllForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) error {
	return r.setPublished(ctx, db, userID, true)
}

func (r *repo) UnpublishAllForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) error {
	return r.setPublished(ctx, db, userID, false)
}

func (r *repo) setPublished(ctx context.Context, db *gorm.DB, userID snowflake.ID, published bool) error {
	return db.WithContext(ctx).
		Model(&deploymentdomain.Deployment{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"published":  published,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repo) ListByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]deploymentdomain.Deployment, error) {
	var deployments []deploymentdomain.Deployment
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&deployments).Error
	if err != nil {
		return nil, err
	}
	return deployments, nil
}
