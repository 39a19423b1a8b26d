// Package domain contains the deployment rows whose published flag
// follows the owner's subscription state.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Deployment is a user's published app build.
type Deployment struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	UserID    snowflake.ID `gorm:"not null;index"`
	Name      string       `gorm:"type:text;not null"`
	Published bool         `gorm:"not null;default:false"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Deployment) TableName() string { return "deployments" }

// Repository flips deployment visibility in bulk during reconciliation.
type Repository interface {
	PublishAllForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) error
	UnpublishAllForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) error
	ListByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]Deployment, error)
}
