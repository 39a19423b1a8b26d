package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	ledgerdomain "github.com/apploom/apploom/internal/ledger/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct {
	genID *snowflake.Node
}

func Provide(genID *snowflake.Node) ledgerdomain.Repository {
	return &repo{genID: genID}
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*ledgerdomain.CreditLedger, error) {
	if userID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}

	var ledger ledgerdomain.CreditLedger
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&ledger).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ledger, nil
}

func (r *repo) FindByExternalSubscriptionID(ctx context.Context, db *gorm.DB, externalID string) (*ledgerdomain.CreditLedger, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, ledgerdomain.ErrInvalidUser
	}

	var ledger ledgerdomain.CreditLedger
	err := db.WithContext(ctx).
		Where("external_subscription_id = ?", externalID).
		First(&ledger).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ledger, nil
}

func (r *repo) EnsureForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*ledgerdomain.CreditLedger, error) {
	if userID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}

	existing, err := r.FindByUserID(ctx, db, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	ledger := ledgerdomain.CreditLedger{
		UserID:          userID,
		MembershipTier:  ledgerdomain.MembershipFree,
		LastCreditReset: now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&ledger).Error
	if err != nil {
		return nil, err
	}

	// Re-read in case a concurrent signup won the insert.
	return r.FindByUserID(ctx, db, userID)
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, ledger *ledgerdomain.CreditLedger) error {
	if ledger == nil || ledger.UserID == 0 {
		return ledgerdomain.ErrInvalidUser
	}
	ledger.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Save(ledger).Error
}

func (r *repo) AppendTransaction(ctx context.Context, db *gorm.DB, entry *ledgerdomain.CreditTransaction) (bool, error) {
	if entry == nil || entry.UserID == 0 {
		return false, ledgerdomain.ErrInvalidTransaction
	}
	if entry.Type == "" {
		return false, ledgerdomain.ErrInvalidTransaction
	}
	if entry.ID == 0 {
		entry.ID = r.genID.Generate()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if entry.ExternalKey == nil || strings.TrimSpace(*entry.ExternalKey) == "" {
		entry.ExternalKey = nil
		err := db.WithContext(ctx).Create(entry).Error
		if err != nil {
			return false, err
		}
		return true, nil
	}

	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"},
				{Name: "type"},
				{Name: "external_key"},
			},
			DoNothing: true,
		}).
		Create(entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) HasAllocation(ctx context.Context, db *gorm.DB, userID snowflake.ID, externalKey string) (bool, error) {
	externalKey = strings.TrimSpace(externalKey)
	if userID == 0 || externalKey == "" {
		return false, ledgerdomain.ErrInvalidTransaction
	}

	var count int64
	err := db.WithContext(ctx).
		Model(&ledgerdomain.CreditTransaction{}).
		Where("user_id = ? AND type = ? AND external_key = ?",
			userID, ledgerdomain.TransactionMonthlyAllocation, externalKey).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]ledgerdomain.CreditTransaction, error) {
	if userID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if limit <= 0 {
		limit = 50
	}

	var entries []ledgerdomain.CreditTransaction
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) DeductUsage(ctx context.Context, db *gorm.DB, userID snowflake.ID, amount int64, description string) error {
	if userID == 0 {
		return ledgerdomain.ErrInvalidUser
	}
	if amount <= 0 {
		return ledgerdomain.ErrInvalidAmount
	}

	result := db.WithContext(ctx).Exec(
		`UPDATE credit_ledgers
		 SET credit_balance = credit_balance - ?,
		     monthly_credits_used = monthly_credits_used + ?,
		     updated_at = ?
		 WHERE user_id = ? AND credit_balance >= ?`,
		amount, amount, time.Now().UTC(), userID, amount,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledgerdomain.ErrInsufficientCredit
	}
	return nil
}
