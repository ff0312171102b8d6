package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"positionledger/src/database"
	"positionledger/src/model"
)

// AccountRepository reads and updates exchange accounts.
type AccountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new repository instance using the main read/write database.
func NewAccountRepository() *AccountRepository {
	logger.WithField("component", "AccountRepository").
		Info("Creating new AccountRepository with MainDB")

	return &AccountRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *AccountRepository) WithDB(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// FindByID fetches one account. Returns (nil, nil) when not found or
// soft-deleted.
func (r *AccountRepository) FindByID(
	ctx context.Context,
	id uint,
) (*model.Account, error) {

	var account model.Account

	err := r.db.WithContext(ctx).
		Where("id = ? AND is_deleted = ?", id, false).
		First(&account).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "AccountRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("Account not found")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "AccountRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch account")

		return nil, err
	}

	return &account, nil
}

// FindActive returns all active, non-deleted accounts.
func (r *AccountRepository) FindActive(
	ctx context.Context,
) ([]model.Account, error) {

	var accounts []model.Account

	err := r.db.WithContext(ctx).
		Where("is_active = ? AND is_deleted = ?", true, false).
		Order("id ASC").
		Find(&accounts).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AccountRepository",
			"op":   "FindActive",
		}).WithError(err).Error("Failed to fetch active accounts")

		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "AccountRepository",
		"op":          "FindActive",
		"rows_return": len(accounts),
	}).Info("Active accounts fetched")

	return accounts, nil
}

// TouchLastSync records when the account was last synced against the
// exchange.
func (r *AccountRepository) TouchLastSync(
	ctx context.Context,
	id uint,
	at time.Time,
) error {

	err := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Update("last_sync_at", at).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AccountRepository",
			"op":   "TouchLastSync",
			"id":   id,
		}).WithError(err).Error("Failed to update last_sync_at")

		return err
	}

	return nil
}
