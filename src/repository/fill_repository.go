package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"positionledger/src/database"
	"positionledger/src/model"
)

// FillRepository is the durable, deduplicated store for raw execution
// fills. Fills are immutable once stored; the only update this
// repository ever performs is the false->true flip of is_consumed.
type FillRepository struct {
	db *gorm.DB
}

// NewFillRepository creates a new repository instance using the main read/write database.
func NewFillRepository() *FillRepository {
	logger.WithField("component", "FillRepository").
		Info("Creating new FillRepository with MainDB")

	return &FillRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *FillRepository) WithDB(db *gorm.DB) *FillRepository {
	return &FillRepository{db: db}
}

// Persist inserts a fill if no row with the same
// (account_id, exchange_exec_id) exists yet. Re-ingesting the same fill
// is a successful no-op, never an error.
func (r *FillRepository) Persist(
	ctx context.Context,
	fill *model.Fill,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":    "FillRepository",
		"op":      "Persist",
		"symbol":  fill.Symbol,
		"side":    fill.Side,
		"exec_id": fill.ExchangeExecID,
	}).Debug("Persisting fill")

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "exchange_exec_id"}},
			DoNothing: true,
		}).
		Create(fill).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "FillRepository",
			"op":      "Persist",
			"exec_id": fill.ExchangeExecID,
		}).WithError(err).Error("Failed to persist fill")

		return err
	}

	return nil
}

// Unconsumed returns the fills with is_consumed = false for one
// account, optionally restricted to a single symbol, ordered by
// (ts, id) ascending. The insertion id is the tie-break for fills
// sharing a timestamp so replay order is deterministic.
func (r *FillRepository) Unconsumed(
	ctx context.Context,
	accountID uint,
	symbol string,
) ([]model.Fill, error) {

	logger.WithFields(map[string]interface{}{
		"repo":       "FillRepository",
		"op":         "Unconsumed",
		"account_id": accountID,
		"symbol":     symbol,
	}).Debug("Fetching unconsumed fills")

	query := r.db.WithContext(ctx).
		Where("account_id = ? AND is_consumed = ?", accountID, false)

	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}

	var fills []model.Fill
	if err := query.Order("ts ASC, id ASC").Find(&fills).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "FillRepository",
			"op":         "Unconsumed",
			"account_id": accountID,
		}).WithError(err).Error("Failed to fetch unconsumed fills")

		return nil, err
	}

	return fills, nil
}

// ClaimConsumed flips is_consumed to true for the given fill ids,
// conditional on them still being unconsumed. If any row was already
// claimed by a concurrent pass the whole claim fails with
// ErrFillsAlreadyConsumed so the caller can roll back its transaction.
func (r *FillRepository) ClaimConsumed(
	ctx context.Context,
	fillIDs []uint,
) error {

	if len(fillIDs) == 0 {
		return nil
	}

	logger.WithFields(map[string]interface{}{
		"repo":  "FillRepository",
		"op":    "ClaimConsumed",
		"fills": len(fillIDs),
	}).Debug("Claiming fills as consumed")

	res := r.db.WithContext(ctx).
		Model(&model.Fill{}).
		Where("id IN ? AND is_consumed = ?", fillIDs, false).
		Update("is_consumed", true)

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "FillRepository",
			"op":   "ClaimConsumed",
		}).WithError(res.Error).Error("Failed to claim fills")

		return res.Error
	}

	if res.RowsAffected != int64(len(fillIDs)) {
		logger.WithFields(map[string]interface{}{
			"repo":      "FillRepository",
			"op":        "ClaimConsumed",
			"requested": len(fillIDs),
			"claimed":   res.RowsAffected,
		}).Warn("Short claim, fills already consumed elsewhere")

		return ErrFillsAlreadyConsumed
	}

	return nil
}

// LatestTimestamp returns the newest fill timestamp stored for the
// account, or nil when the account has no fills yet. Used to resume
// backfills from the last locally known point.
func (r *FillRepository) LatestTimestamp(
	ctx context.Context,
	accountID uint,
) (*time.Time, error) {

	var fill model.Fill

	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("ts DESC").
		First(&fill).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":       "FillRepository",
			"op":         "LatestTimestamp",
			"account_id": accountID,
		}).WithError(err).Error("Failed to fetch latest fill timestamp")

		return nil, err
	}

	return &fill.Ts, nil
}
