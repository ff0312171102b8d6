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

// FundingRepository stores funding events. Rows are write-once and are
// only ever read back for attribution to position time windows.
type FundingRepository struct {
	db *gorm.DB
}

// NewFundingRepository creates a new repository instance using the main read/write database.
func NewFundingRepository() *FundingRepository {
	logger.WithField("component", "FundingRepository").
		Info("Creating new FundingRepository with MainDB")

	return &FundingRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *FundingRepository) WithDB(db *gorm.DB) *FundingRepository {
	return &FundingRepository{db: db}
}

// Persist inserts one funding event if no row with the same
// (account_id, symbol, ts) exists yet; re-ingesting a covered window is
// a no-op. Callers must pre-filter to true funding-type records; this
// repository does not inspect the payload.
func (r *FundingRepository) Persist(
	ctx context.Context,
	event *model.FundingEvent,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":   "FundingRepository",
		"op":     "Persist",
		"symbol": event.Symbol,
		"amount": event.AmountUSDT,
	}).Debug("Persisting funding event")

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "symbol"}, {Name: "ts"}},
			DoNothing: true,
		}).
		Create(event).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "FundingRepository",
			"op":   "Persist",
		}).WithError(err).Error("Failed to persist funding event")

		return err
	}

	return nil
}

// InWindow returns the funding events for (account, symbol) whose
// timestamp falls inside [from, to], ordered by time.
func (r *FundingRepository) InWindow(
	ctx context.Context,
	accountID uint,
	symbol string,
	from, to time.Time,
) ([]model.FundingEvent, error) {

	var events []model.FundingEvent

	err := r.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ? AND ts >= ? AND ts <= ?", accountID, symbol, from, to).
		Order("ts ASC").
		Find(&events).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "FundingRepository",
			"op":         "InWindow",
			"account_id": accountID,
			"symbol":     symbol,
		}).WithError(err).Error("Failed to fetch funding events")

		return nil, err
	}

	return events, nil
}

// SymbolsSince returns the distinct symbols with funding events at or
// after since. Used to widen reconcile passes to symbols whose only new
// activity is a funding settlement.
func (r *FundingRepository) SymbolsSince(
	ctx context.Context,
	accountID uint,
	since time.Time,
) ([]string, error) {

	var symbols []string

	err := r.db.WithContext(ctx).
		Model(&model.FundingEvent{}).
		Where("account_id = ? AND ts >= ?", accountID, since).
		Distinct("symbol").
		Pluck("symbol", &symbols).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "FundingRepository",
			"op":         "SymbolsSince",
			"account_id": accountID,
		}).WithError(err).Error("Failed to fetch funding symbols")

		return nil, err
	}

	return symbols, nil
}

// LatestTimestamp returns the newest funding timestamp stored for the
// account, or nil when none exist.
func (r *FundingRepository) LatestTimestamp(
	ctx context.Context,
	accountID uint,
) (*time.Time, error) {

	var event model.FundingEvent

	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("ts DESC").
		First(&event).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":       "FundingRepository",
			"op":         "LatestTimestamp",
			"account_id": accountID,
		}).WithError(err).Error("Failed to fetch latest funding timestamp")

		return nil, err
	}

	return &event.Ts, nil
}
