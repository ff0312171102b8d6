package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"positionledger/src/database"
	"positionledger/src/model"
)

// InstrumentRepository stores discovered instruments for symbol
// enumeration during backfills.
type InstrumentRepository struct {
	db *gorm.DB
}

// NewInstrumentRepository creates a new repository instance using the main read/write database.
func NewInstrumentRepository() *InstrumentRepository {
	logger.WithField("component", "InstrumentRepository").
		Info("Creating new InstrumentRepository with MainDB")

	return &InstrumentRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *InstrumentRepository) WithDB(db *gorm.DB) *InstrumentRepository {
	return &InstrumentRepository{db: db}
}

// UpsertAll inserts or refreshes the given instruments, keyed by symbol.
func (r *InstrumentRepository) UpsertAll(
	ctx context.Context,
	instruments []model.Instrument,
) error {

	if len(instruments) == 0 {
		return nil
	}

	logger.WithFields(map[string]interface{}{
		"repo":  "InstrumentRepository",
		"op":    "UpsertAll",
		"count": len(instruments),
	}).Debug("Upserting instruments")

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{"base_currency", "quote_currency", "tick_size", "step_size", "refreshed_at"}),
		}).
		Create(&instruments).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "InstrumentRepository",
			"op":   "UpsertAll",
		}).WithError(err).Error("Failed to upsert instruments")

		return err
	}

	return nil
}

// ListSymbols returns all known instrument symbols, sorted.
func (r *InstrumentRepository) ListSymbols(
	ctx context.Context,
) ([]string, error) {

	var symbols []string

	err := r.db.WithContext(ctx).
		Model(&model.Instrument{}).
		Order("symbol ASC").
		Pluck("symbol", &symbols).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "InstrumentRepository",
			"op":   "ListSymbols",
		}).WithError(err).Error("Failed to list instrument symbols")

		return nil, err
	}

	return symbols, nil
}
