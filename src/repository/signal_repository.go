package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"positionledger/src/database"
	"positionledger/src/model"
)

// SignalRepository resolves originating signals by their trade UID,
// which outbound orders reuse as the exchange order-link id.
type SignalRepository struct {
	db *gorm.DB
}

// NewSignalRepository creates a new repository instance using the main read/write database.
func NewSignalRepository() *SignalRepository {
	logger.WithField("component", "SignalRepository").
		Info("Creating new SignalRepository with MainDB")

	return &SignalRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *SignalRepository) WithDB(db *gorm.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

// FindByTradeUID fetches the signal carrying the given trade UID.
// Returns (nil, nil) when not found.
func (r *SignalRepository) FindByTradeUID(
	ctx context.Context,
	tradeUID string,
) (*model.Signal, error) {

	if tradeUID == "" {
		return nil, nil
	}

	var signal model.Signal

	err := r.db.WithContext(ctx).
		Where("trade_uid = ?", tradeUID).
		First(&signal).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":      "SignalRepository",
			"op":        "FindByTradeUID",
			"trade_uid": tradeUID,
		}).WithError(err).Error("Failed to fetch signal")

		return nil, err
	}

	return &signal, nil
}
