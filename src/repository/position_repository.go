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

// PositionRepository is the ledger of reconstructed positions. It is
// written by the reconciler and read by the reporting surface.
type PositionRepository struct {
	db *gorm.DB
}

// NewPositionRepository creates a new repository instance using the main read/write database.
func NewPositionRepository() *PositionRepository {
	logger.WithField("component", "PositionRepository").
		Info("Creating new PositionRepository with MainDB")

	return &PositionRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *PositionRepository) WithDB(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// FindOpen fetches the open position for (account, symbol).
// Returns (nil, nil) when there is none.
func (r *PositionRepository) FindOpen(
	ctx context.Context,
	accountID uint,
	symbol string,
) (*model.Position, error) {

	logger.WithFields(map[string]interface{}{
		"repo":       "PositionRepository",
		"op":         "FindOpen",
		"account_id": accountID,
		"symbol":     symbol,
	}).Debug("Fetching open position")

	var position model.Position

	err := r.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ? AND status = ?", accountID, symbol, model.PositionStatusOpen).
		First(&position).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":       "PositionRepository",
			"op":         "FindOpen",
			"account_id": accountID,
			"symbol":     symbol,
		}).WithError(err).Error("Failed to fetch open position")

		return nil, err
	}

	return &position, nil
}

// Create inserts a new position. For open positions the
// one-open-per-(account, symbol) invariant is enforced: the call fails
// with ErrOpenPositionExists when an open row is already present.
func (r *PositionRepository) Create(
	ctx context.Context,
	position *model.Position,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":       "PositionRepository",
		"op":         "Create",
		"account_id": position.AccountID,
		"symbol":     position.Symbol,
		"status":     position.Status,
		"side":       position.Side,
		"qty":        position.Quantity,
	}).Debug("Creating position")

	if position.Status == model.PositionStatusOpen {
		existing, err := r.FindOpen(ctx, position.AccountID, position.Symbol)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrOpenPositionExists
		}
	}

	err := r.db.WithContext(ctx).Create(position).Error
	if err != nil {
		// The partial unique index on open positions backs up the
		// check-then-create against concurrent writers.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrOpenPositionExists
		}

		logger.WithFields(map[string]interface{}{
			"repo":   "PositionRepository",
			"op":     "Create",
			"symbol": position.Symbol,
		}).WithError(err).Error("Failed to create position")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "Create",
		"position_id": position.ID,
		"status":      position.Status,
	}).Info("Position created")

	return nil
}

// UpdateOpen rewrites the mutable aggregate fields of a still-open
// position. The carry stage recomputes these from scratch each pass, so
// repeated calls with the same fill set are idempotent.
func (r *PositionRepository) UpdateOpen(
	ctx context.Context,
	position *model.Position,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "UpdateOpen",
		"position_id": position.ID,
		"qty":         position.Quantity,
	}).Debug("Updating open position aggregates")

	res := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("id = ? AND status = ?", position.ID, model.PositionStatusOpen).
		Updates(map[string]interface{}{
			"quantity":              position.Quantity,
			"side":                  position.Side,
			"entry_price_vwap":      position.EntryPriceVWAP,
			"entry_price_best":      position.EntryPriceBest,
			"fee_open_usdt":         position.FeeOpenUSDT,
			"trade_uid":             position.TradeUID,
			"signal_id":             position.SignalID,
			"timelag_signal_bot_ms": position.TimelagSignalBotMs,
			"timelag_bot_proc_ms":   position.TimelagBotProcMs,
			"timelag_bot_exch_ms":   position.TimelagBotExchMs,
			"first_exec_at":         position.FirstExecAt,
			"last_exec_at":          position.LastExecAt,
			"opened_at":             position.OpenedAt,
		})

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "PositionRepository",
			"op":          "UpdateOpen",
			"position_id": position.ID,
		}).WithError(res.Error).Error("Failed to update open position")

		return res.Error
	}

	if res.RowsAffected == 0 {
		return ErrPositionAlreadyClosed
	}

	return nil
}

// FinalizeValues carries everything needed to transition an open
// position to closed.
type FinalizeValues struct {
	ExitPriceVWAP       float64
	ExitPriceBest       float64
	FeeCloseUSDT        float64
	FundingUSDT         float64
	PnlUSDT             float64
	SlippageEntryUSDT   *float64
	SlippageExitUSDT    *float64
	SlippageTimelagUSDT *float64
	SyntheticClose      bool
	LastExecAt          *time.Time
	ClosedAt            time.Time
}

// Finalize transitions an open position to closed, writing the exit
// aggregates and realized pnl. Guarded by the status check so calling
// it twice for the same position fails with ErrPositionAlreadyClosed.
func (r *PositionRepository) Finalize(
	ctx context.Context,
	positionID uint,
	values FinalizeValues,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "Finalize",
		"position_id": positionID,
		"pnl":         values.PnlUSDT,
	}).Debug("Finalizing position")

	res := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("id = ? AND status = ?", positionID, model.PositionStatusOpen).
		Updates(map[string]interface{}{
			"status":                model.PositionStatusClosed,
			"exit_price_vwap":       values.ExitPriceVWAP,
			"exit_price_best":       values.ExitPriceBest,
			"fee_close_usdt":        values.FeeCloseUSDT,
			"funding_usdt":          values.FundingUSDT,
			"pnl_usdt":              values.PnlUSDT,
			"slippage_entry_usdt":   values.SlippageEntryUSDT,
			"slippage_exit_usdt":    values.SlippageExitUSDT,
			"slippage_timelag_usdt": values.SlippageTimelagUSDT,
			"synthetic_close":       values.SyntheticClose,
			"last_exec_at":          values.LastExecAt,
			"closed_at":             values.ClosedAt,
		})

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "PositionRepository",
			"op":          "Finalize",
			"position_id": positionID,
		}).WithError(res.Error).Error("Failed to finalize position")

		return res.Error
	}

	if res.RowsAffected == 0 {
		logger.WithFields(map[string]interface{}{
			"repo":        "PositionRepository",
			"op":          "Finalize",
			"position_id": positionID,
		}).Warn("Finalize matched no open position")

		return ErrPositionAlreadyClosed
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "Finalize",
		"position_id": positionID,
	}).Info("Position finalized")

	return nil
}

// FindClosedSince returns the closed positions for (account, symbol)
// whose closed_at is at or after since, oldest first.
func (r *PositionRepository) FindClosedSince(
	ctx context.Context,
	accountID uint,
	symbol string,
	since time.Time,
) ([]model.Position, error) {

	var positions []model.Position

	err := r.db.WithContext(ctx).
		Where("account_id = ? AND symbol = ? AND status = ? AND closed_at >= ?",
			accountID, symbol, model.PositionStatusClosed, since).
		Order("closed_at ASC").
		Find(&positions).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "PositionRepository",
			"op":         "FindClosedSince",
			"account_id": accountID,
			"symbol":     symbol,
		}).WithError(err).Error("Failed to fetch recently closed positions")

		return nil, err
	}

	return positions, nil
}

// UpdateFunding rewrites the funding attribution and realized pnl of a
// closed position. Funding settlements can land in the transaction log
// after the round trip they belong to was finalized.
func (r *PositionRepository) UpdateFunding(
	ctx context.Context,
	positionID uint,
	fundingUSDT, pnlUSDT float64,
) error {

	res := r.db.WithContext(ctx).
		Model(&model.Position{}).
		Where("id = ? AND status = ?", positionID, model.PositionStatusClosed).
		Updates(map[string]interface{}{
			"funding_usdt": fundingUSDT,
			"pnl_usdt":     pnlUSDT,
		})

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo":        "PositionRepository",
			"op":          "UpdateFunding",
			"position_id": positionID,
		}).WithError(res.Error).Error("Failed to update funding attribution")

		return res.Error
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "UpdateFunding",
		"position_id": positionID,
		"funding":     fundingUSDT,
	}).Info("Funding attribution updated")

	return nil
}

// PositionSearchOptions filters the reporting query surface.
type PositionSearchOptions struct {
	AccountID    uint
	Symbol       *string
	Status       *string
	ClosedAfter  *time.Time
	ClosedBefore *time.Time
	Limit        int
	Offset       int
}

// Search returns positions for reporting, newest first.
func (r *PositionRepository) Search(
	ctx context.Context,
	opts PositionSearchOptions,
) ([]model.Position, error) {

	logger.WithFields(map[string]interface{}{
		"repo":       "PositionRepository",
		"op":         "Search",
		"account_id": opts.AccountID,
	}).Debug("Searching positions")

	query := r.db.WithContext(ctx).Where("account_id = ?", opts.AccountID)

	if opts.Symbol != nil {
		query = query.Where("symbol = ?", *opts.Symbol)
	}
	if opts.Status != nil {
		query = query.Where("status = ?", *opts.Status)
	}
	if opts.ClosedAfter != nil {
		query = query.Where("closed_at >= ?", *opts.ClosedAfter)
	}
	if opts.ClosedBefore != nil {
		query = query.Where("closed_at <= ?", *opts.ClosedBefore)
	}

	query = query.Order("opened_at DESC, id DESC")

	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	var positions []model.Position
	if err := query.Find(&positions).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "PositionRepository",
			"op":         "Search",
			"account_id": opts.AccountID,
		}).WithError(err).Error("Failed to search positions")

		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":        "PositionRepository",
		"op":          "Search",
		"account_id":  opts.AccountID,
		"rows_return": len(positions),
	}).Info("Positions fetched")

	return positions, nil
}

// ClosedSummary aggregates realized results over closed positions in a
// time window.
type ClosedSummary struct {
	Trades       int
	Wins         int
	RealizedPnl  float64
	FeesOpen     float64
	FeesClose    float64
	Funding      float64
	SlippageUSDT float64
}

// SummarizeClosed aggregates the closed positions of one account whose
// closed_at falls inside [from, to). Zero times disable the bound.
func (r *PositionRepository) SummarizeClosed(
	ctx context.Context,
	accountID uint,
	from, to time.Time,
) (ClosedSummary, error) {

	query := r.db.WithContext(ctx).
		Where("account_id = ? AND status = ?", accountID, model.PositionStatusClosed)

	if !from.IsZero() {
		query = query.Where("closed_at >= ?", from)
	}
	if !to.IsZero() {
		query = query.Where("closed_at < ?", to)
	}

	var positions []model.Position
	if err := query.Find(&positions).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":       "PositionRepository",
			"op":         "SummarizeClosed",
			"account_id": accountID,
		}).WithError(err).Error("Failed to summarize closed positions")

		return ClosedSummary{}, err
	}

	var summary ClosedSummary
	for _, p := range positions {
		summary.Trades++

		pnl := 0.0
		if p.PnlUSDT != nil {
			pnl = *p.PnlUSDT
		}
		if pnl > 0 {
			summary.Wins++
		}
		summary.RealizedPnl += pnl
		summary.FeesOpen += p.FeeOpenUSDT
		summary.FeesClose += p.FeeCloseUSDT
		summary.Funding += p.FundingUSDT

		if p.SlippageEntryUSDT != nil {
			summary.SlippageUSDT += *p.SlippageEntryUSDT
		}
		if p.SlippageExitUSDT != nil {
			summary.SlippageUSDT += *p.SlippageExitUSDT
		}
	}

	return summary, nil
}
