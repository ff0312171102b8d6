package reconciler

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"positionledger/src/database"
	"positionledger/src/model"
	"positionledger/src/repository"
)

// Reconciler rebuilds the position ledger from the unconsumed fill
// stream. It is safe under concurrent invocation: fill consumption is
// claimed with a conditional update inside the same transaction as the
// position write, so two passes racing over the same fills cannot both
// win.
type Reconciler struct {
	db        *gorm.DB
	fills     *repository.FillRepository
	funding   *repository.FundingRepository
	positions *repository.PositionRepository
	signals   *repository.SignalRepository

	config Config
	now    func() time.Time
}

func NewReconciler() *Reconciler {
	return &Reconciler{
		db:        database.MainDB,
		fills:     repository.NewFillRepository(),
		funding:   repository.NewFundingRepository(),
		positions: repository.NewPositionRepository(),
		signals:   repository.NewSignalRepository(),
		config:    GetConfig(),
		now:       time.Now,
	}
}

// WithDB rebinds the reconciler and all its repositories to another
// *gorm.DB, for tests.
func (r *Reconciler) WithDB(db *gorm.DB) *Reconciler {
	clone := *r
	clone.db = db
	clone.fills = r.fills.WithDB(db)
	clone.funding = r.funding.WithDB(db)
	clone.positions = r.positions.WithDB(db)
	clone.signals = r.signals.WithDB(db)
	return &clone
}

// RebuildAccount runs a full reconciliation over every symbol that has
// unconsumed fills for the account. One symbol's failure is contained
// and does not stop the others; the last error is returned so the
// scheduler can retry the whole account on its next pass.
func (r *Reconciler) RebuildAccount(ctx context.Context, accountID uint) error {
	fills, err := r.fills.Unconsumed(ctx, accountID, "")
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	var symbols []string
	for _, f := range fills {
		if !seen[f.Symbol] {
			seen[f.Symbol] = true
			symbols = append(symbols, f.Symbol)
		}
	}

	// Symbols with fresh funding settlements need a pass too, even when
	// no unconsumed fill is left for them: a settlement may belong to an
	// already-closed position.
	fundingSymbols, err := r.funding.SymbolsSince(
		ctx, accountID, r.now().UTC().Add(-r.config.FundingRecheck))
	if err != nil {
		return err
	}
	for _, s := range fundingSymbols {
		if !seen[s] {
			seen[s] = true
			symbols = append(symbols, s)
		}
	}
	sort.Strings(symbols)

	logger.WithFields(map[string]interface{}{
		"component":  "reconciler",
		"op":         "RebuildAccount",
		"account_id": accountID,
		"symbols":    len(symbols),
	}).Info("Starting full rebuild")

	var lastErr error
	for _, symbol := range symbols {
		if err := r.ReconcileSymbol(ctx, accountID, symbol); err != nil {
			logger.WithFields(map[string]interface{}{
				"component":  "reconciler",
				"op":         "RebuildAccount",
				"account_id": accountID,
				"symbol":     symbol,
			}).WithError(err).Error("Symbol reconciliation failed, continuing with next symbol")

			lastErr = err
		}
	}

	return lastErr
}

// ReconcileSymbol runs the four-stage algorithm for one
// (account, symbol): group, pair, net-fallback, carry. Safe to call
// redundantly; with no new fills it is a no-op.
func (r *Reconciler) ReconcileSymbol(ctx context.Context, accountID uint, symbol string) error {
	fills, err := r.fills.Unconsumed(ctx, accountID, symbol)
	if err != nil {
		return err
	}
	if len(fills) == 0 {
		return r.refreshClosedFunding(ctx, accountID, symbol)
	}

	groups := buildGroups(fills)
	trades, leftovers := pairGroups(groups, r.config.QtyEpsilon)
	netTrades, remainder := netLeftovers(leftovers, r.config.QtyEpsilon)
	trades = append(trades, netTrades...)

	if remainder != nil && r.remainderStale(remainder) && r.config.SyntheticClose {
		trades = append(trades, r.syntheticTrade(remainder))
		remainder = nil
	}

	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].entry.firstTs.Before(trades[j].entry.firstTs)
	})

	for _, trade := range trades {
		if err := r.closeTrade(ctx, accountID, symbol, trade); err != nil {
			if isInvariantSkip(err) {
				logger.WithFields(map[string]interface{}{
					"component":  "reconciler",
					"op":         "ReconcileSymbol",
					"account_id": accountID,
					"symbol":     symbol,
				}).WithError(err).Warn("Skipping trade group on invariant conflict")

				continue
			}
			return err
		}
	}

	if remainder != nil {
		if err := r.carryOpen(ctx, accountID, symbol, remainder); err != nil && !isInvariantSkip(err) {
			return err
		}
	}

	return r.refreshClosedFunding(ctx, accountID, symbol)
}

// refreshClosedFunding re-sums the funding window of recently closed
// positions and rewrites funding_usdt and pnl_usdt when the attribution
// changed. Idempotent: with no late settlements it touches nothing.
func (r *Reconciler) refreshClosedFunding(ctx context.Context, accountID uint, symbol string) error {
	since := r.now().UTC().Add(-r.config.FundingRecheck)

	closed, err := r.positions.FindClosedSince(ctx, accountID, symbol, since)
	if err != nil {
		return err
	}

	for i := range closed {
		position := &closed[i]

		from := position.OpenedAt
		if position.FirstExecAt != nil {
			from = *position.FirstExecAt
		}
		to := from
		if position.ClosedAt != nil {
			to = *position.ClosedAt
		}
		if position.LastExecAt != nil {
			to = *position.LastExecAt
		}

		events, err := r.funding.InWindow(ctx, accountID, symbol, from, to)
		if err != nil {
			return err
		}
		funding := 0.0
		for _, e := range events {
			funding += e.AmountUSDT
		}

		if funding == position.FundingUSDT {
			continue
		}

		pnl := funding - position.FundingUSDT
		if position.PnlUSDT != nil {
			pnl += *position.PnlUSDT
		}

		logger.WithFields(map[string]interface{}{
			"component":   "reconciler",
			"op":          "refreshClosedFunding",
			"position_id": position.ID,
			"funding_old": position.FundingUSDT,
			"funding_new": funding,
		}).Info("Re-attributing late funding to closed position")

		if err := r.positions.UpdateFunding(ctx, position.ID, funding, pnl); err != nil {
			return err
		}
	}

	return nil
}

// isInvariantSkip classifies ledger-boundary rejections that mean
// another pass already did this work: skip the group, not the batch.
func isInvariantSkip(err error) bool {
	return errors.Is(err, repository.ErrFillsAlreadyConsumed) ||
		errors.Is(err, repository.ErrPositionAlreadyClosed) ||
		errors.Is(err, repository.ErrOpenPositionExists)
}

func (r *Reconciler) remainderStale(rem *nettingRemainder) bool {
	last := rem.fills[len(rem.fills)-1].Ts
	return r.now().UTC().Sub(last) > r.config.StaleCutoff
}

// syntheticTrade force-closes a stale remainder at the most recent fill
// price. The exit side merges whatever was genuinely offset with the
// outstanding residual priced at the last fill, so the position closes
// flat. This is an approximation of the exchange state, flagged on the
// resulting row.
func (r *Reconciler) syntheticTrade(rem *nettingRemainder) matchedTrade {
	residual := math.Abs(rem.net)
	last := rem.fills[len(rem.fills)-1]

	exit := &fillGroup{key: "synthetic", side: oppositeSide(rem.entry.side)}
	notional := residual * rem.lastPrice
	exit.quantity = residual
	exit.best = rem.lastPrice
	exit.firstTs, exit.lastTs = last.Ts, last.Ts

	if rem.exit != nil {
		exit.fills = rem.exit.fills
		exit.quantity += rem.exit.quantity
		notional += rem.exit.vwap * rem.exit.quantity
		exit.fee = rem.exit.fee
		exit.firstTs = rem.exit.firstTs
		if rem.exit.lastTs.After(exit.lastTs) {
			exit.lastTs = rem.exit.lastTs
		}
		if betterFor(exit.side, rem.exit.best, rem.lastPrice) {
			exit.best = rem.exit.best
		}
	}
	if exit.quantity > 0 {
		exit.vwap = notional / exit.quantity
	}

	return matchedTrade{entry: rem.entry, exit: exit, synthetic: true}
}

func betterFor(side string, a, b float64) bool {
	if side == model.FillSideSell {
		return a > b
	}
	return a < b
}

// closeTrade writes one closed position and claims its fills, all in a
// single transaction. If an open position already exists for the key it
// is refreshed and finalized; otherwise a closed row is created
// directly.
func (r *Reconciler) closeTrade(
	ctx context.Context,
	accountID uint,
	symbol string,
	trade matchedTrade,
) error {

	entry, exit := trade.entry, trade.exit
	qty := math.Min(entry.quantity, exit.quantity)
	side := positionSide(entry.side)

	events, err := r.funding.InWindow(ctx, accountID, symbol, entry.firstTs, exit.lastTs)
	if err != nil {
		return err
	}
	funding := 0.0
	for _, e := range events {
		funding += e.AmountUSDT
	}

	signal, err := r.lookupSignal(ctx, entry.orderLinkID)
	if err != nil {
		return err
	}

	gross := grossPnl(side, entry.vwap, exit.vwap, qty)
	pnl := netPnl(gross, entry.fee, exit.fee, funding)
	slipEntry := groupSlippage(entry)
	slipExit := groupSlippage(exit)
	slipTimelag := timelagSlippage(signal, pnl, slipEntry, slipExit, entry.fee, exit.fee, funding)
	sigBot, botProc, botExch := timelagsMs(signal, entry.firstTs)

	ids := append(entry.fillIDs(), exit.fillIDs()...)

	firstExecAt := entry.firstTs
	lastExecAt := exit.lastTs

	values := repository.FinalizeValues{
		ExitPriceVWAP:       exit.vwap,
		ExitPriceBest:       exit.best,
		FeeCloseUSDT:        exit.fee,
		FundingUSDT:         funding,
		PnlUSDT:             pnl,
		SlippageEntryUSDT:   &slipEntry,
		SlippageExitUSDT:    &slipExit,
		SlippageTimelagUSDT: slipTimelag,
		SyntheticClose:      trade.synthetic,
		LastExecAt:          &lastExecAt,
		ClosedAt:            exit.lastTs,
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		positions := r.positions.WithDB(tx)
		fills := r.fills.WithDB(tx)

		open, err := positions.FindOpen(ctx, accountID, symbol)
		if err != nil {
			return err
		}

		if open != nil {
			open.Quantity = qty
			open.Side = side
			open.EntryPriceVWAP = entry.vwap
			open.EntryPriceBest = entry.best
			open.FeeOpenUSDT = entry.fee
			open.TradeUID = entry.orderLinkID
			open.SignalID = signalID(signal)
			open.TimelagSignalBotMs = sigBot
			open.TimelagBotProcMs = botProc
			open.TimelagBotExchMs = botExch
			open.FirstExecAt = &firstExecAt
			open.LastExecAt = &lastExecAt
			open.OpenedAt = entry.firstTs

			if err := positions.UpdateOpen(ctx, open); err != nil {
				return err
			}
			if err := positions.Finalize(ctx, open.ID, values); err != nil {
				return err
			}
		} else {
			closedAt := exit.lastTs
			position := &model.Position{
				AccountID:           accountID,
				Symbol:              symbol,
				Status:              model.PositionStatusClosed,
				Side:                side,
				TradeUID:            entry.orderLinkID,
				SignalID:            signalID(signal),
				Quantity:            qty,
				EntryPriceVWAP:      entry.vwap,
				EntryPriceBest:      entry.best,
				ExitPriceVWAP:       &exit.vwap,
				ExitPriceBest:       &exit.best,
				FeeOpenUSDT:         entry.fee,
				FeeCloseUSDT:        exit.fee,
				FundingUSDT:         funding,
				PnlUSDT:             &pnl,
				SlippageEntryUSDT:   &slipEntry,
				SlippageExitUSDT:    &slipExit,
				SlippageTimelagUSDT: slipTimelag,
				TimelagSignalBotMs:  sigBot,
				TimelagBotProcMs:    botProc,
				TimelagBotExchMs:    botExch,
				SyntheticClose:      trade.synthetic,
				FirstExecAt:         &firstExecAt,
				LastExecAt:          &lastExecAt,
				OpenedAt:            entry.firstTs,
				ClosedAt:            &closedAt,
			}
			if err := positions.Create(ctx, position); err != nil {
				return err
			}
		}

		return fills.ClaimConsumed(ctx, ids)
	})
}

// carryOpen surfaces a fresh netting remainder as the (single) open
// position for the key. Its fills stay unconsumed so a later pass can
// still match them against a future exit; all aggregates are recomputed
// from scratch each pass to stay idempotent.
func (r *Reconciler) carryOpen(
	ctx context.Context,
	accountID uint,
	symbol string,
	rem *nettingRemainder,
) error {

	entry := rem.entry
	signal, err := r.lookupSignal(ctx, entry.orderLinkID)
	if err != nil {
		return err
	}

	sigBot, botProc, botExch := timelagsMs(signal, entry.firstTs)

	firstExecAt := entry.firstTs
	lastExecAt := rem.fills[len(rem.fills)-1].Ts

	candidate := &model.Position{
		AccountID:          accountID,
		Symbol:             symbol,
		Status:             model.PositionStatusOpen,
		Side:               positionSide(entry.side),
		TradeUID:           entry.orderLinkID,
		SignalID:           signalID(signal),
		Quantity:           math.Abs(rem.net),
		EntryPriceVWAP:     entry.vwap,
		EntryPriceBest:     entry.best,
		FeeOpenUSDT:        entry.fee,
		TimelagSignalBotMs: sigBot,
		TimelagBotProcMs:   botProc,
		TimelagBotExchMs:   botExch,
		FirstExecAt:        &firstExecAt,
		LastExecAt:         &lastExecAt,
		OpenedAt:           entry.firstTs,
	}

	open, err := r.positions.FindOpen(ctx, accountID, symbol)
	if err != nil {
		return err
	}

	if open != nil {
		candidate.ID = open.ID
		return r.positions.UpdateOpen(ctx, candidate)
	}
	return r.positions.Create(ctx, candidate)
}

func (r *Reconciler) lookupSignal(ctx context.Context, orderLinkID string) (*model.Signal, error) {
	if orderLinkID == "" {
		return nil, nil
	}
	return r.signals.FindByTradeUID(ctx, orderLinkID)
}

func signalID(signal *model.Signal) *uint {
	if signal == nil {
		return nil
	}
	return &signal.ID
}
