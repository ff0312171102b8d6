package reconciler

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"positionledger/src/model"
)

// testDBSeq keeps every shared-cache DSN unique, even across repeated
// opens inside a single test.
var testDBSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s-%d?mode=memory&cache=shared", t.Name(), testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open in-memory db: %v", err)
	}

	if err := db.AutoMigrate(&model.Fill{}, &model.FundingEvent{}, &model.Position{}, &model.Signal{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})

	return db
}

func newTestReconciler(db *gorm.DB) *Reconciler {
	return NewReconciler().WithDB(db)
}

type fillSpec struct {
	side    string
	price   float64
	qty     float64
	fee     float64
	orderID string
	linkID  string
	at      time.Time
	execID  string
}

func seedFills(t *testing.T, db *gorm.DB, accountID uint, symbol string, specs []fillSpec) {
	t.Helper()

	for i, s := range specs {
		execID := s.execID
		if execID == "" {
			execID = symbol + "-" + s.side + "-" + time.Now().Format("150405.000000000") + "-" + string(rune('a'+i))
		}
		fill := model.Fill{
			AccountID:       accountID,
			Symbol:          symbol,
			Side:            s.side,
			Price:           s.price,
			Quantity:        s.qty,
			FeeUSDT:         s.fee,
			ExchangeExecID:  execID,
			ExchangeOrderID: s.orderID,
			OrderLinkID:     s.linkID,
			Ts:              s.at,
		}
		if err := db.Create(&fill).Error; err != nil {
			t.Fatalf("seed fill failed: %v", err)
		}
	}
}

func closedPositions(t *testing.T, db *gorm.DB, accountID uint, symbol string) []model.Position {
	t.Helper()

	var positions []model.Position
	err := db.Where("account_id = ? AND symbol = ? AND status = ?", accountID, symbol, model.PositionStatusClosed).
		Order("id ASC").Find(&positions).Error
	if err != nil {
		t.Fatalf("query closed positions failed: %v", err)
	}
	return positions
}

func openPositions(t *testing.T, db *gorm.DB, accountID uint, symbol string) []model.Position {
	t.Helper()

	var positions []model.Position
	err := db.Where("account_id = ? AND symbol = ? AND status = ?", accountID, symbol, model.PositionStatusOpen).
		Find(&positions).Error
	if err != nil {
		t.Fatalf("query open positions failed: %v", err)
	}
	return positions
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestSimpleRoundTrip(t *testing.T) {
	db := newTestDB(t)
	rec := newTestReconciler(db)
	base := time.Now().UTC().Add(-1 * time.Hour)

	seedFills(t, db, 1, "BTCUSDT", []fillSpec{
		{side: model.FillSideBuy, price: 100, qty: 1, fee: 0.1, orderID: "A", at: base},
		{side: model.FillSideSell, price: 105, qty: 1, fee: 0.1, orderID: "B", at: base.Add(10 * time.Second)},
	})

	if err := rec.ReconcileSymbol(context.Background(), 1, "BTCUSDT"); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	closed := closedPositions(t, db, 1, "BTCUSDT")
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(closed))
	}

	p := closed[0]
	if p.Side != model.PositionSideLong || !approx(p.Quantity, 1) {
		t.Fatalf("unexpected side/qty: %+v", p)
	}
	if !approx(p.EntryPriceVWAP, 100) || p.ExitPriceVWAP == nil || !approx(*p.ExitPriceVWAP, 105) {
		t.Fatalf("unexpected vwaps: %+v", p)
	}
	if p.PnlUSDT == nil || !approx(*p.PnlUSDT, 4.8) {
		t.Fatalf("expected pnl 4.8, got %+v", p.PnlUSDT)
	}

	var unconsumed int64
	db.Model(&model.Fill{}).Where("is_consumed = ?", false).Count(&unconsumed)
	if unconsumed != 0 {
		t.Fatalf("expected all fills consumed, %d left", unconsumed)
	}
}

func TestSignCorrectnessLongAndShort(t *testing.T) {
	db := newTestDB(t)
	rec := newTestReconciler(db)
	base := time.Now().UTC().Add(-1 * time.Hour)

	// Long: entry 100, exit 110, qty 2, fees 0.5 each -> 19.0.
	seedFills(t, db, 1, "BTCUSDT", []fillSpec{
		{side: model.FillSideBuy, price: 100, qty: 2, fee: 0.5, orderID: "L1", at: base},
		{side: model.FillSideSell, price: 110, qty: 2, fee: 0.5, orderID: "L2", at: base.Add(time.Minute)},
	})
	// Short: entry 100, exit 90, qty 2, fees 0.5 each -> 19.0.
	seedFills(t, db, 1, "ETHUSDT", []fillSpec{
		{side: model.FillSideSell, price: 100, qty: 2, fee: 0.5, orderID: "S1", at: base},
		{side: model.FillSideBuy, price: 90, qty: 2, fee: 0.5, orderID: "S2", at: base.Add(time.Minute)},
	})

	if err := rec.RebuildAccount(context.Background(), 1); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}

	long := closedPositions(t, db, 1, "BTCUSDT")
	short := closedPositions(t, db, 1, "ETHUSDT")
	if len(long) != 1 || len(short) != 1 {
		t.Fatalf("expected one closed position per symbol, got %d/%d", len(long), len(short))
	}

	if long[0].Side != model.PositionSideLong || long[0].PnlUSDT == nil || !approx(*long[0].PnlUSDT, 19.0) {
		t.Fatalf("long pnl wrong: %+v", long[0].PnlUSDT)
	}
	if short[0].Side != model.PositionSideShort || short[0].PnlUSDT == nil || !approx(*short[0].PnlUSDT, 19.0) {
		t.Fatalf("short pnl wrong: %+v", short[0].PnlUSDT)
	}
}

func TestPartialEntryFillsVWAP(t *testing.T) {
	db := newTestDB(t)
	rec := newTestReconciler(db)
	base := time.Now().UTC().Add(-1 * time.Hour)

	seedFills(t, db, 1, "BTCUSDT", []fillSpec{
		{side: model.FillSideBuy, price: 100, qty: 0.5, fee: 0, orderID: "A", at: base},
		{side: model.FillSideBuy, price: 102, qty: 0.5, fee: 0, orderID: "A", at: base.Add(time.Second)},
		{side: model.FillSideSell, price: 110, qty: 1, fee: 0, orderID: "B", at: base.Add(time.Minute)},
	})

	if err := rec.ReconcileSymbol(context.Background(), 1, "BTCUSDT"); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	closed := closedPositions(t, db, 1, "BTCUSDT")
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(closed))
	}
	p := closed[0]
	if !approx(p.EntryPriceVWAP, 101) {
		t.Fatalf("expected entry vwap 101, got %v", p.EntryPriceVWAP)
	}
	if !approx(p.EntryPriceBest, 100) {
		t.Fatalf("expected entry best 100, got %v", p.EntryPriceBest)
	}
	if p.PnlUSDT == nil || !approx(*p.PnlUSDT, 9.0) {
		t.Fatalf("expected pnl 9.0, got %+v", p.PnlUSDT)
	}
	if p.SlippageEntryUSDT == nil || !approx(*p.SlippageEntryUSDT, 1.0) {
		t.Fatalf("expected entry slippage 1.0, got %+v", p.SlippageEntryUSDT)
	}
}

func TestUnmatchedEntryCarriesOpen(t *testing.T) {
	db := newTestDB(t)
	rec := newTestReconciler(db)
	base := time.Now().UTC().Add(-1 * time.Hour)

	seedFills(t, db, 1, "BTCUSDT", []fillSpec{
		{side: model.FillSideBuy, price: 200, qty: 0.3, fee: 0.05, orderID: "A", at: base},
	})

	if err := rec.ReconcileSymbol(context.Background(), 1, "BTCUSDT"); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	open := openPositions(t, db, 1, "BTCUSDT")
	if len(open) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(open))
	}
	if !approx(open[0].EntryPriceVWAP, 200) || !approx(open[0].Quantity, 0.3) {
		t.Fatalf("unexpected open aggregates: %+v", open[0])
	}

	var unconsumed int64
	db.Model(&model.Fill{}).Where("is_consumed = ?", false).Count(&unconsumed)
	if unconsumed != 1 {
		t.Fatalf("carried fill must stay unconsumed, got %d unconsumed", unconsumed)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	rec := newTestReconciler(db)
	base := time.Now().UTC().Add(-1 * time.Hour)

	seedFills(t, db, 1, "BTCUSDT", []fillSpec{
		{side: model.FillSideBuy, price: 100, qty: 1, fee: 0.1, orderID: "A", at: base},
		{side: model.FillSideSell, price: 105, qty: 1, fee: 0.1, orderID: "B", at: base.Add(10 * time.Second)},
		{side: model.FillSideBuy, price: 104, qty: 2, fee: 0.2, orderID: "C", at: base.Add(20 * time.Second)},
	})

	for i := 0; i < 3; i++ {
		if err := rec.ReconcileSymbol(context.Background(), 1, "BTCUSDT"); err != nil {
			t.Fatalf("pass %d failed: %v", i, err)
		}
	}

	if closed := closedPositions(t, db, 1, "BTCUSDT"); len(closed) != 1 {
		t.Fatalf("expected exactly 1 closed position after repeated passes, got %d", len(closed))
	}
	if open := openPositions(t, db, 1, "BTCUSDT"); len(open) != 1 {
		t.Fatalf("expected exactly 1 open position after repeated passes, got %d", len(open))
	}
}

func TestOpenPositionFinalizedWhenExitArrives(t *testing.T) {
	db := newTestDB(t)
	rec := newTestReconciler(db)
	base := time.Now().UTC().Add(-1 * time.Hour)

	seedFills(t, db, 1, "BTCUSDT", []fillSpec{
		{side: model.FillSideBuy, price: 100, qty: 1, fee: 0.1, orderID: "A", at: base},
	})
	if err := rec.ReconcileSymbol(context.Background(), 1, "BTCUSDT"); err != nil {
		t.Fatalf("first pass failed: %v", err)
	}

	open := openPositions(t, db, 1, "BTCUSDT")
	if len(open) != 1 {
		t.Fatalf("expected open position after entry-only pass")
	}
	openID := open[0].ID

	seedFills(t, db, 1, "BTCUSDT", []fillSpec{
		{side: model.FillSideSell, price: 105, qty: 1, fee: 0.1, orderID: "B", at: base.Add(time.Minute)},
	})
	if err := rec.ReconcileSymbol(context.Background(), 1, "BTCUSDT"); err != nil {
		t.Fatalf("second pass failed: %v", err)
	}

	if remaining := openPositions(t, db, 1, "BTCUSDT"); len(remaining) != 0 {
		t.Fatalf("expected no open positions after exit, got %d", len(remaining))
	}

	closed := closedPositions(t, db, 1, "BTCUSDT")
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(closed))
	}
	if closed[0].ID != openID {
		t.Fatalf("expected the open row %d to be finalized in place, got new row %d", openID, closed[0].ID)
	}
	if closed[0].PnlUSDT == nil || !approx(*closed[0].PnlUSDT, 4.8) {
		t.Fatalf("expected pnl 4.8, got %+v", closed[0].PnlUSDT)
	}
}

func TestOutOfOrderDeliveryIsPermutationInvariant(t *testing.T) {
	base := time.Now().UTC().Add(-1 * time.Hour)

	specs := []fillSpec{
		{side: model.FillSideBuy, price: 100, qty: 1, fee: 0.1, orderID: "A", at: base, execID: "e-entry"},
		{side: model.FillSideSell, price: 105, qty: 1, fee: 0.1, orderID: "B", at: base.Add(time.Minute), execID: "e-exit"},
	}
	reversed := []fillSpec{specs[1], specs[0]}

	run := func(order []fillSpec) model.Position {
		db := newTestDB(t)
		rec := newTestReconciler(db)
		seedFills(t, db, 1, "BTCUSDT", order)
		if err := rec.ReconcileSymbol(context.Background(), 1, "BTCUSDT"); err != nil {
			t.Fatalf("reconcile failed: %v", err)
		}
		closed := closedPositions(t, db, 1, "BTCUSDT")
		if len(closed) != 1 {
			t.Fatalf("expected 1 closed position, got %d", len(closed))
		}
		return closed[0]
	}

	a := run(specs)
	b := run(reversed)

	if a.Side != b.Side || !approx(a.Quantity, b.Quantity) ||
		!approx(a.EntryPriceVWAP, b.EntryPriceVWAP) ||
		!approx(*a.PnlUSDT, *b.PnlUSDT) {
		t.Fatalf("permutation changed the result: %+v vs %+v", a, b)
	}
	if !approx(a.EntryPriceVWAP, 100) {
		t.Fatalf("entry must follow the exchange timestamp, not insertion order: %+v", b)
	}
}

func TestFundingAttributionByWindow(t *testing.T) {
	db := newTestDB(t)
	rec := newTestReconciler(db)
	base := time.Now().UTC().Add(-2 * time.Hour)

	seedFills(t, db, 1, "BTCUSDT", []fillSpec{
		{side: model.FillSideBuy, price: 100, qty: 1, fee: 0, orderID: "A", at: base},
		{side: model.FillSideSell, price: 105, qty: 1, fee: 0, orderID: "B", at: base.Add(30 * time.Minute)},
	})

	inside := model.FundingEvent{AccountID: 1, Symbol: "BTCUSDT", AmountUSDT: -0.25, Ts: base.Add(10 * time.Minute)}
	outside := model.FundingEvent{AccountID: 1, Symbol: "BTCUSDT", AmountUSDT: -9.99, Ts: base.Add(90 * time.Minute)}
	otherSymbol := model.FundingEvent{AccountID: 1, Symbol: "ETHUSDT", AmountUSDT: -5, Ts: base.Add(10 * time.Minute)}
	for _, e := range []model.FundingEvent{inside, outside, otherSymbol} {
		ev := e
		if err := db.Create(&ev).Error; err != nil {
			t.Fatalf("seed funding failed: %v", err)
		}
	}

	if err := rec.ReconcileSymbol(context.Background(), 1, "BTCUSDT"); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	closed := closedPositions(t, db, 1, "BTCUSDT")
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(closed))
	}
	p := closed[0]
	if !approx(p.FundingUSDT, -0.25) {
		t.Fatalf("expected only the in-window funding event, got %v", p.FundingUSDT)
	}
	if p.PnlUSDT == nil || !approx(*p.PnlUSDT, 5-0.25) {
		t.Fatalf("expected funding folded into pnl, got %+v", p.PnlUSDT)
	}
}

func TestNettingFallbackWithoutOrderIDs(t *testing.T) {
	db := newTestDB(t)
	rec := newTestReconciler(db)
	base := time.Now().UTC().Add(-1 * time.Hour)

	seedFills(t, db, 1, "BTCUSDT", []fillSpec{
		{side: model.FillSideBuy, price: 100, qty: 1, fee: 0.1, at: base},
		{side: model.FillSideBuy, price: 102, qty: 1, fee: 0.1, at: base.Add(time.Second)},
		{side: model.FillSideSell, price: 110, qty: 2, fee: 0.2, at: base.Add(time.Minute)},
	})

	if err := rec.ReconcileSymbol(context.Background(), 1, "BTCUSDT"); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	closed := closedPositions(t, db, 1, "BTCUSDT")
	if len(closed) != 1 {
		t.Fatalf("expected netting to close 1 position, got %d", len(closed))
	}
	p := closed[0]
	if !approx(p.Quantity, 2) || !approx(p.EntryPriceVWAP, 101) {
		t.Fatalf("unexpected netted aggregates: %+v", p)
	}
	gross := (110.0 - 101.0) * 2
	if p.PnlUSDT == nil || !approx(*p.PnlUSDT, gross-0.4) {
		t.Fatalf("unexpected netted pnl: %+v", p.PnlUSDT)
	}
}

func TestStaleRemainderSyntheticClose(t *testing.T) {
	db := newTestDB(t)
	rec := newTestReconciler(db)
	old := time.Now().UTC().Add(-20 * 24 * time.Hour)

	seedFills(t, db, 1, "BTCUSDT", []fillSpec{
		{side: model.FillSideBuy, price: 100, qty: 1, fee: 0.1, at: old},
		{side: model.FillSideSell, price: 104, qty: 0.4, fee: 0.05, at: old.Add(time.Hour)},
	})

	if err := rec.ReconcileSymbol(context.Background(), 1, "BTCUSDT"); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if open := openPositions(t, db, 1, "BTCUSDT"); len(open) != 0 {
		t.Fatalf("stale remainder must not stay open, got %d open", len(open))
	}

	closed := closedPositions(t, db, 1, "BTCUSDT")
	if len(closed) != 1 {
		t.Fatalf("expected 1 synthetic close, got %d", len(closed))
	}
	p := closed[0]
	if !p.SyntheticClose {
		t.Fatalf("expected synthetic_close flag set: %+v", p)
	}
	// Exit merges the real 0.4@104 offset with the 0.6 residual priced
	// at the last fill (104).
	if p.ExitPriceVWAP == nil || !approx(*p.ExitPriceVWAP, 104) {
		t.Fatalf("expected exit at last fill price, got %+v", p.ExitPriceVWAP)
	}

	var unconsumed int64
	db.Model(&model.Fill{}).Where("is_consumed = ?", false).Count(&unconsumed)
	if unconsumed != 0 {
		t.Fatalf("synthetic close must consume the run's fills, %d left", unconsumed)
	}
}

func TestFreshRemainderIsNotForceClosed(t *testing.T) {
	db := newTestDB(t)
	rec := newTestReconciler(db)
	base := time.Now().UTC().Add(-1 * time.Hour)

	seedFills(t, db, 1, "BTCUSDT", []fillSpec{
		{side: model.FillSideBuy, price: 100, qty: 1, fee: 0.1, at: base},
	})

	if err := rec.ReconcileSymbol(context.Background(), 1, "BTCUSDT"); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if closed := closedPositions(t, db, 1, "BTCUSDT"); len(closed) != 0 {
		t.Fatalf("fresh remainder must not be force-closed")
	}
	if open := openPositions(t, db, 1, "BTCUSDT"); len(open) != 1 {
		t.Fatalf("expected open carry, got %d", len(open))
	}
}

func TestMalformedFillsAreSkippedNotConsumed(t *testing.T) {
	db := newTestDB(t)
	rec := newTestReconciler(db)
	base := time.Now().UTC().Add(-1 * time.Hour)

	seedFills(t, db, 1, "BTCUSDT", []fillSpec{
		{side: model.FillSideBuy, price: 100, qty: 1, fee: 0.1, orderID: "A", at: base},
		{side: model.FillSideBuy, price: 0, qty: 1, fee: 0, orderID: "A", at: base.Add(time.Second), execID: "bad-price"},
		{side: model.FillSideSell, price: 105, qty: 1, fee: 0.1, orderID: "B", at: base.Add(time.Minute)},
	})

	if err := rec.ReconcileSymbol(context.Background(), 1, "BTCUSDT"); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if closed := closedPositions(t, db, 1, "BTCUSDT"); len(closed) != 1 {
		t.Fatalf("expected the valid pair closed, got %d", len(closed))
	}

	var bad model.Fill
	if err := db.Where("exchange_exec_id = ?", "bad-price").First(&bad).Error; err != nil {
		t.Fatalf("fetch malformed fill: %v", err)
	}
	if bad.IsConsumed {
		t.Fatalf("malformed fill must never be consumed")
	}
}

func TestSignalLinkageAndTimelagMetrics(t *testing.T) {
	db := newTestDB(t)
	rec := newTestReconciler(db)
	base := time.Now().UTC().Add(-1 * time.Hour)

	risk := 10.0
	rrr := 2.0
	signalTs := base.Add(-5 * time.Second)
	sentAt := base.Add(-1 * time.Second)
	signal := model.Signal{
		AccountID:      1,
		Symbol:         "BTCUSDT",
		TradeUID:       "trade-xyz",
		Side:           model.PositionSideLong,
		RiskAmountUSDT: &risk,
		RiskReward:     &rrr,
		SignalTs:       &signalTs,
		BotReceivedAt:  base.Add(-3 * time.Second),
		BotSentAt:      &sentAt,
	}
	if err := db.Create(&signal).Error; err != nil {
		t.Fatalf("seed signal failed: %v", err)
	}

	seedFills(t, db, 1, "BTCUSDT", []fillSpec{
		{side: model.FillSideBuy, price: 100, qty: 1, fee: 0.1, orderID: "A", linkID: "trade-xyz", at: base},
		{side: model.FillSideSell, price: 105, qty: 1, fee: 0.1, orderID: "B", at: base.Add(time.Minute)},
	})

	if err := rec.ReconcileSymbol(context.Background(), 1, "BTCUSDT"); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	closed := closedPositions(t, db, 1, "BTCUSDT")
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(closed))
	}
	p := closed[0]

	if p.TradeUID != "trade-xyz" || p.SignalID == nil || *p.SignalID != signal.ID {
		t.Fatalf("signal linkage missing: %+v", p)
	}
	if p.TimelagSignalBotMs == nil || !approx(*p.TimelagSignalBotMs, 2000) {
		t.Fatalf("expected signal->bot timelag 2000ms, got %+v", p.TimelagSignalBotMs)
	}
	if p.TimelagBotProcMs == nil || !approx(*p.TimelagBotProcMs, 2000) {
		t.Fatalf("expected bot processing timelag 2000ms, got %+v", p.TimelagBotProcMs)
	}
	if p.TimelagBotExchMs == nil || !approx(*p.TimelagBotExchMs, 1000) {
		t.Fatalf("expected bot->exchange timelag 1000ms, got %+v", p.TimelagBotExchMs)
	}

	// Winning trade: theoretical = 10*2 = 20, pnl = 4.8, slippage 0.
	if p.SlippageTimelagUSDT == nil || !approx(*p.SlippageTimelagUSDT, 20-4.8-0.1-0.1) {
		t.Fatalf("unexpected timelag slippage: %+v", p.SlippageTimelagUSDT)
	}
}

func TestTimelagSlippageNilWithoutRiskInputs(t *testing.T) {
	db := newTestDB(t)
	rec := newTestReconciler(db)
	base := time.Now().UTC().Add(-1 * time.Hour)

	seedFills(t, db, 1, "BTCUSDT", []fillSpec{
		{side: model.FillSideBuy, price: 100, qty: 1, fee: 0.1, orderID: "A", at: base},
		{side: model.FillSideSell, price: 105, qty: 1, fee: 0.1, orderID: "B", at: base.Add(time.Minute)},
	})

	if err := rec.ReconcileSymbol(context.Background(), 1, "BTCUSDT"); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	p := closedPositions(t, db, 1, "BTCUSDT")[0]
	if p.SlippageTimelagUSDT != nil {
		t.Fatalf("timelag slippage must be nil without risk inputs, got %v", *p.SlippageTimelagUSDT)
	}
}

func TestQuantityConservation(t *testing.T) {
	db := newTestDB(t)
	rec := newTestReconciler(db)
	base := time.Now().UTC().Add(-1 * time.Hour)

	seedFills(t, db, 1, "BTCUSDT", []fillSpec{
		{side: model.FillSideBuy, price: 100, qty: 0.7, fee: 0, orderID: "A", at: base},
		{side: model.FillSideBuy, price: 101, qty: 0.3, fee: 0, orderID: "A", at: base.Add(time.Second)},
		{side: model.FillSideSell, price: 103, qty: 0.6, fee: 0, orderID: "B", at: base.Add(time.Minute)},
		{side: model.FillSideSell, price: 104, qty: 0.4, fee: 0, orderID: "B", at: base.Add(61 * time.Second)},
	})

	if err := rec.ReconcileSymbol(context.Background(), 1, "BTCUSDT"); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	closed := closedPositions(t, db, 1, "BTCUSDT")
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(closed))
	}
	if !approx(closed[0].Quantity, 1.0) {
		t.Fatalf("expected matched quantity 1.0, got %v", closed[0].Quantity)
	}
}

func TestGroupingPrecedenceOrderLinkID(t *testing.T) {
	db := newTestDB(t)
	rec := newTestReconciler(db)
	base := time.Now().UTC().Add(-1 * time.Hour)

	// No exchange order ids: fills sharing an order-link id must still
	// group together instead of falling to singletons.
	seedFills(t, db, 1, "BTCUSDT", []fillSpec{
		{side: model.FillSideBuy, price: 100, qty: 0.5, fee: 0, linkID: "link-1", at: base},
		{side: model.FillSideBuy, price: 102, qty: 0.5, fee: 0, linkID: "link-1", at: base.Add(time.Second)},
		{side: model.FillSideSell, price: 110, qty: 1, fee: 0, linkID: "link-2", at: base.Add(time.Minute)},
	})

	if err := rec.ReconcileSymbol(context.Background(), 1, "BTCUSDT"); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	closed := closedPositions(t, db, 1, "BTCUSDT")
	if len(closed) != 1 {
		t.Fatalf("expected link-id grouping to close 1 position, got %d", len(closed))
	}
	if !approx(closed[0].EntryPriceVWAP, 101) {
		t.Fatalf("expected grouped entry vwap 101, got %v", closed[0].EntryPriceVWAP)
	}
}

func TestLateFundingAttributedAfterClose(t *testing.T) {
	db := newTestDB(t)
	rec := newTestReconciler(db)
	base := time.Now().UTC().Add(-2 * time.Hour)

	seedFills(t, db, 1, "BTCUSDT", []fillSpec{
		{side: model.FillSideBuy, price: 100, qty: 1, fee: 0, orderID: "A", at: base},
		{side: model.FillSideSell, price: 105, qty: 1, fee: 0, orderID: "B", at: base.Add(30 * time.Minute)},
	})

	if err := rec.ReconcileSymbol(context.Background(), 1, "BTCUSDT"); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	closed := closedPositions(t, db, 1, "BTCUSDT")
	if len(closed) != 1 || closed[0].PnlUSDT == nil || !approx(*closed[0].PnlUSDT, 5) {
		t.Fatalf("unexpected initial close: %+v", closed)
	}

	// The settlement falls inside the position's window but reaches the
	// transaction log only after the round trip was finalized.
	late := model.FundingEvent{AccountID: 1, Symbol: "BTCUSDT", AmountUSDT: -0.5, Ts: base.Add(10 * time.Minute)}
	if err := db.Create(&late).Error; err != nil {
		t.Fatalf("seed funding failed: %v", err)
	}

	// Full rebuild: the symbol has no unconsumed fills left, only the
	// fresh settlement, and must still be revisited.
	if err := rec.RebuildAccount(context.Background(), 1); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}

	closed = closedPositions(t, db, 1, "BTCUSDT")
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed position, got %d", len(closed))
	}
	if !approx(closed[0].FundingUSDT, -0.5) {
		t.Fatalf("late funding never attributed: funding=%v", closed[0].FundingUSDT)
	}
	if closed[0].PnlUSDT == nil || !approx(*closed[0].PnlUSDT, 4.5) {
		t.Fatalf("pnl not adjusted for late funding: %+v", closed[0].PnlUSDT)
	}

	// Another pass must not apply the settlement twice.
	if err := rec.ReconcileSymbol(context.Background(), 1, "BTCUSDT"); err != nil {
		t.Fatalf("third pass failed: %v", err)
	}
	closed = closedPositions(t, db, 1, "BTCUSDT")
	if !approx(closed[0].FundingUSDT, -0.5) || !approx(*closed[0].PnlUSDT, 4.5) {
		t.Fatalf("funding re-attribution is not idempotent: %+v", closed[0])
	}
}

func TestNettingOvershootCarriesFlippedSide(t *testing.T) {
	db := newTestDB(t)
	rec := newTestReconciler(db)
	base := time.Now().UTC().Add(-1 * time.Hour)

	// The sell not only offsets the long but overshoots it; the real
	// outstanding exposure at tape end is short 1.
	seedFills(t, db, 1, "BTCUSDT", []fillSpec{
		{side: model.FillSideBuy, price: 100, qty: 1, fee: 0.1, at: base},
		{side: model.FillSideSell, price: 110, qty: 2, fee: 0.2, at: base.Add(time.Minute)},
	})

	if err := rec.ReconcileSymbol(context.Background(), 1, "BTCUSDT"); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if closed := closedPositions(t, db, 1, "BTCUSDT"); len(closed) != 0 {
		t.Fatalf("crossing run must not close, got %d closed", len(closed))
	}

	open := openPositions(t, db, 1, "BTCUSDT")
	if len(open) != 1 {
		t.Fatalf("expected 1 open carry, got %d", len(open))
	}
	p := open[0]
	if p.Side != model.PositionSideShort {
		t.Fatalf("carry side must follow the net sign, got %s", p.Side)
	}
	if !approx(p.Quantity, 1) {
		t.Fatalf("expected outstanding qty 1, got %v", p.Quantity)
	}
	if !approx(p.EntryPriceVWAP, 110) {
		t.Fatalf("flipped carry must aggregate the sell bucket, got vwap %v", p.EntryPriceVWAP)
	}
}
