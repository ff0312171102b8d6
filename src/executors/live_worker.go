package executors

import (
	"context"
	"math"

	logger "github.com/sirupsen/logrus"

	"positionledger/src/connectors"
	"positionledger/src/ingest"
	"positionledger/src/mapper"
	"positionledger/src/model"
	"positionledger/src/reconciler"
)

type liveEvent struct {
	topic string
	rows  []map[string]any
}

// liveWorker consumes one account's private stream. Stream callbacks
// only enqueue; the slow work (ingest, reconcile) runs on the worker's
// own goroutine so a burst of events never stalls the read loop.
type liveWorker struct {
	account  *model.Account
	stream   *connectors.BybitStream
	ingestor *ingest.Ingestor
	rec      *reconciler.Reconciler

	events      chan liveEvent
	zeroEpsilon float64
}

func newLiveWorker(account *model.Account, config Config) (*liveWorker, error) {
	apiKey, apiSecret, err := accountCredentials(account)
	if err != nil {
		return nil, err
	}

	ingestor, err := ingestorFor(account)
	if err != nil {
		return nil, err
	}

	w := &liveWorker{
		account:     account,
		stream:      connectors.NewBybitStream(account.ID, apiKey, apiSecret),
		ingestor:    ingestor,
		rec:         reconciler.NewReconciler(),
		events:      make(chan liveEvent, config.EventBuffer),
		zeroEpsilon: config.ZeroEpsilon,
	}

	w.stream.OnExecution = func(rows []map[string]any) { w.enqueue("execution", rows) }
	w.stream.OnPosition = func(rows []map[string]any) { w.enqueue("position", rows) }
	return w, nil
}

func (w *liveWorker) enqueue(topic string, rows []map[string]any) {
	select {
	case w.events <- liveEvent{topic: topic, rows: rows}:
	default:
		logger.WithFields(map[string]interface{}{
			"executor":   "liveWorker",
			"account_id": w.account.ID,
			"topic":      topic,
		}).Warn("Live event queue full, dropping event; next scheduled pass will recover it")
	}
}

func (w *liveWorker) run(ctx context.Context) {
	go w.stream.Run(ctx)

	logger.WithFields(map[string]interface{}{
		"executor":   "liveWorker",
		"account_id": w.account.ID,
	}).Info("Live worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.events:
			switch ev.topic {
			case "execution":
				w.handleExecutions(ctx, ev.rows)
			case "position":
				w.handlePositions(ctx, ev.rows)
			}
		}
	}
}

// handleExecutions persists streamed fills, then reconciles each
// touched symbol incrementally.
func (w *liveWorker) handleExecutions(ctx context.Context, rows []map[string]any) {
	if err := w.ingestor.IngestStreamExecutions(ctx, w.account.ID, rows); err != nil {
		logger.WithFields(map[string]interface{}{
			"executor":   "liveWorker",
			"account_id": w.account.ID,
		}).WithError(err).Error("Failed to persist streamed executions")

		return
	}

	seen := make(map[string]bool)
	for _, row := range rows {
		fill := mapper.MapExecutionToFill(w.account.ID, "", row)
		if fill == nil || fill.Symbol == "" || seen[fill.Symbol] {
			continue
		}
		seen[fill.Symbol] = true
		w.reconcile(ctx, fill.Symbol)
	}
}

// handlePositions watches for size transitions to (near) zero, the
// signal that a round trip just completed on the exchange.
func (w *liveWorker) handlePositions(ctx context.Context, rows []map[string]any) {
	for _, row := range rows {
		symbol, size, ok := mapper.PositionUpdate(row)
		if !ok || math.Abs(size) > w.zeroEpsilon {
			continue
		}

		// Pull the symbol's recent executions first: the flattening fill
		// itself may have been dropped by the stream.
		if err := w.ingestor.SyncSymbolRecent(ctx, w.account, symbol); err != nil {
			logger.WithFields(map[string]interface{}{
				"executor":   "liveWorker",
				"account_id": w.account.ID,
				"symbol":     symbol,
			}).WithError(err).Warn("Recent symbol sync failed, reconciling stored fills only")
		}

		w.reconcile(ctx, symbol)
	}
}

func (w *liveWorker) reconcile(ctx context.Context, symbol string) {
	if err := w.rec.ReconcileSymbol(ctx, w.account.ID, symbol); err != nil {
		logger.WithFields(map[string]interface{}{
			"executor":   "liveWorker",
			"account_id": w.account.ID,
			"symbol":     symbol,
		}).WithError(err).Error("Incremental reconcile failed")
	}
}
