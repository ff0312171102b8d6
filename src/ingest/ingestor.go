package ingest

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"

	"positionledger/src/mapper"
	"positionledger/src/model"
	"positionledger/src/repository"
	"positionledger/src/utils"
)

// ExchangeGateway is the slice of the exchange REST client the ingestor
// needs. Every call fetches one page and returns the raw rows plus the
// next-page cursor (empty when exhausted).
type ExchangeGateway interface {
	ListExecutions(ctx context.Context, symbol string, startMs, endMs int64, cursor string) ([]map[string]any, string, error)
	ListTransactionLog(ctx context.Context, startMs, endMs int64, cursor string) ([]map[string]any, string, error)
	ListInstruments(ctx context.Context, cursor string) ([]map[string]any, string, error)
}

// defaultSymbols backs symbol discovery when the instruments endpoint
// is unreachable and nothing is cached locally yet.
var defaultSymbols = []string{
	"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT",
	"BNBUSDT", "ADAUSDT", "DOGEUSDT", "LINKUSDT",
	"AVAXUSDT", "DOTUSDT", "LTCUSDT", "ATOMUSDT",
}

// Ingestor pulls execution and funding history from the exchange into
// the local fill and funding stores. All writes go through the
// deduplicating repositories, so re-running any ingest over an already
// covered window is a no-op.
type Ingestor struct {
	gateway     ExchangeGateway
	fills       *repository.FillRepository
	funding     *repository.FundingRepository
	instruments *repository.InstrumentRepository

	config Config
	now    func() time.Time
}

func NewIngestor(gateway ExchangeGateway) *Ingestor {
	return &Ingestor{
		gateway:     gateway,
		fills:       repository.NewFillRepository(),
		funding:     repository.NewFundingRepository(),
		instruments: repository.NewInstrumentRepository(),
		config:      GetConfig(),
		now:         time.Now,
	}
}

// WithRepositories overrides the backing repositories, for transactions
// and tests.
func (in *Ingestor) WithRepositories(
	fills *repository.FillRepository,
	funding *repository.FundingRepository,
	instruments *repository.InstrumentRepository,
) *Ingestor {

	clone := *in
	clone.fills = fills
	clone.funding = funding
	clone.instruments = instruments
	return &clone
}

// RefreshInstruments pulls the tradable linear USDT perpetual universe
// from the exchange and caches it locally. Returns the refreshed symbol
// list, falling back to the cached or static set when the endpoint
// fails.
func (in *Ingestor) RefreshInstruments(ctx context.Context) ([]string, error) {
	var instruments []model.Instrument
	cursor := ""

	for page := 0; page < in.config.MaxPagesPerWindow; page++ {
		rows, next, err := in.gateway.ListInstruments(ctx, cursor)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"service": "Ingestor",
				"op":      "RefreshInstruments",
				"page":    page,
			}).WithError(err).Warn("Instrument refresh failed, using fallback symbols")

			return in.Symbols(ctx), nil
		}

		for _, row := range rows {
			if inst := mapper.MapInstrument(row); inst != nil {
				instruments = append(instruments, *inst)
			}
		}

		if next == "" {
			break
		}
		cursor = next
	}

	if len(instruments) == 0 {
		return in.Symbols(ctx), nil
	}

	if err := in.instruments.UpsertAll(ctx, instruments); err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		symbols = append(symbols, inst.Symbol)
	}

	logger.WithFields(map[string]interface{}{
		"service": "Ingestor",
		"op":      "RefreshInstruments",
		"symbols": len(symbols),
	}).Info("Instrument universe refreshed")

	return symbols, nil
}

// Symbols returns the locally cached instrument universe, or the static
// fallback set when nothing is cached.
func (in *Ingestor) Symbols(ctx context.Context) []string {
	symbols, err := in.instruments.ListSymbols(ctx)
	if err != nil || len(symbols) == 0 {
		return defaultSymbols
	}
	return symbols
}

// BackfillAccount ingests executions for every symbol and the funding
// log for one account over [from, now]. A failing symbol is logged and
// skipped so one bad pair cannot starve the rest of the account.
func (in *Ingestor) BackfillAccount(
	ctx context.Context,
	account *model.Account,
	from time.Time,
) error {

	to := in.now().UTC()

	logger.WithFields(map[string]interface{}{
		"service":    "Ingestor",
		"op":         "BackfillAccount",
		"account_id": account.ID,
		"from":       from,
		"to":         to,
	}).Info("Starting account backfill")

	var lastErr error
	for _, symbol := range in.Symbols(ctx) {
		if err := in.ingestExecutions(ctx, account.ID, symbol, from, to); err != nil {
			logger.WithFields(map[string]interface{}{
				"service":    "Ingestor",
				"op":         "BackfillAccount",
				"account_id": account.ID,
				"symbol":     symbol,
			}).WithError(err).Error("Symbol backfill failed, continuing with next symbol")

			lastErr = err
		}
	}

	if err := in.ingestFunding(ctx, account.ID, from, to); err != nil {
		lastErr = err
	}

	return lastErr
}

// BackfillSinceLast resumes a backfill from the account's newest local
// record, minus a one-window overlap to absorb late exchange-side
// writes. The fill and funding streams are covered independently by the
// exchange, so resumption starts from whichever stream is further
// behind. Accounts with no history yet get the default lookback.
func (in *Ingestor) BackfillSinceLast(
	ctx context.Context,
	account *model.Account,
) error {

	latestFill, err := in.fills.LatestTimestamp(ctx, account.ID)
	if err != nil {
		return err
	}
	latestFunding, err := in.funding.LatestTimestamp(ctx, account.ID)
	if err != nil {
		return err
	}

	latest := latestFill
	if latest == nil {
		latest = latestFunding
	} else if latestFunding != nil && latestFunding.Before(*latest) {
		latest = latestFunding
	}

	from := in.now().UTC().Add(-in.config.DefaultLookback)
	if latest != nil {
		from = latest.Add(-in.config.RecentWindow)
	}

	return in.BackfillAccount(ctx, account, from)
}

// SyncRecent performs a light incremental pull covering the recent
// window only, for all symbols plus funding.
func (in *Ingestor) SyncRecent(ctx context.Context, account *model.Account) error {
	return in.BackfillAccount(ctx, account, in.now().UTC().Add(-in.config.RecentWindow))
}

// SyncSymbolRecent pulls only one symbol's recent executions, used
// after a live stream event to catch anything the stream dropped.
func (in *Ingestor) SyncSymbolRecent(
	ctx context.Context,
	account *model.Account,
	symbol string,
) error {

	to := in.now().UTC()
	return in.ingestExecutions(ctx, account.ID, symbol, to.Add(-in.config.RecentWindow), to)
}

// IngestStreamExecutions persists raw execution rows delivered by the
// private stream. Rows run through the same mapper and deduplicating
// store as REST history.
func (in *Ingestor) IngestStreamExecutions(
	ctx context.Context,
	accountID uint,
	rows []map[string]any,
) error {

	for _, row := range rows {
		fill := mapper.MapExecutionToFill(accountID, "", row)
		if fill == nil {
			continue
		}
		if err := in.fills.Persist(ctx, fill); err != nil {
			return err
		}
	}
	return nil
}

func (in *Ingestor) ingestExecutions(
	ctx context.Context,
	accountID uint,
	symbol string,
	from, to time.Time,
) error {

	for _, window := range utils.SplitWindows(from, to, in.config.WindowChunk) {
		cursor := ""

		for page := 0; page < in.config.MaxPagesPerWindow; page++ {
			rows, next, err := in.gateway.ListExecutions(
				ctx, symbol,
				utils.TimeToMs(window.From), utils.TimeToMs(window.To),
				cursor,
			)
			if err != nil {
				return err
			}

			for _, row := range rows {
				fill := mapper.MapExecutionToFill(accountID, symbol, row)
				if fill == nil {
					continue
				}
				if err := in.fills.Persist(ctx, fill); err != nil {
					return err
				}
			}

			if next == "" {
				break
			}
			cursor = next
		}
	}

	return nil
}

func (in *Ingestor) ingestFunding(
	ctx context.Context,
	accountID uint,
	from, to time.Time,
) error {

	for _, window := range utils.SplitWindows(from, to, in.config.WindowChunk) {
		cursor := ""

		for page := 0; page < in.config.MaxPagesPerWindow; page++ {
			rows, next, err := in.gateway.ListTransactionLog(
				ctx,
				utils.TimeToMs(window.From), utils.TimeToMs(window.To),
				cursor,
			)
			if err != nil {
				return err
			}

			for _, row := range rows {
				if !mapper.IsFundingRecord(row) {
					continue
				}
				event := mapper.MapTransactionToFunding(accountID, row)
				if event == nil || event.Symbol == "" {
					continue
				}
				if err := in.funding.Persist(ctx, event); err != nil {
					return err
				}
			}

			if next == "" {
				break
			}
			cursor = next
		}
	}

	return nil
}
