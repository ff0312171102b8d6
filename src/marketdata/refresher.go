package marketdata

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	logger "github.com/sirupsen/logrus"
)

// SymbolSource supplies the symbols whose mark prices are worth
// refreshing, typically the instrument universe.
type SymbolSource func(ctx context.Context) []string

// Refresher polls spot tickers and feeds the price cache. Mark prices
// here are an approximation for display purposes only.
type Refresher struct {
	exchange goex.API
	cache    *PriceCache
	symbols  SymbolSource
	interval time.Duration
}

func NewRefresher(cache *PriceCache, symbols SymbolSource) *Refresher {
	config := GetConfig()

	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}

	return &Refresher{
		exchange: binance.NewWithConfig(apiConfig),
		cache:    cache,
		symbols:  symbols,
		interval: config.RefreshInterval,
	}
}

// Run polls until ctx is done. One symbol's fetch failure is logged and
// skipped.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.refreshOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshOnce(ctx)
		}
	}
}

func (r *Refresher) refreshOnce(ctx context.Context) {
	for _, symbol := range r.symbols(ctx) {
		if ctx.Err() != nil {
			return
		}

		pair := currencyPair(symbol)
		if pair == goex.UNKNOWN_PAIR {
			continue
		}

		ticker, err := r.exchange.GetTicker(pair)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"component": "marketdata",
				"symbol":    symbol,
			}).WithError(err).Warn("Ticker fetch failed")

			continue
		}

		r.cache.Set(symbol, ticker.Last)
	}
}

// currencyPair converts a venue symbol like BTCUSDT into the
// underscore-delimited pair the ticker API expects.
func currencyPair(symbol string) goex.CurrencyPair {
	base, ok := strings.CutSuffix(symbol, "USDT")
	if !ok || base == "" {
		return goex.UNKNOWN_PAIR
	}
	return goex.NewCurrencyPair2(base + "_USDT")
}
