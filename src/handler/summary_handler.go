package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	logger "github.com/sirupsen/logrus"

	"positionledger/src/repository"
)

type closedSummarizer interface {
	SummarizeClosed(ctx context.Context, accountID uint, from, to time.Time) (repository.ClosedSummary, error)
}

type summaryResponse struct {
	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	WinRate      float64 `json:"win_rate"`
	RealizedPnl  float64 `json:"realized_pnl_usdt"`
	FeesOpen     float64 `json:"fees_open_usdt"`
	FeesClose    float64 `json:"fees_close_usdt"`
	Funding      float64 `json:"funding_usdt"`
	SlippageUSDT float64 `json:"slippage_usdt"`
}

// SummaryHandler aggregates realized results over an account's closed
// positions in a [from, to) window. Missing bounds leave the window
// open-ended on that side.
func SummaryHandler(repo closedSummarizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := parseAccountID(w, r)
		if !ok {
			return
		}

		var from, to time.Time
		if fromParam := r.URL.Query().Get("from"); fromParam != "" {
			parsed, err := time.Parse(time.RFC3339, fromParam)
			if err != nil {
				http.Error(w, "invalid from", http.StatusBadRequest)
				return
			}
			from = parsed
		}
		if toParam := r.URL.Query().Get("to"); toParam != "" {
			parsed, err := time.Parse(time.RFC3339, toParam)
			if err != nil {
				http.Error(w, "invalid to", http.StatusBadRequest)
				return
			}
			to = parsed
		}

		summary, err := repo.SummarizeClosed(r.Context(), accountID, from, to)
		if err != nil {
			logger.WithError(err).Error("Failed to summarize closed positions")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		resp := summaryResponse{
			Trades:       summary.Trades,
			Wins:         summary.Wins,
			RealizedPnl:  summary.RealizedPnl,
			FeesOpen:     summary.FeesOpen,
			FeesClose:    summary.FeesClose,
			Funding:      summary.Funding,
			SlippageUSDT: summary.SlippageUSDT,
		}
		if summary.Trades > 0 {
			resp.WinRate = float64(summary.Wins) / float64(summary.Trades)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.WithError(err).Error("Failed to encode summary response")
		}
	}
}
