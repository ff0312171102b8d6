package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	logger "github.com/sirupsen/logrus"

	"positionledger/src/model"
	"positionledger/src/repository"
)

type positionSearcher interface {
	Search(ctx context.Context, options repository.PositionSearchOptions) ([]model.Position, error)
}

type markPriceSource interface {
	Get(symbol string) (float64, bool)
}

// SearchPositionsHandler returns a handler that lists reconstructed
// positions for one account. Supports symbol/status/date-range filters
// and pagination. Open rows get a best-effort unrealized pnl overlay
// from the mark-price cache; the overlay is display-only and never
// persisted.
func SearchPositionsHandler(repo positionSearcher, prices markPriceSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := parseAccountID(w, r)
		if !ok {
			return
		}

		options := repository.PositionSearchOptions{AccountID: accountID}

		if symbolParam := r.URL.Query().Get("symbol"); symbolParam != "" {
			options.Symbol = &symbolParam
		}

		if statusParam := r.URL.Query().Get("status"); statusParam != "" {
			if statusParam != model.PositionStatusOpen && statusParam != model.PositionStatusClosed {
				http.Error(w, "invalid status", http.StatusBadRequest)
				return
			}
			options.Status = &statusParam
		}

		if fromParam := r.URL.Query().Get("closedFrom"); fromParam != "" {
			parsed, err := time.Parse(time.RFC3339, fromParam)
			if err != nil {
				http.Error(w, "invalid closedFrom", http.StatusBadRequest)
				return
			}
			options.ClosedAfter = &parsed
		}

		if toParam := r.URL.Query().Get("closedTo"); toParam != "" {
			parsed, err := time.Parse(time.RFC3339, toParam)
			if err != nil {
				http.Error(w, "invalid closedTo", http.StatusBadRequest)
				return
			}
			options.ClosedBefore = &parsed
		}

		options.Limit = parseIntParam(r, "limit", 100)
		options.Offset = parseIntParam(r, "offset", 0)

		positions, err := repo.Search(r.Context(), options)
		if err != nil {
			logger.WithError(err).Error("Failed to search positions")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		if prices != nil {
			for i := range positions {
				overlayUnrealized(&positions[i], prices)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(positions); err != nil {
			logger.WithError(err).Error("Failed to encode positions response")
		}
	}
}

// overlayUnrealized fills UnrealizedPnlUSDT on an open position when a
// fresh mark price is available.
func overlayUnrealized(position *model.Position, prices markPriceSource) {
	if position.Status != model.PositionStatusOpen {
		return
	}

	mark, ok := prices.Get(position.Symbol)
	if !ok {
		return
	}

	unrealized := (mark - position.EntryPriceVWAP) * position.Quantity
	if position.Side == model.PositionSideShort {
		unrealized = (position.EntryPriceVWAP - mark) * position.Quantity
	}
	position.UnrealizedPnlUSDT = &unrealized
}

func parseAccountID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	accountParam := r.URL.Query().Get("accountId")
	if accountParam == "" {
		http.Error(w, "accountId is required", http.StatusBadRequest)
		return 0, false
	}

	id, err := strconv.ParseUint(accountParam, 10, 64)
	if err != nil {
		http.Error(w, "invalid accountId", http.StatusBadRequest)
		return 0, false
	}
	return uint(id), true
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
