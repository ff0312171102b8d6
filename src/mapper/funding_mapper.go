package mapper

import (
	"strings"
	"time"

	"positionledger/src/model"
)

// IsFundingRecord reports whether a transaction-log row is a true
// funding event. The transaction log mixes funding with trade fees,
// transfers and settlements of other kinds, and only funding rows may
// reach the funding store.
func IsFundingRecord(payload map[string]any) bool {
	typ := strings.ToLower(probe(payload, fundingFieldCandidates["type"]))
	if typ == "" {
		return false
	}
	return strings.Contains(typ, "funding") || typ == "settlement"
}

// MapTransactionToFunding converts one funding-type transaction-log row
// into a canonical FundingEvent. The signed amount is taken as the
// exchange reports it: positive = received, negative = paid.
func MapTransactionToFunding(accountID uint, payload map[string]any) *model.FundingEvent {
	if payload == nil {
		return nil
	}

	ts := parseMsTime("transactionTime", probe(payload, fundingFieldCandidates["time"]))
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return &model.FundingEvent{
		AccountID:  accountID,
		Symbol:     probe(payload, fundingFieldCandidates["symbol"]),
		AmountUSDT: parseFloatSafe("amount", probe(payload, fundingFieldCandidates["amount"])),
		Rate:       parseFloatSafe("rate", probe(payload, fundingFieldCandidates["rate"])),
		Ts:         ts,
	}
}

// MapInstrument converts one instruments-info row. Returns nil for
// anything that is not a live linear USDT perpetual.
func MapInstrument(payload map[string]any) *model.Instrument {
	if payload == nil {
		return nil
	}

	symbol := probe(payload, []string{"symbol"})
	quote := strings.ToUpper(probe(payload, []string{"quoteCoin"}))
	status := strings.ToLower(probe(payload, []string{"status"}))
	ctype := strings.ToLower(probe(payload, []string{"contractType"}))

	if symbol == "" || quote != "USDT" || status != "trading" || !strings.Contains(ctype, "perpetual") {
		return nil
	}

	var tickSize, stepSize float64
	if pf, ok := payload["priceFilter"].(map[string]any); ok {
		tickSize = parseFloatSafe("tickSize", probe(pf, []string{"tickSize"}))
	}
	if lf, ok := payload["lotSizeFilter"].(map[string]any); ok {
		stepSize = parseFloatSafe("qtyStep", probe(lf, []string{"qtyStep"}))
	}

	return &model.Instrument{
		Symbol:        symbol,
		BaseCurrency:  probe(payload, []string{"baseCoin"}),
		QuoteCurrency: quote,
		TickSize:      tickSize,
		StepSize:      stepSize,
		RefreshedAt:   time.Now().UTC(),
	}
}

// PositionUpdate extracts the symbol and reported size from a live
// position-topic row. ok is false when the row carries no usable size.
func PositionUpdate(payload map[string]any) (symbol string, size float64, ok bool) {
	symbol = probe(payload, []string{"symbol", "s"})
	raw := probe(payload, []string{"size", "positionValue"})
	if symbol == "" || raw == "" {
		return "", 0, false
	}
	return symbol, parseFloatSafe("size", raw), true
}
