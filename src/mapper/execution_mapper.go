package mapper

import (
	"strings"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"positionledger/src/model"
)

// MapExecutionToFill converts one raw execution payload (REST or WS
// shape) into a canonical Fill.
//
// The exchange execution id is the dedup key. When it is missing the
// fill is still produced, under a synthetic one-shot id, so the record
// is kept best-effort but never deduplicates against later deliveries
// of the same execution.
func MapExecutionToFill(accountID uint, symbol string, payload map[string]any) *model.Fill {
	if payload == nil {
		logger.WithField("mapper", "MapExecutionToFill").
			Error("Nil execution payload received")
		return nil
	}

	execID := probe(payload, executionFieldCandidates["execId"])
	if execID == "" {
		execID = "noid-" + uuid.NewString()

		logger.WithFields(map[string]interface{}{
			"mapper":  "MapExecutionToFill",
			"symbol":  symbol,
			"exec_id": execID,
		}).Warn("Execution payload without exec id, persisting best-effort without dedup")
	}

	if symbol == "" {
		symbol = probe(payload, executionFieldCandidates["symbol"])
	}

	ts := parseMsTime("execTime", probe(payload, executionFieldCandidates["execTime"]))
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	liquidity := model.LiquidityTaker
	if parseBoolSafe(probe(payload, executionFieldCandidates["isMaker"])) {
		liquidity = model.LiquidityMaker
	}

	fill := &model.Fill{
		AccountID:       accountID,
		Symbol:          symbol,
		Side:            strings.ToLower(probe(payload, executionFieldCandidates["side"])),
		Price:           parseFloatSafe("price", probe(payload, executionFieldCandidates["price"])),
		Quantity:        parseFloatSafe("qty", probe(payload, executionFieldCandidates["qty"])),
		FeeUSDT:         parseFloatSafe("fee", probe(payload, executionFieldCandidates["fee"])),
		FeeCurrency:     "USDT",
		Liquidity:       liquidity,
		ReduceOnly:      parseBoolSafe(probe(payload, executionFieldCandidates["reduceOnly"])),
		ExchangeExecID:  execID,
		ExchangeOrderID: probe(payload, executionFieldCandidates["orderId"]),
		OrderLinkID:     probe(payload, executionFieldCandidates["orderLinkId"]),
		Ts:              ts,
	}

	if cur := probe(payload, executionFieldCandidates["feeCurrency"]); cur != "" {
		fill.FeeCurrency = cur
	}

	logger.WithFields(map[string]interface{}{
		"mapper":  "MapExecutionToFill",
		"symbol":  fill.Symbol,
		"side":    fill.Side,
		"exec_id": fill.ExchangeExecID,
	}).Debug("Execution payload mapped to fill")

	return fill
}
