package mapper

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"
)

// The REST execution-history endpoint and the WS execution stream name
// the same fields differently (execPrice vs p, execQty vs q, ...).
// Each canonical field maps to an ordered candidate list; the first
// present, non-empty key wins.
var executionFieldCandidates = map[string][]string{
	"execId":      {"execId", "executionId", "i"},
	"orderId":     {"orderId", "o"},
	"orderLinkId": {"orderLinkId", "l", "c"},
	"symbol":      {"symbol", "s"},
	"side":        {"side", "S"},
	"price":       {"execPrice", "price", "p"},
	"qty":         {"execQty", "qty", "q"},
	"fee":         {"execFee", "fee", "n"},
	"feeCurrency": {"feeCurrency", "N"},
	"isMaker":     {"isMaker", "m"},
	"reduceOnly":  {"isReduceOnly", "reduceOnly", "R"},
	"execTime":    {"execTime", "T", "ts", "timestamp"},
}

var fundingFieldCandidates = map[string][]string{
	"type":   {"type", "category"},
	"symbol": {"symbol", "s"},
	"amount": {"funding", "amount", "change", "cashFlow"},
	"rate":   {"feeRate", "fundingRate", "rate"},
	"time":   {"transactionTime", "timestamp", "ts"},
}

// probe returns the first present, non-empty candidate value rendered
// as a string. JSON payloads arrive with mixed value types, so numbers
// and bools are stringified rather than rejected.
func probe(payload map[string]any, candidates []string) string {
	for _, key := range candidates {
		v, ok := payload[key]
		if !ok || v == nil {
			continue
		}

		switch t := v.(type) {
		case string:
			if strings.TrimSpace(t) != "" {
				return strings.TrimSpace(t)
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(t)
		default:
			s := strings.TrimSpace(fmt.Sprintf("%v", t))
			if s != "" {
				return s
			}
		}
	}
	return ""
}

// parseFloatSafe coerces to 0 on failure rather than propagating an
// error; a single bad numeric field must not drop the whole record.
func parseFloatSafe(field, v string) float64 {
	if v == "" {
		logger.WithField("field", field).Debug("Empty numeric field received, defaulting to 0")
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"field": field,
			"value": v,
		}).WithError(err).Error("Failed to parse float from exchange payload field; defaulting to 0")
		return 0
	}
	return f
}

func parseBoolSafe(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1":
		return true
	}
	return false
}

// parseMsTime parses an epoch-milliseconds value. Returns the zero time
// when the field is absent or unparsable.
func parseMsTime(field, v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"field": field,
			"value": v,
		}).WithError(err).Error("Failed to parse timestamp from exchange payload field")
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
