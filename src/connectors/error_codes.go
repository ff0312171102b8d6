package connectors

import "fmt"

// BybitErrorCodes maps Bybit v5 retCode values to human-readable messages.
var BybitErrorCodes = map[int]string{
	10000:  "SERVER_TIMEOUT",           // Server-side timeout
	10001:  "PARAMS_ERROR",             // Request parameter error
	10002:  "INVALID_TIMESTAMP",        // Request timestamp outside recv window
	10003:  "INVALID_API_KEY",          // API key invalid or wrong environment
	10004:  "SIGN_ERROR",               // Signature mismatch
	10005:  "PERMISSION_DENIED",        // Key lacks permission for this endpoint
	10006:  "RATE_LIMIT_EXCEEDED",      // Too many visits
	10010:  "IP_MISMATCH",              // Unmatched IP for bound key
	10016:  "SERVICE_ERROR",            // Server internal error
	10017:  "ROUTE_NOT_FOUND",          // Request path not found
	110001: "ORDER_NOT_EXISTS",         // Order does not exist
	110025: "POSITION_MODE_NOT_MODIFY", // Position mode is not modified
	181001: "CATEGORY_NOT_SUPPORTED",   // category only supports linear
	182000: "SYMBOL_NOT_WHITELISTED",   // Symbol not tradable for this account
}

// GetErrorMsg returns a human-readable message for a given Bybit retCode.
// If the code is unknown, returns a generic message including the code.
func GetErrorMsg(code int) string {
	if msg, ok := BybitErrorCodes[code]; ok {
		return msg
	}
	return fmt.Sprintf("UNKNOWN_BYBIT_ERROR_%d", code)
}
