// REST API CLIENT FOR BYBIT V5 (READ-ONLY DATA ENDPOINTS)
// RESTY ONLY + INTERNAL RETRY
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

// -----------------------------
// CONFIG
// -----------------------------
const (
	// Default retry configuration
	defaultRetryAttempts   = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
)

// -----------------------------
// API RESPONSE WRAPPER
// -----------------------------
type APIResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

// pagedResult is the shape shared by every paginated v5 list endpoint.
type pagedResult struct {
	List           []map[string]any `json:"list"`
	NextPageCursor string           `json:"nextPageCursor"`
}

// APIError carries the exchange retCode so callers can decide between
// transient and permanent failures.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit api error %d (%s): %s", e.Code, GetErrorMsg(e.Code), e.Msg)
}

// Transient reports whether the error is worth retrying on a later pass
// (rate limits, server-side trouble). Signature and parameter errors
// are not.
func (e *APIError) Transient() bool {
	switch e.Code {
	case 10000, 10006, 10016:
		return true
	}
	return false
}

// -----------------------------
// AUTHENTICATED CLIENT
// -----------------------------
type BybitClient struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow string
	http       *resty.Client
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

func NewBybitClient(apiKey, apiSecret, baseURL string) *BybitClient {
	retryCount := defaultRetryAttempts - 1
	config := GetConfig()

	if baseURL == "" {
		baseURL = config.BybitBaseURL
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(config.RequestTimeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &BybitClient{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    baseURL,
		recvWindow: strconv.Itoa(config.RecvWindowMs),
		http:       httpClient,
	}
}

// signQuery builds the v5 signature: HMAC-SHA256 over
// timestamp + apiKey + recvWindow + queryString.
func signQuery(timestamp, apiKey, recvWindow, query, secret string) string {
	base := timestamp + apiKey + recvWindow + query
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

// encodeQuery renders the query string with sorted keys so the signed
// string matches what resty sends.
func encodeQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+url.QueryEscape(params[k]))
	}
	return strings.Join(parts, "&")
}

func (c *BybitClient) doGet(ctx context.Context, path string, params map[string]string) (*APIResponse, error) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	query := encodeQuery(params)
	sig := signQuery(timestamp, c.apiKey, c.recvWindow, query, c.apiSecret)

	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-BAPI-API-KEY", c.apiKey).
		SetHeader("X-BAPI-TIMESTAMP", timestamp).
		SetHeader("X-BAPI-RECV-WINDOW", c.recvWindow).
		SetHeader("X-BAPI-SIGN", sig)

	if query != "" {
		req = req.SetQueryString(query)
	}

	resp, err := req.Get(path)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"connector": "BybitClient",
			"path":      path,
		}).WithError(err).Error("Request failed after retries")

		return nil, fmt.Errorf("bybit GET %s: %w", path, err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(resp.Body(), &apiResp); err != nil {
		return nil, fmt.Errorf("bybit GET %s: decode response: %w", path, err)
	}

	if apiResp.RetCode != 0 {
		apiErr := &APIError{Code: apiResp.RetCode, Msg: apiResp.RetMsg}

		logger.WithFields(map[string]interface{}{
			"connector": "BybitClient",
			"path":      path,
			"ret_code":  apiResp.RetCode,
			"ret_msg":   apiResp.RetMsg,
		}).Error("Exchange returned error code")

		return nil, apiErr
	}

	return &apiResp, nil
}

func (c *BybitClient) doPagedGet(ctx context.Context, path string, params map[string]string) ([]map[string]any, string, error) {
	resp, err := c.doGet(ctx, path, params)
	if err != nil {
		return nil, "", err
	}

	var page pagedResult
	if err := json.Unmarshal(resp.Result, &page); err != nil {
		return nil, "", fmt.Errorf("bybit GET %s: decode result: %w", path, err)
	}

	return page.List, page.NextPageCursor, nil
}

// deepUnquote undoes repeated URL escaping on pagination cursors. Some
// cursors arrive double-encoded and loop forever if sent back verbatim.
func deepUnquote(s string) string {
	prev := s
	for i := 0; i < 5; i++ {
		cur, err := url.QueryUnescape(prev)
		if err != nil || cur == prev {
			break
		}
		prev = cur
	}
	return prev
}

// -----------------------------
// DATA ENDPOINTS
// -----------------------------

// ListExecutions fetches one page of trade history for a symbol in
// [startMs, endMs]. Returns the raw rows and the next-page cursor
// (empty when exhausted).
func (c *BybitClient) ListExecutions(
	ctx context.Context,
	symbol string,
	startMs, endMs int64,
	cursor string,
) ([]map[string]any, string, error) {

	params := map[string]string{
		"category": "linear",
		"symbol":   symbol,
		"limit":    "100",
		"cursor":   deepUnquote(cursor),
	}
	if startMs > 0 {
		params["startTime"] = strconv.FormatInt(startMs, 10)
	}
	if endMs > 0 {
		params["endTime"] = strconv.FormatInt(endMs, 10)
	}

	return c.doPagedGet(ctx, "/v5/execution/list", params)
}

// ListTransactionLog fetches one page of the unified account
// transaction log for [startMs, endMs]. Funding events are a subset of
// these rows; callers filter by the type discriminator.
func (c *BybitClient) ListTransactionLog(
	ctx context.Context,
	startMs, endMs int64,
	cursor string,
) ([]map[string]any, string, error) {

	params := map[string]string{
		"accountType": "UNIFIED",
		"category":    "linear",
		"currency":    "USDT",
		"limit":       "50",
		"cursor":      deepUnquote(cursor),
	}
	if startMs > 0 {
		params["startTime"] = strconv.FormatInt(startMs, 10)
	}
	if endMs > 0 {
		params["endTime"] = strconv.FormatInt(endMs, 10)
	}

	return c.doPagedGet(ctx, "/v5/account/transaction-log", params)
}

// ListInstruments fetches one page of linear instrument definitions.
func (c *BybitClient) ListInstruments(
	ctx context.Context,
	cursor string,
) ([]map[string]any, string, error) {

	params := map[string]string{
		"category": "linear",
		"limit":    "1000",
		"cursor":   deepUnquote(cursor),
	}

	return c.doPagedGet(ctx, "/v5/market/instruments-info", params)
}
