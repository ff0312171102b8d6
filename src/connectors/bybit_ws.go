package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
)

// StreamHandler receives decoded private-topic rows. Handlers run on
// the stream's read goroutine and should hand off anything slow.
type StreamHandler func(rows []map[string]any)

// BybitStream is one authenticated private WebSocket connection for one
// account, subscribed to the "execution" and "position" topics. It
// survives disconnects with capped backoff and keeps the connection
// alive with periodic pings.
type BybitStream struct {
	apiKey    string
	apiSecret string
	wsURL     string
	accountID uint

	pingInterval    time.Duration
	reconnectMax    time.Duration
	handshakeExpiry time.Duration

	OnExecution StreamHandler
	OnPosition  StreamHandler
}

func NewBybitStream(accountID uint, apiKey, apiSecret string) *BybitStream {
	config := GetConfig()

	return &BybitStream{
		apiKey:          apiKey,
		apiSecret:       apiSecret,
		wsURL:           config.BybitWSURL,
		accountID:       accountID,
		pingInterval:    config.WSPingInterval,
		reconnectMax:    config.WSReconnectMax,
		handshakeExpiry: config.WSHandshakeExpiry,
	}
}

type wsMessage struct {
	Op      string           `json:"op,omitempty"`
	Topic   string           `json:"topic,omitempty"`
	Success *bool            `json:"success,omitempty"`
	RetMsg  string           `json:"ret_msg,omitempty"`
	Data    []map[string]any `json:"data,omitempty"`
}

// Run drives the connect/auth/subscribe/read loop until ctx is done.
// Each failure tears the connection down and redials with exponential
// backoff (plus jitter) capped at reconnectMax.
func (s *BybitStream) Run(ctx context.Context) {
	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		attempt++
		delay := s.backoff(attempt)

		logger.WithFields(map[string]interface{}{
			"connector":  "BybitStream",
			"account_id": s.accountID,
			"attempt":    attempt,
			"retry_in":   delay.String(),
		}).WithError(err).Warn("Stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *BybitStream) backoff(attempt int) time.Duration {
	d := time.Duration(float64(time.Second) * math.Pow(2, float64(attempt-1)))
	if d > s.reconnectMax {
		d = s.reconnectMax
	}
	jitter := time.Duration(rand.Int63n(int64(500 * time.Millisecond)))
	return d + jitter
}

func (s *BybitStream) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.handshakeExpiry}

	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := s.authenticate(conn); err != nil {
		return err
	}

	sub := map[string]any{
		"op":   "subscribe",
		"args": []string{"execution", "position"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"connector":  "BybitStream",
		"account_id": s.accountID,
	}).Info("Stream connected and subscribed")

	// Writer goroutine owns all writes after subscribe; the read loop
	// requests pongs through pingReq so reads and writes never race.
	pingReq := make(chan struct{}, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
					conn.Close()
					return
				}
			case <-pingReq:
				if err := conn.WriteJSON(map[string]string{"op": "pong"}); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.WithFields(map[string]interface{}{
				"connector":  "BybitStream",
				"account_id": s.accountID,
			}).WithError(err).Warn("Dropping undecodable stream message")
			continue
		}

		switch {
		case msg.Op == "ping":
			select {
			case pingReq <- struct{}{}:
			default:
			}

		case msg.Op == "auth" || msg.Op == "subscribe" || msg.Op == "pong":
			if msg.Success != nil && !*msg.Success {
				return fmt.Errorf("stream control failure on %q: %s", msg.Op, msg.RetMsg)
			}

		case msg.Topic == "execution":
			if s.OnExecution != nil {
				s.OnExecution(msg.Data)
			}

		case msg.Topic == "position":
			if s.OnPosition != nil {
				s.OnPosition(msg.Data)
			}
		}
	}
}

func (s *BybitStream) authenticate(conn *websocket.Conn) error {
	expires := time.Now().Add(s.handshakeExpiry).UnixMilli()

	mac := hmac.New(sha256.New, []byte(s.apiSecret))
	mac.Write([]byte(fmt.Sprintf("GET/realtime%d", expires)))
	signature := hex.EncodeToString(mac.Sum(nil))

	auth := map[string]any{
		"op":   "auth",
		"args": []any{s.apiKey, expires, signature},
	}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}
