package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	BybitBaseURL string `envconfig:"BYBIT_BASE_URL" default:"https://api.bybit.com"`
	BybitWSURL   string `envconfig:"BYBIT_WS_URL" default:"wss://stream.bybit.com/v5/private"`

	RecvWindowMs   int           `envconfig:"BYBIT_RECV_WINDOW_MS" default:"10000"`
	RequestTimeout time.Duration `envconfig:"BYBIT_REQUEST_TIMEOUT" default:"15s"`

	WSPingInterval    time.Duration `envconfig:"BYBIT_WS_PING_INTERVAL" default:"20s"`
	WSReconnectMax    time.Duration `envconfig:"BYBIT_WS_RECONNECT_MAX" default:"60s"`
	WSHandshakeExpiry time.Duration `envconfig:"BYBIT_WS_HANDSHAKE_EXPIRY" default:"10s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
