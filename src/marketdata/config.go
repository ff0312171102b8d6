package marketdata

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// TTL is how long a cached mark price is served before it is
	// considered stale and dropped from reads.
	TTL time.Duration `envconfig:"MARKPRICE_TTL" default:"30s"`

	// MaxEntries bounds the cache; the oldest entry is evicted first.
	MaxEntries int `envconfig:"MARKPRICE_MAX_ENTRIES" default:"512"`

	RefreshInterval time.Duration `envconfig:"MARKPRICE_REFRESH_INTERVAL" default:"15s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
