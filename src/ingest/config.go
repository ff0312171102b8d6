package ingest

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// WindowChunk bounds one history query; the venue caps execution
	// history lookups at seven days per request.
	WindowChunk time.Duration `envconfig:"INGEST_WINDOW_CHUNK" default:"168h"`

	// RecentWindow is how far back a light incremental sync reaches.
	RecentWindow time.Duration `envconfig:"INGEST_RECENT_WINDOW" default:"2h"`

	// DefaultLookback is the backfill depth for an account with no
	// locally stored fills yet.
	DefaultLookback time.Duration `envconfig:"INGEST_DEFAULT_LOOKBACK" default:"720h"`

	// MaxPagesPerWindow bounds cursor-following within one window so a
	// broken cursor cannot loop forever.
	MaxPagesPerWindow int `envconfig:"INGEST_MAX_PAGES_PER_WINDOW" default:"50"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
