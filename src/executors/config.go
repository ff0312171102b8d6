package executors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// SyncPeriod is the interval between scheduled backfill + rebuild
	// passes over all active accounts.
	SyncPeriod time.Duration `envconfig:"SYNC_PERIOD" default:"4h"`

	// LiveEnabled starts one private stream worker per active account.
	LiveEnabled bool `envconfig:"LIVE_ENABLED" default:"true"`

	// ZeroEpsilon is the position-size threshold under which a live
	// position update counts as a transition to flat.
	ZeroEpsilon float64 `envconfig:"LIVE_ZERO_EPSILON" default:"0.00000001"`

	// EventBuffer bounds the per-account live event queue.
	EventBuffer int `envconfig:"LIVE_EVENT_BUFFER" default:"256"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
