package reconciler

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// QtyEpsilon is the absolute tolerance when comparing quantities;
	// exchange quantities are fixed-point decimals subject to rounding.
	QtyEpsilon float64 `envconfig:"RECONCILER_QTY_EPSILON" default:"0.00000001"`

	// StaleCutoff is how old a never-offset netting remainder must be
	// before it is force-closed. Synthetic closes approximate an exit at
	// the last fill price and are flagged on the position row.
	StaleCutoff    time.Duration `envconfig:"RECONCILER_STALE_CUTOFF" default:"336h"`
	SyntheticClose bool          `envconfig:"RECONCILER_SYNTHETIC_CLOSE" default:"true"`

	// FundingRecheck is how far back closed positions have their funding
	// attribution re-summed on each pass. Funding settlements can appear
	// in the transaction log after the round trip they belong to was
	// already finalized.
	FundingRecheck time.Duration `envconfig:"RECONCILER_FUNDING_RECHECK" default:"168h"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
