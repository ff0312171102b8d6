package reconciler

import (
	"math"
	"time"

	"positionledger/src/model"
)

// grossPnl is (exit − entry) × qty for longs, inverted for shorts.
func grossPnl(side string, entryVwap, exitVwap, qty float64) float64 {
	if side == model.PositionSideShort {
		return (entryVwap - exitVwap) * qty
	}
	return (exitVwap - entryVwap) * qty
}

// netPnl nets fees out of gross pnl and adds funding as the exchange
// signs it (positive = received).
func netPnl(gross, feeOpen, feeClose, funding float64) float64 {
	return gross - math.Abs(feeOpen) - math.Abs(feeClose) + funding
}

// groupSlippage is the quote-currency cost of execution quality versus
// the best individual fill price in the group. Sign-adjusted for side
// so a worse fill than best is always a positive cost.
func groupSlippage(g *fillGroup) float64 {
	if g == nil || g.quantity == 0 {
		return 0
	}
	if g.side == model.FillSideSell {
		return (g.best - g.vwap) * g.quantity
	}
	return (g.vwap - g.best) * g.quantity
}

// positionSide derives the position side from the entry group's side.
func positionSide(entrySide string) string {
	if entrySide == model.FillSideSell {
		return model.PositionSideShort
	}
	return model.PositionSideLong
}

// timelagSlippage quantifies the cost attributable to signal-to-fill
// latency: the theoretical outcome implied by the signal's risk inputs
// (risk × reward ratio on a win, −risk on a loss) minus everything
// already explained by realized pnl, price-quality slippage, fees and
// funding. Returns nil when risk inputs are absent; defaulting to zero
// would silently understate the cost.
func timelagSlippage(
	signal *model.Signal,
	pnl, slipEntry, slipExit, feeOpen, feeClose, funding float64,
) *float64 {

	if signal == nil || signal.RiskAmountUSDT == nil || signal.RiskReward == nil {
		return nil
	}

	theoretical := -*signal.RiskAmountUSDT
	if pnl > 0 {
		theoretical = *signal.RiskAmountUSDT * *signal.RiskReward
	}

	v := theoretical - pnl - slipEntry - slipExit -
		math.Abs(feeOpen) - math.Abs(feeClose) - funding
	return &v
}

// timelagsMs derives the three latency legs in milliseconds:
// signal→bot receipt, bot processing, bot send→first exchange fill.
// Each leg is nil when its inputs are missing.
func timelagsMs(signal *model.Signal, firstExecAt time.Time) (sigBot, botProc, botExch *float64) {
	if signal == nil {
		return nil, nil, nil
	}

	if signal.SignalTs != nil && !signal.BotReceivedAt.IsZero() {
		v := float64(signal.BotReceivedAt.Sub(*signal.SignalTs).Milliseconds())
		sigBot = &v
	}
	if signal.BotSentAt != nil && !signal.BotReceivedAt.IsZero() {
		v := float64(signal.BotSentAt.Sub(signal.BotReceivedAt).Milliseconds())
		botProc = &v
	}
	if signal.BotSentAt != nil && !firstExecAt.IsZero() {
		v := float64(firstExecAt.Sub(*signal.BotSentAt).Milliseconds())
		botExch = &v
	}
	return sigBot, botProc, botExch
}
