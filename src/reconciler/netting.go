package reconciler

import (
	"sort"

	"github.com/shopspring/decimal"

	"positionledger/src/model"
)

// nettingRemainder is the trailing run of a netting pass that never
// returned to zero: an outstanding (possibly partially offset) exposure.
type nettingRemainder struct {
	entry *fillGroup
	exit  *fillGroup // nil when nothing offset yet
	fills []model.Fill

	net       float64 // signed outstanding quantity, buy positive
	lastPrice float64
}

// netLeftovers runs the pure sequential-netting fallback over the fills
// of groups that found no pair. A running signed quantity is kept in
// fixed-point decimal so accumulated float error cannot keep a run from
// ever reaching zero; the side of the first fill of a run defines the
// entry side. Each return to (approximately) zero closes one trade; a
// trailing non-zero run is returned as the remainder.
func netLeftovers(leftovers []*fillGroup, epsilon float64) ([]matchedTrade, *nettingRemainder) {
	var fills []model.Fill
	for _, g := range leftovers {
		fills = append(fills, g.fills...)
	}
	if len(fills) == 0 {
		return nil, nil
	}

	sort.SliceStable(fills, func(i, j int) bool {
		if !fills[i].Ts.Equal(fills[j].Ts) {
			return fills[i].Ts.Before(fills[j].Ts)
		}
		return fills[i].ID < fills[j].ID
	})

	eps := decimal.NewFromFloat(epsilon)

	var trades []matchedTrade
	var entryBucket, exitBucket, runFills []model.Fill
	var entrySide string
	net := decimal.Zero

	reset := func() {
		entryBucket, exitBucket, runFills = nil, nil, nil
		entrySide = ""
		net = decimal.Zero
	}

	for _, f := range fills {
		if entrySide == "" {
			entrySide = f.Side
		}

		qty := decimal.NewFromFloat(f.Quantity)
		if f.Side == model.FillSideBuy {
			net = net.Add(qty)
		} else {
			net = net.Sub(qty)
		}

		runFills = append(runFills, f)
		if f.Side == entrySide {
			entryBucket = append(entryBucket, f)
		} else {
			exitBucket = append(exitBucket, f)
		}

		if net.Abs().LessThanOrEqual(eps) && len(exitBucket) > 0 {
			trades = append(trades, matchedTrade{
				entry: bucketGroup(entrySide, entryBucket),
				exit:  bucketGroup(oppositeSide(entrySide), exitBucket),
			})
			reset()
		}
	}

	if len(runFills) == 0 {
		return trades, nil
	}

	last := runFills[len(runFills)-1]
	netF, _ := net.Float64()

	// When the offsetting side overshot the entry (buy 1 then sell 2 at
	// tape end) the outstanding exposure flipped to the other side of the
	// book; the carry must report the side the net actually points to.
	carrySide := entrySide
	if netF < 0 {
		carrySide = model.FillSideSell
	} else if netF > 0 {
		carrySide = model.FillSideBuy
	}
	carryBucket, offsetBucket := entryBucket, exitBucket
	if carrySide != entrySide {
		carryBucket, offsetBucket = exitBucket, entryBucket
	}

	remainder := &nettingRemainder{
		entry:     bucketGroup(carrySide, carryBucket),
		fills:     runFills,
		net:       netF,
		lastPrice: last.Price,
	}
	if len(offsetBucket) > 0 {
		remainder.exit = bucketGroup(oppositeSide(carrySide), offsetBucket)
	}

	return trades, remainder
}

// bucketGroup builds an aggregated group from a netting bucket, forcing
// the side instead of re-deriving it by majority.
func bucketGroup(side string, fills []model.Fill) *fillGroup {
	g := &fillGroup{key: "net", fills: fills}
	g.aggregate()
	g.side = side
	g.best = bestPrice(side, fills)
	return g
}

func oppositeSide(side string) string {
	if side == model.FillSideBuy {
		return model.FillSideSell
	}
	return model.FillSideBuy
}
