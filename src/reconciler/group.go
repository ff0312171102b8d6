package reconciler

import (
	"sort"
	"time"

	logger "github.com/sirupsen/logrus"

	"positionledger/src/model"
)

// fillGroup is a set of fills sharing one grouping key, treated as one
// side of a position.
type fillGroup struct {
	key   string
	fills []model.Fill

	side        string
	quantity    float64
	vwap        float64
	best        float64
	fee         float64
	orderLinkID string

	firstTs time.Time
	lastTs  time.Time
}

func (g *fillGroup) fillIDs() []uint {
	ids := make([]uint, 0, len(g.fills))
	for _, f := range g.fills {
		ids = append(ids, f.ID)
	}
	return ids
}

// groupKey resolves the grouping key for a fill: exchange order id
// first, then the client order-link id, then a per-fill singleton.
// Order id is the most reliable key because partial fills of one order
// are always same-side and same intent.
func groupKey(f model.Fill) string {
	if f.ExchangeOrderID != "" {
		return "oid:" + f.ExchangeOrderID
	}
	if f.OrderLinkID != "" {
		return "lid:" + f.OrderLinkID
	}
	return "one:" + f.ExchangeExecID
}

// validFill rejects malformed fills (non-positive price or quantity)
// from aggregation. They are skipped, never consumed, and never abort
// the batch.
func validFill(f model.Fill) bool {
	return f.Price > 0 && f.Quantity > 0
}

// buildGroups partitions fills into groups and aggregates each group's
// side, quantity, VWAP, best price, fee and time bounds. Input order
// does not matter; the result is ordered by (firstTs, lowest fill id).
func buildGroups(fills []model.Fill) []*fillGroup {
	byKey := make(map[string]*fillGroup)
	var order []string

	for _, f := range fills {
		if !validFill(f) {
			logger.WithFields(map[string]interface{}{
				"component": "reconciler",
				"exec_id":   f.ExchangeExecID,
				"price":     f.Price,
				"qty":       f.Quantity,
			}).Warn("Skipping malformed fill")

			continue
		}

		key := groupKey(f)
		g, ok := byKey[key]
		if !ok {
			g = &fillGroup{key: key}
			byKey[key] = g
			order = append(order, key)
		}
		g.fills = append(g.fills, f)
	}

	groups := make([]*fillGroup, 0, len(order))
	for _, key := range order {
		g := byKey[key]
		g.aggregate()
		groups = append(groups, g)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if !groups[i].firstTs.Equal(groups[j].firstTs) {
			return groups[i].firstTs.Before(groups[j].firstTs)
		}
		return groups[i].fills[0].ID < groups[j].fills[0].ID
	})

	return groups
}

func (g *fillGroup) aggregate() {
	var buys, sells int
	var qty, notional, fee float64

	for _, f := range g.fills {
		if f.Side == model.FillSideSell {
			sells++
		} else {
			buys++
		}
		qty += f.Quantity
		notional += f.Price * f.Quantity
		fee += f.FeeUSDT

		if g.firstTs.IsZero() || f.Ts.Before(g.firstTs) {
			g.firstTs = f.Ts
		}
		if f.Ts.After(g.lastTs) {
			g.lastTs = f.Ts
		}
		if g.orderLinkID == "" && f.OrderLinkID != "" {
			g.orderLinkID = f.OrderLinkID
		}
	}

	// Dominant side by majority, ties broken toward buy.
	g.side = model.FillSideBuy
	if sells > buys {
		g.side = model.FillSideSell
	}

	g.quantity = qty
	g.fee = fee
	if qty > 0 {
		g.vwap = notional / qty
	}
	g.best = bestPrice(g.side, g.fills)
}

// bestPrice is the most favorable individual fill price for the holder:
// the minimum paid when buying, the maximum received when selling.
func bestPrice(side string, fills []model.Fill) float64 {
	best := 0.0
	for i, f := range fills {
		if i == 0 {
			best = f.Price
			continue
		}
		if side == model.FillSideBuy && f.Price < best {
			best = f.Price
		}
		if side == model.FillSideSell && f.Price > best {
			best = f.Price
		}
	}
	return best
}
