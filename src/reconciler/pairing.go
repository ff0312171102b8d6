package reconciler

import "math"

// matchedTrade is one entry group fully offset by one exit group; the
// raw material of a closed position.
type matchedTrade struct {
	entry *fillGroup
	exit  *fillGroup

	// synthetic marks a staleness force-close rather than an
	// exchange-confirmed exit.
	synthetic bool
}

// pairGroups scans the chronologically sorted groups and pairs each
// unmatched group with the first later group of opposite side and equal
// quantity (within epsilon). The earlier-timestamped group of a pair is
// always the entry, which guards against out-of-order delivery where
// the exit's rows were persisted first. Groups that find no counterpart
// are returned as leftovers for the netting fallback.
func pairGroups(groups []*fillGroup, epsilon float64) ([]matchedTrade, []*fillGroup) {
	var trades []matchedTrade
	var leftovers []*fillGroup

	paired := make([]bool, len(groups))

	for i := range groups {
		if paired[i] {
			continue
		}

		matched := false
		for j := i + 1; j < len(groups); j++ {
			if paired[j] {
				continue
			}
			if groups[j].side == groups[i].side {
				continue
			}
			if math.Abs(groups[j].quantity-groups[i].quantity) > epsilon {
				continue
			}

			trades = append(trades, matchedTrade{entry: groups[i], exit: groups[j]})
			paired[i], paired[j] = true, true
			matched = true
			break
		}

		if !matched {
			leftovers = append(leftovers, groups[i])
		}
	}

	return trades, leftovers
}
