package utils

import "time"

// MsToTime converts an epoch-milliseconds value to UTC time.
func MsToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// TimeToMs converts a time to epoch milliseconds.
func TimeToMs(t time.Time) int64 {
	return t.UnixMilli()
}

// Window is one half-open [From, To) slice of a larger time range.
type Window struct {
	From time.Time
	To   time.Time
}

// SplitWindows cuts [from, to) into consecutive windows of at most
// chunk each. The exchange rejects history queries spanning more than
// seven days, so long backfills must be walked in slices.
func SplitWindows(from, to time.Time, chunk time.Duration) []Window {
	if chunk <= 0 || !from.Before(to) {
		return nil
	}

	var windows []Window
	for cur := from; cur.Before(to); {
		end := cur.Add(chunk)
		if end.After(to) {
			end = to
		}
		windows = append(windows, Window{From: cur, To: end})
		cur = end
	}
	return windows
}
