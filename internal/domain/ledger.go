package domain

import "time"

// CostEntry is one day's spend ledger row. Rows are created lazily on the
// first job of the day, incremented atomically on every job creation, and
// never deleted: totals within a day only grow.
type CostEntry struct {
	Date           time.Time // midnight UTC, the row key
	GenerationCost float64
	TotalCost      float64
	VideoCount     int
}

// Day truncates t to its UTC calendar day, the ledger row key.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
