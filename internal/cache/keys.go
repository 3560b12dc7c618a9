package cache

import "time"

// Snapshot keys for the combined ranking payload. Refresh writes both
// slots so that a query before the daily cutover still finds a valid
// snapshot from the previous run.
const (
	KeyCurrent  = "stocks_both"
	KeyPrevious = "stocks_both_prev"
)

// SnapshotTTL is how long a ranking snapshot stays servable.
const SnapshotTTL = 24 * time.Hour

// cutoverHour is the local hour after which the current day's snapshot
// becomes authoritative. The market closes at 15:00 and the data source
// publishes end-of-day bars well before 17:00.
const cutoverHour = 17

// SlotKey returns the cache key a query should read at the given local
// time. Before the cutover the previous day's snapshot is authoritative,
// from 17:00 onward the current one is.
func SlotKey(now time.Time) string {
	if now.Hour() < cutoverHour {
		return KeyPrevious
	}
	return KeyCurrent
}

// Partition formats the daily cache partition for a point in time.
func Partition(now time.Time) string {
	return now.Format("20060102")
}
