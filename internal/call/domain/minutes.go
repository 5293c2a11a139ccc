package domain

import "time"

const DefaultMaxDuration = 24 * time.Hour

// BillableMinutes converts a raw duration to whole billed minutes.
// The duration is clamped to [0, maxDuration], rounded up, and floored at 1.
func BillableMinutes(durationSeconds int64, maxDuration time.Duration) int64 {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	maxSeconds := int64(maxDuration / time.Second)

	seconds := durationSeconds
	if seconds < 0 {
		seconds = 0
	}
	if seconds > maxSeconds {
		seconds = maxSeconds
	}

	minutes := (seconds + 59) / 60
	if minutes < 1 {
		return 1
	}
	return minutes
}
