package meeting

import "time"

// Status is derived from the clock at render time and never stored.
type Status string

const (
	StatusFree     Status = "free"
	StatusUpcoming Status = "upcoming"
	StatusImminent Status = "imminent"
	StatusLive     Status = "live"
)

// Thresholds are the lead times at which a meeting turns imminent or upcoming.
type Thresholds struct {
	Imminent time.Duration
	Upcoming time.Duration
}

var DefaultThresholds = Thresholds{
	Imminent: time.Minute,
	Upcoming: 15 * time.Minute,
}

// Classify maps (now, start, end) to a status. A zero start is free and a
// zero end means the meeting ends when it starts.
func (th Thresholds) Classify(now, start, end time.Time) Status {
	if start.IsZero() {
		return StatusFree
	}
	if end.IsZero() || end.Before(start) {
		end = start
	}

	if !now.Before(start) && !now.After(end) {
		return StatusLive
	}

	until := start.Sub(now)
	switch {
	case until <= th.Imminent:
		return StatusImminent
	case until <= th.Upcoming:
		return StatusUpcoming
	default:
		return StatusFree
	}
}

// Classify uses DefaultThresholds.
func Classify(now, start, end time.Time) Status {
	return DefaultThresholds.Classify(now, start, end)
}
