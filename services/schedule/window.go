package schedule

import (
	"time"

	"gpiobridge-go/types"
)

func msToDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// WindowOpen evaluates a daily time window against local wall-clock time at
// one-minute granularity. start == end means always open; start > end wraps
// midnight; a time equal to end is outside. A disabled window admits
// everything. Malformed clocks evaluate closed (validation rejects them
// before an executor ever launches; this is the backstop).
//
// DST needs no special casing: a start inside a spring-forward gap simply
// never matches that day, and the periodic re-evaluation catches the next
// occurrence.
func WindowOpen(w types.TimeWindow, now time.Time) bool {
	if !w.Enabled {
		return true
	}
	start, err := types.ParseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := types.ParseClock(w.End)
	if err != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	switch {
	case start == end:
		return true
	case start < end:
		return cur >= start && cur < end
	default:
		return cur >= start || cur < end
	}
}
