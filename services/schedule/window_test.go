package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gpiobridge-go/types"
)

func at(hh, mm int) time.Time {
	return time.Date(2026, 3, 14, hh, mm, 0, 0, time.Local)
}

func window(start, end string) types.TimeWindow {
	return types.TimeWindow{Enabled: true, Start: start, End: end}
}

func TestWindowDisabledAlwaysOpen(t *testing.T) {
	assert.True(t, WindowOpen(types.TimeWindow{}, at(3, 0)))
	assert.True(t, WindowOpen(types.TimeWindow{Enabled: false, Start: "08:00", End: "09:00"}, at(3, 0)))
}

func TestWindowEqualEndpointsAlwaysOpen(t *testing.T) {
	// "00:00"-"00:00" is always open.
	w := window("00:00", "00:00")
	assert.True(t, WindowOpen(w, at(0, 0)))
	assert.True(t, WindowOpen(w, at(12, 30)))
	assert.True(t, WindowOpen(w, at(23, 59)))
}

func TestWindowSameDay(t *testing.T) {
	w := window("08:00", "17:00")
	assert.False(t, WindowOpen(w, at(7, 59)))
	assert.True(t, WindowOpen(w, at(8, 0)))
	assert.True(t, WindowOpen(w, at(16, 59)))
	assert.False(t, WindowOpen(w, at(17, 0)), "end is exclusive")
	assert.False(t, WindowOpen(w, at(20, 0)))
}

func TestWindowWrapsMidnight(t *testing.T) {
	// "22:00"-"06:00" wraps midnight.
	w := window("22:00", "06:00")
	assert.False(t, WindowOpen(w, at(21, 59)))
	assert.True(t, WindowOpen(w, at(22, 0)))
	assert.True(t, WindowOpen(w, at(23, 59)))
	assert.True(t, WindowOpen(w, at(0, 30)))
	assert.True(t, WindowOpen(w, at(5, 59)))
	assert.False(t, WindowOpen(w, at(6, 0)))
	assert.False(t, WindowOpen(w, at(12, 0)))
}

func TestWindowMinuteGranularity(t *testing.T) {
	w := window("22:00", "06:00")
	// Seconds are ignored: 05:59:59 is still inside.
	now := time.Date(2026, 3, 14, 5, 59, 59, 0, time.Local)
	assert.True(t, WindowOpen(w, now))
}

func TestWindowMalformedClockIsClosed(t *testing.T) {
	assert.False(t, WindowOpen(window("25:00", "06:00"), at(3, 0)))
	assert.False(t, WindowOpen(window("nope", "06:00"), at(3, 0)))
}
