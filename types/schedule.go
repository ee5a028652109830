package types

import (
	"fmt"
	"time"

	"gpiobridge-go/errcode"
)

type ScheduleType string

const (
	SchedPWMCycle      ScheduleType = "pwm_cycle"
	SchedPWMFade       ScheduleType = "pwm_fade"
	SchedDigitalToggle ScheduleType = "digital_toggle"
	SchedHoldState     ScheduleType = "hold_state"
)

// RunStatus is the terminal status of one executor run.
type RunStatus string

const (
	RunSuccess    RunStatus = "success"
	RunSkipped    RunStatus = "skipped_out_of_window"
	RunSuperseded RunStatus = "superseded_by_override"
	RunError      RunStatus = "error"
)

// TimeWindow is a daily wall-clock interval. Start/End are "HH:MM" in the
// device's local time zone; Start > End wraps midnight. Disabled or absent
// means the schedule runs unconditionally.
type TimeWindow struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// Schedule is one user-defined schedule attached to a single pin.
// All durations are milliseconds. The struct is comparable so the listener
// can detect MODIFY by plain equality.
type Schedule struct {
	ID      string       `json:"id"`
	Type    ScheduleType `json:"type"`
	Enabled bool         `json:"enabled"`
	Window  TimeWindow   `json:"time_window"`

	// pwm_cycle / digital_toggle
	Cycles           int `json:"cycles,omitempty"`
	OnDurationMS     int `json:"on_duration_ms,omitempty"`
	OffDurationMS    int `json:"off_duration_ms,omitempty"`
	ToggleIntervalMS int `json:"toggle_interval_ms,omitempty"`

	// pwm_fade
	TotalDurationMS int `json:"total_duration_ms,omitempty"`
	Steps           int `json:"steps,omitempty"`
	StartDuty       int `json:"start_duty,omitempty"` // defaults 0
	EndDuty         int `json:"end_duty,omitempty"`   // defaults 100

	// hold_state
	State          bool `json:"state,omitempty"`
	HoldDurationMS int  `json:"hold_duration_ms,omitempty"`
}

// Validate checks the type-specific parameters. A failure is a
// DocumentSchema error; the engine marks last_status=error and does not
// launch an executor.
func (s Schedule) Validate() error {
	if err := s.Window.Validate(); err != nil {
		return err
	}
	switch s.Type {
	case SchedPWMCycle:
		if s.Cycles < 0 || s.OnDurationMS < 0 || s.OffDurationMS < 0 {
			return errcode.Wrap(errcode.InvalidParams, "schedule.validate", "negative pwm_cycle parameter", nil)
		}
	case SchedPWMFade:
		if s.TotalDurationMS <= 0 || s.Steps <= 0 {
			return errcode.Wrap(errcode.InvalidParams, "schedule.validate", "pwm_fade needs total_duration_ms and steps > 0", nil)
		}
		if !validDuty(s.StartDuty) || !validDuty(s.EndDuty) {
			return errcode.Wrap(errcode.InvalidParams, "schedule.validate", "duty outside 0..100", nil)
		}
	case SchedDigitalToggle:
		if s.Cycles < 0 || s.ToggleIntervalMS < 0 {
			return errcode.Wrap(errcode.InvalidParams, "schedule.validate", "negative digital_toggle parameter", nil)
		}
	case SchedHoldState:
		if s.HoldDurationMS < 0 {
			return errcode.Wrap(errcode.InvalidParams, "schedule.validate", "negative hold_duration_ms", nil)
		}
	default:
		return errcode.Wrap(errcode.InvalidParams, "schedule.validate", fmt.Sprintf("unknown type %q", s.Type), nil)
	}
	return nil
}

// Validate checks the HH:MM fields when the window is enabled.
func (w TimeWindow) Validate() error {
	if !w.Enabled {
		return nil
	}
	for _, v := range []string{w.Start, w.End} {
		if _, err := ParseClock(v); err != nil {
			return err
		}
	}
	return nil
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(v string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(v, "%2d:%2d", &h, &m); err != nil {
		return 0, errcode.Wrap(errcode.InvalidParams, "window.parse", fmt.Sprintf("bad clock %q", v), err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, errcode.Wrap(errcode.InvalidParams, "window.parse", fmt.Sprintf("clock %q out of range", v), nil)
	}
	return h*60 + m, nil
}

// ScheduleRun is the runtime record the engine reports back to the document.
type ScheduleRun struct {
	LastRunAt  time.Time `json:"last_run_at"`
	LastStatus RunStatus `json:"last_status"`
}

func validDuty(d int) bool { return d >= 0 && d <= 100 }
