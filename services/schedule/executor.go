package schedule

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"gpiobridge-go/services/cache"
	"gpiobridge-go/services/hal"
	"gpiobridge-go/types"
)

// runStopped marks a graceful stop (modify/remove/shutdown); the engine
// records nothing for it.
const runStopped types.RunStatus = ""

// executor drives one schedule's type-specific sequence. It re-checks the
// override flag, the time window, and the stop signal between every sleep
// and every HAL call.
type executor struct {
	pin  int
	spec types.Schedule

	h      hal.HAL
	cache  *cache.Cache
	clk    clock.Clock
	freqHz int
	log    *zap.SugaredLogger

	stop chan struct{}
}

type checkResult int

const (
	checkOK checkResult = iota
	checkStopped
	checkOverridden
	checkOutOfWindow
)

func (e *executor) check() checkResult {
	select {
	case <-e.stop:
		return checkStopped
	default:
	}
	if st, ok := e.cache.Get(e.pin); ok && st.OverrideActive {
		return checkOverridden
	}
	if !WindowOpen(e.spec.Window, e.clk.Now()) {
		return checkOutOfWindow
	}
	return checkOK
}

// sleepPoll is how often a sleeping executor re-runs its pre-action checks,
// so an override or window exit interrupts a long hold promptly.
const sleepPoll = 100 * time.Millisecond

// sleep waits ms, re-checking in sleepPoll slices. Returns checkOK when the
// full duration elapsed.
func (e *executor) sleep(ms int) checkResult {
	remaining := msToDuration(ms)
	for remaining > 0 {
		slice := remaining
		if slice > sleepPoll {
			slice = sleepPoll
		}
		t := e.clk.Timer(slice)
		select {
		case <-e.stop:
			t.Stop()
			return checkStopped
		case <-t.C:
		}
		remaining -= slice
		if r := e.check(); r != checkOK {
			return r
		}
	}
	return checkOK
}

// drive performs one digital transition inside the pin's exclusive section.
func (e *executor) drive(level bool) error {
	return e.cache.WithPin(e.pin, func(st *types.PinState) error {
		if err := e.h.SetDigital(e.pin, level); err != nil {
			return err
		}
		st.Hardware = level
		return nil
	})
}

func (e *executor) drivePWM(duty int) error {
	return e.cache.WithPin(e.pin, func(st *types.PinState) error {
		if err := e.h.SetPWM(e.pin, duty, e.freqHz); err != nil {
			return err
		}
		st.Hardware = duty > 0
		st.PWMDuty = duty
		return nil
	})
}

// run executes the schedule to completion and returns its terminal status.
func (e *executor) run() types.RunStatus {
	switch e.spec.Type {
	case types.SchedPWMCycle:
		return e.runCycle()
	case types.SchedPWMFade:
		return e.runFade()
	case types.SchedDigitalToggle:
		return e.runToggle()
	case types.SchedHoldState:
		return e.runHold()
	default:
		return types.RunError
	}
}

// mapCheck converts a failed pre-action check into the terminal status for
// a structurally incomplete sequence.
func mapCheck(r checkResult) types.RunStatus {
	switch r {
	case checkStopped:
		return runStopped
	case checkOverridden:
		return types.RunSuperseded
	default:
		return types.RunSkipped
	}
}

func (e *executor) runCycle() types.RunStatus {
	for i := 0; i < e.spec.Cycles; i++ {
		if r := e.check(); r != checkOK {
			return mapCheck(r)
		}
		if err := e.drive(true); err != nil {
			e.log.Warnw("pwm_cycle drive failed", "pin", e.pin, "schedule", e.spec.ID, "err", err)
			return types.RunError
		}
		if r := e.sleep(e.spec.OnDurationMS); r != checkOK {
			return mapCheck(r)
		}
		if r := e.check(); r != checkOK {
			return mapCheck(r)
		}
		if err := e.drive(false); err != nil {
			return types.RunError
		}
		if r := e.sleep(e.spec.OffDurationMS); r != checkOK {
			return mapCheck(r)
		}
	}
	return types.RunSuccess
}

func (e *executor) runFade() types.RunStatus {
	stepMS := e.spec.TotalDurationMS / e.spec.Steps
	span := e.spec.EndDuty - e.spec.StartDuty
	for i := 1; i <= e.spec.Steps; i++ {
		if r := e.check(); r != checkOK {
			return mapCheck(r)
		}
		if r := e.sleep(stepMS); r != checkOK {
			return mapCheck(r)
		}
		if r := e.check(); r != checkOK {
			return mapCheck(r)
		}
		duty := e.spec.StartDuty + span*i/e.spec.Steps
		if err := e.drivePWM(duty); err != nil {
			e.log.Warnw("pwm_fade write failed", "pin", e.pin, "schedule", e.spec.ID, "err", err)
			return types.RunError
		}
	}
	return types.RunSuccess
}

func (e *executor) runToggle() types.RunStatus {
	st, ok := e.cache.Get(e.pin)
	if !ok {
		return types.RunError
	}
	original := st.Hardware
	level := original
	for i := 0; i < e.spec.Cycles; i++ {
		if r := e.check(); r != checkOK {
			if r == checkStopped {
				e.restore(original)
			}
			return mapCheck(r)
		}
		level = !level
		if err := e.drive(level); err != nil {
			return types.RunError
		}
		if r := e.sleep(e.spec.ToggleIntervalMS); r != checkOK {
			if r == checkStopped {
				e.restore(original)
			}
			return mapCheck(r)
		}
	}
	// Net-zero toggles: finish at the original level.
	if level != original {
		if err := e.drive(original); err != nil {
			return types.RunError
		}
	}
	return types.RunSuccess
}

func (e *executor) runHold() types.RunStatus {
	if r := e.check(); r != checkOK {
		return mapCheck(r)
	}
	if err := e.drive(e.spec.State); err != nil {
		return types.RunError
	}
	if r := e.sleep(e.spec.HoldDurationMS); r != checkOK {
		if r == checkStopped {
			e.restore(false)
		}
		return mapCheck(r)
	}
	if r := e.check(); r != checkOK {
		if r == checkStopped {
			e.restore(false)
		}
		return mapCheck(r)
	}
	if err := e.drive(false); err != nil {
		return types.RunError
	}
	return types.RunSuccess
}

// restore is a best-effort return to a safe level on early termination.
// Skipped when an override is pending: the operator's level wins.
func (e *executor) restore(level bool) {
	if st, ok := e.cache.Get(e.pin); ok && st.OverrideActive {
		return
	}
	if err := e.drive(level); err != nil {
		e.log.Warnw("restore failed", "pin", e.pin, "schedule", e.spec.ID, "err", err)
	}
}
