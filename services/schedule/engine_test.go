package schedule

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gpiobridge-go/services/cache"
	"gpiobridge-go/services/hal"
	"gpiobridge-go/store/memstore"
	"gpiobridge-go/types"
)

const docPath = "devices/test-serial"

func newTestEngine(t *testing.T) (*Engine, *hal.Simulator, *cache.Cache, *memstore.Store) {
	t.Helper()
	sim := hal.NewSimulator()
	c := cache.New()
	for _, spec := range hal.PinTable {
		require.NoError(t, sim.Configure(spec.Number, spec.Direction, spec.PWMCapable))
		c.Add(spec.Number, types.PinState{})
	}
	ms := memstore.New()
	require.NoError(t, ms.Set(context.Background(), docPath, map[string]any{}, false))
	log := zap.NewNop().Sugar()
	return NewEngine(sim, c, ms, docPath, clock.New(), 1000, log), sim, c, ms
}

func fmtClock(tm time.Time) string { return fmt.Sprintf("%02d:%02d", tm.Hour(), tm.Minute()) }

// closedWindow builds a window that is guaranteed closed right now.
func closedWindow() types.TimeWindow {
	now := time.Now()
	return types.TimeWindow{
		Enabled: true,
		Start:   fmtClock(now.Add(2 * time.Hour)),
		End:     fmtClock(now.Add(3 * time.Hour)),
	}
}

func waitRun(t *testing.T, g *Engine, pin int, id string) types.ScheduleRun {
	t.Helper()
	var run types.ScheduleRun
	require.Eventually(t, func() bool {
		r, ok := g.Run(pin, id)
		if ok && r.LastStatus != "" {
			run = r
			return true
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
	return run
}

func TestHoldStateRunsToCompletion(t *testing.T) {
	g, sim, _, _ := newTestEngine(t)

	g.Apply(types.ScheduleEvent{Kind: types.ScheduleAdd, Pin: 17, ID: "s1", Spec: types.Schedule{
		ID: "s1", Type: types.SchedHoldState, Enabled: true,
		State: true, HoldDurationMS: 30,
	}})

	require.Eventually(t, func() bool { return sim.Level(17) }, time.Second, time.Millisecond)

	run := waitRun(t, g, 17, "s1")
	assert.Equal(t, types.RunSuccess, run.LastStatus)
	assert.False(t, sim.Level(17), "hold_state terminal level is low")
	assert.False(t, run.LastRunAt.IsZero())
}

func TestDisabledScheduleNeverLaunches(t *testing.T) {
	g, sim, _, _ := newTestEngine(t)

	g.Apply(types.ScheduleEvent{Kind: types.ScheduleAdd, Pin: 17, ID: "s1", Spec: types.Schedule{
		ID: "s1", Type: types.SchedHoldState, Enabled: false,
		State: true, HoldDurationMS: 10,
	}})
	g.Reevaluate()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, g.HasActive(17))
	assert.Equal(t, 0, sim.WriteCount(17))
}

func TestOutOfWindowNotLaunchedUntilReevaluate(t *testing.T) {
	g, sim, _, _ := newTestEngine(t)

	spec := types.Schedule{
		ID: "s1", Type: types.SchedHoldState, Enabled: true,
		State: true, HoldDurationMS: 10, Window: closedWindow(),
	}
	g.Apply(types.ScheduleEvent{Kind: types.ScheduleAdd, Pin: 17, ID: "s1", Spec: spec})

	time.Sleep(30 * time.Millisecond)
	assert.False(t, g.HasActive(17))
	assert.Equal(t, 0, sim.WriteCount(17), "no HAL call while the window is closed")
	g.Reevaluate()
	assert.Equal(t, 0, sim.WriteCount(17))
}

func TestPWMCycleZeroCycles(t *testing.T) {
	g, sim, _, _ := newTestEngine(t)

	g.Apply(types.ScheduleEvent{Kind: types.ScheduleAdd, Pin: 17, ID: "s1", Spec: types.Schedule{
		ID: "s1", Type: types.SchedPWMCycle, Enabled: true,
		Cycles: 0, OnDurationMS: 5, OffDurationMS: 5,
	}})

	run := waitRun(t, g, 17, "s1")
	assert.Equal(t, types.RunSuccess, run.LastStatus)
	assert.Equal(t, 0, sim.WriteCount(17), "cycles=0 makes no HAL calls")
}

func TestPWMCycleTogglesAndEndsLow(t *testing.T) {
	g, sim, _, _ := newTestEngine(t)

	g.Apply(types.ScheduleEvent{Kind: types.ScheduleAdd, Pin: 17, ID: "s1", Spec: types.Schedule{
		ID: "s1", Type: types.SchedPWMCycle, Enabled: true,
		Cycles: 3, OnDurationMS: 5, OffDurationMS: 5,
	}})

	run := waitRun(t, g, 17, "s1")
	assert.Equal(t, types.RunSuccess, run.LastStatus)
	assert.False(t, sim.Level(17))
	assert.Equal(t, 6, sim.WriteCount(17))
}

func TestPWMFadeSingleStep(t *testing.T) {
	g, sim, _, _ := newTestEngine(t)

	g.Apply(types.ScheduleEvent{Kind: types.ScheduleAdd, Pin: 18, ID: "fade", Spec: types.Schedule{
		ID: "fade", Type: types.SchedPWMFade, Enabled: true,
		TotalDurationMS: 20, Steps: 1, StartDuty: 0, EndDuty: 100,
	}})

	run := waitRun(t, g, 18, "fade")
	assert.Equal(t, types.RunSuccess, run.LastStatus)
	assert.Equal(t, 1, sim.WriteCount(18), "steps=1 issues exactly one PWM write")
	assert.Equal(t, 100, sim.Duty(18))
}

func TestPWMFadeOnNonPWMPinErrors(t *testing.T) {
	g, _, _, _ := newTestEngine(t)

	// Pin 17 is not PWM-capable in the table.
	g.Apply(types.ScheduleEvent{Kind: types.ScheduleAdd, Pin: 17, ID: "fade", Spec: types.Schedule{
		ID: "fade", Type: types.SchedPWMFade, Enabled: true,
		TotalDurationMS: 10, Steps: 1,
	}})

	run := waitRun(t, g, 17, "fade")
	assert.Equal(t, types.RunError, run.LastStatus)
}

func TestDigitalToggleRestoresOriginal(t *testing.T) {
	g, sim, c, _ := newTestEngine(t)

	// Start with the pin driven high.
	require.NoError(t, sim.SetDigital(22, true))
	require.NoError(t, c.SetHardware(22, true))

	g.Apply(types.ScheduleEvent{Kind: types.ScheduleAdd, Pin: 22, ID: "tgl", Spec: types.Schedule{
		ID: "tgl", Type: types.SchedDigitalToggle, Enabled: true,
		Cycles: 3, ToggleIntervalMS: 5,
	}})

	run := waitRun(t, g, 22, "tgl")
	assert.Equal(t, types.RunSuccess, run.LastStatus)
	assert.True(t, sim.Level(22), "net-zero toggles end at the original level")
}

func TestInvalidScheduleRecordsErrorAndNeverRuns(t *testing.T) {
	g, sim, _, ms := newTestEngine(t)

	g.Apply(types.ScheduleEvent{Kind: types.ScheduleAdd, Pin: 17, ID: "bad", Spec: types.Schedule{
		ID: "bad", Type: types.SchedPWMFade, Enabled: true,
		TotalDurationMS: 0, Steps: 0,
	}})

	run, ok := g.Run(17, "bad")
	require.True(t, ok)
	assert.Equal(t, types.RunError, run.LastStatus)
	assert.False(t, g.HasActive(17))
	assert.Equal(t, 0, sim.WriteCount(17))

	doc, err := ms.Get(context.Background(), docPath)
	require.NoError(t, err)
	sched := doc["gpioState"].(map[string]any)["17"].(map[string]any)["schedules"].(map[string]any)["bad"].(map[string]any)
	assert.Equal(t, string(types.RunError), sched["last_status"])
}

func TestOverrideTerminatesExecutor(t *testing.T) {
	g, sim, c, _ := newTestEngine(t)

	g.Apply(types.ScheduleEvent{Kind: types.ScheduleAdd, Pin: 18, ID: "hold", Spec: types.Schedule{
		ID: "hold", Type: types.SchedHoldState, Enabled: true,
		State: true, HoldDurationMS: 60000,
	}})
	require.Eventually(t, func() bool { return g.HasActive(18) }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return sim.Level(18) }, time.Second, time.Millisecond)

	// Operator preempts: override flag set, pin driven low by the command path.
	require.NoError(t, c.SetOverride(18, true))
	require.NoError(t, sim.SetDigital(18, false))

	run := waitRun(t, g, 18, "hold")
	assert.Equal(t, types.RunSuperseded, run.LastStatus)
	assert.False(t, sim.Level(18), "override level must not be overwritten")

	// Last executor on the pin clears the override flag.
	st, _ := c.Get(18)
	assert.False(t, st.OverrideActive)
}

func TestModifyStopsAndRelaunches(t *testing.T) {
	g, sim, _, _ := newTestEngine(t)

	g.Apply(types.ScheduleEvent{Kind: types.ScheduleAdd, Pin: 17, ID: "s1", Spec: types.Schedule{
		ID: "s1", Type: types.SchedHoldState, Enabled: true,
		State: true, HoldDurationMS: 60000,
	}})
	require.Eventually(t, func() bool { return g.HasActive(17) }, time.Second, time.Millisecond)

	g.Apply(types.ScheduleEvent{Kind: types.ScheduleModify, Pin: 17, ID: "s1", Spec: types.Schedule{
		ID: "s1", Type: types.SchedHoldState, Enabled: true,
		State: true, HoldDurationMS: 20,
	}})

	run := waitRun(t, g, 17, "s1")
	assert.Equal(t, types.RunSuccess, run.LastStatus)
	assert.False(t, sim.Level(17))
}

func TestRemoveStopsExecutor(t *testing.T) {
	g, _, _, _ := newTestEngine(t)

	g.Apply(types.ScheduleEvent{Kind: types.ScheduleAdd, Pin: 17, ID: "s1", Spec: types.Schedule{
		ID: "s1", Type: types.SchedHoldState, Enabled: true,
		State: true, HoldDurationMS: 60000,
	}})
	require.Eventually(t, func() bool { return g.HasActive(17) }, time.Second, time.Millisecond)

	g.Apply(types.ScheduleEvent{Kind: types.ScheduleRemove, Pin: 17, ID: "s1"})
	assert.False(t, g.HasActive(17))
	_, ok := g.Run(17, "s1")
	assert.False(t, ok)
}

func TestEngineStopJoinsExecutors(t *testing.T) {
	g, _, _, _ := newTestEngine(t)

	g.Apply(types.ScheduleEvent{Kind: types.ScheduleAdd, Pin: 17, ID: "s1", Spec: types.Schedule{
		ID: "s1", Type: types.SchedHoldState, Enabled: true,
		State: true, HoldDurationMS: 60000,
	}})
	require.Eventually(t, func() bool { return g.HasActive(17) }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	g.Stop(ctx)
	assert.False(t, g.HasActive(17))
}
