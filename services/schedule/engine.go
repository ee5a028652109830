// Package schedule owns the per-pin schedule registry, the executors that
// drive type-specific hardware sequences, and the periodic time-window
// re-evaluation that wakes schedules up when their window opens.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"gpiobridge-go/services/cache"
	"gpiobridge-go/services/hal"
	"gpiobridge-go/store"
	"gpiobridge-go/types"
)

const stopDeadline = 5 * time.Second

type slot struct {
	spec    types.Schedule
	run     types.ScheduleRun
	invalid bool

	active   bool
	stop     chan struct{}
	stopOnce *sync.Once
	done     chan struct{}
}

// Engine reacts to schedule listener events and runs executors. Executors
// carry only (pin, id) keys; the registry is the sole lifetime anchor.
type Engine struct {
	mu  sync.Mutex
	reg map[int]map[string]*slot

	h       hal.HAL
	cache   *cache.Cache
	cli     store.Client
	docPath string
	clk     clock.Clock
	freqHz  int
	log     *zap.SugaredLogger
}

func NewEngine(h hal.HAL, c *cache.Cache, cli store.Client, docPath string, clk clock.Clock, pwmFreqHz int, log *zap.SugaredLogger) *Engine {
	return &Engine{
		reg:     map[int]map[string]*slot{},
		h:       h,
		cache:   c,
		cli:     cli,
		docPath: docPath,
		clk:     clk,
		freqHz:  pwmFreqHz,
		log:     log,
	}
}

// Apply consumes one listener event. Modify stops any running executor at
// its next safe point, awaits it, then re-adds the new spec.
func (g *Engine) Apply(ev types.ScheduleEvent) {
	switch ev.Kind {
	case types.ScheduleAdd:
		g.add(ev.Pin, ev.Spec)
	case types.ScheduleModify:
		g.stopSlot(ev.Pin, ev.ID, true)
		g.removeSlot(ev.Pin, ev.ID)
		g.add(ev.Pin, ev.Spec)
	case types.ScheduleRemove:
		g.stopSlot(ev.Pin, ev.ID, true)
		g.removeSlot(ev.Pin, ev.ID)
	}
}

func (g *Engine) add(pin int, spec types.Schedule) {
	sl := &slot{spec: spec}
	if err := spec.Validate(); err != nil {
		g.log.Warnw("invalid schedule", "pin", pin, "schedule", spec.ID, "err", err)
		sl.invalid = true
		sl.run = types.ScheduleRun{LastRunAt: g.clk.Now(), LastStatus: types.RunError}
	}

	g.mu.Lock()
	if g.reg[pin] == nil {
		g.reg[pin] = map[string]*slot{}
	}
	g.reg[pin][spec.ID] = sl
	launch := !sl.invalid && spec.Enabled && WindowOpen(spec.Window, g.clk.Now())
	if launch {
		g.launchLocked(pin, sl)
	}
	g.mu.Unlock()

	if sl.invalid {
		g.writeRun(pin, spec.ID, sl.run)
	}
}

// Reevaluate runs on the periodic tick (cron @every, default 60 s): it
// launches executors whose window has opened and signals stops to those
// whose window has closed. This is the only wake-up path for schedules.
func (g *Engine) Reevaluate() {
	now := g.clk.Now()
	g.mu.Lock()
	for pin, slots := range g.reg {
		for _, sl := range slots {
			if sl.invalid {
				continue
			}
			open := sl.spec.Enabled && WindowOpen(sl.spec.Window, now)
			switch {
			case open && !sl.active:
				g.launchLocked(pin, sl)
			case !open && sl.active:
				sl.stopOnce.Do(func() { close(sl.stop) })
			}
		}
	}
	g.mu.Unlock()
}

// HasActive reports whether any executor is running on the pin. The command
// processor uses it to decide whether an operator command is an override.
func (g *Engine) HasActive(pin int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, sl := range g.reg[pin] {
		if sl.active {
			return true
		}
	}
	return false
}

// Run reports the last recorded run for a schedule.
func (g *Engine) Run(pin int, id string) (types.ScheduleRun, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sl, ok := g.reg[pin][id]
	if !ok {
		return types.ScheduleRun{}, false
	}
	return sl.run, true
}

// Stop signals every executor and awaits each with a per-executor deadline.
// A missed deadline orphans the executor; final HAL cleanup still drives
// the pin low.
func (g *Engine) Stop(ctx context.Context) {
	g.mu.Lock()
	var waits []chan struct{}
	for _, slots := range g.reg {
		for _, sl := range slots {
			if sl.active {
				sl.stopOnce.Do(func() { close(sl.stop) })
				waits = append(waits, sl.done)
			}
		}
	}
	g.mu.Unlock()

	for _, done := range waits {
		t := g.clk.Timer(stopDeadline)
		select {
		case <-done:
		case <-t.C:
			g.log.Warnw("executor missed stop deadline")
		case <-ctx.Done():
		}
		t.Stop()
	}
}

func (g *Engine) launchLocked(pin int, sl *slot) {
	sl.active = true
	sl.stop = make(chan struct{})
	sl.stopOnce = &sync.Once{}
	sl.done = make(chan struct{})

	ex := &executor{
		pin:    pin,
		spec:   sl.spec,
		h:      g.h,
		cache:  g.cache,
		clk:    g.clk,
		freqHz: g.freqHz,
		log:    g.log,
		stop:   sl.stop,
	}
	go func() {
		defer close(sl.done)
		status := g.runGuarded(ex)
		g.finish(pin, sl, status)
	}()
}

// runGuarded keeps an executor panic from taking down the process.
func (g *Engine) runGuarded(ex *executor) (status types.RunStatus) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Errorw("executor panic", "pin", ex.pin, "schedule", ex.spec.ID, "panic", fmt.Sprint(r))
			status = types.RunError
		}
	}()
	return ex.run()
}

func (g *Engine) finish(pin int, sl *slot, status types.RunStatus) {
	g.mu.Lock()
	sl.active = false
	if status != runStopped {
		sl.run = types.ScheduleRun{LastRunAt: g.clk.Now(), LastStatus: status}
	}
	lastOnPin := true
	for _, other := range g.reg[pin] {
		if other.active {
			lastOnPin = false
			break
		}
	}
	g.mu.Unlock()

	if lastOnPin {
		if err := g.cache.SetOverride(pin, false); err != nil {
			g.log.Warnw("override clear failed", "pin", pin, "err", err)
		}
	}
	if status != runStopped {
		g.writeRun(pin, sl.spec.ID, sl.run)
	}
}

func (g *Engine) stopSlot(pin int, id string, wait bool) {
	g.mu.Lock()
	sl, ok := g.reg[pin][id]
	if !ok || !sl.active {
		g.mu.Unlock()
		return
	}
	sl.stopOnce.Do(func() { close(sl.stop) })
	done := sl.done
	g.mu.Unlock()

	if !wait {
		return
	}
	t := g.clk.Timer(stopDeadline)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		g.log.Warnw("executor missed stop deadline", "pin", pin, "schedule", id)
	}
}

// removeSlot drops a schedule and prunes the pin's map once its last
// schedule is gone, so parent-pin deletion leaves no empty registry entry.
func (g *Engine) removeSlot(pin int, id string) {
	g.mu.Lock()
	delete(g.reg[pin], id)
	if len(g.reg[pin]) == 0 {
		delete(g.reg, pin)
	}
	g.mu.Unlock()
}

// writeRun reports last_run_at/last_status to the document. Best effort
// with one retry after a second.
func (g *Engine) writeRun(pin int, id string, run types.ScheduleRun) {
	prefix := fmt.Sprintf("gpioState.%d.schedules.%s.", pin, id)
	fields := map[string]any{
		prefix + "last_run_at": run.LastRunAt,
		prefix + "last_status": string(run.LastStatus),
	}
	if err := g.cli.Update(context.Background(), g.docPath, fields); err == nil {
		return
	}
	t := g.clk.Timer(time.Second)
	<-t.C
	if err := g.cli.Update(context.Background(), g.docPath, fields); err != nil {
		g.log.Warnw("schedule run write dropped", "pin", pin, "schedule", id, "err", err)
	}
}
