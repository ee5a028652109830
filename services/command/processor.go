// Package command applies operator commands: direct pin control with
// optional auto-off, and PWM duty control. Each command document is
// consumed exactly once; a bounded LRU of processed IDs absorbs duplicate
// ADD deliveries.
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"gpiobridge-go/errcode"
	"gpiobridge-go/services/cache"
	"gpiobridge-go/services/hal"
	"gpiobridge-go/services/schedule"
	"gpiobridge-go/store"
	"gpiobridge-go/types"
)

const (
	dedupCapacity = 256
	// forgetGrace is the quiescence interval before a removed command ID
	// may be reused.
	forgetGrace   = 30 * time.Second
	writeRetries  = 3
	retryInterval = time.Second
)

type Processor struct {
	h          hal.HAL
	cache      *cache.Cache
	engine     *schedule.Engine
	cli        store.Client
	devicePath string
	clk        clock.Clock
	freqHz     int
	log        *zap.SugaredLogger

	dedup *lru.Cache[string, struct{}]
}

func NewProcessor(h hal.HAL, c *cache.Cache, eng *schedule.Engine, cli store.Client, devicePath string, clk clock.Clock, pwmFreqHz int, log *zap.SugaredLogger) *Processor {
	dedup, _ := lru.New[string, struct{}](dedupCapacity)
	return &Processor{
		h:          h,
		cache:      c,
		engine:     eng,
		cli:        cli,
		devicePath: devicePath,
		clk:        clk,
		freqHz:     pwmFreqHz,
		log:        log,
		dedup:      dedup,
	}
}

// Process consumes one command ADD. Duplicate IDs are ignored.
func (p *Processor) Process(id string, data map[string]any) {
	if _, seen := p.dedup.Get(id); seen {
		return
	}
	p.dedup.Add(id, struct{}{})

	cmd, err := types.DecodeCommand(id, data)
	if err != nil {
		p.log.Warnw("command rejected", "command", id, "err", err)
		p.finalize(id, types.CommandResponse{Status: "error", Message: err.Error()})
		return
	}

	if execErr := p.execute(cmd); execErr != nil {
		p.finalize(id, types.CommandResponse{Status: "error", Message: execErr.Error()})
		return
	}

	p.writeHardwareState(cmd.Pin)
	p.finalize(id, types.CommandResponse{Status: "ok"})
}

// Forget schedules the ID's removal from the de-dup set after the
// quiescence grace, once the command document's REMOVE is observed.
func (p *Processor) Forget(id string) {
	p.clk.AfterFunc(forgetGrace, func() {
		p.dedup.Remove(id)
	})
}

func (p *Processor) execute(cmd types.Command) error {
	override := p.engine.HasActive(cmd.Pin)
	err := p.cache.WithPin(cmd.Pin, func(st *types.PinState) error {
		if override {
			st.OverrideActive = true
		}
		switch cmd.Type {
		case types.CmdPinControl:
			on := cmd.Action == types.ActionOn
			if err := p.h.SetDigital(cmd.Pin, on); err != nil {
				return err
			}
			st.Desired = on
			st.Hardware = on
		case types.CmdPWMControl:
			if err := p.h.SetPWM(cmd.Pin, cmd.Duty, p.freqHz); err != nil {
				return err
			}
			st.PWMDuty = cmd.Duty
			st.Desired = cmd.Duty > 0
			st.Hardware = cmd.Duty > 0
		}
		return nil
	})
	if err != nil {
		return err
	}

	if cmd.Type == types.CmdPinControl && cmd.Action == types.ActionOn && cmd.DurationMS > 0 {
		p.scheduleAutoOff(cmd.Pin, cmd.DurationMS)
	}
	return nil
}

// scheduleAutoOff arms the one-shot off timer. If a later command or
// schedule re-acquired the pin by the time it fires, desired has already
// changed and the timer does nothing.
func (p *Processor) scheduleAutoOff(pin, durationMS int) {
	p.clk.AfterFunc(time.Duration(durationMS)*time.Millisecond, func() {
		err := p.cache.WithPin(pin, func(st *types.PinState) error {
			if !st.Desired {
				return nil
			}
			if err := p.h.SetDigital(pin, false); err != nil {
				return err
			}
			st.Desired = false
			st.Hardware = false
			return nil
		})
		if err != nil {
			p.log.Warnw("auto-off failed", "pin", pin, "err", err)
			return
		}
		p.writeHardwareState(pin)
	})
}

// writeHardwareState mirrors the executed transition to the device
// document. Best effort: one retry after a second, then drop; the sync
// loop repairs the document on its next cycle anyway.
func (p *Processor) writeHardwareState(pin int) {
	st, ok := p.cache.Get(pin)
	if !ok {
		return
	}
	fields := map[string]any{
		fmt.Sprintf("gpioState.%d.hardware_state", pin):     st.Hardware,
		fmt.Sprintf("gpioState.%d.last_hardware_read", pin): store.ServerTimestamp,
	}
	if err := p.cli.Update(context.Background(), p.devicePath, fields); err == nil {
		return
	}
	t := p.clk.Timer(retryInterval)
	<-t.C
	if err := p.cli.Update(context.Background(), p.devicePath, fields); err != nil {
		p.log.Warnw("hardware state write dropped", "pin", pin, "err", err)
	}
}

// finalize records the response document and deletes the command. Each
// write retries up to three times; on total failure the ID stays in the
// de-dup set so re-delivery is a no-op.
func (p *Processor) finalize(id string, resp types.CommandResponse) {
	respPath := p.devicePath + "/responses/" + id
	cmdPath := p.devicePath + "/commands/" + id

	respData := map[string]any{
		"status":       resp.Status,
		"completed_at": store.ServerTimestamp,
	}
	if resp.Message != "" {
		respData["message"] = resp.Message
	}
	if !p.withRetries(func() error { return p.cli.Set(context.Background(), respPath, respData, false) }) {
		p.log.Errorw("response write abandoned", "command", id)
	}
	if !p.withRetries(func() error { return p.cli.Delete(context.Background(), cmdPath) }) {
		p.log.Errorw("command delete abandoned", "command", id)
	}
}

func (p *Processor) withRetries(fn func() error) bool {
	var err error
	for attempt := 0; attempt < writeRetries; attempt++ {
		if attempt > 0 {
			t := p.clk.Timer(retryInterval)
			<-t.C
		}
		if err = fn(); err == nil {
			return true
		}
		if !errcode.Is(err, errcode.TransientRPC) && errcode.Of(err) != errcode.Error {
			break
		}
	}
	return false
}
