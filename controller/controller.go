// Package controller assembles the bridge: it bootstraps the hardware and
// the device document, runs the event loops between the listeners and the
// acting components, and tears everything down in order on shutdown.
package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"gpiobridge-go/bus"
	"gpiobridge-go/config"
	"gpiobridge-go/errcode"
	"gpiobridge-go/identity"
	"gpiobridge-go/services/cache"
	"gpiobridge-go/services/command"
	"gpiobridge-go/services/hal"
	"gpiobridge-go/services/listener"
	"gpiobridge-go/services/naming"
	"gpiobridge-go/services/schedule"
	"gpiobridge-go/services/syncloop"
	"gpiobridge-go/store"
	"gpiobridge-go/types"
)

// StateTopic carries retained BridgeState announcements.
func StateTopic() bus.Topic { return bus.T("bridge", "state") }

type Controller struct {
	cfg   config.Config
	cli   store.Client
	h     hal.HAL
	ident identity.Provider
	clk   clock.Clock
	log   *zap.SugaredLogger

	bus   *bus.Bus
	conn  *bus.Connection
	cache *cache.Cache

	serial     string
	devicePath string

	engine    *schedule.Engine
	proc      *command.Processor
	listeners *listener.Set
	sync      *syncloop.Loop
	namer     *naming.Namer
	cron      *cron.Cron

	wg sync.WaitGroup
}

func New(cfg config.Config, cli store.Client, h hal.HAL, ident identity.Provider, clk clock.Clock, log *zap.SugaredLogger) *Controller {
	b := bus.New(64)
	return &Controller{
		cfg:   cfg,
		cli:   cli,
		h:     h,
		ident: ident,
		clk:   clk,
		log:   log,
		bus:   b,
		conn:  b.NewConnection("controller"),
		cache: cache.New(),
	}
}

// DevicePath is the document path resolved at bootstrap.
func (c *Controller) DevicePath() string { return c.devicePath }

// Cache exposes pin truth for internal APIs and tests.
func (c *Controller) Cache() *cache.Cache { return c.cache }

// Namer exposes the rename/reset internal API.
func (c *Controller) Namer() *naming.Namer { return c.namer }

// Start runs the bootstrap sequence and launches every loop. An error here
// is fatal to the process.
func (c *Controller) Start(ctx context.Context) error {
	c.announce("starting", "")

	serial := c.cfg.HardwareSerialOverride
	if serial == "" {
		var err error
		serial, err = c.ident.HardwareSerial()
		if err != nil {
			return err
		}
	}
	c.serial = serial
	c.devicePath = "devices/" + serial
	c.log.Infow("device identity resolved", "serial", serial)

	for _, spec := range hal.PinTable {
		if err := c.h.Configure(spec.Number, spec.Direction, spec.PWMCapable); err != nil {
			return errcode.Wrap(errcode.Fatal, "controller.bootstrap", fmt.Sprintf("configure GPIO%d", spec.Number), err)
		}
	}

	// Safe reset: every output low before anything else can observe it.
	for _, spec := range hal.PinTable {
		st := types.PinState{}
		if spec.IsOutput() {
			if err := c.h.SetDigital(spec.Number, false); err != nil {
				return errcode.Wrap(errcode.Fatal, "controller.bootstrap", fmt.Sprintf("reset GPIO%d", spec.Number), err)
			}
		}
		c.cache.Add(spec.Number, st)
	}

	doc, err := c.cli.Get(ctx, c.devicePath)
	if err != nil && err != store.ErrNotFound {
		return err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	c.applyPersistedDesired(doc)

	c.namer = naming.New(c.cli, c.devicePath, hal.PinTable, c.log)
	if err := c.namer.BootstrapPass(ctx, doc); err != nil {
		return err
	}

	c.engine = schedule.NewEngine(c.h, c.cache, c.cli, c.devicePath, c.clk, c.cfg.PWMDefaultFrequencyHz, c.log)
	c.proc = command.NewProcessor(c.h, c.cache, c.engine, c.cli, c.devicePath, c.clk, c.cfg.PWMDefaultFrequencyHz, c.log)
	c.listeners = listener.NewSet(c.cli, c.bus.NewConnection("listener"), c.devicePath, c.cache, c.log)
	c.sync = syncloop.New(c.h, c.cache, c.cli, c.devicePath, hal.PinTable, syncloop.Config{
		ReadInterval:      c.cfg.PinReadInterval,
		WriteInterval:     c.cfg.SyncWriteInterval,
		HeartbeatInterval: c.cfg.HeartbeatInterval,
	}, c.clk, c.log)

	c.startLoops()
	if err := c.listeners.Start(); err != nil {
		return err
	}

	c.cron = cron.New()
	if _, err := c.cron.AddFunc(fmt.Sprintf("@every %s", c.cfg.ScheduleReevalEvery), c.engine.Reevaluate); err != nil {
		return errcode.Wrap(errcode.Fatal, "controller.bootstrap", "re-evaluator registration", err)
	}
	c.cron.Start()

	c.sync.Start(ctx)
	c.announce("running", "online")
	c.log.Infow("bridge running", "device", c.devicePath)
	return nil
}

// applyPersistedDesired replays gpioState.*.state from the document so a
// restart comes up respecting what the operator last asked for.
func (c *Controller) applyPersistedDesired(doc map[string]any) {
	gpio, ok := doc["gpioState"].(map[string]any)
	if !ok {
		return
	}
	for key, raw := range gpio {
		pin, ok := types.ParsePinKey(key)
		if !ok {
			continue
		}
		spec, ok := hal.SpecFor(pin)
		if !ok || !spec.IsOutput() {
			continue
		}
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		state, ok := types.AsBool(entry["state"])
		if !ok {
			continue
		}
		err := c.cache.WithPin(pin, func(st *types.PinState) error {
			st.LastRemote = state
			st.Desired = state
			if err := c.h.SetDigital(pin, state); err != nil {
				return err
			}
			st.Hardware = state
			return nil
		})
		if err != nil {
			c.log.Warnw("persisted state apply failed", "pin", pin, "err", err)
		}
	}
}

// startLoops subscribes the consumers. Every topic here carries one-shot
// events (a dropped command would never be answered or deleted), so the
// subscriptions are lossless.
func (c *Controller) startLoops() {
	desired := c.conn.SubscribeLossless(listener.DesiredTopicAll())
	commands := c.conn.SubscribeLossless(listener.CommandTopic())
	schedules := c.conn.SubscribeLossless(listener.ScheduleTopic())

	c.wg.Add(3)
	go c.desiredLoop(desired)
	go c.commandLoop(commands)
	go c.scheduleLoop(schedules)
}

func (c *Controller) desiredLoop(sub *bus.Subscription) {
	defer c.wg.Done()
	for msg := range sub.Channel() {
		ev, ok := msg.Payload.(types.DesiredChange)
		if !ok {
			continue
		}
		c.applyDesired(ev)
	}
}

// applyDesired drives the HAL to the remote desired state. A change landing
// while a schedule holds the pin is an operator override.
func (c *Controller) applyDesired(ev types.DesiredChange) {
	override := c.engine.HasActive(ev.Pin)
	err := c.cache.WithPin(ev.Pin, func(st *types.PinState) error {
		if override {
			st.OverrideActive = true
		}
		if err := c.h.SetDigital(ev.Pin, ev.State); err != nil {
			return err
		}
		st.Desired = ev.State
		st.Hardware = ev.State
		return nil
	})
	if err != nil {
		c.log.Warnw("desired apply failed", "pin", ev.Pin, "err", err)
	}
}

func (c *Controller) commandLoop(sub *bus.Subscription) {
	defer c.wg.Done()
	for msg := range sub.Channel() {
		ch, ok := msg.Payload.(store.Change)
		if !ok {
			continue
		}
		switch ch.Kind {
		case store.Added:
			c.proc.Process(ch.ID, ch.Data)
		case store.Removed:
			c.proc.Forget(ch.ID)
		}
	}
}

func (c *Controller) scheduleLoop(sub *bus.Subscription) {
	defer c.wg.Done()
	for msg := range sub.Channel() {
		ev, ok := msg.Payload.(types.ScheduleEvent)
		if !ok {
			continue
		}
		c.engine.Apply(ev)
	}
}

// Stop tears down in dependency order: stop taking input, join the actors,
// report offline, then release the hardware.
func (c *Controller) Stop(ctx context.Context) {
	c.announce("stopping", "")

	if c.listeners != nil {
		c.listeners.Stop()
	}
	if c.cron != nil {
		c.cron.Stop()
	}

	c.conn.Disconnect()
	c.wg.Wait()

	if c.engine != nil {
		c.engine.Stop(ctx)
	}
	if c.sync != nil {
		c.sync.Stop()
	}

	for _, spec := range hal.OutputPins() {
		if err := c.h.SetDigital(spec.Number, false); err != nil {
			c.log.Warnw("shutdown reset failed", "pin", spec.Number, "err", err)
		}
	}
	if err := c.h.Cleanup(); err != nil {
		c.log.Warnw("hal cleanup failed", "err", err)
	}
	c.announce("stopped", "offline")
	c.log.Infow("bridge stopped")
}

// announce publishes retained bridge state so late subscribers see the
// current level immediately.
func (c *Controller) announce(level, status string) {
	c.conn.Publish(StateTopic(), types.BridgeState{
		Level:  level,
		Status: status,
		TSMS:   c.clk.Now().UnixMilli(),
	}, true)
}
