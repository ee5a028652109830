// Package syncloop keeps the device document and the hardware truthful to
// each other: a fast reader samples pin levels into the cache, a slower
// writer mirrors the cache to the document, and a heartbeat proves
// liveness. Writes here are single-shot; a missed cycle is repaired by the
// next one.
package syncloop

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

const offlineWriteTimeout = 5 * time.Second

type Config struct {
	ReadInterval      time.Duration
	WriteInterval     time.Duration
	HeartbeatInterval time.Duration
}

type Loop struct {
	h          hal.HAL
	cache      *cache.Cache
	cli        store.Client
	devicePath string
	pins       []types.PinSpec
	cfg        Config
	clk        clock.Clock
	log        *zap.SugaredLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(h hal.HAL, c *cache.Cache, cli store.Client, devicePath string, pins []types.PinSpec, cfg Config, clk clock.Clock, log *zap.SugaredLogger) *Loop {
	return &Loop{
		h:          h,
		cache:      c,
		cli:        cli,
		devicePath: devicePath,
		pins:       pins,
		cfg:        cfg,
		clk:        clk,
		log:        log,
	}
}

// Start launches the reader, writer, and heartbeat goroutines.
func (l *Loop) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(3)
	go l.runTicker(ctx, l.cfg.ReadInterval, l.readOnce)
	go l.runTicker(ctx, l.cfg.WriteInterval, l.writeOnce)
	go l.runTicker(ctx, l.cfg.HeartbeatInterval, l.heartbeatOnce)
}

// Stop cancels the loops, waits for them, and records the device offline.
// The offline write gets a short deadline of its own so shutdown never
// hangs on a dead connection.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), offlineWriteTimeout)
	defer cancel()
	err := l.cli.Update(ctx, l.devicePath, map[string]any{
		"status":         "offline",
		"last_heartbeat": store.ServerTimestamp,
	})
	if err != nil {
		l.log.Warnw("offline write failed", "err", err)
	}
}

func (l *Loop) runTicker(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer l.wg.Done()
	t := l.clk.Ticker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}

// readOnce samples every table pin into the cache. Input pins are sampled
// for reporting; output pins confirm the level last driven.
func (l *Loop) readOnce(context.Context) {
	for _, spec := range l.pins {
		level, err := l.h.ReadDigital(spec.Number)
		if err != nil {
			l.log.Warnw("pin read failed", "pin", spec.Number, "err", err)
			continue
		}
		if err := l.cache.SetHardware(spec.Number, level); err != nil {
			l.log.Warnw("cache update failed", "pin", spec.Number, "err", err)
		}
	}
}

// writeOnce mirrors the cache snapshot to the device document in one merge
// write. mismatch is only meaningful for outputs; inputs have no desired
// state to diverge from.
func (l *Loop) writeOnce(ctx context.Context) {
	snap := l.cache.Snapshot()
	fields := map[string]any{}
	for _, spec := range l.pins {
		st, ok := snap[spec.Number]
		if !ok {
			continue
		}
		prefix := fmt.Sprintf("gpioState.%d.", spec.Number)
		fields[prefix+"hardware_state"] = st.Hardware
		fields[prefix+"last_hardware_read"] = store.ServerTimestamp
		if spec.Direction == types.DirOutput {
			fields[prefix+"mismatch"] = st.Hardware != st.Desired
		}
	}
	if len(fields) == 0 {
		return
	}
	if err := l.cli.Update(ctx, l.devicePath, fields); err != nil {
		l.log.Warnw("sync write failed", "err", err)
	}
}

func (l *Loop) heartbeatOnce(ctx context.Context) {
	err := l.cli.Update(ctx, l.devicePath, map[string]any{
		"status":         "online",
		"last_heartbeat": store.ServerTimestamp,
	})
	if err != nil {
		l.log.Warnw("heartbeat write failed", "err", err)
	}
}
