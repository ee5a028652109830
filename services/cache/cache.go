// Package cache is the sole arbiter of current pin truth: the
// desired/hardware/last_remote triple plus override and duty, one entry per
// pin. Writers hold the per-pin exclusive section; structural changes take
// the coarse lock.
package cache

import (
	"fmt"
	"sync"

	"gpiobridge-go/errcode"
	"gpiobridge-go/types"
)

type entry struct {
	mu sync.Mutex
	st types.PinState
}

type Cache struct {
	mu   sync.RWMutex
	pins map[int]*entry
}

func New() *Cache {
	return &Cache{pins: map[int]*entry{}}
}

// Add makes a pin addressable. Called only from bootstrap; idempotent.
func (c *Cache) Add(pin int, st types.PinState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pins[pin]; ok {
		return
	}
	c.pins[pin] = &entry{st: st}
}

// Get returns a copy of the pin state.
func (c *Cache) Get(pin int) (types.PinState, bool) {
	e, ok := c.lookup(pin)
	if !ok {
		return types.PinState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st, true
}

// WithPin runs fn inside the pin's exclusive section. Every HAL drive and
// its matching cache mutation happen through here, so observers never see a
// hardware value that disagrees with the most recent HAL call. fn must not
// re-enter the cache for the same pin and must not block on RPCs.
func (c *Cache) WithPin(pin int, fn func(st *types.PinState) error) error {
	e, ok := c.lookup(pin)
	if !ok {
		return errcode.Wrap(errcode.UnknownPin, "cache", fmt.Sprintf("pin %d", pin), nil)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(&e.st)
}

func (c *Cache) SetDesired(pin int, v bool) error {
	return c.WithPin(pin, func(st *types.PinState) error {
		st.Desired = v
		return nil
	})
}

func (c *Cache) SetLastRemote(pin int, v bool) error {
	return c.WithPin(pin, func(st *types.PinState) error {
		st.LastRemote = v
		return nil
	})
}

func (c *Cache) SetHardware(pin int, v bool) error {
	return c.WithPin(pin, func(st *types.PinState) error {
		st.Hardware = v
		return nil
	})
}

func (c *Cache) SetOverride(pin int, v bool) error {
	return c.WithPin(pin, func(st *types.PinState) error {
		st.OverrideActive = v
		return nil
	})
}

// Snapshot deep-copies every pin state for the sync-loop writer.
func (c *Cache) Snapshot() map[int]types.PinState {
	c.mu.RLock()
	refs := make(map[int]*entry, len(c.pins))
	for n, e := range c.pins {
		refs[n] = e
	}
	c.mu.RUnlock()

	out := make(map[int]types.PinState, len(refs))
	for n, e := range refs {
		e.mu.Lock()
		out[n] = e.st
		e.mu.Unlock()
	}
	return out
}

// Pins lists the addressable pin numbers.
func (c *Cache) Pins() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]int, 0, len(c.pins))
	for n := range c.pins {
		out = append(out, n)
	}
	return out
}

func (c *Cache) lookup(pin int) (*entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.pins[pin]
	return e, ok
}
