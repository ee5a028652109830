// Package listener owns the three cloud subscriptions: desired state and
// schedules on the device document, and the commands subcollection. Each
// delivery is diffed against local knowledge and re-published as typed
// events on the internal bus; re-delivered snapshots (reconnects) diff to
// nothing, so apply stays idempotent.
package listener

import (
	"sync"

	"go.uber.org/zap"

	"gpiobridge-go/bus"
	"gpiobridge-go/services/cache"
	"gpiobridge-go/store"
	"gpiobridge-go/types"
)

// Bus topics the listeners publish on.
func DesiredTopic(pin int) bus.Topic { return bus.T("remote", "desired", pin) }

// DesiredTopicAll subscribes to every pin's desired changes.
func DesiredTopicAll() bus.Topic { return bus.T("remote", "desired", bus.Any) }

func CommandTopic() bus.Topic  { return bus.T("remote", "command") }
func ScheduleTopic() bus.Topic { return bus.T("remote", "schedule") }

type Set struct {
	cli        store.Client
	conn       *bus.Connection
	devicePath string
	cache      *cache.Cache
	log        *zap.SugaredLogger

	mu        sync.Mutex
	schedView map[int]map[string]types.Schedule
	stops     []func()
}

func NewSet(cli store.Client, conn *bus.Connection, devicePath string, c *cache.Cache, log *zap.SugaredLogger) *Set {
	return &Set{
		cli:        cli,
		conn:       conn,
		devicePath: devicePath,
		cache:      c,
		log:        log,
		schedView:  map[int]map[string]types.Schedule{},
	}
}

// Start registers the three subscriptions. Reconnection is the store
// client's job; this layer only has to survive full re-delivery.
func (s *Set) Start() error {
	stopDesired, err := s.cli.OnSnapshot(s.devicePath, s.onDesiredSnapshot)
	if err != nil {
		return err
	}
	s.stops = append(s.stops, stopDesired)

	stopSched, err := s.cli.OnSnapshot(s.devicePath, s.onScheduleSnapshot)
	if err != nil {
		return err
	}
	s.stops = append(s.stops, stopSched)

	stopCmd, err := s.cli.OnCollection(s.devicePath+"/commands", s.onCommands)
	if err != nil {
		return err
	}
	s.stops = append(s.stops, stopCmd)
	return nil
}

func (s *Set) Stop() {
	for _, stop := range s.stops {
		stop()
	}
	s.stops = nil
}

// onDesiredSnapshot diffs gpioState.*.state against last_remote. Writes the
// controller itself makes (hardware_state, last_hardware_read) never move
// state, so they cannot self-trigger here.
func (s *Set) onDesiredSnapshot(data map[string]any) {
	gpio, ok := gpioState(data)
	if !ok {
		return
	}
	for key, raw := range gpio {
		pin, ok := types.ParsePinKey(key)
		if !ok {
			s.log.Warnw("skipping malformed pin key", "key", key)
			continue
		}
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		stateRaw, present := entry["state"]
		if !present {
			continue
		}
		state, ok := types.AsBool(stateRaw)
		if !ok {
			s.log.Warnw("skipping pin with non-bool state", "pin", pin)
			continue
		}
		cur, known := s.cache.Get(pin)
		if !known || cur.LastRemote == state {
			continue
		}
		err := s.cache.WithPin(pin, func(st *types.PinState) error {
			st.LastRemote = state
			st.Desired = state
			return nil
		})
		if err != nil {
			continue
		}
		s.conn.Publish(DesiredTopic(pin), types.DesiredChange{Pin: pin, State: state}, false)
	}
}

// onScheduleSnapshot diffs the inline schedules maps against the last view
// and emits add/modify/remove events for the engine.
func (s *Set) onScheduleSnapshot(data map[string]any) {
	next := map[int]map[string]types.Schedule{}
	if gpio, ok := gpioState(data); ok {
		for key, raw := range gpio {
			pin, ok := types.ParsePinKey(key)
			if !ok {
				continue
			}
			entry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			scheds, ok := entry["schedules"].(map[string]any)
			if !ok {
				continue
			}
			for id, rawSched := range scheds {
				schedData, ok := rawSched.(map[string]any)
				if !ok {
					continue
				}
				// Decode tolerantly; the engine re-validates and records
				// last_status=error for anything malformed.
				spec, err := types.DecodeSchedule(id, schedData)
				if err != nil {
					s.log.Warnw("schedule failed validation", "pin", pin, "schedule", id, "err", err)
				}
				if next[pin] == nil {
					next[pin] = map[string]types.Schedule{}
				}
				next[pin][id] = spec
			}
		}
	}

	s.mu.Lock()
	prev := s.schedView
	s.schedView = next
	s.mu.Unlock()

	for pin, ids := range next {
		for id, spec := range ids {
			old, existed := prev[pin][id]
			switch {
			case !existed:
				s.publishSchedule(types.ScheduleEvent{Kind: types.ScheduleAdd, Pin: pin, ID: id, Spec: spec})
			case old != spec:
				s.publishSchedule(types.ScheduleEvent{Kind: types.ScheduleModify, Pin: pin, ID: id, Spec: spec})
			}
		}
	}
	// Anything gone from the view, including whole pins, is a remove.
	for pin, ids := range prev {
		for id := range ids {
			if _, still := next[pin][id]; !still {
				s.publishSchedule(types.ScheduleEvent{Kind: types.ScheduleRemove, Pin: pin, ID: id})
			}
		}
	}
}

func (s *Set) publishSchedule(ev types.ScheduleEvent) {
	s.conn.Publish(ScheduleTopic(), ev, false)
}

// onCommands forwards ADDs for processing and REMOVEs for de-dup expiry.
// MODIFY on a command document is meaningless and dropped.
func (s *Set) onCommands(changes []store.Change) {
	for _, ch := range changes {
		switch ch.Kind {
		case store.Added, store.Removed:
			s.conn.Publish(CommandTopic(), ch, false)
		}
	}
}

func gpioState(data map[string]any) (map[string]any, bool) {
	if data == nil {
		return nil, false
	}
	gpio, ok := data["gpioState"].(map[string]any)
	return gpio, ok
}
