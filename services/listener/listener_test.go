package listener

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gpiobridge-go/bus"
	"gpiobridge-go/services/cache"
	"gpiobridge-go/store"
	"gpiobridge-go/store/memstore"
	"gpiobridge-go/types"
)

const devicePath = "devices/test-serial"

type fixture struct {
	set   *Set
	cache *cache.Cache
	ms    *memstore.Store
	conn  *bus.Connection
}

func newFixture(t *testing.T, pins ...int) *fixture {
	t.Helper()
	b := bus.New(64)
	c := cache.New()
	for _, pin := range pins {
		c.Add(pin, types.PinState{})
	}
	ms := memstore.New()
	require.NoError(t, ms.Set(context.Background(), devicePath, map[string]any{}, false))
	conn := b.NewConnection("test")
	set := NewSet(ms, b.NewConnection("listener"), devicePath, c, zap.NewNop().Sugar())
	f := &fixture{set: set, cache: c, ms: ms, conn: conn}
	t.Cleanup(set.Stop)
	t.Cleanup(conn.Disconnect)
	return f
}

func recv(t *testing.T, sub *bus.Subscription) any {
	t.Helper()
	select {
	case msg := <-sub.Channel():
		return msg.Payload
	case <-time.After(2 * time.Second):
		t.Fatal("no bus message within deadline")
		return nil
	}
}

func expectQuiet(t *testing.T, sub *bus.Subscription) {
	t.Helper()
	select {
	case msg := <-sub.Channel():
		t.Fatalf("unexpected bus message: %#v", msg.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDesiredChangeEmittedOnStateMove(t *testing.T) {
	f := newFixture(t, 19)
	sub := f.conn.Subscribe(DesiredTopicAll())
	require.NoError(t, f.set.Start())

	require.NoError(t, f.ms.Update(context.Background(), devicePath, map[string]any{
		"gpioState.19.state": true,
	}))

	ev := recv(t, sub).(types.DesiredChange)
	assert.Equal(t, types.DesiredChange{Pin: 19, State: true}, ev)

	st, _ := f.cache.Get(19)
	assert.True(t, st.LastRemote)
	assert.True(t, st.Desired)
}

func TestRedeliveredSnapshotIsQuiet(t *testing.T) {
	f := newFixture(t, 19)
	sub := f.conn.Subscribe(DesiredTopicAll())
	require.NoError(t, f.set.Start())

	require.NoError(t, f.ms.Update(context.Background(), devicePath, map[string]any{
		"gpioState.19.state": true,
	}))
	recv(t, sub)

	// An echo write the controller makes itself must not re-trigger.
	require.NoError(t, f.ms.Update(context.Background(), devicePath, map[string]any{
		"gpioState.19.hardware_state": true,
	}))
	expectQuiet(t, sub)
}

func TestMalformedStateSkipsOnlyThatPin(t *testing.T) {
	f := newFixture(t, 19, 22)
	sub := f.conn.Subscribe(DesiredTopicAll())
	require.NoError(t, f.set.Start())

	require.NoError(t, f.ms.Update(context.Background(), devicePath, map[string]any{
		"gpioState.19.state": "definitely-on",
		"gpioState.22.state": true,
	}))

	ev := recv(t, sub).(types.DesiredChange)
	assert.Equal(t, 22, ev.Pin)
	expectQuiet(t, sub)
}

func TestScheduleAddModifyRemove(t *testing.T) {
	f := newFixture(t, 18)
	sub := f.conn.Subscribe(ScheduleTopic())
	require.NoError(t, f.set.Start())

	require.NoError(t, f.ms.Update(context.Background(), devicePath, map[string]any{
		"gpioState.18.schedules.s1": map[string]any{
			"type": "hold_state", "enabled": true, "state": true, "hold_duration_ms": 100,
		},
	}))
	ev := recv(t, sub).(types.ScheduleEvent)
	assert.Equal(t, types.ScheduleAdd, ev.Kind)
	assert.Equal(t, 18, ev.Pin)
	assert.Equal(t, "s1", ev.ID)
	assert.Equal(t, types.SchedHoldState, ev.Spec.Type)

	require.NoError(t, f.ms.Update(context.Background(), devicePath, map[string]any{
		"gpioState.18.schedules.s1.hold_duration_ms": 200,
	}))
	ev = recv(t, sub).(types.ScheduleEvent)
	assert.Equal(t, types.ScheduleModify, ev.Kind)
	assert.Equal(t, 200, ev.Spec.HoldDurationMS)

	require.NoError(t, f.ms.Set(context.Background(), devicePath, map[string]any{
		"gpioState": map[string]any{"18": map[string]any{"schedules": map[string]any{}}},
	}, false))
	ev = recv(t, sub).(types.ScheduleEvent)
	assert.Equal(t, types.ScheduleRemove, ev.Kind)
	assert.Equal(t, "s1", ev.ID)
}

func TestUnchangedScheduleSnapshotIsQuiet(t *testing.T) {
	f := newFixture(t, 18)
	sub := f.conn.Subscribe(ScheduleTopic())
	require.NoError(t, f.set.Start())

	fields := map[string]any{
		"gpioState.18.schedules.s1": map[string]any{
			"type": "hold_state", "enabled": true, "state": true, "hold_duration_ms": 100,
		},
	}
	require.NoError(t, f.ms.Update(context.Background(), devicePath, fields))
	recv(t, sub)

	// Identical content re-delivered diffs to nothing.
	require.NoError(t, f.ms.Update(context.Background(), devicePath, fields))
	expectQuiet(t, sub)
}

func TestCommandBurstOutrunsQueueWithoutLoss(t *testing.T) {
	b := bus.New(4)
	c := cache.New()
	ms := memstore.New()
	require.NoError(t, ms.Set(context.Background(), devicePath, map[string]any{}, false))
	conn := b.NewConnection("test")
	defer conn.Disconnect()
	set := NewSet(ms, b.NewConnection("listener"), devicePath, c, zap.NewNop().Sugar())
	defer set.Stop()

	// The consumer does not read until the whole burst has been published,
	// like a processor stuck in a slow command.
	sub := conn.SubscribeLossless(CommandTopic())
	require.NoError(t, set.Start())

	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range ids {
		require.NoError(t, ms.Set(context.Background(), devicePath+"/commands/"+id, map[string]any{
			"type": "pin_control", "pin": 19, "action": "on",
		}, false))
	}

	got := map[string]bool{}
	for range ids {
		ch := recv(t, sub).(store.Change)
		require.Equal(t, store.Added, ch.Kind)
		got[ch.ID] = true
	}
	for _, id := range ids {
		assert.True(t, got[id], "command %s delivered", id)
	}
}

func TestCommandAddAndRemoveForwarded(t *testing.T) {
	f := newFixture(t)
	sub := f.conn.Subscribe(CommandTopic())
	require.NoError(t, f.set.Start())

	require.NoError(t, f.ms.Set(context.Background(), devicePath+"/commands/c1", map[string]any{
		"type": "pin_control", "pin": 19, "action": "on",
	}, false))
	ch := recv(t, sub).(store.Change)
	assert.Equal(t, store.Added, ch.Kind)
	assert.Equal(t, "c1", ch.ID)
	assert.Equal(t, "pin_control", ch.Data["type"])

	require.NoError(t, f.ms.Delete(context.Background(), devicePath+"/commands/c1"))
	ch = recv(t, sub).(store.Change)
	assert.Equal(t, store.Removed, ch.Kind)
	assert.Equal(t, "c1", ch.ID)
}
