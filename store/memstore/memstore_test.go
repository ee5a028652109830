package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpiobridge-go/store"
)

func TestSetMergePreservesSiblings(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "devices/d1", map[string]any{
		"gpioState": map[string]any{
			"17": map[string]any{"name": "Pump", "state": true},
		},
	}, false))

	require.NoError(t, s.Set(ctx, "devices/d1", map[string]any{
		"gpioState": map[string]any{
			"17": map[string]any{"hardware_state": true},
		},
	}, true))

	doc, err := s.Get(ctx, "devices/d1")
	require.NoError(t, err)
	pin := doc["gpioState"].(map[string]any)["17"].(map[string]any)
	assert.Equal(t, "Pump", pin["name"])
	assert.Equal(t, true, pin["state"])
	assert.Equal(t, true, pin["hardware_state"])
}

func TestUpdateDottedPaths(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "devices/d1", map[string]any{}, false))
	require.NoError(t, s.Update(ctx, "devices/d1", map[string]any{
		"gpioState.17.mismatch": true,
		"status":                "online",
	}))

	doc, err := s.Get(ctx, "devices/d1")
	require.NoError(t, err)
	assert.Equal(t, "online", doc["status"])
	assert.Equal(t, true, doc["gpioState"].(map[string]any)["17"].(map[string]any)["mismatch"])

	assert.ErrorIs(t, s.Update(ctx, "devices/missing", map[string]any{"x": 1}), store.ErrNotFound)
}

func TestServerTimestampResolved(t *testing.T) {
	s := New()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "devices/d1", map[string]any{
		"last_heartbeat": store.ServerTimestamp,
	}, false))

	doc, err := s.Get(ctx, "devices/d1")
	require.NoError(t, err)
	assert.Equal(t, fixed, doc["last_heartbeat"])
}

func TestDocSnapshotDelivery(t *testing.T) {
	s := New()
	ctx := context.Background()

	var got []map[string]any
	stop, err := s.OnSnapshot("devices/d1", func(data map[string]any) {
		got = append(got, data)
	})
	require.NoError(t, err)
	defer stop()

	// Initial delivery for a missing doc is nil.
	require.Len(t, got, 1)
	assert.Nil(t, got[0])

	require.NoError(t, s.Set(ctx, "devices/d1", map[string]any{"status": "online"}, false))
	require.Len(t, got, 2)
	assert.Equal(t, "online", got[1]["status"])
}

func TestCollectionChanges(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "devices/d1/commands/c0", map[string]any{"pin": 17}, false))

	var changes []store.Change
	stop, err := s.OnCollection("devices/d1/commands", func(ch []store.Change) {
		changes = append(changes, ch...)
	})
	require.NoError(t, err)
	defer stop()

	// Pre-existing doc arrives as Added.
	require.Len(t, changes, 1)
	assert.Equal(t, store.Added, changes[0].Kind)
	assert.Equal(t, "c0", changes[0].ID)

	require.NoError(t, s.Set(ctx, "devices/d1/commands/c1", map[string]any{"pin": 18}, false))
	require.NoError(t, s.Delete(ctx, "devices/d1/commands/c1"))

	require.Len(t, changes, 3)
	assert.Equal(t, store.Added, changes[1].Kind)
	assert.Equal(t, store.Removed, changes[2].Kind)
	assert.Equal(t, "c1", changes[2].ID)
}

func TestGetReturnsDeepCopy(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "devices/d1", map[string]any{
		"gpioState": map[string]any{"17": map[string]any{"state": false}},
	}, false))

	doc, err := s.Get(ctx, "devices/d1")
	require.NoError(t, err)
	doc["gpioState"].(map[string]any)["17"].(map[string]any)["state"] = true

	again, err := s.Get(ctx, "devices/d1")
	require.NoError(t, err)
	assert.Equal(t, false, again["gpioState"].(map[string]any)["17"].(map[string]any)["state"])
}

func TestCloseDropsWatchers(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "devices/d1", map[string]any{}, false))
	calls := 0
	_, err := s.OnSnapshot("devices/d1", func(map[string]any) { calls++ })
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	require.NoError(t, s.Close())
	require.NoError(t, s.Set(ctx, "devices/d1", map[string]any{"status": "online"}, true))
	assert.Equal(t, 1, calls, "no notification after Close")
}
