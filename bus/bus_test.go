package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, sub *Subscription) *Message {
	t.Helper()
	select {
	case m := <-sub.Channel():
		return m
	default:
		t.Fatal("no message queued")
		return nil
	}
}

// recvWait blocks: lossless deliveries flow through the pump goroutine.
func recvWait(t *testing.T, sub *Subscription) *Message {
	t.Helper()
	select {
	case m := <-sub.Channel():
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message within deadline")
		return nil
	}
}

func TestPublishSubscribe(t *testing.T) {
	b := New(4)
	conn := b.NewConnection("test")
	defer conn.Disconnect()

	sub := conn.Subscribe(T("remote", "desired", 17))
	conn.Publish(T("remote", "desired", 17), true, false)

	m := recv(t, sub)
	assert.Equal(t, true, m.Payload)
}

func TestWildcardMatchesOneToken(t *testing.T) {
	b := New(4)
	conn := b.NewConnection("test")
	defer conn.Disconnect()

	sub := conn.Subscribe(T("remote", "desired", Any))
	conn.Publish(T("remote", "desired", 17), "a", false)
	conn.Publish(T("remote", "desired", 18), "b", false)
	conn.Publish(T("remote", "command"), "c", false) // different arity, no match

	assert.Equal(t, "a", recv(t, sub).Payload)
	assert.Equal(t, "b", recv(t, sub).Payload)
	select {
	case m := <-sub.Channel():
		t.Fatalf("unexpected message %v", m.Payload)
	default:
	}
}

func TestRetainedDeliveredOnSubscribe(t *testing.T) {
	b := New(4)
	conn := b.NewConnection("test")
	defer conn.Disconnect()

	conn.Publish(T("bridge", "state"), "running", true)

	sub := conn.Subscribe(T("bridge", "state"))
	assert.Equal(t, "running", recv(t, sub).Payload)

	// Nil payload clears the retained slot.
	conn.Publish(T("bridge", "state"), nil, true)
	late := conn.Subscribe(T("bridge", "state"))
	select {
	case <-late.Channel():
		t.Fatal("retained message should have been cleared")
	default:
	}
}

func TestQueueDropsOldest(t *testing.T) {
	b := New(2)
	conn := b.NewConnection("test")
	defer conn.Disconnect()

	sub := conn.Subscribe(T("x"))
	for i := 0; i < 5; i++ {
		conn.Publish(T("x"), i, false)
	}
	// The two newest survive.
	assert.Equal(t, 3, recv(t, sub).Payload)
	assert.Equal(t, 4, recv(t, sub).Payload)
}

func TestLosslessKeepsEveryMessageInOrder(t *testing.T) {
	b := New(2)
	conn := b.NewConnection("test")
	defer conn.Disconnect()

	// Nobody reads while a burst far beyond the queue length arrives.
	sub := conn.SubscribeLossless(T("x"))
	for i := 0; i < 16; i++ {
		conn.Publish(T("x"), i, false)
	}
	for i := 0; i < 16; i++ {
		assert.Equal(t, i, recvWait(t, sub).Payload)
	}
}

func TestLosslessUnsubscribeClosesChannel(t *testing.T) {
	b := New(2)
	conn := b.NewConnection("test")

	sub := conn.SubscribeLossless(T("y"))
	conn.Publish(T("y"), 1, false)
	assert.Equal(t, 1, recvWait(t, sub).Payload)

	sub.Unsubscribe()
	require.Eventually(t, func() bool {
		_, open := <-sub.Channel()
		return !open
	}, 2*time.Second, time.Millisecond)
	require.NotPanics(t, func() { conn.Publish(T("y"), 2, false) })
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(4)
	conn := b.NewConnection("test")

	sub := conn.Subscribe(T("y"))
	sub.Unsubscribe()
	require.NotPanics(t, func() { conn.Publish(T("y"), 1, false) })
	_, open := <-sub.Channel()
	assert.False(t, open)
}
