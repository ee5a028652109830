// Package bus is the in-process pub/sub spine between the document
// listeners and the components consuming their change events.
package bus

import (
	"sync"
)

// Topic is a path of tokens; tokens are strings or ints (pin numbers).
// The wildcard token Any matches exactly one token at its position in a
// subscription.
type Topic []any

// Any is the single-token wildcard for subscriptions.
const Any = "+"

// T builds a topic in place.
func T(tokens ...any) Topic { return Topic(tokens) }

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
}

type Subscription struct {
	topic Topic
	ch    chan *Message
	conn  *Connection

	// Lossless subscriptions queue without bound through a pump goroutine;
	// bounded ones drop the oldest message when the channel fills.
	lossless  bool
	mu        sync.Mutex
	backlog   []*Message
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// deliver hands a message to the subscriber under the queue policy.
func (s *Subscription) deliver(m *Message) {
	if s.lossless {
		s.mu.Lock()
		s.backlog = append(s.backlog, m)
		s.mu.Unlock()
		select {
		case s.wake <- struct{}{}:
		default:
		}
		return
	}
	select {
	case s.ch <- m:
	default:
		// Drop oldest to keep the newest snapshot flowing.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- m:
		default:
		}
	}
}

// pump drains the backlog into the channel in publish order. It owns the
// channel and closes it once the subscription ends.
func (s *Subscription) pump() {
	defer close(s.ch)
	for {
		s.mu.Lock()
		if len(s.backlog) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		m := s.backlog[0]
		s.backlog = s.backlog[1:]
		s.mu.Unlock()
		select {
		case s.ch <- m:
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		if s.lossless {
			close(s.done)
			return
		}
		close(s.ch)
	})
}

type node struct {
	children map[any]*node
	subs     []*Subscription
	retained *Message
}

// Bus routes messages through a topic trie. Default subscriptions carry
// bounded queues that drop the oldest message when full, so their consumers
// must treat deliveries as snapshots; lossless subscriptions queue without
// bound for topics where every message is a distinct event.
type Bus struct {
	mu   sync.RWMutex
	root *node
	qLen int
}

// New creates a bus with the given per-subscription queue length.
func New(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8
	}
	return &Bus{root: &node{}, qLen: queueLen}
}

func (b *Bus) addSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	for _, tok := range sub.topic {
		if n.children == nil {
			n.children = make(map[any]*node)
		}
		child, ok := n.children[tok]
		if !ok {
			child = &node{}
			n.children[tok] = child
		}
		n = child
	}
	n.subs = append(n.subs, sub)

	// Deliver retained messages already published under this subscription.
	b.walkRetained(b.root, sub.topic, sub.deliver)
}

func (b *Bus) walkRetained(n *node, rest Topic, emit func(*Message)) {
	if len(rest) == 0 {
		if n.retained != nil {
			emit(n.retained)
		}
		return
	}
	tok := rest[0]
	if tok == Any {
		for _, child := range n.children {
			b.walkRetained(child, rest[1:], emit)
		}
		return
	}
	if child, ok := n.children[tok]; ok {
		b.walkRetained(child, rest[1:], emit)
	}
}

// Publish delivers msg to every subscription matching its topic, honouring
// single-token wildcards in subscriptions. Retained messages are stored at
// the exact topic node; publishing a retained nil payload clears it.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.match(b.root, msg.Topic, msg)

	if msg.Retained {
		n := b.root
		for _, tok := range msg.Topic {
			if n.children == nil {
				n.children = make(map[any]*node)
			}
			child, ok := n.children[tok]
			if !ok {
				child = &node{}
				n.children[tok] = child
			}
			n = child
		}
		if msg.Payload == nil {
			n.retained = nil
		} else {
			n.retained = msg
		}
	}
}

func (b *Bus) match(n *node, rest Topic, msg *Message) {
	if len(rest) == 0 {
		for _, sub := range n.subs {
			sub.deliver(msg)
		}
		return
	}
	if n.children == nil {
		return
	}
	if child, ok := n.children[rest[0]]; ok {
		b.match(child, rest[1:], msg)
	}
	if child, ok := n.children[Any]; ok {
		b.match(child, rest[1:], msg)
	}
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	var stack []*node
	for _, tok := range sub.topic {
		if n.children == nil {
			return
		}
		child, ok := n.children[tok]
		if !ok {
			return
		}
		stack = append(stack, n)
		n = child
	}
	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}
	// Prune empty branches.
	for i := len(sub.topic) - 1; i >= 0; i-- {
		parent := stack[i]
		key := sub.topic[i]
		child := parent.children[key]
		if len(child.subs) == 0 && len(child.children) == 0 && child.retained == nil {
			delete(parent.children, key)
		} else {
			break
		}
	}
}

// Connection groups subscriptions so a component can tear down in one call.
type Connection struct {
	bus  *Bus
	mu   sync.Mutex
	subs []*Subscription
	id   string
}

// NewConnection creates a connection bound to this bus.
func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) Publish(topic Topic, payload any, retained bool) {
	c.bus.Publish(&Message{Topic: topic, Payload: payload, Retained: retained})
}

// Subscribe creates a bounded subscription: when its queue fills, the
// oldest message is dropped. Suitable for topics whose deliveries are
// snapshots.
func (c *Connection) Subscribe(topic Topic) *Subscription {
	return c.subscribe(topic, false)
}

// SubscribeLossless creates a subscription that queues without bound, for
// topics carrying one-shot events that must not be dropped. The subscriber
// must keep consuming.
func (c *Connection) SubscribeLossless(topic Topic) *Subscription {
	return c.subscribe(topic, true)
}

func (c *Connection) subscribe(topic Topic, lossless bool) *Subscription {
	sub := &Subscription{
		topic:    topic,
		ch:       make(chan *Message, c.bus.qLen),
		conn:     c,
		lossless: lossless,
	}
	if lossless {
		sub.wake = make(chan struct{}, 1)
		sub.done = make(chan struct{})
		go sub.pump()
	}
	c.bus.addSubscription(sub)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub
}

func (c *Connection) Unsubscribe(sub *Subscription) {
	c.bus.unsubscribe(sub)
	c.mu.Lock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	sub.close()
}

// Disconnect closes all subscriptions owned by this connection.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, sub := range subs {
		c.bus.unsubscribe(sub)
		sub.close()
	}
}
