// Package pubsub is the core's internal message bus: a topic-addressed,
// non-blocking fan-out used by every component to publish measurements,
// attention-level changes, and lifecycle events without coupling publisher
// to subscriber. Delivery never blocks the publisher; a slow or full
// subscriber only loses its own copy of the message.
package pubsub

import (
	"sync"
	"sync/atomic"

	"github.com/adiibanez/sensocto/internal/metrics"
	"github.com/adiibanez/sensocto/pkg/log"
)

// DefaultBufferSize is the per-subscriber channel capacity used when a
// caller does not request a specific size via SubscribeBuffered.
const DefaultBufferSize = 64

// Message is an envelope carrying a topic and an arbitrary payload. The
// core never inspects Payload generically; each topic's subscribers agree
// out of band on its concrete type.
type Message struct {
	Topic   string
	Payload any
}

// Subscription is a live registration on a topic. Ordering of deliveries to
// a given Subscription is preserved relative to publishes on the topic it
// was created for.
type Subscription struct {
	id    uint64
	topic string
	ch    chan Message

	bus    *Bus
	once   sync.Once
	closed atomic.Bool
}

// C returns the channel to range over for delivered messages. It is closed
// when the subscription is unsubscribed.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Bus is a topic-keyed registry of subscriptions. The zero value is not
// usable; construct with New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[uint64]*Subscription
	nextID      uint64

	dropped atomic.Uint64
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string]map[uint64]*Subscription),
	}
}

// Subscribe registers for topic with the default buffer size.
func (b *Bus) Subscribe(topic string) *Subscription {
	return b.SubscribeBuffered(topic, DefaultBufferSize)
}

// SubscribeBuffered registers for topic with an explicit channel capacity.
// A larger buffer absorbs bursts at the cost of memory and staleness; a
// size of 0 means every publish to an otherwise-idle subscriber is dropped
// unless a receiver is blocked in a select on C() at the instant of
// delivery.
func (b *Bus) SubscribeBuffered(topic string, bufferSize int) *Subscription {
	id := atomic.AddUint64(&b.nextID, 1)
	sub := &Subscription{
		id:    id,
		topic: topic,
		ch:    make(chan Message, bufferSize),
		bus:   b,
	}

	b.mu.Lock()
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[uint64]*Subscription)
	}
	b.subscribers[topic][id] = sub
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call more than
// once and safe to call concurrently with Publish.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.once.Do(func() {
		b.mu.Lock()
		if subs, ok := b.subscribers[sub.topic]; ok {
			delete(subs, sub.id)
			if len(subs) == 0 {
				delete(b.subscribers, sub.topic)
			}
		}
		b.mu.Unlock()
		sub.closed.Store(true)
		close(sub.ch)
	})
}

// Publish fans payload out to every current subscriber of topic. Delivery
// is attempted once per subscriber and never blocks: a subscriber whose
// buffer is full simply does not receive this message. Publish itself
// never blocks and never returns an error — a bus with no subscribers for
// topic is a normal, silent no-op.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	subs := b.subscribers[topic]
	snapshot := make([]*Subscription, 0, len(subs))
	for _, sub := range subs {
		snapshot = append(snapshot, sub)
	}
	b.mu.RUnlock()

	if len(snapshot) == 0 {
		return
	}

	msg := Message{Topic: topic, Payload: payload}
	for _, sub := range snapshot {
		select {
		case sub.ch <- msg:
		default:
			b.dropped.Add(1)
			metrics.PubsubDropped.Inc()
			log.Debugf("pubsub: dropped message on topic %s (subscriber %d buffer full)", topic, sub.id)
		}
	}
}

// Dropped returns the cumulative count of messages dropped due to a full
// subscriber buffer, across every topic. Intended for metrics exposition.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of live subscriptions on topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}
