package pubsub

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeDelivers(t *testing.T) {
	b := New()
	sub := b.Subscribe("data:sensor-1")
	defer b.Unsubscribe(sub)

	b.Publish("data:sensor-1", "hello")

	select {
	case msg := <-sub.C():
		assert.Equal(t, "data:sensor-1", msg.Topic)
		assert.Equal(t, "hello", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestPublishNoSubscribersIsNoop(t *testing.T) {
	b := New()
	assert.NotPanics(t, func() { b.Publish("nobody:listening", 1) })
}

func TestPublishDoesNotCrossTopics(t *testing.T) {
	b := New()
	a := b.Subscribe("topic:a")
	c := b.Subscribe("topic:b")
	defer b.Unsubscribe(a)
	defer b.Unsubscribe(c)

	b.Publish("topic:a", 1)

	select {
	case msg := <-a.C():
		assert.Equal(t, 1, msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected delivery on topic:a")
	}

	select {
	case <-c.C():
		t.Fatal("topic:b subscriber must not receive topic:a publishes")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishDropsOnFullBufferWithoutBlocking(t *testing.T) {
	b := New()
	sub := b.SubscribeBuffered("full", 1)
	defer b.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Publish("full", 1)
		b.Publish("full", 2)
		b.Publish("full", 3)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	assert.GreaterOrEqual(t, b.Dropped(), uint64(1))
}

func TestUnsubscribeClosesChannelAndIsIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe("topic")

	b.Unsubscribe(sub)
	assert.NotPanics(t, func() { b.Unsubscribe(sub) })

	_, ok := <-sub.C()
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestSlowSubscriberDoesNotAffectOthers(t *testing.T) {
	b := New()
	slow := b.SubscribeBuffered("topic", 0)
	fast := b.Subscribe("topic")
	defer b.Unsubscribe(slow)
	defer b.Unsubscribe(fast)

	b.Publish("topic", "x")

	select {
	case msg := <-fast.C():
		assert.Equal(t, "x", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("fast subscriber should still receive the message")
	}
}

func TestOrderingPreservedPerSubscriber(t *testing.T) {
	b := New()
	sub := b.SubscribeBuffered("ordered", 100)
	defer b.Unsubscribe(sub)

	for i := 0; i < 50; i++ {
		b.Publish("ordered", i)
	}

	for i := 0; i < 50; i++ {
		select {
		case msg := <-sub.C():
			assert.Equal(t, i, msg.Payload)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestConcurrentSubscribeUnsubscribePublish(t *testing.T) {
	b := New()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := b.Subscribe("concurrent")
			for j := 0; j < 10; j++ {
				b.Publish("concurrent", j)
			}
			b.Unsubscribe(sub)
		}()
	}

	require.Eventually(t, func() bool {
		wg.Wait()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, b.SubscriberCount("concurrent"))
}
