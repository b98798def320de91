package sensorworker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adiibanez/sensocto/internal/attention"
	"github.com/adiibanez/sensocto/internal/biofactors"
	"github.com/adiibanez/sensocto/internal/pubsub"
	"github.com/adiibanez/sensocto/internal/store"
	"github.com/adiibanez/sensocto/internal/topics"
	"github.com/adiibanez/sensocto/internal/types"
)

type fakeNotifier struct {
	mu    sync.Mutex
	ups   []string
	downs []string
}

func (n *fakeNotifier) SensorUp(sensorID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ups = append(n.ups, sensorID)
}

func (n *fakeNotifier) SensorDown(sensorID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.downs = append(n.downs, sensorID)
}

func (n *fakeNotifier) upCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.ups)
}

func (n *fakeNotifier) downCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.downs)
}

func newTestWorker(t *testing.T, bus *pubsub.Bus, notifier Notifier, cfg Config) *Worker {
	t.Helper()
	st := store.New(store.DefaultHotLimit, store.DefaultWarmLimit)
	tr := attention.New(bus, nil, biofactors.Neutral())
	w := New("s1", types.SensorMeta{SensorName: "test-sensor"}, bus, st, tr, notifier, cfg)
	return w
}

func TestPutAttributeWritesToStoreAndRegistersAttribute(t *testing.T) {
	bus := pubsub.New()
	w := newTestWorker(t, bus, nil, Config{})
	w.Start()
	defer w.Stop()

	w.PutAttribute("temp", types.Measurement{SensorID: "s1", AttributeID: "temp", TimestampMs: 1, Payload: 21.5})

	state := w.GetState(10)
	require.Contains(t, state.Meta.Attributes, "temp")
	require.Len(t, state.Attributes["temp"], 1)
	assert.Equal(t, 21.5, state.Attributes["temp"][0].Payload)
}

func TestPutAttributeBroadcastsOnSensorDataTopic(t *testing.T) {
	bus := pubsub.New()
	w := newTestWorker(t, bus, nil, Config{})
	w.Start()
	defer w.Stop()

	sub := bus.Subscribe(topics.SensorData("s1"))
	defer bus.Unsubscribe(sub)

	w.PutAttribute("temp", types.Measurement{SensorID: "s1", AttributeID: "temp", Payload: 1})

	select {
	case msg := <-sub.C():
		batch, ok := msg.Payload.([]types.Measurement)
		require.True(t, ok)
		assert.Len(t, batch, 1)
	case <-time.After(time.Second):
		t.Fatal("expected a broadcast on data:s1")
	}
}

func TestPriorityAttributeForceBroadcastsHighWhenAttentionNone(t *testing.T) {
	bus := pubsub.New()
	w := newTestWorker(t, bus, nil, Config{PriorityAttributes: []string{"button"}})
	w.Start()
	defer w.Stop()

	highSub := bus.Subscribe(topics.AttentionShard("high"))
	defer bus.Unsubscribe(highSub)

	w.PutAttribute("button", types.Measurement{SensorID: "s1", AttributeID: "button", Payload: true})

	select {
	case <-highSub.C():
	case <-time.After(time.Second):
		t.Fatal("expected priority attribute to force-broadcast on data:attention:high")
	}
}

func TestNonPriorityAttributeDoesNotBroadcastShardWhenAttentionNone(t *testing.T) {
	bus := pubsub.New()
	w := newTestWorker(t, bus, nil, Config{})
	w.Start()
	defer w.Stop()

	highSub := bus.Subscribe(topics.AttentionShard("high"))
	defer bus.Unsubscribe(highSub)

	w.PutAttribute("temp", types.Measurement{SensorID: "s1", AttributeID: "temp", Payload: 1})

	select {
	case <-highSub.C():
		t.Fatal("non-priority attribute must not force-broadcast with no attention")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClearAttributeRemovesFromStoreAndRegistry(t *testing.T) {
	bus := pubsub.New()
	w := newTestWorker(t, bus, nil, Config{})
	w.Start()
	defer w.Stop()

	w.PutAttribute("temp", types.Measurement{SensorID: "s1", AttributeID: "temp", Payload: 1})
	w.ClearAttribute("temp")

	state := w.GetState(10)
	assert.NotContains(t, state.Meta.Attributes, "temp")
	assert.Empty(t, state.Attributes["temp"])
}

func TestUpdateConnectorNameUpdatesMeta(t *testing.T) {
	bus := pubsub.New()
	w := newTestWorker(t, bus, nil, Config{})
	w.Start()
	defer w.Stop()

	w.UpdateConnectorName("new-connector")
	assert.Equal(t, "new-connector", w.GetState(1).Meta.ConnectorName)
}

func TestStartAnnouncesDiscoveryAndNotifiesUp(t *testing.T) {
	bus := pubsub.New()
	notifier := &fakeNotifier{}
	w := newTestWorker(t, bus, notifier, Config{})

	discoSub := bus.Subscribe(topics.DiscoverySensors)
	defer bus.Unsubscribe(discoSub)

	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return notifier.upCount() == 1 }, time.Second, 10*time.Millisecond)

	select {
	case msg := <-discoSub.C():
		evt, ok := msg.Payload.(topics.SensorLifecycleEvent)
		require.True(t, ok)
		assert.Equal(t, "s1", evt.SensorID)
		assert.False(t, evt.Unregistered)
	case <-time.After(time.Second):
		t.Fatal("expected discovery announcement")
	}
}

func TestStopAnnouncesUnregisteredAndNotifiesDown(t *testing.T) {
	bus := pubsub.New()
	notifier := &fakeNotifier{}
	w := newTestWorker(t, bus, notifier, Config{})
	w.Start()
	require.Eventually(t, func() bool { return notifier.upCount() == 1 }, time.Second, 10*time.Millisecond)

	discoSub := bus.Subscribe(topics.DiscoverySensors)
	defer bus.Unsubscribe(discoSub)

	w.Stop()

	assert.Equal(t, 1, notifier.downCount())

	select {
	case msg := <-discoSub.C():
		evt, ok := msg.Payload.(topics.SensorLifecycleEvent)
		require.True(t, ok)
		assert.True(t, evt.Unregistered)
	case <-time.After(time.Second):
		t.Fatal("expected sensor_unregistered announcement")
	}
}

func TestPutBatchAttributesHandlesMultipleAttributesAndPriority(t *testing.T) {
	bus := pubsub.New()
	w := newTestWorker(t, bus, nil, Config{PriorityAttributes: []string{"buttons"}})
	w.Start()
	defer w.Stop()

	highSub := bus.Subscribe(topics.AttentionShard("high"))
	defer bus.Unsubscribe(highSub)

	w.PutBatchAttributes([]types.Measurement{
		{SensorID: "s1", AttributeID: "temp", Payload: 1},
		{SensorID: "s1", AttributeID: "buttons", Payload: true},
	})

	state := w.GetState(10)
	assert.Len(t, state.Attributes["temp"], 1)
	assert.Len(t, state.Attributes["buttons"], 1)

	select {
	case <-highSub.C():
	case <-time.After(time.Second):
		t.Fatal("expected priority rule to force-broadcast the whole batch on high")
	}
}

func TestInferTypeFallsBackToPayloadKind(t *testing.T) {
	assert.Equal(t, "skeleton", inferType("skeleton", nil))
	assert.Equal(t, "number", inferType("arbitrary", 3.14))
	assert.Equal(t, "string", inferType("arbitrary", "x"))
	assert.Equal(t, "boolean", inferType("arbitrary", true))
	assert.Equal(t, "scalar", inferType("arbitrary", nil))
}
