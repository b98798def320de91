package simulator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adiibanez/sensocto/internal/attention"
	"github.com/adiibanez/sensocto/internal/attrworker"
	"github.com/adiibanez/sensocto/internal/biofactors"
	"github.com/adiibanez/sensocto/internal/pubsub"
	"github.com/adiibanez/sensocto/internal/store"
	"github.com/adiibanez/sensocto/internal/supervisor"
	"github.com/adiibanez/sensocto/internal/topics"
)

func TestGeneratorCounterAttributeIsMonotonic(t *testing.T) {
	g := NewGenerator(1)

	first := g.PullBatch("s1", "step_counter")
	second := g.PullBatch("s1", "step_counter")

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Less(t, first[0].Payload.(float64), second[0].Payload.(float64))
}

func TestGeneratorNonCounterAttributeIsBoundedWalk(t *testing.T) {
	g := NewGenerator(2)

	for i := 0; i < 50; i++ {
		samples := g.PullBatch("s1", "heart_rate")
		require.Len(t, samples, 1)
		v := samples[0].Payload.(float64)
		assert.Less(t, v, 100.0)
		assert.Greater(t, v, -100.0)
	}
}

func TestGeneratorTracksEachSensorAttributePairIndependently(t *testing.T) {
	g := NewGenerator(3)

	g.PullBatch("s1", "step_counter")
	g.PullBatch("s1", "step_counter")
	s2First := g.PullBatch("s2", "step_counter")

	assert.Equal(t, float64(1), s2First[0].Payload.(float64))
}

func TestSpawnStartsSensorAndDrivesDataTopic(t *testing.T) {
	bus := pubsub.New()
	st := store.New(store.DefaultHotLimit, store.DefaultWarmLimit)
	tr := attention.New(bus, nil, biofactors.Neutral())
	sup := supervisor.New(bus, st, tr, nil, supervisor.Config{})

	sim := New(sup, bus, tr, nil, nil, attrworker.Config{BaseDelayMs: 10, BaseBatchWindowMs: 30, BatchSize: 2}, 42)
	defer sim.Stop()

	dataSub := bus.Subscribe(topics.SensorData("sim-sensor-0"))
	defer bus.Unsubscribe(dataSub)

	sim.Spawn(SensorSpec{
		SensorID:   "sim-sensor-0",
		SensorName: "sim-sensor-0",
		SensorType: "simulated",
		Attributes: []string{"heart_rate"},
	})

	select {
	case <-dataSub.C():
	case <-time.After(2 * time.Second):
		t.Fatal("expected at least one data:sim-sensor-0 publish")
	}

	assert.Contains(t, sup.ListSensors(), "sim-sensor-0")
}

func TestSpawnAllStartsEverySpec(t *testing.T) {
	bus := pubsub.New()
	st := store.New(store.DefaultHotLimit, store.DefaultWarmLimit)
	tr := attention.New(bus, nil, biofactors.Neutral())
	sup := supervisor.New(bus, st, tr, nil, supervisor.Config{})

	sim := New(sup, bus, tr, nil, nil, attrworker.Config{BaseDelayMs: 10, BaseBatchWindowMs: 30, BatchSize: 2}, 7)
	defer sim.Stop()

	sim.SpawnAll(DefaultSpecs(3, nil))

	assert.Len(t, sup.ListSensors(), 3)
}

func TestDefaultSpecsBuildsNNumberedSensors(t *testing.T) {
	specs := DefaultSpecs(2, []string{"a", "b"})

	require.Len(t, specs, 2)
	assert.Equal(t, "sim-sensor-0", specs[0].SensorID)
	assert.Equal(t, "sim-sensor-1", specs[1].SensorID)
	assert.Equal(t, []string{"a", "b"}, specs[0].Attributes)
}
