package attrworker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adiibanez/sensocto/internal/attention"
	"github.com/adiibanez/sensocto/internal/biofactors"
	"github.com/adiibanez/sensocto/internal/pubsub"
	"github.com/adiibanez/sensocto/internal/types"
)

type fakeSource struct {
	mu      sync.Mutex
	samples []RawSample
}

func (f *fakeSource) PullBatch(sensorID, attributeID string) []RawSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.samples) == 0 {
		return nil
	}
	out := f.samples
	f.samples = nil
	return out
}

func (f *fakeSource) push(samples ...RawSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, samples...)
}

type fakeEmitter struct {
	mu      sync.Mutex
	batches [][]types.Measurement
}

func (e *fakeEmitter) EmitBatch(sensorID, attributeID string, batch []types.Measurement) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches = append(e.batches, batch)
}

func (e *fakeEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.batches)
}

func (e *fakeEmitter) total() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, b := range e.batches {
		n += len(b)
	}
	return n
}

func TestWorkerEmitsOnBatchSizeThreshold(t *testing.T) {
	bus := pubsub.New()
	source := &fakeSource{}
	emitter := &fakeEmitter{}

	source.push(RawSample{Payload: 1}, RawSample{Payload: 2}, RawSample{Payload: 3})

	w := New("s1", "a1", "conn1", bus, nil, nil, source, emitter, nil, Config{
		BaseDelayMs:       1,
		BaseBatchWindowMs: 60000,
		BatchSize:         3,
	})
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool {
		return emitter.total() >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerEmitsOnWindowTimerEvenIfBatchNotFull(t *testing.T) {
	bus := pubsub.New()
	source := &fakeSource{}
	emitter := &fakeEmitter{}

	source.push(RawSample{Payload: "x"})

	w := New("s1", "a1", "conn1", bus, nil, nil, source, emitter, nil, Config{
		BaseDelayMs:       1,
		BaseBatchWindowMs: 50,
		BatchSize:         1000,
	})
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool {
		return emitter.count() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerPauseHoldsEmission(t *testing.T) {
	bus := pubsub.New()
	source := &fakeSource{}
	emitter := &fakeEmitter{}

	w := New("s1", "a1", "conn1", bus, nil, nil, source, emitter, nil, Config{
		BaseDelayMs:       1,
		BaseBatchWindowMs: 30,
		BatchSize:         10,
	})
	w.Pause()
	w.Start()
	defer w.Stop()

	source.push(RawSample{Payload: 1}, RawSample{Payload: 2})

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, emitter.count())

	w.Resume()
	require.Eventually(t, func() bool {
		return emitter.count() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerStopsWhenOwningSensorDead(t *testing.T) {
	bus := pubsub.New()
	source := &fakeSource{}
	emitter := &fakeEmitter{}

	source.push(RawSample{Payload: 1})

	dead := func() bool { return false }

	w := New("s1", "a1", "conn1", bus, nil, nil, source, emitter, dead, Config{
		BaseDelayMs:       1,
		BaseBatchWindowMs: 20,
		BatchSize:         1,
	})
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool {
		select {
		case <-w.ctx.Done():
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, emitter.count())
}

func TestWorkerRecomputesWindowOnAttentionChange(t *testing.T) {
	bus := pubsub.New()
	tracker := attention.New(bus, nil, biofactors.Neutral())
	source := &fakeSource{}
	emitter := &fakeEmitter{}

	w := New("s1", "a1", "conn1", bus, tracker, nil, source, emitter, nil, Config{
		BaseDelayMs:       1,
		BaseBatchWindowMs: 1000,
		BatchSize:         1000,
	})
	w.Start()
	defer w.Stop()

	tracker.RegisterFocus("s1", "a1", "u1")

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.currentBatchWindow == 200*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)
}
