// Package supervisor implements the sensor directory: start/stop sensor
// workers, list known sensors, and fan out state queries with bounded
// concurrency and per-sensor timeouts (spec.md §4.7).
package supervisor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adiibanez/sensocto/internal/attention"
	"github.com/adiibanez/sensocto/internal/pubsub"
	"github.com/adiibanez/sensocto/internal/sensorworker"
	"github.com/adiibanez/sensocto/internal/store"
	"github.com/adiibanez/sensocto/internal/topics"
	"github.com/adiibanez/sensocto/internal/types"
)

const (
	DefaultConcurrency      = 10
	DefaultPerSensorTimeout = 10 * time.Second
)

// Config carries the supervisor's tunables, including the defaults it
// passes through to every sensor worker it starts.
type Config struct {
	Concurrency      int
	PerSensorTimeout time.Duration
	WorkerConfig     sensorworker.Config
}

// Supervisor is the sensor directory: the single owner of the
// sensorID → *sensorworker.Worker map.
type Supervisor struct {
	bus      *pubsub.Bus
	store    *store.Store
	tracker  *attention.Tracker
	notifier sensorworker.Notifier

	cfg Config

	mu      sync.RWMutex
	workers map[string]*sensorworker.Worker
}

// New constructs a Supervisor. notifier may be nil (see
// sensorworker.New).
func New(bus *pubsub.Bus, st *store.Store, tracker *attention.Tracker, notifier sensorworker.Notifier, cfg Config) *Supervisor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PerSensorTimeout <= 0 {
		cfg.PerSensorTimeout = DefaultPerSensorTimeout
	}
	return &Supervisor{
		bus:      bus,
		store:    st,
		tracker:  tracker,
		notifier: notifier,
		cfg:      cfg,
		workers:  make(map[string]*sensorworker.Worker),
	}
}

// AddSensor starts a new sensor worker for sensorID if absent. If one is
// already running, it is a no-op and alreadyStarted is true — not an
// error, per spec.md §4.7.
func (s *Supervisor) AddSensor(sensorID string, meta types.SensorMeta) (alreadyStarted bool) {
	s.mu.Lock()
	if _, ok := s.workers[sensorID]; ok {
		s.mu.Unlock()
		return true
	}

	w := sensorworker.New(sensorID, meta, s.bus, s.store, s.tracker, s.notifier, s.cfg.WorkerConfig)
	s.workers[sensorID] = w
	s.mu.Unlock()

	w.Start()
	s.bus.Publish(topics.SensorOnline, sensorID)
	return false
}

// RemoveSensor terminates sensorID's worker, clears its attention
// records, cleans up its store entries, and broadcasts sensor_offline.
// A no-op if the sensor is unknown.
func (s *Supervisor) RemoveSensor(sensorID string) {
	s.mu.Lock()
	w, ok := s.workers[sensorID]
	if ok {
		delete(s.workers, sensorID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	w.Stop() // also calls store.Cleanup(sensorID)
	if s.tracker != nil {
		s.tracker.ClearSensor(sensorID)
	}
	s.bus.Publish(topics.SensorOffline, sensorID)
}

// ListSensors returns every currently-registered sensor ID.
func (s *Supervisor) ListSensors() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	return ids
}

// Worker returns the worker for sensorID, used by transports that want
// to call PutAttribute/PutBatchAttributes directly.
func (s *Supervisor) Worker(sensorID string) (*sensorworker.Worker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[sensorID]
	return w, ok
}

// GetSensorState fetches one sensor's snapshot with a bounded timeout. A
// timed-out or unknown sensor is represented by a placeholder with
// Unavailable set, rather than an error, so callers see no flicker.
func (s *Supervisor) GetSensorState(ctx context.Context, sensorID string, nValues int) types.SensorState {
	w, ok := s.Worker(sensorID)
	if !ok {
		return types.SensorState{SensorID: sensorID, Unavailable: true}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.PerSensorTimeout)
	defer cancel()

	type result struct {
		state types.SensorState
	}
	ch := make(chan result, 1)
	go func() {
		ch <- result{state: w.GetState(nValues)}
	}()

	select {
	case r := <-ch:
		return r.state
	case <-ctx.Done():
		return types.SensorState{SensorID: sensorID, Unavailable: true}
	}
}

// GetAllSensorsState collects every known sensor's state in parallel with
// bounded concurrency and a per-sensor timeout (spec.md §4.7).
func (s *Supervisor) GetAllSensorsState(ctx context.Context, nValues int) []types.SensorState {
	ids := s.ListSensors()
	states := make([]types.SensorState, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			states[i] = s.GetSensorState(gctx, id, nValues)
			return nil
		})
	}
	_ = g.Wait()

	return states
}
