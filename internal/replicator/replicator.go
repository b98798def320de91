// Package replicator implements the fixed-size replicator pool: sensors
// are routed to workers by consistent hashing, each worker batches the
// measurements it receives and hands batches to a pluggable downstream
// Sink (spec.md §4.8).
package replicator

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/adiibanez/sensocto/internal/metrics"
	"github.com/adiibanez/sensocto/internal/pubsub"
	"github.com/adiibanez/sensocto/internal/topics"
	"github.com/adiibanez/sensocto/internal/types"
	"github.com/adiibanez/sensocto/pkg/log"
)

const (
	DefaultPoolSize     = 8
	DefaultBatchSize    = 100
	DefaultBatchTimeout = time.Second
)

// Sink is the replicator's downstream — spec.md §4.8 calls it "out of
// scope"; this is the seam a concrete adapter (e.g. internal/natssink)
// plugs into.
type Sink interface {
	Write(sensorID string, batch []types.Measurement) error
}

// NoopSink discards every batch. Used when no concrete sink is wired in.
type NoopSink struct{}

func (NoopSink) Write(string, []types.Measurement) error { return nil }

// Config carries the pool's tunables.
type Config struct {
	PoolSize     int
	BatchSize    int
	BatchTimeout time.Duration
}

// Pool is the fixed-size replicator pool. It implements
// sensorworker.Notifier, so a supervisor can use it directly as the
// sensor_up/sensor_down notification target.
type Pool struct {
	bus     *pubsub.Bus
	sink    Sink
	workers []*worker
}

// New constructs a Pool with cfg.PoolSize workers (default 8). sink may
// be nil, in which case NoopSink is used.
func New(bus *pubsub.Bus, sink Sink, cfg Config) *Pool {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	if sink == nil {
		sink = NoopSink{}
	}

	p := &Pool{bus: bus, sink: sink}
	p.workers = make([]*worker, cfg.PoolSize)
	for i := range p.workers {
		p.workers[i] = newWorker(i, sink, cfg.BatchSize, cfg.BatchTimeout)
	}
	return p
}

// Start launches every worker's batching loop.
func (p *Pool) Start() {
	for _, w := range p.workers {
		w.start()
	}
}

// Stop flushes and terminates every worker, unsubscribing from all of
// their sensors.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.stop()
	}
}

func (p *Pool) indexFor(sensorID string) int {
	return int(xxhash.Sum64String(sensorID) % uint64(len(p.workers)))
}

// SensorUp routes sensorID to its mapped worker, which subscribes to
// data:<sensor_id>.
func (p *Pool) SensorUp(sensorID string) {
	p.workers[p.indexFor(sensorID)].subscribeSensor(p.bus, sensorID)
}

// SensorDown routes sensorID to its mapped worker, which unsubscribes.
func (p *Pool) SensorDown(sensorID string) {
	p.workers[p.indexFor(sensorID)].unsubscribeSensor(p.bus, sensorID)
}

type worker struct {
	idx          int
	sink         Sink
	batchSize    int
	batchTimeout time.Duration

	inbox chan types.Measurement
	done  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	cancels  map[string]chan struct{}
	sensorWg sync.WaitGroup
}

func newWorker(idx int, sink Sink, batchSize int, batchTimeout time.Duration) *worker {
	return &worker{
		idx:          idx,
		sink:         sink,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		inbox:        make(chan types.Measurement, batchSize*4),
		done:         make(chan struct{}),
		cancels:      make(map[string]chan struct{}),
	}
}

func (w *worker) start() {
	w.wg.Add(1)
	go w.run()
}

func (w *worker) run() {
	defer w.wg.Done()

	var batch []types.Measurement
	timer := time.NewTimer(w.batchTimeout)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		b := batch
		batch = nil
		// topic routing guarantees every measurement in a worker's inbox
		// shares the worker, but batches may span multiple sensors; group
		// by sensor so the sink sees one coherent batch per sensor.
		bySensor := make(map[string][]types.Measurement)
		order := make([]string, 0, 1)
		for _, m := range b {
			if _, ok := bySensor[m.SensorID]; !ok {
				order = append(order, m.SensorID)
			}
			bySensor[m.SensorID] = append(bySensor[m.SensorID], m)
		}
		for _, sensorID := range order {
			if err := w.sink.Write(sensorID, bySensor[sensorID]); err != nil {
				metrics.ReplicatorSinkFailures.WithLabelValues(sensorID).Inc()
				log.Errorf("replicator worker %d: sink write for %s failed: %v", w.idx, sensorID, err)
			}
		}
	}

	for {
		select {
		case <-w.done:
			flush()
			return
		case m := <-w.inbox:
			batch = append(batch, m)
			if len(batch) >= w.batchSize {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(w.batchTimeout)
			}
		case <-timer.C:
			flush()
			timer.Reset(w.batchTimeout)
		}
	}
}

func (w *worker) stop() {
	w.mu.Lock()
	for sensorID, cancel := range w.cancels {
		close(cancel)
		delete(w.cancels, sensorID)
	}
	w.mu.Unlock()
	w.sensorWg.Wait()

	close(w.done)
	w.wg.Wait()
}

// subscribeSensor forwards every measurement published on
// data:<sensorID> into this worker's shared inbox.
func (w *worker) subscribeSensor(bus *pubsub.Bus, sensorID string) {
	w.mu.Lock()
	if _, ok := w.cancels[sensorID]; ok {
		w.mu.Unlock()
		return
	}
	cancel := make(chan struct{})
	w.cancels[sensorID] = cancel
	w.mu.Unlock()

	sub := bus.Subscribe(topics.SensorData(sensorID))

	w.sensorWg.Add(1)
	go func() {
		defer w.sensorWg.Done()
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-cancel:
				return
			case msg, ok := <-sub.C():
				if !ok {
					return
				}
				// A message already buffered when SensorDown ran is
				// dropped, not forwarded.
				select {
				case <-cancel:
					return
				default:
				}
				batch, ok := msg.Payload.([]types.Measurement)
				if !ok {
					continue
				}
				for _, m := range batch {
					select {
					case w.inbox <- m:
					case <-cancel:
						return
					}
				}
			}
		}
	}()
}

func (w *worker) unsubscribeSensor(bus *pubsub.Bus, sensorID string) {
	w.mu.Lock()
	cancel, ok := w.cancels[sensorID]
	if ok {
		delete(w.cancels, sensorID)
	}
	w.mu.Unlock()

	if ok {
		close(cancel)
	}
}
