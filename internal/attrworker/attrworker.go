// Package attrworker implements the per-(sensor, attribute) producer/
// consumer pipeline: pull or accept raw samples, pace ingestion by
// attention × load, batch them, and hand batches to the owning sensor
// worker. Each Worker is one task with its own inbound mailbox and
// cancellation signal, per spec.md §9's task-and-mailbox runtime.
package attrworker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/adiibanez/sensocto/internal/attention"
	"github.com/adiibanez/sensocto/internal/loadmonitor"
	"github.com/adiibanez/sensocto/internal/pubsub"
	"github.com/adiibanez/sensocto/internal/topics"
	"github.com/adiibanez/sensocto/internal/types"
	"github.com/adiibanez/sensocto/pkg/log"
)

// RawSample is what a SampleSource hands back: an opaque payload and the
// delay the source recommends before the next pull, in milliseconds. A
// delay of 0 is a valid "as fast as possible" request from the source;
// the worker still enforces its own 50ms floor.
type RawSample struct {
	Payload any
	DelayMs int64
}

// SampleSource pulls a batch of raw samples for (sensorID, attributeID).
// Implementations are an external collaborator (spec.md §1); the core
// ships only internal/simulator as a demo implementation.
type SampleSource interface {
	PullBatch(sensorID, attributeID string) []RawSample
}

// Emitter hands a finished batch to the owning sensor worker. Decoupling
// this from a direct sensor-worker import avoids an import cycle between
// attrworker and sensorworker.
type Emitter interface {
	EmitBatch(sensorID, attributeID string, batch []types.Measurement)
}

// attentionMultiplier maps attention level to the ingestion throttle
// multiplier from spec.md §4.5.
var attentionMultiplier = map[types.AttentionLevel]float64{
	types.LevelHigh:   1.0,
	types.LevelMedium: 1.0,
	types.LevelLow:    4.0,
	types.LevelNone:   10.0,
}

const minDelayMs = 50

// Config carries a Worker's tunables, independent of its runtime
// collaborators.
type Config struct {
	BaseDelayMs       int64
	BaseBatchWindowMs int64
	BatchSize         int
}

// Worker is one attribute's ingestion pipeline.
type Worker struct {
	sensorID    string
	attributeID string
	connectorID string

	bus     *pubsub.Bus
	tracker *attention.Tracker
	loadMon *loadmonitor.Monitor
	source  SampleSource
	emitter Emitter

	sensorAlive func() bool

	cfg     Config
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	mu                 sync.Mutex
	paused             bool
	queue              []RawSample
	batch              []types.Measurement
	attentionLevel     types.AttentionLevel
	systemLoadLevel    types.LoadLevel
	currentBatchWindow time.Duration
}

// New constructs a Worker. sensorAlive is consulted at emission time; a
// nil sensorAlive is treated as always-alive (useful in isolated tests).
func New(sensorID, attributeID, connectorID string, bus *pubsub.Bus, tracker *attention.Tracker, loadMon *loadmonitor.Monitor, source SampleSource, emitter Emitter, sensorAlive func() bool, cfg Config) *Worker {
	if cfg.BaseDelayMs <= 0 {
		cfg.BaseDelayMs = minDelayMs
	}
	if cfg.BaseBatchWindowMs <= 0 {
		cfg.BaseBatchWindowMs = 500
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if sensorAlive == nil {
		sensorAlive = func() bool { return true }
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		sensorID:    sensorID,
		attributeID: attributeID,
		connectorID: connectorID,
		bus:         bus,
		tracker:     tracker,
		loadMon:     loadMon,
		source:      source,
		emitter:     emitter,
		sensorAlive: sensorAlive,
		cfg:         cfg,
		limiter:     rate.NewLimiter(rate.Every(time.Duration(cfg.BaseDelayMs)*time.Millisecond), 1),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	return w
}

// Start launches the worker's ingestion and window-timer loops, each in
// its own goroutine.
func (w *Worker) Start() {
	// Subscribe before reading the tracker, so a level change made right
	// after Start is not missed.
	attentionSensorSub := w.bus.Subscribe(topics.AttentionSensor(w.sensorID))
	attentionAttrSub := w.bus.Subscribe(topics.AttentionAttribute(w.sensorID, w.attributeID))
	loadSub := w.bus.Subscribe(topics.SystemLoad)

	w.mu.Lock()
	if w.tracker != nil {
		w.attentionLevel = w.tracker.GetAttentionLevel(w.sensorID, w.attributeID)
		w.currentBatchWindow = time.Duration(w.tracker.CalculateBatchWindow(w.cfg.BaseBatchWindowMs, w.sensorID, w.attributeID)) * time.Millisecond
	} else {
		w.attentionLevel = types.LevelNone
		w.currentBatchWindow = time.Duration(w.cfg.BaseBatchWindowMs*10) * time.Millisecond
	}
	if w.loadMon != nil {
		w.systemLoadLevel = w.loadMon.Current().Level
	}
	w.mu.Unlock()
	w.applyThrottle()

	w.wg.Add(2)
	go w.runIngest(attentionSensorSub, attentionAttrSub, loadSub)
	go w.runScheduler()

	go func() {
		w.wg.Wait()
		close(w.done)
	}()
}

// Stop cancels the worker and waits for both loops to exit.
func (w *Worker) Stop() {
	w.cancel()
	<-w.done
}

// Pause holds ingestion and emission: no samples are pulled or added to
// the batch, and any batch already buffered is not sent to the sensor
// worker until Resume.
func (w *Worker) Pause() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
}

func (w *Worker) Resume() {
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
}

// runIngest paces sample pulls via the rate limiter, per spec.md §4.5's
// throttled-pop formula: delay = base × attention_multiplier ×
// load_multiplier.
func (w *Worker) runIngest(attentionSensorSub, attentionAttrSub, loadSub *pubsub.Subscription) {
	defer w.wg.Done()

	defer w.bus.Unsubscribe(attentionSensorSub)
	defer w.bus.Unsubscribe(attentionAttrSub)
	defer w.bus.Unsubscribe(loadSub)

	for {
		if err := w.limiter.Wait(w.ctx); err != nil {
			return
		}
		if w.ctx.Err() != nil {
			return
		}

		select {
		case <-attentionSensorSub.C():
			w.recomputeWindow()
			continue
		case <-attentionAttrSub.C():
			w.recomputeWindow()
			continue
		case <-loadSub.C():
			w.recomputeWindow()
			continue
		default:
		}

		w.ingestOne()
	}
}

// runScheduler owns the batch-window timer: it fires a flush whether or
// not the batch is full, so low-attention attributes still emit at a
// bounded cadence.
func (w *Worker) runScheduler() {
	defer w.wg.Done()

	windowTimer := time.NewTimer(w.currentWindow())
	defer windowTimer.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-windowTimer.C:
			w.flush()
			windowTimer.Reset(w.currentWindow())
		}
	}
}

func (w *Worker) currentWindow() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentBatchWindow <= 0 {
		return 500 * time.Millisecond
	}
	return w.currentBatchWindow
}

func (w *Worker) recomputeWindow() {
	if w.tracker == nil {
		return
	}
	window := w.tracker.CalculateBatchWindow(w.cfg.BaseBatchWindowMs, w.sensorID, w.attributeID)
	level := w.tracker.GetAttentionLevel(w.sensorID, w.attributeID)

	w.mu.Lock()
	w.attentionLevel = level
	w.currentBatchWindow = time.Duration(window) * time.Millisecond
	if w.loadMon != nil {
		w.systemLoadLevel = w.loadMon.Current().Level
	}
	w.mu.Unlock()

	w.applyThrottle()
}

// applyThrottle recomputes the limiter's rate from the current attention
// and load levels and installs it immediately, so a level change takes
// effect on the very next pull rather than waiting for one to elapse.
func (w *Worker) applyThrottle() {
	w.mu.Lock()
	level := w.attentionLevel
	loadLevel := w.systemLoadLevel
	w.mu.Unlock()

	delay := w.throttledDelay(w.cfg.BaseDelayMs, level, loadLevel)
	w.limiter.SetLimit(rate.Every(delay))
}

func (w *Worker) throttledDelay(baseDelayMs int64, level types.AttentionLevel, loadLevel types.LoadLevel) time.Duration {
	if baseDelayMs < minDelayMs {
		baseDelayMs = minDelayMs
	}

	attnMult, ok := attentionMultiplier[level]
	if !ok {
		attnMult = attentionMultiplier[types.LevelNone]
	}
	loadMult := 1.0
	if w.loadMon != nil {
		loadMult = loadmonitor.Multiplier(loadLevel)
	}

	delayMs := float64(baseDelayMs) * attnMult * loadMult
	return time.Duration(delayMs) * time.Millisecond
}

// ingestOne pulls or refills from the queue, stamps and appends one
// sample, and flushes if the batch threshold is reached. A source's
// explicit DelayMs request, if larger than the computed throttle, is
// honored with an extra blocking wait.
func (w *Worker) ingestOne() {
	w.mu.Lock()
	paused := w.paused
	if len(w.queue) == 0 && !paused && w.source != nil {
		w.queue = append(w.queue, w.source.PullBatch(w.sensorID, w.attributeID)...)
	}
	if paused || len(w.queue) == 0 {
		w.mu.Unlock()
		return
	}

	sample := w.queue[0]
	w.queue = w.queue[1:]

	m := types.Measurement{
		SensorID:    w.sensorID,
		AttributeID: w.attributeID,
		TimestampMs: time.Now().UnixMilli(),
		Payload:     sample.Payload,
	}
	w.batch = append(w.batch, m)

	level := w.attentionLevel
	loadLevel := w.systemLoadLevel
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.mu.Unlock()

	if shouldFlush {
		w.flush()
	}

	computed := w.throttledDelay(w.cfg.BaseDelayMs, level, loadLevel)
	if requested := time.Duration(sample.DelayMs) * time.Millisecond; requested > computed {
		select {
		case <-time.After(requested - computed):
		case <-w.ctx.Done():
		}
	}
}

// flush emits the current batch if the sensor is alive and not paused,
// then clears it. A paused worker simply holds the batch for later.
func (w *Worker) flush() {
	w.mu.Lock()
	if w.paused {
		w.mu.Unlock()
		return
	}
	if len(w.batch) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.batch
	w.batch = nil
	w.mu.Unlock()

	if !w.sensorAlive() {
		log.Warnf("attrworker: %s/%s owning sensor unreachable, stopping", w.sensorID, w.attributeID)
		w.cancel()
		return
	}

	if w.emitter != nil {
		w.emitter.EmitBatch(w.sensorID, w.attributeID, batch)
	}
}
