// Package sensorworker implements the per-sensor owner of attribute state:
// ingestion, attention-sharded broadcast, hibernation, and lifecycle
// announcements. One Worker exists per registered sensor, mirroring the
// teacher's one-goroutine-per-unit-of-work shape in
// internal/archiver/archiveWorker.go.
package sensorworker

import (
	"fmt"
	"sync"
	"time"

	"github.com/adiibanez/sensocto/internal/attention"
	"github.com/adiibanez/sensocto/internal/metrics"
	"github.com/adiibanez/sensocto/internal/pubsub"
	"github.com/adiibanez/sensocto/internal/store"
	"github.com/adiibanez/sensocto/internal/topics"
	"github.com/adiibanez/sensocto/internal/types"
	"github.com/adiibanez/sensocto/pkg/log"
)

// Notifier is the replicator's sensor_up/sensor_down seam; kept as an
// interface so sensorworker never imports internal/replicator directly.
type Notifier interface {
	SensorUp(sensorID string)
	SensorDown(sensorID string)
}

type noopNotifier struct{}

func (noopNotifier) SensorUp(string)   {}
func (noopNotifier) SensorDown(string) {}

type attributeMeta struct {
	AttrType     string
	RegisteredAt time.Time
}

// Config carries a Worker's tunables.
type Config struct {
	IdleCheckInterval  time.Duration
	HibernateAfter     time.Duration
	PriorityAttributes []string
}

// Worker owns one sensor's attribute registry, store writes, and
// attention-sharded broadcast.
type Worker struct {
	sensorID string

	bus      *pubsub.Bus
	store    *store.Store
	tracker  *attention.Tracker
	notifier Notifier
	priority map[string]bool

	cfg Config

	ctx      chan struct{} // closed on Stop, used as a cancellation broadcast
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once

	mu             sync.RWMutex
	meta           types.SensorMeta
	attributes     map[string]attributeMeta
	attentionLevel types.AttentionLevel
	lastActivityAt time.Time
	hibernating    bool
}

// New constructs a Worker. notifier may be nil, in which case sensor_up/
// sensor_down announcements are no-ops (useful when the replicator isn't
// wired in, e.g. in tests).
func New(sensorID string, meta types.SensorMeta, bus *pubsub.Bus, st *store.Store, tracker *attention.Tracker, notifier Notifier, cfg Config) *Worker {
	if cfg.IdleCheckInterval <= 0 {
		cfg.IdleCheckInterval = 60 * time.Second
	}
	if cfg.HibernateAfter <= 0 {
		cfg.HibernateAfter = 5 * time.Minute
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}

	priority := make(map[string]bool, len(cfg.PriorityAttributes))
	for _, a := range cfg.PriorityAttributes {
		priority[a] = true
	}

	meta.SensorID = sensorID
	w := &Worker{
		sensorID:       sensorID,
		bus:            bus,
		store:          st,
		tracker:        tracker,
		notifier:       notifier,
		priority:       priority,
		cfg:            cfg,
		ctx:            make(chan struct{}),
		done:           make(chan struct{}),
		meta:           meta,
		attributes:     make(map[string]attributeMeta),
		lastActivityAt: time.Now(),
	}
	return w
}

// Start launches the worker's attention-subscription/hibernation loop and
// schedules the deferred post-init announcement. Per spec.md §4.6, init's
// synchronous path never blocks on external side effects.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()

	go func() {
		w.bus.Publish(topics.DiscoverySensors, topics.SensorLifecycleEvent{SensorID: w.sensorID})
		w.notifier.SensorUp(w.sensorID)
	}()
}

// Stop terminates the worker: broadcasts sensor_unregistered, notifies the
// replicator, and cleans up the store. Idempotent.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.ctx)
		<-w.done

		w.bus.Publish(topics.DiscoverySensors, topics.SensorLifecycleEvent{SensorID: w.sensorID, Unregistered: true})
		w.notifier.SensorDown(w.sensorID)
		w.store.Cleanup(w.sensorID)
	})
}

func (w *Worker) run() {
	defer w.wg.Done()
	defer close(w.done)

	attnSub := w.bus.Subscribe(topics.AttentionSensor(w.sensorID))
	defer w.bus.Unsubscribe(attnSub)

	ticker := time.NewTicker(w.cfg.IdleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx:
			return
		case msg := <-attnSub.C():
			if level, ok := msg.Payload.(types.AttentionLevel); ok {
				w.mu.Lock()
				w.attentionLevel = level
				w.mu.Unlock()
			}
		case <-ticker.C:
			w.checkHibernation()
		}
	}
}

func (w *Worker) checkHibernation() {
	w.mu.Lock()
	defer w.mu.Unlock()

	idle := time.Since(w.lastActivityAt)
	eligible := w.attentionLevel == types.LevelLow || w.attentionLevel == types.LevelNone
	if eligible && idle >= w.cfg.HibernateAfter && !w.hibernating {
		w.hibernating = true
		log.Infof("sensorworker %s: hibernating after %s idle at attention=%s", w.sensorID, idle.Round(time.Second), w.attentionLevel)
	}
}

func (w *Worker) touch() {
	w.mu.Lock()
	w.lastActivityAt = time.Now()
	wasHibernating := w.hibernating
	w.hibernating = false
	w.mu.Unlock()

	if wasHibernating {
		log.Infof("sensorworker %s: woke from hibernation", w.sensorID)
	}
}

func (w *Worker) registerAttribute(attributeID, attrType string) {
	w.mu.Lock()
	if _, ok := w.attributes[attributeID]; !ok {
		w.attributes[attributeID] = attributeMeta{AttrType: attrType, RegisteredAt: time.Now()}
		w.meta.Attributes = append(w.meta.Attributes, attributeID)
	}
	w.mu.Unlock()
}

func (w *Worker) attrTypeFor(attributeID string, sample any) string {
	w.mu.RLock()
	existing, ok := w.attributes[attributeID]
	w.mu.RUnlock()
	if ok && existing.AttrType != "" {
		return existing.AttrType
	}
	return inferType(attributeID, sample)
}

// PutAttribute ingests a single measurement for attributeID, auto-
// registering it if unseen, per spec.md §4.6.
func (w *Worker) PutAttribute(attributeID string, m types.Measurement) {
	attrType := w.attrTypeFor(attributeID, m.Payload)
	w.registerAttribute(attributeID, attrType)
	w.store.PutAttribute(w.sensorID, attributeID, attrType, m)
	metrics.MeasurementsIngested.WithLabelValues(w.sensorID).Inc()
	w.touch()
	w.broadcast(attributeID, []types.Measurement{m})
}

// PutBatchAttributes ingests a heterogeneous batch (possibly spanning
// multiple attributes), applying the same auto-registration and
// attention-sharded broadcast policy as PutAttribute.
func (w *Worker) PutBatchAttributes(measurements []types.Measurement) {
	if len(measurements) == 0 {
		return
	}

	byAttribute := make(map[string][]types.Measurement)
	order := make([]string, 0)
	for _, m := range measurements {
		if _, ok := byAttribute[m.AttributeID]; !ok {
			order = append(order, m.AttributeID)
		}
		byAttribute[m.AttributeID] = append(byAttribute[m.AttributeID], m)
	}

	for _, attributeID := range order {
		ms := byAttribute[attributeID]
		attrType := w.attrTypeFor(attributeID, ms[0].Payload)
		w.registerAttribute(attributeID, attrType)
		for _, m := range ms {
			w.store.PutAttribute(w.sensorID, attributeID, attrType, m)
		}
		metrics.MeasurementsIngested.WithLabelValues(w.sensorID).Add(float64(len(ms)))
	}
	w.touch()

	anyPriority := false
	w.mu.RLock()
	for _, attributeID := range order {
		if w.priority[attributeID] {
			anyPriority = true
			break
		}
	}
	w.mu.RUnlock()

	w.broadcastBatch(measurements, anyPriority)
}

// EmitBatch implements attrworker.Emitter: the attribute worker for
// (sensorID, attributeID) hands its finished batch here.
func (w *Worker) EmitBatch(sensorID, attributeID string, batch []types.Measurement) {
	if sensorID != w.sensorID || len(batch) == 0 {
		return
	}

	attrType := w.attrTypeFor(attributeID, batch[0].Payload)
	w.registerAttribute(attributeID, attrType)
	for _, m := range batch {
		w.store.PutAttribute(w.sensorID, attributeID, attrType, m)
	}
	metrics.MeasurementsIngested.WithLabelValues(w.sensorID).Add(float64(len(batch)))
	metrics.BatchesEmitted.WithLabelValues(w.sensorID, attributeID).Inc()
	w.touch()
	w.broadcast(attributeID, batch)
}

// ClearAttribute drops an attribute from both the store and the local
// registry.
func (w *Worker) ClearAttribute(attributeID string) {
	w.store.RemoveAttribute(w.sensorID, attributeID)

	w.mu.Lock()
	delete(w.attributes, attributeID)
	for i, a := range w.meta.Attributes {
		if a == attributeID {
			w.meta.Attributes = append(w.meta.Attributes[:i], w.meta.Attributes[i+1:]...)
			break
		}
	}
	w.mu.Unlock()

	w.bus.Publish(topics.Signal(w.sensorID), fmt.Sprintf("attribute_unregistered:%s", attributeID))
}

// UpdateAttributeRegistry registers or unregisters attributeID and
// broadcasts the change on signal:<sensor>.
func (w *Worker) UpdateAttributeRegistry(register bool, attributeID, attrType string) {
	if register {
		w.registerAttribute(attributeID, attrType)
		w.bus.Publish(topics.Signal(w.sensorID), fmt.Sprintf("attribute_registered:%s", attributeID))
		return
	}
	w.ClearAttribute(attributeID)
}

// UpdateConnectorName updates the sensor's connector metadata and
// broadcasts the change on signal:<sensor>.
func (w *Worker) UpdateConnectorName(name string) {
	w.mu.Lock()
	w.meta.ConnectorName = name
	w.mu.Unlock()
	w.bus.Publish(topics.Signal(w.sensorID), fmt.Sprintf("connector_renamed:%s", name))
}

// GetState returns a snapshot: metadata plus the last n entries per
// attribute.
func (w *Worker) GetState(n int) types.SensorState {
	w.mu.RLock()
	meta := w.meta
	meta.Attributes = append([]string(nil), w.meta.Attributes...)
	w.mu.RUnlock()

	return types.SensorState{
		SensorID:   w.sensorID,
		Meta:       meta,
		Attributes: w.store.GetAttributes(w.sensorID, n),
	}
}

// AttentionLevel returns the worker's last-known sensor-level attention.
func (w *Worker) AttentionLevel() types.AttentionLevel {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.attentionLevel
}

func (w *Worker) broadcast(attributeID string, batch []types.Measurement) {
	w.mu.RLock()
	level := w.attentionLevel
	isPriority := w.priority[attributeID]
	w.mu.RUnlock()

	w.bus.Publish(topics.SensorData(w.sensorID), batch)

	if level != types.LevelNone {
		w.bus.Publish(topics.AttentionShard(level.String()), batch)
	} else if isPriority {
		// Priority attributes must never be silently dropped when no
		// viewers are present.
		w.bus.Publish(topics.AttentionShard(types.LevelHigh.String()), batch)
	}
}

func (w *Worker) broadcastBatch(batch []types.Measurement, forcePriority bool) {
	w.mu.RLock()
	level := w.attentionLevel
	w.mu.RUnlock()

	w.bus.Publish(topics.SensorData(w.sensorID), batch)

	if level != types.LevelNone {
		w.bus.Publish(topics.AttentionShard(level.String()), batch)
	} else if forcePriority {
		w.bus.Publish(topics.AttentionShard(types.LevelHigh.String()), batch)
	}
}

var realtimeTypeHints = []string{"skeleton", "pose", "video_frame", "depth_map"}

// inferType guesses an attribute's type from its id or, failing that, its
// payload's Go type. Explicit registration always wins (see attrTypeFor);
// this is only the fallback for unseen attributes with no declared type.
func inferType(attributeID string, payload any) string {
	for _, hint := range realtimeTypeHints {
		if attributeID == hint {
			return hint
		}
	}

	switch payload.(type) {
	case float32, float64, int, int32, int64:
		return "number"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	default:
		return "scalar"
	}
}
