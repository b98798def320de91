// Package simulator is the demo sample generator: a toy
// attrworker.SampleSource plus a small driver that spawns simulated
// sensors through a supervisor and wires an attrworker.Worker for each of
// their attributes. Per spec.md §1, generating realistic sensor values is
// out of scope; this exists only to exercise the supervisor → sensor
// worker → attribute worker → store/pubsub path end-to-end (SPEC_FULL.md
// §5, "Demo wiring").
package simulator

import (
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"github.com/adiibanez/sensocto/internal/attention"
	"github.com/adiibanez/sensocto/internal/attrworker"
	"github.com/adiibanez/sensocto/internal/loadmonitor"
	"github.com/adiibanez/sensocto/internal/pubsub"
	"github.com/adiibanez/sensocto/internal/supervisor"
	"github.com/adiibanez/sensocto/internal/types"
)

// Generator implements attrworker.SampleSource: a counter-like attribute
// (its id containing "count") gets a monotonically increasing value,
// anything else gets a random walk whose steps are drawn from [-1, 1); the
// walk itself is not clamped. Neither models any real
// sensor domain; both exist only to drive batching and backpressure.
type Generator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	counters map[string]float64
	walks    map[string]float64
}

// NewGenerator constructs a Generator seeded with seed, so a demo run can
// be made reproducible when the caller wants that.
func NewGenerator(seed int64) *Generator {
	return &Generator{
		rng:      rand.New(rand.NewSource(seed)),
		counters: make(map[string]float64),
		walks:    make(map[string]float64),
	}
}

// PullBatch returns exactly one sample per call; the attrworker's own
// rate limiter paces how often it calls back in, so the source does not
// need to self-throttle.
func (g *Generator) PullBatch(sensorID, attributeID string) []attrworker.RawSample {
	key := sensorID + "/" + attributeID

	g.mu.Lock()
	defer g.mu.Unlock()

	var payload float64
	if isCounterAttribute(attributeID) {
		g.counters[key]++
		payload = g.counters[key]
	} else {
		g.walks[key] += (g.rng.Float64() - 0.5) * 2
		payload = g.walks[key]
	}

	return []attrworker.RawSample{{Payload: payload, DelayMs: 0}}
}

func isCounterAttribute(attributeID string) bool {
	return strings.Contains(attributeID, "count")
}

// SensorSpec describes one demo sensor to spawn.
type SensorSpec struct {
	SensorID   string
	SensorName string
	SensorType string
	Attributes []string
}

// Simulator owns every attrworker.Worker it has spawned, so Stop can tear
// them down independently of the sensors they feed.
type Simulator struct {
	sup     *supervisor.Supervisor
	bus     *pubsub.Bus
	tracker *attention.Tracker
	loadMon *loadmonitor.Monitor
	source  attrworker.SampleSource
	cfg     attrworker.Config

	mu      sync.Mutex
	workers []*attrworker.Worker
}

// New constructs a Simulator. A nil source defaults to a Generator seeded
// from seed.
func New(sup *supervisor.Supervisor, bus *pubsub.Bus, tracker *attention.Tracker, loadMon *loadmonitor.Monitor, source attrworker.SampleSource, cfg attrworker.Config, seed int64) *Simulator {
	if source == nil {
		source = NewGenerator(seed)
	}
	return &Simulator{
		sup:     sup,
		bus:     bus,
		tracker: tracker,
		loadMon: loadMon,
		source:  source,
		cfg:     cfg,
	}
}

// Spawn starts spec's sensor on the supervisor (idempotent, per
// supervisor.AddSensor) and an attrworker.Worker per attribute, each using
// the supervisor's sensor worker as its Emitter and the supervisor's live
// registration as its liveness check.
func (s *Simulator) Spawn(spec SensorSpec) {
	meta := types.SensorMeta{
		SensorName: spec.SensorName,
		SensorType: spec.SensorType,
	}
	s.sup.AddSensor(spec.SensorID, meta)

	emitter, ok := s.sup.Worker(spec.SensorID)
	if !ok {
		return
	}

	sensorID := spec.SensorID
	sensorAlive := func() bool {
		_, alive := s.sup.Worker(sensorID)
		return alive
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, attributeID := range spec.Attributes {
		w := attrworker.New(sensorID, attributeID, "simulator", s.bus, s.tracker, s.loadMon, s.source, emitter, sensorAlive, s.cfg)
		w.Start()
		s.workers = append(s.workers, w)
	}
}

// SpawnAll spawns every spec in specs.
func (s *Simulator) SpawnAll(specs []SensorSpec) {
	for _, spec := range specs {
		s.Spawn(spec)
	}
}

// Stop terminates every spawned attribute worker. The sensors themselves
// are left running; callers that also want them removed should call
// Supervisor.RemoveSensor.
func (s *Simulator) Stop() {
	s.mu.Lock()
	workers := s.workers
	s.workers = nil
	s.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
}

// DefaultSpecs builds n numbered demo sensors, each carrying attributes.
func DefaultSpecs(n int, attributes []string) []SensorSpec {
	if len(attributes) == 0 {
		attributes = []string{"heart_rate", "step_counter", "button"}
	}
	specs := make([]SensorSpec, 0, n)
	for i := 0; i < n; i++ {
		id := "sim-sensor-" + strconv.Itoa(i)
		specs = append(specs, SensorSpec{
			SensorID:   id,
			SensorName: id,
			SensorType: "simulated",
			Attributes: attributes,
		})
	}
	return specs
}
