// Package loadmonitor samples coarse host indicators on a fixed interval
// and derives a LoadLevel, publishing a LoadSample on system:load whenever
// the level changes. Every other component that scales its behavior with
// load (the store's retention caps, the attribute worker's pacing) reads
// the last published sample instead of sampling the host itself.
package loadmonitor

import (
	"runtime"
	"sync"
	"time"

	"github.com/adiibanez/sensocto/internal/metrics"
	"github.com/adiibanez/sensocto/internal/pubsub"
	"github.com/adiibanez/sensocto/internal/scheduler"
	"github.com/adiibanez/sensocto/internal/topics"
	"github.com/adiibanez/sensocto/internal/types"
	"github.com/adiibanez/sensocto/pkg/log"
)

// Thresholds on the scheduler-utilization proxy that cross into each
// level. Hysteresis is implemented by requiring a crossing in the
// opposite direction to drop back down (see sample).
const (
	elevatedThreshold = 0.50
	highThreshold     = 0.75
	criticalThreshold = 0.90
	hysteresis        = 0.05
)

var multiplierTable = map[types.LoadLevel]float64{
	types.LoadNormal:   1.0,
	types.LoadElevated: 1.5,
	types.LoadHigh:     3.0,
	types.LoadCritical: 5.0,
}

// SampleIndicatorsFunc returns a scheduler-utilization proxy in [0, 1].
// The default implementation derives it from the Go runtime's goroutine
// count and GC pause ratio; callers running against a real host may
// supply one backed by /proc or a cgroup controller instead.
type SampleIndicatorsFunc func() float64

// Monitor periodically samples and publishes system:load transitions.
type Monitor struct {
	bus      *pubsub.Bus
	interval time.Duration
	sampleFn SampleIndicatorsFunc

	mu    sync.RWMutex
	level types.LoadLevel
	last  types.LoadSample
}

// New constructs a Monitor publishing onto bus every interval (spec
// default ~1s). A nil sampleFn uses DefaultSampleIndicators.
func New(bus *pubsub.Bus, interval time.Duration, sampleFn SampleIndicatorsFunc) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	if sampleFn == nil {
		sampleFn = DefaultSampleIndicators
	}
	return &Monitor{
		bus:      bus,
		interval: interval,
		sampleFn: sampleFn,
		level:    types.LoadNormal,
	}
}

// DefaultSampleIndicators is a process-local proxy for host load: it
// blends the goroutine count (scaled against a nominal ceiling) with the
// fraction of available CPU time the runtime has spent in GC. Neither is a
// real host metric; this is intentionally conservative since the core
// has no privileged access to cgroup or /proc accounting.
func DefaultSampleIndicators() float64 {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	goroutines := float64(runtime.NumGoroutine())
	const nominalCeiling = 5000.0
	goroutinePressure := goroutines / nominalCeiling
	if goroutinePressure > 1.0 {
		goroutinePressure = 1.0
	}

	gcPressure := float64(mem.GCCPUFraction)
	if gcPressure > 1.0 {
		gcPressure = 1.0
	}

	utilization := 0.7*goroutinePressure + 0.3*gcPressure
	if utilization > 1.0 {
		utilization = 1.0
	}
	return utilization
}

// Start registers the sampling job on the shared scheduler. Call after
// scheduler.Start.
func (m *Monitor) Start() error {
	return scheduler.RegisterEvery("loadmonitor:sample", m.interval, m.sample)
}

func (m *Monitor) sample() {
	utilization := m.sampleFn()

	m.mu.Lock()
	next := nextLevel(m.level, utilization)
	changed := next != m.level
	if changed {
		m.level = next
	}
	m.last = types.LoadSample{
		Level:                next,
		Multiplier:           multiplierTable[next],
		SchedulerUtilization: utilization,
	}
	snapshot := m.last
	m.mu.Unlock()

	metrics.CurrentLoadMultiplier.Set(snapshot.Multiplier)

	if changed {
		log.Infof("loadmonitor: level transition -> %s (utilization=%.2f)", next, utilization)
		m.bus.Publish(topics.SystemLoad, snapshot)
	}
}

// nextLevel applies hysteresis: dropping a level requires the
// utilization to fall hysteresis below the threshold that raised it, so
// a value oscillating near a boundary does not flap.
func nextLevel(current types.LoadLevel, utilization float64) types.LoadLevel {
	switch current {
	case types.LoadCritical:
		if utilization < criticalThreshold-hysteresis {
			return levelFor(utilization)
		}
		return types.LoadCritical
	case types.LoadHigh:
		if utilization >= criticalThreshold {
			return types.LoadCritical
		}
		if utilization < highThreshold-hysteresis {
			return levelFor(utilization)
		}
		return types.LoadHigh
	case types.LoadElevated:
		if utilization >= highThreshold {
			return levelFor(utilization)
		}
		if utilization < elevatedThreshold-hysteresis {
			return types.LoadNormal
		}
		return types.LoadElevated
	default:
		return levelFor(utilization)
	}
}

func levelFor(utilization float64) types.LoadLevel {
	switch {
	case utilization >= criticalThreshold:
		return types.LoadCritical
	case utilization >= highThreshold:
		return types.LoadHigh
	case utilization >= elevatedThreshold:
		return types.LoadElevated
	default:
		return types.LoadNormal
	}
}

// Current returns the last computed sample. Safe for concurrent use by
// readers that do not subscribe to system:load.
func (m *Monitor) Current() types.LoadSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Multiplier looks up the multiplier for level, defaulting to 1.0 for an
// unrecognized value.
func Multiplier(level types.LoadLevel) float64 {
	if mult, ok := multiplierTable[level]; ok {
		return mult
	}
	return 1.0
}
