// Package store is the tiered, in-memory attribute store: a lock-light
// hot/warm ring of recent measurements per (sensor_id, attribute_id), with
// retention caps that shrink under system load. It is a cache, not a
// source of truth — failures are absorbed, never surfaced, the same
// posture as the teacher's internal/memorystore.
package store

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adiibanez/sensocto/internal/metrics"
	"github.com/adiibanez/sensocto/internal/types"
)

// Base limits, overridable via internal/config. Final per-write limits are
// these scaled by the load multiplier table below and clamped.
const (
	DefaultHotLimit  = 1000
	DefaultWarmLimit = 60000

	minHotLimit  = 10
	minWarmLimit = 100

	// maxTrackedSensors bounds the bookkeeping set independent of how
	// many sensors are actually live; eviction here only drops an entry
	// from the KnownSensors set, never stored measurements.
	maxTrackedSensors = 100000
)

// realtimeOnlyTypes never retain backlog: each new sample supersedes the
// last, so hot holds exactly the latest value and nothing spills to warm.
var realtimeOnlyTypes = map[string]bool{
	"skeleton":    true,
	"pose":        true,
	"video_frame": true,
	"depth_map":   true,
}

type loadFactors struct {
	hot  float64
	warm float64
}

var loadMultiplierTable = map[types.LoadLevel]loadFactors{
	types.LoadNormal:   {hot: 1.0, warm: 1.0},
	types.LoadElevated: {hot: 0.8, warm: 0.5},
	types.LoadHigh:     {hot: 0.4, warm: 0.2},
	types.LoadCritical: {hot: 0.2, warm: 0.05},
}

// limitsFor resolves the effective hot/warm caps for attrType at the
// given load level, given configured base limits.
func limitsFor(attrType string, level types.LoadLevel, hotBase, warmBase int) (hotLimit, warmLimit int) {
	if realtimeOnlyTypes[attrType] {
		return 1, 0
	}

	factors, ok := loadMultiplierTable[level]
	if !ok {
		factors = loadMultiplierTable[types.LoadNormal]
	}

	hotLimit = int(float64(hotBase) * factors.hot)
	warmLimit = int(float64(warmBase) * factors.warm)

	if hotLimit < minHotLimit {
		hotLimit = minHotLimit
	}
	if warmLimit < minWarmLimit {
		warmLimit = minWarmLimit
	}
	return hotLimit, warmLimit
}

// entry is the tier pair for one (sensor_id, attribute_id). hot and warm
// are kept in insertion order (oldest first, newest at the tail);
// GetAttribute sorts by timestamp when that order is not already
// ascending. Appending is O(1) amortized and the trim step below only
// reallocates once every hotLimit writes.
type entry struct {
	mu          sync.Mutex
	hot         []types.Measurement
	warm        []types.Measurement
	attrType    string
	updatedAtMs int64
}

// Store is the top-level tiered attribute store. The zero value is not
// usable; construct with New.
type Store struct {
	hotBase  int
	warmBase int

	mu      sync.RWMutex
	tables  map[string]map[string]*entry
	sensors *lru.Cache[string, struct{}]

	loadMu    sync.RWMutex
	loadLevel types.LoadLevel
}

// New constructs an empty Store using hotBase/warmBase as the
// unscaled per-(sensor,attribute) limits.
func New(hotBase, warmBase int) *Store {
	if hotBase <= 0 {
		hotBase = DefaultHotLimit
	}
	if warmBase <= 0 {
		warmBase = DefaultWarmLimit
	}
	sensors, err := lru.New[string, struct{}](maxTrackedSensors)
	if err != nil {
		// Only returns an error for a non-positive size, which never
		// happens here.
		panic(err)
	}
	return &Store{
		hotBase:  hotBase,
		warmBase: warmBase,
		tables:   make(map[string]map[string]*entry),
		sensors:  sensors,
	}
}

// SetLoadLevel updates the level used to scale retention caps on
// subsequent writes. Called by the load monitor's system:load subscriber.
func (s *Store) SetLoadLevel(level types.LoadLevel) {
	s.loadMu.Lock()
	s.loadLevel = level
	s.loadMu.Unlock()
}

func (s *Store) currentLoadLevel() types.LoadLevel {
	s.loadMu.RLock()
	defer s.loadMu.RUnlock()
	return s.loadLevel
}

func (s *Store) getOrCreateEntry(sensorID, attributeID, attrType string) *entry {
	s.mu.RLock()
	attrs := s.tables[sensorID]
	if attrs != nil {
		if e, ok := attrs[attributeID]; ok {
			s.mu.RUnlock()
			return e
		}
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	attrs = s.tables[sensorID]
	if attrs == nil {
		attrs = make(map[string]*entry)
		s.tables[sensorID] = attrs
	}
	if e, ok := attrs[attributeID]; ok {
		return e
	}
	e := &entry{attrType: attrType}
	attrs[attributeID] = e
	return e
}

// PutAttribute appends m to the hot tier for (sensorID, attributeID),
// splitting overflow into warm once the tier crosses 2x its current
// limit. attrType selects the retention limits (see limitsFor).
func (s *Store) PutAttribute(sensorID, attributeID, attrType string, m types.Measurement) {
	s.sensors.Add(sensorID, struct{}{})

	e := s.getOrCreateEntry(sensorID, attributeID, attrType)
	hotLimit, warmLimit := limitsFor(attrType, s.currentLoadLevel(), s.hotBase, s.warmBase)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.attrType = attrType
	e.hot = append(e.hot, m)
	e.updatedAtMs = m.TimestampMs

	if len(e.hot) > 2*hotLimit {
		overflowCount := len(e.hot) - hotLimit
		overflow := make([]types.Measurement, overflowCount)
		copy(overflow, e.hot[:overflowCount])

		kept := make([]types.Measurement, hotLimit)
		copy(kept, e.hot[overflowCount:])
		e.hot = kept

		if warmLimit > 0 {
			e.warm = append(e.warm, overflow...)
			if len(e.warm) > warmLimit {
				evicted := len(e.warm) - warmLimit
				e.warm = e.warm[evicted:]
				metrics.StoreEvictions.WithLabelValues(sensorID, attributeID).Add(float64(evicted))
			}
		} else {
			metrics.StoreEvictions.WithLabelValues(sensorID, attributeID).Add(float64(overflowCount))
		}
	}
}

// GetAttributes returns, for every attribute of sensorID, the last limit
// hot entries (newest last). A limit <= 0 returns the full hot tier.
func (s *Store) GetAttributes(sensorID string, limit int) map[string][]types.Measurement {
	s.mu.RLock()
	attrs := s.tables[sensorID]
	entries := make(map[string]*entry, len(attrs))
	for attributeID, e := range attrs {
		entries[attributeID] = e
	}
	s.mu.RUnlock()

	out := make(map[string][]types.Measurement, len(entries))
	for attributeID, e := range entries {
		e.mu.Lock()
		out[attributeID] = tail(e.hot, limit)
		e.mu.Unlock()
	}
	return out
}

// GetAttribute merges hot and warm for (sensorID, attributeID), optionally
// restricted to [fromMs, toMs] (either bound may be zero to mean
// unbounded), and returns the last limit entries ascending by timestamp.
func (s *Store) GetAttribute(sensorID, attributeID string, fromMs, toMs int64, limit int) []types.Measurement {
	e := s.lookup(sensorID, attributeID)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	merged := make([]types.Measurement, 0, len(e.warm)+len(e.hot))
	merged = append(merged, e.warm...)
	merged = append(merged, e.hot...)
	e.mu.Unlock()

	if !isSortedByTimestamp(merged) {
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].TimestampMs < merged[j].TimestampMs
		})
	}

	if fromMs != 0 || toMs != 0 {
		merged = filterByTime(merged, fromMs, toMs)
	}

	return tail(merged, limit)
}

// GetAttributeExtended is GetAttribute without time filtering.
func (s *Store) GetAttributeExtended(sensorID, attributeID string, limit int) []types.Measurement {
	return s.GetAttribute(sensorID, attributeID, 0, 0, limit)
}

// RemoveAttribute deletes both tiers for (sensorID, attributeID).
func (s *Store) RemoveAttribute(sensorID, attributeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attrs := s.tables[sensorID]
	if attrs == nil {
		return
	}
	delete(attrs, attributeID)
	if len(attrs) == 0 {
		delete(s.tables, sensorID)
	}
}

// Cleanup removes every attribute of sensorID and its sensors-table entry.
func (s *Store) Cleanup(sensorID string) {
	s.mu.Lock()
	delete(s.tables, sensorID)
	s.mu.Unlock()
	s.sensors.Remove(sensorID)
}

// ClearAll wipes every table. Intended for tests and full resets.
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.tables = make(map[string]map[string]*entry)
	s.mu.Unlock()
	s.sensors.Purge()
}

// KnownSensors returns the bookkeeping set of sensors that have received
// at least one write and have not since been cleaned up.
func (s *Store) KnownSensors() []string {
	return s.sensors.Keys()
}

func (s *Store) lookup(sensorID, attributeID string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attrs := s.tables[sensorID]
	if attrs == nil {
		return nil
	}
	return attrs[attributeID]
}

func tail(xs []types.Measurement, limit int) []types.Measurement {
	if limit <= 0 || limit >= len(xs) {
		out := make([]types.Measurement, len(xs))
		copy(out, xs)
		return out
	}
	out := make([]types.Measurement, limit)
	copy(out, xs[len(xs)-limit:])
	return out
}

func filterByTime(xs []types.Measurement, fromMs, toMs int64) []types.Measurement {
	out := xs[:0:0]
	for _, m := range xs {
		if fromMs != 0 && m.TimestampMs < fromMs {
			continue
		}
		if toMs != 0 && m.TimestampMs > toMs {
			continue
		}
		out = append(out, m)
	}
	return out
}

func isSortedByTimestamp(xs []types.Measurement) bool {
	for i := 1; i < len(xs); i++ {
		if xs[i].TimestampMs < xs[i-1].TimestampMs {
			return false
		}
	}
	return true
}

// Now is a small seam so tests can stamp deterministic timestamps; the
// store itself never calls it; callers stamp Measurement.TimestampMs.
var Now = func() int64 { return time.Now().UnixMilli() }
