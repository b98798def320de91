// Package attention aggregates live viewer interest per (sensor,
// attribute) and derives an effective attention level and batch-window
// configuration. Writes are serialized through a single mutex (the
// package's single-writer discipline); reads of levels and configs hit a
// read-through cache sized for many concurrent readers, adapted from the
// teacher's pkg/lrucache.
package attention

import (
	"sync"
	"time"

	"github.com/adiibanez/sensocto/internal/biofactors"
	"github.com/adiibanez/sensocto/internal/loadmonitor"
	"github.com/adiibanez/sensocto/internal/metrics"
	"github.com/adiibanez/sensocto/internal/pubsub"
	"github.com/adiibanez/sensocto/internal/topics"
	"github.com/adiibanez/sensocto/internal/types"
	"github.com/adiibanez/sensocto/pkg/log"
	"github.com/adiibanez/sensocto/pkg/lrucache"
)

const (
	FocusBoostDuration = 5 * time.Second
	HoverBoostDuration = 2 * time.Second

	StaleSweepInterval = 30 * time.Second
	StaleAfter         = 60 * time.Second

	// cacheMaxEntries bounds the level cache by (sensor, attribute)
	// pair count.
	cacheMaxEntries = 1 << 20

	cacheTTL = StaleAfter
)

type batchWindowConfig struct {
	multiplier float64
	minMs      int64
	maxMs      int64
}

var batchWindowTable = map[types.AttentionLevel]batchWindowConfig{
	types.LevelHigh:   {multiplier: 0.2, minMs: 100, maxMs: 500},
	types.LevelMedium: {multiplier: 0.4, minMs: 150, maxMs: 500},
	types.LevelLow:    {multiplier: 4.0, minMs: 2000, maxMs: 10000},
	types.LevelNone:   {multiplier: 10.0, minMs: 5000, maxMs: 30000},
}

// batteryCap clips level to the ceiling implied by state: low caps at
// medium, critical caps at low, normal is uncapped.
func batteryCap(level types.AttentionLevel, state types.BatteryState) types.AttentionLevel {
	switch state {
	case types.BatteryCritical:
		if level > types.LevelLow {
			return types.LevelLow
		}
	case types.BatteryLow:
		if level > types.LevelMedium {
			return types.LevelMedium
		}
	}
	return level
}

type attributeRecord struct {
	viewers map[string]bool
	hovered map[string]bool
	focused map[string]bool

	focusBoostExpiry time.Time
	hoverBoostExpiry time.Time
	lastUpdated      time.Time

	focusTimer *time.Timer
	hoverTimer *time.Timer
}

func newAttributeRecord() *attributeRecord {
	return &attributeRecord{
		viewers: make(map[string]bool),
		hovered: make(map[string]bool),
		focused: make(map[string]bool),
	}
}

func (r *attributeRecord) empty() bool {
	return len(r.viewers) == 0 && len(r.hovered) == 0 && len(r.focused) == 0 &&
		r.focusBoostExpiry.IsZero() && r.hoverBoostExpiry.IsZero()
}

// Tracker is the attention tracker. Construct with New.
type Tracker struct {
	bus       *pubsub.Bus
	batteries map[string]types.BatteryState

	mu       sync.Mutex
	attrs    map[string]map[string]*attributeRecord // sensorID -> attributeID -> record
	pins     map[string]map[string]bool             // sensorID -> set of pinning users

	cache *lrucache.Cache[types.AttentionLevel]

	biofactors biofactors.Providers
	loadMon    *loadmonitor.Monitor
}

// New constructs a Tracker. loadMon may be nil, in which case the load
// multiplier defaults to 1.0.
func New(bus *pubsub.Bus, loadMon *loadmonitor.Monitor, providers biofactors.Providers) *Tracker {
	return &Tracker{
		bus:        bus,
		batteries:  make(map[string]types.BatteryState),
		attrs:      make(map[string]map[string]*attributeRecord),
		pins:       make(map[string]map[string]bool),
		cache:      lrucache.New[types.AttentionLevel](cacheMaxEntries),
		biofactors: providers,
		loadMon:    loadMon,
	}
}

func attrKey(sensorID, attributeID string) string { return sensorID + "\x00" + attributeID }

func (t *Tracker) getOrCreateRecord(sensorID, attributeID string) *attributeRecord {
	sensorAttrs := t.attrs[sensorID]
	if sensorAttrs == nil {
		sensorAttrs = make(map[string]*attributeRecord)
		t.attrs[sensorID] = sensorAttrs
	}
	r := sensorAttrs[attributeID]
	if r == nil {
		r = newAttributeRecord()
		sensorAttrs[attributeID] = r
	}
	return r
}

// RegisterView adds userID to the viewer set of (sensorID, attributeID).
func (t *Tracker) RegisterView(sensorID, attributeID, userID string) {
	t.mutate(sensorID, attributeID, func(r *attributeRecord) {
		r.viewers[userID] = true
	})
}

// UnregisterView removes userID from the viewer set.
func (t *Tracker) UnregisterView(sensorID, attributeID, userID string) {
	t.mutate(sensorID, attributeID, func(r *attributeRecord) {
		delete(r.viewers, userID)
	})
}

// RegisterHover adds userID to the hover set.
func (t *Tracker) RegisterHover(sensorID, attributeID, userID string) {
	t.mutate(sensorID, attributeID, func(r *attributeRecord) {
		r.hovered[userID] = true
	})
}

// UnregisterHover removes userID from the hover set and arms the hover
// boost decay timer.
func (t *Tracker) UnregisterHover(sensorID, attributeID, userID string) {
	t.mutate(sensorID, attributeID, func(r *attributeRecord) {
		delete(r.hovered, userID)
		r.hoverBoostExpiry = time.Now().Add(HoverBoostDuration)
		t.armBoostTimer(sensorID, attributeID, r, hoverKind)
	})
}

// RegisterFocus adds userID to the focus set.
func (t *Tracker) RegisterFocus(sensorID, attributeID, userID string) {
	t.mutate(sensorID, attributeID, func(r *attributeRecord) {
		r.focused[userID] = true
	})
}

// UnregisterFocus removes userID from the focus set and arms the focus
// boost decay timer.
func (t *Tracker) UnregisterFocus(sensorID, attributeID, userID string) {
	t.mutate(sensorID, attributeID, func(r *attributeRecord) {
		delete(r.focused, userID)
		r.focusBoostExpiry = time.Now().Add(FocusBoostDuration)
		t.armBoostTimer(sensorID, attributeID, r, focusKind)
	})
}

// PinSensor marks userID as pinning sensorID, forcing its attention level
// to high regardless of viewer activity.
func (t *Tracker) PinSensor(sensorID, userID string) {
	t.mu.Lock()
	if t.pins[sensorID] == nil {
		t.pins[sensorID] = make(map[string]bool)
	}
	t.pins[sensorID][userID] = true
	t.mu.Unlock()

	t.bus.Publish(topics.AttentionSensor(sensorID), types.LevelHigh)
}

// UnpinSensor removes userID's pin on sensorID.
func (t *Tracker) UnpinSensor(sensorID, userID string) {
	t.mu.Lock()
	if subs := t.pins[sensorID]; subs != nil {
		delete(subs, userID)
		if len(subs) == 0 {
			delete(t.pins, sensorID)
		}
	}
	t.mu.Unlock()
	t.recomputeAndBroadcastSensor(sensorID)
}

// UnregisterAll removes userID from every set and pin for sensorID,
// called on disconnect.
func (t *Tracker) UnregisterAll(sensorID, userID string) {
	t.mu.Lock()
	if subs := t.pins[sensorID]; subs != nil {
		delete(subs, userID)
	}
	attrs := t.attrs[sensorID]
	changed := make([]string, 0, len(attrs))
	for attributeID, r := range attrs {
		before := t.levelFromRecordLocked(r)
		delete(r.viewers, userID)
		delete(r.hovered, userID)
		delete(r.focused, userID)
		r.lastUpdated = time.Now()
		after := t.levelFromRecordLocked(r)
		if before != after {
			changed = append(changed, attributeID)
		}
		t.cache.Put(attrKey(sensorID, attributeID), after, cacheTTL)
	}
	t.mu.Unlock()

	for _, attributeID := range changed {
		t.bus.Publish(topics.AttentionAttribute(sensorID, attributeID), t.GetAttentionLevel(sensorID, attributeID))
	}
	t.recomputeAndBroadcastSensor(sensorID)
}

// ReportBatteryState updates userID's battery posture, which caps their
// future contribution to any attention level.
func (t *Tracker) ReportBatteryState(userID string, state types.BatteryState, _ map[string]any) {
	t.mu.Lock()
	t.batteries[userID] = state
	t.mu.Unlock()
}

type boostKind int

const (
	focusKind boostKind = iota
	hoverKind
)

// armBoostTimer must be called with t.mu held.
func (t *Tracker) armBoostTimer(sensorID, attributeID string, r *attributeRecord, kind boostKind) {
	var existing **time.Timer
	var duration time.Duration
	switch kind {
	case focusKind:
		existing = &r.focusTimer
		duration = FocusBoostDuration
	case hoverKind:
		existing = &r.hoverTimer
		duration = HoverBoostDuration
	}

	if *existing != nil {
		(*existing).Stop()
	}
	*existing = time.AfterFunc(duration, func() {
		t.onBoostExpire(sensorID, attributeID, kind)
	})
}

func (t *Tracker) onBoostExpire(sensorID, attributeID string, kind boostKind) {
	t.mu.Lock()
	attrs := t.attrs[sensorID]
	if attrs == nil {
		t.mu.Unlock()
		return
	}
	r := attrs[attributeID]
	if r == nil {
		t.mu.Unlock()
		return
	}

	// The timer fires only once the expiry instant has passed, so the
	// record alone no longer shows the boost; while it was active the
	// level was high.
	before := t.levelFromRecordLocked(r)
	switch kind {
	case focusKind:
		if !r.focusBoostExpiry.IsZero() {
			before = types.LevelHigh
		}
		r.focusBoostExpiry = time.Time{}
	case hoverKind:
		if !r.hoverBoostExpiry.IsZero() {
			before = types.LevelHigh
		}
		r.hoverBoostExpiry = time.Time{}
	}
	after := t.levelFromRecordLocked(r)
	t.cache.Put(attrKey(sensorID, attributeID), after, cacheTTL)
	t.mu.Unlock()

	if before != after {
		log.Debugf("attention: %s/%s level %s -> %s on boost expiry", sensorID, attributeID, before, after)
		metrics.AttentionLevelTransitions.WithLabelValues(after.String()).Inc()
		t.bus.Publish(topics.AttentionAttribute(sensorID, attributeID), after)
		t.recomputeAndBroadcastSensor(sensorID)
	}
}

// mutate runs fn against the record for (sensorID, attributeID) under the
// single writer lock, then recomputes and publishes on change.
func (t *Tracker) mutate(sensorID, attributeID string, fn func(*attributeRecord)) {
	t.mu.Lock()
	r := t.getOrCreateRecord(sensorID, attributeID)
	before := t.levelFromRecordLocked(r)
	fn(r)
	r.lastUpdated = time.Now()
	after := t.levelFromRecordLocked(r)
	t.cache.Put(attrKey(sensorID, attributeID), after, cacheTTL)
	t.mu.Unlock()

	if before != after {
		metrics.AttentionLevelTransitions.WithLabelValues(after.String()).Inc()
		t.bus.Publish(topics.AttentionAttribute(sensorID, attributeID), after)
		t.recomputeAndBroadcastSensor(sensorID)
	}
}

// levelFromRecordLocked computes the attribute-only level (no pin
// override). Caller must hold t.mu.
func (t *Tracker) levelFromRecordLocked(r *attributeRecord) types.AttentionLevel {
	if r == nil {
		return types.LevelNone
	}

	best := types.LevelNone
	now := time.Now()
	contributed := false

	contribute := func(level types.AttentionLevel, userID string) {
		contributed = true
		capped := batteryCap(level, t.batteries[userID])
		if capped > best {
			best = capped
		}
	}

	for userID := range r.focused {
		contribute(types.LevelHigh, userID)
	}
	for userID := range r.hovered {
		if !r.focused[userID] {
			contribute(types.LevelHigh, userID)
		}
	}
	for userID := range r.viewers {
		if !r.focused[userID] && !r.hovered[userID] {
			contribute(types.LevelMedium, userID)
		}
	}

	if !r.focusBoostExpiry.IsZero() && now.Before(r.focusBoostExpiry) {
		contributed = true
		if types.LevelHigh > best {
			best = types.LevelHigh
		}
	}
	if !r.hoverBoostExpiry.IsZero() && now.Before(r.hoverBoostExpiry) {
		contributed = true
		if types.LevelHigh > best {
			best = types.LevelHigh
		}
	}

	if !contributed {
		return types.LevelLow
	}
	return best
}

// isPinned reports whether sensorID has any active pin.
func (t *Tracker) isPinned(sensorID string) bool {
	pins := t.pins[sensorID]
	return len(pins) > 0
}

// GetAttentionLevel returns the effective level for (sensorID,
// attributeID): high unconditionally if the sensor is pinned, otherwise
// the cached attribute-record level.
func (t *Tracker) GetAttentionLevel(sensorID, attributeID string) types.AttentionLevel {
	t.mu.Lock()
	pinned := t.isPinned(sensorID)
	t.mu.Unlock()
	if pinned {
		return types.LevelHigh
	}

	key := attrKey(sensorID, attributeID)
	return t.cache.Get(key, func() (types.AttentionLevel, time.Duration) {
		t.mu.Lock()
		r := t.attrs[sensorID][attributeID]
		level := t.levelFromRecordLocked(r)
		t.mu.Unlock()
		return level, cacheTTL
	})
}

// GetSensorAttentionLevel returns the max attribute level for sensorID,
// with pin overriding to high.
func (t *Tracker) GetSensorAttentionLevel(sensorID string) types.AttentionLevel {
	t.mu.Lock()
	pinned := t.isPinned(sensorID)
	attrs := t.attrs[sensorID]
	attributeIDs := make([]string, 0, len(attrs))
	for attributeID := range attrs {
		attributeIDs = append(attributeIDs, attributeID)
	}
	t.mu.Unlock()

	if pinned {
		return types.LevelHigh
	}

	best := types.LevelNone
	for _, attributeID := range attributeIDs {
		level := t.GetAttentionLevel(sensorID, attributeID)
		if level > best {
			best = level
		}
	}
	return best
}

func (t *Tracker) recomputeAndBroadcastSensor(sensorID string) {
	t.bus.Publish(topics.AttentionSensor(sensorID), t.GetSensorAttentionLevel(sensorID))
}

// GetAttentionConfig returns the batch-window config for (sensorID,
// attributeID), falling back to the sensor-level rollup if the
// attribute-level is none.
func (t *Tracker) GetAttentionConfig(sensorID, attributeID string) types.AttentionConfig {
	level := t.GetAttentionLevel(sensorID, attributeID)
	if level == types.LevelNone {
		level = t.GetSensorAttentionLevel(sensorID)
	}
	cfg := batchWindowTable[level]
	return types.AttentionConfig{
		Multiplier: cfg.multiplier,
		MinWindow:  cfg.minMs,
		MaxWindow:  cfg.maxMs,
	}
}

// CalculateBatchWindow applies the attention config, system load
// multiplier, and biomimetic factors to baseMs and clamps to the
// governing config's bounds.
func (t *Tracker) CalculateBatchWindow(baseMs int64, sensorID, attributeID string) int64 {
	cfg := t.GetAttentionConfig(sensorID, attributeID)

	loadMultiplier := 1.0
	if t.loadMon != nil {
		loadMultiplier = t.loadMon.Current().Multiplier
		if loadMultiplier == 0 {
			loadMultiplier = 1.0
		}
	}

	adj := float64(baseMs) * cfg.Multiplier * loadMultiplier * t.biofactors.Combined(sensorID, attributeID)

	clamped := int64(adj)
	if clamped < cfg.MinWindow {
		clamped = cfg.MinWindow
	}
	if clamped > cfg.MaxWindow {
		clamped = cfg.MaxWindow
	}
	return clamped
}

// SweepStale removes attribute records whose last_updated is older than
// StaleAfter, dropping their cache entries too. Pin sets are exempt.
// Intended to be registered on the shared scheduler every
// StaleSweepInterval.
func (t *Tracker) SweepStale() {
	cutoff := time.Now().Add(-StaleAfter)

	t.mu.Lock()
	removed := 0
	for sensorID, attrs := range t.attrs {
		for attributeID, r := range attrs {
			if r.lastUpdated.Before(cutoff) {
				delete(attrs, attributeID)
				t.cache.Del(attrKey(sensorID, attributeID))
				removed++
			}
		}
		if len(attrs) == 0 {
			delete(t.attrs, sensorID)
		}
	}
	t.mu.Unlock()

	if removed > 0 {
		log.Debugf("attention: stale sweep removed %d records", removed)
	}
}

// ClearSensor drops every attribute record and pin for sensorID, evicting
// their cache entries. Called by the supervisor on remove_sensor.
func (t *Tracker) ClearSensor(sensorID string) {
	t.mu.Lock()
	for attributeID, r := range t.attrs[sensorID] {
		if r.focusTimer != nil {
			r.focusTimer.Stop()
		}
		if r.hoverTimer != nil {
			r.hoverTimer.Stop()
		}
		t.cache.Del(attrKey(sensorID, attributeID))
	}
	delete(t.attrs, sensorID)
	delete(t.pins, sensorID)
	t.mu.Unlock()
}
