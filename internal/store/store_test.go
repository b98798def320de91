package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adiibanez/sensocto/internal/types"
)

func meas(ts int64, v int) types.Measurement {
	return types.Measurement{SensorID: "s1", AttributeID: "a1", TimestampMs: ts, Payload: v}
}

func TestLimitsForRealtimeTypesAreFixed(t *testing.T) {
	for _, typ := range []string{"skeleton", "pose", "video_frame", "depth_map"} {
		hot, warm := limitsFor(typ, types.LoadNormal, DefaultHotLimit, DefaultWarmLimit)
		assert.Equal(t, 1, hot)
		assert.Equal(t, 0, warm)
	}
}

func TestLimitsForScalesByLoadAndClamps(t *testing.T) {
	hot, warm := limitsFor("numeric", types.LoadNormal, 1000, 60000)
	assert.Equal(t, 1000, hot)
	assert.Equal(t, 60000, warm)

	hot, warm = limitsFor("numeric", types.LoadCritical, 1000, 60000)
	assert.Equal(t, 200, hot)  // 1000*0.2
	assert.Equal(t, 3000, warm) // 60000*0.05

	// Clamp floor with small bases.
	hot, warm = limitsFor("numeric", types.LoadCritical, 20, 100)
	assert.Equal(t, minHotLimit, hot)
	assert.Equal(t, minWarmLimit, warm)
}

func TestPutAttributeHotTierHoldsMostRecent(t *testing.T) {
	s := New(10, 100)
	for i := 0; i < 25; i++ {
		s.PutAttribute("s1", "a1", "numeric", meas(int64(i), i))
	}

	hot := s.GetAttributes("s1", 0)["a1"]
	// After the last write, hot must never exceed 2x (=20) and after the
	// split on crossing it holds exactly hotLimit (=10) plus whatever was
	// appended since.
	assert.LessOrEqual(t, len(hot), 20)

	// Newest value must be the tail.
	assert.Equal(t, 24, hot[len(hot)-1].Payload)
}

func TestPutAttributeSpillsOverflowToWarmInOrder(t *testing.T) {
	s := New(5, 100)
	for i := 0; i < 11; i++ {
		s.PutAttribute("s1", "a1", "numeric", meas(int64(i), i))
	}

	all := s.GetAttributeExtended("s1", "a1", 0)
	require.Len(t, all, 11)
	for i, m := range all {
		assert.Equal(t, i, m.Payload)
	}
}

func TestGetAttributesReturnsLastLimitPerAttribute(t *testing.T) {
	s := New(100, 1000)
	for i := 0; i < 5; i++ {
		s.PutAttribute("s1", "temp", "numeric", meas(int64(i), i))
	}
	for i := 0; i < 3; i++ {
		s.PutAttribute("s1", "battery", "battery", meas(int64(i), i*10))
	}

	out := s.GetAttributes("s1", 2)
	require.Len(t, out["temp"], 2)
	assert.Equal(t, 3, out["temp"][0].Payload)
	assert.Equal(t, 4, out["temp"][1].Payload)
	require.Len(t, out["battery"], 2)
}

func TestGetAttributeFiltersByTimeRange(t *testing.T) {
	s := New(100, 1000)
	for i := int64(0); i < 10; i++ {
		s.PutAttribute("s1", "a1", "numeric", meas(i*1000, int(i)))
	}

	filtered := s.GetAttribute("s1", "a1", 3000, 6000, 0)
	require.Len(t, filtered, 4)
	assert.Equal(t, 3, filtered[0].Payload)
	assert.Equal(t, 6, filtered[len(filtered)-1].Payload)
}

func TestRemoveAttributeDeletesBothTiers(t *testing.T) {
	s := New(5, 100)
	for i := 0; i < 20; i++ {
		s.PutAttribute("s1", "a1", "numeric", meas(int64(i), i))
	}
	s.RemoveAttribute("s1", "a1")
	assert.Empty(t, s.GetAttributeExtended("s1", "a1", 0))
}

func TestCleanupRemovesSensorFromBookkeeping(t *testing.T) {
	s := New(10, 100)
	s.PutAttribute("s1", "a1", "numeric", meas(1, 1))
	assert.Contains(t, s.KnownSensors(), "s1")

	s.Cleanup("s1")
	assert.NotContains(t, s.KnownSensors(), "s1")
	assert.Empty(t, s.GetAttributes("s1", 0))
}

func TestClearAllWipesEverything(t *testing.T) {
	s := New(10, 100)
	s.PutAttribute("s1", "a1", "numeric", meas(1, 1))
	s.PutAttribute("s2", "a1", "numeric", meas(1, 1))

	s.ClearAll()
	assert.Empty(t, s.KnownSensors())
	assert.Empty(t, s.GetAttributes("s1", 0))
}

func TestGetAttributeUnknownKeyReturnsEmptyNotError(t *testing.T) {
	s := New(10, 100)
	assert.Nil(t, s.GetAttribute("ghost", "nope", 0, 0, 0))
}

func TestSetLoadLevelChangesSubsequentLimits(t *testing.T) {
	s := New(100, 1000)
	s.SetLoadLevel(types.LoadCritical)
	for i := 0; i < 50; i++ {
		s.PutAttribute("s1", "a1", "numeric", meas(int64(i), i))
	}
	hot := s.GetAttributes("s1", 0)["a1"]
	// hotLimit under critical with base 100 is 20 (100*0.2); 2x=40 ceiling.
	// At normal load (2x=200) all 50 would still be hot.
	assert.LessOrEqual(t, len(hot), 40)
}
