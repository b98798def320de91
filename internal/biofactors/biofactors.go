// Package biofactors defines the pluggable "biomimetic" inputs to batch
// window calculation: novelty, predictive, competitive, and circadian
// factors. Each is optional; a nil provider contributes a neutral 1.0 so
// the core stays fully deterministic without them wired in.
package biofactors

// NoveltyFunc scores how novel recent activity on (sensorID, attributeID)
// is; higher means less novel, wider batching.
type NoveltyFunc func(sensorID, attributeID string) float64

// PredictiveFunc scores how predictable a sensor's stream has been.
type PredictiveFunc func(sensorID string) float64

// CompetitiveFunc scores contention for resources across sensors
// competing for attention/bandwidth.
type CompetitiveFunc func(sensorID string) float64

// CircadianFunc scores a global time-of-day factor.
type CircadianFunc func() float64

// Providers bundles the four factor functions. Any nil field is treated
// as a provider returning 1.0.
type Providers struct {
	Novelty     NoveltyFunc
	Predictive  PredictiveFunc
	Competitive CompetitiveFunc
	Circadian   CircadianFunc
}

// Neutral returns a Providers whose every factor is the identity 1.0,
// used when no biomimetic collaborator is wired in.
func Neutral() Providers {
	return Providers{}
}

func (p Providers) novelty(sensorID, attributeID string) float64 {
	if p.Novelty == nil {
		return 1.0
	}
	return p.Novelty(sensorID, attributeID)
}

func (p Providers) predictive(sensorID string) float64 {
	if p.Predictive == nil {
		return 1.0
	}
	return p.Predictive(sensorID)
}

func (p Providers) competitive(sensorID string) float64 {
	if p.Competitive == nil {
		return 1.0
	}
	return p.Competitive(sensorID)
}

func (p Providers) circadian() float64 {
	if p.Circadian == nil {
		return 1.0
	}
	return p.Circadian()
}

// Combined returns the product of all four factors for (sensorID,
// attributeID), the term plugged directly into calculate_batch_window.
func (p Providers) Combined(sensorID, attributeID string) float64 {
	return p.novelty(sensorID, attributeID) * p.predictive(sensorID) * p.competitive(sensorID) * p.circadian()
}
