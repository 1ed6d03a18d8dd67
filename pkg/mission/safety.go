package mission

import (
	"fmt"
	"strings"
	"sync"
)

// RiskLevel grades a safety assessment
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Assessment is the answer of a safety gate
type Assessment struct {
	Safe      bool      `json:"safe"`
	RiskLevel RiskLevel `json:"riskLevel"`
	Reasons   []string  `json:"reasons,omitempty"`
}

// SafetyGate decides whether takeoff or landing is permitted at a
// coordinate. Implementations must be fast and side-effect free; they are
// called while the mission lock is held.
type SafetyGate interface {
	CheckSafety(lat, lng float64) Assessment
}

// GateFunc adapts a function to SafetyGate
type GateFunc func(lat, lng float64) Assessment

func (f GateFunc) CheckSafety(lat, lng float64) Assessment { return f(lat, lng) }

// AlwaysSafe is a gate that never blocks
var AlwaysSafe SafetyGate = GateFunc(func(float64, float64) Assessment {
	return Assessment{Safe: true, RiskLevel: RiskLow}
})

// Conditions is a weather observation
type Conditions struct {
	WindSpeedMps      float64 `yaml:"wind_speed_mps" json:"windSpeedMps"`
	VisibilityMeters  float64 `yaml:"visibility_meters" json:"visibilityMeters"`
	PrecipitationMmHr float64 `yaml:"precipitation_mm_hr" json:"precipitationMmHr"`
	TemperatureC      float64 `yaml:"temperature_c" json:"temperatureC"`
}

// Thresholds are the flight limits of a drone profile
type Thresholds struct {
	MaxWindSpeedMps      float64
	MinVisibilityMeters  float64
	MaxPrecipitationMmHr float64
	MinTemperatureC      float64
	MaxTemperatureC      float64
}

// Profiles holds the limits per drone type
var Profiles = map[string]Thresholds{
	"standard": {MaxWindSpeedMps: 15, MinVisibilityMeters: 5000, MaxPrecipitationMmHr: 5, MinTemperatureC: -10, MaxTemperatureC: 45},
	"heavy":    {MaxWindSpeedMps: 12, MinVisibilityMeters: 8000, MaxPrecipitationMmHr: 3, MinTemperatureC: -5, MaxTemperatureC: 40},
	"light":    {MaxWindSpeedMps: 18, MinVisibilityMeters: 3000, MaxPrecipitationMmHr: 8, MinTemperatureC: -15, MaxTemperatureC: 50},
}

// ProfileThresholds looks up a profile, falling back to standard
func ProfileThresholds(name string) Thresholds {
	if t, ok := Profiles[strings.ToLower(name)]; ok {
		return t
	}
	return Profiles["standard"]
}

// Evaluate grades conditions against thresholds. Wind or precipitation out
// of limits is HIGH risk; visibility or temperature is MEDIUM.
func (t Thresholds) Evaluate(c Conditions) Assessment {
	var high, medium []string

	if c.WindSpeedMps > t.MaxWindSpeedMps {
		high = append(high, fmt.Sprintf("wind %.1f m/s exceeds %.1f", c.WindSpeedMps, t.MaxWindSpeedMps))
	}
	if c.PrecipitationMmHr > t.MaxPrecipitationMmHr {
		high = append(high, fmt.Sprintf("precipitation %.1f mm/h exceeds %.1f", c.PrecipitationMmHr, t.MaxPrecipitationMmHr))
	}
	if c.VisibilityMeters < t.MinVisibilityMeters {
		medium = append(medium, fmt.Sprintf("visibility %.0f m below %.0f", c.VisibilityMeters, t.MinVisibilityMeters))
	}
	if c.TemperatureC < t.MinTemperatureC || c.TemperatureC > t.MaxTemperatureC {
		medium = append(medium, fmt.Sprintf("temperature %.1f C outside %.0f..%.0f", c.TemperatureC, t.MinTemperatureC, t.MaxTemperatureC))
	}

	switch {
	case len(high) > 0:
		return Assessment{Safe: false, RiskLevel: RiskHigh, Reasons: append(high, medium...)}
	case len(medium) > 0:
		return Assessment{Safe: false, RiskLevel: RiskMedium, Reasons: medium}
	default:
		return Assessment{Safe: true, RiskLevel: RiskLow}
	}
}

// ThresholdGate evaluates the latest known conditions against a profile.
// Conditions are global to the gate; weather fetching lives elsewhere and
// pushes observations in through SetConditions.
type ThresholdGate struct {
	mu         sync.RWMutex
	thresholds Thresholds
	conditions Conditions
}

// NewThresholdGate creates a gate for the given limits and initial conditions
func NewThresholdGate(t Thresholds, initial Conditions) *ThresholdGate {
	return &ThresholdGate{thresholds: t, conditions: initial}
}

// SetConditions replaces the current observation
func (g *ThresholdGate) SetConditions(c Conditions) {
	g.mu.Lock()
	g.conditions = c
	g.mu.Unlock()
}

// Conditions returns the current observation
func (g *ThresholdGate) Conditions() Conditions {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.conditions
}

func (g *ThresholdGate) CheckSafety(_, _ float64) Assessment {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.thresholds.Evaluate(g.conditions)
}
