package mission

import (
	"fmt"
	"time"
)

// Defaults for the phase boundaries and timing of a mission. Percentages
// are of total mission progress.
const (
	DefaultTakeoffPercent          = 10.0
	DefaultReturnPercent           = 15.0
	DefaultApproachThreshold       = 0.95
	DefaultCruiseAltitudeMeters    = 20.0
	DefaultClimbRateMetersPerSec   = 2.5
	DefaultSettleTicks             = 3
	DefaultHoldSeconds             = 5
	DefaultMaxScanRetries          = 3
	DefaultBatteryFloorPercent     = 20.0
	DefaultBatteryDrainPerProgress = 0.8
	DefaultTickInterval            = 400 * time.Millisecond
	DefaultMinIncrement            = 0.4
	DefaultMaxIncrement            = 1.2
)

// Config holds the tunables of the clock and state machine
type Config struct {
	TakeoffPercent          float64       `yaml:"takeoff_percent"`
	ReturnPercent           float64       `yaml:"return_percent"`
	ApproachThreshold       float64       `yaml:"approach_threshold"`
	CruiseAltitudeMeters    float64       `yaml:"cruise_altitude_meters"`
	ClimbRateMetersPerSec   float64       `yaml:"climb_rate_mps"`
	SettleTicks             int           `yaml:"settle_ticks"`
	HoldSeconds             int           `yaml:"hold_seconds"`
	MaxScanRetries          int           `yaml:"max_scan_retries"`
	BatteryFloorPercent     float64       `yaml:"battery_floor_percent"`
	BatteryDrainPerProgress float64       `yaml:"battery_drain_per_progress"`
	TickInterval            time.Duration `yaml:"tick_interval"`
	MinIncrement            float64       `yaml:"min_increment"`
	MaxIncrement            float64       `yaml:"max_increment"`
}

// DefaultConfig returns the stock tunables
func DefaultConfig() Config {
	return Config{
		TakeoffPercent:          DefaultTakeoffPercent,
		ReturnPercent:           DefaultReturnPercent,
		ApproachThreshold:       DefaultApproachThreshold,
		CruiseAltitudeMeters:    DefaultCruiseAltitudeMeters,
		ClimbRateMetersPerSec:   DefaultClimbRateMetersPerSec,
		SettleTicks:             DefaultSettleTicks,
		HoldSeconds:             DefaultHoldSeconds,
		MaxScanRetries:          DefaultMaxScanRetries,
		BatteryFloorPercent:     DefaultBatteryFloorPercent,
		BatteryDrainPerProgress: DefaultBatteryDrainPerProgress,
		TickInterval:            DefaultTickInterval,
		MinIncrement:            DefaultMinIncrement,
		MaxIncrement:            DefaultMaxIncrement,
	}
}

// CruiseStart is the progress at which takeoff ends
func (c Config) CruiseStart() float64 { return c.TakeoffPercent }

// CruiseEnd is the progress at which the return leg begins
func (c Config) CruiseEnd() float64 { return 100 - c.ReturnPercent }

// Validate checks the tunables for consistency
func (c Config) Validate() error {
	if c.TakeoffPercent <= 0 || c.ReturnPercent <= 0 {
		return fmt.Errorf("takeoff and return percentages must be positive")
	}
	if c.TakeoffPercent+c.ReturnPercent >= 100 {
		return fmt.Errorf("takeoff (%g) and return (%g) percentages leave no cruise range", c.TakeoffPercent, c.ReturnPercent)
	}
	if c.ApproachThreshold <= 0 || c.ApproachThreshold > 1 {
		return fmt.Errorf("approach threshold must be in (0,1], got %g", c.ApproachThreshold)
	}
	if c.CruiseAltitudeMeters <= 0 {
		return fmt.Errorf("cruise altitude must be positive")
	}
	if c.ClimbRateMetersPerSec <= 0 {
		return fmt.Errorf("climb rate must be positive")
	}
	if c.SettleTicks < 1 {
		return fmt.Errorf("settle ticks must be at least 1")
	}
	if c.HoldSeconds < 0 {
		return fmt.Errorf("hold seconds cannot be negative")
	}
	if c.MaxScanRetries < 1 {
		return fmt.Errorf("max scan retries must be at least 1")
	}
	if c.BatteryFloorPercent < 0 || c.BatteryFloorPercent > 100 {
		return fmt.Errorf("battery floor must be within 0-100")
	}
	if c.BatteryDrainPerProgress < 0 {
		return fmt.Errorf("battery drain cannot be negative")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if c.MinIncrement <= 0 || c.MaxIncrement < c.MinIncrement {
		return fmt.Errorf("increment range [%g, %g] is invalid", c.MinIncrement, c.MaxIncrement)
	}
	return nil
}
