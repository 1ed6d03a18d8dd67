package mission

import (
	"time"

	"github.com/google/uuid"

	"github.com/picogrid/legion-missions/pkg/geo"
)

// Phase is the discrete state of a mission
type Phase string

const (
	PhaseIdle              Phase = "IDLE"
	PhaseTakingOff         Phase = "TAKING_OFF"
	PhaseEnRoute           Phase = "EN_ROUTE"
	PhaseLandingAtWaypoint Phase = "LANDING_AT_WAYPOINT"
	PhaseScanning          Phase = "AT_WAYPOINT_SCANNING"
	PhaseHolding           Phase = "AT_WAYPOINT_HOLDING"
	PhaseDeparting         Phase = "DEPARTING_WAYPOINT"
	PhaseReturningHome     Phase = "RETURNING_HOME"
	PhaseLanded            Phase = "LANDED"
	PhaseCancelled         Phase = "CANCELLED"
	PhaseWeatherHold       Phase = "WEATHER_HOLD"
	PhaseScanExhausted     Phase = "SCAN_EXHAUSTED"
)

// Terminal reports whether no further transitions are possible
func (p Phase) Terminal() bool {
	return p == PhaseLanded || p == PhaseCancelled
}

// Moving reports whether the drone is travelling laterally or vertically
// under its own power in this phase.
func (p Phase) Moving() bool {
	switch p {
	case PhaseTakingOff, PhaseEnRoute, PhaseDeparting, PhaseReturningHome:
		return true
	}
	return false
}

// Waypoint is a stop on the mission route. Checkpoint is opaque and is
// handed back untouched in scan events.
type Waypoint struct {
	ID             string                 `json:"id" yaml:"id"`
	Lat            float64                `json:"lat" yaml:"lat"`
	Lng            float64                `json:"lng" yaml:"lng"`
	AltitudeMeters float64                `json:"altitudeMeters" yaml:"altitude_meters"`
	Checkpoint     map[string]interface{} `json:"checkpointPayload,omitempty" yaml:"checkpoint,omitempty"`
}

// Point returns the waypoint's coordinate
func (w Waypoint) Point() geo.Point {
	return geo.Point{Lat: w.Lat, Lng: w.Lng}
}

// Kinematics is the simulated vehicle state produced on every tick
type Kinematics struct {
	Position                     geo.Point `json:"position"`
	AltitudeMeters               float64   `json:"altitudeMeters"`
	HeadingDegrees               float64   `json:"headingDegrees"`
	SpeedMetersPerSecond         float64   `json:"speedMetersPerSecond"`
	VerticalSpeedMetersPerSecond float64   `json:"verticalSpeedMetersPerSecond"`
	BatteryPercent               float64   `json:"batteryPercent"`
}

// Mission is the observable state of one drone's run. The state machine
// owns the live value; everything else sees copies.
type Mission struct {
	ID                   uuid.UUID  `json:"id"`
	DroneID              string     `json:"droneId"`
	Home                 geo.Point  `json:"homeLocation"`
	Waypoints            []Waypoint `json:"waypoints"`
	Phase                Phase      `json:"phase"`
	Progress             float64    `json:"progress"`
	CurrentWaypointIndex int        `json:"currentWaypointIndex"`
	PausedForScan        bool       `json:"pausedForScan"`
	ScanSuccess          bool       `json:"scanSuccess"`
	HoldSecondsRemaining int        `json:"holdSecondsRemaining"`

	// ResumePhase is the phase a WEATHER_HOLD returns to
	ResumePhase  Phase       `json:"resumePhase,omitempty"`
	RiskLevel    RiskLevel   `json:"riskLevel,omitempty"`
	ScanAttempts int         `json:"scanAttempts"`
	Paused       bool        `json:"paused"`
	Reason       string      `json:"reason,omitempty"`
	Telemetry    Kinematics  `json:"telemetry"`
	Trail        []geo.Point `json:"trail,omitempty"`
	StartedAt    time.Time   `json:"startedAt"`
	EndedAt      *time.Time  `json:"endedAt,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines
func (m Mission) Clone() Mission {
	out := m
	out.Waypoints = make([]Waypoint, len(m.Waypoints))
	copy(out.Waypoints, m.Waypoints)
	if m.Trail != nil {
		out.Trail = make([]geo.Point, len(m.Trail))
		copy(out.Trail, m.Trail)
	}
	if m.EndedAt != nil {
		t := *m.EndedAt
		out.EndedAt = &t
	}
	return out
}

// EventType classifies entries emitted by the state machine
type EventType string

const (
	EventPhaseChanged  EventType = "phase_changed"
	EventWeatherHold   EventType = "weather_hold"
	EventWeatherClear  EventType = "weather_clear"
	EventScanRequested EventType = "scan_requested"
	EventScanSucceeded EventType = "scan_succeeded"
	EventScanFailed    EventType = "scan_failed"
	EventScanExhausted EventType = "scan_exhausted"
	EventWaypointDone  EventType = "waypoint_done"
	EventCancelled     EventType = "cancelled"
	EventLanded        EventType = "landed"
)

// Event is one notable thing that happened during a tick or a scan result
type Event struct {
	Type          EventType              `json:"type"`
	Phase         Phase                  `json:"phase"`
	WaypointIndex int                    `json:"waypointIndex"`
	Message       string                 `json:"message"`
	Checkpoint    map[string]interface{} `json:"checkpointPayload,omitempty"`
}
