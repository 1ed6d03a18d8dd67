package telemetry

import (
	"time"

	"github.com/picogrid/legion-missions/pkg/mission"
)

// Source tells where a snapshot came from
type Source string

const (
	SourceExternal  Source = "EXTERNAL"
	SourceSimulated Source = "SIMULATED"
)

// Snapshot is the most recently known kinematic and battery state of a drone
type Snapshot struct {
	DroneID                      string        `json:"droneId" msgpack:"droneId"`
	Lat                          float64       `json:"lat" msgpack:"lat"`
	Lng                          float64       `json:"lng" msgpack:"lng"`
	AltitudeMeters               float64       `json:"altitudeMeters" msgpack:"altitudeMeters"`
	HeadingDegrees               float64       `json:"headingDegrees" msgpack:"headingDegrees"`
	SpeedMetersPerSecond         float64       `json:"speedMetersPerSecond" msgpack:"speedMetersPerSecond"`
	VerticalSpeedMetersPerSecond float64       `json:"verticalSpeedMetersPerSecond" msgpack:"verticalSpeedMetersPerSecond"`
	BatteryPercent               float64       `json:"batteryPercent" msgpack:"batteryPercent"`
	Phase                        mission.Phase `json:"phase,omitempty" msgpack:"phase,omitempty"`
	Source                       Source        `json:"source" msgpack:"source"`
	Timestamp                    time.Time     `json:"timestamp" msgpack:"timestamp"`
}

// FromMission builds a simulated snapshot from the state machine's output
func FromMission(m mission.Mission, at time.Time) Snapshot {
	k := m.Telemetry
	return Snapshot{
		DroneID:                      m.DroneID,
		Lat:                          k.Position.Lat,
		Lng:                          k.Position.Lng,
		AltitudeMeters:               k.AltitudeMeters,
		HeadingDegrees:               k.HeadingDegrees,
		SpeedMetersPerSecond:         k.SpeedMetersPerSecond,
		VerticalSpeedMetersPerSecond: k.VerticalSpeedMetersPerSecond,
		BatteryPercent:               k.BatteryPercent,
		Phase:                        m.Phase,
		Source:                       SourceSimulated,
		Timestamp:                    at,
	}
}
