package mission

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConflictError is returned when a drone already has an active mission
type ConflictError struct {
	DroneID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("mission already active for drone %s", e.DroneID)
}

// InvalidMissionError is returned when a mission cannot be started as given
type InvalidMissionError struct {
	DroneID string
	Reason  string
}

func (e *InvalidMissionError) Error() string {
	if e.DroneID == "" {
		return "invalid mission: " + e.Reason
	}
	return fmt.Sprintf("invalid mission for drone %s: %s", e.DroneID, e.Reason)
}

// NewConflictError wraps a ConflictError with a stack trace
func NewConflictError(droneID string) error {
	return errors.WithStack(&ConflictError{DroneID: droneID})
}

// NewInvalidMissionError wraps an InvalidMissionError with a stack trace
func NewInvalidMissionError(droneID, format string, args ...interface{}) error {
	return errors.WithStack(&InvalidMissionError{DroneID: droneID, Reason: fmt.Sprintf(format, args...)})
}

// ErrClockStarted is returned by Clock.Start on a second call
var ErrClockStarted = errors.New("mission clock already started")
