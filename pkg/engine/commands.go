package engine

import (
	"github.com/picogrid/legion-missions/pkg/geo"
	"github.com/picogrid/legion-missions/pkg/mission"
)

// CommandKind names an operator command
type CommandKind string

const (
	CmdStartMission   CommandKind = "StartMission"
	CmdCancelMission  CommandKind = "CancelMission"
	CmdEmergencyStop  CommandKind = "EmergencyStop"
	CmdPauseMission   CommandKind = "PauseMission"
	CmdResumeMission  CommandKind = "ResumeMission"
	CmdRetryScan      CommandKind = "RetryScan"
	CmdSkipCheckpoint CommandKind = "SkipCheckpoint"
)

// Rejection and no-op reasons
const (
	ReasonAlreadyActive = "mission already active"
	ReasonNoMission     = "no active mission"
	ReasonUnknownKind   = "unknown command"
)

// Cancellation reasons recorded on the mission
const (
	ReasonCancelledByOperator = "cancelled by operator"
	ReasonEmergencyStop       = "emergency stop"
)

// Command is one operator instruction. Home and Waypoints are only used by
// StartMission.
type Command struct {
	Kind      CommandKind        `json:"kind"`
	DroneID   string             `json:"droneId"`
	Home      geo.Point          `json:"homeLocation"`
	Waypoints []mission.Waypoint `json:"waypoints,omitempty"`
}

// Rejection classifies why a command was refused
type Rejection int

const (
	RejectNone Rejection = iota
	// RejectConflict means the command does not fit the drone's current state
	RejectConflict
	// RejectInvalid means the command itself is malformed or unusable
	RejectInvalid
	// RejectNotFound means the drone has no active mission
	RejectNotFound
	// RejectFault means the engine failed while applying an accepted plan
	RejectFault
)

// Result is the answer to a command
type Result struct {
	Accepted  bool      `json:"accepted"`
	Reason    string    `json:"reason,omitempty"`
	MissionID string    `json:"missionId,omitempty"`
	Rejection Rejection `json:"-"`
}

// Envelope carries a command over a channel together with where to reply
type Envelope struct {
	Command Command
	Reply   chan<- Result
}

func StartMission(droneID string, home geo.Point, waypoints []mission.Waypoint) Command {
	return Command{Kind: CmdStartMission, DroneID: droneID, Home: home, Waypoints: waypoints}
}

func CancelMission(droneID string) Command {
	return Command{Kind: CmdCancelMission, DroneID: droneID}
}

func EmergencyStop(droneID string) Command {
	return Command{Kind: CmdEmergencyStop, DroneID: droneID}
}

func accepted(missionID string) Result { return Result{Accepted: true, MissionID: missionID} }

func rejected(kind Rejection, reason string) Result {
	return Result{Reason: reason, Rejection: kind}
}
