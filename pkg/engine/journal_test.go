package engine

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/picogrid/legion-missions/pkg/mission"
)

func TestJournalRecordEvent(t *testing.T) {
	j := NewJournal(nil, 0)

	tests := []struct {
		name        string
		event       mission.Event
		severity    string
		wantIndex   bool
		wantPayload bool
	}{
		{
			name:     "phase change",
			event:    mission.Event{Type: mission.EventPhaseChanged, Phase: mission.PhaseEnRoute, Message: "TAKING_OFF -> EN_ROUTE"},
			severity: SeverityDebug,
		},
		{
			name:        "scan succeeded",
			event:       mission.Event{Type: mission.EventScanSucceeded, WaypointIndex: 2, Checkpoint: map[string]interface{}{"order": "Order-w3"}},
			severity:    SeverityInfo,
			wantIndex:   true,
			wantPayload: true,
		},
		{
			name:      "scan failed",
			event:     mission.Event{Type: mission.EventScanFailed, WaypointIndex: 1},
			severity:  SeverityWarning,
			wantIndex: true,
		},
		{
			name:     "exhausted",
			event:    mission.Event{Type: mission.EventScanExhausted},
			severity: SeverityError,
		},
		{
			name:     "cancelled",
			event:    mission.Event{Type: mission.EventCancelled, Message: "emergency stop"},
			severity: SeverityCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j.RecordEvent("d1", "m1", tt.event)
			entries := j.Entries("d1")
			e := entries[len(entries)-1]

			if e.Severity != tt.severity {
				t.Errorf("Expected severity %s, got %s", tt.severity, e.Severity)
			}
			if e.Type != string(tt.event.Type) || e.MissionID != "m1" {
				t.Errorf("Expected %s entry for m1, got %+v", tt.event.Type, e)
			}
			if _, ok := e.Details["waypoint_index"]; ok != tt.wantIndex {
				t.Errorf("Expected waypoint_index present=%v, got %v", tt.wantIndex, e.Details)
			}
			if _, ok := e.Details["checkpoint"]; ok != tt.wantPayload {
				t.Errorf("Expected checkpoint present=%v, got %v", tt.wantPayload, e.Details)
			}
			if e.Timestamp.IsZero() {
				t.Error("Expected timestamp to be set")
			}
		})
	}
}

func TestJournalBounded(t *testing.T) {
	j := NewJournal(nil, 3)
	for _, id := range []string{"a", "b", "a", "b", "a"} {
		j.Note(id, EntrySystem, SeverityInfo, "entry for "+id)
	}

	all := j.Entries("")
	if len(all) != 3 {
		t.Fatalf("Expected 3 retained entries, got %d", len(all))
	}
	if all[0].DroneID != "a" || all[2].DroneID != "a" {
		t.Errorf("Expected oldest entries evicted first, got %v", all)
	}
	if got := len(j.Entries("b")); got != 1 {
		t.Errorf("Expected 1 entry for b, got %d", got)
	}
}

func TestJournalOutputAndSummary(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	j := NewJournal(&buf, 0)
	j.Note("d1", EntryCommand, SeverityInfo, "StartMission accepted")
	j.Note("d1", EntryCommand, SeverityWarning, "StartMission rejected: mission already active")
	j.RecordEvent("d1", "m1", mission.Event{Type: mission.EventLanded, Message: "landed at home after 2 waypoints"})

	out := buf.String()
	if !strings.Contains(out, "StartMission rejected: mission already active") || !strings.Contains(out, "landed at home") {
		t.Errorf("Expected entries echoed to writer, got %q", out)
	}

	s := j.Summary()
	if s.TotalEvents != 3 || s.ByType[EntryCommand] != 2 || s.BySeverity[SeverityWarning] != 1 {
		t.Errorf("Unexpected summary %+v", s)
	}

	buf.Reset()
	j.PrintSummary(&buf)
	if !strings.Contains(buf.String(), "MISSION JOURNAL") || !strings.Contains(buf.String(), "landed") {
		t.Errorf("Expected summary output, got %q", buf.String())
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	a := &runner{droneID: "a"}
	b := &runner{droneID: "b"}

	if err := reg.add("a", a); err != nil {
		t.Fatalf("Failed to add: %v", err)
	}
	if err := reg.add("a", b); err == nil {
		t.Error("Expected duplicate add to fail")
	}
	if err := reg.add("b", b); err != nil {
		t.Fatalf("Failed to add: %v", err)
	}

	if reg.remove("a", b) {
		t.Error("Expected remove with a stale runner to be ignored")
	}
	if reg.Len() != 2 {
		t.Errorf("Expected 2 runners, got %d", reg.Len())
	}
	if !reg.remove("a", a) {
		t.Error("Expected remove to succeed")
	}
	if _, ok := reg.get("a"); ok {
		t.Error("Expected a to be gone")
	}
	if l := reg.list(); len(l) != 1 || l[0] != b {
		t.Errorf("Expected only b left, got %v", l)
	}
}
