package engine

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/picogrid/legion-missions/pkg/mission"
)

const defaultJournalSize = 10000

// Severity constants
const (
	SeverityDebug    = "debug"
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Journal entry types that do not come from the state machine
const (
	EntryCommand = "command"
	EntrySystem  = "system"
)

var (
	colorDebug    = color.New(color.FgHiBlack)
	colorInfo     = color.New(color.FgCyan)
	colorWarning  = color.New(color.FgYellow)
	colorError    = color.New(color.FgRed)
	colorCritical = color.New(color.FgRed, color.Bold)
	colorSuccess  = color.New(color.FgGreen)
)

// Entry is one journaled mission event
type Entry struct {
	Timestamp time.Time              `json:"timestamp"`
	DroneID   string                 `json:"droneId"`
	MissionID string                 `json:"missionId,omitempty"`
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	Phase     mission.Phase          `json:"phase,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Summary counts journal entries
type Summary struct {
	Started     time.Time
	TotalEvents int
	ByType      map[string]int
	BySeverity  map[string]int
}

// Journal keeps a bounded, queryable history of mission events and echoes
// them to a writer colored by severity
type Journal struct {
	mu      sync.RWMutex
	entries []Entry
	max     int
	out     io.Writer
	now     func() time.Time
	started time.Time
}

// NewJournal creates a journal echoing to out. A nil writer keeps the
// journal silent.
func NewJournal(out io.Writer, max int) *Journal {
	if max <= 0 {
		max = defaultJournalSize
	}
	return &Journal{
		max:     max,
		out:     out,
		now:     time.Now,
		started: time.Now(),
	}
}

// RecordEvent journals a state machine event
func (j *Journal) RecordEvent(droneID, missionID string, ev mission.Event) {
	e := Entry{
		DroneID:   droneID,
		MissionID: missionID,
		Type:      string(ev.Type),
		Severity:  eventSeverity(ev.Type),
		Phase:     ev.Phase,
		Message:   ev.Message,
	}
	if ev.Checkpoint != nil {
		e.Details = map[string]interface{}{"checkpoint": ev.Checkpoint}
	}
	if ev.Type == mission.EventScanRequested || ev.Type == mission.EventWaypointDone ||
		ev.Type == mission.EventScanSucceeded || ev.Type == mission.EventScanFailed {
		if e.Details == nil {
			e.Details = map[string]interface{}{}
		}
		e.Details["waypoint_index"] = ev.WaypointIndex
	}
	j.record(e)
}

// Note journals a free-form entry
func (j *Journal) Note(droneID, entryType, severity, message string) {
	j.record(Entry{DroneID: droneID, Type: entryType, Severity: severity, Message: message})
}

func (j *Journal) record(e Entry) {
	j.mu.Lock()
	e.Timestamp = j.now()
	j.entries = append(j.entries, e)
	if len(j.entries) > j.max {
		j.entries = j.entries[len(j.entries)-j.max:]
	}
	out := j.out
	j.mu.Unlock()

	if out != nil {
		fmt.Fprintf(out, "[%s] %s %-8s %s | %s\n",
			e.Timestamp.Format("15:04:05.000"),
			severityColor(e.Severity).Sprint(fmt.Sprintf("%-8s", e.Severity)),
			e.DroneID,
			e.Type,
			e.Message)
	}
}

// Entries returns the journal for one drone, or everything when droneID
// is empty
func (j *Journal) Entries(droneID string) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]Entry, 0, len(j.entries))
	for _, e := range j.entries {
		if droneID == "" || e.DroneID == droneID {
			out = append(out, e)
		}
	}
	return out
}

// Summary counts entries by type and severity
func (j *Journal) Summary() Summary {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s := Summary{
		Started:     j.started,
		TotalEvents: len(j.entries),
		ByType:      make(map[string]int),
		BySeverity:  make(map[string]int),
	}
	for _, e := range j.entries {
		s.ByType[e.Type]++
		s.BySeverity[e.Severity]++
	}
	return s
}

// PrintSummary writes a formatted summary
func (j *Journal) PrintSummary(w io.Writer) {
	s := j.Summary()

	colorSuccess.Fprintln(w, "\n═══════════════ MISSION JOURNAL ═══════════════")
	fmt.Fprintf(w, "Duration: %v | Total Events: %d\n", time.Since(s.Started).Round(time.Second), s.TotalEvents)

	types := make([]string, 0, len(s.ByType))
	for t := range s.ByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "   %-20s: %d\n", t, s.ByType[t])
	}
	colorSuccess.Fprintln(w, "═══════════════════════════════════════════════")
}

func eventSeverity(t mission.EventType) string {
	switch t {
	case mission.EventScanRequested, mission.EventPhaseChanged:
		return SeverityDebug
	case mission.EventWeatherHold, mission.EventScanFailed:
		return SeverityWarning
	case mission.EventScanExhausted:
		return SeverityError
	case mission.EventCancelled:
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

func severityColor(severity string) *color.Color {
	switch severity {
	case SeverityDebug:
		return colorDebug
	case SeverityWarning:
		return colorWarning
	case SeverityError:
		return colorError
	case SeverityCritical:
		return colorCritical
	default:
		return colorInfo
	}
}
