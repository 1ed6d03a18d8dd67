package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/picogrid/legion-missions/pkg/geo"
	"github.com/picogrid/legion-missions/pkg/mission"
	"github.com/picogrid/legion-missions/pkg/telemetry"
)

type scriptedScanner struct {
	mu       sync.Mutex
	outcomes []bool
	calls    int
}

func (s *scriptedScanner) Scan(_ context.Context, wp mission.Waypoint) (mission.ScanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	ok := true
	if len(s.outcomes) > 0 {
		ok, s.outcomes = s.outcomes[0], s.outcomes[1:]
	}
	return mission.ScanResult{Success: ok, Checkpoint: wp.Checkpoint}, nil
}

var (
	testHome      = geo.Point{Lat: 12.9716, Lng: 77.5946}
	testWaypoints = []mission.Waypoint{
		{ID: "w1", Lat: 12.9750, Lng: 77.6000, Checkpoint: map[string]interface{}{"order": "Order-w1"}},
		{ID: "w2", Lat: 12.9800, Lng: 77.5950, Checkpoint: map[string]interface{}{"order": "Order-w2"}},
	}
)

// newTestEngine builds an engine whose clocks never fire on their own;
// tests drive ticks with drive.
func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	cfg := mission.DefaultConfig()
	cfg.TickInterval = time.Hour
	opts.Mission = cfg
	if opts.Scanner == nil {
		opts.Scanner = &scriptedScanner{}
	}
	if opts.Journal == nil {
		opts.Journal = NewJournal(nil, 0)
	}
	if opts.Increments == nil {
		opts.Increments = func() mission.Increments { return mission.FixedIncrement(5) }
	}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	t.Cleanup(func() { e.Shutdown("test finished") })
	return e
}

func drive(t *testing.T, e *Engine, droneID string, until func(mission.Mission) bool) mission.Mission {
	t.Helper()
	r, ok := e.registry.get(droneID)
	if !ok {
		t.Fatalf("No active mission for %s", droneID)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		m := r.snapshot()
		if until(m) {
			return m
		}
		if m.Phase == mission.PhaseScanning {
			time.Sleep(time.Millisecond)
			continue
		}
		r.clock.Step()
	}
	m := r.snapshot()
	t.Fatalf("Condition not reached, mission in %s at %v", m.Phase, m.Progress)
	return m
}

func inPhase(p mission.Phase) func(mission.Mission) bool {
	return func(m mission.Mission) bool { return m.Phase == p }
}

func TestStartConflict(t *testing.T) {
	e := newTestEngine(t, Options{})

	id, err := e.Start("d1", testHome, testWaypoints)
	if err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	before := drive(t, e, "d1", func(m mission.Mission) bool { return m.Progress >= 20 })

	_, err = e.Start("d1", testHome, testWaypoints[:1])
	var conflict *mission.ConflictError
	if !errors.As(err, &conflict) || conflict.DroneID != "d1" {
		t.Fatalf("Expected ConflictError, got %v", err)
	}

	res := e.Handle(StartMission("d1", testHome, testWaypoints))
	if res.Accepted || res.Reason != ReasonAlreadyActive {
		t.Errorf("Expected rejection %q, got %+v", ReasonAlreadyActive, res)
	}

	after, _ := e.Status("d1")
	if after.ID.String() != id || after.Progress != before.Progress || after.Phase != before.Phase || len(after.Waypoints) != 2 {
		t.Errorf("Expected original mission untouched, got %+v", after)
	}
}

func TestStartInvalidMission(t *testing.T) {
	e := newTestEngine(t, Options{})

	_, err := e.Start("d1", testHome, nil)
	var invalid *mission.InvalidMissionError
	if !errors.As(err, &invalid) {
		t.Fatalf("Expected InvalidMissionError, got %v", err)
	}

	res := e.Handle(StartMission("d1", geo.Point{Lat: 91}, testWaypoints))
	if res.Accepted || !strings.Contains(res.Reason, "invalid mission") {
		t.Errorf("Expected invalid mission rejection, got %+v", res)
	}
	if _, ok := e.Status("d1"); ok {
		t.Error("Expected no mission recorded for rejected starts")
	}
}

func TestCancelMidFlight(t *testing.T) {
	mux := telemetry.NewMultiplexer(telemetry.Options{MinInterval: -1})
	e := newTestEngine(t, Options{Mux: mux})

	if _, err := e.Start("d1", testHome, testWaypoints); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	r, _ := e.registry.get("d1")
	flying := drive(t, e, "d1", inPhase(mission.PhaseEnRoute))

	res := e.Handle(CancelMission("d1"))
	if !res.Accepted || res.MissionID != r.missionID {
		t.Fatalf("Expected cancel accepted, got %+v", res)
	}

	m, ok := e.Status("d1")
	if !ok || m.Phase != mission.PhaseCancelled || m.Reason != ReasonCancelledByOperator {
		t.Fatalf("Expected CANCELLED by operator, got %+v", m)
	}
	if m.Progress != flying.Progress {
		t.Errorf("Expected progress frozen at %v, got %v", flying.Progress, m.Progress)
	}

	for i := 0; i < 5; i++ {
		if d := r.clock.Step(); d != mission.Stop {
			t.Fatalf("Expected ticks after cancel to stop, got %s", d)
		}
	}
	if again, _ := e.Status("d1"); again.Progress != m.Progress {
		t.Errorf("Expected no progress after cancel, got %v", again.Progress)
	}

	res = e.Handle(CancelMission("d1"))
	if !res.Accepted {
		t.Errorf("Expected repeated cancel to be accepted, got %+v", res)
	}
	if len(e.Active()) != 0 {
		t.Errorf("Expected no active missions, got %d", len(e.Active()))
	}

	snap, ok := mux.Latest("d1")
	if !ok || snap.Phase != mission.PhaseCancelled || snap.Source != telemetry.SourceSimulated {
		t.Errorf("Expected cancelled simulated snapshot, got %+v", snap)
	}
}

func TestCancelUnknownDrone(t *testing.T) {
	e := newTestEngine(t, Options{})

	for _, cmd := range []Command{CancelMission("ghost"), EmergencyStop("ghost")} {
		res := e.Handle(cmd)
		if !res.Accepted || res.Reason != ReasonNoMission {
			t.Errorf("Expected %s on unknown drone to be an accepted no-op, got %+v", cmd.Kind, res)
		}
	}

	for _, kind := range []CommandKind{CmdPauseMission, CmdResumeMission, CmdRetryScan, CmdSkipCheckpoint} {
		res := e.Handle(Command{Kind: kind, DroneID: "ghost"})
		if res.Accepted {
			t.Errorf("Expected %s on unknown drone to be rejected", kind)
		}
	}

	if res := e.Handle(Command{Kind: "Launch", DroneID: "d1"}); res.Accepted {
		t.Error("Expected unknown command kind to be rejected")
	}
}

func TestEmergencyStop(t *testing.T) {
	e := newTestEngine(t, Options{})
	if _, err := e.Start("d1", testHome, testWaypoints); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	drive(t, e, "d1", inPhase(mission.PhaseEnRoute))

	e.Handle(EmergencyStop("d1"))
	m, _ := e.Status("d1")
	if m.Phase != mission.PhaseCancelled || m.Reason != ReasonEmergencyStop {
		t.Errorf("Expected emergency stop, got %s %q", m.Phase, m.Reason)
	}
}

func TestPauseResume(t *testing.T) {
	e := newTestEngine(t, Options{})
	if _, err := e.Start("d1", testHome, testWaypoints); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	r, _ := e.registry.get("d1")
	r.clock.Step()

	if res := e.Handle(Command{Kind: CmdPauseMission, DroneID: "d1"}); !res.Accepted {
		t.Fatalf("Expected pause accepted, got %+v", res)
	}
	paused, _ := e.Status("d1")
	for i := 0; i < 3; i++ {
		r.clock.Step()
	}
	if m, _ := e.Status("d1"); !m.Paused || m.Progress != paused.Progress {
		t.Errorf("Expected paused mission frozen, got paused=%v progress=%v", m.Paused, m.Progress)
	}

	e.Handle(Command{Kind: CmdResumeMission, DroneID: "d1"})
	r.clock.Step()
	if m, _ := e.Status("d1"); m.Paused || m.Progress <= paused.Progress {
		t.Errorf("Expected mission to resume, got paused=%v progress=%v", m.Paused, m.Progress)
	}
}

func TestFullMission(t *testing.T) {
	mux := telemetry.NewMultiplexer(telemetry.Options{MinInterval: -1})
	e := newTestEngine(t, Options{Mux: mux})

	if res := e.Handle(StartMission("d1", testHome, testWaypoints)); !res.Accepted {
		t.Fatalf("Expected start accepted, got %+v", res)
	}
	drive(t, e, "d1", inPhase(mission.PhaseLanded))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("Expected all missions to finish, got %v", err)
	}

	m, ok := e.Status("d1")
	if !ok || m.Phase != mission.PhaseLanded || m.EndedAt == nil {
		t.Fatalf("Expected archived LANDED mission, got %+v", m)
	}
	if len(e.Archived()) != 1 || len(e.Active()) != 0 {
		t.Errorf("Expected one archived and no active missions, got %d/%d", len(e.Archived()), len(e.Active()))
	}

	var done []int
	var payloads []interface{}
	for _, entry := range e.Journal().Entries("d1") {
		switch entry.Type {
		case string(mission.EventWaypointDone):
			done = append(done, entry.Details["waypoint_index"].(int))
		case string(mission.EventScanSucceeded):
			payloads = append(payloads, entry.Details["checkpoint"].(map[string]interface{})["order"])
		}
	}
	if len(done) != 2 || done[0] != 0 || done[1] != 1 {
		t.Errorf("Expected waypoints 0 and 1 completed in order, got %v", done)
	}
	if len(payloads) != 2 || payloads[0] != "Order-w1" || payloads[1] != "Order-w2" {
		t.Errorf("Expected checkpoint payloads passed through, got %v", payloads)
	}

	snap, _ := mux.Latest("d1")
	if snap.Phase != mission.PhaseLanded || snap.Lat != testHome.Lat || snap.Lng != testHome.Lng {
		t.Errorf("Expected final snapshot at home, got %+v", snap)
	}

	// A new mission for the same drone may start once the previous one ended.
	if _, err := e.Start("d1", testHome, testWaypoints); err != nil {
		t.Errorf("Expected restart after landing, got %v", err)
	}
}

func TestScanExhaustedRecovery(t *testing.T) {
	scanner := &scriptedScanner{outcomes: []bool{false, false, false, true}}
	e := newTestEngine(t, Options{Scanner: scanner})

	if _, err := e.Start("d1", testHome, testWaypoints); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	m := drive(t, e, "d1", inPhase(mission.PhaseScanExhausted))
	if m.ScanAttempts != mission.DefaultMaxScanRetries {
		t.Errorf("Expected %d attempts, got %d", mission.DefaultMaxScanRetries, m.ScanAttempts)
	}

	if res := e.Handle(Command{Kind: CmdSkipCheckpoint, DroneID: "d2"}); res.Accepted {
		t.Error("Expected skip for unknown drone to be rejected")
	}
	if res := e.Handle(Command{Kind: CmdRetryScan, DroneID: "d1"}); !res.Accepted {
		t.Fatalf("Expected retry accepted, got %+v", res)
	}
	m = drive(t, e, "d1", inPhase(mission.PhaseHolding))
	if !m.ScanSuccess {
		t.Error("Expected successful scan after retry")
	}

	if res := e.Handle(Command{Kind: CmdSkipCheckpoint, DroneID: "d1"}); res.Accepted {
		t.Error("Expected skip outside SCAN_EXHAUSTED to be rejected")
	}
}

func TestClockFaultCancelsMission(t *testing.T) {
	var armed bool
	var mu sync.Mutex
	gate := mission.GateFunc(func(float64, float64) mission.Assessment {
		mu.Lock()
		defer mu.Unlock()
		if armed {
			panic("weather service exploded")
		}
		return mission.Assessment{Safe: true, RiskLevel: mission.RiskLow}
	})
	e := newTestEngine(t, Options{Gate: gate})

	if _, err := e.Start("d1", testHome, testWaypoints); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	mu.Lock()
	armed = true
	mu.Unlock()

	m := drive(t, e, "d1", func(m mission.Mission) bool { return m.Phase.Terminal() })
	if m.Phase != mission.PhaseCancelled || !strings.HasPrefix(m.Reason, "fault: ") {
		t.Errorf("Expected fault cancellation, got %s %q", m.Phase, m.Reason)
	}
}

func TestServe(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	in := make(chan Envelope)
	errCh := make(chan error, 1)
	go func() { errCh <- e.Serve(ctx, in) }()

	reply := make(chan Result, 1)
	in <- Envelope{Command: StartMission("d1", testHome, testWaypoints), Reply: reply}
	if res := <-reply; !res.Accepted || res.MissionID == "" {
		t.Errorf("Expected accepted start with mission id, got %+v", res)
	}

	in <- Envelope{Command: StartMission("d1", testHome, testWaypoints), Reply: reply}
	if res := <-reply; res.Accepted {
		t.Errorf("Expected duplicate start rejected, got %+v", res)
	}

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestActiveSorted(t *testing.T) {
	e := newTestEngine(t, Options{})
	for _, id := range []string{"charlie", "alpha", "bravo"} {
		if _, err := e.Start(id, testHome, testWaypoints); err != nil {
			t.Fatalf("Failed to start %s: %v", id, err)
		}
	}

	active := e.Active()
	if len(active) != 3 || active[0].DroneID != "alpha" || active[2].DroneID != "charlie" {
		t.Errorf("Expected missions sorted by drone id, got %v", active)
	}
}
