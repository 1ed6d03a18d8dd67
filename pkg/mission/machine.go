package mission

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/picogrid/legion-missions/pkg/geo"
)

// Step is the outcome of feeding one input to the machine
type Step struct {
	Directive Directive
	Events    []Event
	// Scan is set when the caller must run a checkpoint scan
	Scan *ScanRequest
}

// Machine maps clock progress onto mission phases and simulated telemetry.
// It is not safe for concurrent use; callers serialize ticks, scan results
// and commands.
type Machine struct {
	cfg  Config
	gate SafetyGate
	now  func() time.Time

	m     Mission
	trail *geo.Trail

	// next is the index of the next waypoint to land at; len(waypoints)
	// once every waypoint has been visited.
	next int

	lastDirective Directive
	pos           geo.Point
	alt           float64
	heading       float64

	holdAt         geo.Point
	landingTick    int
	landingFrom    geo.Point
	landingFromAlt float64
	departTick     int
	homeCleared    bool
}

// Option customizes a Machine
type Option func(*Machine)

// WithNow replaces the wall clock used for start and end timestamps
func WithNow(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithMissionID fixes the mission id instead of generating one
func WithMissionID(id uuid.UUID) Option {
	return func(m *Machine) { m.m.ID = id }
}

// ValidatePlan checks that a mission can be started as given
func ValidatePlan(droneID string, home geo.Point, waypoints []Waypoint) error {
	if droneID == "" {
		return NewInvalidMissionError("", "drone id is required")
	}
	if len(waypoints) == 0 {
		return NewInvalidMissionError(droneID, "waypoint list is empty")
	}
	if !home.Valid() {
		return NewInvalidMissionError(droneID, "home location %v is not a valid coordinate", home)
	}
	for i, wp := range waypoints {
		if !wp.Point().Valid() {
			return NewInvalidMissionError(droneID, "waypoint %d (%s) has invalid coordinates", i, wp.ID)
		}
		if math.IsNaN(wp.AltitudeMeters) || wp.AltitudeMeters < 0 {
			return NewInvalidMissionError(droneID, "waypoint %d (%s) has invalid altitude", i, wp.ID)
		}
	}
	return nil
}

// NewMachine creates a machine in IDLE. The waypoint slice is copied and
// never modified afterwards.
func NewMachine(droneID string, home geo.Point, waypoints []Waypoint, cfg Config, gate SafetyGate, opts ...Option) (*Machine, error) {
	if err := ValidatePlan(droneID, home, waypoints); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, NewInvalidMissionError(droneID, "configuration: %v", err)
	}
	if gate == nil {
		gate = AlwaysSafe
	}

	wps := make([]Waypoint, len(waypoints))
	copy(wps, waypoints)

	mc := &Machine{
		cfg:           cfg,
		gate:          gate,
		now:           time.Now,
		trail:         geo.NewTrail(0, 0),
		pos:           home,
		lastDirective: Hold,
		m: Mission{
			ID:        uuid.New(),
			DroneID:   droneID,
			Home:      home,
			Waypoints: wps,
			Phase:     PhaseIdle,
		},
	}
	for _, opt := range opts {
		opt(mc)
	}
	mc.m.StartedAt = mc.now()
	mc.publish(PhaseIdle)
	return mc, nil
}

// Mission returns a copy of the current mission state
func (mc *Machine) Mission() Mission {
	out := mc.m.Clone()
	out.Trail = mc.trail.Points()
	return out
}

// Phase returns the current phase
func (mc *Machine) Phase() Phase { return mc.m.Phase }

// Begin leaves IDLE. Takeoff is gated on the safety check at home.
func (mc *Machine) Begin() Step {
	var s Step
	if mc.m.Phase != PhaseIdle {
		s.Directive = mc.lastDirective
		return s
	}

	a := mc.gate.CheckSafety(mc.m.Home.Lat, mc.m.Home.Lng)
	mc.m.RiskLevel = a.RiskLevel
	if a.Safe {
		mc.setPhase(PhaseTakingOff, &s)
		s.Directive = Advance
	} else {
		mc.enterWeatherHold(PhaseTakingOff, mc.m.Home, a, &s)
		s.Directive = Hold
	}
	mc.finish(PhaseIdle, &s)
	return s
}

// Tick consumes one clock tick
func (mc *Machine) Tick(t Tick) Step {
	var s Step
	if mc.m.Phase.Terminal() {
		s.Directive = Stop
		return s
	}

	// Progress only moves when the previous tick asked for it.
	if mc.lastDirective == Advance && t.Progress > mc.m.Progress {
		mc.m.Progress = math.Min(100, t.Progress)
	}

	prev := mc.m.Phase
	switch mc.m.Phase {
	case PhaseIdle:
		return mc.Begin()
	case PhaseWeatherHold:
		s.Directive = mc.tickWeatherHold(&s)
	case PhaseLandingAtWaypoint:
		s.Directive = mc.tickLanding(&s)
	case PhaseScanning, PhaseScanExhausted:
		mc.pinToWaypoint()
		s.Directive = Hold
	case PhaseHolding:
		s.Directive = mc.tickHolding(&s)
	default:
		s.Directive = mc.tickFlight(&s)
	}

	mc.finish(prev, &s)
	return s
}

// ScanResult reports the outcome of a scan requested earlier. Results for
// an attempt that is no longer current are ignored.
func (mc *Machine) ScanResult(waypointIndex, attempt int, res ScanResult, scanErr error) Step {
	s := Step{Directive: mc.lastDirective}
	if mc.m.Phase != PhaseScanning || waypointIndex != mc.m.CurrentWaypointIndex || attempt != mc.m.ScanAttempts {
		return s
	}

	wp := mc.m.Waypoints[waypointIndex]
	if scanErr == nil && res.Success {
		mc.m.ScanSuccess = true
		mc.m.HoldSecondsRemaining = mc.cfg.HoldSeconds
		mc.setPhase(PhaseHolding, &s)
		mc.emit(&s, EventScanSucceeded, fmt.Sprintf("checkpoint verified at waypoint %d (%s) on attempt %d", waypointIndex, wp.ID, attempt), res.Checkpoint)
		return s
	}

	msg := fmt.Sprintf("checkpoint scan failed at waypoint %d (%s), attempt %d/%d", waypointIndex, wp.ID, attempt, mc.cfg.MaxScanRetries)
	if scanErr != nil {
		msg += ": " + scanErr.Error()
	}
	mc.emit(&s, EventScanFailed, msg, res.Checkpoint)

	if mc.m.ScanAttempts >= mc.cfg.MaxScanRetries {
		mc.setPhase(PhaseScanExhausted, &s)
		mc.emit(&s, EventScanExhausted, fmt.Sprintf("scan retries exhausted at waypoint %d (%s), operator action required", waypointIndex, wp.ID), res.Checkpoint)
		return s
	}
	s.Scan = mc.requestScan(&s)
	return s
}

// RetryScan restarts scanning with a fresh retry budget after exhaustion
func (mc *Machine) RetryScan() (Step, error) {
	s := Step{Directive: mc.lastDirective}
	if mc.m.Phase != PhaseScanExhausted {
		return s, fmt.Errorf("cannot retry scan in phase %s", mc.m.Phase)
	}
	mc.m.ScanAttempts = 0
	mc.setPhase(PhaseScanning, &s)
	s.Scan = mc.requestScan(&s)
	return s, nil
}

// SkipCheckpoint abandons verification at the current waypoint and
// continues with the hold and departure sequence.
func (mc *Machine) SkipCheckpoint() (Step, error) {
	s := Step{Directive: mc.lastDirective}
	if mc.m.Phase != PhaseScanExhausted {
		return s, fmt.Errorf("cannot skip checkpoint in phase %s", mc.m.Phase)
	}
	mc.m.ScanSuccess = false
	mc.m.HoldSecondsRemaining = mc.cfg.HoldSeconds
	mc.setPhase(PhaseHolding, &s)
	return s, nil
}

// Cancel moves the mission to CANCELLED. It reports false when the
// mission had already ended.
func (mc *Machine) Cancel(reason string) (Step, bool) {
	s := Step{Directive: Stop}
	if mc.m.Phase.Terminal() {
		return s, false
	}
	prev := mc.m.Phase
	mc.m.Reason = reason
	mc.m.PausedForScan = false
	mc.m.HoldSecondsRemaining = 0
	mc.m.ResumePhase = ""
	end := mc.now()
	mc.m.EndedAt = &end
	mc.setPhase(PhaseCancelled, &s)
	mc.emit(&s, EventCancelled, reason, nil)
	mc.finish(prev, &s)
	return s, true
}

// SetPaused records an operator pause on the observable mission
func (mc *Machine) SetPaused(paused bool) { mc.m.Paused = paused }

func (mc *Machine) tickFlight(s *Step) Directive {
	p := mc.m.Progress
	n := len(mc.m.Waypoints)
	cs := mc.cfg.CruiseStart()

	if mc.m.Phase == PhaseTakingOff {
		if p < cs {
			mc.pos = mc.m.Home
			mc.alt = mc.legAltitude(0) * p / cs
			mc.heading = 0
			return Advance
		}
		mc.setPhase(PhaseEnRoute, s)
	}

	departing := mc.m.Phase == PhaseDeparting
	var climb float64
	if departing {
		mc.departTick++
		frac := math.Min(1, float64(mc.departTick)/float64(mc.cfg.SettleTicks))
		climb = mc.legAltitude(mc.next) * frac
		if mc.departTick >= mc.cfg.SettleTicks {
			if mc.next < n {
				mc.setPhase(PhaseEnRoute, s)
			} else {
				mc.setPhase(PhaseReturningHome, s)
			}
		}
	}

	if mc.next >= n {
		return mc.flyHome(s, departing, climb)
	}

	segWidth := (mc.cfg.CruiseEnd() - cs) / float64(n)
	local := (p - cs) / segWidth
	seg := int(math.Floor(local))
	r := local - float64(seg)
	if seg > mc.next || p >= mc.cfg.CruiseEnd() {
		// Never fly past a waypoint that has not been visited.
		seg, r = mc.next, 1
	}

	to := mc.m.Waypoints[mc.next]
	from := mc.segmentStart(mc.next)
	mc.m.CurrentWaypointIndex = mc.next
	mc.heading = geo.Bearing(from, to.Point())

	if seg < mc.next {
		// Tail of the segment whose waypoint was just visited.
		mc.pos = from
	} else {
		mc.pos = geo.Interpolate(from, to.Point(), r)
	}

	if departing {
		mc.alt = climb
	} else {
		mc.alt = mc.legAltitude(mc.next)
	}

	if seg == mc.next && r >= mc.cfg.ApproachThreshold {
		return mc.beginLanding(s)
	}
	return Advance
}

func (mc *Machine) flyHome(s *Step, departing bool, climb float64) Directive {
	p := mc.m.Progress
	if mc.m.Phase != PhaseDeparting && mc.m.Phase != PhaseReturningHome {
		mc.setPhase(PhaseReturningHome, s)
	}

	last := mc.m.Waypoints[len(mc.m.Waypoints)-1].Point()
	r := 0.0
	if ce := mc.cfg.CruiseEnd(); p > ce {
		r = math.Min(1, (p-ce)/mc.cfg.ReturnPercent)
	}

	var blocked *Assessment
	if r >= mc.cfg.ApproachThreshold && !mc.homeCleared {
		a := mc.gate.CheckSafety(mc.m.Home.Lat, mc.m.Home.Lng)
		mc.m.RiskLevel = a.RiskLevel
		if a.Safe {
			mc.homeCleared = true
		} else {
			// hover at the approach point until home clears
			blocked = &a
			r = mc.cfg.ApproachThreshold
		}
	}

	mc.m.CurrentWaypointIndex = len(mc.m.Waypoints) - 1
	mc.heading = geo.Bearing(last, mc.m.Home)
	mc.pos = geo.Interpolate(last, mc.m.Home, r)
	mc.alt = mc.cfg.CruiseAltitudeMeters * (1 - r)
	if departing && climb < mc.alt {
		mc.alt = climb
	}

	if blocked != nil {
		mc.enterWeatherHold(PhaseReturningHome, mc.m.Home, *blocked, s)
		return Hold
	}

	if r >= 1 {
		mc.pos = mc.m.Home
		mc.alt = 0
		end := mc.now()
		mc.m.EndedAt = &end
		mc.setPhase(PhaseLanded, s)
		mc.emit(s, EventLanded, fmt.Sprintf("landed at home after %d waypoints", len(mc.m.Waypoints)), nil)
		return Stop
	}
	return Advance
}

func (mc *Machine) beginLanding(s *Step) Directive {
	wp := mc.m.Waypoints[mc.next]
	mc.landingFrom = mc.pos
	mc.landingFromAlt = mc.alt
	mc.landingTick = 0

	a := mc.gate.CheckSafety(wp.Lat, wp.Lng)
	mc.m.RiskLevel = a.RiskLevel
	if !a.Safe {
		mc.enterWeatherHold(PhaseLandingAtWaypoint, wp.Point(), a, s)
		return Hold
	}
	mc.setPhase(PhaseLandingAtWaypoint, s)
	return Hold
}

func (mc *Machine) tickLanding(s *Step) Directive {
	wp := mc.m.Waypoints[mc.next]
	mc.landingTick++
	frac := math.Min(1, float64(mc.landingTick)/float64(mc.cfg.SettleTicks))
	mc.pos = geo.Interpolate(mc.landingFrom, wp.Point(), frac)
	mc.alt = mc.landingFromAlt * (1 - frac)

	if mc.landingTick < mc.cfg.SettleTicks {
		return Hold
	}

	mc.m.CurrentWaypointIndex = mc.next
	mc.m.PausedForScan = true
	mc.m.ScanSuccess = false
	mc.m.ScanAttempts = 0
	mc.setPhase(PhaseScanning, s)
	s.Scan = mc.requestScan(s)
	return Hold
}

func (mc *Machine) requestScan(s *Step) *ScanRequest {
	idx := mc.m.CurrentWaypointIndex
	wp := mc.m.Waypoints[idx]
	mc.m.ScanAttempts++
	mc.emit(s, EventScanRequested, fmt.Sprintf("scanning checkpoint at waypoint %d (%s), attempt %d", idx, wp.ID, mc.m.ScanAttempts), wp.Checkpoint)
	return &ScanRequest{WaypointIndex: idx, Waypoint: wp, Attempt: mc.m.ScanAttempts}
}

func (mc *Machine) tickHolding(s *Step) Directive {
	mc.pinToWaypoint()
	if mc.m.HoldSecondsRemaining > 0 {
		mc.m.HoldSecondsRemaining--
	}
	if mc.m.HoldSecondsRemaining > 0 {
		return Hold
	}

	idx := mc.m.CurrentWaypointIndex
	wp := mc.m.Waypoints[idx]
	mc.m.PausedForScan = false
	mc.m.ScanSuccess = false
	mc.emit(s, EventWaypointDone, fmt.Sprintf("waypoint %d (%s) complete", idx, wp.ID), nil)
	mc.next = idx + 1
	mc.departTick = 0

	a := mc.gate.CheckSafety(wp.Lat, wp.Lng)
	mc.m.RiskLevel = a.RiskLevel
	if !a.Safe {
		mc.enterWeatherHold(PhaseDeparting, wp.Point(), a, s)
		return Hold
	}
	mc.heading = mc.departureHeading()
	mc.setPhase(PhaseDeparting, s)
	return Advance
}

// departureHeading points from the visited waypoint toward the end of the
// next segment, which is home after the last waypoint.
func (mc *Machine) departureHeading() float64 {
	from := mc.m.Waypoints[mc.next-1].Point()
	if mc.next < len(mc.m.Waypoints) {
		return geo.Bearing(from, mc.m.Waypoints[mc.next].Point())
	}
	return geo.Bearing(from, mc.m.Home)
}

func (mc *Machine) tickWeatherHold(s *Step) Directive {
	a := mc.gate.CheckSafety(mc.holdAt.Lat, mc.holdAt.Lng)
	mc.m.RiskLevel = a.RiskLevel
	if !a.Safe {
		return Hold
	}

	resume := mc.m.ResumePhase
	mc.m.ResumePhase = ""
	mc.emit(s, EventWeatherClear, fmt.Sprintf("safety gate cleared, resuming %s", resume), nil)
	mc.setPhase(resume, s)

	switch resume {
	case PhaseLandingAtWaypoint:
		return Hold
	case PhaseDeparting:
		mc.heading = mc.departureHeading()
	case PhaseReturningHome:
		mc.homeCleared = true
	}
	return Advance
}

func (mc *Machine) enterWeatherHold(resume Phase, at geo.Point, a Assessment, s *Step) {
	mc.m.ResumePhase = resume
	mc.holdAt = at
	mc.setPhase(PhaseWeatherHold, s)
	msg := fmt.Sprintf("safety gate blocked %s (risk %s)", resume, a.RiskLevel)
	for _, r := range a.Reasons {
		msg += "; " + r
	}
	mc.emit(s, EventWeatherHold, msg, nil)
}

func (mc *Machine) pinToWaypoint() {
	mc.pos = mc.m.Waypoints[mc.m.CurrentWaypointIndex].Point()
	mc.alt = 0
}

func (mc *Machine) segmentStart(i int) geo.Point {
	if i == 0 {
		return mc.m.Home
	}
	return mc.m.Waypoints[i-1].Point()
}

func (mc *Machine) legAltitude(i int) float64 {
	if i < len(mc.m.Waypoints) && mc.m.Waypoints[i].AltitudeMeters > 0 {
		return mc.m.Waypoints[i].AltitudeMeters
	}
	return mc.cfg.CruiseAltitudeMeters
}

func (mc *Machine) setPhase(p Phase, s *Step) {
	if mc.m.Phase == p {
		return
	}
	from := mc.m.Phase
	mc.m.Phase = p
	mc.emit(s, EventPhaseChanged, fmt.Sprintf("%s -> %s", from, p), nil)
}

func (mc *Machine) emit(s *Step, t EventType, msg string, checkpoint map[string]interface{}) {
	s.Events = append(s.Events, Event{
		Type:          t,
		Phase:         mc.m.Phase,
		WaypointIndex: mc.m.CurrentWaypointIndex,
		Message:       msg,
		Checkpoint:    checkpoint,
	})
}

// finish records the directive and derives telemetry for the tick
func (mc *Machine) finish(prev Phase, s *Step) {
	mc.lastDirective = s.Directive
	mc.publish(prev)
}

func (mc *Machine) publish(prev Phase) {
	dt := mc.cfg.TickInterval.Seconds()
	last := mc.m.Telemetry
	phase := mc.m.Phase

	k := Kinematics{
		Position:       mc.pos,
		AltitudeMeters: mc.alt,
		HeadingDegrees: geo.NormalizeHeading(mc.heading),
		BatteryPercent: math.Max(mc.cfg.BatteryFloorPercent, 100-mc.m.Progress*mc.cfg.BatteryDrainPerProgress),
	}

	switch {
	case prev == PhaseIdle && phase == PhaseIdle:
		// initial state at home
	case phase.Terminal() || phase == PhaseScanning || phase == PhaseHolding ||
		phase == PhaseScanExhausted || phase == PhaseWeatherHold:
		if phase == PhaseCancelled {
			k.Position = last.Position
			k.AltitudeMeters = last.AltitudeMeters
			mc.pos, mc.alt = last.Position, last.AltitudeMeters
		}
	default:
		k.SpeedMetersPerSecond = geo.DistanceMeters(last.Position, k.Position) / dt
		k.VerticalSpeedMetersPerSecond = (k.AltitudeMeters - last.AltitudeMeters) / dt
		if phase == PhaseTakingOff {
			k.VerticalSpeedMetersPerSecond = mc.cfg.ClimbRateMetersPerSec
		}
	}

	if phase.Moving() {
		mc.trail.Add(k.Position)
	}
	mc.m.Telemetry = k
}
