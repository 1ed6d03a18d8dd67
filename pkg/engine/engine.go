package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/picogrid/legion-missions/pkg/geo"
	"github.com/picogrid/legion-missions/pkg/logger"
	"github.com/picogrid/legion-missions/pkg/mission"
	"github.com/picogrid/legion-missions/pkg/telemetry"
)

const DefaultArchiveSize = 256

// Options wires an Engine to its collaborators. Only Mission is required
// to be valid; nil collaborators get stock implementations.
type Options struct {
	Mission mission.Config
	Gate    mission.SafetyGate
	Scanner mission.Scanner
	Mux     *telemetry.Multiplexer
	Journal *Journal
	// Seed for progress increments and the stock scanner; 0 uses the time
	Seed int64
	// Increments overrides the per-mission progress increment source
	Increments  func() mission.Increments
	ArchiveSize int
	Now         func() time.Time
}

// Engine runs missions for many drones. Each drone has at most one active
// mission; finished missions move to a bounded archive.
type Engine struct {
	cfg     mission.Config
	gate    mission.SafetyGate
	scanner mission.Scanner
	mux     *telemetry.Multiplexer
	journal *Journal
	rand    *mission.Rand
	incFn   func() mission.Increments
	now     func() time.Time
	log     logger.Logger

	registry *Registry
	archive  *lru.Cache[string, mission.Mission]

	// wg counts active missions, scans counts scans in flight
	wg    sync.WaitGroup
	scans sync.WaitGroup
}

// New creates an engine
func New(opts Options) (*Engine, error) {
	if err := opts.Mission.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mission configuration: %w", err)
	}
	size := opts.ArchiveSize
	if size <= 0 {
		size = DefaultArchiveSize
	}
	archive, err := lru.New[string, mission.Mission](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	e := &Engine{
		cfg:      opts.Mission,
		gate:     opts.Gate,
		scanner:  opts.Scanner,
		mux:      opts.Mux,
		journal:  opts.Journal,
		rand:     mission.NewRand(opts.Seed),
		incFn:    opts.Increments,
		now:      opts.Now,
		log:      logger.Default().WithPrefix("engine"),
		registry: NewRegistry(),
		archive:  archive,
	}
	if e.gate == nil {
		e.gate = mission.AlwaysSafe
	}
	if e.scanner == nil {
		e.scanner = mission.NewRandomScanner(e.rand)
	}
	if e.journal == nil {
		e.journal = NewJournal(os.Stdout, 0)
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.mux != nil {
		e.mux.OnDrop(RecordTelemetryDrop)
	}
	return e, nil
}

func (e *Engine) increments() mission.Increments {
	if e.incFn != nil {
		return e.incFn()
	}
	return mission.UniformIncrements{Rand: e.rand, Min: e.cfg.MinIncrement, Max: e.cfg.MaxIncrement}
}

// Journal returns the engine's event journal
func (e *Engine) Journal() *Journal { return e.journal }

// Handle executes one command synchronously
func (e *Engine) Handle(cmd Command) Result {
	var res Result
	switch cmd.Kind {
	case CmdStartMission:
		res = e.start(cmd)
	case CmdCancelMission:
		res = e.cancel(cmd.DroneID, ReasonCancelledByOperator)
	case CmdEmergencyStop:
		res = e.cancel(cmd.DroneID, ReasonEmergencyStop)
	case CmdPauseMission:
		res = e.setPaused(cmd.DroneID, true)
	case CmdResumeMission:
		res = e.setPaused(cmd.DroneID, false)
	case CmdRetryScan:
		res = e.intervene(cmd.DroneID, (*mission.Machine).RetryScan)
	case CmdSkipCheckpoint:
		res = e.intervene(cmd.DroneID, (*mission.Machine).SkipCheckpoint)
	default:
		res = rejected(RejectInvalid, fmt.Sprintf("%s %q", ReasonUnknownKind, cmd.Kind))
	}

	commandsTotal.WithLabelValues(string(cmd.Kind), fmt.Sprint(res.Accepted)).Inc()
	severity := SeverityInfo
	msg := string(cmd.Kind) + " accepted"
	if !res.Accepted {
		severity = SeverityWarning
		msg = fmt.Sprintf("%s rejected: %s", cmd.Kind, res.Reason)
	} else if res.Reason != "" {
		msg += " (" + res.Reason + ")"
	}
	e.journal.Note(cmd.DroneID, EntryCommand, severity, msg)
	return res
}

// Serve handles commands from in until ctx is done or in is closed.
// Replies are dropped when the reply channel is not ready.
func (e *Engine) Serve(ctx context.Context, in <-chan Envelope) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-in:
			if !ok {
				return nil
			}
			res := e.Handle(env.Command)
			if env.Reply == nil {
				continue
			}
			select {
			case env.Reply <- res:
			default:
				e.log.Warnf("Dropped reply to %s for %s", env.Command.Kind, env.Command.DroneID)
			}
		}
	}
}

// Start begins a mission. It fails with a *mission.ConflictError when the
// drone already has an active mission and with a *mission.InvalidMissionError
// when the plan is unusable; neither touches existing missions.
func (e *Engine) Start(droneID string, home geo.Point, waypoints []mission.Waypoint) (string, error) {
	if _, ok := e.registry.get(droneID); ok {
		return "", mission.NewConflictError(droneID)
	}

	m, err := mission.NewMachine(droneID, home, waypoints, e.cfg, e.gate, mission.WithNow(e.now))
	if err != nil {
		return "", err
	}

	r := newRunner(e, m)
	if err := e.registry.add(droneID, r); err != nil {
		return "", err
	}
	e.wg.Add(1)
	activeMissions.Inc()

	s, snap := r.apply(func(m *mission.Machine) mission.Step { return m.Begin() })
	r.handle(s, snap)
	if err := r.clock.Start(s.Directive); err != nil {
		r.cancel("fault: " + err.Error())
		return "", err
	}

	r.log.Infof("Mission started with %d waypoints", len(waypoints))
	return r.missionID, nil
}

func (e *Engine) start(cmd Command) Result {
	id, err := e.Start(cmd.DroneID, cmd.Home, cmd.Waypoints)
	if err == nil {
		return accepted(id)
	}
	var conflict *mission.ConflictError
	if errors.As(err, &conflict) {
		return rejected(RejectConflict, ReasonAlreadyActive)
	}
	var invalid *mission.InvalidMissionError
	if errors.As(err, &invalid) {
		return rejected(RejectInvalid, err.Error())
	}
	return rejected(RejectFault, err.Error())
}

func (e *Engine) cancel(droneID, reason string) Result {
	r, ok := e.registry.get(droneID)
	if !ok {
		return Result{Accepted: true, Reason: ReasonNoMission}
	}
	r.cancel(reason)
	return accepted(r.missionID)
}

func (e *Engine) setPaused(droneID string, paused bool) Result {
	r, ok := e.registry.get(droneID)
	if !ok {
		return rejected(RejectNotFound, ReasonNoMission)
	}

	r.mu.Lock()
	if r.machine.Phase().Terminal() {
		r.mu.Unlock()
		return rejected(RejectNotFound, ReasonNoMission)
	}
	if paused {
		r.clock.Pause()
	} else {
		r.clock.Resume()
	}
	r.machine.SetPaused(paused)
	r.mu.Unlock()

	return accepted(r.missionID)
}

func (e *Engine) intervene(droneID string, fn func(*mission.Machine) (mission.Step, error)) Result {
	r, ok := e.registry.get(droneID)
	if !ok {
		return rejected(RejectNotFound, ReasonNoMission)
	}

	var opErr error
	s, m := r.apply(func(m *mission.Machine) mission.Step {
		s, err := fn(m)
		opErr = err
		return s
	})
	if opErr != nil {
		return rejected(RejectConflict, opErr.Error())
	}
	r.handle(s, m)
	return accepted(r.missionID)
}

// Status returns the mission of a drone, active or archived
func (e *Engine) Status(droneID string) (mission.Mission, bool) {
	if r, ok := e.registry.get(droneID); ok {
		return r.snapshot(), true
	}
	return e.archive.Get(droneID)
}

// Active returns every running mission sorted by drone id
func (e *Engine) Active() []mission.Mission {
	runners := e.registry.list()
	out := make([]mission.Mission, 0, len(runners))
	for _, r := range runners {
		out = append(out, r.snapshot())
	}
	return out
}

// Archived returns finished missions still held by the archive, oldest first
func (e *Engine) Archived() []mission.Mission {
	return e.archive.Values()
}

// Wait blocks until every started mission has finished or ctx is done
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every running mission and waits for scans to unwind
func (e *Engine) Shutdown(reason string) {
	for _, r := range e.registry.list() {
		r.cancel(reason)
	}
	e.scans.Wait()
}
