package engine

import (
	"context"
	"sync"

	"github.com/picogrid/legion-missions/pkg/logger"
	"github.com/picogrid/legion-missions/pkg/mission"
	"github.com/picogrid/legion-missions/pkg/telemetry"
)

// runner owns one mission: its state machine, its clock and the scans in
// flight. mu serializes ticks, scan results and operator commands.
type runner struct {
	e         *Engine
	droneID   string
	missionID string
	log       logger.Logger

	mu      sync.Mutex
	machine *mission.Machine
	clock   *mission.Clock

	scanCtx    context.Context
	cancelScan context.CancelFunc
	finishOnce sync.Once
}

func newRunner(e *Engine, m *mission.Machine) *runner {
	snap := m.Mission()
	ctx, cancel := context.WithCancel(context.Background())
	r := &runner{
		e:          e,
		droneID:    snap.DroneID,
		missionID:  snap.ID.String(),
		machine:    m,
		scanCtx:    ctx,
		cancelScan: cancel,
		log: e.log.WithFields(map[string]interface{}{
			"drone":   snap.DroneID,
			"mission": snap.ID.String()[:8],
		}),
	}
	r.clock = mission.NewClock(e.cfg.TickInterval, e.increments(), r.onTick)
	r.clock.OnFault(r.onFault)
	return r
}

// apply runs fn against the machine under the runner lock
func (r *runner) apply(fn func(m *mission.Machine) mission.Step) (mission.Step, mission.Mission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := fn(r.machine)
	return s, r.machine.Mission()
}

func (r *runner) snapshot() mission.Mission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.machine.Mission()
}

func (r *runner) onTick(t mission.Tick) mission.Directive {
	ticksTotal.Inc()
	s, m := r.apply(func(m *mission.Machine) mission.Step { return m.Tick(t) })
	r.handle(s, m)
	return s.Directive
}

func (r *runner) onFault(err error) {
	r.log.Errorf("Mission clock fault: %v", err)
	r.cancel("fault: " + err.Error())
}

func (r *runner) cancel(reason string) bool {
	s, m := r.apply(func(m *mission.Machine) mission.Step {
		s, _ := m.Cancel(reason)
		return s
	})
	r.clock.Stop()
	r.cancelScan()
	if len(s.Events) == 0 {
		return false
	}
	r.handle(s, m)
	return true
}

// handle publishes the results of a step: journal, metrics, telemetry,
// scans to start and mission completion
func (r *runner) handle(s mission.Step, m mission.Mission) {
	for _, ev := range s.Events {
		r.e.journal.RecordEvent(r.droneID, r.missionID, ev)
		switch ev.Type {
		case mission.EventPhaseChanged:
			phaseTransitionsTotal.WithLabelValues(string(ev.Phase)).Inc()
			r.log.Debugf("Phase %s", ev.Message)
		case mission.EventWeatherHold:
			weatherHoldsTotal.Inc()
			r.log.Warnf("Weather hold: %s", ev.Message)
		case mission.EventScanSucceeded:
			scanAttemptsTotal.WithLabelValues("success").Inc()
		case mission.EventScanFailed:
			scanAttemptsTotal.WithLabelValues("failure").Inc()
		case mission.EventScanExhausted:
			r.log.Errorf("%s", ev.Message)
		}
	}

	if r.e.mux != nil {
		r.e.mux.PushSimulated(telemetry.FromMission(m, r.e.now()))
	}

	if s.Scan != nil {
		r.startScan(*s.Scan)
	}
	if m.Phase.Terminal() {
		r.finish(m)
	}
}

func (r *runner) startScan(req mission.ScanRequest) {
	r.e.scans.Add(1)
	go func() {
		defer r.e.scans.Done()

		res, err := r.e.scanner.Scan(r.scanCtx, req.Waypoint)
		if r.scanCtx.Err() != nil {
			return
		}
		s, m := r.apply(func(m *mission.Machine) mission.Step {
			return m.ScanResult(req.WaypointIndex, req.Attempt, res, err)
		})
		r.handle(s, m)
	}()
}

func (r *runner) finish(m mission.Mission) {
	r.finishOnce.Do(func() {
		r.clock.Stop()
		r.cancelScan()
		r.e.registry.remove(r.droneID, r)
		r.e.archive.Add(r.droneID, m)
		outcomesTotal.WithLabelValues(string(m.Phase)).Inc()
		activeMissions.Dec()

		if m.Phase == mission.PhaseLanded {
			logger.Successf("Drone %s landed at home after %d waypoints", r.droneID, len(m.Waypoints))
		} else {
			r.log.Warnf("Mission ended in %s: %s", m.Phase, m.Reason)
		}
		r.e.wg.Done()
	})
}
