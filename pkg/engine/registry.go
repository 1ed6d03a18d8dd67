package engine

import (
	"sort"
	"sync"

	"github.com/picogrid/legion-missions/pkg/mission"
)

// Registry holds the running mission of each drone. At most one runner
// exists per drone id.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]*runner
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[string]*runner),
	}
}

// add registers a runner, failing with a ConflictError when the drone
// already has one
func (r *Registry) add(droneID string, run *runner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runners[droneID]; exists {
		return mission.NewConflictError(droneID)
	}
	r.runners[droneID] = run
	return nil
}

func (r *Registry) get(droneID string) (*runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runners[droneID]
	return run, ok
}

// remove drops the drone's runner if it is still run
func (r *Registry) remove(droneID string, run *runner) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.runners[droneID]; ok && cur == run {
		delete(r.runners, droneID)
		return true
	}
	return false
}

func (r *Registry) list() []*runner {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*runner, 0, len(r.runners))
	for _, run := range r.runners {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].droneID < out[j].droneID })
	return out
}

// Len returns the number of running missions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runners)
}
