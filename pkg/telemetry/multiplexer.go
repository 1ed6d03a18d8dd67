package telemetry

import (
	"sort"
	"sync"
	"time"
)

const (
	DefaultFreshnessWindow  = 3 * time.Second
	DefaultMinInterval      = 50 * time.Millisecond
	DefaultSubscriberBuffer = 64
	DefaultRetention        = 10 * time.Minute
)

// Drop reasons reported to the drop handler
const (
	DropRateLimited    = "rate_limited"
	DropSuperseded     = "superseded"
	DropSlowSubscriber = "slow_subscriber"
)

// Options configures a Multiplexer. Zero values fall back to the defaults.
type Options struct {
	FreshnessWindow  time.Duration
	MinInterval      time.Duration
	SubscriberBuffer int
	// Retention is how long a drone that has gone quiet keeps its entry
	Retention time.Duration
	Now       func() time.Time
}

type droneState struct {
	current      Snapshot
	hasCurrent   bool
	lastEmit     time.Time
	lastExternal time.Time
	lastSeen     time.Time
	noData       bool
}

// Multiplexer keeps one current snapshot per drone, merging an external
// feed with simulated output. External data wins while it is fresh, and
// each drone is limited to one accepted update per MinInterval; updates
// over the limit are dropped.
type Multiplexer struct {
	freshness time.Duration
	interval  time.Duration
	buffer    int
	retention time.Duration
	now       func() time.Time

	mu      sync.RWMutex
	drones  map[string]*droneState
	subs    map[uint64]chan Snapshot
	nextSub uint64
	dropped map[string]uint64
	onDrop  func(droneID, reason string)

	lastSweep time.Time
}

// NewMultiplexer creates an empty multiplexer
func NewMultiplexer(opts Options) *Multiplexer {
	mx := &Multiplexer{
		freshness: opts.FreshnessWindow,
		interval:  opts.MinInterval,
		buffer:    opts.SubscriberBuffer,
		retention: opts.Retention,
		now:       opts.Now,
		drones:    make(map[string]*droneState),
		subs:      make(map[uint64]chan Snapshot),
		dropped:   make(map[string]uint64),
	}
	if mx.freshness <= 0 {
		mx.freshness = DefaultFreshnessWindow
	}
	if mx.interval < 0 {
		mx.interval = 0
	} else if mx.interval == 0 {
		mx.interval = DefaultMinInterval
	}
	if mx.buffer <= 0 {
		mx.buffer = DefaultSubscriberBuffer
	}
	if mx.retention <= 0 {
		mx.retention = DefaultRetention
	}
	if mx.retention < mx.freshness {
		mx.retention = mx.freshness
	}
	if mx.now == nil {
		mx.now = time.Now
	}
	return mx
}

// OnDrop registers a callback invoked for every dropped update
func (mx *Multiplexer) OnDrop(fn func(droneID, reason string)) {
	mx.mu.Lock()
	mx.onDrop = fn
	mx.mu.Unlock()
}

// PushExternal records a snapshot from the external feed. It reports
// whether the snapshot became the drone's current one.
func (mx *Multiplexer) PushExternal(s Snapshot) bool {
	mx.mu.Lock()
	defer mx.mu.Unlock()

	now := mx.now()
	st := mx.state(s.DroneID, now)
	st.lastExternal = now
	st.noData = false

	s.Source = SourceExternal
	// Taking over from simulated output is never rate limited.
	takeover := st.hasCurrent && st.current.Source == SourceSimulated
	return mx.accept(st, s, now, takeover)
}

// PushSimulated records a snapshot produced by a mission. It is dropped
// while fresh external data exists for the drone.
func (mx *Multiplexer) PushSimulated(s Snapshot) bool {
	mx.mu.Lock()
	defer mx.mu.Unlock()

	now := mx.now()
	st := mx.state(s.DroneID, now)
	if mx.externalFresh(st, now) {
		mx.drop(s.DroneID, DropSuperseded)
		return false
	}

	s.Source = SourceSimulated
	return mx.accept(st, s, now, false)
}

// MarkNoData records that the external feed explicitly has nothing for a
// drone, letting simulated output through immediately.
func (mx *Multiplexer) MarkNoData(droneID string) {
	mx.mu.Lock()
	mx.state(droneID, mx.now()).noData = true
	mx.mu.Unlock()
}

// Latest returns the current snapshot for a drone
func (mx *Multiplexer) Latest(droneID string) (Snapshot, bool) {
	mx.mu.RLock()
	defer mx.mu.RUnlock()
	st, ok := mx.drones[droneID]
	if !ok || !st.hasCurrent {
		return Snapshot{}, false
	}
	return st.current, true
}

// All returns the current snapshot of every drone, sorted by drone id
func (mx *Multiplexer) All() []Snapshot {
	mx.mu.RLock()
	defer mx.mu.RUnlock()

	out := make([]Snapshot, 0, len(mx.drones))
	for _, st := range mx.drones {
		if st.hasCurrent {
			out = append(out, st.current)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DroneID < out[j].DroneID })
	return out
}

// Dropped returns how many updates were dropped for a drone
func (mx *Multiplexer) Dropped(droneID string) uint64 {
	mx.mu.RLock()
	defer mx.mu.RUnlock()
	return mx.dropped[droneID]
}

// Subscribe returns a channel receiving every accepted snapshot and a
// function that unsubscribes and closes it. Slow subscribers lose updates.
func (mx *Multiplexer) Subscribe() (<-chan Snapshot, func()) {
	mx.mu.Lock()
	defer mx.mu.Unlock()

	id := mx.nextSub
	mx.nextSub++
	ch := make(chan Snapshot, mx.buffer)
	mx.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			mx.mu.Lock()
			delete(mx.subs, id)
			mx.mu.Unlock()
			close(ch)
		})
	}
}

// Len returns the number of drones currently tracked
func (mx *Multiplexer) Len() int {
	mx.mu.RLock()
	defer mx.mu.RUnlock()
	return len(mx.drones)
}

func (mx *Multiplexer) state(droneID string, now time.Time) *droneState {
	mx.sweep(now)
	st, ok := mx.drones[droneID]
	if !ok {
		st = &droneState{}
		mx.drones[droneID] = st
	}
	st.lastSeen = now
	return st
}

// sweep forgets drones not heard from within the retention period. It
// runs at most once per freshness window.
func (mx *Multiplexer) sweep(now time.Time) {
	if !mx.lastSweep.IsZero() && now.Sub(mx.lastSweep) < mx.freshness {
		return
	}
	mx.lastSweep = now
	for id, st := range mx.drones {
		if now.Sub(st.lastSeen) > mx.retention {
			delete(mx.drones, id)
			delete(mx.dropped, id)
		}
	}
}

func (mx *Multiplexer) externalFresh(st *droneState, now time.Time) bool {
	if st.noData || st.lastExternal.IsZero() {
		return false
	}
	return now.Sub(st.lastExternal) < mx.freshness
}

func (mx *Multiplexer) accept(st *droneState, s Snapshot, now time.Time, bypass bool) bool {
	if st.hasCurrent && !bypass && now.Sub(st.lastEmit) < mx.interval {
		mx.drop(s.DroneID, DropRateLimited)
		return false
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = now
	}
	st.current = s
	st.hasCurrent = true
	st.lastEmit = now

	for _, ch := range mx.subs {
		select {
		case ch <- s:
		default:
			mx.drop(s.DroneID, DropSlowSubscriber)
		}
	}
	return true
}

func (mx *Multiplexer) drop(droneID, reason string) {
	mx.dropped[droneID]++
	if mx.onDrop != nil {
		mx.onDrop(droneID, reason)
	}
}
