package mission

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Directive is the state machine's instruction for the next tick
type Directive int

const (
	// Advance moves progress forward on the next tick
	Advance Directive = iota
	// Hold keeps ticking without moving progress
	Hold
	// Stop ends the clock
	Stop
)

func (d Directive) String() string {
	switch d {
	case Advance:
		return "advance"
	case Hold:
		return "hold"
	case Stop:
		return "stop"
	default:
		return fmt.Sprintf("directive(%d)", int(d))
	}
}

// Tick is delivered to the clock callback
type Tick struct {
	Seq      uint64
	Progress float64
}

// TickFunc consumes a tick and decides what the next one does
type TickFunc func(Tick) Directive

// FaultFunc is called once when a tick callback panics
type FaultFunc func(error)

// Clock drives a single mission. Each tick optionally advances progress by
// one increment and then invokes the callback; the next tick is scheduled
// only after the callback returns, so ticks never overlap.
type Clock struct {
	interval   time.Duration
	increments Increments
	onTick     TickFunc
	onFault    FaultFunc

	// tickMu serializes whole ticks, including the callback
	tickMu sync.Mutex

	mu        sync.Mutex
	progress  float64
	seq       uint64
	directive Directive
	started   bool
	paused    bool
	stopped   bool
	timer     *time.Timer
	done      chan struct{}
}

// NewClock creates a stopped clock
func NewClock(interval time.Duration, increments Increments, onTick TickFunc) *Clock {
	return &Clock{
		interval:   interval,
		increments: increments,
		onTick:     onTick,
		done:       make(chan struct{}),
	}
}

// OnFault registers the handler for callback panics
func (c *Clock) OnFault(fn FaultFunc) {
	c.mu.Lock()
	c.onFault = fn
	c.mu.Unlock()
}

// Start begins periodic ticking with the given first directive
func (c *Clock) Start(initial Directive) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrClockStarted
	}
	c.started = true
	if c.stopped {
		return nil
	}
	c.directive = initial
	if initial == Stop {
		c.stopLocked()
		return nil
	}
	c.timer = time.AfterFunc(c.interval, c.fire)
	return nil
}

func (c *Clock) fire() {
	c.Step()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.timer.Reset(c.interval)
	}
}

// Step runs one tick synchronously and returns the resulting directive.
// It is what the timer calls; tests call it directly on an unstarted clock.
func (c *Clock) Step() Directive {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return Stop
	}
	if c.paused {
		d := c.directive
		c.mu.Unlock()
		return d
	}
	if c.directive == Advance {
		c.progress = math.Min(100, c.progress+c.increments.Next())
	}
	c.seq++
	tick := Tick{Seq: c.seq, Progress: c.progress}
	c.mu.Unlock()

	d, err := c.invoke(tick)

	c.mu.Lock()
	if err != nil {
		fault := c.onFault
		c.stopLocked()
		c.mu.Unlock()
		if fault != nil {
			fault(err)
		}
		return Stop
	}
	if c.stopped {
		c.mu.Unlock()
		return Stop
	}
	c.directive = d
	if d == Stop {
		c.stopLocked()
	}
	c.mu.Unlock()
	return d
}

func (c *Clock) invoke(t Tick) (d Directive, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick %d panicked: %v", t.Seq, r)
		}
	}()
	return c.onTick(t), nil
}

// Pause suspends ticks entirely until Resume. Idempotent.
func (c *Clock) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume continues after Pause. No-op when not paused.
func (c *Clock) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// Stop ends the clock and releases its timer. Idempotent; safe to call
// from inside the tick callback.
func (c *Clock) Stop() {
	c.mu.Lock()
	c.stopLocked()
	c.mu.Unlock()
}

func (c *Clock) stopLocked() {
	if c.stopped {
		return
	}
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
	}
	close(c.done)
}

// Done is closed once the clock stops
func (c *Clock) Done() <-chan struct{} { return c.done }

// Progress returns the current progress counter
func (c *Clock) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Paused reports whether the clock is paused
func (c *Clock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Stopped reports whether the clock has stopped
func (c *Clock) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
