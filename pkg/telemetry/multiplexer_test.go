package telemetry

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMux() (*Multiplexer, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	mx := NewMultiplexer(Options{
		FreshnessWindow: 2 * time.Second,
		MinInterval:     50 * time.Millisecond,
		Now:             clk.now,
	})
	return mx, clk
}

func TestExternalWinsWhileFresh(t *testing.T) {
	mx, clk := newTestMux()

	mx.PushSimulated(Snapshot{DroneID: "X", Lat: 1})
	clk.advance(10 * time.Millisecond)

	// Takeover from simulated output ignores the rate limit.
	if !mx.PushExternal(Snapshot{DroneID: "X", Lat: 9}) {
		t.Fatal("Expected external snapshot to be accepted immediately")
	}

	for i := 0; i < 10; i++ {
		clk.advance(100 * time.Millisecond)
		if mx.PushSimulated(Snapshot{DroneID: "X", Lat: 2}) {
			t.Fatalf("Expected simulated snapshot to be superseded at step %d", i)
		}
	}

	got, ok := mx.Latest("X")
	if !ok || got.Source != SourceExternal || got.Lat != 9 {
		t.Errorf("Expected external snapshot, got %+v", got)
	}
}

func TestSimulatedResumesAfterFreshnessWindow(t *testing.T) {
	mx, clk := newTestMux()

	mx.PushExternal(Snapshot{DroneID: "X", Lat: 9})
	clk.advance(2 * time.Second)

	if !mx.PushSimulated(Snapshot{DroneID: "X", Lat: 3}) {
		t.Fatal("Expected simulated snapshot once external data is stale")
	}
	got, _ := mx.Latest("X")
	if got.Source != SourceSimulated || got.Lat != 3 {
		t.Errorf("Expected simulated snapshot, got %+v", got)
	}
}

func TestNoDataLetsSimulatedThrough(t *testing.T) {
	mx, clk := newTestMux()

	mx.PushExternal(Snapshot{DroneID: "X", Lat: 9})
	mx.MarkNoData("X")
	clk.advance(60 * time.Millisecond)

	if !mx.PushSimulated(Snapshot{DroneID: "X", Lat: 4}) {
		t.Fatal("Expected simulated snapshot after explicit no-data")
	}

	// A later external message ends the no-data state.
	clk.advance(60 * time.Millisecond)
	mx.PushExternal(Snapshot{DroneID: "X", Lat: 10})
	clk.advance(60 * time.Millisecond)
	if mx.PushSimulated(Snapshot{DroneID: "X", Lat: 5}) {
		t.Error("Expected simulated snapshot to be superseded again")
	}
}

func TestRateLimitDropsExcess(t *testing.T) {
	mx, clk := newTestMux()

	var reasons []string
	mx.OnDrop(func(_, reason string) { reasons = append(reasons, reason) })

	accepted := 0
	for i := 0; i < 10; i++ {
		if mx.PushExternal(Snapshot{DroneID: "X", Lat: float64(i)}) {
			accepted++
		}
		clk.advance(10 * time.Millisecond)
	}

	// 100ms of pushes at 10ms spacing with a 50ms window: t=0 and t=50.
	if accepted != 2 {
		t.Errorf("Expected 2 accepted updates, got %d", accepted)
	}
	if mx.Dropped("X") != 8 || len(reasons) != 8 || reasons[0] != DropRateLimited {
		t.Errorf("Expected 8 rate-limited drops, got %d (%v)", mx.Dropped("X"), reasons)
	}

	got, _ := mx.Latest("X")
	if got.Lat != 5 {
		t.Errorf("Expected latest accepted snapshot lat 5, got %v", got.Lat)
	}
}

func TestRateLimitIsPerDrone(t *testing.T) {
	mx, _ := newTestMux()

	if !mx.PushSimulated(Snapshot{DroneID: "A"}) || !mx.PushSimulated(Snapshot{DroneID: "B"}) {
		t.Error("Expected first update of each drone to be accepted")
	}
	if len(mx.All()) != 2 || mx.All()[0].DroneID != "A" {
		t.Errorf("Expected two drones sorted by id, got %+v", mx.All())
	}
	if _, ok := mx.Latest("C"); ok {
		t.Error("Expected no snapshot for unknown drone")
	}
}

func TestQuietDronesAreEvicted(t *testing.T) {
	clk := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	mx := NewMultiplexer(Options{
		FreshnessWindow: 2 * time.Second,
		Retention:       10 * time.Second,
		Now:             clk.now,
	})

	mx.PushExternal(Snapshot{DroneID: "A", Lat: 1})
	mx.PushSimulated(Snapshot{DroneID: "B", Lat: 2})
	mx.MarkNoData("C")
	if mx.Len() != 3 {
		t.Fatalf("Expected 3 tracked drones, got %d", mx.Len())
	}

	clk.advance(6 * time.Second)
	mx.PushSimulated(Snapshot{DroneID: "B", Lat: 3})

	clk.advance(6 * time.Second)
	mx.PushSimulated(Snapshot{DroneID: "D", Lat: 4})

	if mx.Len() != 2 {
		t.Errorf("Expected quiet drones evicted leaving 2, got %d", mx.Len())
	}
	if _, ok := mx.Latest("A"); ok {
		t.Error("Expected drone A to be forgotten")
	}
	if got, ok := mx.Latest("B"); !ok || got.Lat != 3 {
		t.Errorf("Expected drone B kept with lat 3, got %+v (%v)", got, ok)
	}
	if len(mx.All()) != 2 {
		t.Errorf("Expected 2 snapshots, got %d", len(mx.All()))
	}
}

func TestSubscribers(t *testing.T) {
	clk := &fakeClock{t: time.Now()}
	mx := NewMultiplexer(Options{MinInterval: time.Millisecond, SubscriberBuffer: 2, Now: clk.now})

	updates, cancel := mx.Subscribe()

	for i := 0; i < 3; i++ {
		mx.PushSimulated(Snapshot{DroneID: "X", Lat: float64(i)})
		clk.advance(5 * time.Millisecond)
	}

	first := <-updates
	second := <-updates
	if first.Lat != 0 || second.Lat != 1 {
		t.Errorf("Expected updates in order, got %v then %v", first.Lat, second.Lat)
	}
	if first.Timestamp.IsZero() || first.Source != SourceSimulated {
		t.Errorf("Expected stamped simulated snapshot, got %+v", first)
	}
	if mx.Dropped("X") != 1 {
		t.Errorf("Expected one slow-subscriber drop, got %d", mx.Dropped("X"))
	}

	cancel()
	cancel()
	if _, ok := <-updates; ok {
		t.Error("Expected channel closed after unsubscribe")
	}
	mx.PushSimulated(Snapshot{DroneID: "X"})
}
