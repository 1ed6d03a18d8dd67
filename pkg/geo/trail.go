package geo

const (
	DefaultTrailSpacingMeters = 10.0
	DefaultTrailCapacity      = 500
)

// Trail is the recent flight path of one drone. Points closer than the
// spacing to the last recorded point are ignored and only the newest
// capacity points are kept.
type Trail struct {
	spacing  float64
	capacity int
	points   []Point
}

// NewTrail creates a trail; zero arguments fall back to the defaults
func NewTrail(spacingMeters float64, capacity int) *Trail {
	if spacingMeters <= 0 {
		spacingMeters = DefaultTrailSpacingMeters
	}
	if capacity <= 0 {
		capacity = DefaultTrailCapacity
	}
	return &Trail{spacing: spacingMeters, capacity: capacity}
}

// Add records p and reports whether it was kept
func (t *Trail) Add(p Point) bool {
	if n := len(t.points); n > 0 && DistanceMeters(t.points[n-1], p) < t.spacing {
		return false
	}
	t.points = append(t.points, p)
	if over := len(t.points) - t.capacity; over > 0 {
		t.points = append(t.points[:0:0], t.points[over:]...)
	}
	return true
}

// Points returns a copy of the recorded points, oldest first
func (t *Trail) Points() []Point {
	out := make([]Point, len(t.points))
	copy(out, t.points)
	return out
}

// Len returns the number of recorded points
func (t *Trail) Len() int { return len(t.points) }
