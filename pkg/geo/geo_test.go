package geo

import (
	"math"
	"testing"
)

const eps = 1e-9

func TestInterpolate(t *testing.T) {
	from := Point{Lat: 0, Lng: 0}
	to := Point{Lat: 1, Lng: 2}

	tests := []struct {
		name  string
		ratio float64
		want  Point
	}{
		{"start", 0, from},
		{"end", 1, to},
		{"half", 0.5, Point{Lat: 0.5, Lng: 1}},
		{"clamped low", -0.3, from},
		{"clamped high", 1.7, to},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Interpolate(from, to, tt.ratio)
			if math.Abs(got.Lat-tt.want.Lat) > eps || math.Abs(got.Lng-tt.want.Lng) > eps {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestBearing(t *testing.T) {
	origin := Point{Lat: 0, Lng: 0}

	tests := []struct {
		name string
		to   Point
		want float64
	}{
		{"north", Point{Lat: 1, Lng: 0}, 0},
		{"east", Point{Lat: 0, Lng: 1}, 90},
		{"south", Point{Lat: -1, Lng: 0}, 180},
		{"west", Point{Lat: 0, Lng: -1}, 270},
		{"same point", origin, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bearing(origin, tt.to)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Expected bearing %v, got %v", tt.want, got)
			}
			if got < 0 || got >= 360 {
				t.Errorf("Bearing %v outside [0,360)", got)
			}
		})
	}
}

func TestBearingRange(t *testing.T) {
	pts := []Point{
		{Lat: 12.97, Lng: 77.59}, {Lat: 12.98, Lng: 77.58}, {Lat: -33.86, Lng: 151.2},
		{Lat: 51.5, Lng: -0.12}, {Lat: 89.9, Lng: 179.9}, {Lat: -89.9, Lng: -179.9},
	}
	for _, a := range pts {
		for _, b := range pts {
			h := Bearing(a, b)
			if h < 0 || h >= 360 || math.IsNaN(h) {
				t.Errorf("Bearing(%v, %v) = %v outside [0,360)", a, b, h)
			}
		}
	}
}

func TestNormalizeHeading(t *testing.T) {
	tests := map[float64]float64{
		0: 0, 360: 0, -90: 270, 450: 90, -720: 0, 359.5: 359.5,
	}
	for in, want := range tests {
		if got := NormalizeHeading(in); math.Abs(got-want) > eps {
			t.Errorf("NormalizeHeading(%v): expected %v, got %v", in, want, got)
		}
	}
}

func TestDistanceMeters(t *testing.T) {
	// One degree of latitude on a 6371 km sphere.
	got := DistanceMeters(Point{Lat: 0, Lng: 0}, Point{Lat: 1, Lng: 0})
	want := EarthRadiusMeters * math.Pi / 180
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("Expected %v m, got %v m", want, got)
	}

	if d := DistanceMeters(Point{Lat: 10, Lng: 10}, Point{Lat: 10, Lng: 10}); d != 0 {
		t.Errorf("Expected zero distance, got %v", d)
	}
}

func TestToECEF(t *testing.T) {
	x, y, z := ToECEF(Point{Lat: 0, Lng: 0}, 0)
	if math.Abs(x-wgs84A) > 1e-6 || math.Abs(y) > 1e-6 || math.Abs(z) > 1e-6 {
		t.Errorf("Expected (%v,0,0), got (%v,%v,%v)", wgs84A, x, y, z)
	}

	_, _, zPole := ToECEF(Point{Lat: 90, Lng: 0}, 100)
	polar := wgs84A * (1 - wgs84F)
	if math.Abs(zPole-(polar+100)) > 1e-3 {
		t.Errorf("Expected polar z %v, got %v", polar+100, zPole)
	}
}

func TestPointValid(t *testing.T) {
	tests := []struct {
		p    Point
		want bool
	}{
		{Point{Lat: 12.9, Lng: 77.6}, true},
		{Point{Lat: 91, Lng: 0}, false},
		{Point{Lat: 0, Lng: -181}, false},
		{Point{Lat: math.NaN(), Lng: 0}, false},
		{Point{Lat: 0, Lng: math.Inf(1)}, false},
	}
	for _, tt := range tests {
		if got := tt.p.Valid(); got != tt.want {
			t.Errorf("Valid(%+v): expected %v, got %v", tt.p, tt.want, got)
		}
	}
}

func TestTrail(t *testing.T) {
	tr := NewTrail(0, 3)

	if !tr.Add(Point{Lat: 0, Lng: 0}) {
		t.Fatal("Expected first point to be recorded")
	}
	// ~1 m away, below the 10 m spacing
	if tr.Add(Point{Lat: 0.00001, Lng: 0}) {
		t.Error("Expected close point to be skipped")
	}
	for i := 1; i <= 4; i++ {
		tr.Add(Point{Lat: float64(i) * 0.001, Lng: 0})
	}

	pts := tr.Points()
	if len(pts) != 3 {
		t.Fatalf("Expected 3 points after cap, got %d", len(pts))
	}
	if math.Abs(pts[0].Lat-0.002) > eps || math.Abs(pts[2].Lat-0.004) > eps {
		t.Errorf("Expected oldest points to be evicted, got %+v", pts)
	}
}
