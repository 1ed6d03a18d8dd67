package mission

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestThresholdsEvaluate(t *testing.T) {
	calm := Conditions{WindSpeedMps: 4, VisibilityMeters: 10000, PrecipitationMmHr: 0, TemperatureC: 22}

	tests := []struct {
		name     string
		profile  string
		mutate   func(c *Conditions)
		wantSafe bool
		wantRisk RiskLevel
	}{
		{"calm", "standard", func(*Conditions) {}, true, RiskLow},
		{"strong wind", "standard", func(c *Conditions) { c.WindSpeedMps = 20 }, false, RiskHigh},
		{"heavy rain", "standard", func(c *Conditions) { c.PrecipitationMmHr = 12 }, false, RiskHigh},
		{"fog", "standard", func(c *Conditions) { c.VisibilityMeters = 1000 }, false, RiskMedium},
		{"cold", "standard", func(c *Conditions) { c.TemperatureC = -20 }, false, RiskMedium},
		{"wind and fog", "standard", func(c *Conditions) { c.WindSpeedMps = 20; c.VisibilityMeters = 1000 }, false, RiskHigh},
		{"heavy drone in moderate wind", "heavy", func(c *Conditions) { c.WindSpeedMps = 13 }, false, RiskHigh},
		{"light drone in moderate wind", "light", func(c *Conditions) { c.WindSpeedMps = 17 }, true, RiskLow},
		{"unknown profile falls back", "glider", func(c *Conditions) { c.WindSpeedMps = 16 }, false, RiskHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := calm
			tt.mutate(&c)
			a := ProfileThresholds(tt.profile).Evaluate(c)
			if a.Safe != tt.wantSafe || a.RiskLevel != tt.wantRisk {
				t.Errorf("Expected safe=%v risk=%s, got safe=%v risk=%s", tt.wantSafe, tt.wantRisk, a.Safe, a.RiskLevel)
			}
			if !a.Safe && len(a.Reasons) == 0 {
				t.Error("Expected reasons for an unsafe assessment")
			}
		})
	}
}

func TestThresholdGate(t *testing.T) {
	gate := NewThresholdGate(ProfileThresholds("standard"), Conditions{VisibilityMeters: 10000, TemperatureC: 20})

	if a := gate.CheckSafety(0, 0); !a.Safe {
		t.Fatalf("Expected safe, got %+v", a)
	}

	gate.SetConditions(Conditions{WindSpeedMps: 25, VisibilityMeters: 10000, TemperatureC: 20})
	if a := gate.CheckSafety(0, 0); a.Safe || a.RiskLevel != RiskHigh {
		t.Errorf("Expected HIGH risk after update, got %+v", a)
	}
	if gate.Conditions().WindSpeedMps != 25 {
		t.Errorf("Expected conditions to be stored, got %+v", gate.Conditions())
	}
}

func TestRandomScanner(t *testing.T) {
	payload := map[string]interface{}{"order": "Order-w1"}
	wp := Waypoint{ID: "w1", Checkpoint: payload}

	t.Run("always succeeds", func(t *testing.T) {
		s := &RandomScanner{Rand: NewRand(1), SuccessProbability: 1}
		res, err := s.Scan(context.Background(), wp)
		if err != nil || !res.Success {
			t.Fatalf("Expected success, got %+v %v", res, err)
		}
		if res.Checkpoint["order"] != "Order-w1" {
			t.Errorf("Expected payload passed through, got %v", res.Checkpoint)
		}
	})

	t.Run("always fails", func(t *testing.T) {
		s := &RandomScanner{Rand: NewRand(1), SuccessProbability: 0}
		res, err := s.Scan(context.Background(), wp)
		if err != nil || res.Success {
			t.Fatalf("Expected failure, got %+v %v", res, err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		s := &RandomScanner{Rand: NewRand(1), SuccessProbability: 1, Duration: time.Hour}
		if _, err := s.Scan(ctx, wp); !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	})

	t.Run("seeded rate", func(t *testing.T) {
		s := &RandomScanner{Rand: NewRand(7), SuccessProbability: DefaultScanSuccessProbability}
		ok := 0
		for i := 0; i < 1000; i++ {
			if res, _ := s.Scan(context.Background(), wp); res.Success {
				ok++
			}
		}
		if ok < 850 || ok > 950 {
			t.Errorf("Expected roughly 90%% success, got %d/1000", ok)
		}
	})
}

func TestUniformIncrements(t *testing.T) {
	u := UniformIncrements{Rand: NewRand(3), Min: DefaultMinIncrement, Max: DefaultMaxIncrement}
	for i := 0; i < 1000; i++ {
		v := u.Next()
		if v < DefaultMinIncrement || v > DefaultMaxIncrement {
			t.Fatalf("Increment %v outside [%v, %v]", v, DefaultMinIncrement, DefaultMaxIncrement)
		}
	}

	a := UniformIncrements{Rand: NewRand(9), Min: 0.4, Max: 1.2}
	b := UniformIncrements{Rand: NewRand(9), Min: 0.4, Max: 1.2}
	for i := 0; i < 10; i++ {
		if a.Next() != b.Next() {
			t.Fatal("Expected identical sequences for identical seeds")
		}
	}
}
