package mission

import (
	"context"
	"time"
)

const (
	DefaultScanSuccessProbability = 0.9
	DefaultScanDuration           = 1500 * time.Millisecond
)

// ScanResult is the outcome of one checkpoint scan attempt
type ScanResult struct {
	Success    bool
	Checkpoint map[string]interface{}
	Duration   time.Duration
}

// Scanner verifies a checkpoint at a waypoint. Each call is independent;
// retry bookkeeping belongs to the state machine.
type Scanner interface {
	Scan(ctx context.Context, wp Waypoint) (ScanResult, error)
}

// ScanRequest asks the caller to run a scan and report back with the same
// index and attempt number.
type ScanRequest struct {
	WaypointIndex int
	Waypoint      Waypoint
	Attempt       int
}

// RandomScanner succeeds with a fixed probability after a fixed delay
type RandomScanner struct {
	Rand               *Rand
	SuccessProbability float64
	Duration           time.Duration
}

// NewRandomScanner creates a scanner with the stock probability and delay
func NewRandomScanner(r *Rand) *RandomScanner {
	return &RandomScanner{
		Rand:               r,
		SuccessProbability: DefaultScanSuccessProbability,
		Duration:           DefaultScanDuration,
	}
}

func (s *RandomScanner) Scan(ctx context.Context, wp Waypoint) (ScanResult, error) {
	start := time.Now()
	if s.Duration > 0 {
		timer := time.NewTimer(s.Duration)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ScanResult{Checkpoint: wp.Checkpoint}, ctx.Err()
		case <-timer.C:
		}
	}

	return ScanResult{
		Success:    s.Rand.Float64() < s.SuccessProbability,
		Checkpoint: wp.Checkpoint,
		Duration:   time.Since(start),
	}, nil
}
