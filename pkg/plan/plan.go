package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/picogrid/legion-missions/pkg/geo"
	"github.com/picogrid/legion-missions/pkg/mission"
)

// Suffix marks mission plan files
const Suffix = ".plan.yaml"

// Plan is a mission for one drone as stored on disk
type Plan struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description,omitempty"`
	DroneID     string             `yaml:"drone_id"`
	Home        geo.Point          `yaml:"home"`
	Waypoints   []mission.Waypoint `yaml:"waypoints"`
}

// ApplyDefaults names unnamed waypoints wp-<n> and gives waypoints without
// a checkpoint payload the order payload {"order": "Order-<id>"}
func (p *Plan) ApplyDefaults() {
	if p.Name == "" {
		p.Name = p.DroneID
	}
	for i := range p.Waypoints {
		wp := &p.Waypoints[i]
		if wp.ID == "" {
			wp.ID = fmt.Sprintf("wp-%d", i+1)
		}
		if wp.Checkpoint == nil {
			wp.Checkpoint = DefaultCheckpoint(wp.ID)
		}
	}
}

// DefaultCheckpoint is the payload used when a waypoint declares none
func DefaultCheckpoint(waypointID string) map[string]interface{} {
	return map[string]interface{}{"order": "Order-" + waypointID}
}

// RouteLength is the distance in meters from home through every waypoint
// and back home
func (p *Plan) RouteLength() float64 {
	var total float64
	prev := p.Home
	for _, wp := range p.Waypoints {
		total += geo.DistanceMeters(prev, wp.Point())
		prev = wp.Point()
	}
	return total + geo.DistanceMeters(prev, p.Home)
}

// Validate checks the plan can be started
func (p *Plan) Validate() error {
	if err := mission.ValidatePlan(p.DroneID, p.Home, p.Waypoints); err != nil {
		return err
	}
	seen := make(map[string]bool, len(p.Waypoints))
	for i, wp := range p.Waypoints {
		if wp.ID == "" {
			continue
		}
		if seen[wp.ID] {
			return fmt.Errorf("waypoint %d: duplicate id %q", i, wp.ID)
		}
		seen[wp.ID] = true
	}
	return nil
}

// Load reads, defaults and validates a plan file
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}

	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", filepath.Base(path), err)
	}
	return &p, nil
}

// Save writes a plan file, adding the plan suffix when missing
func Save(p *Plan, path string) (string, error) {
	if !strings.HasSuffix(path, Suffix) {
		path = strings.TrimSuffix(path, filepath.Ext(path)) + Suffix
	}
	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("invalid plan: %w", err)
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal plan: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create plan directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write plan: %w", err)
	}
	return path, nil
}
