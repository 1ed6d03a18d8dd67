package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"

	"github.com/picogrid/legion-missions/pkg/mission"
)

// Prompts read LEGION_<KEY> environment variables as defaults. With
// LEGION_SKIP_PROMPTS=true the defaults are taken without asking.
const skipPromptsEnv = "LEGION_SKIP_PROMPTS"

const waypointSpacingDegrees = 0.003

func skipPrompts() bool {
	return os.Getenv(skipPromptsEnv) == "true"
}

type field struct {
	key      string
	message  string
	def      string
	validate func(string) error
}

func ask(f field) (string, error) {
	if v := os.Getenv("LEGION_" + strings.ToUpper(f.key)); v != "" {
		f.def = v
	}
	check := func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", f.key)
		}
		if f.validate != nil {
			return f.validate(s)
		}
		return nil
	}

	if skipPrompts() {
		if err := check(f.def); err != nil {
			return "", err
		}
		return f.def, nil
	}

	var result string
	prompt := &survey.Input{Message: f.message, Default: f.def}
	if err := survey.AskOne(prompt, &result, survey.WithValidator(func(val interface{}) error {
		return check(val.(string))
	})); err != nil {
		return "", err
	}
	return strings.TrimSpace(result), nil
}

func askFloat(key, message string, def, min, max float64) (float64, error) {
	s, err := ask(field{
		key:     key,
		message: message,
		def:     strconv.FormatFloat(def, 'f', -1, 64),
		validate: func(s string) error {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return fmt.Errorf("invalid number")
			}
			if v < min || v > max {
				return fmt.Errorf("value must be between %g and %g", min, max)
			}
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func askInt(key, message string, def, min, max int) (int, error) {
	s, err := ask(field{
		key:     key,
		message: message,
		def:     strconv.Itoa(def),
		validate: func(s string) error {
			v, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return fmt.Errorf("invalid integer")
			}
			if v < min || v > max {
				return fmt.Errorf("value must be between %d and %d", min, max)
			}
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(s))
}

// Prompt builds a plan interactively. Waypoint coordinates default to a
// line heading north-east from home.
func Prompt() (*Plan, error) {
	var p Plan
	var err error

	if p.Name, err = ask(field{key: "plan_name", message: "Plan name", def: "survey"}); err != nil {
		return nil, err
	}
	if p.DroneID, err = ask(field{key: "drone_id", message: "Drone ID", def: "drone-1"}); err != nil {
		return nil, err
	}
	if p.Home.Lat, err = askFloat("home_lat", "Home latitude", 12.9716, -90, 90); err != nil {
		return nil, err
	}
	if p.Home.Lng, err = askFloat("home_lng", "Home longitude", 77.5946, -180, 180); err != nil {
		return nil, err
	}

	count, err := askInt("waypoint_count", "Number of waypoints", 3, 1, 50)
	if err != nil {
		return nil, err
	}

	for i := 0; i < count; i++ {
		n := i + 1
		prefix := fmt.Sprintf("wp%d_", n)
		offset := waypointSpacingDegrees * float64(n)

		var wp mission.Waypoint
		if wp.ID, err = ask(field{key: prefix + "id", message: fmt.Sprintf("Waypoint %d ID", n), def: fmt.Sprintf("wp-%d", n)}); err != nil {
			return nil, err
		}
		if wp.Lat, err = askFloat(prefix+"lat", fmt.Sprintf("Waypoint %d latitude", n), p.Home.Lat+offset, -90, 90); err != nil {
			return nil, err
		}
		if wp.Lng, err = askFloat(prefix+"lng", fmt.Sprintf("Waypoint %d longitude", n), p.Home.Lng+offset, -180, 180); err != nil {
			return nil, err
		}
		order, err := ask(field{key: prefix + "order", message: fmt.Sprintf("Waypoint %d order reference", n), def: "Order-" + wp.ID})
		if err != nil {
			return nil, err
		}
		wp.Checkpoint = map[string]interface{}{"order": order}
		p.Waypoints = append(p.Waypoints, wp)
	}

	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Select lets the user choose plans to run. Without prompts every plan is
// selected.
func Select(plans []Info) ([]Info, error) {
	if len(plans) <= 1 || skipPrompts() {
		return plans, nil
	}

	options := make([]string, len(plans))
	byOption := make(map[string]Info, len(plans))
	for i, info := range plans {
		options[i] = Describe(info)
		byOption[options[i]] = info
	}

	var chosen []string
	prompt := &survey.MultiSelect{
		Message: "Select mission plans to run:",
		Options: options,
		Default: options,
	}
	if err := survey.AskOne(prompt, &chosen, survey.WithValidator(survey.MinItems(1))); err != nil {
		return nil, err
	}

	out := make([]Info, 0, len(chosen))
	for _, c := range chosen {
		out = append(out, byOption[c])
	}
	return out, nil
}

// Describe renders a one-line summary of a plan
func Describe(info Info) string {
	return fmt.Sprintf("%s (%s, %d waypoints, %.1f km) %s",
		info.Plan.Name, info.Plan.DroneID, len(info.Plan.Waypoints), info.Plan.RouteLength()/1000, filepath.Base(info.Path))
}
