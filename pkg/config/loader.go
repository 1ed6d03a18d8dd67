package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/picogrid/legion-missions/pkg/logger"
	"github.com/picogrid/legion-missions/pkg/mission"
)

// LoadConfig loads configuration from a YAML file. Keys missing from the
// file keep their default values.
func LoadConfig(path string) (*EngineConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadConfigOrDefault loads config from file or returns default, with environment overrides
func LoadConfigOrDefault(path string) (*EngineConfig, error) {
	var config *EngineConfig
	var err error

	if path != "" {
		config, err = LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}

	if config == nil {
		for _, p := range defaultPaths() {
			if _, statErr := os.Stat(p); statErr != nil {
				continue
			}
			config, err = LoadConfig(p)
			if err != nil {
				logger.Warnf("Could not load config from %s: %v", p, err)
				continue
			}
			logger.Debugf("Loaded config from: %s", p)
			break
		}
	}

	if config == nil {
		logger.Debug("Using default configuration")
		config = GetDefaultConfig()
	}

	// Always apply environment variable overrides
	MergeWithEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration invalid after environment overrides: %w", err)
	}
	return config, nil
}

func defaultPaths() []string {
	paths := []string{
		"legion-missions.yaml",
		"config.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, configDirName, "config.yaml"))
	}
	return paths
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *EngineConfig, path string) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// MergeWithCLIOverrides applies CLI flag overrides to the configuration.
// Values of the wrong type or out of range are ignored.
func MergeWithCLIOverrides(config *EngineConfig, overrides map[string]interface{}) {
	for key, value := range overrides {
		switch key {
		case "tick_interval":
			if d, ok := value.(time.Duration); ok && d > 0 {
				config.Mission.TickInterval = d
			}
		case "seed":
			if seed, ok := value.(int64); ok {
				config.Seed = seed
			}
		case "max_scan_retries":
			if n, ok := value.(int); ok && n > 0 {
				config.Mission.MaxScanRetries = n
			}
		case "scan_success_probability":
			if p, ok := value.(float64); ok && p >= 0 && p <= 1 {
				config.Scanner.SuccessProbability = p
			}
		case "weather_profile":
			if profile, ok := value.(string); ok {
				if _, known := mission.Profiles[strings.ToLower(profile)]; known {
					config.Safety.Profile = strings.ToLower(profile)
				}
			}
		case "mqtt_broker":
			if broker, ok := value.(string); ok {
				config.MQTT.Broker = broker
			}
		case "listen_addr":
			if addr, ok := value.(string); ok && addr != "" {
				config.Server.ListenAddr = addr
				config.Server.Enabled = true
			}
		case "no_server":
			if off, ok := value.(bool); ok && off {
				config.Server.Enabled = false
			}
		case "legion":
			if enable, ok := value.(bool); ok {
				config.Legion.Enabled = enable
			}
		case "log_level":
			if level, ok := value.(string); ok && isValidLevel(level) {
				config.Logging.Level = strings.ToLower(level)
			}
		}
	}
}

// LoadConfigWithOverrides loads config and applies both environment and CLI overrides
func LoadConfigWithOverrides(path string, cliOverrides map[string]interface{}) (*EngineConfig, error) {
	config, err := LoadConfigOrDefault(path)
	if err != nil {
		return nil, err
	}

	if cliOverrides != nil {
		MergeWithCLIOverrides(config, cliOverrides)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed after overrides: %w", err)
	}

	return config, nil
}

// MergeWithEnvironment merges config with environment variables
func MergeWithEnvironment(config *EngineConfig) {
	if v := os.Getenv("MISSION_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			config.Mission.TickInterval = d
		}
	}

	if v := os.Getenv("MISSION_TAKEOFF_PERCENT"); v != "" {
		if pct, err := strconv.ParseFloat(v, 64); err == nil {
			config.Mission.TakeoffPercent = pct
		}
	}

	if v := os.Getenv("MISSION_RETURN_PERCENT"); v != "" {
		if pct, err := strconv.ParseFloat(v, 64); err == nil {
			config.Mission.ReturnPercent = pct
		}
	}

	if v := os.Getenv("MISSION_MAX_SCAN_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Mission.MaxScanRetries = n
		}
	}

	if v := os.Getenv("MISSION_HOLD_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			config.Mission.HoldSeconds = n
		}
	}

	if v := os.Getenv("MISSION_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Seed = seed
		}
	}

	if v := os.Getenv("MQTT_BROKER"); v != "" {
		config.MQTT.Broker = v
	}

	if v := os.Getenv("MQTT_TOPIC"); v != "" {
		config.MQTT.Topic = v
	}

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		config.Server.ListenAddr = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" && isValidLevel(v) {
		config.Logging.Level = strings.ToLower(v)
	}

	if v := os.Getenv("LOG_FILE"); v != "" {
		config.Logging.File = v
	}

	if v := os.Getenv("LEGION_ORGANIZATION_ID"); v != "" {
		config.Legion.OrganizationID = v
	}

	if v := os.Getenv("WEATHER_PROFILE"); v != "" {
		if _, known := mission.Profiles[strings.ToLower(v)]; known {
			config.Safety.Profile = strings.ToLower(v)
		}
	}
}
