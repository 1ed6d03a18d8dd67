package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/picogrid/legion-missions/pkg/mission"
	"github.com/picogrid/legion-missions/pkg/telemetry"
)

// EngineConfig holds the complete mission engine configuration
type EngineConfig struct {
	// Seed for progress increments and the simulated scanner; 0 uses the clock
	Seed int64 `yaml:"seed"`

	Mission   mission.Config  `yaml:"mission"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Safety    SafetyConfig    `yaml:"safety"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Server    ServerConfig    `yaml:"server"`
	Legion    LegionConfig    `yaml:"legion"`
	Logging   LoggingConfig   `yaml:"logging"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

// ScannerConfig tunes the simulated checkpoint scanner
type ScannerConfig struct {
	SuccessProbability float64       `yaml:"success_probability"`
	Duration           time.Duration `yaml:"duration"`
}

// SafetyConfig selects the drone profile and the starting weather
type SafetyConfig struct {
	Profile    string             `yaml:"profile"` // "standard", "heavy", "light"
	Conditions mission.Conditions `yaml:"conditions"`
}

// TelemetryConfig tunes the multiplexer
type TelemetryConfig struct {
	FreshnessWindow  time.Duration `yaml:"freshness_window"`
	MinInterval      time.Duration `yaml:"min_interval"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
	Retention        time.Duration `yaml:"retention"`
}

// MQTTConfig configures the inbound telemetry feed. An empty broker
// disables it.
type MQTTConfig struct {
	Broker         string        `yaml:"broker,omitempty"`
	Topic          string        `yaml:"topic"`
	ClientID       string        `yaml:"client_id,omitempty"`
	Username       string        `yaml:"username,omitempty"`
	Password       string        `yaml:"password,omitempty"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// LegionConfig configures publishing of drone positions to Legion
type LegionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Environment    string        `yaml:"environment,omitempty"`
	OrganizationID string        `yaml:"organization_id,omitempty"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
}

// LoggingConfig configures console and file logging
type LoggingConfig struct {
	Level      string `yaml:"level"`
	NoColor    bool   `yaml:"no_color"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ArchiveConfig bounds the number of finished missions kept for queries
type ArchiveConfig struct {
	Size int `yaml:"size"`
}

var validLevels = []string{"debug", "info", "warn", "error"}

// Validate checks if the configuration is valid
func (c *EngineConfig) Validate() error {
	if err := c.Mission.Validate(); err != nil {
		return fmt.Errorf("mission: %w", err)
	}

	if c.Scanner.SuccessProbability < 0 || c.Scanner.SuccessProbability > 1 {
		return fmt.Errorf("scanner success probability must be between 0.0 and 1.0")
	}
	if c.Scanner.Duration < 0 {
		return fmt.Errorf("scanner duration must not be negative")
	}

	if _, ok := mission.Profiles[strings.ToLower(c.Safety.Profile)]; !ok {
		return fmt.Errorf("unknown safety profile %q", c.Safety.Profile)
	}

	if c.Telemetry.FreshnessWindow <= 0 {
		return fmt.Errorf("telemetry freshness window must be positive")
	}
	if c.Telemetry.MinInterval < 0 {
		return fmt.Errorf("telemetry min interval must not be negative")
	}
	if c.Telemetry.Retention < c.Telemetry.FreshnessWindow {
		return fmt.Errorf("telemetry retention must be at least the freshness window")
	}
	if c.Telemetry.SubscriberBuffer <= 0 {
		return fmt.Errorf("telemetry subscriber buffer must be positive")
	}

	if c.MQTT.Broker != "" && c.MQTT.Topic == "" {
		return fmt.Errorf("mqtt topic is required when a broker is set")
	}

	if c.Server.Enabled && c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}

	if c.Legion.Enabled {
		if c.Legion.FlushInterval <= 0 {
			return fmt.Errorf("legion flush interval must be positive")
		}
		if c.Legion.MaxConcurrent <= 0 {
			return fmt.Errorf("legion max concurrent must be positive")
		}
	}

	if !isValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}

	if c.Archive.Size <= 0 {
		return fmt.Errorf("archive size must be positive")
	}

	return nil
}

// String returns a human-readable summary
func (c *EngineConfig) String() string {
	mqtt := "disabled"
	if c.MQTT.Broker != "" {
		mqtt = c.MQTT.Broker + " " + c.MQTT.Topic
	}
	server := "disabled"
	if c.Server.Enabled {
		server = c.Server.ListenAddr
	}
	return fmt.Sprintf(`Engine Configuration:
  Tick Interval: %v
  Phases: takeoff %.0f%%, return %.0f%%
  Scan: %.0f%% success, %d retries, %ds hold
  Safety Profile: %s
  MQTT: %s
  Server: %s
  Legion Publishing: %v`,
		c.Mission.TickInterval,
		c.Mission.TakeoffPercent, c.Mission.ReturnPercent,
		c.Scanner.SuccessProbability*100, c.Mission.MaxScanRetries, c.Mission.HoldSeconds,
		c.Safety.Profile,
		mqtt,
		server,
		c.Legion.Enabled)
}

// GetDefaultConfig returns the default configuration
func GetDefaultConfig() *EngineConfig {
	return &EngineConfig{
		Mission: mission.DefaultConfig(),
		Scanner: ScannerConfig{
			SuccessProbability: mission.DefaultScanSuccessProbability,
			Duration:           mission.DefaultScanDuration,
		},
		Safety: SafetyConfig{
			Profile: "standard",
			Conditions: mission.Conditions{
				WindSpeedMps:     4,
				VisibilityMeters: 10000,
				TemperatureC:     22,
			},
		},
		Telemetry: TelemetryConfig{
			FreshnessWindow:  telemetry.DefaultFreshnessWindow,
			MinInterval:      telemetry.DefaultMinInterval,
			SubscriberBuffer: telemetry.DefaultSubscriberBuffer,
			Retention:        telemetry.DefaultRetention,
		},
		MQTT: MQTTConfig{
			Topic:          telemetry.DefaultMQTTTopic,
			ConnectTimeout: 10 * time.Second,
		},
		Server: ServerConfig{
			Enabled:    true,
			ListenAddr: ":8080",
		},
		Legion: LegionConfig{
			FlushInterval: telemetry.DefaultFlushInterval,
			MaxConcurrent: telemetry.DefaultMaxConcurrent,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Archive: ArchiveConfig{
			Size: 256,
		},
	}
}

func isValidLevel(level string) bool {
	for _, valid := range validLevels {
		if strings.ToLower(level) == valid {
			return true
		}
	}
	return false
}
