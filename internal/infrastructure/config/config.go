package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the dispensing cell
// controller. All configuration is loaded from YAML and can be overridden
// by environment variables.
type Config struct {
	Cell     CellConfig     `yaml:"cell"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Bus      BusConfig      `yaml:"bus"`
	Motion   MotionConfig   `yaml:"motion"`
	Sensing  SensingConfig  `yaml:"sensing"`
	Tooling  ToolingConfig  `yaml:"tooling"`
}

// CellConfig contains the cell's physical geometry and cycle defaults.
// Distances are millimetres, speeds millimetres per second.
type CellConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// CapturePose parks the nozzle clear of the camera's view.
	CapturePose PoseConfig `yaml:"capture_pose"`

	// CleanPose positions the nozzle over the cleaning station.
	CleanPose PoseConfig `yaml:"clean_pose"`

	CleanValveID int     `yaml:"clean_valve_id"`
	CleanPulse   float64 `yaml:"clean_pulse_seconds"`

	TravelSpeed float64 `yaml:"travel_speed"`
	Clearance   float64 `yaml:"clearance"`
	PickupZ     float64 `yaml:"pickup_z"`

	WorkArea      WorkAreaConfig `yaml:"work_area"`
	NestingMargin float64        `yaml:"nesting_margin"`

	MatchThreshold float64 `yaml:"match_threshold"`

	DefaultGlue GlueConfig `yaml:"default_glue"`
}

// PoseConfig is a 6-DOF pose in the robot base frame.
type PoseConfig struct {
	X  float64 `yaml:"x"`
	Y  float64 `yaml:"y"`
	Z  float64 `yaml:"z"`
	RX float64 `yaml:"rx"`
	RY float64 `yaml:"ry"`
	RZ float64 `yaml:"rz"`
}

// WorkAreaConfig bounds nested part placement.
type WorkAreaConfig struct {
	MinX float64 `yaml:"min_x"`
	MinY float64 `yaml:"min_y"`
	MaxX float64 `yaml:"max_x"`
	MaxY float64 `yaml:"max_y"`
}

// GlueConfig is the glue applied to contours with no stored workpiece.
type GlueConfig struct {
	ValveID    int     `yaml:"valve_id"`
	Speed      float64 `yaml:"speed"`
	FlowRate   float64 `yaml:"flow_rate"`
	BeadHeight float64 `yaml:"bead_height"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings for cycle
// statistics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// BusConfig contains topic bus settings.
type BusConfig struct {
	// RequestTimeout is the default request/response timeout in seconds.
	RequestTimeout float64 `yaml:"request_timeout"`
}

// MotionConfig contains motion subsystem settings.
type MotionConfig struct {
	// CommandTimeout bounds each synchronous hardware command, seconds.
	CommandTimeout float64 `yaml:"command_timeout"`
}

// SensingConfig contains sensing subsystem settings.
type SensingConfig struct {
	CaptureAttempts int     `yaml:"capture_attempts"`
	RetryDelay      float64 `yaml:"retry_delay_seconds"`
}

// ToolingConfig contains tooling subsystem settings.
type ToolingConfig struct {
	// TelemetryInterval is the height/vacuum poll period, seconds.
	TelemetryInterval float64 `yaml:"telemetry_interval"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DISPENSE_SECTION_KEY
// For example: DISPENSE_DATABASE_PATH, DISPENSE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Cell: CellConfig{
			ID:             "cell-001",
			Name:           "Dispensing Cell",
			CapturePose:    PoseConfig{X: 0, Y: -300, Z: 400},
			CleanPose:      PoseConfig{X: 350, Y: -300, Z: 60},
			CleanValveID:   0,
			CleanPulse:     1.0,
			TravelSpeed:    200,
			Clearance:      30,
			PickupZ:        15,
			WorkArea:       WorkAreaConfig{MinX: -250, MinY: -250, MaxX: 250, MaxY: 250},
			NestingMargin:  10,
			MatchThreshold: 0.85,
			DefaultGlue: GlueConfig{
				ValveID:    0,
				Speed:      50,
				FlowRate:   1.0,
				BeadHeight: 3,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/dispense.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "dispense-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Bus: BusConfig{
			RequestTimeout: 1.0,
		},
		Motion: MotionConfig{
			CommandTimeout: 15.0,
		},
		Sensing: SensingConfig{
			CaptureAttempts: 3,
			RetryDelay:      0.25,
		},
		Tooling: ToolingConfig{
			TelemetryInterval: 0.5,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables follow the pattern:
// DISPENSE_SECTION_KEY.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DISPENSE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("DISPENSE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DISPENSE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("DISPENSE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DISPENSE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("DISPENSE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("DISPENSE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Cell.ID == "" {
		errs = append(errs, "cell.id is required")
	}
	if c.Cell.TravelSpeed <= 0 {
		errs = append(errs, "cell.travel_speed must be positive")
	}
	if c.Cell.Clearance <= 0 {
		errs = append(errs, "cell.clearance must be positive")
	}
	if c.Cell.WorkArea.MaxX <= c.Cell.WorkArea.MinX || c.Cell.WorkArea.MaxY <= c.Cell.WorkArea.MinY {
		errs = append(errs, "cell.work_area must have positive extent")
	}
	if c.Cell.MatchThreshold < 0 || c.Cell.MatchThreshold > 1 {
		errs = append(errs, "cell.match_threshold must be between 0 and 1")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set DISPENSE_INFLUXDB_TOKEN)")
		}
	}

	if c.Bus.RequestTimeout <= 0 {
		errs = append(errs, "bus.request_timeout must be positive")
	}
	if c.Motion.CommandTimeout <= 0 {
		errs = append(errs, "motion.command_timeout must be positive")
	}
	if c.Sensing.CaptureAttempts < 1 {
		errs = append(errs, "sensing.capture_attempts must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// RequestTimeout returns the bus request timeout as a Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Bus.RequestTimeout * float64(time.Second))
}

// CommandTimeout returns the motion command timeout as a Duration.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Motion.CommandTimeout * float64(time.Second))
}

// RetryDelay returns the sensing capture retry delay as a Duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Sensing.RetryDelay * float64(time.Second))
}

// TelemetryInterval returns the tooling poll period as a Duration.
func (c *Config) TelemetryInterval() time.Duration {
	return time.Duration(c.Tooling.TelemetryInterval * float64(time.Second))
}

// CleanPulse returns the nozzle clean purge duration as a Duration.
func (c *Config) CleanPulse() time.Duration {
	return time.Duration(c.Cell.CleanPulse * float64(time.Second))
}
