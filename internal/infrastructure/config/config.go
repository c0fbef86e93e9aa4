package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the transfer daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Station    StationConfig    `yaml:"station"`
	Controller ControllerConfig `yaml:"controller"`
	Engine     EngineConfig     `yaml:"engine"`
	Positions  PositionsConfig  `yaml:"positions"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StationConfig identifies the physical transfer station.
type StationConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// ControllerConfig contains motion controller connection settings.
type ControllerConfig struct {
	// Connection is a URL selecting the transport:
	// "serial:///dev/ttyUSB0", "tcp://host:port" or "sim://".
	Connection string `yaml:"connection"`

	// BaudRate applies to serial connections only. Default: 115200
	BaudRate int `yaml:"baud_rate"`

	// CommandTimeout bounds a single request/reply exchange. Default: 2s
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// HomePollInterval is how often an axis is polled for idle while homing.
	HomePollInterval time.Duration `yaml:"home_poll_interval"`

	// Axes maps each stage axis to a controller device and axis number.
	Axes AxesConfig `yaml:"axes"`

	// IODevices maps the XY and Z I/O groups to controller device numbers.
	IODevices IODevicesConfig `yaml:"io_devices"`
}

// AxesConfig holds the addressing of the three stage axes.
type AxesConfig struct {
	X AxisAddress `yaml:"x"`
	Y AxisAddress `yaml:"y"`
	Z AxisAddress `yaml:"z"`
}

// AxisAddress is a controller device number plus the axis number on that device.
type AxisAddress struct {
	Device int `yaml:"device"`
	Axis   int `yaml:"axis"`
}

// IODevicesConfig holds the device numbers carrying digital I/O.
type IODevicesConfig struct {
	XY int `yaml:"xy"`
	Z  int `yaml:"z"`
}

// EngineConfig contains timing and tolerance settings for the sequencing engine.
type EngineConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	ZoneTolerance     int64         `yaml:"zone_tolerance"`
	InterlockInterval time.Duration `yaml:"interlock_interval"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	ResettleDelay     time.Duration `yaml:"resettle_delay"`
	CompletePulse     time.Duration `yaml:"complete_pulse"`
	ScanDuration      time.Duration `yaml:"scan_duration"`

	// SignalTimeout bounds waits on handshake inputs after a cycle has
	// started. Zero disables the bound.
	SignalTimeout time.Duration `yaml:"signal_timeout"`

	// ArrivalTimeout bounds waits on zone arrival. Zero disables the bound.
	ArrivalTimeout time.Duration `yaml:"arrival_timeout"`

	HomeOnConnect bool `yaml:"home_on_connect"`

	// ClearToLoad is the XY line the sequencer reads as CTL.
	ClearToLoad SignalConfig `yaml:"clear_to_load"`
}

// SignalConfig locates a handshake line on the XY controller.
type SignalConfig struct {
	// Bank is "input" or "output".
	Bank string `yaml:"bank"`

	// Channel is 1-based.
	Channel int `yaml:"channel"`
}

// PositionsConfig contains zone target persistence settings.
type PositionsConfig struct {
	// ImportFile is a legacy transfer_positions.json imported on first start
	// when the position store is empty.
	ImportFile string `yaml:"import_file"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetention is how long cycle and fault rows are kept.
	// Zero keeps them forever.
	HistoryRetention time.Duration `yaml:"history_retention"`
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

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// CORSConfig lists what browsers may call the API. An empty AllowedOrigins
// allows every origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TRANSFERD_SECTION_KEY
// For example: TRANSFERD_DATABASE_PATH, TRANSFERD_CONTROLLER_CONNECTION
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

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

// Default returns a Config with sensible defaults for a single bench station
// connected over USB serial.
func Default() *Config {
	return &Config{
		Station: StationConfig{
			ID:   "station-001",
			Name: "Transfer Station",
		},
		Controller: ControllerConfig{
			Connection:       "serial:///dev/ttyUSB0",
			BaudRate:         115200,
			CommandTimeout:   2 * time.Second,
			HomePollInterval: 100 * time.Millisecond,
			Axes: AxesConfig{
				X: AxisAddress{Device: 1, Axis: 1},
				Y: AxisAddress{Device: 1, Axis: 2},
				Z: AxisAddress{Device: 2, Axis: 1},
			},
			IODevices: IODevicesConfig{XY: 1, Z: 2},
		},
		Engine: EngineConfig{
			PollInterval:      250 * time.Millisecond,
			ZoneTolerance:     200,
			InterlockInterval: 50 * time.Millisecond,
			SettleDelay:       250 * time.Millisecond,
			ResettleDelay:     500 * time.Millisecond,
			CompletePulse:     time.Second,
			ScanDuration:      10 * time.Second,
			SignalTimeout:     10 * time.Minute,
			ArrivalTimeout:    2 * time.Minute,
			HomeOnConnect:     true,
			ClearToLoad:       SignalConfig{Bank: "input", Channel: 4},
		},
		Positions: PositionsConfig{
			ImportFile: "./transfer_positions.json",
		},
		Database: DatabaseConfig{
			Path:             "./data/transferd.db",
			WALMode:          true,
			BusyTimeout:      5,
			HistoryRetention: 90 * 24 * time.Hour,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "transferd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "lab",
			Bucket:        "transfer",
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TRANSFERD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Controller
	if v := os.Getenv("TRANSFERD_CONTROLLER_CONNECTION"); v != "" {
		cfg.Controller.Connection = v
	}

	// Database
	if v := os.Getenv("TRANSFERD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("TRANSFERD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TRANSFERD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TRANSFERD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("TRANSFERD_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("TRANSFERD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Station.ID == "" {
		errs = append(errs, "station.id is required")
	}

	// Controller validation
	if c.Controller.Connection == "" {
		errs = append(errs, "controller.connection is required")
	} else if u, err := url.Parse(c.Controller.Connection); err != nil {
		errs = append(errs, fmt.Sprintf("controller.connection is not a valid URL: %v", err))
	} else {
		switch u.Scheme {
		case "serial", "tcp", "sim":
		default:
			errs = append(errs, fmt.Sprintf("controller.connection scheme %q must be serial, tcp or sim", u.Scheme))
		}
	}
	if c.Controller.CommandTimeout <= 0 {
		errs = append(errs, "controller.command_timeout must be positive")
	}
	for name, a := range map[string]AxisAddress{"x": c.Controller.Axes.X, "y": c.Controller.Axes.Y, "z": c.Controller.Axes.Z} {
		if a.Device < 1 || a.Axis < 1 {
			errs = append(errs, fmt.Sprintf("controller.axes.%s requires device and axis >= 1", name))
		}
	}
	if c.Controller.IODevices.XY < 1 || c.Controller.IODevices.Z < 1 {
		errs = append(errs, "controller.io_devices.xy and .z must be >= 1")
	}

	// Engine validation
	if c.Engine.PollInterval <= 0 {
		errs = append(errs, "engine.poll_interval must be positive")
	}
	if c.Engine.ZoneTolerance <= 0 {
		errs = append(errs, "engine.zone_tolerance must be positive")
	}
	if c.Engine.ScanDuration < 0 || c.Engine.SettleDelay < 0 || c.Engine.ResettleDelay < 0 || c.Engine.CompletePulse < 0 {
		errs = append(errs, "engine delays must not be negative")
	}
	if c.Engine.SignalTimeout < 0 || c.Engine.ArrivalTimeout < 0 {
		errs = append(errs, "engine timeouts must not be negative")
	}
	if b := c.Engine.ClearToLoad.Bank; b != "input" && b != "output" {
		errs = append(errs, fmt.Sprintf("engine.clear_to_load.bank %q must be input or output", b))
	}
	if c.Engine.ClearToLoad.Channel < 1 {
		errs = append(errs, "engine.clear_to_load.channel must be >= 1")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.HistoryRetention < 0 {
		errs = append(errs, "database.history_retention must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
