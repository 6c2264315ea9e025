package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the SIAMP light server.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Twin      TwinConfig      `yaml:"twin"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServiceConfig identifies this server instance.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// TopicPrefix is the root of all device channels: {prefix}/{deviceId}/{command|state|heartbeat}.
	TopicPrefix string `yaml:"topic_prefix"`

	Publish MQTTPublishConfig `yaml:"publish"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// MQTTPublishConfig bounds how hard the command dispatcher tries before
// reporting a communication error.
type MQTTPublishConfig struct {
	// Timeout is the per-attempt wait for the broker acknowledgement (milliseconds).
	Timeout int `yaml:"timeout_ms"`

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries"`

	// InitialInterval and MaxInterval shape the exponential backoff (milliseconds).
	InitialInterval int `yaml:"initial_interval_ms"`
	MaxInterval     int `yaml:"max_interval_ms"`

	// BreakerFailures opens the circuit after this many consecutive failed dispatches.
	BreakerFailures int `yaml:"breaker_failures"`

	// BreakerOpenSeconds is how long the circuit stays open before probing again.
	BreakerOpenSeconds int `yaml:"breaker_open_seconds"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
// Tokens are issued by the account service; this server only verifies them.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// TwinConfig controls device twin reconciliation.
type TwinConfig struct {
	// LivenessThreshold marks a twin offline when no event arrived for this long (seconds).
	// Zero disables the watchdog.
	LivenessThreshold int `yaml:"liveness_threshold"`

	// WatchdogInterval is how often connected twins are swept (seconds).
	WatchdogInterval int `yaml:"watchdog_interval"`

	// DedupWindow suppresses identical redelivered events for this long (milliseconds).
	DedupWindow int `yaml:"dedup_window_ms"`
}

// SchedulerConfig controls the schedule executor loop.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`

	// TickInterval is how often due schedules are evaluated (seconds).
	TickInterval int `yaml:"tick_interval"`

	// GraceWindow is how late a slot may still fire after its minute (seconds).
	GraceWindow int `yaml:"grace_window"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SIAMP_SECTION_KEY
// For example: SIAMP_DATABASE_PATH, SIAMP_MQTT_HOST
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
		Service: ServiceConfig{
			ID:   "siamp-01",
			Name: "SIAMP Light Server",
		},
		Database: DatabaseConfig{
			Path:        "./data/siamp.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "siamp-server",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "lights",
			Publish: MQTTPublishConfig{
				Timeout:            5000,
				MaxRetries:         2,
				InitialInterval:    200,
				MaxInterval:        2000,
				BreakerFailures:    5,
				BreakerOpenSeconds: 30,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
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
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Twin: TwinConfig{
			LivenessThreshold: 120,
			WatchdogInterval:  30,
			DedupWindow:       2000,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			TickInterval: 20,
			GraceWindow:  300,
		},
	}
}

// envOverride binds one SIAMP_* variable to a config field.
type envOverride struct {
	name  string
	apply func(c *Config, v string)
}

func setString(field func(*Config) *string) func(*Config, string) {
	return func(c *Config, v string) { *field(c) = v }
}

// setInt ignores values that do not parse, keeping the file value.
func setInt(field func(*Config) *int) func(*Config, string) {
	return func(c *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			*field(c) = n
		}
	}
}

func setBool(field func(*Config) *bool) func(*Config, string) {
	return func(c *Config, v string) {
		if b, err := strconv.ParseBool(v); err == nil {
			*field(c) = b
		}
	}
}

// envOverrides lists every supported variable. Secrets belong here rather
// than in config.yaml.
var envOverrides = []envOverride{
	{"SIAMP_DATABASE_PATH", setString(func(c *Config) *string { return &c.Database.Path })},
	{"SIAMP_MQTT_HOST", setString(func(c *Config) *string { return &c.MQTT.Broker.Host })},
	{"SIAMP_MQTT_PORT", setInt(func(c *Config) *int { return &c.MQTT.Broker.Port })},
	{"SIAMP_MQTT_USERNAME", setString(func(c *Config) *string { return &c.MQTT.Auth.Username })},
	{"SIAMP_MQTT_PASSWORD", setString(func(c *Config) *string { return &c.MQTT.Auth.Password })},
	{"SIAMP_API_HOST", setString(func(c *Config) *string { return &c.API.Host })},
	{"SIAMP_API_PORT", setInt(func(c *Config) *int { return &c.API.Port })},
	{"SIAMP_INFLUXDB_URL", setString(func(c *Config) *string { return &c.InfluxDB.URL })},
	{"SIAMP_INFLUXDB_TOKEN", setString(func(c *Config) *string { return &c.InfluxDB.Token })},
	{"SIAMP_LOG_LEVEL", setString(func(c *Config) *string { return &c.Logging.Level })},
	{"SIAMP_SCHEDULER_ENABLED", setBool(func(c *Config) *bool { return &c.Scheduler.Enabled })},
	{"SIAMP_JWT_SECRET", setString(func(c *Config) *string { return &c.Security.JWT.Secret })},
}

// applyEnvOverrides applies every non-empty SIAMP_* variable over the
// file values.
func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(cfg, v)
		}
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicPrefix == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		errs = append(errs, "mqtt.topic_prefix must be non-empty and contain no wildcards")
	}
	if c.MQTT.Publish.MaxRetries < 0 {
		errs = append(errs, "mqtt.publish.max_retries must not be negative")
	}
	if c.MQTT.Publish.Timeout <= 0 {
		errs = append(errs, "mqtt.publish.timeout_ms must be positive")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// Every control request is authorised by the token subject, so a weak
	// secret lets anyone impersonate a device owner.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set SIAMP_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if c.Twin.LivenessThreshold < 0 {
		errs = append(errs, "twin.liveness_threshold must not be negative")
	}
	if c.Twin.LivenessThreshold > 0 && c.Twin.WatchdogInterval <= 0 {
		errs = append(errs, "twin.watchdog_interval must be positive when the liveness threshold is set")
	}

	if c.Scheduler.Enabled && c.Scheduler.TickInterval <= 0 {
		errs = append(errs, "scheduler.tick_interval must be positive")
	}
	if c.Scheduler.TickInterval > 60 {
		errs = append(errs, "scheduler.tick_interval must not exceed 60 seconds")
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

// LivenessThresholdDuration returns the twin staleness threshold as a Duration.
func (t TwinConfig) LivenessThresholdDuration() time.Duration {
	return time.Duration(t.LivenessThreshold) * time.Second
}

// WatchdogIntervalDuration returns the watchdog sweep interval as a Duration.
func (t TwinConfig) WatchdogIntervalDuration() time.Duration {
	return time.Duration(t.WatchdogInterval) * time.Second
}

// DedupWindowDuration returns the redelivery suppression window as a Duration.
func (t TwinConfig) DedupWindowDuration() time.Duration {
	return time.Duration(t.DedupWindow) * time.Millisecond
}

// TickIntervalDuration returns the executor tick as a Duration.
func (s SchedulerConfig) TickIntervalDuration() time.Duration {
	return time.Duration(s.TickInterval) * time.Second
}

// GraceWindowDuration returns the late-fire window as a Duration.
func (s SchedulerConfig) GraceWindowDuration() time.Duration {
	return time.Duration(s.GraceWindow) * time.Second
}

// TimeoutDuration returns the per-attempt publish timeout.
func (p MQTTPublishConfig) TimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Millisecond
}
