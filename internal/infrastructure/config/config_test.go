package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validJWTSecret meets the 32-character minimum.
const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.JWT.Secret = validJWTSecret
	return cfg
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
service:
  id: "test-server"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
  topic_prefix: "home/lights"
  publish:
    max_retries: 4
api:
  host: "0.0.0.0"
  port: 8080
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
twin:
  liveness_threshold: 90
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.ID != "test-server" {
		t.Errorf("Service.ID = %q, want %q", cfg.Service.ID, "test-server")
	}
	if cfg.MQTT.TopicPrefix != "home/lights" {
		t.Errorf("MQTT.TopicPrefix = %q, want %q", cfg.MQTT.TopicPrefix, "home/lights")
	}
	if cfg.MQTT.Publish.MaxRetries != 4 {
		t.Errorf("MQTT.Publish.MaxRetries = %d, want 4", cfg.MQTT.Publish.MaxRetries)
	}
	// Unset keys keep their defaults.
	if cfg.MQTT.Publish.Timeout != 5000 {
		t.Errorf("MQTT.Publish.Timeout = %d, want default 5000", cfg.MQTT.Publish.Timeout)
	}
	if got := cfg.Twin.LivenessThresholdDuration(); got != 90*time.Second {
		t.Errorf("LivenessThresholdDuration() = %v, want 90s", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
service:
  id: ""
api:
  port: 8080
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	// All problems are reported together.
	for _, want := range []string{"service.id", "security.jwt.secret"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Load() error = %v, want mention of %q", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}, wantErr: false},
		{name: "missing service ID", mutate: func(c *Config) { c.Service.ID = "" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "wildcard topic prefix", mutate: func(c *Config) { c.MQTT.TopicPrefix = "lights/+" }, wantErr: true},
		{name: "empty topic prefix", mutate: func(c *Config) { c.MQTT.TopicPrefix = "" }, wantErr: true},
		{name: "negative retries", mutate: func(c *Config) { c.MQTT.Publish.MaxRetries = -1 }, wantErr: true},
		{name: "zero publish timeout", mutate: func(c *Config) { c.MQTT.Publish.Timeout = 0 }, wantErr: true},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "missing JWT secret", mutate: func(c *Config) { c.Security.JWT.Secret = "" }, wantErr: true},
		{name: "JWT secret too short", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: true},
		{name: "influx enabled without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: true},
		{name: "watchdog disabled", mutate: func(c *Config) { c.Twin.LivenessThreshold = 0; c.Twin.WatchdogInterval = 0 }, wantErr: false},
		{name: "threshold without interval", mutate: func(c *Config) { c.Twin.WatchdogInterval = 0 }, wantErr: true},
		{name: "scheduler tick too long", mutate: func(c *Config) { c.Scheduler.TickInterval = 120 }, wantErr: true},
		{name: "scheduler enabled without tick", mutate: func(c *Config) { c.Scheduler.TickInterval = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.MQTT.Publish.TimeoutDuration(); got != 5*time.Second {
		t.Errorf("Publish.TimeoutDuration() = %v, want 5s", got)
	}
	if got := cfg.Twin.WatchdogIntervalDuration(); got != 30*time.Second {
		t.Errorf("WatchdogIntervalDuration() = %v, want 30s", got)
	}
	if got := cfg.Twin.DedupWindowDuration(); got != 2*time.Second {
		t.Errorf("DedupWindowDuration() = %v, want 2s", got)
	}
	if got := cfg.Scheduler.TickIntervalDuration(); got != 20*time.Second {
		t.Errorf("TickIntervalDuration() = %v, want 20s", got)
	}
	if got := cfg.Scheduler.GraceWindowDuration(); got != 5*time.Minute {
		t.Errorf("GraceWindowDuration() = %v, want 5m", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	tests := []struct {
		env   string
		value string
		got   func(*Config) any
		want  any
	}{
		{"SIAMP_DATABASE_PATH", "/custom/path.db", func(c *Config) any { return c.Database.Path }, "/custom/path.db"},
		{"SIAMP_MQTT_HOST", "mqtt.example.com", func(c *Config) any { return c.MQTT.Broker.Host }, "mqtt.example.com"},
		{"SIAMP_MQTT_PORT", "8883", func(c *Config) any { return c.MQTT.Broker.Port }, 8883},
		{"SIAMP_MQTT_USERNAME", "testuser", func(c *Config) any { return c.MQTT.Auth.Username }, "testuser"},
		{"SIAMP_MQTT_PASSWORD", "testpass", func(c *Config) any { return c.MQTT.Auth.Password }, "testpass"},
		{"SIAMP_API_HOST", "192.168.1.1", func(c *Config) any { return c.API.Host }, "192.168.1.1"},
		{"SIAMP_API_PORT", "9090", func(c *Config) any { return c.API.Port }, 9090},
		{"SIAMP_INFLUXDB_URL", "http://influx:8086", func(c *Config) any { return c.InfluxDB.URL }, "http://influx:8086"},
		{"SIAMP_INFLUXDB_TOKEN", "secret-token", func(c *Config) any { return c.InfluxDB.Token }, "secret-token"},
		{"SIAMP_LOG_LEVEL", "debug", func(c *Config) any { return c.Logging.Level }, "debug"},
		{"SIAMP_SCHEDULER_ENABLED", "false", func(c *Config) any { return c.Scheduler.Enabled }, false},
		{"SIAMP_JWT_SECRET", "jwt-secret", func(c *Config) any { return c.Security.JWT.Secret }, "jwt-secret"},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := defaultConfig()
			t.Setenv(tt.env, tt.value)
			applyEnvOverrides(cfg)
			if got := tt.got(cfg); got != tt.want {
				t.Errorf("%s=%q applied %v, want %v", tt.env, tt.value, got, tt.want)
			}
		})
	}
}

func TestApplyEnvOverrides_UnparsableIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("SIAMP_API_PORT", "not-a-number")
	t.Setenv("SIAMP_SCHEDULER_ENABLED", "sometimes")

	applyEnvOverrides(cfg)

	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want default 8080", cfg.API.Port)
	}
	if !cfg.Scheduler.Enabled {
		t.Error("Scheduler.Enabled flipped by an unparsable value")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Service.ID == "" {
		t.Error("defaultConfig should have non-empty Service.ID")
	}
	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.TopicPrefix != "lights" {
		t.Errorf("defaultConfig MQTT.TopicPrefix = %q, want lights", cfg.MQTT.TopicPrefix)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
}
