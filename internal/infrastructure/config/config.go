package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the lanwake controller.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
	Scanner    ScannerConfig    `yaml:"scanner"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Watchdog   WatchdogConfig   `yaml:"watchdog"`
	Indicator  IndicatorConfig  `yaml:"indicator"`
	WOL        WOLConfig        `yaml:"wol"`
	Registry   RegistryConfig   `yaml:"registry"`
}

// ControllerConfig identifies this controller on the network.
type ControllerConfig struct {
	// Hostname is announced by the heartbeat. Empty means os.Hostname().
	Hostname string `yaml:"hostname"`

	// Interface is the station-role network interface (e.g. "wlan0").
	// If it cannot be found the interface owning the local address is used.
	Interface string `yaml:"interface"`
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
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Panel    PanelConfig      `yaml:"panel"`
}

// PanelConfig controls the operator page served under /ui/.
type PanelConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir serves the page from disk instead of the embedded copy.
	Dir string `yaml:"dir"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
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

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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
	JWT          JWTConfig          `yaml:"jwt"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	// Secret signs access tokens. If empty, a random secret is generated
	// at provisioning time and persisted in the settings namespace.
	Secret string `yaml:"secret"`

	// AccessTokenTTL is the bearer token lifetime in minutes.
	AccessTokenTTL int `yaml:"access_token_ttl"`
}

// RateLimitConfig controls the caller-address backoff table.
type RateLimitConfig struct {
	// Capacity is the number of caller slots. The table never grows beyond it.
	Capacity int `yaml:"capacity"`

	// SlotTTL is the idle time after which a slot may be recycled.
	SlotTTL time.Duration `yaml:"slot_ttl"`
}

// ProvisioningConfig supplies first-boot credentials.
// The values are only read when the settings namespace is empty.
type ProvisioningConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	WorkerID string `yaml:"worker_id"`
}

// ScannerConfig controls the subnet scan schedule and pacing.
type ScannerConfig struct {
	// Interval between automatic passes.
	Interval time.Duration `yaml:"interval"`

	// SettleDelay is waited once after boot before the first pass is considered.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// StablePeriod is how long the link must have been up before an automatic pass.
	StablePeriod time.Duration `yaml:"stable_period"`

	// StepDelay is the mandatory pause after each host.
	StepDelay time.Duration `yaml:"step_delay"`

	// ResolveWait is the pause between a resolution request and the lookup.
	ResolveWait time.Duration `yaml:"resolve_wait"`

	// RetryDelay is the pause before the second resolution attempt.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// ProbeTimeout bounds a single reachability probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// HostBudget is the longest one host can take in a pass: the probe, two
// resolution waits, the retry pause and the step delay. The scan task
// feeds the watchdog once per host.
func (s ScannerConfig) HostBudget() time.Duration {
	return s.ProbeTimeout + 2*s.ResolveWait + s.RetryDelay + s.StepDelay
}

// HeartbeatConfig configures the remote registration heartbeat.
type HeartbeatConfig struct {
	Enabled          bool          `yaml:"enabled"`
	URL              string        `yaml:"url"`
	HealthyInterval  time.Duration `yaml:"healthy_interval"`
	DegradedInterval time.Duration `yaml:"degraded_interval"`
	Timeout          time.Duration `yaml:"timeout"`
}

// WatchdogConfig configures the hard recovery timers.
type WatchdogConfig struct {
	// Timeout is the longest the scan task may go without feeding the watchdog.
	Timeout time.Duration `yaml:"timeout"`

	// DisconnectTimeout forces a restart when the link stays down this long.
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`

	// BringUpTimeout is how long to wait for the station interface at boot.
	BringUpTimeout time.Duration `yaml:"bringup_timeout"`

	// LinkPollInterval is how often the link monitor samples the interface.
	LinkPollInterval time.Duration `yaml:"link_poll_interval"`
}

// IndicatorConfig configures the status LED.
type IndicatorConfig struct {
	// LED is a /sys/class/leds entry name (e.g. "ACT"). Empty disables the LED.
	LED       string        `yaml:"led"`
	FastBlink time.Duration `yaml:"fast_blink"`
	SlowBlink time.Duration `yaml:"slow_blink"`
}

// WOLConfig configures magic packet transmission.
type WOLConfig struct {
	Port int `yaml:"port"`
}

// RegistryConfig bounds the persistent device list.
type RegistryConfig struct {
	Capacity int `yaml:"capacity"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LANWAKE_SECTION_KEY
// For example: LANWAKE_DATABASE_PATH, LANWAKE_HEARTBEAT_URL
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

// Default returns the built-in configuration with environment overrides applied.
// It is used when no configuration file exists yet (first boot).
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Controller: ControllerConfig{
			Interface: "wlan0",
		},
		Database: DatabaseConfig{
			Path:        "./data/lanwake.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "lanwake",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
			Panel: PanelConfig{
				Enabled: true,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
			RateLimit: RateLimitConfig{
				Capacity: 32,
				SlotTTL:  49 * time.Hour,
			},
		},
		Scanner: ScannerConfig{
			Interval:     5 * time.Minute,
			SettleDelay:  10 * time.Second,
			StablePeriod: 60 * time.Second,
			StepDelay:    50 * time.Millisecond,
			ResolveWait:  20 * time.Millisecond,
			RetryDelay:   100 * time.Millisecond,
			ProbeTimeout: 50 * time.Millisecond,
		},
		Heartbeat: HeartbeatConfig{
			HealthyInterval:  300 * time.Second,
			DegradedInterval: 30 * time.Second,
			Timeout:          10 * time.Second,
		},
		Watchdog: WatchdogConfig{
			Timeout:           60 * time.Second,
			DisconnectTimeout: 15 * time.Minute,
			BringUpTimeout:    2 * time.Minute,
			LinkPollInterval:  time.Second,
		},
		Indicator: IndicatorConfig{
			FastBlink: 200 * time.Millisecond,
			SlowBlink: time.Second,
		},
		WOL: WOLConfig{
			Port: 9,
		},
		Registry: RegistryConfig{
			Capacity: 32,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LANWAKE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LANWAKE_INTERFACE"); v != "" {
		cfg.Controller.Interface = v
	}

	if v := os.Getenv("LANWAKE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("LANWAKE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LANWAKE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LANWAKE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("LANWAKE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("LANWAKE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("LANWAKE_HEARTBEAT_URL"); v != "" {
		cfg.Heartbeat.URL = v
	}

	// Security - never keep these in the YAML file on a shared image
	if v := os.Getenv("LANWAKE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("LANWAKE_ADMIN_USERNAME"); v != "" {
		cfg.Security.Provisioning.Username = v
	}
	if v := os.Getenv("LANWAKE_ADMIN_PASSWORD"); v != "" {
		cfg.Security.Provisioning.Password = v
	}
	if v := os.Getenv("LANWAKE_WORKER_ID"); v != "" {
		cfg.Security.Provisioning.WorkerID = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// An empty secret is allowed: provisioning generates one.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if c.Security.JWT.AccessTokenTTL < 1 {
		errs = append(errs, "security.jwt.access_token_ttl must be at least 1 minute")
	}

	if c.Security.RateLimit.Capacity < 1 {
		errs = append(errs, "security.rate_limit.capacity must be at least 1")
	}

	if c.Registry.Capacity < 1 {
		errs = append(errs, "registry.capacity must be at least 1")
	}

	if c.Scanner.Interval <= 0 {
		errs = append(errs, "scanner.interval must be positive")
	}

	if c.Scanner.StepDelay <= 0 {
		errs = append(errs, "scanner.step_delay must be positive")
	}

	if c.Scanner.ResolveWait < 0 || c.Scanner.RetryDelay < 0 || c.Scanner.ProbeTimeout < 0 {
		errs = append(errs, "scanner resolve_wait, retry_delay and probe_timeout must not be negative")
	}

	if c.Indicator.FastBlink <= 0 || c.Indicator.SlowBlink <= 0 {
		errs = append(errs, "indicator.fast_blink and indicator.slow_blink must be positive")
	}

	if c.Heartbeat.Enabled {
		if !strings.HasPrefix(c.Heartbeat.URL, "https://") {
			errs = append(errs, "heartbeat.url must be an https URL when heartbeat is enabled")
		}
		if c.Heartbeat.HealthyInterval <= 0 || c.Heartbeat.DegradedInterval <= 0 {
			errs = append(errs, "heartbeat intervals must be positive")
		}
	}

	if c.Watchdog.Timeout <= 0 {
		errs = append(errs, "watchdog.timeout must be positive")
	} else if step := c.Scanner.HostBudget(); step >= c.Watchdog.Timeout {
		errs = append(errs, fmt.Sprintf("watchdog.timeout (%s) must exceed the worst-case time per scanned host (%s)",
			c.Watchdog.Timeout, step))
	}

	if c.WOL.Port < 1 || c.WOL.Port > 65535 {
		errs = append(errs, "wol.port must be between 1 and 65535")
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
