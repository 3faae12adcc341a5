// Package config provides configuration for the console service.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Device session served by this process
	TenantID        string
	DeviceSessionID string
	AuthToken       string

	// Event transport
	EventsURL           string
	ReconnectBaseDelay  time.Duration
	ReconnectMaxDelay   time.Duration
	ReconnectMaxRetries int
	RefetchOnReconnect  bool

	// Backend REST API
	BackendURL     string
	BackendTimeout time.Duration
	HistoryLimit   int

	// Console controller
	InboxSize     int
	ActionTimeout time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Audit log
	AuditDBPath string

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("server_read_timeout", 30*time.Second)
	v.SetDefault("server_write_timeout", 0)

	v.SetDefault("tenant_id", "")
	v.SetDefault("device_session_id", "")
	v.SetDefault("auth_token", "")

	v.SetDefault("events_url", "ws://localhost:3000/ws")
	v.SetDefault("reconnect_base_delay", time.Second)
	v.SetDefault("reconnect_max_delay", 60*time.Second)
	v.SetDefault("reconnect_max_retries", 0)
	v.SetDefault("refetch_on_reconnect", true)

	v.SetDefault("backend_url", "http://localhost:3000/api")
	v.SetDefault("backend_timeout", 15*time.Second)
	v.SetDefault("history_limit", 100)

	v.SetDefault("inbox_size", 256)
	v.SetDefault("action_timeout", 20*time.Second)

	v.SetDefault("nats_url", "")
	v.SetDefault("nats_ca_file", "")
	v.SetDefault("nats_cert_file", "")
	v.SetDefault("nats_key_file", "")
	v.SetDefault("nats_token", "")

	v.SetDefault("audit_db_path", "console-audit.db")

	v.SetDefault("jwt_secret", "development-secret-change-in-production")
	v.SetDefault("jwt_expiration", 15*time.Minute)

	v.SetDefault("rate_limit_requests", 120)
	v.SetDefault("rate_limit_window", time.Minute)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("tracing_endpoint", "localhost:4318")
	v.SetDefault("tracing_enabled", false)
}

// Load reads configuration from an optional file and the environment.
// A .env file in the working directory is loaded first when present.
// Environment variables use the upper-case key, e.g. NATS_URL for nats_url.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return &Config{
		ServerPort:         v.GetString("port"),
		ServerReadTimeout:  v.GetDuration("server_read_timeout"),
		ServerWriteTimeout: v.GetDuration("server_write_timeout"),

		TenantID:        v.GetString("tenant_id"),
		DeviceSessionID: v.GetString("device_session_id"),
		AuthToken:       v.GetString("auth_token"),

		EventsURL:           v.GetString("events_url"),
		ReconnectBaseDelay:  v.GetDuration("reconnect_base_delay"),
		ReconnectMaxDelay:   v.GetDuration("reconnect_max_delay"),
		ReconnectMaxRetries: v.GetInt("reconnect_max_retries"),
		RefetchOnReconnect:  v.GetBool("refetch_on_reconnect"),

		BackendURL:     v.GetString("backend_url"),
		BackendTimeout: v.GetDuration("backend_timeout"),
		HistoryLimit:   v.GetInt("history_limit"),

		InboxSize:     v.GetInt("inbox_size"),
		ActionTimeout: v.GetDuration("action_timeout"),

		NATSURL:      v.GetString("nats_url"),
		NATSCAFile:   v.GetString("nats_ca_file"),
		NATSCertFile: v.GetString("nats_cert_file"),
		NATSKeyFile:  v.GetString("nats_key_file"),
		NATSToken:    v.GetString("nats_token"),

		AuditDBPath: v.GetString("audit_db_path"),

		JWTSecret:     v.GetString("jwt_secret"),
		JWTExpiration: v.GetDuration("jwt_expiration"),

		RateLimitRequests: v.GetInt("rate_limit_requests"),
		RateLimitWindow:   v.GetDuration("rate_limit_window"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),

		TracingEndpoint: v.GetString("tracing_endpoint"),
		TracingEnabled:  v.GetBool("tracing_enabled"),
	}, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.DeviceSessionID == "" {
		return fmt.Errorf("device_session_id is required")
	}
	if c.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if err := validateURL("events_url", c.EventsURL, "ws", "wss"); err != nil {
		return err
	}
	if err := validateURL("backend_url", c.BackendURL, "http", "https"); err != nil {
		return err
	}
	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("reconnect_base_delay must be positive")
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("reconnect_max_delay must be >= reconnect_base_delay")
	}
	if c.ReconnectMaxRetries < 0 {
		return fmt.Errorf("reconnect_max_retries must be >= 0")
	}
	if c.InboxSize < 1 {
		return fmt.Errorf("inbox_size must be at least 1")
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("history_limit must be at least 1")
	}
	if c.AuthToken == "" && c.JWTSecret == "" {
		return fmt.Errorf("either auth_token or jwt_secret is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}

	return nil
}

func validateURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", key)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of %v", key, schemes)
}
