package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main RelayDesk runtime configuration
type Config struct {
	// Server holds the chat API listener settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Database holds the durable conversation store settings
	Database DatabaseConfig `json:"database" mapstructure:"database"`

	// Session holds session cache settings
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Hosted holds hosted-transport token settings
	Hosted HostedConfig `json:"hosted" mapstructure:"hosted"`

	// HTTPTransport holds streamable HTTP transport settings
	HTTPTransport HTTPTransportConfig `json:"http_transport" mapstructure:"http_transport"`

	// Providers holds model provider credentials
	Providers []ProviderProfile `json:"providers" mapstructure:"providers"`

	// Credentials holds integration credential decryption settings
	Credentials CredentialsConfig `json:"credentials" mapstructure:"credentials"`

	// Retention holds durable conversation retention settings
	Retention RetentionConfig `json:"retention" mapstructure:"retention"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds chat API server configuration
type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// DatabaseConfig holds the sqlite store configuration
type DatabaseConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// SessionConfig holds session cache configuration
type SessionConfig struct {
	IdleTTL       time.Duration `json:"idle_ttl" mapstructure:"idle_ttl"`
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
}

// HostedConfig holds hosted-transport bearer token configuration
type HostedConfig struct {
	SigningSecret string        `json:"signing_secret" mapstructure:"signing_secret"`
	TokenTTL      time.Duration `json:"token_ttl" mapstructure:"token_ttl"`
}

// HTTPTransportConfig holds streamable HTTP transport configuration.
// MaxReconnects of zero disables reconnection (non-production posture).
type HTTPTransportConfig struct {
	MaxReconnects  int           `json:"max_reconnects" mapstructure:"max_reconnects"`
	InitialBackoff time.Duration `json:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff" mapstructure:"max_backoff"`
}

// ProviderProfile represents a model provider credential
type ProviderProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// CredentialsConfig holds integration credential decryption configuration.
// An empty key means sealed credential values cannot be resolved.
type CredentialsConfig struct {
	// Key is the hex-encoded AES key (16, 24 or 32 bytes once decoded)
	Key string `json:"key" mapstructure:"key"`
}

// DecodeKey decodes the hex-encoded AES key. An empty key decodes to nil.
func (c CredentialsConfig) DecodeKey() ([]byte, error) {
	if c.Key == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.Key)
	if err != nil {
		return nil, fmt.Errorf("credentials key is not valid hex: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	default:
		return nil, fmt.Errorf("credentials key must decode to 16, 24 or 32 bytes, got %d", len(key))
	}
}

// RetentionConfig holds conversation retention configuration
type RetentionConfig struct {
	Enabled  bool          `json:"enabled" mapstructure:"enabled"`
	MaxAge   time.Duration `json:"max_age" mapstructure:"max_age"`
	Schedule string        `json:"schedule" mapstructure:"schedule"` // cron spec
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Session: SessionConfig{
			IdleTTL:       30 * time.Minute,
			SweepInterval: time.Minute,
		},
		Hosted: HostedConfig{
			TokenTTL: time.Hour,
		},
		HTTPTransport: HTTPTransportConfig{
			MaxReconnects:  5,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
		Retention: RetentionConfig{
			Enabled:  true,
			MaxAge:   30 * 24 * time.Hour,
			Schedule: "0 3 * * *",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
		Providers: []ProviderProfile{},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d is out of range", c.Server.Port)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("no model credentials configured: at least one provider profile is required")
	}
	for i, profile := range c.Providers {
		if profile.ID == "" {
			return fmt.Errorf("provider profile %d: ID is required", i)
		}
		if profile.Provider != "anthropic" && profile.Provider != "openai" {
			return fmt.Errorf("provider profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("provider profile %s: api_key is required", profile.ID)
		}
	}

	if c.Session.IdleTTL <= 0 {
		return fmt.Errorf("session idle_ttl must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session sweep_interval must be positive")
	}
	if c.Session.SweepInterval > c.Session.IdleTTL {
		return fmt.Errorf("session sweep_interval must not exceed idle_ttl")
	}

	if c.Hosted.TokenTTL <= 0 {
		return fmt.Errorf("hosted token_ttl must be positive")
	}

	if c.HTTPTransport.MaxReconnects < 0 {
		return fmt.Errorf("http_transport max_reconnects must be >= 0")
	}
	if c.HTTPTransport.MaxReconnects > 0 {
		if c.HTTPTransport.InitialBackoff <= 0 {
			return fmt.Errorf("http_transport initial_backoff must be positive when reconnection is enabled")
		}
		if c.HTTPTransport.MaxBackoff < c.HTTPTransport.InitialBackoff {
			return fmt.Errorf("http_transport max_backoff must be >= initial_backoff")
		}
	}

	if _, err := c.Credentials.DecodeKey(); err != nil {
		return err
	}

	if c.Retention.Enabled {
		if c.Retention.MaxAge <= 0 {
			return fmt.Errorf("retention max_age must be positive when retention is enabled")
		}
		if c.Retention.Schedule == "" {
			return fmt.Errorf("retention schedule is required when retention is enabled")
		}
	}

	return nil
}
