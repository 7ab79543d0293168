package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Providers = []ProviderProfile{
		{ID: "primary", Provider: "openai", APIKey: "sk-test"},
	}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTTL)
	assert.Equal(t, time.Minute, cfg.Session.SweepInterval)
	assert.Equal(t, time.Hour, cfg.Hosted.TokenTTL)
	assert.Equal(t, 5, cfg.HTTPTransport.MaxReconnects)
	assert.True(t, cfg.Retention.Enabled)
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"no providers", func(c *Config) { c.Providers = nil }},
		{"provider missing id", func(c *Config) { c.Providers[0].ID = "" }},
		{"unknown provider", func(c *Config) { c.Providers[0].Provider = "cohere" }},
		{"provider missing key", func(c *Config) { c.Providers[0].APIKey = "" }},
		{"zero idle ttl", func(c *Config) { c.Session.IdleTTL = 0 }},
		{"zero sweep interval", func(c *Config) { c.Session.SweepInterval = 0 }},
		{"sweep exceeds ttl", func(c *Config) {
			c.Session.IdleTTL = time.Minute
			c.Session.SweepInterval = time.Hour
		}},
		{"zero token ttl", func(c *Config) { c.Hosted.TokenTTL = 0 }},
		{"negative reconnects", func(c *Config) { c.HTTPTransport.MaxReconnects = -1 }},
		{"backoff inverted", func(c *Config) {
			c.HTTPTransport.InitialBackoff = time.Minute
			c.HTTPTransport.MaxBackoff = time.Second
		}},
		{"retention without age", func(c *Config) { c.Retention.MaxAge = 0 }},
		{"retention without schedule", func(c *Config) { c.Retention.Schedule = "" }},
		{"credentials key not hex", func(c *Config) { c.Credentials.Key = "zz" }},
		{"credentials key wrong size", func(c *Config) { c.Credentials.Key = "abcd" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCredentialsDecodeKey(t *testing.T) {
	empty, err := CredentialsConfig{}.DecodeKey()
	require.NoError(t, err)
	assert.Nil(t, empty)

	key, err := CredentialsConfig{Key: "00112233445566778899aabbccddeeff"}.DecodeKey()
	require.NoError(t, err)
	assert.Len(t, key, 16)
}

func TestString_RedactsNothingButIsJSON(t *testing.T) {
	cfg := validConfig()
	s := cfg.String()
	assert.Contains(t, s, "\"server\"")
	assert.Contains(t, s, "\"providers\"")
}
