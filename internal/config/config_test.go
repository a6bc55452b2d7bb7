package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Environment != "development" {
		t.Errorf("Environment = %q, want development", cfg.Environment)
	}
	if cfg.WebSocket.MaxConnections != 1000 {
		t.Errorf("WebSocket.MaxConnections = %d, want 1000", cfg.WebSocket.MaxConnections)
	}
	if cfg.WebSocket.PingInterval != 30*time.Second {
		t.Errorf("WebSocket.PingInterval = %v, want 30s", cfg.WebSocket.PingInterval)
	}
	if cfg.RateLimit.DefaultWindow != time.Minute {
		t.Errorf("RateLimit.DefaultWindow = %v, want 1m", cfg.RateLimit.DefaultWindow)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("AllowedOrigins = %v, want [http://localhost:3000]", cfg.AllowedOrigins)
	}
	if len(cfg.Tools.Enabled) != 0 {
		t.Errorf("Tools.Enabled = %v, want empty (all tools)", cfg.Tools.Enabled)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("WS_MAX_CONNECTIONS", "50")
	t.Setenv("WS_PING_INTERVAL", "10s")
	t.Setenv("GATEWAY_RATE_LIMIT_BURST_FRACTION", "0.5")
	t.Setenv("CORS_ORIGIN", "https://a.example, https://b.example")
	t.Setenv("TOOLS_ENABLED", "get_gas_prices,get_crypto_price")
	t.Setenv("TOOLS_RATE_LIMIT", "12")
	t.Setenv("LLM_PROVIDER", "anthropic")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.WebSocket.MaxConnections != 50 {
		t.Errorf("WebSocket.MaxConnections = %d, want 50", cfg.WebSocket.MaxConnections)
	}
	if cfg.WebSocket.PingInterval != 10*time.Second {
		t.Errorf("WebSocket.PingInterval = %v, want 10s", cfg.WebSocket.PingInterval)
	}
	if cfg.RateLimit.DefaultBurstFrac != 0.5 {
		t.Errorf("RateLimit.DefaultBurstFrac = %v, want 0.5", cfg.RateLimit.DefaultBurstFrac)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.AllowedOrigins) != len(want) || cfg.AllowedOrigins[0] != want[0] || cfg.AllowedOrigins[1] != want[1] {
		t.Errorf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
	}
	if len(cfg.Tools.Enabled) != 2 || cfg.Tools.Enabled[0] != "get_gas_prices" {
		t.Errorf("Tools.Enabled = %v, want [get_gas_prices get_crypto_price]", cfg.Tools.Enabled)
	}
	if cfg.Tools.RateLimit != 12 {
		t.Errorf("Tools.RateLimit = %d, want 12", cfg.Tools.RateLimit)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("LLM.Provider = %q, want anthropic", cfg.LLM.Provider)
	}
}

func TestLoadDurationAcceptsBareMilliseconds(t *testing.T) {
	t.Setenv("WS_PING_INTERVAL", "15000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.WebSocket.PingInterval != 15*time.Second {
		t.Errorf("WebSocket.PingInterval = %v, want 15s from bare millis", cfg.WebSocket.PingInterval)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		return &Config{
			Port:        "8080",
			Environment: "test",
			LogLevel:    "info",
			LogFormat:   "json",
			WebSocket: WebSocketConfig{
				MaxConnections:  1,
				MissedPongLimit: 1,
			},
			RateLimit: RateLimitConfig{
				DefaultMaxRequests: 1,
				DefaultBurstFrac:   0.2,
			},
			Tools: ToolConfig{RateLimit: 1, MaxToolResults: 1},
			Convo: ConvoConfig{MaxHistoryLength: 1},
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"burst fraction above 1", func(c *Config) { c.RateLimit.DefaultBurstFrac = 1.5 }},
		{"unknown NODE_ENV", func(c *Config) { c.Environment = "prod" }},
		{"unknown LLM provider", func(c *Config) { c.LLM.Provider = "grok" }},
		{"temperature out of range", func(c *Config) { c.LLM.Temperature = 2.5 }},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }},
	}
	for _, tc := range cases {
		cfg := base()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate() = nil, want error", tc.name)
		}
	}
}
