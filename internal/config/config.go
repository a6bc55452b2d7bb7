// Package config provides application configuration.
//
// Configuration is loaded from environment variables with sensible
// defaults. The externally documented variables (PORT, HOST, NODE_ENV,
// CORS_ORIGIN, LOG_LEVEL, LOG_FORMAT, WS_PING_INTERVAL,
// WS_MAX_CONNECTIONS, WS_MESSAGE_QUEUE_SIZE, API_TIMEOUT, TOOLS_ENABLED,
// TOOLS_RATE_LIMIT, LLM_PROVIDER, LLM_MODEL, LLM_MAX_TOKENS,
// LLM_TEMPERATURE) are the primary keys; operational knobs the external
// contract doesn't name (cache TTLs, retry backoff, sweep intervals) use
// a GATEWAY_ prefix.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// WebSocketConfig holds WebSocket hub configuration.
type WebSocketConfig struct {
	MaxConnections    int           // WS_MAX_CONNECTIONS (default: 1000)
	PingInterval      time.Duration // WS_PING_INTERVAL, server heartbeat (default: 30s)
	QueueSize         int           // WS_MESSAGE_QUEUE_SIZE, per-connection outbound queue (default: 64)
	MissedPongLimit   int           // Missed pongs before disconnect (default: 2)
	MaxSubscriptions  int           // Max symbols subscribed per client (default: 50)
	WriteTimeout      time.Duration // Per-frame write timeout (default: 5s)
	MessageRatePerMin int           // Per-connection USER_MESSAGE throttle (default: 60)
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	DefaultMaxRequests int           // Default per-key request cap (default: 10)
	DefaultWindow      time.Duration // Default sliding window (default: 1m)
	DefaultBurstFrac   float64       // Default burst fraction (default: 0.2)
	CleanupInterval    time.Duration // Background eviction interval (default: 5m)
	MaxHistoryAge      time.Duration // Age at which history entries are dropped (default: 1h)
	WaitPollInterval   time.Duration // Poll interval for WaitForRateLimit (default: 100ms)
}

// CacheConfig holds LRU cache manager configuration.
type CacheConfig struct {
	GasPricesTTL      time.Duration // default: 5m
	CryptoPricesTTL   time.Duration // default: 1m
	TokenBalancesTTL  time.Duration // default: 30s
	APIResponsesTTL   time.Duration // default: 10m
	DefaultMaxEntries int           // per-namespace entry cap (default: 1000)
	DefaultMaxMemMB   int           // per-namespace approx byte cap in MB (default: 16)
}

// ToolConfig holds tool registry/executor configuration.
type ToolConfig struct {
	Enabled          []string      // TOOLS_ENABLED, empty = all
	RateLimit        int           // TOOLS_RATE_LIMIT, requests per window on the "tools" key (default: 30)
	MaxRetries       int           // default: 2
	RetryBaseDelay   time.Duration // default: 100ms
	ToolResultTTL    time.Duration // memoization freshness window (default: 2m)
	MaxToolResults   int           // memoization cache size (default: 50)
	ExecutionTimeout time.Duration // API_TIMEOUT, per-upstream-call timeout (default: 10s)
}

// LLMConfig holds LLM adapter configuration.
type LLMConfig struct {
	Provider       string        // LLM_PROVIDER, "" disables chat features
	Model          string        // LLM_MODEL
	MaxTokens      int           // LLM_MAX_TOKENS (default: 1024)
	Temperature    float64       // LLM_TEMPERATURE in [0,2] (default: 0.7)
	RequestTimeout time.Duration // default: 30s
}

// ConvoConfig holds conversation manager configuration.
type ConvoConfig struct {
	MaxHistoryLength int           // default: 50
	SessionTimeout   time.Duration // default: 30m
	CleanupInterval  time.Duration // default: 5m
}

// Config holds all application configuration.
type Config struct {
	Port           string   // PORT
	Host           string   // HOST
	Environment    string   // NODE_ENV
	AllowedOrigins []string // CORS_ORIGIN (comma list)
	LogLevel       string   // LOG_LEVEL
	LogFormat      string   // LOG_FORMAT

	WebSocket WebSocketConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Tools     ToolConfig
	LLM       LLMConfig
	Convo     ConvoConfig
}

// IsDevelopment reports whether the gateway runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Host:           getEnv("HOST", ""),
		Environment:    getEnv("NODE_ENV", "development"),
		AllowedOrigins: getEnvList("CORS_ORIGIN", []string{"http://localhost:3000"}),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		WebSocket: WebSocketConfig{
			MaxConnections:    getEnvInt("WS_MAX_CONNECTIONS", 1000),
			PingInterval:      getEnvDuration("WS_PING_INTERVAL", 30*time.Second),
			QueueSize:         getEnvInt("WS_MESSAGE_QUEUE_SIZE", 64),
			MissedPongLimit:   getEnvInt("GATEWAY_WS_MISSED_PONG_LIMIT", 2),
			MaxSubscriptions:  getEnvInt("GATEWAY_WS_MAX_SUBSCRIPTIONS", 50),
			WriteTimeout:      getEnvDuration("GATEWAY_WS_WRITE_TIMEOUT", 5*time.Second),
			MessageRatePerMin: getEnvInt("GATEWAY_WS_MESSAGE_RATE_PER_MIN", 60),
		},
		RateLimit: RateLimitConfig{
			DefaultMaxRequests: getEnvInt("GATEWAY_RATE_LIMIT_REQUESTS", 10),
			DefaultWindow:      getEnvDuration("GATEWAY_RATE_LIMIT_WINDOW", time.Minute),
			DefaultBurstFrac:   getEnvFloat("GATEWAY_RATE_LIMIT_BURST_FRACTION", 0.2),
			CleanupInterval:    getEnvDuration("GATEWAY_RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
			MaxHistoryAge:      getEnvDuration("GATEWAY_RATE_LIMIT_MAX_AGE", time.Hour),
			WaitPollInterval:   getEnvDuration("GATEWAY_RATE_LIMIT_POLL_INTERVAL", 100*time.Millisecond),
		},
		Cache: CacheConfig{
			GasPricesTTL:      getEnvDuration("GATEWAY_CACHE_GAS_PRICES_TTL", 5*time.Minute),
			CryptoPricesTTL:   getEnvDuration("GATEWAY_CACHE_CRYPTO_PRICES_TTL", time.Minute),
			TokenBalancesTTL:  getEnvDuration("GATEWAY_CACHE_TOKEN_BALANCES_TTL", 30*time.Second),
			APIResponsesTTL:   getEnvDuration("GATEWAY_CACHE_API_RESPONSES_TTL", 10*time.Minute),
			DefaultMaxEntries: getEnvInt("GATEWAY_CACHE_MAX_ENTRIES", 1000),
			DefaultMaxMemMB:   getEnvInt("GATEWAY_CACHE_MAX_MEM_MB", 16),
		},
		Tools: ToolConfig{
			Enabled:          getEnvList("TOOLS_ENABLED", nil),
			RateLimit:        getEnvInt("TOOLS_RATE_LIMIT", 30),
			MaxRetries:       getEnvInt("GATEWAY_TOOL_MAX_RETRIES", 2),
			RetryBaseDelay:   getEnvDuration("GATEWAY_TOOL_RETRY_BASE_DELAY", 100*time.Millisecond),
			ToolResultTTL:    getEnvDuration("GATEWAY_TOOL_RESULT_TTL", 2*time.Minute),
			MaxToolResults:   getEnvInt("GATEWAY_TOOL_MAX_RESULTS", 50),
			ExecutionTimeout: getEnvDuration("API_TIMEOUT", 10*time.Second),
		},
		LLM: LLMConfig{
			Provider:       getEnv("LLM_PROVIDER", ""),
			Model:          getEnv("LLM_MODEL", ""),
			MaxTokens:      getEnvInt("LLM_MAX_TOKENS", 1024),
			Temperature:    getEnvFloat("LLM_TEMPERATURE", 0.7),
			RequestTimeout: getEnvDuration("GATEWAY_LLM_REQUEST_TIMEOUT", 30*time.Second),
		},
		Convo: ConvoConfig{
			MaxHistoryLength: getEnvInt("GATEWAY_CONVO_MAX_HISTORY", 50),
			SessionTimeout:   getEnvDuration("GATEWAY_CONVO_SESSION_TIMEOUT", 30*time.Minute),
			CleanupInterval:  getEnvDuration("GATEWAY_CONVO_CLEANUP_INTERVAL", 5*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are sane.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.Environment {
	case "development", "staging", "production", "test":
	default:
		return fmt.Errorf("NODE_ENV must be one of development, staging, production, test")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text")
	}
	switch c.LLM.Provider {
	case "", "openai", "anthropic":
	default:
		return fmt.Errorf("LLM_PROVIDER must be openai or anthropic")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be within [0,2]")
	}
	if c.WebSocket.MaxConnections <= 0 {
		return fmt.Errorf("WS_MAX_CONNECTIONS must be > 0")
	}
	if c.WebSocket.MissedPongLimit <= 0 {
		return fmt.Errorf("GATEWAY_WS_MISSED_PONG_LIMIT must be > 0")
	}
	if c.RateLimit.DefaultMaxRequests <= 0 {
		return fmt.Errorf("GATEWAY_RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.DefaultBurstFrac < 0 || c.RateLimit.DefaultBurstFrac > 1 {
		return fmt.Errorf("GATEWAY_RATE_LIMIT_BURST_FRACTION must be within [0,1]")
	}
	if c.Tools.RateLimit <= 0 {
		return fmt.Errorf("TOOLS_RATE_LIMIT must be > 0")
	}
	if c.Tools.MaxToolResults <= 0 {
		return fmt.Errorf("GATEWAY_TOOL_MAX_RESULTS must be > 0")
	}
	if c.Convo.MaxHistoryLength <= 0 {
		return fmt.Errorf("GATEWAY_CONVO_MAX_HISTORY must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts either a Go duration string ("30s") or, for
// compatibility with deployments that configure plain numbers, a bare
// integer interpreted as milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	trimmed := strings.TrimSpace(value)
	if d, err := time.ParseDuration(trimmed); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
