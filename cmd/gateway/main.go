// Conversational AI Gateway Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/convo-gateway/internal/cache"
	"github.com/ashureev/convo-gateway/internal/config"
	"github.com/ashureev/convo-gateway/internal/convo"
	"github.com/ashureev/convo-gateway/internal/gatewayerr"
	"github.com/ashureev/convo-gateway/internal/httpapi"
	"github.com/ashureev/convo-gateway/internal/llm"
	"github.com/ashureev/convo-gateway/internal/metrics"
	"github.com/ashureev/convo-gateway/internal/middleware"
	"github.com/ashureev/convo-gateway/internal/pricehub"
	"github.com/ashureev/convo-gateway/internal/ratelimit"
	"github.com/ashureev/convo-gateway/internal/tools"
	"github.com/ashureev/convo-gateway/internal/wsgateway"
)

const version = "1.0.0"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting gateway", "port", cfg.Port, "environment", cfg.Environment)

	collector := metrics.NewCollector()

	limiter := ratelimit.New(cfg.RateLimit.CleanupInterval, cfg.RateLimit.MaxHistoryAge, cfg.RateLimit.WaitPollInterval,
		ratelimit.WithLogger(logger),
		ratelimit.WithDenyObserver(collector.RecordRateLimitExceeded))
	defer limiter.Close()
	limiter.Configure(ratelimit.Key{
		Name:          "llm",
		MaxRequests:   cfg.RateLimit.DefaultMaxRequests,
		Window:        cfg.RateLimit.DefaultWindow,
		BurstFraction: cfg.RateLimit.DefaultBurstFrac,
		Provider:      cfg.LLM.Provider,
		Priority:      ratelimit.PriorityHigh,
	})
	limiter.Configure(ratelimit.Key{
		Name:          "tools",
		MaxRequests:   cfg.Tools.RateLimit,
		Window:        cfg.RateLimit.DefaultWindow,
		BurstFraction: cfg.RateLimit.DefaultBurstFrac,
		Priority:      ratelimit.PriorityNormal,
	})

	cacheManager := cache.NewManager(
		cfg.Cache.GasPricesTTL,
		cfg.Cache.CryptoPricesTTL,
		cfg.Cache.TokenBalancesTTL,
		cfg.Cache.APIResponsesTTL,
		cfg.Cache.DefaultMaxEntries,
		cfg.Cache.DefaultMaxMemMB,
		cache.ManagerConfig{
			MaxTotalEntries: cfg.Cache.DefaultMaxEntries * 8,
			MaxTotalBytes:   int64(cfg.Cache.DefaultMaxMemMB) * 8 * 1024 * 1024,
		},
		logger,
	)

	// Tool registry. Concrete upstream REST adapters are wired by the
	// deployment; without them the tools answer SERVICE_UNAVAILABLE and
	// the conversation degrades gracefully. Each tool reads through its
	// domain cache namespace before touching its upstream.
	registry := tools.NewRegistry()
	if err := tools.RegisterDefaults(registry, unavailableUpstreams(), cacheManager, cfg.Tools.Enabled); err != nil {
		slog.Error("Failed to register default tools", "error", err)
		os.Exit(1)
	}
	slog.Info("Tool registry initialized", "tools", len(registry.List()))

	// LLM adapter. The concrete provider client is external; an
	// unconfigured deployment still serves the WebSocket surface with
	// chat turns shaped into the canonical LLM error message.
	var adapter llm.Adapter = unavailableAdapter{}
	if cfg.LLM.Provider != "" {
		slog.Warn("LLM provider configured but no client is compiled in; chat turns will degrade", "provider", cfg.LLM.Provider)
	} else {
		slog.Info("LLM features disabled (LLM_PROVIDER not set)")
	}

	toolCache := cacheManager.RegisterNamespace("tool_results", cfg.Tools.MaxToolResults, 0, cfg.Tools.ToolResultTTL, "lru", cache.PriorityMedium)

	translog, err := convo.NewTranscriptLogger(convo.TranscriptLogConfig{
		Enabled: os.Getenv("GATEWAY_TRANSCRIPT_LOG_DIR") != "",
		Dir:     os.Getenv("GATEWAY_TRANSCRIPT_LOG_DIR"),
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer translog.Close()

	convos := convo.New(adapter, registry, toolCache, convo.Config{
		MaxHistoryLength: cfg.Convo.MaxHistoryLength,
		SessionTimeout:   cfg.Convo.SessionTimeout,
		CleanupInterval:  cfg.Convo.CleanupInterval,
		ToolExecutor: tools.ExecutorConfig{
			MaxRetries:     cfg.Tools.MaxRetries,
			RetryBaseDelay: cfg.Tools.RetryBaseDelay,
			Timeout:        cfg.Tools.ExecutionTimeout,
			Limiter:        limiter,
			LimiterKey:     "tools",
			LimiterWait:    cfg.Tools.ExecutionTimeout,
			Metrics:        collector,
		},
		ToolResultTTL:  cfg.Tools.ToolResultTTL,
		MaxToolResults: cfg.Tools.MaxToolResults,
	}, logger, translog)
	defer convos.Close()
	convos.SetRateLimiter(limiter, "llm", cfg.LLM.RequestTimeout)
	convos.SetPromptBuilder(convo.NewToolAwarePromptBuilder(""))
	cacheManager.SetObserver(collector.RecordCacheAccess)

	priceHub := pricehub.New(unavailableFeed{}, cfg.WebSocket.MaxSubscriptions, logger)

	hub := wsgateway.New(wsgateway.Config{
		MaxConnections:    cfg.WebSocket.MaxConnections,
		HeartbeatInterval: cfg.WebSocket.PingInterval,
		MissedPongLimit:   cfg.WebSocket.MissedPongLimit,
		WriteTimeout:      cfg.WebSocket.WriteTimeout,
		QueueSize:         cfg.WebSocket.QueueSize,
		AllowedOrigins:    cfg.AllowedOrigins,
		IsDev:             cfg.IsDevelopment(),
		MessageRatePerMin: cfg.WebSocket.MessageRatePerMin,
	}, convos, priceHub, collector, logger)

	apiHandler := httpapi.NewHandler(version, cfg.Environment, hub, convos, collector)

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	apiHandler.RegisterRoutes(r)
	r.Get("/ws", hub.ServeHTTP)

	srv := &http.Server{
		Addr:         cfg.Host + ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector.StartSummaryLoop(5*time.Minute, ctx.Done(), logger)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// newLogger builds the process logger per LOG_LEVEL and LOG_FORMAT.
func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// unavailableAdapter stands in for the external LLM provider client.
type unavailableAdapter struct{}

func (unavailableAdapter) Complete(context.Context, llm.Request) (llm.Response, error) {
	return llm.Response{}, gatewayerr.New(gatewayerr.CodeLLM, "no LLM provider client configured", nil)
}

// unavailableFeed stands in for the external streaming price feed.
type unavailableFeed struct{}

func (unavailableFeed) IsSupported(string) bool { return false }

func (unavailableFeed) Subscribe(string, func(pricehub.Msg)) (pricehub.Unsubscribe, error) {
	return nil, gatewayerr.New(gatewayerr.CodeServiceUnavail, "no price feed configured", nil)
}

func (unavailableFeed) CurrentPrice(context.Context, string) (map[string]any, error) {
	return nil, gatewayerr.New(gatewayerr.CodeServiceUnavail, "no price feed configured", nil)
}

// unavailableUpstreams wires the four default tools to executors that
// fail with SERVICE_UNAVAILABLE until real upstream adapters are
// deployed alongside the gateway.
func unavailableUpstreams() tools.Upstreams {
	return tools.Upstreams{
		GasPrices:     upstreamStub{},
		CryptoPrices:  upstreamStub{},
		LendingRates:  upstreamStub{},
		TokenBalances: upstreamStub{},
	}
}

type upstreamStub struct{}

func (upstreamStub) errNotConfigured() error {
	return gatewayerr.New(gatewayerr.CodeServiceUnavail, "upstream data adapter not configured", nil)
}

func (s upstreamStub) GasPrices(context.Context, string, string, bool) (any, error) {
	return nil, s.errNotConfigured()
}

func (s upstreamStub) CryptoPrice(context.Context, string, string, bool) (any, error) {
	return nil, s.errNotConfigured()
}

func (s upstreamStub) LendingRates(context.Context, string, []string, bool) (any, error) {
	return nil, s.errNotConfigured()
}

func (s upstreamStub) TokenBalance(context.Context, string, string, string, bool) (any, error) {
	return nil, s.errNotConfigured()
}
