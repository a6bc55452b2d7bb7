package tools

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/convo-gateway/internal/gatewayerr"
)

// retryableCodes is the set of gatewayerr codes the executor will retry,
// matching spec.md's {NETWORK_ERROR, RATE_LIMIT, SERVICE_UNAVAILABLE}.
var retryableCodes = map[gatewayerr.Code]bool{
	gatewayerr.CodeNetwork:        true,
	gatewayerr.CodeRateLimit:      true,
	gatewayerr.CodeServiceUnavail: true,
}

// RateGate is the slice of the rate limiter the executor consults before
// reaching an upstream.
type RateGate interface {
	WaitForRateLimit(ctx context.Context, key string, maxWait time.Duration) error
}

// ExternalCallRecorder receives one observation per upstream invocation.
type ExternalCallRecorder interface {
	RecordExternalCall(provider string, duration time.Duration, failed bool)
}

// ExecutorConfig controls the registry's retry/backoff behavior and the
// executor's rate-limit and metrics collaborators.
type ExecutorConfig struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	Timeout        time.Duration

	// Limiter, when set, gates every execution on LimiterKey before the
	// upstream is touched; a wait past LimiterWait fails the tool call
	// with RATE_LIMIT rather than blocking the turn indefinitely.
	Limiter     RateGate
	LimiterKey  string
	LimiterWait time.Duration

	// Metrics, when set, receives one external-call observation per
	// executor attempt, keyed by tool name as the provider label.
	Metrics ExternalCallRecorder
}

// DefaultExecutorConfig mirrors spec.md's defaults (maxRetries=2).
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxRetries:     2,
		RetryBaseDelay: 100 * time.Millisecond,
		Timeout:        10 * time.Second,
	}
}

// ExecuteTool looks up name, validates params against its schema, then
// invokes the executor under a retry loop, sleeping baseDelay*2^attempt
// between retryable failures.
func ExecuteTool(ctx context.Context, reg *Registry, cfg ExecutorConfig, name string, params map[string]any, logger *slog.Logger) Result {
	if logger == nil {
		logger = slog.Default()
	}

	def, ok := reg.Get(name)
	if !ok {
		return Result{
			ToolName:            name,
			Parameters:          params,
			Success:             false,
			ErrorMessage:        "tool not found: " + name,
			ErrorCode:           string(gatewayerr.CodeToolNotFound),
			RecoverySuggestions: gatewayerr.New(gatewayerr.CodeToolNotFound, "", nil).Suggestions,
		}
	}

	if problems := def.Schema.Validate(params); len(problems) > 0 {
		msg := "Invalid parameters: " + strings.Join(problems, "; ")
		return Result{
			ToolName:            name,
			Parameters:          params,
			Success:             false,
			ErrorMessage:        msg,
			ErrorCode:           string(gatewayerr.CodeInvalidParameters),
			RecoverySuggestions: gatewayerr.New(gatewayerr.CodeInvalidParameters, "", nil).Suggestions,
		}
	}

	start := time.Now()

	if cfg.Limiter != nil {
		if err := cfg.Limiter.WaitForRateLimit(ctx, cfg.LimiterKey, cfg.LimiterWait); err != nil {
			return Result{
				ToolName:            name,
				Parameters:          params,
				ExecutionTime:       time.Since(start).Milliseconds(),
				Success:             false,
				ErrorMessage:        err.Error(),
				ErrorCode:           string(gatewayerr.CodeRateLimit),
				RecoverySuggestions: gatewayerr.New(gatewayerr.CodeRateLimit, "", nil).Suggestions,
			}
		}
	}

	var lastErr error
	var value any

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if cfg.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}
		attemptStart := time.Now()
		value, lastErr = def.Executor(callCtx, params)
		if cancel != nil {
			cancel()
		}
		if cfg.Metrics != nil {
			cfg.Metrics.RecordExternalCall(name, time.Since(attemptStart), lastErr != nil)
		}

		if lastErr == nil {
			return Result{
				ToolName:      name,
				Parameters:    params,
				Result:        value,
				ExecutionTime: time.Since(start).Milliseconds(),
				Success:       true,
			}
		}

		cls := gatewayerr.Classify(lastErr)
		if !retryableCodes[cls.Category] || attempt == cfg.MaxRetries {
			break
		}

		delay := cfg.RetryBaseDelay * time.Duration(1<<uint(attempt))
		logger.Warn("tool execution retrying", "tool", name, "attempt", attempt, "delay", delay, "error", lastErr)

		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = cfg.MaxRetries
		case <-time.After(delay):
		}
	}

	var ge *gatewayerr.Error
	code := gatewayerr.CodeTool
	suggestions := gatewayerr.New(gatewayerr.CodeTool, "", nil).Suggestions
	if asErr, ok := lastErr.(*gatewayerr.Error); ok {
		ge = asErr
		code = ge.Code
		suggestions = ge.Suggestions
	}

	return Result{
		ToolName:            name,
		Parameters:          params,
		ExecutionTime:       time.Since(start).Milliseconds(),
		Success:             false,
		ErrorMessage:        lastErr.Error(),
		ErrorCode:           string(code),
		RecoverySuggestions: suggestions,
	}
}
