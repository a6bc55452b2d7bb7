// Package ratelimit implements the gateway's per-key sliding-window rate
// limiter with burst allowance and upstream-provider coordination.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ashureev/convo-gateway/internal/gatewayerr"
)

// Priority expresses the relative importance of a key when callers need to
// reason about contention; the limiter itself does not use it to change
// admission decisions, only to log denials with context.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Key configures rate limiting for one named bucket.
type Key struct {
	Name          string
	MaxRequests   int
	Window        time.Duration
	BurstFraction float64
	Provider      string
	Priority      Priority
}

// DenyReason explains why a request was not allowed.
type DenyReason string

const (
	DenyReasonNone             DenyReason = ""
	DenyReasonLimitExceeded    DenyReason = "limit_exceeded"
	DenyReasonProviderExceeded DenyReason = "provider_limit_exceeded"
)

// Decision is the outcome of a checkRateLimit call.
type Decision struct {
	Allowed bool
	Burst   bool
	Reason  DenyReason
}

// Limiter implements spec-shaped sliding-window rate limiting. Keys never
// registered via Configure are always allowed, matching the edge case that
// unconfigured keys must not block callers.
type Limiter struct {
	mu sync.Mutex

	keys            map[string]Key
	history         map[string][]time.Time
	providerHistory map[string][]time.Time

	maxAge       time.Duration
	pollInterval time.Duration

	logger       *slog.Logger
	denyObserver func()

	closeOnce sync.Once
	closeCh   chan struct{}
}

// Option configures a Limiter at construction time.
type Option func(*Limiter)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(lim *Limiter) { lim.logger = l }
}

// WithDenyObserver registers a callback invoked on every denial, letting
// the metrics layer count rate-limit hits without a package dependency.
func WithDenyObserver(fn func()) Option {
	return func(lim *Limiter) { lim.denyObserver = fn }
}

// New constructs a Limiter and starts its background cleanup goroutine.
// cleanupInterval controls how often stale history entries are evicted;
// maxAge controls how old an entry may be before it is dropped.
func New(cleanupInterval, maxAge, pollInterval time.Duration, opts ...Option) *Limiter {
	lim := &Limiter{
		keys:            make(map[string]Key),
		history:         make(map[string][]time.Time),
		providerHistory: make(map[string][]time.Time),
		maxAge:          maxAge,
		pollInterval:    pollInterval,
		logger:          slog.Default(),
		closeCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(lim)
	}
	lim.startEviction(cleanupInterval)
	return lim
}

// Configure registers or replaces the configuration for a key.
func (l *Limiter) Configure(key Key) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys[key.Name] = key
}

// Close stops the background cleanup goroutine.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.closeCh) })
}

// Check evaluates whether a request against keyName is allowed right now,
// recording it in history on allow. Unconfigured keys are always allowed.
func (l *Limiter) Check(keyName string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, ok := l.keys[keyName]
	if !ok {
		return Decision{Allowed: true}
	}

	now := time.Now()
	cutoff := now.Add(-cfg.Window)
	recent := pruneAfter(l.history[keyName], cutoff)

	if cfg.Provider != "" {
		providerCutoff := now.Add(-cfg.Window)
		providerRecent := pruneAfter(l.providerHistory[cfg.Provider], providerCutoff)
		l.providerHistory[cfg.Provider] = providerRecent
		providerCfg := l.providerCap(cfg.Provider)
		if providerCfg > 0 && len(providerRecent) >= providerCfg {
			l.history[keyName] = recent
			l.logger.Warn("rate limit denied: provider cap exceeded",
				"key", keyName, "provider", cfg.Provider, "priority", cfg.Priority)
			if l.denyObserver != nil {
				l.denyObserver()
			}
			return Decision{Allowed: false, Reason: DenyReasonProviderExceeded}
		}
	}

	burst := false
	allowed := len(recent)+1 <= cfg.MaxRequests
	if !allowed && cfg.BurstFraction > 0 {
		burstCap := int(math.Floor(float64(cfg.MaxRequests) * (1 + cfg.BurstFraction)))
		if len(recent)+1 <= burstCap {
			allowed = true
			burst = true
		}
	}

	if !allowed {
		l.history[keyName] = recent
		l.logger.Warn("rate limit denied", "key", keyName, "priority", cfg.Priority)
		if l.denyObserver != nil {
			l.denyObserver()
		}
		return Decision{Allowed: false, Reason: DenyReasonLimitExceeded}
	}

	l.history[keyName] = append(recent, now)
	if cfg.Provider != "" {
		l.providerHistory[cfg.Provider] = append(l.providerHistory[cfg.Provider], now)
	}
	return Decision{Allowed: true, Burst: burst}
}

// providerCap returns the strictest configured MaxRequests among keys
// sharing the given provider label, used as the provider-level cap.
func (l *Limiter) providerCap(provider string) int {
	cap := 0
	for _, k := range l.keys {
		if k.Provider != provider {
			continue
		}
		if cap == 0 || k.MaxRequests < cap {
			cap = k.MaxRequests
		}
	}
	return cap
}

// WaitForRateLimit polls Check until allowed or maxWait elapses, sleeping
// min(pollInterval, timeUntilReset) between attempts.
func (l *Limiter) WaitForRateLimit(ctx context.Context, keyName string, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	for {
		decision := l.Check(keyName)
		if decision.Allowed {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return gatewayerr.New(gatewayerr.CodeRateLimit, "timed out waiting for rate limit", nil,
				"Wait longer before retrying", "Reduce request frequency")
		}

		sleep := l.pollInterval
		if until := l.timeUntilReset(keyName); until < sleep {
			sleep = until
		}
		if sleep > remaining {
			sleep = remaining
		}
		if sleep <= 0 {
			sleep = time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (l *Limiter) timeUntilReset(keyName string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, ok := l.keys[keyName]
	if !ok {
		return 0
	}
	history := l.history[keyName]
	if len(history) == 0 {
		return 0
	}
	oldest := history[0]
	until := time.Until(oldest.Add(cfg.Window))
	if until < 0 {
		return 0
	}
	return until
}

func (l *Limiter) startEviction(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.closeCh:
				return
			case <-ticker.C:
				l.evictStale()
			}
		}
	}()
}

func (l *Limiter) evictStale() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.maxAge)
	for key, times := range l.history {
		fresh := pruneAfter(times, cutoff)
		if len(fresh) == 0 {
			delete(l.history, key)
		} else {
			l.history[key] = fresh
		}
	}
	for provider, times := range l.providerHistory {
		fresh := pruneAfter(times, cutoff)
		if len(fresh) == 0 {
			delete(l.providerHistory, provider)
		} else {
			l.providerHistory[provider] = fresh
		}
	}
}

func pruneAfter(times []time.Time, cutoff time.Time) []time.Time {
	var kept []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
