package cache

import "time"

// StrategyContext carries the signals a Strategy may use to adjust a TTL.
type StrategyContext struct {
	MarketHours    bool
	HighVolatility bool
	AccessCount    int
	UserTier       string
}

// Strategy adjusts a base TTL for a given key/value pair. Namespaces
// dispatch to a named strategy the same way the tool registry dispatches
// to a named executor — a registry of small interchangeable units rather
// than a type switch.
type Strategy interface {
	AdjustTTL(key string, value any, base time.Duration, sctx StrategyContext) time.Duration
}

// StrategyFunc adapts a plain function to the Strategy interface.
type StrategyFunc func(key string, value any, base time.Duration, sctx StrategyContext) time.Duration

func (f StrategyFunc) AdjustTTL(key string, value any, base time.Duration, sctx StrategyContext) time.Duration {
	return f(key, value, base, sctx)
}

// LRUStrategy makes no adjustment; it is the default for namespaces that
// don't need anything beyond plain LRU+TTL behavior.
var LRUStrategy Strategy = StrategyFunc(func(_ string, _ any, base time.Duration, _ StrategyContext) time.Duration {
	return base
})

// TimeBasedStrategy halves the TTL during market hours or when the value
// is flagged volatile, since both conditions mean the cached value goes
// stale faster than usual.
var TimeBasedStrategy Strategy = StrategyFunc(func(_ string, _ any, base time.Duration, sctx StrategyContext) time.Duration {
	if sctx.MarketHours || sctx.HighVolatility {
		return base / 2
	}
	return base
})

// FrequencyBasedStrategy doubles the TTL for keys observed more than 10
// times, and halves it for keys seen for the first time.
var FrequencyBasedStrategy Strategy = StrategyFunc(func(_ string, _ any, base time.Duration, sctx StrategyContext) time.Duration {
	switch {
	case sctx.AccessCount > 10:
		return base * 2
	case sctx.AccessCount == 0:
		return base / 2
	default:
		return base
	}
})

// UserBasedStrategy scales TTL by user tier, capping balance-like
// namespaces at 30s regardless of tier so stale balances never linger.
var UserBasedStrategy Strategy = StrategyFunc(func(_ string, _ any, base time.Duration, sctx StrategyContext) time.Duration {
	ttl := base
	switch sctx.UserTier {
	case "premium":
		ttl = base * 2
	case "free", "":
		ttl = base
	}
	const balanceCap = 30 * time.Second
	if ttl > balanceCap {
		ttl = balanceCap
	}
	return ttl
})

// ConditionalStrategy returns zero, signaling "do not cache", for
// empty/nil/empty-object values.
var ConditionalStrategy Strategy = StrategyFunc(func(_ string, value any, base time.Duration, _ StrategyContext) time.Duration {
	if isEmptyValue(value) {
		return 0
	}
	return base
})

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case map[string]any:
		return len(val) == 0
	case []any:
		return len(val) == 0
	default:
		return false
	}
}

// StrategyRegistry looks up strategies by name, the registration-driven
// pattern mirroring the tool registry rather than a type switch.
type StrategyRegistry struct {
	strategies map[string]Strategy
}

// NewStrategyRegistry returns a registry preloaded with the five named
// strategies.
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{
		strategies: map[string]Strategy{
			"lru":             LRUStrategy,
			"time_based":      TimeBasedStrategy,
			"frequency_based": FrequencyBasedStrategy,
			"user_based":      UserBasedStrategy,
			"conditional":     ConditionalStrategy,
		},
	}
}

// Register adds or replaces a named strategy.
func (r *StrategyRegistry) Register(name string, s Strategy) {
	r.strategies[name] = s
}

// Get returns the named strategy, falling back to LRUStrategy if unknown.
func (r *StrategyRegistry) Get(name string) Strategy {
	if s, ok := r.strategies[name]; ok {
		return s
	}
	return LRUStrategy
}
