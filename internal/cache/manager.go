package cache

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Well-known namespace names, preconfigured per the gateway's price-data
// domain.
const (
	NamespaceGasPrices     = "gas_prices"
	NamespaceCryptoPrices  = "crypto_prices"
	NamespaceTokenBalances = "token_balances"
	NamespaceAPIResponses  = "api_responses"
	NamespaceAccessTrack   = "access_tracking"
)

// Priority orders namespaces for the global eviction sweep: low-priority
// namespaces are drained first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

type namespaceConfig struct {
	cache    *Cache
	strategy string
	priority Priority
}

// ManagerConfig bounds the manager's total footprint across all
// namespaces, the trigger for the global eviction sweep.
type ManagerConfig struct {
	MaxTotalEntries int
	MaxTotalBytes   int64
}

// Manager owns one Cache per namespace plus the strategy layer and the
// global eviction sweep, mirroring the per-namespace-bounded-list pattern
// of the teacher's message-queue discipline generalized to LRU.
type Manager struct {
	mu         sync.RWMutex
	namespaces map[string]*namespaceConfig
	strategies *StrategyRegistry
	cfg        ManagerConfig
	logger     *slog.Logger
	observer   func(namespace string, hit bool)
}

// SetObserver attaches a hit/miss observer invoked on every Get, letting
// the metrics layer count cache traffic without this package depending on
// it.
func (m *Manager) SetObserver(fn func(namespace string, hit bool)) {
	m.observer = fn
}

// NewManager constructs a Manager with the five well-known namespaces
// preconfigured per their documented TTL/priority defaults.
func NewManager(gasTTL, cryptoTTL, balancesTTL, apiTTL time.Duration, maxEntries int, maxMemMB int, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := int64(maxMemMB) * 1024 * 1024

	m := &Manager{
		namespaces: make(map[string]*namespaceConfig),
		strategies: NewStrategyRegistry(),
		cfg:        cfg,
		logger:     logger,
	}

	m.register(NamespaceGasPrices, maxEntries, maxBytes, gasTTL, "time_based", PriorityHigh)
	m.register(NamespaceCryptoPrices, maxEntries, maxBytes, cryptoTTL, "time_based", PriorityHigh)
	m.register(NamespaceTokenBalances, maxEntries, maxBytes, balancesTTL, "user_based", PriorityMedium)
	m.register(NamespaceAPIResponses, maxEntries, maxBytes, apiTTL, "lru", PriorityLow)
	m.register(NamespaceAccessTrack, maxEntries, maxBytes, time.Hour, "lru", PriorityLow)

	return m
}

func (m *Manager) register(name string, maxEntries int, maxBytes int64, ttl time.Duration, strategy string, priority Priority) {
	m.namespaces[name] = &namespaceConfig{
		cache:    NewCache(name, maxEntries, maxBytes, ttl),
		strategy: strategy,
		priority: priority,
	}
}

// RegisterNamespace adds a custom namespace beyond the five well-known
// ones, for callers that need a bespoke cache (tool-result memoization,
// for instance).
func (m *Manager) RegisterNamespace(name string, maxEntries int, maxBytes int64, ttl time.Duration, strategy string, priority Priority) *Cache {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.register(name, maxEntries, maxBytes, ttl, strategy, priority)
	return m.namespaces[name].cache
}

// Namespace returns the Cache for name, or nil if unregistered.
func (m *Manager) Namespace(name string) *Cache {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.namespaces[name]
	if !ok {
		return nil
	}
	return ns.cache
}

// Get reads from namespace, tracking the access in access_tracking so
// frequency_based strategies have something to read.
func (m *Manager) Get(namespace, key string) (any, bool) {
	ns := m.Namespace(namespace)
	if ns == nil {
		return nil, false
	}
	v, ok := ns.Get(key)
	if ok {
		m.bumpAccessCount(namespace, key)
	}
	if m.observer != nil {
		m.observer(namespace, ok)
	}
	return v, ok
}

// Set writes to namespace, applying that namespace's strategy to adjust
// the TTL before insertion, then triggers the global eviction sweep if the
// combined caps are tripped. A base of zero uses the namespace's default
// TTL as the strategy input.
func (m *Manager) Set(namespace, key string, value any, base time.Duration, sctx StrategyContext) {
	m.mu.RLock()
	ns, ok := m.namespaces[namespace]
	m.mu.RUnlock()
	if !ok {
		return
	}

	if base <= 0 {
		base = ns.cache.defaultTTL
	}
	sctx.AccessCount = m.accessCount(namespace, key)
	strategy := m.strategies.Get(ns.strategy)
	ttl := strategy.AdjustTTL(key, value, base, sctx)
	if ttl <= 0 {
		// conditional strategy (or an explicit zero TTL) means "do not cache"
		return
	}
	ns.cache.Set(key, value, ttl)
	m.maybeEvictGlobally()
}

func (m *Manager) bumpAccessCount(namespace, key string) {
	tracking := m.Namespace(NamespaceAccessTrack)
	if tracking == nil {
		return
	}
	trackKey := namespace + ":" + key
	count := 0
	if v, ok := tracking.Get(trackKey); ok {
		if n, ok := v.(int); ok {
			count = n
		}
	}
	tracking.Set(trackKey, count+1, time.Hour)
}

func (m *Manager) accessCount(namespace, key string) int {
	tracking := m.Namespace(NamespaceAccessTrack)
	if tracking == nil {
		return 0
	}
	v, ok := tracking.Get(namespace + ":" + key)
	if !ok {
		return 0
	}
	n, _ := v.(int)
	return n
}

// maybeEvictGlobally runs the ascending-priority 10%-per-namespace sweep
// when the combined entry/byte caps are exceeded.
func (m *Manager) maybeEvictGlobally() {
	if m.cfg.MaxTotalEntries <= 0 && m.cfg.MaxTotalBytes <= 0 {
		return
	}

	m.mu.RLock()
	type ranked struct {
		name     string
		priority Priority
		cache    *Cache
	}
	ordered := make([]ranked, 0, len(m.namespaces))
	for name, ns := range m.namespaces {
		ordered = append(ordered, ranked{name: name, priority: ns.priority, cache: ns.cache})
	}
	m.mu.RUnlock()

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].priority < ordered[j].priority })

	for _, r := range ordered {
		if !m.overCaps() {
			return
		}
		evicted := r.cache.EvictFraction(0.10)
		if evicted > 0 {
			m.logger.Info("global cache eviction", "namespace", r.name, "evicted", evicted)
		}
	}
}

func (m *Manager) overCaps() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var totalEntries int
	var totalBytes int64
	for _, ns := range m.namespaces {
		totalEntries += ns.cache.Len()
		totalBytes += ns.cache.Bytes()
	}
	if m.cfg.MaxTotalEntries > 0 && totalEntries > m.cfg.MaxTotalEntries {
		return true
	}
	if m.cfg.MaxTotalBytes > 0 && totalBytes > m.cfg.MaxTotalBytes {
		return true
	}
	return false
}

// Cleanup sweeps every namespace's expired entries, returning total removed.
func (m *Manager) Cleanup() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, ns := range m.namespaces {
		total += ns.cache.Cleanup()
	}
	return total
}
