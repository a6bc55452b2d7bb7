// Package pricehubtest provides a deterministic in-memory FeedAdapter for
// price hub tests.
package pricehubtest

import (
	"context"
	"sync"

	"github.com/ashureev/convo-gateway/internal/pricehub"
)

// Feed is a fake upstream price feed. Tests drive it by calling Push to
// simulate upstream events and inspect ActiveSubscriptions to assert
// upstream subscription lifecycle.
type Feed struct {
	mu        sync.Mutex
	supported map[string]struct{}
	callbacks map[string]func(pricehub.Msg)
	prices    map[string]map[string]any

	SubscribeErr error
	PriceErr     error
}

// NewFeed constructs a Feed supporting the given symbols.
func NewFeed(symbols ...string) *Feed {
	f := &Feed{
		supported: make(map[string]struct{}),
		callbacks: make(map[string]func(pricehub.Msg)),
		prices:    make(map[string]map[string]any),
	}
	for _, s := range symbols {
		f.supported[s] = struct{}{}
		f.prices[s] = map[string]any{"symbol": s, "price": 100.0}
	}
	return f
}

// IsSupported implements pricehub.FeedAdapter.
func (f *Feed) IsSupported(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.supported[symbol]
	return ok
}

// Subscribe implements pricehub.FeedAdapter.
func (f *Feed) Subscribe(symbol string, cb func(pricehub.Msg)) (pricehub.Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeErr != nil {
		return nil, f.SubscribeErr
	}
	f.callbacks[symbol] = cb
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.callbacks, symbol)
	}, nil
}

// CurrentPrice implements pricehub.FeedAdapter.
func (f *Feed) CurrentPrice(_ context.Context, symbol string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PriceErr != nil {
		return nil, f.PriceErr
	}
	return f.prices[symbol], nil
}

// Push delivers an upstream event for symbol to its registered callback,
// if any.
func (f *Feed) Push(symbol string, msg pricehub.Msg) {
	f.mu.Lock()
	cb := f.callbacks[symbol]
	f.mu.Unlock()
	if cb != nil {
		cb(msg)
	}
}

// ActiveSubscriptions returns the symbols with a live upstream callback.
func (f *Feed) ActiveSubscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.callbacks))
	for s := range f.callbacks {
		out = append(out, s)
	}
	return out
}
