// Package pricehub implements the gateway's price-feed subscription hub:
// per-symbol subscriber sets kept as a bidirectional index, fan-out of
// pushed upstream updates to every subscribed client, and lifecycle of the
// upstream streaming subscriptions themselves.
package pricehub

import "context"

// Msg is one event pushed by the upstream price feed for a symbol.
type Msg struct {
	Type   string         // "price_update", "connection", "error"
	Data   map[string]any // price payload for price_update
	Status string         // connection status for type "connection"
	Error  string         // description for type "error"
}

// Unsubscribe cancels one upstream symbol subscription.
type Unsubscribe func()

// FeedAdapter is the upstream streaming price-feed contract. The concrete
// streaming client is an external collaborator; tests use the
// deterministic fake in pricehubtest.
type FeedAdapter interface {
	// IsSupported reports whether the feed can serve the (upper-cased)
	// symbol.
	IsSupported(symbol string) bool

	// Subscribe opens a streaming subscription for symbol; cb is invoked
	// for every upstream event until the returned Unsubscribe is called.
	Subscribe(symbol string, cb func(Msg)) (Unsubscribe, error)

	// CurrentPrice fetches the symbol's latest price snapshot, used for
	// the initial price_update sent on subscribe.
	CurrentPrice(ctx context.Context, symbol string) (map[string]any, error)
}
