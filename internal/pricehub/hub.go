package pricehub

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/convo-gateway/internal/gatewayerr"
)

// PriceUpdate is the frame fanned out to subscribers when the upstream
// feed pushes a price.
type PriceUpdate struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol"`
	Data      any    `json:"data"`
	Initial   bool   `json:"initial,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ConnectionStatus is the frame fanned out when the upstream connection
// state for a symbol changes.
type ConnectionStatus struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// Confirmation is the response to a subscribe or unsubscribe request,
// listing the client's full current subscription set plus what changed.
type Confirmation struct {
	Type      string   `json:"type"`
	Symbols   []string `json:"symbols"`
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Timestamp int64    `json:"timestamp"`
}

// Sender delivers one frame to a client. Implementations must not block
// indefinitely; the WebSocket layer backs this with a bounded per-client
// outbound queue so a slow reader can't stall the upstream feed.
type Sender func(frame any)

type client struct {
	send    Sender
	symbols map[string]struct{}
}

// Hub owns the bidirectional subscription index and the upstream feed
// subscriptions. For every client c and symbol s, s is in c's set iff c is
// in s's subscriber set. The symbol index retains no empty sets; a
// registered client keeps its record, possibly with an empty symbol set,
// until RemoveClient.
type Hub struct {
	mu sync.Mutex

	feed         FeedAdapter
	maxPerClient int
	logger       *slog.Logger

	clients           map[string]*client
	symbolSubscribers map[string]map[string]struct{}
	upstream          map[string]Unsubscribe
}

// New constructs a Hub over the given feed adapter.
func New(feed FeedAdapter, maxPerClient int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		feed:              feed,
		maxPerClient:      maxPerClient,
		logger:            logger,
		clients:           make(map[string]*client),
		symbolSubscribers: make(map[string]map[string]struct{}),
		upstream:          make(map[string]Unsubscribe),
	}
}

// RegisterClient attaches a client's frame sender. Must be called before
// the client subscribes; calling it again replaces the sender.
func (h *Hub) RegisterClient(clientID string, send Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.send = send
		return
	}
	h.clients[clientID] = &client{send: send, symbols: make(map[string]struct{})}
}

// Subscribe normalizes and filters symbols, enforces the per-client cap,
// opens upstream subscriptions for first subscribers, pushes an initial
// price_update per newly added symbol, and returns the confirmation frame.
func (h *Hub) Subscribe(ctx context.Context, clientID string, symbols []string) (Confirmation, error) {
	valid := h.normalize(symbols)
	if len(valid) == 0 {
		return Confirmation{}, gatewayerr.New(gatewayerr.CodeValidation, "No valid symbols", nil,
			"Check the symbol list against the supported set")
	}

	h.mu.Lock()
	c, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return Confirmation{}, gatewayerr.New(gatewayerr.CodeSession, "client not registered", nil)
	}

	var added []string
	for _, sym := range valid {
		if _, already := c.symbols[sym]; !already {
			added = append(added, sym)
		}
	}
	if len(c.symbols)+len(added) > h.maxPerClient {
		h.mu.Unlock()
		return Confirmation{}, gatewayerr.New(gatewayerr.CodeValidation, "Subscription limit exceeded", nil,
			"Unsubscribe from symbols you no longer need")
	}

	var needUpstream []string
	for _, sym := range added {
		c.symbols[sym] = struct{}{}
		subs, ok := h.symbolSubscribers[sym]
		if !ok {
			subs = make(map[string]struct{})
			h.symbolSubscribers[sym] = subs
		}
		if len(subs) == 0 {
			needUpstream = append(needUpstream, sym)
		}
		subs[clientID] = struct{}{}
	}
	current := c.currentSymbols()
	send := c.send
	h.mu.Unlock()

	for _, sym := range needUpstream {
		h.openUpstream(sym)
	}

	// Initial snapshot per newly added symbol, best-effort: a feed that
	// can't produce one yet still leaves the streaming subscription live.
	for _, sym := range added {
		data, err := h.feed.CurrentPrice(ctx, sym)
		if err != nil {
			h.logger.Warn("initial price fetch failed", "symbol", sym, "error", err)
			continue
		}
		send(PriceUpdate{
			Type:      "price_update",
			Symbol:    sym,
			Data:      data,
			Initial:   true,
			Timestamp: time.Now().UnixMilli(),
		})
	}

	h.logger.Info("client subscribed", "client_id", clientID, "added", added)
	return Confirmation{
		Type:      "subscription_confirmed",
		Symbols:   current,
		Added:     added,
		Removed:   []string{},
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// Unsubscribe removes symbols from both indices, cancelling upstream
// subscriptions for symbols left with no subscribers.
func (h *Hub) Unsubscribe(clientID string, symbols []string) (Confirmation, error) {
	requested := h.normalize(symbols)

	h.mu.Lock()
	c, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return Confirmation{}, gatewayerr.New(gatewayerr.CodeSession, "client not registered", nil)
	}

	var removed []string
	var orphaned []Unsubscribe
	for _, sym := range requested {
		if _, subscribed := c.symbols[sym]; !subscribed {
			continue
		}
		delete(c.symbols, sym)
		removed = append(removed, sym)
		if subs, ok := h.symbolSubscribers[sym]; ok {
			delete(subs, clientID)
			if len(subs) == 0 {
				delete(h.symbolSubscribers, sym)
				if cancel, ok := h.upstream[sym]; ok {
					orphaned = append(orphaned, cancel)
					delete(h.upstream, sym)
				}
			}
		}
	}
	current := c.currentSymbols()
	h.mu.Unlock()

	for _, cancel := range orphaned {
		cancel()
	}

	h.logger.Info("client unsubscribed", "client_id", clientID, "removed", removed)
	return Confirmation{
		Type:      "unsubscription_confirmed",
		Symbols:   current,
		Added:     []string{},
		Removed:   removed,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// Subscriptions returns the client's current subscribed symbols, sorted.
func (h *Hub) Subscriptions(clientID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[clientID]
	if !ok {
		return nil
	}
	return c.currentSymbols()
}

// RemoveClient runs the disconnect path: the client leaves every symbol
// set, and upstream subscriptions for now-orphaned symbols are cancelled.
func (h *Hub) RemoveClient(clientID string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return
	}
	var orphaned []Unsubscribe
	for sym := range c.symbols {
		if subs, ok := h.symbolSubscribers[sym]; ok {
			delete(subs, clientID)
			if len(subs) == 0 {
				delete(h.symbolSubscribers, sym)
				if cancel, ok := h.upstream[sym]; ok {
					orphaned = append(orphaned, cancel)
					delete(h.upstream, sym)
				}
			}
		}
	}
	delete(h.clients, clientID)
	h.mu.Unlock()

	for _, cancel := range orphaned {
		cancel()
	}
	h.logger.Info("price hub client removed", "client_id", clientID)
}

// HandlePriceUpdate fans one upstream event out to every subscriber of
// symbol. For price_update and connection events each subscriber receives
// exactly one frame per call; error events are logged and not forwarded.
func (h *Hub) HandlePriceUpdate(symbol string, msg Msg) {
	h.mu.Lock()
	subs := h.symbolSubscribers[symbol]
	senders := make([]Sender, 0, len(subs))
	for clientID := range subs {
		if c, ok := h.clients[clientID]; ok {
			senders = append(senders, c.send)
		}
	}
	h.mu.Unlock()

	now := time.Now().UnixMilli()
	switch msg.Type {
	case "price_update":
		for _, send := range senders {
			send(PriceUpdate{Type: "price_update", Symbol: symbol, Data: msg.Data, Timestamp: now})
		}
	case "connection":
		for _, send := range senders {
			send(ConnectionStatus{Type: "connection_status", Symbol: symbol, Status: msg.Status, Timestamp: now})
		}
	case "error":
		h.logger.Warn("upstream feed error", "symbol", symbol, "error", msg.Error)
	}
}

func (h *Hub) openUpstream(symbol string) {
	cancel, err := h.feed.Subscribe(symbol, func(msg Msg) {
		h.HandlePriceUpdate(symbol, msg)
	})
	if err != nil {
		h.logger.Error("upstream subscribe failed", "symbol", symbol, "error", err)
		return
	}
	h.mu.Lock()
	h.upstream[symbol] = cancel
	h.mu.Unlock()
}

// normalize upper-cases and filters to feed-supported symbols, dropping
// duplicates while preserving first-appearance order.
func (h *Hub) normalize(symbols []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(s))
		if sym == "" || !h.feed.IsSupported(sym) {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}

func (c *client) currentSymbols() []string {
	out := make([]string, 0, len(c.symbols))
	for sym := range c.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
