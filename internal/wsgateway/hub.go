// Package wsgateway implements the gateway's WebSocket fan-out hub:
// accept loop with a global connection cap, session id issuance, typed
// frame routing, server-initiated heartbeat, and the per-connection
// write-queue discipline that keeps frame ordering observable end-to-end.
package wsgateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ashureev/convo-gateway/internal/convo"
	"github.com/ashureev/convo-gateway/internal/gatewayerr"
	"github.com/ashureev/convo-gateway/internal/metrics"
	"github.com/ashureev/convo-gateway/internal/pricehub"
)

// Conversations is the slice of the conversation manager the hub needs.
type Conversations interface {
	ProcessMessage(ctx context.Context, sessionID, userID, userText string, externalHistory []convo.Message) convo.Message
}

// PriceSubscriptions is the slice of the price hub the hub delegates
// SUBSCRIBE/UNSUBSCRIBE/GET_SUBSCRIPTIONS frames to.
type PriceSubscriptions interface {
	RegisterClient(clientID string, send pricehub.Sender)
	Subscribe(ctx context.Context, clientID string, symbols []string) (pricehub.Confirmation, error)
	Unsubscribe(clientID string, symbols []string) (pricehub.Confirmation, error)
	Subscriptions(clientID string) []string
	RemoveClient(clientID string)
}

// Config bounds the hub's behavior.
type Config struct {
	MaxConnections    int
	HeartbeatInterval time.Duration
	MissedPongLimit   int
	WriteTimeout      time.Duration
	QueueSize         int
	AllowedOrigins    []string
	IsDev             bool

	// MessageRatePerMin throttles each connection's USER_MESSAGE frames
	// with a token bucket; zero disables the throttle.
	MessageRatePerMin int
}

// Hub accepts WebSocket connections and routes their typed frames.
type Hub struct {
	cfg       Config
	convos    Conversations
	prices    PriceSubscriptions
	registry  *Registry
	collector *metrics.Collector
	logger    *slog.Logger
}

// New constructs a Hub. prices and collector may be nil; the matching
// frame types then answer with an ERROR frame or go uncounted.
func New(cfg Config, convos Conversations, prices PriceSubscriptions, collector *metrics.Collector, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MissedPongLimit <= 0 {
		cfg.MissedPongLimit = 2
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Hub{
		cfg:       cfg,
		convos:    convos,
		prices:    prices,
		registry:  NewRegistry(),
		collector: collector,
		logger:    logger,
	}
}

// ActiveConnections returns the current connection count.
func (h *Hub) ActiveConnections() int {
	return h.registry.Count()
}

// MaxConnections returns the configured connection cap.
func (h *Hub) MaxConnections() int {
	return h.cfg.MaxConnections
}

// ServeHTTP upgrades the request and runs the connection to completion.
// Accepts past the connection cap are refused before the upgrade so
// existing connections are unaffected.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	if h.cfg.MaxConnections > 0 && h.registry.Count() >= h.cfg.MaxConnections {
		h.logger.Warn("connection refused: limit reached", "max", h.cfg.MaxConnections, "ip", r.RemoteAddr)
		http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("websocket close failed", "error", closeErr)
		}
	}()

	sessionID := "sess_" + uuid.NewString()
	h.logger.Info("websocket connected", "session_id", sessionID, "ip", r.RemoteAddr)

	c := newClientConn(r.Context(), sessionID, ws, h.cfg.QueueSize, h.cfg.WriteTimeout, h.logger)
	if h.cfg.MessageRatePerMin > 0 {
		c.msgLimiter = rate.NewLimiter(rate.Limit(float64(h.cfg.MessageRatePerMin)/60.0), h.cfg.MessageRatePerMin)
	}
	defer c.cancel()

	h.registry.Register(c)
	defer h.registry.Unregister(c)

	if h.prices != nil {
		h.prices.RegisterClient(sessionID, c.enqueue)
		defer h.prices.RemoveClient(sessionID)
	}

	c.enqueue(connectionEstablishedFrame{
		Type:      "CONNECTION_ESTABLISHED",
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
	})

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer c.cancel()
		h.readLoop(c)
	}()

	go func() {
		defer wg.Done()
		defer c.cancel()
		c.writeLoop()
	}()

	h.heartbeat(c)

	wg.Wait()
	h.logger.Info("websocket disconnected", "session_id", sessionID)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.cfg.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn("websocket origin rejected", "origin", origin)
	return false
}

// readLoop reads and handles frames one at a time, serializing this
// connection's frame handling so observable ordering is preserved.
func (h *Hub) readLoop(c *clientConn) {
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("websocket closed by client", "session_id", c.id)
			} else if c.ctx.Err() == nil {
				h.logger.Warn("websocket read error", "session_id", c.id, "error", err)
			}
			return
		}
		c.lastSeen.set(time.Now())

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.enqueue(newErrorFrame("", "malformed JSON frame", gatewayerr.CodeValidation, http.StatusBadRequest))
			continue
		}
		h.routeFrame(c, frame)
	}
}

func (h *Hub) routeFrame(c *clientConn, frame inboundFrame) {
	switch frame.Type {
	case frameTypePing:
		c.enqueue(pongFrame{Type: "PONG", ID: frame.ID, Timestamp: time.Now().UnixMilli()})

	case frameTypeUserMessage:
		h.handleUserMessage(c, frame)

	case frameTypeSubscribe:
		if h.prices == nil {
			c.enqueue(newErrorFrame(frame.ID, "price subscriptions unavailable", gatewayerr.CodeServiceUnavail, http.StatusServiceUnavailable))
			return
		}
		conf, err := h.prices.Subscribe(c.ctx, c.id, frame.Symbols)
		if err != nil {
			h.enqueueError(c, frame.ID, err)
			return
		}
		c.enqueue(conf)

	case frameTypeUnsubscribe:
		if h.prices == nil {
			c.enqueue(newErrorFrame(frame.ID, "price subscriptions unavailable", gatewayerr.CodeServiceUnavail, http.StatusServiceUnavailable))
			return
		}
		conf, err := h.prices.Unsubscribe(c.id, frame.Symbols)
		if err != nil {
			h.enqueueError(c, frame.ID, err)
			return
		}
		c.enqueue(conf)

	case frameTypeGetSubscriptions:
		if h.prices == nil {
			c.enqueue(newErrorFrame(frame.ID, "price subscriptions unavailable", gatewayerr.CodeServiceUnavail, http.StatusServiceUnavailable))
			return
		}
		symbols := h.prices.Subscriptions(c.id)
		if symbols == nil {
			symbols = []string{}
		}
		c.enqueue(subscriptionsFrame{Type: "subscriptions", Symbols: symbols, Timestamp: time.Now().UnixMilli()})

	default:
		c.enqueue(newErrorFrame(frame.ID, "unknown frame type: "+frame.Type, gatewayerr.CodeValidation, http.StatusBadRequest))
	}
}

// handleUserMessage forwards the message to the conversation manager. The
// turn runs on a context detached from the connection so a mid-turn
// disconnect never leaves the session log half-written; the reply is
// simply discarded if the client is gone by then.
func (h *Hub) handleUserMessage(c *clientConn, frame inboundFrame) {
	if h.convos == nil {
		c.enqueue(newErrorFrame(frame.ID, "conversations unavailable", gatewayerr.CodeServiceUnavail, http.StatusServiceUnavailable))
		return
	}
	if c.msgLimiter != nil && !c.msgLimiter.Allow() {
		if h.collector != nil {
			h.collector.RecordRateLimitExceeded()
		}
		c.enqueue(newErrorFrame(frame.ID, "message rate limit exceeded", gatewayerr.CodeRateLimit, http.StatusTooManyRequests))
		return
	}
	start := time.Now()
	reply := h.convos.ProcessMessage(context.WithoutCancel(c.ctx), c.id, "", frame.Content, nil)
	if h.collector != nil {
		h.collector.RecordRequest("WS", "USER_MESSAGE", 200, time.Since(start))
		if reply.Error != nil {
			h.collector.RecordError(reply.Error.Code, "USER_MESSAGE", reply.Content)
		}
	}
	c.enqueue(toAssistantFrame(reply))
}

func (h *Hub) enqueueError(c *clientConn, id string, err error) {
	cls := gatewayerr.Classify(err)
	status := http.StatusBadRequest
	if cls.Severity == gatewayerr.SeverityError {
		status = http.StatusInternalServerError
	}
	message := err.Error()
	var ge *gatewayerr.Error
	if asGatewayError(err, &ge) {
		message = ge.Message
	}
	if h.collector != nil {
		h.collector.RecordError(string(cls.Category), "WS", message)
	}
	c.enqueue(newErrorFrame(id, message, cls.Category, status))
}

func asGatewayError(err error, target **gatewayerr.Error) bool {
	for err != nil {
		if ge, ok := err.(*gatewayerr.Error); ok {
			*target = ge
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// heartbeat probes the socket on the configured interval; after
// MissedPongLimit consecutive failed probes the connection is terminated
// and the normal disconnect path runs.
func (h *Hub) heartbeat(c *clientConn) {
	go func() {
		ticker := time.NewTicker(h.cfg.HeartbeatInterval)
		defer ticker.Stop()

		missed := 0
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(c.ctx, h.cfg.HeartbeatInterval)
				err := c.ws.Ping(pingCtx)
				cancel()
				if err != nil {
					if c.ctx.Err() != nil {
						return
					}
					missed++
					h.logger.Warn("heartbeat missed", "session_id", c.id, "missed", missed)
					if missed >= h.cfg.MissedPongLimit {
						h.logger.Info("terminating unresponsive connection", "session_id", c.id)
						c.cancel()
						return
					}
					continue
				}
				missed = 0
				c.lastSeen.set(time.Now())
			}
		}
	}()
}
