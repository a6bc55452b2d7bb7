package wsgateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

// clientConn is one connected client: its socket, session id, and a
// bounded outbound queue. The queue is the single serialization point for
// the socket's write side; when it fills, the oldest pending frame is
// dropped rather than stalling the producer.
type clientConn struct {
	id       string
	ws       *websocket.Conn
	outbound chan any
	lastSeen atomicTime

	// msgLimiter throttles this connection's USER_MESSAGE frames; nil
	// means unthrottled.
	msgLimiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	logger       *slog.Logger
	writeTimeout time.Duration
}

type atomicTime struct {
	mu sync.Mutex
	t  time.Time
}

func (a *atomicTime) set(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

func (a *atomicTime) get() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t
}

func newClientConn(parent context.Context, id string, ws *websocket.Conn, queueSize int, writeTimeout time.Duration, logger *slog.Logger) *clientConn {
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(parent)
	c := &clientConn{
		id:           id,
		ws:           ws,
		outbound:     make(chan any, queueSize),
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger,
		writeTimeout: writeTimeout,
	}
	c.lastSeen.set(time.Now())
	return c
}

// enqueue queues a frame for delivery, dropping the oldest pending frame
// on backpressure so a slow socket never stalls the caller.
func (c *clientConn) enqueue(frame any) {
	select {
	case c.outbound <- frame:
		return
	case <-c.ctx.Done():
		return
	default:
	}

	select {
	case <-c.outbound:
		c.logger.Warn("outbound queue full, dropped oldest frame", "client_id", c.id)
	default:
	}

	select {
	case c.outbound <- frame:
	case <-c.ctx.Done():
	default:
		c.logger.Warn("failed to queue frame after backpressure", "client_id", c.id)
	}
}

// writeLoop drains the outbound queue onto the socket, one writer per
// connection, preserving enqueue order.
func (c *clientConn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.outbound:
			data, err := json.Marshal(frame)
			if err != nil {
				c.logger.Error("frame marshal failed", "client_id", c.id, "error", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
			err = c.ws.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				if c.ctx.Err() == nil {
					c.logger.Debug("websocket write error", "client_id", c.id, "error", err)
				}
				c.cancel()
				return
			}
		}
	}
}
