// Package httpapi provides the gateway's peripheral HTTP surface: health
// probes and the JSON metrics exposition.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/convo-gateway/internal/metrics"
)

// WebSocketStats is the slice of the hub the health surface reads.
type WebSocketStats interface {
	ActiveConnections() int
	MaxConnections() int
}

// ConversationStats is the slice of the conversation manager the metrics
// surface reads.
type ConversationStats interface {
	Stats() (activeSessions, totalMessages int)
}

// Handler serves /health, /health/detailed, and /metrics.
type Handler struct {
	version     string
	environment string
	started     time.Time

	ws        WebSocketStats
	convos    ConversationStats
	collector *metrics.Collector
}

// NewHandler constructs a Handler. ws, convos, and collector may be nil:
// the detailed health check then reports a nil ws or convos as
// "unavailable", and the metrics response omits the matching section.
func NewHandler(version, environment string, ws WebSocketStats, convos ConversationStats, collector *metrics.Collector) *Handler {
	return &Handler{
		version:     version,
		environment: environment,
		started:     time.Now(),
		ws:          ws,
		convos:      convos,
		collector:   collector,
	}
}

// RegisterRoutes mounts the handler's routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/health/detailed", h.HealthDetailed)
	r.Get("/metrics", h.Metrics)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Health returns the basic liveness response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"version":     h.version,
		"environment": h.environment,
		"timestamp":   time.Now().UnixMilli(),
	})
}

// HealthDetailed returns per-component status, degrading to 503 when the
// WebSocket hub is saturated.
func (h *Handler) HealthDetailed(w http.ResponseWriter, _ *http.Request) {
	components := map[string]string{"server": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if h.ws != nil {
		active, max := h.ws.ActiveConnections(), h.ws.MaxConnections()
		components["websocket"] = "ok"
		if max > 0 && active >= max {
			components["websocket"] = "saturated"
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
	} else {
		components["websocket"] = "unavailable"
	}

	if h.convos != nil {
		components["conversations"] = "ok"
	} else {
		components["conversations"] = "unavailable"
	}

	JSON(w, statusCode, map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UnixMilli(),
	})
}

// Metrics returns the JSON metrics document.
func (h *Handler) Metrics(w http.ResponseWriter, _ *http.Request) {
	uptime := time.Since(h.started)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	data := map[string]any{
		"uptime": map[string]any{
			"seconds":   int64(uptime.Seconds()),
			"formatted": formatUptime(uptime),
		},
		"system": map[string]any{
			"memory": map[string]any{
				"allocMB":      memStats.Alloc / 1024 / 1024,
				"totalAllocMB": memStats.TotalAlloc / 1024 / 1024,
				"sysMB":        memStats.Sys / 1024 / 1024,
				"numGC":        memStats.NumGC,
			},
			"goroutines": runtime.NumGoroutine(),
		},
		"timestamp": time.Now().UnixMilli(),
	}

	if h.collector != nil {
		snap := h.collector.Snapshot()
		data["server"] = map[string]any{
			"requestsTotal":     snap.RequestsTotal,
			"errorsTotal":       snap.ErrorsTotal,
			"rateLimitExceeded": snap.RateLimitExceeded,
			"responseTimes": map[string]any{
				"p50": snap.Percentiles.P50,
				"p95": snap.Percentiles.P95,
				"p99": snap.Percentiles.P99,
			},
			"cacheHits":   snap.CacheHits,
			"cacheMisses": snap.CacheMisses,
		}
	}

	if h.ws != nil {
		active, max := h.ws.ActiveConnections(), h.ws.MaxConnections()
		utilization := 0.0
		if max > 0 {
			utilization = float64(active) / float64(max)
		}
		data["websocket"] = map[string]any{
			"activeConnections":     active,
			"maxConnections":        max,
			"connectionUtilization": utilization,
		}
	}

	if h.convos != nil {
		sessions, messages := h.convos.Stats()
		data["conversations"] = map[string]any{
			"activeSessions": sessions,
			"totalMessages":  messages,
		}
	}

	JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    data,
	})
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	seconds := d - minutes*time.Minute
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds/time.Second)
	}
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds/time.Second)
}
