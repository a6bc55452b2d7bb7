package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/convo-gateway/internal/metrics"
)

type fakeWSStats struct {
	active, max int
}

func (f fakeWSStats) ActiveConnections() int { return f.active }
func (f fakeWSStats) MaxConnections() int    { return f.max }

type fakeConvoStats struct {
	sessions, messages int
}

func (f fakeConvoStats) Stats() (int, int) { return f.sessions, f.messages }

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return body
}

func TestHealthReturnsHealthy(t *testing.T) {
	h := NewHandler("1.0.0", "test", nil, nil, nil)
	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "healthy" || body["version"] != "1.0.0" || body["environment"] != "test" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestHealthDetailedDegradesOnSaturatedHub(t *testing.T) {
	h := NewHandler("1.0.0", "test", fakeWSStats{active: 10, max: 10}, fakeConvoStats{}, nil)
	w := httptest.NewRecorder()
	h.HealthDetailed(w, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
	components, _ := body["components"].(map[string]any)
	if components["websocket"] != "saturated" {
		t.Errorf("websocket component = %v, want saturated", components["websocket"])
	}
}

func TestHealthDetailedHealthyUnderCapacity(t *testing.T) {
	h := NewHandler("1.0.0", "test", fakeWSStats{active: 3, max: 10}, fakeConvoStats{}, nil)
	w := httptest.NewRecorder()
	h.HealthDetailed(w, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestMetricsDocumentShape(t *testing.T) {
	collector := metrics.NewCollector()
	collector.RecordRequest("GET", "/health", 200, 5*time.Millisecond)

	h := NewHandler("1.0.0", "test", fakeWSStats{active: 2, max: 8}, fakeConvoStats{sessions: 3, messages: 12}, collector)
	w := httptest.NewRecorder()
	h.Metrics(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeBody(t, w)
	if body["success"] != true {
		t.Error("success should be true")
	}
	data, _ := body["data"].(map[string]any)
	if data == nil {
		t.Fatal("missing data section")
	}

	ws, _ := data["websocket"].(map[string]any)
	if ws["activeConnections"] != float64(2) || ws["maxConnections"] != float64(8) {
		t.Errorf("websocket section = %v", ws)
	}
	if ws["connectionUtilization"] != 0.25 {
		t.Errorf("connectionUtilization = %v, want 0.25", ws["connectionUtilization"])
	}

	convos, _ := data["conversations"].(map[string]any)
	if convos["activeSessions"] != float64(3) || convos["totalMessages"] != float64(12) {
		t.Errorf("conversations section = %v", convos)
	}

	if _, ok := data["uptime"].(map[string]any); !ok {
		t.Error("missing uptime section")
	}
}

func TestErrorHelper(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusBadRequest, "bad input")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	body := decodeBody(t, w)
	if body["error"] != "bad input" {
		t.Errorf("error = %v, want bad input", body["error"])
	}
}

func TestFormatUptime(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{90 * time.Second, "0h 1m 30s"},
		{25*time.Hour + 5*time.Minute, "1d 1h 5m 0s"},
	}
	for _, tc := range cases {
		if got := formatUptime(tc.d); got != tc.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}
