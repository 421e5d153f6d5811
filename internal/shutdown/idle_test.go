package shutdown

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIdleMonitor_DisabledWithZeroTimeout(t *testing.T) {
	m := NewIdleMonitor(Config{Timeout: 0})
	m.Start()
	m.Stop()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := m.Middleware(handler)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if m.active.Load() != 0 {
		t.Error("disabled monitor should not track activity")
	}
}

func TestIdleMonitor_MiddlewareTracksActivity(t *testing.T) {
	m := NewIdleMonitor(Config{Timeout: time.Hour, ExcludePaths: []string{"/health"}})

	var during int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = m.active.Load()
	})
	wrapped := m.Middleware(handler)

	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	if during != 1 {
		t.Errorf("active during request = %d, want 1", during)
	}
	if m.active.Load() != 0 {
		t.Errorf("active after request = %d, want 0", m.active.Load())
	}

	during = -1
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if during != 0 {
		t.Errorf("health probe counted as activity: active = %d", during)
	}
}
