// Package shutdown provides idle monitoring for scale-to-zero hosting.
package shutdown

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// WorkChecker reports whether background work is in progress. The job
// dispatcher provides this so an idle server never stops mid-generation.
type WorkChecker func() bool

// IdleMonitor tracks request activity and signals when the server has been
// idle long enough to stop. Hosting platforms restart the machine on the
// next request; pending jobs survive in the database and are rescanned on
// boot.
type IdleMonitor struct {
	timeout      time.Duration
	excludePaths []string
	workCheck    WorkChecker
	logger       *slog.Logger

	active       atomic.Int64
	mu           sync.RWMutex
	lastActivity time.Time

	shutdownChan chan struct{}
	stopChan     chan struct{}
}

// Config holds idle monitor configuration. A zero Timeout disables the
// monitor entirely.
type Config struct {
	Timeout      time.Duration
	ExcludePaths []string // paths that do not count as activity, e.g. /health
	WorkCheck    WorkChecker
	Logger       *slog.Logger
}

// NewIdleMonitor creates an idle monitor.
func NewIdleMonitor(cfg Config) *IdleMonitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &IdleMonitor{
		timeout:      cfg.Timeout,
		excludePaths: cfg.ExcludePaths,
		workCheck:    cfg.WorkCheck,
		logger:       logger,
		lastActivity: time.Now(),
		shutdownChan: make(chan struct{}),
		stopChan:     make(chan struct{}),
	}
}

// Start begins watching for idle periods.
func (m *IdleMonitor) Start() {
	if m.timeout <= 0 {
		return
	}
	m.logger.Info("idle monitoring started", "timeout", m.timeout)
	go m.run()
}

// Stop stops the monitor without signaling shutdown.
func (m *IdleMonitor) Stop() {
	if m.timeout <= 0 {
		return
	}
	close(m.stopChan)
}

// ShutdownChan is closed when the idle timeout is reached.
func (m *IdleMonitor) ShutdownChan() <-chan struct{} {
	return m.shutdownChan
}

// Middleware tracks request activity. Excluded paths (health probes) do not
// reset the idle clock.
func (m *IdleMonitor) Middleware(next http.Handler) http.Handler {
	if m.timeout <= 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		excluded := false
		for _, p := range m.excludePaths {
			if strings.HasPrefix(r.URL.Path, p) {
				excluded = true
				break
			}
		}

		if !excluded {
			m.touch(1)
			defer m.touch(-1)
		}

		next.ServeHTTP(w, r)
	})
}

func (m *IdleMonitor) touch(delta int64) {
	m.active.Add(delta)
	m.mu.Lock()
	m.lastActivity = time.Now()
	m.mu.Unlock()
}

func (m *IdleMonitor) run() {
	interval := m.timeout / 6
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			busy := m.active.Load() > 0
			if m.workCheck != nil && m.workCheck() {
				busy = true
			}
			if busy {
				// Reset the clock so work completion earns a full grace
				// period before shutdown.
				m.mu.Lock()
				m.lastActivity = time.Now()
				m.mu.Unlock()
				continue
			}

			m.mu.RLock()
			idle := time.Since(m.lastActivity)
			m.mu.RUnlock()

			if idle >= m.timeout {
				m.logger.Info("idle timeout reached, signaling shutdown", "idle", idle)
				close(m.shutdownChan)
				return
			}
		}
	}
}
