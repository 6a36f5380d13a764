// Package shutdown provides idle monitoring for scale-to-zero deployments.
package shutdown

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// BusyFunc reports whether background work is in progress. A running audit
// or an open status stream must hold the server up even with no HTTP traffic.
type BusyFunc func() bool

// IdleMonitor tracks request activity and signals when the server has been
// idle long enough to shut down. Platforms like Fly.io restart the machine
// on the next request.
type IdleMonitor struct {
	timeout        time.Duration
	logger         *slog.Logger
	activeRequests int64
	lastActivity   time.Time
	mu             sync.RWMutex
	shutdownChan   chan struct{}
	stopChan       chan struct{}
	excludePaths   []string
	busy           BusyFunc
}

// IdleMonitorConfig holds configuration for the idle monitor.
type IdleMonitorConfig struct {
	// Timeout is how long to wait before signaling idle. Zero disables the monitor.
	Timeout time.Duration
	Logger  *slog.Logger
	// ExcludePaths don't count as activity. Probes and scrapes hit these
	// constantly and would otherwise keep the server alive forever.
	ExcludePaths []string
	Busy         BusyFunc
}

// NewIdleMonitor creates a new idle monitor.
func NewIdleMonitor(cfg IdleMonitorConfig) *IdleMonitor {
	return &IdleMonitor{
		timeout:      cfg.Timeout,
		logger:       cfg.Logger,
		lastActivity: time.Now(),
		shutdownChan: make(chan struct{}),
		stopChan:     make(chan struct{}),
		excludePaths: cfg.ExcludePaths,
		busy:         cfg.Busy,
	}
}

// Start begins monitoring for idle periods.
func (m *IdleMonitor) Start() {
	if m.timeout <= 0 {
		m.logger.Debug("idle monitoring disabled (timeout=0)")
		return
	}

	m.logger.Info("idle monitoring started", "timeout", m.timeout, "exclude_paths", m.excludePaths)

	go m.run()
}

// Stop stops the idle monitor.
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

// Middleware tracks request activity, skipping excluded paths.
func (m *IdleMonitor) Middleware(next http.Handler) http.Handler {
	if m.timeout <= 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		excluded := false
		for _, prefix := range m.excludePaths {
			if strings.HasPrefix(r.URL.Path, prefix) {
				excluded = true
				break
			}
		}

		if !excluded {
			m.requestStart()
			defer m.requestEnd()
		}

		next.ServeHTTP(w, r)
	})
}

func (m *IdleMonitor) requestStart() {
	atomic.AddInt64(&m.activeRequests, 1)
	m.touch()
}

func (m *IdleMonitor) requestEnd() {
	atomic.AddInt64(&m.activeRequests, -1)
	m.touch()
}

func (m *IdleMonitor) touch() {
	m.mu.Lock()
	m.lastActivity = time.Now()
	m.mu.Unlock()
}

func (m *IdleMonitor) run() {
	// Check well inside the timeout window so the signal is not late.
	checkInterval := m.timeout / 6
	if checkInterval < 5*time.Second {
		checkInterval = 5 * time.Second
	}
	if checkInterval > 30*time.Second {
		checkInterval = 30 * time.Second
	}

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			active := atomic.LoadInt64(&m.activeRequests)
			m.mu.RLock()
			idleTime := time.Since(m.lastActivity)
			m.mu.RUnlock()

			busy := false
			if m.busy != nil {
				busy = m.busy()
			}

			// Busy periods reset the timer so a just-finished audit gets
			// a full grace window before the machine goes away.
			if active > 0 || busy {
				m.touch()
				idleTime = 0
			}

			if active == 0 && !busy && idleTime >= m.timeout {
				m.logger.Info("idle timeout reached, signaling graceful shutdown",
					"idle_time", idleTime,
					"timeout", m.timeout,
				)
				close(m.shutdownChan)
				return
			}
		}
	}
}
