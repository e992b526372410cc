// Package health tracks ledger store availability with periodic pings.
package health

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Pinger is the part of a ledger store the monitor needs
type Pinger interface {
	Ping(ctx context.Context) error
}

// MonitorConfig contains configuration for the store health monitor.
type MonitorConfig struct {
	// Interval between health checks
	CheckInterval time.Duration
	// Timeout for a single ping
	PingTimeout time.Duration
	// Number of consecutive failures before marking unhealthy
	FailureThreshold int32
	Logger           *slog.Logger
}

// MonitorStats contains statistics about the health monitor.
type MonitorStats struct {
	LastCheckTime       time.Time `json:"last_check_time"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int32     `json:"consecutive_failures"`
	IsHealthy           bool      `json:"is_healthy"`
}

// Monitor pings the store periodically and updates a Checker.
// The checker flips to unhealthy only after FailureThreshold consecutive failures.
type Monitor struct {
	config              *MonitorConfig
	checker             *Checker
	store               Pinger
	consecutiveFailures int32
	lastCheckTime       time.Time
	lastError           string
	mu                  sync.RWMutex
}

func NewMonitor(cfg *MonitorConfig, checker *Checker, store Pinger) *Monitor {
	if cfg == nil {
		cfg = &MonitorConfig{}
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = 5 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Monitor{
		config:        cfg,
		checker:       checker,
		store:         store,
		lastCheckTime: time.Now().UTC(),
	}
}

// Start runs the monitoring loop until ctx is cancelled
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	m.config.Logger.Info("Ledger health monitor started",
		"check_interval", m.config.CheckInterval,
		"failure_threshold", m.config.FailureThreshold,
	)

	for {
		select {
		case <-ctx.Done():
			m.config.Logger.Info("Ledger health monitor stopped")
			return
		case <-ticker.C:
			m.checkHealth(ctx)
		}
	}
}

// checkHealth performs a single ping and updates the checker.
func (m *Monitor) checkHealth(ctx context.Context) {
	now := time.Now().UTC()

	pingCtx, cancel := context.WithTimeout(ctx, m.config.PingTimeout)
	err := m.store.Ping(pingCtx)
	cancel()

	wasHealthy := m.checker.IsHealthy()

	m.mu.Lock()
	m.lastCheckTime = now
	if err != nil {
		m.lastError = err.Error()
	} else {
		m.lastError = ""
	}
	m.mu.Unlock()

	if err == nil {
		atomic.StoreInt32(&m.consecutiveFailures, 0)
		if !wasHealthy {
			m.config.Logger.Warn("Ledger store recovered (state: unhealthy -> healthy)")
		}
		m.checker.SetHealthy(true)
		return
	}

	failures := atomic.AddInt32(&m.consecutiveFailures, 1)
	if failures == 1 {
		m.config.Logger.Warn("Ledger health check failed",
			"error", err,
			"failure_count", failures,
			"threshold", m.config.FailureThreshold,
		)
	} else if failures%3 == 0 {
		// every 3rd to avoid spam
		m.config.Logger.Debug("Ledger health check still failing",
			"error", err,
			"failure_count", failures,
		)
	}

	if failures >= m.config.FailureThreshold && wasHealthy {
		m.config.Logger.Error("Ledger marked unhealthy (state: healthy -> unhealthy)",
			"consecutive_failures", failures,
			"recovery", "retrying every "+m.config.CheckInterval.String(),
		)
		m.checker.SetHealthy(false)
	}
}

// Stats returns current health monitor statistics.
func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MonitorStats{
		LastCheckTime:       m.lastCheckTime,
		LastError:           m.lastError,
		ConsecutiveFailures: atomic.LoadInt32(&m.consecutiveFailures),
		IsHealthy:           m.checker.IsHealthy(),
	}
}
