package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/me/wdist/internal/metrics"
	"github.com/me/wdist/internal/registry"
	"github.com/me/wdist/pkg/model"
)

// MonitorConfig holds liveness monitor configuration. Timeout should be a
// few multiples of the worker heartbeat interval.
type MonitorConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultMonitorConfig returns sensible defaults for a 10s heartbeat.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval: 20 * time.Second,
		Timeout:  30 * time.Second,
	}
}

// Monitor marks workers disconnected when their heartbeats stop. It only
// changes registry status; connections are left to the transport.
type Monitor struct {
	*periodic
	workers *registry.Registry
	timeout time.Duration
	metrics *metrics.Exporter
	now     func() time.Time
}

var _ Scheduler = (*Monitor)(nil)

// NewMonitor creates a liveness monitor. m may be nil.
func NewMonitor(workers *registry.Registry, cfg MonitorConfig, logger *slog.Logger, m *metrics.Exporter) *Monitor {
	def := DefaultMonitorConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Monitor{
		periodic: newPeriodic(logger.With("component", "liveness"), cfg.Interval, nil),
		workers:  workers,
		timeout:  cfg.Timeout,
		metrics:  m,
		now:      time.Now,
	}
}

// Start begins monitoring. Blocks until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	return m.run(ctx, m.Tick)
}

// Stop shuts the monitor down.
func (m *Monitor) Stop() error {
	return m.stop()
}

// Tick demotes every worker not heard from within the timeout.
func (m *Monitor) Tick(_ context.Context) error {
	now := m.now()
	for _, w := range m.workers.List() {
		if w.Status == model.WorkerStatusDisconnected {
			continue
		}
		silent := now.Sub(w.LastSeen)
		if silent <= m.timeout {
			continue
		}
		if !m.workers.CompareAndSetStatus(w.ID, w.Status, model.WorkerStatusDisconnected) {
			continue
		}
		m.metrics.RecordDemotion()
		m.logger.Warn("worker missed heartbeats",
			"worker_id", w.ID, "name", w.Name, "was", w.Status, "silent", silent.Round(time.Second))
	}
	return nil
}
