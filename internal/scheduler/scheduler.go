package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler is a periodic background component of the coordinator.
type Scheduler interface {
	// Start runs the loop. Blocks until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop shuts the loop down and waits for the current tick to finish.
	Stop() error

	// Tick runs a single iteration. Used for testing.
	Tick(ctx context.Context) error
}

// periodic holds the start/stop plumbing shared by Loop and Monitor.
type periodic struct {
	logger   *slog.Logger
	interval time.Duration
	kick     <-chan struct{} // nil disables out-of-band ticks

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	started  bool
}

func newPeriodic(logger *slog.Logger, interval time.Duration, kick <-chan struct{}) *periodic {
	return &periodic{
		logger:   logger,
		interval: interval,
		kick:     kick,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (p *periodic) run(ctx context.Context, tick func(context.Context) error) error {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	defer close(p.doneCh)

	p.logger.Info("started", "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("stopping (context cancelled)")
			return ctx.Err()
		case <-p.stopCh:
			p.logger.Info("stopping (stop called)")
			return nil
		case <-ticker.C:
		case <-p.kick:
		}
		if err := tick(ctx); err != nil {
			p.logger.Error("tick error", "error", err)
		}
	}
}

func (p *periodic) stop() error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if started {
		<-p.doneCh
	}
	return nil
}
