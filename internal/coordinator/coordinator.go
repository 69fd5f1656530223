// Package coordinator assembles the worker registry, task queue, connection
// layer, dispatcher, scheduling loop, liveness monitor and HTTP API into one
// running process.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/me/wdist/internal/config"
	"github.com/me/wdist/internal/dispatch"
	"github.com/me/wdist/internal/metrics"
	"github.com/me/wdist/internal/queue"
	"github.com/me/wdist/internal/registry"
	"github.com/me/wdist/internal/scheduler"
	"github.com/me/wdist/internal/server"
	"github.com/me/wdist/internal/service"
	"github.com/me/wdist/internal/store"
	"github.com/me/wdist/internal/transport"
)

// shutdownTimeout bounds the HTTP server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// Coordinator owns every long-running component of the coordinator process.
type Coordinator struct {
	cfg    config.CoordinatorConfig
	logger *slog.Logger

	promReg *prometheus.Registry
	metrics *metrics.Exporter
	history store.Store

	registry   *registry.Registry
	queue      *queue.Queue
	transport  *transport.Server
	replies    *dispatch.Correlator
	status     *service.Status
	tasks      *service.Tasks
	workers    *service.Workers
	dispatcher *dispatch.Dispatcher
	loop       *scheduler.Loop
	monitor    *scheduler.Monitor
	api        *server.Server

	httpSrv *http.Server
	httpLn  net.Listener

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New wires the components together. Nothing is started and no port is
// bound until Start.
func New(cfg config.CoordinatorConfig, logger *slog.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("coordinator config: %w", err)
	}

	c := &Coordinator{
		cfg:      cfg,
		logger:   logger.With("component", "coordinator"),
		promReg:  prometheus.NewRegistry(),
		registry: registry.New(),
		queue:    queue.New(),
		replies:  dispatch.NewCorrelator(),
	}

	c.promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(c.promReg, metrics.Options{})
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	c.metrics = m

	if cfg.DBPath != "" {
		st, err := store.NewSQLiteStore(cfg.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		if err := st.Migrate(context.Background()); err != nil {
			st.Close()
			return nil, fmt.Errorf("migrate history: %w", err)
		}
		c.history = st
		c.logger.Info("task history ready", "path", cfg.DBPath)
	}

	c.transport = transport.NewServer(transport.Config{
		Addr:         cfg.Listen,
		WriteTimeout: cfg.WriteTimeout,
		BufferSize:   transport.DefaultConfig().BufferSize,
	}, logger, m)

	c.status = service.NewStatus(c.registry, c.queue,
		service.WithConnections(c.transport),
		service.WithReplies(c.replies),
	)
	taskOpts := []service.TasksOption{service.WithMetrics(m)}
	if c.history != nil {
		taskOpts = append(taskOpts, service.WithJournal(c.history))
	}
	c.tasks = service.NewTasks(c.registry, c.queue, c.status, logger, taskOpts...)
	c.workers = service.NewWorkers(c.registry, c.transport, logger)

	c.loop = scheduler.NewLoop(c.registry, c.queue, c.transport,
		scheduler.Config{Interval: cfg.Scheduler.Interval}, logger, m)
	c.monitor = scheduler.NewMonitor(c.registry, scheduler.MonitorConfig{
		Interval: cfg.Liveness.Interval,
		Timeout:  cfg.Liveness.Timeout,
	}, logger, m)
	c.dispatcher = dispatch.New(c.registry, c.tasks, c.transport, c.replies, logger,
		dispatch.WithKick(c.loop.Trigger),
		dispatch.WithMetrics(m),
	)

	apiOpts := []server.Option{
		server.WithKick(c.loop.Trigger),
		server.WithMetricsHandler(promhttp.HandlerFor(c.promReg, promhttp.HandlerOpts{})),
	}
	if c.history != nil {
		apiOpts = append(apiOpts, server.WithHistory(c.history))
	}
	c.api = server.New(c.workers, c.tasks, c.status, logger, apiOpts...)

	return c, nil
}

// Start binds the TCP and HTTP listeners and launches the background
// components. A bind failure is returned and nothing keeps running.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.transport.Start(ctx); err != nil {
		return err
	}

	if c.cfg.HTTPAddr != "" {
		ln, err := net.Listen("tcp", c.cfg.HTTPAddr)
		if err != nil {
			c.transport.Stop()
			return fmt.Errorf("listen http on %s: %w", c.cfg.HTTPAddr, err)
		}
		c.httpLn = ln
		c.httpSrv = &http.Server{
			Handler:           c.api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.logger.Info("http api listening", "addr", ln.Addr().String())
			if err := c.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.logger.Error("http api failed", "error", err)
			}
		}()
	}

	c.goRun("dispatcher", func() error { return c.dispatcher.Run(ctx, c.transport.Messages()) })
	c.goRun("scheduler", func() error { return c.loop.Start(ctx) })
	c.goRun("liveness monitor", func() error { return c.monitor.Start(ctx) })

	if c.cfg.AutoStart {
		c.status.Start()
	}
	c.logger.Info("coordinator started",
		"tcp", c.transport.Addr().String(),
		"running", c.status.IsRunning(),
	)
	return nil
}

func (c *Coordinator) goRun(name string, fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error(name+" stopped", "error", err)
		}
	}()
}

// Run starts the coordinator and blocks until ctx is cancelled, then shuts
// everything down.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	c.logger.Info("shutting down")
	return c.Shutdown()
}

// Shutdown stops the background components, closes every connection and
// the history database. It is safe to call more than once.
func (c *Coordinator) Shutdown() error {
	var errs []error
	c.stopOnce.Do(func() {
		c.status.Stop()
		c.loop.Stop()
		c.monitor.Stop()

		if c.httpSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := c.httpSrv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("http shutdown: %w", err))
			}
			cancel()
		}

		// Closing the transport closes its message channel, which ends the
		// dispatcher.
		c.transport.Stop()
		c.wg.Wait()
		c.replies.Reset()

		if c.history != nil {
			if err := c.history.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close history: %w", err))
			}
		}
		c.logger.Info("coordinator stopped")
	})
	return errors.Join(errs...)
}

// TCPAddr returns the bound worker/admin listener address.
func (c *Coordinator) TCPAddr() net.Addr { return c.transport.Addr() }

// HTTPAddr returns the bound HTTP API address, or nil when disabled.
func (c *Coordinator) HTTPAddr() net.Addr {
	if c.httpLn == nil {
		return nil
	}
	return c.httpLn.Addr()
}

// Status returns the service-status facade.
func (c *Coordinator) Status() *service.Status { return c.status }

// Tasks returns the task facade.
func (c *Coordinator) Tasks() *service.Tasks { return c.tasks }

// Workers returns the worker facade.
func (c *Coordinator) Workers() *service.Workers { return c.workers }

// Handler returns the HTTP API handler.
func (c *Coordinator) Handler() http.Handler { return c.api.Handler() }
