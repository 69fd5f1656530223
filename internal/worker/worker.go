// Package worker implements the agent that connects to a coordinator,
// registers itself, keeps a heartbeat going and runs the commands it is
// sent.
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/me/wdist/internal/config"
	"github.com/me/wdist/internal/protocol"
)

// ErrConnectionClosed is returned by a session the coordinator ended.
var ErrConnectionClosed = errors.New("connection closed by coordinator")

// Dialer opens a connection to the coordinator.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// Worker is the agent's connection loop.
type Worker struct {
	cfg     config.WorkerConfig
	runtime Runtime
	dial    Dialer
	pid     int
	logger  *slog.Logger

	mu       sync.Mutex
	workerID string
}

// Option configures optional Worker dependencies.
type Option func(*Worker)

// WithRuntime replaces the shell runtime.
func WithRuntime(rt Runtime) Option {
	return func(w *Worker) {
		w.runtime = rt
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(d Dialer) Option {
	return func(w *Worker) {
		w.dial = d
	}
}

// New creates a Worker from configuration. An empty name defaults to the
// host name.
func New(cfg config.WorkerConfig, logger *slog.Logger, opts ...Option) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("worker config: %w", err)
	}
	if cfg.Name == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("default worker name: %w", err)
		}
		cfg.Name = host
	}

	var d net.Dialer
	w := &Worker{
		cfg:     cfg,
		runtime: NewShellRuntime(cfg.Shell, cfg.CommandTimeout),
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		},
		pid:    os.Getpid(),
		logger: logger.With("component", "worker", "name", cfg.Name),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// WorkerID returns the id assigned by the coordinator on the current
// connection, or "" before registration completes.
func (w *Worker) WorkerID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.workerID
}

func (w *Worker) setWorkerID(id string) {
	w.mu.Lock()
	w.workerID = id
	w.mu.Unlock()
}

// Run connects and serves until ctx is cancelled. A lost connection is
// redialed after ReconnectDelay; with a zero delay the error is returned.
// Every new connection registers again and gets a new worker id.
func (w *Worker) Run(ctx context.Context) error {
	for {
		err := w.session(ctx)
		if ctx.Err() != nil {
			w.logger.Info("worker stopped")
			return nil
		}
		if w.cfg.ReconnectDelay <= 0 {
			return err
		}
		w.logger.Warn("connection lost, reconnecting", "error", err, "delay", w.cfg.ReconnectDelay)

		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return nil
		case <-time.After(w.cfg.ReconnectDelay):
		}
	}
}

// session serves one connection until it fails or ctx is cancelled.
func (w *Worker) session(ctx context.Context) error {
	nc, err := w.dial(ctx, w.cfg.Coordinator)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.cfg.Coordinator, err)
	}
	sess := newSession(nc)
	w.setWorkerID("")

	var wg sync.WaitGroup
	defer wg.Wait()
	defer sess.close()
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-sctx.Done()
		sess.close()
	}()

	if err := sess.send(protocol.EncodeRegister(w.cfg.Name, w.pid)); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	w.logger.Info("connected", "coordinator", w.cfg.Coordinator)

	heartbeating := false
	scanner := bufio.NewScanner(nc)
	scanner.Buffer(make([]byte, 0, 4096), protocol.MaxFrameSize+1)
	for scanner.Scan() {
		frame, err := protocol.Parse(scanner.Text())
		if err != nil {
			w.logger.Debug("ignoring frame", "error", err)
			continue
		}

		switch frame.Type {
		case protocol.TypeRegistered:
			id, err := protocol.Registered(frame)
			if err != nil {
				w.logger.Warn("bad registration reply", "error", err)
				continue
			}
			w.setWorkerID(id)
			w.logger.Info("registered", "worker_id", id)
			if !heartbeating {
				heartbeating = true
				wg.Add(1)
				go func() {
					defer wg.Done()
					w.heartbeatLoop(sctx, sess)
				}()
			}

		case protocol.TypeExecute:
			job, err := protocol.Execute(frame)
			if err != nil {
				w.logger.Warn("bad execute frame", "error", err)
				continue
			}
			workerID := w.WorkerID()
			if workerID == "" {
				w.logger.Warn("execute before registration", "task_id", job.TaskID)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.execute(sctx, sess, workerID, job)
			}()

		case protocol.TypeError:
			reason, _ := protocol.Error(frame)
			w.logger.Warn("coordinator error", "reason", reason)

		default:
			w.logger.Debug("ignoring frame", "type", frame.Type)
		}
	}
	if err := scanner.Err(); err != nil && sctx.Err() == nil {
		return fmt.Errorf("read: %w", err)
	}
	return ErrConnectionClosed
}

// heartbeatLoop sends heartbeats at regular intervals until ctx is cancelled.
func (w *Worker) heartbeatLoop(ctx context.Context, sess *session) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			id := w.WorkerID()
			if err := sess.send(protocol.EncodeHeartbeat(id)); err != nil {
				w.logger.Warn("heartbeat failed", "error", err)
				return
			}
			w.logger.Debug("heartbeat sent", "worker_id", id)
		}
	}
}

// execute runs one command and reports its result.
func (w *Worker) execute(ctx context.Context, sess *session, workerID string, task protocol.ExecuteFrame) {
	w.logger.Info("task received", "task_id", task.TaskID, "command", task.Command)

	res, err := w.runtime.Run(ctx, task.Command)
	payload := FormatResult(res, err)
	if err != nil {
		w.logger.Warn("task execution failed", "task_id", task.TaskID, "error", err)
	}

	frame, truncated := protocol.FitResult(task.TaskID, workerID, payload, protocol.MaxFrameSize)
	if truncated {
		w.logger.Warn("output truncated", "task_id", task.TaskID, "bytes", len(payload))
	}
	if err := sess.send(frame); err != nil {
		w.logger.Error("send result", "task_id", task.TaskID, "error", err)
		return
	}
	w.logger.Info("result sent",
		"task_id", task.TaskID,
		"exit_code", res.ExitCode,
		"duration", res.Duration.String(),
	)
}
