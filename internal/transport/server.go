// Package transport accepts TCP connections from workers and admin callers
// and turns each received line into a Message on a single channel.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/me/wdist/internal/metrics"
	"github.com/me/wdist/internal/protocol"
)

// MaxFrameSize bounds a single inbound line. Longer lines are discarded
// without closing the connection.
const MaxFrameSize = protocol.MaxFrameSize

// Kind distinguishes the events published by the Server.
type Kind int

const (
	// FrameReceived carries a parsed frame read from Conn.
	FrameReceived Kind = iota
	// ConnClosed reports that Conn has gone away. WorkerID is the worker
	// the connection was bound to at the time, if any.
	ConnClosed
)

func (k Kind) String() string {
	switch k {
	case FrameReceived:
		return "frame"
	case ConnClosed:
		return "closed"
	}
	return "unknown"
}

// Message is one event from the connection layer.
type Message struct {
	Kind     Kind
	Frame    protocol.Frame
	Conn     *Conn
	WorkerID string
}

// Config holds listener settings.
type Config struct {
	Addr         string
	WriteTimeout time.Duration
	BufferSize   int
}

// DefaultConfig returns the listener defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		WriteTimeout: 10 * time.Second,
		BufferSize:   256,
	}
}

// Server owns the listener, the set of live connections and the binding
// between worker ids and connections.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Exporter

	listener net.Listener
	msgs     chan Message
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu     sync.Mutex
	closed bool
	conns  map[*Conn]struct{}
	bound  map[string]*Conn
}

// NewServer creates a server. m may be nil.
func NewServer(cfg Config, logger *slog.Logger, m *metrics.Exporter) *Server {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &Server{
		cfg:     cfg,
		logger:  logger.With("component", "transport"),
		metrics: m,
		msgs:    make(chan Message, cfg.BufferSize),
		done:    make(chan struct{}),
		conns:   make(map[*Conn]struct{}),
		bound:   make(map[string]*Conn),
	}
}

// Start binds the listener and begins accepting connections in the
// background. A bind failure is returned to the caller. The server stops
// when ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.logger.Info("listening", "addr", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()
	return nil
}

// Stop closes the listener and every open connection, waits for the
// connection goroutines to exit and then closes the Messages channel.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			s.listener.Close()
		}

		s.mu.Lock()
		s.closed = true
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()

		s.wg.Wait()
		close(s.msgs)
		s.logger.Info("transport stopped")
	})
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Messages returns the channel of inbound events. It is closed by Stop.
func (s *Server) Messages() <-chan Message {
	return s.msgs
}

// Bind associates a worker id with a connection, replacing any earlier
// binding for either side.
func (s *Server) Bind(workerID string, c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.workerID != "" && c.workerID != workerID && s.bound[c.workerID] == c {
		delete(s.bound, c.workerID)
	}
	if old, ok := s.bound[workerID]; ok && old != c {
		old.workerID = ""
	}
	c.workerID = workerID
	s.bound[workerID] = c
}

// IsConnected reports whether a worker has a bound connection.
func (s *Server) IsConnected(workerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bound[workerID]
	return ok
}

// ConnectedCount returns the number of bound worker connections.
func (s *Server) ConnectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bound)
}

// Send writes a frame to a worker's bound connection. It returns false if
// the worker has no connection or the write fails.
func (s *Server) Send(workerID, frame string) bool {
	s.mu.Lock()
	c, ok := s.bound[workerID]
	s.mu.Unlock()
	if !ok {
		s.logger.Debug("send to unbound worker", "worker_id", workerID)
		return false
	}

	if err := c.Send(frame); err != nil {
		s.logger.Warn("send failed", "worker_id", workerID, "conn", c.ID(), "error", err)
		return false
	}
	return true
}

// Disconnect closes and unbinds a worker's connection.
func (s *Server) Disconnect(workerID string) {
	s.mu.Lock()
	c, ok := s.bound[workerID]
	if ok {
		delete(s.bound, workerID)
		c.workerID = ""
	}
	s.mu.Unlock()

	if ok {
		c.Close()
		s.logger.Info("worker connection closed", "worker_id", workerID, "conn", c.ID())
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept", "error", err)
			continue
		}

		c := NewConn(nc, s.cfg.WriteTimeout)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			nc.Close()
			return
		}
		s.conns[c] = struct{}{}
		open := len(s.conns)
		s.mu.Unlock()
		s.metrics.RecordConnections(open)

		s.logger.Debug("connection accepted", "conn", c.ID(), "remote", c.RemoteAddr())
		s.wg.Add(1)
		go s.handleConn(c)
	}
}

func (s *Server) handleConn(c *Conn) {
	defer s.wg.Done()
	defer s.release(c)

	r := bufio.NewReaderSize(c.nc, 64*1024)
	for {
		line, err := readFrame(r, MaxFrameSize)
		if errors.Is(err, errFrameTooLong) {
			s.metrics.RecordDropped("oversized")
			s.logger.Warn("oversized frame dropped", "conn", c.ID(), "worker_id", s.workerOf(c), "limit", MaxFrameSize)
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case <-s.done:
				default:
					s.logger.Debug("read ended", "conn", c.ID(), "error", err)
				}
			}
			return
		}
		if line == "" {
			continue
		}
		f, err := protocol.Parse(line)
		if err != nil {
			s.logger.Debug("unparseable line", "conn", c.ID(), "error", err)
			continue
		}
		if !s.publish(Message{Kind: FrameReceived, Frame: f, Conn: c}) {
			return
		}
	}
}

func (s *Server) workerOf(c *Conn) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.workerID
}

// release removes a finished connection and reports it to the dispatcher.
func (s *Server) release(c *Conn) {
	c.Close()

	s.mu.Lock()
	delete(s.conns, c)
	workerID := c.workerID
	if workerID != "" && s.bound[workerID] == c {
		delete(s.bound, workerID)
	}
	c.workerID = ""
	open := len(s.conns)
	s.mu.Unlock()
	s.metrics.RecordConnections(open)

	s.logger.Debug("connection closed", "conn", c.ID(), "worker_id", workerID)
	s.publish(Message{Kind: ConnClosed, Conn: c, WorkerID: workerID})
}

func (s *Server) publish(m Message) bool {
	select {
	case s.msgs <- m:
		return true
	case <-s.done:
		return false
	}
}
