package worker

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// writeTimeout is the deadline for writing one frame to the coordinator.
const writeTimeout = 10 * time.Second

// session is one connection to the coordinator. Writes from the reader,
// the heartbeat goroutine and running tasks are serialized.
type session struct {
	nc net.Conn
	mu sync.Mutex
}

func newSession(nc net.Conn) *session {
	return &session{nc: nc}
}

func (s *session) send(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.nc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := s.nc.Write([]byte(frame + "\n")); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (s *session) close() error {
	return s.nc.Close()
}
