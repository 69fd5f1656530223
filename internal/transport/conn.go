package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// outboxSize bounds the frames queued on one connection by Post.
const outboxSize = 64

// Conn is one live TCP connection. Writes are serialized so frames from the
// scheduler and the dispatcher never interleave.
type Conn struct {
	id           string
	nc           net.Conn
	writeTimeout time.Duration

	wmu       sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}

	writerOnce sync.Once
	outbox     chan string

	// workerID is owned by the Server and guarded by its mutex.
	workerID string
}

// NewConn wraps a network connection. A zero writeTimeout disables write
// deadlines.
func NewConn(nc net.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{
		id:           "conn_" + uuid.New().String()[:8],
		nc:           nc,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

// ID returns a short identifier used in logs.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	if c.nc == nil || c.nc.RemoteAddr() == nil {
		return ""
	}
	return c.nc.RemoteAddr().String()
}

// Send writes one newline-terminated frame.
func (c *Conn) Send(frame string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("set write deadline on %s: %w", c.id, err)
		}
	}
	if _, err := c.nc.Write([]byte(frame + "\n")); err != nil {
		return fmt.Errorf("write to %s: %w", c.id, err)
	}
	return nil
}

// Post queues a frame for a background writer and returns at once, so a
// peer that stops reading never blocks the poster. Frames posted to one
// connection are written in order. When the queue is full the connection
// is closed and Post returns false.
func (c *Conn) Post(frame string) bool {
	c.writerOnce.Do(func() {
		c.outbox = make(chan string, outboxSize)
		go c.writeLoop(c.outbox)
	})

	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.outbox <- frame:
		return true
	default:
		c.Close()
		return false
	}
}

func (c *Conn) writeLoop(outbox <-chan string) {
	for {
		select {
		case <-c.closed:
			return
		case frame := <-outbox:
			if err := c.Send(frame); err != nil {
				c.Close()
				return
			}
		}
	}
}

// Close closes the underlying connection. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.nc.Close()
	})
	return err
}
