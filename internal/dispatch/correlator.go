package dispatch

import "sync"

// Replier is a caller connection that can receive a frame. Post must not
// block.
type Replier interface {
	Post(frame string) bool
}

// Correlator remembers which caller connection is waiting for which task.
// Entries are removed when the result is delivered or the caller's
// connection closes; there is no expiry.
type Correlator struct {
	mu      sync.Mutex
	entries map[string]Replier
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{entries: make(map[string]Replier)}
}

// Record associates a task with the connection waiting for its result.
func (c *Correlator) Record(taskID string, r Replier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[taskID] = r
}

// Take removes and returns the connection waiting for a task.
func (c *Correlator) Take(taskID string) (Replier, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[taskID]
	if ok {
		delete(c.entries, taskID)
	}
	return r, ok
}

// ForgetConn drops every entry held by r and returns how many were dropped.
func (c *Correlator) ForgetConn(r Replier) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, held := range c.entries {
		if held == r {
			delete(c.entries, id)
			n++
		}
	}
	return n
}

// Len returns the number of open entries.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Reset abandons all entries.
func (c *Correlator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}
