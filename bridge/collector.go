package bridge

import (
	"sync"
	"time"
)

// Collector coalesces inbound messages into short-lived batches. Messages
// arriving within the window are collected and handed to the handler as one
// batch, so near-simultaneous signals (a login failure followed immediately
// by a logout) can be jointly inspected before deciding on side effects.
//
// Batches are not reentrant: a message arriving while a batch is being
// processed starts the next batch, it is never interleaved into the one
// currently draining. Order within a batch is arrival order.
type Collector struct {
	window  time.Duration
	handler func([]Message)

	mu       sync.Mutex
	pending  []Message
	timer    *time.Timer
	flushing bool
	closed   bool
}

// NewCollector creates a Collector delivering batches to handler after each
// coalescing window elapses.
func NewCollector(window time.Duration, handler func([]Message)) *Collector {
	if window <= 0 {
		window = 50 * time.Millisecond
	}
	return &Collector{window: window, handler: handler}
}

// Offer adds one inbound message to the current batch, opening a new window
// if none is pending.
func (c *Collector) Offer(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.pending = append(c.pending, msg)
	if c.timer == nil && !c.flushing {
		c.timer = time.AfterFunc(c.window, c.flush)
	}
}

func (c *Collector) flush() {
	c.mu.Lock()
	c.timer = nil
	if c.flushing || len(c.pending) == 0 || c.closed {
		c.mu.Unlock()
		return
	}
	batch := c.pending
	c.pending = nil
	c.flushing = true
	c.mu.Unlock()

	c.handler(batch)

	c.mu.Lock()
	c.flushing = false
	// Messages that arrived mid-flush form the next batch.
	if len(c.pending) > 0 && c.timer == nil && !c.closed {
		c.timer = time.AfterFunc(c.window, c.flush)
	}
	c.mu.Unlock()
}

// Close stops the collector. Pending messages are dropped; offers after
// Close are ignored.
func (c *Collector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.pending = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
