package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// batchRecorder collects flushed batches for inspection.
type batchRecorder struct {
	mu      sync.Mutex
	batches [][]Message
	flushed chan struct{}
}

func newBatchRecorder() *batchRecorder {
	return &batchRecorder{flushed: make(chan struct{}, 16)}
}

func (r *batchRecorder) handle(batch []Message) {
	r.mu.Lock()
	r.batches = append(r.batches, batch)
	r.mu.Unlock()
	r.flushed <- struct{}{}
}

func (r *batchRecorder) get() [][]Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]Message, len(r.batches))
	copy(out, r.batches)
	return out
}

func (r *batchRecorder) waitFlush(t *testing.T) {
	t.Helper()
	select {
	case <-r.flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch flush")
	}
}

func TestCollectorCoalescesWindow(t *testing.T) {
	rec := newBatchRecorder()
	c := NewCollector(30*time.Millisecond, rec.handle)
	defer c.Close()

	c.Offer(Message{Type: TypePINLoginFailure})
	c.Offer(Message{Type: TypeLogout})
	rec.waitFlush(t)

	batches := rec.get()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	// Arrival order within the batch.
	assert.Equal(t, TypePINLoginFailure, batches[0][0].Type)
	assert.Equal(t, TypeLogout, batches[0][1].Type)
}

func TestCollectorSeparateWindows(t *testing.T) {
	rec := newBatchRecorder()
	c := NewCollector(20*time.Millisecond, rec.handle)
	defer c.Close()

	c.Offer(Message{Type: TypeLoginSuccess})
	rec.waitFlush(t)
	c.Offer(Message{Type: TypeLogout})
	rec.waitFlush(t)

	batches := rec.get()
	require.Len(t, batches, 2)
	assert.Equal(t, TypeLoginSuccess, batches[0][0].Type)
	assert.Equal(t, TypeLogout, batches[1][0].Type)
}

func TestCollectorNotReentrant(t *testing.T) {
	var c *Collector
	rec := newBatchRecorder()
	entered := make(chan struct{})

	// The handler injects a new message while its own batch drains; that
	// message must land in the next batch, never the current one.
	handler := func(batch []Message) {
		select {
		case <-entered:
		default:
			close(entered)
			c.Offer(Message{Type: TypeLogout})
		}
		rec.handle(batch)
	}

	c = NewCollector(20*time.Millisecond, handler)
	defer c.Close()

	c.Offer(Message{Type: TypeLoginSuccess})
	rec.waitFlush(t)
	rec.waitFlush(t)

	batches := rec.get()
	require.Len(t, batches, 2)
	require.Len(t, batches[0], 1)
	assert.Equal(t, TypeLoginSuccess, batches[0][0].Type)
	require.Len(t, batches[1], 1)
	assert.Equal(t, TypeLogout, batches[1][0].Type)
}

func TestCollectorClosedDropsMessages(t *testing.T) {
	rec := newBatchRecorder()
	c := NewCollector(10*time.Millisecond, rec.handle)
	c.Close()

	c.Offer(Message{Type: TypeLogout})
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.get())
}
