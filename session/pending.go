package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/appfold/sessionbridge/domain"
)

// PendingOps is a correlation-id-keyed pending-operation table. It replaces
// ambient global result slots: a screen that needs a result from another
// context begins an operation, hands the id across, and awaits the channel.
type PendingOps struct {
	mu  sync.Mutex
	ops map[string]chan domain.LoginResult
}

// NewPendingOps creates an empty table.
func NewPendingOps() *PendingOps {
	return &PendingOps{ops: make(map[string]chan domain.LoginResult)}
}

// Begin registers a new pending operation and returns its correlation id
// and result channel. The channel receives exactly one result.
func (p *PendingOps) Begin() (string, <-chan domain.LoginResult) {
	id := uuid.NewString()
	ch := make(chan domain.LoginResult, 1)
	p.mu.Lock()
	p.ops[id] = ch
	p.mu.Unlock()
	return id, ch
}

// Complete resolves a pending operation. It reports false when the id is
// unknown or already resolved.
func (p *PendingOps) Complete(id string, result domain.LoginResult) bool {
	p.mu.Lock()
	ch, ok := p.ops[id]
	if ok {
		delete(p.ops, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- result
	close(ch)
	return true
}

// Cancel abandons a pending operation without delivering a result.
func (p *PendingOps) Cancel(id string) {
	p.mu.Lock()
	ch, ok := p.ops[id]
	if ok {
		delete(p.ops, id)
	}
	p.mu.Unlock()
	if ok {
		close(ch)
	}
}

// CancelAll abandons every pending operation.
func (p *PendingOps) CancelAll() {
	p.mu.Lock()
	ops := p.ops
	p.ops = make(map[string]chan domain.LoginResult)
	p.mu.Unlock()
	for _, ch := range ops {
		close(ch)
	}
}
