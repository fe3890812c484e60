package transport

import (
	"errors"
	"math"
	"sync"
)

// ErrTooManyPending is returned when every request id is in use.
var ErrTooManyPending = errors.New("transport: no free request id")

// pending is the table of outbound calls waiting for their Response, keyed by
// request id. It also owns the id generator so that allocating an id and
// inserting the entry happen under one lock.
//
// Every entry leaves the table exactly once: through take when its Response
// arrives, through remove when the Request could not be sent, or through drain
// when the connection goes away.
type pending struct {
	mu     sync.Mutex
	calls  map[uint32]*Call
	lastID uint32
	closed error
}

func newPending() *pending {
	return &pending{calls: make(map[uint32]*Call)}
}

// register assigns the next free id to call and stores it.
// The counter wraps around; ids still waiting for a response are skipped.
func (p *pending) register(call *Call) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed != nil {
		return 0, p.closed
	}
	if uint64(len(p.calls)) > math.MaxUint32 {
		return 0, ErrTooManyPending
	}

	id := p.lastID + 1
	for {
		if _, busy := p.calls[id]; !busy {
			break
		}
		id++
	}
	p.lastID = id

	call.ID = id
	p.calls[id] = call
	return id, nil
}

// take removes and returns the call waiting for id, or nil.
func (p *pending) take(id uint32) *Call {
	p.mu.Lock()
	defer p.mu.Unlock()

	call, ok := p.calls[id]
	if !ok {
		return nil
	}
	delete(p.calls, id)
	return call
}

// remove drops id only if it still belongs to call.
func (p *pending) remove(id uint32, call *Call) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.calls[id] == call {
		delete(p.calls, id)
	}
}

// drain closes the table and returns every call still waiting.
// Later registrations fail with err.
func (p *pending) drain(err error) []*Call {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = err
	calls := make([]*Call, 0, len(p.calls))
	for id, call := range p.calls {
		calls = append(calls, call)
		delete(p.calls, id)
	}
	return calls
}

func (p *pending) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
