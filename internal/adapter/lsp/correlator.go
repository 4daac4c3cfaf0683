package lsp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	lspDomain "github.com/Strob0t/codeintel/internal/domain/lsp"
)

type callResult struct {
	result json.RawMessage
	err    error
}

type pendingRequest struct {
	method string
	timer  *time.Timer
	done   chan callResult // buffered(1), written exactly once
}

// Correlator assigns request ids and matches responses to waiting callers.
// Each request has its own timeout; a late response for an id that already
// timed out is dropped.
type Correlator struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingRequest
	closed  error

	stderrTail func() string
}

// NewCorrelator creates a correlator. stderrTail, if non-nil, supplies the
// recent server output attached to timeout errors.
func NewCorrelator(stderrTail func() string) *Correlator {
	return &Correlator{
		pending:    make(map[int64]*pendingRequest),
		stderrTail: stderrTail,
	}
}

// Call is a registered request awaiting its response.
type Call struct {
	ID     int64
	Method string

	c    *Correlator
	done <-chan callResult
}

// Register allocates the next id and arms its timeout.
func (c *Correlator) Register(method string, timeout time.Duration) (*Call, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed != nil {
		return nil, c.closed
	}

	c.nextID++
	id := c.nextID
	p := &pendingRequest{method: method, done: make(chan callResult, 1)}
	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() { c.expire(id, timeout) })
	}
	c.pending[id] = p

	return &Call{ID: id, Method: method, c: c, done: p.done}, nil
}

// Resolve delivers resp to its waiting caller. It reports false when no
// request with that id is pending.
func (c *Correlator) Resolve(resp *ResponseMessage) bool {
	id, ok := resp.ID.Int64()
	if !ok {
		return false
	}
	p := c.take(id)
	if p == nil {
		return false
	}

	if resp.Error != nil {
		p.done <- callResult{err: &lspDomain.ServerError{
			Method:  p.method,
			Code:    resp.Error.Code,
			Message: resp.Error.Message,
		}}
		return true
	}
	p.done <- callResult{result: resp.Result}
	return true
}

// Cancel abandons a pending request locally. Nothing is sent to the server.
func (c *Correlator) Cancel(id int64, err error) bool {
	p := c.take(id)
	if p == nil {
		return false
	}
	p.done <- callResult{err: err}
	return true
}

// RejectAll fails every pending request with err and refuses new ones.
func (c *Correlator) RejectAll(err error) {
	c.mu.Lock()
	if c.closed == nil {
		c.closed = err
	}
	pending := c.pending
	c.pending = make(map[int64]*pendingRequest)
	c.mu.Unlock()

	for _, p := range pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.done <- callResult{err: err}
	}
}

// Pending returns the number of outstanding requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) take(id int64) *pendingRequest {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok && p.timer != nil {
		p.timer.Stop()
	}
	return p
}

func (c *Correlator) expire(id int64, timeout time.Duration) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	var tail string
	if c.stderrTail != nil {
		tail = c.stderrTail()
	}
	p.done <- callResult{err: &lspDomain.RequestTimeoutError{
		Method:  p.method,
		ID:      id,
		Timeout: timeout,
		Stderr:  tail,
	}}
}

// Wait blocks until the response arrives, the request times out or ctx is
// done. On ctx cancellation the request is abandoned.
func (call *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case r := <-call.done:
		return r.result, r.err
	case <-ctx.Done():
		if call.c.Cancel(call.ID, ctx.Err()) {
			return nil, ctx.Err()
		}
		// Resolved concurrently; the result is already buffered.
		r := <-call.done
		return r.result, r.err
	}
}
