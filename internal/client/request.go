package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"clawlink/pkg/protocol"
)

type result struct {
	payload json.RawMessage
	err     error
}

// pendingRequest waits for the response with its correlation id
type pendingRequest struct {
	method   string
	onAccept func(json.RawMessage)
	done     chan result
}

func (p *pendingRequest) resolve(payload json.RawMessage) {
	p.done <- result{payload: payload}
}

func (p *pendingRequest) reject(err error) {
	p.done <- result{err: err}
}

// Request sends method with params and waits for the correlated response.
// There is no built-in timeout; bound the wait with ctx.
func (c *Client) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	s := c.sock
	c.mu.Unlock()
	return c.request(ctx, s, method, params, nil)
}

// request sends on a specific socket so handshake traffic cannot leak onto
// a replacement connection. onAccept, when set, runs on the read goroutine
// with a successful payload before the caller is woken.
func (c *Client) request(ctx context.Context, s *socket, method string, params any, onAccept func(json.RawMessage)) (json.RawMessage, error) {
	c.mu.Lock()
	if s == nil || s.closed || c.sock != s {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := uuid.NewString()
	for c.pending[id] != nil {
		id = uuid.NewString()
	}
	p := &pendingRequest{method: method, onAccept: onAccept, done: make(chan result, 1)}
	c.pending[id] = p
	c.mu.Unlock()

	if err := s.writeJSON(protocol.NewRequest(id, method, params)); err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("failed to send %s request: %w", method, err)
	}

	select {
	case r := <-p.done:
		return r.payload, r.err
	case <-ctx.Done():
		if !c.removePending(id) {
			// Settled concurrently; the buffered result wins.
			r := <-p.done
			return r.payload, r.err
		}
		return nil, ctx.Err()
	}
}

// removePending reports whether id was still pending
func (c *Client) removePending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

// handleResponse settles the matching pending request; unknown ids are ignored
func (c *Client) handleResponse(res *protocol.Response) {
	c.mu.Lock()
	p, ok := c.pending[res.ID]
	if ok {
		delete(c.pending, res.ID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	if res.OK {
		if p.onAccept != nil {
			p.onAccept(res.Payload)
		}
		p.resolve(res.Payload)
		return
	}

	reqErr := &RequestError{Method: p.method, Message: "request failed"}
	if res.Error != nil {
		reqErr.Code = res.Error.Code
		if res.Error.Message != "" {
			reqErr.Message = res.Error.Message
		}
	}
	p.reject(reqErr)
}
