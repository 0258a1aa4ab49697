package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// socket is one connection attempt. A reconnect replaces it wholesale.
type socket struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	// guarded by Client.mu
	closed      bool
	connectSent bool
	nonce       string
	graceTimer  *time.Timer
}

// writeJSON serializes one frame; gorilla allows a single concurrent writer
func (s *socket) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.ws.WriteJSON(v)
}

// writeClose sends a close control frame, best effort
func (s *socket) writeClose(code int, reason string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
}

// Start opens the gateway connection, replacing any existing one and
// cancelling a pending reconnect. The handshake proceeds in the background;
// observe OnConnect or poll Connected. A dial failure is returned and a
// reconnect is scheduled.
func (c *Client) Start() error {
	c.mu.Lock()
	c.stopped = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()
	return c.open()
}

// Stop closes the connection, cancels any pending reconnect, and rejects
// pending requests and runs with ErrClientStopped.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	s := c.sock
	c.sock = nil
	c.state = StateDisconnected
	if s != nil {
		s.closed = true
		stopTimer(s.graceTimer)
	}
	pending, runs := c.detachLocked()
	c.mu.Unlock()

	c.rejectAll(pending, runs, ErrClientStopped)

	if s != nil {
		s.writeClose(websocket.CloseNormalClosure, "client stopped")
		s.ws.Close()
		log.Printf("[Client] Stopped")
		c.observer.OnDisconnect(websocket.CloseNormalClosure, "client stopped")
	}
}

// open dials a fresh socket and starts its read pump
func (c *Client) open() error {
	c.mu.Lock()
	old := c.sock
	c.sock = nil
	c.mu.Unlock()
	if old != nil {
		c.discard(old)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		err = fmt.Errorf("failed to connect to %s: %w", c.url, err)
		log.Printf("[Client] %v", err)
		c.observer.OnError(err)
		c.scheduleReconnect()
		return err
	}

	s := &socket{ws: ws}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		ws.Close()
		return ErrClientStopped
	}
	old = c.sock
	c.sock = s
	c.state = StateSocketOpen
	c.mu.Unlock()
	if old != nil {
		c.discard(old)
	}

	log.Printf("[Client] WebSocket connected to %s", c.url)
	c.queueConnect(s)
	go c.readPump(s)
	return nil
}

// discard closes a socket that has been replaced. Its pending work is
// rejected here and its own close notification is suppressed.
func (c *Client) discard(s *socket) {
	c.mu.Lock()
	if s.closed {
		c.mu.Unlock()
		return
	}
	s.closed = true
	stopTimer(s.graceTimer)
	pending, runs := c.detachLocked()
	c.mu.Unlock()

	c.rejectAll(pending, runs, &CloseError{Code: websocket.CloseNormalClosure, Reason: "replaced by new connection"})
	s.writeClose(websocket.CloseNormalClosure, "reconnecting")
	s.ws.Close()
}

// readPump reads frames until the socket fails
func (c *Client) readPump(s *socket) {
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			c.handleClose(s, err)
			return
		}
		c.handleFrame(s, data)
	}
}

// closeSocket initiates a close with a specific code and runs close handling
// immediately, so the later read error is ignored.
func (c *Client) closeSocket(s *socket, code int, reason string) {
	s.writeClose(code, reason)
	c.handleClose(s, &websocket.CloseError{Code: code, Text: reason})
}

// handleClose runs at most once per socket
func (c *Client) handleClose(s *socket, err error) {
	code := websocket.CloseAbnormalClosure
	reason := ""
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code = ce.Code
		reason = ce.Text
	} else if err != nil {
		reason = err.Error()
	}

	c.mu.Lock()
	if s.closed {
		c.mu.Unlock()
		return
	}
	s.closed = true
	stopTimer(s.graceTimer)
	current := c.sock == s
	if current {
		c.sock = nil
		c.state = StateDisconnected
	}
	pending, runs := c.detachLocked()
	stopped := c.stopped
	c.mu.Unlock()

	s.ws.Close()

	if ce == nil && err != nil {
		c.observer.OnError(err)
	}

	log.Printf("[Client] WebSocket closed: %d %s", code, reason)
	c.rejectAll(pending, runs, &CloseError{Code: code, Reason: reason})
	c.observer.OnDisconnect(code, reason)

	if current && !stopped {
		c.scheduleReconnect()
	}
}

// detachLocked empties the pending and run tables. Caller holds c.mu.
func (c *Client) detachLocked() (map[string]*pendingRequest, map[string]*run) {
	pending := c.pending
	runs := c.runs
	c.pending = make(map[string]*pendingRequest)
	c.runs = make(map[string]*run)
	c.currentRunID = ""
	return pending, runs
}

// rejectAll fails every detached request and run with err
func (c *Client) rejectAll(pending map[string]*pendingRequest, runs map[string]*run, err error) {
	for _, p := range pending {
		p.reject(err)
	}
	for _, r := range runs {
		r.settle("", err)
	}
}

// scheduleReconnect arms a single reconnect timer using the backoff delay
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || c.reconnectTimer != nil {
		return
	}

	delay := c.backoff.Next()
	log.Printf("[Client] Reconnecting in %v...", delay)

	// c.mu is held until the assignment below, so the callback always sees t
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.reconnectTimer != t {
			// cancelled by Start or Stop after it had already fired
			c.mu.Unlock()
			return
		}
		c.reconnectTimer = nil
		stopped := c.stopped
		c.mu.Unlock()

		if stopped {
			return
		}
		c.open()
	})
	c.reconnectTimer = t
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
