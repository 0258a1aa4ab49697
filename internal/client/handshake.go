package client

import (
	"context"
	"log"
	"time"

	"clawlink/pkg/protocol"
)

// State is the handshake state of the current socket
type State int

const (
	StateDisconnected State = iota
	StateSocketOpen
	StateAwaitingChallenge
	StateConnectSent
	StateReady
)

// closeConnectFailed is the close code used when the gateway rejects connect
const closeConnectFailed = 4008

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateSocketOpen:
		return "socket_open"
	case StateAwaitingChallenge:
		return "awaiting_challenge"
	case StateConnectSent:
		return "connect_sent"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON output
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// queueConnect waits up to the grace period for connect.challenge, then
// sends connect regardless
func (c *Client) queueConnect(s *socket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.closed || c.sock != s {
		return
	}
	s.nonce = ""
	s.connectSent = false
	c.state = StateAwaitingChallenge
	s.graceTimer = time.AfterFunc(c.grace, func() {
		c.sendConnect(s)
	})
}

// handleChallenge records the nonce and sends connect immediately
func (c *Client) handleChallenge(s *socket, nonce string) {
	c.mu.Lock()
	if c.sock == s {
		s.nonce = nonce
	}
	c.mu.Unlock()
	c.sendConnect(s)
}

// sendConnect issues the connect request at most once per socket
func (c *Client) sendConnect(s *socket) {
	c.mu.Lock()
	if s.connectSent || s.closed || c.sock != s {
		c.mu.Unlock()
		return
	}
	s.connectSent = true
	stopTimer(s.graceTimer)
	c.state = StateConnectSent
	nonce := s.nonce
	c.mu.Unlock()

	if nonce != "" {
		log.Printf("[Client] Sending connect (challenge nonce received)")
	} else {
		log.Printf("[Client] Sending connect (no challenge)")
	}

	params := c.connectParams()

	// The response arrives on the read pump, so the wait must not block it.
	go func() {
		hello, err := c.request(context.Background(), s, protocol.MethodConnect, params, nil)
		if err != nil {
			log.Printf("[Client] Connect failed: %v", err)
			c.closeSocket(s, closeConnectFailed, "connect failed")
			return
		}

		c.mu.Lock()
		if c.sock != s || s.closed {
			c.mu.Unlock()
			return
		}
		c.state = StateReady
		c.backoff.Reset()
		c.mu.Unlock()

		log.Printf("[Client] Connected successfully")
		c.observer.OnConnect(hello)
	}()
}

func (c *Client) connectParams() protocol.ConnectParams {
	return protocol.ConnectParams{
		MinProtocol: protocol.MinProtocol,
		MaxProtocol: protocol.MaxProtocol,
		Client: protocol.ClientInfo{
			ID:         c.identity.clientID,
			Version:    c.identity.version,
			Platform:   c.identity.platform,
			Mode:       c.identity.mode,
			InstanceID: c.instanceID,
		},
		Caps:      []string{},
		Auth:      protocol.Auth{Token: c.token},
		UserAgent: c.identity.userAgent,
	}
}

