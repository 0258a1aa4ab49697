package client

import (
	"encoding/json"

	"clawlink/pkg/protocol"
)

// Observer receives connection-level notifications. Callbacks run on the
// client's read goroutine or timer goroutines and must not block for long.
type Observer interface {
	// OnConnect fires after a successful handshake with the gateway's hello payload
	OnConnect(hello json.RawMessage)

	// OnDisconnect fires once per closed socket
	OnDisconnect(code int, reason string)

	// OnMessage receives every well-formed inbound frame before routing
	OnMessage(raw json.RawMessage)

	// OnEvent receives event frames other than connect.challenge and agent
	OnEvent(ev *protocol.Event)

	// OnError receives transport errors; they are never fatal to the client
	OnError(err error)

	// OnAgentStream receives the raw payload of every agent event
	OnAgentStream(payload json.RawMessage)
}

// BaseObserver implements Observer with no-ops. Embed it to override a subset.
type BaseObserver struct{}

func (BaseObserver) OnConnect(json.RawMessage)     {}
func (BaseObserver) OnDisconnect(int, string)      {}
func (BaseObserver) OnMessage(json.RawMessage)     {}
func (BaseObserver) OnEvent(*protocol.Event)       {}
func (BaseObserver) OnError(error)                 {}
func (BaseObserver) OnAgentStream(json.RawMessage) {}

var _ Observer = BaseObserver{}
