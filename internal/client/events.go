package client

import (
	"encoding/json"
	"log"

	"clawlink/pkg/protocol"
)

// handleFrame parses one inbound frame and routes it. Malformed frames are
// logged and dropped.
func (c *Client) handleFrame(s *socket, data []byte) {
	parsed, err := protocol.ParseFrame(data)
	if err != nil {
		log.Printf("[Client] Failed to parse frame: %v", err)
		return
	}

	c.observer.OnMessage(json.RawMessage(data))

	switch frame := parsed.(type) {
	case *protocol.Event:
		c.routeEvent(s, frame)
	case *protocol.Response:
		c.handleResponse(frame)
	case *protocol.Request:
		log.Printf("[Client] Ignoring gateway-initiated request %q", frame.Method)
	}
}

// routeEvent classifies an event frame
func (c *Client) routeEvent(s *socket, ev *protocol.Event) {
	if ev.Event == protocol.EventConnectChallenge {
		var challenge protocol.ChallengePayload
		if len(ev.Payload) > 0 {
			if err := json.Unmarshal(ev.Payload, &challenge); err != nil {
				log.Printf("[Client] Malformed connect.challenge payload: %v", err)
			}
		}
		if challenge.Nonce != "" {
			c.handleChallenge(s, challenge.Nonce)
		}
		return
	}

	if seq, ok := ev.Sequence(); ok {
		c.trackSeq(seq)
	}

	if ev.Event == protocol.EventAgent {
		c.routeAgent(ev.Payload)
		c.observer.OnAgentStream(ev.Payload)
		return
	}

	c.observer.OnEvent(ev)
}

// trackSeq records the sequence number and reports discontinuities. Gaps are
// advisory only; nothing is dropped or re-requested.
func (c *Client) trackSeq(seq int64) {
	c.mu.Lock()
	last := c.lastSeq
	gap := last != nil && seq > *last+1
	if gap {
		c.gapCount++
	}
	c.lastSeq = &seq
	c.mu.Unlock()

	if gap {
		log.Printf("[Client] Event gap detected: %d to %d", *last+1, seq)
	}
}

// routeAgent hands an agent payload to its run handler. Frames for runs
// without a handler are dropped silently.
func (c *Client) routeAgent(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var payload protocol.AgentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Printf("[Client] Malformed agent payload: %v", err)
		return
	}
	if payload.RunID == "" {
		return
	}

	c.mu.Lock()
	r := c.runs[payload.RunID]
	c.mu.Unlock()

	if r != nil {
		c.handleRunPayload(r, &payload)
	}
}
