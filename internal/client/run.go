package client

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"clawlink/pkg/protocol"
)

// StreamKind classifies text passed to a stream callback
type StreamKind string

const (
	StreamThinking StreamKind = "thinking"
	StreamTool     StreamKind = "tool"
	StreamStatus   StreamKind = "status"
	StreamResponse StreamKind = "response"
)

// NoResponseText is the result of a run that ended without response text
const NoResponseText = "No response received"

// MessageOptions tune a single SendMessage call. Optional gateway fields are
// sent only when set.
type MessageOptions struct {
	Thinking          string
	SessionKey        string
	AgentID           string
	Timeout           time.Duration
	ExtraSystemPrompt string

	// OnStream receives the accumulated text for thinking and response
	// streams, and one-line notices for tool and status streams.
	OnStream func(text string, kind StreamKind)

	// OnRun is called with the run id once the gateway accepts the request
	OnRun func(runID string)
}

// run is one streamed agent invocation
type run struct {
	id       string
	onStream func(string, StreamKind)
	done     chan struct{}

	mu        sync.Mutex
	response  string
	thinking  string
	completed bool
	timer     *time.Timer
	result    string
	err       error
}

func newRun(id string, onStream func(string, StreamKind)) *run {
	return &run{id: id, onStream: onStream, done: make(chan struct{})}
}

// settle resolves the run once; later calls report false
func (r *run) settle(result string, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settleLocked(result, err)
}

func (r *run) settleLocked(result string, err error) bool {
	if r.completed {
		return false
	}
	r.completed = true
	r.result = result
	r.err = err
	stopTimer(r.timer)
	close(r.done)
	return true
}

// expire settles with partial text when there is any, otherwise a timeout
func (r *run) expire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.response != "" {
		return r.settleLocked(r.response, nil)
	}
	return r.settleLocked("", ErrRunTimeout)
}

// apply folds one payload into the run. It returns the text and kind to
// publish (kind is empty when there is nothing to publish) and whether the
// run has finished.
func (r *run) apply(p *protocol.AgentPayload) (string, StreamKind, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.completed {
		return "", "", true
	}

	data := p.Data
	switch p.Stream {
	case "thinking", "thought":
		chunk := firstNonEmpty(data.Delta, data.Text, data.ContentString())
		if chunk == "" {
			return "", "", false
		}
		r.thinking += chunk
		return r.thinking, StreamThinking, false

	case "tool", "tool_call", "function":
		name := firstNonEmpty(data.Name, data.Tool, "tool")
		status := firstNonEmpty(data.Status, data.Phase)
		text := "🔧 " + name
		if status != "" {
			text += ": " + status
		}
		return text, StreamTool, false

	case "status", "lifecycle":
		switch data.Phase {
		case "start":
			return "Starting...", StreamStatus, false
		case "end":
			result := r.response
			if result == "" {
				result = NoResponseText
			}
			r.settleLocked(result, nil)
			return "", "", true
		}
		return "", "", false

	default:
		chunk := data.Delta
		if chunk == "" && p.Stream != "lifecycle" {
			chunk = data.Text
		}
		if chunk == "" {
			chunk = data.ContentString()
		}
		if chunk == "" {
			return "", "", false
		}
		r.response += chunk
		return r.response, StreamResponse, false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// SendMessage starts an agent run and blocks until it completes, fails,
// times out, is aborted, or ctx ends. A timed-out run that produced text
// returns that partial text without error.
func (c *Client) SendMessage(ctx context.Context, message string, opts MessageOptions) (string, error) {
	c.mu.Lock()
	c.runAborted = false
	c.mu.Unlock()

	params := protocol.AgentParams{
		Message:           message,
		IdempotencyKey:    uuid.NewString(),
		Thinking:          opts.Thinking,
		SessionKey:        opts.SessionKey,
		AgentID:           opts.AgentID,
		ExtraSystemPrompt: opts.ExtraSystemPrompt,
	}
	if params.Thinking == "" {
		params.Thinking = DefaultThinking
	}
	if params.SessionKey == "" {
		params.SessionKey = c.sessionKey
	}
	if opts.Timeout > 0 {
		params.Timeout = opts.Timeout.Milliseconds()
	}

	// The run is registered on the read goroutine before the accept response
	// is delivered, so frames that follow it on the wire find their handler.
	var r *run
	register := func(payload json.RawMessage) {
		var accepted protocol.AgentAccepted
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &accepted); err != nil {
				log.Printf("[Client] Malformed agent accept payload: %v", err)
			}
		}
		if accepted.RunID == "" {
			return
		}
		r = newRun(accepted.RunID, opts.OnStream)
		c.mu.Lock()
		c.runs[r.id] = r
		c.currentRunID = r.id
		c.mu.Unlock()
		if opts.OnRun != nil {
			opts.OnRun(r.id)
		}
	}

	c.mu.Lock()
	s := c.sock
	c.mu.Unlock()

	if _, err := c.request(ctx, s, protocol.MethodAgent, params, register); err != nil {
		return "", err
	}
	if r == nil {
		return "", ErrNoRunID
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}

	r.mu.Lock()
	if !r.completed {
		r.timer = time.AfterFunc(timeout, func() {
			c.dropRun(r)
			if r.expire() {
				log.Printf("[Client] Run %s timed out after %v", r.id, timeout)
			}
		})
	}
	r.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		c.dropRun(r)
		r.settle("", ctx.Err())
		<-r.done
	}
	return r.result, r.err
}

// handleRunPayload is the per-run handler invoked by the event router.
// A frame that was routed just before AbortCurrentRun deregistered the run
// lands here on an already settled run; apply reports it finished and nothing
// is published.
func (c *Client) handleRunPayload(r *run, p *protocol.AgentPayload) {
	text, kind, finished := r.apply(p)
	if finished {
		c.dropRun(r)
		return
	}
	if kind != "" && r.onStream != nil {
		r.onStream(text, kind)
	}
}

// dropRun deregisters r and clears it as current
func (c *Client) dropRun(r *run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runs[r.id] == r {
		delete(c.runs, r.id)
	}
	if c.currentRunID == r.id {
		c.currentRunID = ""
	}
}

// AbortCurrentRun cancels the tracked run. The pending SendMessage returns
// ErrCancelled and an agent.abort request is sent best effort. It returns
// the aborted run id, or false when nothing was running.
func (c *Client) AbortCurrentRun() (string, bool) {
	c.mu.Lock()
	runID := c.currentRunID
	if runID == "" {
		c.mu.Unlock()
		return "", false
	}
	c.runAborted = true
	r := c.runs[runID]
	delete(c.runs, runID)
	c.currentRunID = ""
	c.mu.Unlock()

	log.Printf("[Client] Aborting current run: %s", runID)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
		defer cancel()
		if _, err := c.Request(ctx, protocol.MethodAgentAbort, protocol.AbortParams{RunID: runID}); err != nil {
			log.Printf("[Client] Abort request failed (may not be supported): %v", err)
			return
		}
		log.Printf("[Client] Abort request sent")
	}()

	if r != nil {
		r.settle("", ErrCancelled)
	}
	return runID, true
}

// IsRunning reports whether a run is tracked and has not been aborted
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentRunID != "" && !c.runAborted
}

// CurrentRunID returns the tracked run id, or "" when idle
func (c *Client) CurrentRunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentRunID
}


