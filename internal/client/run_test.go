package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clawlink/pkg/protocol"
)

type runOutcome struct {
	text string
	err  error
}

type streamed struct {
	text string
	kind StreamKind
}

// startRun issues SendMessage in the background and returns the agent
// request as the gateway saw it
func startRun(t *testing.T, c *Client, conn *gwConn, ctx context.Context, opts MessageOptions) (reqFrame, <-chan runOutcome) {
	t.Helper()
	out := make(chan runOutcome, 1)
	go func() {
		text, err := c.SendMessage(ctx, "hi", opts)
		out <- runOutcome{text, err}
	}()
	return conn.expect(protocol.MethodAgent), out
}

func streamRecorder() (func(string, StreamKind), <-chan streamed) {
	ch := make(chan streamed, 64)
	return func(text string, kind StreamKind) { ch <- streamed{text, kind} }, ch
}

func TestSendMessage_AccumulatesResponse(t *testing.T) {
	c, conn, obs := connectClient(t, newFakeGateway(t))
	onStream, streams := streamRecorder()

	req, out := startRun(t, c, conn, context.Background(), MessageOptions{OnStream: onStream})

	// frames follow the accept response back to back on the wire
	conn.reply(req.ID, map[string]string{"runId": "r1"})
	conn.agent("r1", "response", map[string]any{"delta": "Hel"})
	conn.agent("r1", "response", map[string]any{"delta": "lo"})
	conn.agent("r1", "lifecycle", map[string]any{"phase": "end"})

	res := receive(t, out, "run result")
	require.NoError(t, res.err)
	assert.Equal(t, "Hello", res.text)

	assert.Equal(t, streamed{"Hel", StreamResponse}, receive(t, streams, "first chunk"))
	assert.Equal(t, streamed{"Hello", StreamResponse}, receive(t, streams, "second chunk"))

	for i := 0; i < 3; i++ {
		receive(t, obs.streams, "OnAgentStream")
	}
	assert.False(t, c.IsRunning())
	assert.Zero(t, c.Snapshot().ActiveRuns)
}

func TestSendMessage_AgentParams(t *testing.T) {
	tests := []struct {
		name   string
		opts   MessageOptions
		want   map[string]any
		absent []string
	}{
		{
			name: "defaults",
			opts: MessageOptions{},
			want: map[string]any{
				"message":    "hi",
				"thinking":   "medium",
				"sessionKey": "main",
			},
			absent: []string{"agentId", "timeout", "extraSystemPrompt"},
		},
		{
			name: "optional fields",
			opts: MessageOptions{
				Thinking:          "high",
				SessionKey:        "work",
				AgentID:           "coder",
				Timeout:           30 * time.Second,
				ExtraSystemPrompt: "be brief",
			},
			want: map[string]any{
				"message":           "hi",
				"thinking":          "high",
				"sessionKey":        "work",
				"agentId":           "coder",
				"timeout":           float64(30000),
				"extraSystemPrompt": "be brief",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, conn, _ := connectClient(t, newFakeGateway(t))

			req, out := startRun(t, c, conn, context.Background(), tt.opts)

			var params map[string]any
			require.NoError(t, json.Unmarshal(req.Params, &params))
			for k, v := range tt.want {
				assert.Equal(t, v, params[k], k)
			}
			for _, k := range tt.absent {
				assert.NotContains(t, params, k)
			}
			assert.NotEmpty(t, params["idempotencyKey"])

			conn.reply(req.ID, map[string]string{"runId": "r"})
			conn.agent("r", "lifecycle", map[string]any{"phase": "end"})
			res := receive(t, out, "run result")
			require.NoError(t, res.err)
			assert.Equal(t, NoResponseText, res.text)
		})
	}
}

func TestSendMessage_IdempotencyKeyPerCall(t *testing.T) {
	c, conn, _ := connectClient(t, newFakeGateway(t))

	keys := make(map[string]bool)
	for i := 0; i < 2; i++ {
		req, out := startRun(t, c, conn, context.Background(), MessageOptions{})
		var params protocol.AgentParams
		require.NoError(t, json.Unmarshal(req.Params, &params))
		keys[params.IdempotencyKey] = true

		conn.reply(req.ID, map[string]string{"runId": "r"})
		conn.agent("r", "lifecycle", map[string]any{"phase": "end"})
		receive(t, out, "run result")
	}
	assert.Len(t, keys, 2)
}

func TestSendMessage_NoRunID(t *testing.T) {
	c, conn, _ := connectClient(t, newFakeGateway(t))

	req, out := startRun(t, c, conn, context.Background(), MessageOptions{})
	conn.reply(req.ID, map[string]string{})

	res := receive(t, out, "run result")
	assert.ErrorIs(t, res.err, ErrNoRunID)
	assert.False(t, c.IsRunning())
}

func TestSendMessage_AgentRequestRejected(t *testing.T) {
	c, conn, _ := connectClient(t, newFakeGateway(t))

	req, out := startRun(t, c, conn, context.Background(), MessageOptions{})
	conn.fail(req.ID, "agent busy")

	res := receive(t, out, "run result")
	var reqErr *RequestError
	require.True(t, errors.As(res.err, &reqErr))
	assert.Equal(t, "agent busy", reqErr.Message)
}

func TestSendMessage_NotConnected(t *testing.T) {
	c := New(Options{})
	_, err := c.SendMessage(context.Background(), "hi", MessageOptions{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSendMessage_StreamClassification(t *testing.T) {
	c, conn, _ := connectClient(t, newFakeGateway(t))
	onStream, streams := streamRecorder()

	req, out := startRun(t, c, conn, context.Background(), MessageOptions{OnStream: onStream})
	conn.reply(req.ID, map[string]string{"runId": "r2"})

	conn.agent("r2", "lifecycle", map[string]any{"phase": "start"})
	conn.agent("r2", "thinking", map[string]any{"delta": "let me "})
	conn.agent("r2", "thought", map[string]any{"text": "see"})
	conn.agent("r2", "tool", map[string]any{"name": "search", "status": "running"})
	conn.agent("r2", "tool_call", map[string]any{"phase": "start"})
	conn.agent("r2", "function", map[string]any{"tool": "fetch"})
	conn.agent("r2", "assistant", map[string]any{"text": "An"})
	conn.agent("r2", "assistant", map[string]any{"content": "swer"})
	conn.agent("r2", "assistant", map[string]any{"content": []string{"ignored"}})
	conn.agent("r2", "status", map[string]any{"phase": "end"})

	res := receive(t, out, "run result")
	require.NoError(t, res.err)
	assert.Equal(t, "Answer", res.text)

	want := []streamed{
		{"Starting...", StreamStatus},
		{"let me ", StreamThinking},
		{"let me see", StreamThinking},
		{"🔧 search: running", StreamTool},
		{"🔧 tool: start", StreamTool},
		{"🔧 fetch", StreamTool},
		{"An", StreamResponse},
		{"Answer", StreamResponse},
	}
	for _, w := range want {
		assert.Equal(t, w, receive(t, streams, w.text))
	}
	select {
	case extra := <-streams:
		t.Fatalf("unexpected stream callback: %+v", extra)
	default:
	}
}

func TestSendMessage_FramesForOtherRunsIgnored(t *testing.T) {
	c, conn, _ := connectClient(t, newFakeGateway(t))

	req, out := startRun(t, c, conn, context.Background(), MessageOptions{})
	conn.reply(req.ID, map[string]string{"runId": "mine"})
	conn.agent("other", "response", map[string]any{"delta": "noise"})
	conn.agent("other", "lifecycle", map[string]any{"phase": "end"})
	conn.agent("mine", "response", map[string]any{"delta": "signal"})
	conn.agent("mine", "lifecycle", map[string]any{"phase": "end"})

	res := receive(t, out, "run result")
	require.NoError(t, res.err)
	assert.Equal(t, "signal", res.text)
}

func TestSendMessage_LooselyTypedFramesStillEndRun(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{
			name:  "string seq",
			frame: `{"type":"event","event":"agent","seq":"7","payload":{"runId":"r-loose","stream":"lifecycle","data":{"phase":"end"}}}`,
		},
		{
			name:  "float seq",
			frame: `{"type":"event","event":"agent","seq":7.0,"payload":{"runId":"r-loose","stream":"lifecycle","data":{"phase":"end"}}}`,
		},
		{
			name:  "object status",
			frame: `{"type":"event","event":"agent","payload":{"runId":"r-loose","stream":"lifecycle","data":{"phase":"end","status":{"ok":true}}}}`,
		},
		{
			name:  "numeric name",
			frame: `{"type":"event","event":"agent","payload":{"runId":"r-loose","stream":"lifecycle","data":{"phase":"end","name":3,"tool":null}}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, conn, obs := connectClient(t, newFakeGateway(t))

			req, out := startRun(t, c, conn, context.Background(), MessageOptions{Timeout: time.Minute})
			conn.reply(req.ID, map[string]string{"runId": "r-loose"})
			conn.agent("r-loose", "response", map[string]any{"delta": "Hi"})
			conn.sendRaw(tt.frame)

			res := receive(t, out, "run result")
			require.NoError(t, res.err)
			assert.Equal(t, "Hi", res.text)

			receive(t, obs.streams, "delta forwarded")
			receive(t, obs.streams, "lifecycle forwarded")
			assert.False(t, c.IsRunning())
		})
	}
}

func TestSendMessage_TimeoutReturnsPartialText(t *testing.T) {
	c, conn, _ := connectClient(t, newFakeGateway(t))

	req, out := startRun(t, c, conn, context.Background(), MessageOptions{Timeout: 100 * time.Millisecond})
	conn.reply(req.ID, map[string]string{"runId": "slow"})
	conn.agent("slow", "response", map[string]any{"delta": "Par"})

	res := receive(t, out, "run result")
	require.NoError(t, res.err)
	assert.Equal(t, "Par", res.text)
	assert.False(t, c.IsRunning())

	// frames after settlement change nothing
	conn.agent("slow", "response", map[string]any{"delta": "tial"})
	conn.agent("slow", "lifecycle", map[string]any{"phase": "end"})
	assert.Zero(t, c.Snapshot().ActiveRuns)
}

func TestSendMessage_TimeoutWithoutText(t *testing.T) {
	c, conn, _ := connectClient(t, newFakeGateway(t))

	req, out := startRun(t, c, conn, context.Background(), MessageOptions{Timeout: 50 * time.Millisecond})
	conn.reply(req.ID, map[string]string{"runId": "silent"})

	res := receive(t, out, "run result")
	assert.ErrorIs(t, res.err, ErrRunTimeout)
	assert.Empty(t, res.text)
	assert.False(t, c.IsRunning())
}

func TestAbortCurrentRun(t *testing.T) {
	c, conn, obs := connectClient(t, newFakeGateway(t))
	onStream, streams := streamRecorder()

	req, out := startRun(t, c, conn, context.Background(), MessageOptions{OnStream: onStream})
	conn.reply(req.ID, map[string]string{"runId": "r-abort"})
	require.Eventually(t, c.IsRunning, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, "r-abort", c.CurrentRunID())

	runID, ok := c.AbortCurrentRun()
	require.True(t, ok)
	assert.Equal(t, "r-abort", runID)
	assert.False(t, c.IsRunning())

	res := receive(t, out, "run result")
	assert.ErrorIs(t, res.err, ErrCancelled)

	abort := conn.expect(protocol.MethodAgentAbort)
	var params protocol.AbortParams
	require.NoError(t, json.Unmarshal(abort.Params, &params))
	assert.Equal(t, "r-abort", params.RunID)

	// the gateway may not support abort; failure is tolerated
	conn.fail(abort.ID, "unknown method")
	assert.True(t, c.Connected())

	// the gateway keeps streaming the run it never stopped
	conn.agent("r-abort", "response", map[string]any{"delta": "late"})
	conn.agent("r-abort", "lifecycle", map[string]any{"phase": "end"})
	receive(t, obs.streams, "late delta forwarded")
	receive(t, obs.streams, "late lifecycle forwarded")

	assert.Empty(t, streams, "no OnStream after abort")
	assert.False(t, c.IsRunning())
	assert.Empty(t, c.CurrentRunID())
	assert.Zero(t, c.Snapshot().ActiveRuns)
	select {
	case extra := <-out:
		t.Fatalf("run settled twice: %+v", extra)
	default:
	}
}

func TestAbortCurrentRun_FrameAfterAbortIsIgnored(t *testing.T) {
	c, conn, _ := connectClient(t, newFakeGateway(t))
	onStream, streams := streamRecorder()

	r := newRun("r-late", onStream)
	c.mu.Lock()
	c.runs[r.id] = r
	c.currentRunID = r.id
	c.mu.Unlock()

	_, ok := c.AbortCurrentRun()
	require.True(t, ok)
	conn.expect(protocol.MethodAgentAbort)

	// a frame routed just before the abort deregistered the run
	c.handleRunPayload(r, &protocol.AgentPayload{
		RunID:  "r-late",
		Stream: string(StreamResponse),
		Data:   protocol.AgentData{Delta: "late"},
	})

	receive[struct{}](t, r.done, "run settled")
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.ErrorIs(t, r.err, ErrCancelled)
	assert.Empty(t, r.result)
	assert.Empty(t, r.response)
	assert.Empty(t, streams)
}

func TestAbortCurrentRun_Idle(t *testing.T) {
	c, conn, _ := connectClient(t, newFakeGateway(t))

	runID, ok := c.AbortCurrentRun()
	assert.False(t, ok)
	assert.Empty(t, runID)
	conn.expectNone(protocol.MethodAgentAbort, 100*time.Millisecond)
}

func TestAbortCurrentRun_NewRunClearsAbortFlag(t *testing.T) {
	c, conn, _ := connectClient(t, newFakeGateway(t))

	req, out := startRun(t, c, conn, context.Background(), MessageOptions{})
	conn.reply(req.ID, map[string]string{"runId": "first"})
	require.Eventually(t, c.IsRunning, waitTimeout, 5*time.Millisecond)
	c.AbortCurrentRun()
	receive(t, out, "aborted run")

	req, out = startRun(t, c, conn, context.Background(), MessageOptions{})
	conn.reply(req.ID, map[string]string{"runId": "second"})
	conn.agent("second", "response", map[string]any{"delta": "ok"})
	conn.agent("second", "lifecycle", map[string]any{"phase": "end"})

	res := receive(t, out, "second run")
	require.NoError(t, res.err)
	assert.Equal(t, "ok", res.text)
}

func TestSendMessage_DisconnectRejectsRun(t *testing.T) {
	c, conn, _ := connectClient(t, newFakeGateway(t))

	req, out := startRun(t, c, conn, context.Background(), MessageOptions{})
	conn.reply(req.ID, map[string]string{"runId": "r-drop"})
	require.Eventually(t, c.IsRunning, waitTimeout, 5*time.Millisecond)

	conn.close(websocket.CloseGoingAway, "restart")

	res := receive(t, out, "run result")
	assert.ErrorIs(t, res.err, ErrConnectionClosed)
	assert.False(t, c.IsRunning())
}

func TestSendMessage_ContextCancel(t *testing.T) {
	c, conn, _ := connectClient(t, newFakeGateway(t))

	ctx, cancel := context.WithCancel(context.Background())
	req, out := startRun(t, c, conn, ctx, MessageOptions{})
	conn.reply(req.ID, map[string]string{"runId": "r-ctx"})
	require.Eventually(t, c.IsRunning, waitTimeout, 5*time.Millisecond)

	cancel()

	res := receive(t, out, "run result")
	assert.ErrorIs(t, res.err, context.Canceled)
	assert.False(t, c.IsRunning())
	assert.Zero(t, c.Snapshot().ActiveRuns)
}

func TestSendMessage_OnRunReportsRunID(t *testing.T) {
	c, conn, _ := connectClient(t, newFakeGateway(t))

	ids := make(chan string, 1)
	req, out := startRun(t, c, conn, context.Background(), MessageOptions{
		OnRun: func(runID string) { ids <- runID },
	})
	conn.reply(req.ID, map[string]string{"runId": "r-hook"})
	assert.Equal(t, "r-hook", receive(t, ids, "OnRun"))

	conn.agent("r-hook", "lifecycle", map[string]any{"phase": "end"})
	receive(t, out, "run result")
}
