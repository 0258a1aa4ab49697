package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"clawlink/pkg/protocol"
)

const waitTimeout = 2 * time.Second

// reqFrame is a request as seen by the fake gateway
type reqFrame struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// fakeGateway is an in-process gateway speaking the req/res/event protocol
type fakeGateway struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *gwConn

	mu             sync.Mutex
	challengeNonce string
	rejectConnect  bool
	hello          any
}

// gwConn is one accepted client socket
type gwConn struct {
	t       *testing.T
	ws      *websocket.Conn
	writeMu sync.Mutex
	reqs    chan reqFrame
	gw      *fakeGateway
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	gw := &fakeGateway{
		t:     t,
		conns: make(chan *gwConn, 16),
		hello: map[string]any{"server": "fake", "protocol": 3},
	}
	gw.srv = httptest.NewServer(http.HandlerFunc(gw.serve))
	t.Cleanup(gw.srv.Close)
	return gw
}

func (gw *fakeGateway) URL() string {
	return "ws" + strings.TrimPrefix(gw.srv.URL, "http")
}

func (gw *fakeGateway) setChallenge(nonce string) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.challengeNonce = nonce
}

func (gw *fakeGateway) setRejectConnect(reject bool) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.rejectConnect = reject
}

func (gw *fakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &gwConn{t: gw.t, ws: ws, reqs: make(chan reqFrame, 64), gw: gw}

	gw.mu.Lock()
	nonce := gw.challengeNonce
	gw.mu.Unlock()
	if nonce != "" {
		conn.event(protocol.EventConnectChallenge, nil, map[string]string{"nonce": nonce})
	}

	gw.conns <- conn
	conn.readLoop()
}

func (c *gwConn) readLoop() {
	defer close(c.reqs)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var req reqFrame
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		if req.Method == protocol.MethodConnect {
			c.gw.mu.Lock()
			reject := c.gw.rejectConnect
			hello := c.gw.hello
			c.gw.mu.Unlock()
			if reject {
				c.fail(req.ID, "unauthorized")
			} else {
				c.reply(req.ID, hello)
			}
		}
		c.reqs <- req
	}
}

func (c *gwConn) send(v any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.WriteJSON(v)
}

func (c *gwConn) sendRaw(data string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.WriteMessage(websocket.TextMessage, []byte(data))
}

func (c *gwConn) reply(id string, payload any) {
	c.send(map[string]any{"type": "res", "id": id, "ok": true, "payload": payload})
}

func (c *gwConn) fail(id, message string) {
	body := map[string]any{"type": "res", "id": id, "ok": false}
	if message != "" {
		body["error"] = map[string]string{"message": message}
	}
	c.send(body)
}

func (c *gwConn) event(name string, seq *int64, payload any) {
	frame := map[string]any{"type": "event", "event": name, "payload": payload}
	if seq != nil {
		frame["seq"] = *seq
	}
	c.send(frame)
}

func (c *gwConn) agent(runID, stream string, data map[string]any) {
	c.event(protocol.EventAgent, nil, map[string]any{"runId": runID, "stream": stream, "data": data})
}

func (c *gwConn) close(code int, reason string) {
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.ws.Close()
}

// expect returns the next request with method, discarding others
func (c *gwConn) expect(method string) reqFrame {
	c.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case req, ok := <-c.reqs:
			if !ok {
				c.t.Fatalf("connection closed while waiting for %s", method)
			}
			if req.Method == method {
				return req
			}
		case <-deadline:
			c.t.Fatalf("timed out waiting for %s request", method)
		}
	}
}

// expectNone asserts no request with method arrives within d
func (c *gwConn) expectNone(method string, d time.Duration) {
	c.t.Helper()
	deadline := time.After(d)
	for {
		select {
		case req, ok := <-c.reqs:
			if !ok {
				return
			}
			if req.Method == method {
				c.t.Fatalf("unexpected %s request", method)
			}
		case <-deadline:
			return
		}
	}
}

func (gw *fakeGateway) accept() *gwConn {
	gw.t.Helper()
	select {
	case conn := <-gw.conns:
		return conn
	case <-time.After(waitTimeout):
		gw.t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func (gw *fakeGateway) expectNoConnection(d time.Duration) {
	gw.t.Helper()
	select {
	case <-gw.conns:
		gw.t.Fatal("unexpected client connection")
	case <-time.After(d):
	}
}

type disconnect struct {
	code   int
	reason string
}

// recordingObserver captures notifications on buffered channels
type recordingObserver struct {
	connects    chan json.RawMessage
	disconnects chan disconnect
	messages    chan json.RawMessage
	events      chan *protocol.Event
	errors      chan error
	streams     chan json.RawMessage
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		connects:    make(chan json.RawMessage, 16),
		disconnects: make(chan disconnect, 16),
		messages:    make(chan json.RawMessage, 256),
		events:      make(chan *protocol.Event, 64),
		errors:      make(chan error, 16),
		streams:     make(chan json.RawMessage, 64),
	}
}

func (o *recordingObserver) OnConnect(hello json.RawMessage) { o.connects <- hello }
func (o *recordingObserver) OnDisconnect(code int, reason string) {
	o.disconnects <- disconnect{code, reason}
}
func (o *recordingObserver) OnMessage(raw json.RawMessage) {
	select {
	case o.messages <- raw:
	default:
	}
}
func (o *recordingObserver) OnEvent(ev *protocol.Event)            { o.events <- ev }
func (o *recordingObserver) OnError(err error)                     { o.errors <- err }
func (o *recordingObserver) OnAgentStream(payload json.RawMessage) { o.streams <- payload }

func receive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

// testOptions are fast defaults for tests
func testOptions(gw *fakeGateway, obs Observer) Options {
	return Options{
		URL:            gw.URL(),
		Token:          "secret",
		Observer:       obs,
		ChallengeGrace: 20 * time.Millisecond,
		Backoff:        NewBackoff(20*time.Millisecond, 100*time.Millisecond, DefaultBackoffFactor),
	}
}

// connectClient starts a client against gw and waits for the handshake
func connectClient(t *testing.T, gw *fakeGateway) (*Client, *gwConn, *recordingObserver) {
	t.Helper()
	obs := newRecordingObserver()
	c := New(testOptions(gw, obs))
	require.NoError(t, c.Start())
	t.Cleanup(c.Stop)

	conn := gw.accept()
	conn.expect(protocol.MethodConnect)
	receive(t, obs.connects, "OnConnect")
	require.True(t, c.Connected())
	return c, conn, obs
}
