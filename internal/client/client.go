// Package client drives a local agent gateway over its JSON-over-WebSocket
// request/response/event protocol: handshake, correlated requests, event
// routing, streamed agent runs with cancellation, and reconnection.
package client

import (
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"clawlink/internal/version"
)

const (
	// DefaultURL is the gateway's loopback address
	DefaultURL = "ws://127.0.0.1:18789"

	// DefaultSessionKey is used when a call does not name a session
	DefaultSessionKey = "main"

	// DefaultChallengeGrace is how long the handshake waits for connect.challenge
	DefaultChallengeGrace = 750 * time.Millisecond

	// DefaultRunTimeout bounds a streamed agent run
	DefaultRunTimeout = 120 * time.Second

	// DefaultThinking is the thinking effort sent with agent requests
	DefaultThinking = "medium"

	defaultClientID   = "gateway-client"
	defaultClientMode = "webchat"
	dialTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	abortTimeout      = 10 * time.Second
)

// Options configures a Client. Zero values take the defaults above.
type Options struct {
	URL      string
	Token    string
	Observer Observer

	SessionKey     string
	ChallengeGrace time.Duration
	Backoff        *Backoff

	ClientID   string
	ClientMode string
	Platform   string
	Version    string
	UserAgent  string

	Dialer *websocket.Dialer
}

// Client is a gateway protocol client. Create it with New, then call Start.
type Client struct {
	url        string
	token      string
	observer   Observer
	sessionKey string
	grace      time.Duration
	dialer     *websocket.Dialer
	instanceID string
	identity   identity

	mu             sync.Mutex
	sock           *socket
	state          State
	stopped        bool
	pending        map[string]*pendingRequest
	lastSeq        *int64
	gapCount       int
	backoff        *Backoff
	reconnectTimer *time.Timer

	runs         map[string]*run
	currentRunID string
	runAborted   bool
}

type identity struct {
	clientID  string
	mode      string
	platform  string
	version   string
	userAgent string
}

// New creates a client. It does not connect until Start is called.
func New(opts Options) *Client {
	c := &Client{
		url:        opts.URL,
		token:      opts.Token,
		observer:   opts.Observer,
		sessionKey: opts.SessionKey,
		grace:      opts.ChallengeGrace,
		dialer:     opts.Dialer,
		backoff:    opts.Backoff,
		instanceID: uuid.NewString(),
		state:      StateDisconnected,
		pending:    make(map[string]*pendingRequest),
		runs:       make(map[string]*run),
		identity: identity{
			clientID:  opts.ClientID,
			mode:      opts.ClientMode,
			platform:  opts.Platform,
			version:   opts.Version,
			userAgent: opts.UserAgent,
		},
	}

	if c.url == "" {
		c.url = DefaultURL
	}
	if c.observer == nil {
		c.observer = BaseObserver{}
	}
	if c.sessionKey == "" {
		c.sessionKey = DefaultSessionKey
	}
	if c.grace <= 0 {
		c.grace = DefaultChallengeGrace
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{HandshakeTimeout: dialTimeout}
	}
	if c.backoff == nil {
		c.backoff = NewBackoff(0, 0, 0)
	}
	if c.identity.clientID == "" {
		c.identity.clientID = defaultClientID
	}
	if c.identity.mode == "" {
		c.identity.mode = defaultClientMode
	}
	if c.identity.platform == "" {
		c.identity.platform = runtime.GOOS
	}
	if c.identity.version == "" {
		c.identity.version = version.Info()
	}
	if c.identity.userAgent == "" {
		c.identity.userAgent = version.UserAgent()
	}

	return c
}

// InstanceID returns the per-process identifier sent in the connect request
func (c *Client) InstanceID() string {
	return c.instanceID
}

// Snapshot is a point-in-time view of local client state
type Snapshot struct {
	URL            string        `json:"url"`
	State          State         `json:"state"`
	Connected      bool          `json:"connected"`
	PendingCount   int           `json:"pending_requests"`
	LastSeq        *int64        `json:"last_seq,omitempty"`
	SequenceGaps   int           `json:"sequence_gaps"`
	ReconnectDelay time.Duration `json:"reconnect_delay"`
	CurrentRunID   string        `json:"current_run_id,omitempty"`
	ActiveRuns     int           `json:"active_runs"`
}

// Snapshot returns the local connection state without contacting the gateway
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		URL:            c.url,
		State:          c.state,
		Connected:      c.state == StateReady,
		PendingCount:   len(c.pending),
		SequenceGaps:   c.gapCount,
		ReconnectDelay: c.backoff.Current(),
		CurrentRunID:   c.currentRunID,
		ActiveRuns:     len(c.runs),
	}
	if c.lastSeq != nil {
		seq := *c.lastSeq
		snap.LastSeq = &seq
	}
	return snap
}

// Connected reports whether the handshake has completed on the current socket
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateReady
}
