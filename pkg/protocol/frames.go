package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// FrameType defines the top-level kind of a wire frame
type FrameType string

const (
	TypeRequest  FrameType = "req"   // client -> gateway
	TypeResponse FrameType = "res"   // gateway -> client, correlated by id
	TypeEvent    FrameType = "event" // gateway -> client, out of band
)

// Event names the client understands
const (
	EventConnectChallenge = "connect.challenge"
	EventAgent            = "agent"
)

// Methods issued by the client
const (
	MethodConnect         = "connect"
	MethodAgent           = "agent"
	MethodAgentAbort      = "agent.abort"
	MethodStatus          = "status"
	MethodSessionsList    = "sessions.list"
	MethodSessionsDelete  = "sessions.delete"
	MethodSessionsReset   = "sessions.reset"
	MethodSessionsHistory = "sessions.history"
)

// Protocol version bounds advertised in the connect request
const (
	MinProtocol = 3
	MaxProtocol = 3
)

// Request is a {type:"req"} frame
type Request struct {
	Type   FrameType `json:"type"`
	ID     string    `json:"id"`
	Method string    `json:"method"`
	Params any       `json:"params"`
}

// NewRequest builds a request frame with the given correlation id
func NewRequest(id, method string, params any) *Request {
	if params == nil {
		params = struct{}{}
	}
	return &Request{Type: TypeRequest, ID: id, Method: method, Params: params}
}

// ErrorShape is the error body of a failed response
type ErrorShape struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Response is a {type:"res"} frame
type Response struct {
	Type    FrameType       `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

// Event is a {type:"event"} frame. Seq is kept raw so a malformed sequence
// number never costs the frame itself; read it through Sequence.
type Event struct {
	Type    FrameType       `json:"type"`
	Event   string          `json:"event"`
	Seq     json.RawMessage `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Sequence returns the frame's sequence number. ok is false when the gateway
// did not number the frame or the value is not an integral JSON number.
func (e *Event) Sequence() (seq int64, ok bool) {
	raw := bytes.TrimSpace(e.Seq)
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return 0, false
	}
	n := json.Number(raw)
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// ChallengePayload is carried by connect.challenge
type ChallengePayload struct {
	Nonce string `json:"nonce"`
}

// ClientInfo identifies this client to the gateway
type ClientInfo struct {
	ID         string `json:"id"`
	Version    string `json:"version"`
	Platform   string `json:"platform"`
	Mode       string `json:"mode"`
	InstanceID string `json:"instanceId"`
}

// Auth carries the credential. Token is always serialized, empty when unset.
type Auth struct {
	Token string `json:"token"`
}

// ConnectParams are the params of the connect request
type ConnectParams struct {
	MinProtocol int        `json:"minProtocol"`
	MaxProtocol int        `json:"maxProtocol"`
	Client      ClientInfo `json:"client"`
	Caps        []string   `json:"caps"`
	Auth        Auth       `json:"auth"`
	UserAgent   string     `json:"userAgent"`
}

// AgentParams are the params of an agent request. Optional fields are
// omitted entirely when unset.
type AgentParams struct {
	Message           string `json:"message"`
	IdempotencyKey    string `json:"idempotencyKey"`
	Thinking          string `json:"thinking"`
	SessionKey        string `json:"sessionKey"`
	AgentID           string `json:"agentId,omitempty"`
	Timeout           int64  `json:"timeout,omitempty"`
	ExtraSystemPrompt string `json:"extraSystemPrompt,omitempty"`
}

// AgentAccepted is the payload of a successful agent response
type AgentAccepted struct {
	RunID string `json:"runId"`
}

// AbortParams are the params of agent.abort
type AbortParams struct {
	RunID string `json:"runId"`
}

// SessionParams address a single session
type SessionParams struct {
	SessionKey string `json:"sessionKey"`
}

// HistoryParams are the params of sessions.history
type HistoryParams struct {
	SessionKey string `json:"sessionKey"`
	Limit      int    `json:"limit"`
}

// AgentPayload is the payload of an agent event
type AgentPayload struct {
	RunID  string    `json:"runId"`
	Stream string    `json:"stream,omitempty"`
	Data   AgentData `json:"data"`
}

// AgentData is the loosely typed data of an agent event. Content is kept raw
// because gateways send either a string or structured blocks.
type AgentData struct {
	Delta   string          `json:"delta,omitempty"`
	Text    string          `json:"text,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	Phase   string          `json:"phase,omitempty"`
	Name    string          `json:"name,omitempty"`
	Tool    string          `json:"tool,omitempty"`
	Status  string          `json:"status,omitempty"`
}

// UnmarshalJSON decodes the payload field by field. String fields holding
// another JSON type are coerced rather than failing the whole payload.
func (p *AgentPayload) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = AgentPayload{
		RunID:  looseString(raw["runId"]),
		Stream: looseString(raw["stream"]),
	}
	if d, ok := raw["data"]; ok {
		return json.Unmarshal(d, &p.Data)
	}
	return nil
}

// UnmarshalJSON decodes agent data tolerantly. Data that is not an object
// decodes to the zero value.
func (d *AgentData) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		*d = AgentData{}
		return nil
	}
	*d = AgentData{
		Delta:  looseString(raw["delta"]),
		Text:   looseString(raw["text"]),
		Phase:  looseString(raw["phase"]),
		Name:   looseString(raw["name"]),
		Tool:   looseString(raw["tool"]),
		Status: looseString(raw["status"]),
	}
	if c := bytes.TrimSpace(raw["content"]); len(c) > 0 && !bytes.Equal(c, []byte("null")) {
		d.Content = c
	}
	return nil
}

// looseString reads a JSON scalar as text. Strings are unquoted, numbers and
// booleans keep their literal form. Null, objects and arrays yield "".
func looseString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '{', '[', 'n':
		return ""
	default:
		return string(raw)
	}
}

// ContentString returns Content when it is a JSON string, "" otherwise
func (d AgentData) ContentString() string {
	if len(d.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(d.Content, &s); err != nil {
		return ""
	}
	return s
}

// frameHeader is used to sniff the type before decoding the full frame
type frameHeader struct {
	Type FrameType `json:"type"`
}

// ParseFrame decodes raw JSON into *Response, *Event or *Request.
// Frames of unknown type are returned as an error.
func ParseFrame(data []byte) (interface{}, error) {
	var head frameHeader
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case TypeResponse:
		var res Response
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, err
		}
		return &res, nil

	case TypeEvent:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return &ev, nil

	case TypeRequest:
		var req struct {
			Type   FrameType       `json:"type"`
			ID     string          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		return &Request{Type: req.Type, ID: req.ID, Method: req.Method, Params: req.Params}, nil

	default:
		return nil, fmt.Errorf("unknown frame type %q", head.Type)
	}
}
