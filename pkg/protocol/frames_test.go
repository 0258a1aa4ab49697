package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame_Response(t *testing.T) {
	parsed, err := ParseFrame([]byte(`{"type":"res","id":"abc","ok":true,"payload":{"runId":"r1"}}`))
	require.NoError(t, err)

	res, ok := parsed.(*Response)
	require.True(t, ok, "expected *Response, got %T", parsed)
	assert.Equal(t, "abc", res.ID)
	assert.True(t, res.OK)
	assert.JSONEq(t, `{"runId":"r1"}`, string(res.Payload))
	assert.Nil(t, res.Error)
}

func TestParseFrame_ErrorResponse(t *testing.T) {
	parsed, err := ParseFrame([]byte(`{"type":"res","id":"x","ok":false,"error":{"message":"denied"}}`))
	require.NoError(t, err)

	res := parsed.(*Response)
	assert.False(t, res.OK)
	require.NotNil(t, res.Error)
	assert.Equal(t, "denied", res.Error.Message)
}

func TestParseFrame_Event(t *testing.T) {
	parsed, err := ParseFrame([]byte(`{"type":"event","event":"agent","seq":7,"payload":{"runId":"r1","stream":"response","data":{"delta":"Hi"}}}`))
	require.NoError(t, err)

	ev := parsed.(*Event)
	assert.Equal(t, EventAgent, ev.Event)
	seq, ok := ev.Sequence()
	require.True(t, ok)
	assert.Equal(t, int64(7), seq)

	var payload AgentPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, "r1", payload.RunID)
	assert.Equal(t, "response", payload.Stream)
	assert.Equal(t, "Hi", payload.Data.Delta)
}

func TestParseFrame_EventWithoutSeq(t *testing.T) {
	parsed, err := ParseFrame([]byte(`{"type":"event","event":"presence"}`))
	require.NoError(t, err)
	_, ok := parsed.(*Event).Sequence()
	assert.False(t, ok)
}

func TestParseFrame_EventLooseSeq(t *testing.T) {
	tests := []struct {
		name  string
		seq   string
		want  int64
		track bool
	}{
		{"integer", `42`, 42, true},
		{"negative", `-3`, -3, true},
		{"integral float", `7.0`, 7, true},
		{"exponent", `1e3`, 1000, true},
		{"fractional", `7.5`, 0, false},
		{"string", `"7"`, 0, false},
		{"null", `null`, 0, false},
		{"object", `{"n":7}`, 0, false},
		{"bool", `true`, 0, false},
		{"overflow", `1e300`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseFrame([]byte(`{"type":"event","event":"agent","seq":` + tt.seq + `,"payload":{"runId":"r1"}}`))
			require.NoError(t, err, "a bad seq must not cost the frame")

			ev := parsed.(*Event)
			assert.Equal(t, EventAgent, ev.Event)
			assert.JSONEq(t, `{"runId":"r1"}`, string(ev.Payload))

			seq, ok := ev.Sequence()
			assert.Equal(t, tt.track, ok)
			assert.Equal(t, tt.want, seq)
		})
	}
}

func TestAgentPayload_TolerantDecode(t *testing.T) {
	var p AgentPayload
	err := json.Unmarshal([]byte(`{
		"runId": "r1",
		"stream": "lifecycle",
		"data": {"phase": "end", "status": {"ok": true}, "name": 12, "tool": ["bash"], "delta": false, "text": null}
	}`), &p)
	require.NoError(t, err)

	assert.Equal(t, "r1", p.RunID)
	assert.Equal(t, "lifecycle", p.Stream)
	assert.Equal(t, "end", p.Data.Phase)
	assert.Equal(t, "", p.Data.Status)
	assert.Equal(t, "12", p.Data.Name)
	assert.Equal(t, "", p.Data.Tool)
	assert.Equal(t, "false", p.Data.Delta)
	assert.Equal(t, "", p.Data.Text)
}

func TestAgentPayload_NonObjectData(t *testing.T) {
	var p AgentPayload
	require.NoError(t, json.Unmarshal([]byte(`{"runId":"r1","stream":"response","data":"oops"}`), &p))
	assert.Equal(t, "r1", p.RunID)
	assert.Equal(t, AgentData{}, p.Data)

	assert.Error(t, json.Unmarshal([]byte(`["not","an","object"]`), &p))
}

func TestAgentData_ContentKeptRaw(t *testing.T) {
	var d AgentData
	require.NoError(t, json.Unmarshal([]byte(`{"content":"abc"}`), &d))
	assert.Equal(t, "abc", d.ContentString())

	require.NoError(t, json.Unmarshal([]byte(`{"content":[{"type":"text"}]}`), &d))
	assert.JSONEq(t, `[{"type":"text"}]`, string(d.Content))

	require.NoError(t, json.Unmarshal([]byte(`{"content":null}`), &d))
	assert.Nil(t, d.Content)
}

func TestParseFrame_Invalid(t *testing.T) {
	_, err := ParseFrame([]byte(`{not json`))
	assert.Error(t, err)

	_, err = ParseFrame([]byte(`{"type":"bogus"}`))
	assert.Error(t, err)
}

func TestAgentParams_OmitsUnsetOptionalFields(t *testing.T) {
	data, err := json.Marshal(AgentParams{
		Message:        "hello",
		IdempotencyKey: "k",
		Thinking:       "medium",
		SessionKey:     "main",
	})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Len(t, fields, 4)
	assert.NotContains(t, fields, "agentId")
	assert.NotContains(t, fields, "timeout")
	assert.NotContains(t, fields, "extraSystemPrompt")
}

func TestConnectParams_EmptyTokenIsSerialized(t *testing.T) {
	data, err := json.Marshal(ConnectParams{Caps: []string{}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"auth":{"token":""}`)
	assert.Contains(t, string(data), `"caps":[]`)
}

func TestAgentData_ContentString(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"string", `"abc"`, "abc"},
		{"blocks", `[{"type":"text","text":"abc"}]`, ""},
		{"missing", ``, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := AgentData{Content: json.RawMessage(tt.content)}
			assert.Equal(t, tt.want, d.ContentString())
		})
	}
}

func TestNewRequest_NilParams(t *testing.T) {
	data, err := json.Marshal(NewRequest("1", MethodStatus, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"req","id":"1","method":"status","params":{}}`, string(data))
}
