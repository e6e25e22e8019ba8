package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeClassification(t *testing.T) {
	cases := []struct {
		name         string
		line         string
		isRequest    bool
		isResponse   bool
		isNotification bool
	}{
		{
			name:       "response",
			line:       `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`,
			isResponse: true,
		},
		{
			name:           "notification",
			line:           `{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`,
			isNotification: true,
		},
		{
			name:      "peer initiated request",
			line:      `{"jsonrpc":"2.0","id":"srv-1","method":"sampling/createMessage","params":{}}`,
			isRequest: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var env Envelope
			require.NoError(t, json.Unmarshal([]byte(tc.line), &env))
			assert.Equal(t, tc.isRequest, env.IsRequest())
			assert.Equal(t, tc.isResponse, env.IsResponse())
			assert.Equal(t, tc.isNotification, env.IsNotification())
		})
	}
}

func TestNewRequestAndNotification(t *testing.T) {
	req := NewRequest(1, MethodInitialize, map[string]string{"a": "b"})
	assert.Equal(t, "2.0", req.JSONRPC)
	assert.Equal(t, MethodInitialize, req.Method)
	assert.EqualValues(t, 1, req.ID)

	note := NewNotification(MethodInitialized, nil)
	assert.Equal(t, "2.0", note.JSONRPC)
	assert.Equal(t, MethodInitialized, note.Method)
	assert.Nil(t, note.Params)
}

func TestNewSuccessAndErrorResponse(t *testing.T) {
	ok := NewSuccessResponse(1, map[string]int{"x": 1})
	assert.Nil(t, ok.Error)
	assert.NotNil(t, ok.Result)

	failed := NewErrorResponse(1, CodeMethodNotFound, "no such method", nil)
	require.NotNil(t, failed.Error)
	assert.Equal(t, CodeMethodNotFound, failed.Error.Code)
	assert.Equal(t, "no such method", failed.Error.Message)
}

func TestDecodePayload(t *testing.T) {
	type result struct {
		Tools []Tool `json:"tools"`
	}

	raw := json.RawMessage(`{"tools":[{"name":"echo"}]}`)
	var r result
	require.NoError(t, DecodePayload(raw, &r))
	require.Len(t, r.Tools, 1)
	assert.Equal(t, "echo", r.Tools[0].Name)

	var generic map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &generic))
	var r2 result
	require.NoError(t, DecodePayload(generic, &r2))
	require.Len(t, r2.Tools, 1)

	assert.Error(t, DecodePayload(nil, &r))
	assert.Error(t, DecodePayload(json.RawMessage(`null`), &r))
}

func TestMethodCategory(t *testing.T) {
	assert.Equal(t, "tools", MethodCategory(MethodListTools))
	assert.Equal(t, "tools", MethodCategory(MethodCallTool))
	assert.Equal(t, "", MethodCategory(MethodInitialize))
	assert.Equal(t, "", MethodCategory(MethodInitialized))
}

func TestCapabilitiesHas(t *testing.T) {
	caps := Capabilities{Tools: map[string]any{"listChanged": true}}
	assert.True(t, caps.Has("tools"))
	assert.False(t, caps.Has("resources"))
	assert.False(t, caps.Has("unknown"))
}

func TestPeerError(t *testing.T) {
	payload := &ErrorPayload{Code: CodeToolNotFound, Message: "tool missing"}
	err := NewPeerError(MethodCallTool, payload)
	assert.Contains(t, err.Error(), "tools/call")
	assert.Contains(t, err.Error(), "tool missing")
}
