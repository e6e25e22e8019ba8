package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcphost/runtime/catalog"
	"github.com/mcphost/runtime/hosterr"
	"github.com/mcphost/runtime/hosttypes"
	"github.com/mcphost/runtime/protocol"
)

// echoPeerScript is a POSIX-shell stand-in for a minimal MCP peer: it
// negotiates 2024-11-05, exposes a single "echo" tool, and echoes back
// whatever message it is called with.
const echoPeerScript = `
while IFS= read -r line; do
  case "$line" in
    *'"method":"initialize"'*)
      id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
      printf '{"jsonrpc":"2.0","id":%s,"result":{"protocolVersion":"2024-11-05","capabilities":{"tools":{},"resources":{},"prompts":{}},"serverInfo":{"name":"fake-peer","version":"1.0"}}}\n' "$id"
      ;;
    *'"method":"tools/list"'*)
      id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
      printf '{"jsonrpc":"2.0","id":%s,"result":{"tools":[{"name":"echo","inputSchema":{"type":"object"}}]}}\n' "$id"
      ;;
    *'"method":"tools/call"'*)
      id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
      msg=$(printf '%s' "$line" | sed -n 's/.*"message":"\([^"]*\)".*/\1/p')
      printf '{"jsonrpc":"2.0","id":%s,"result":{"content":[{"type":"text","text":"%s"}]}}\n' "$id" "$msg"
      ;;
    *)
      ;;
  esac
done
`

func echoPeerInvocation() hosttypes.Invocation {
	return hosttypes.Invocation{Command: "sh", Args: []string{"-c", echoPeerScript}}
}

func collectEvents() (EmitFunc, func() []hosttypes.Event) {
	var mu sync.Mutex
	var events []hosttypes.Event
	emit := func(kind string, payload interface{}) {
		mu.Lock()
		events = append(events, hosttypes.Event{Kind: kind, Payload: payload})
		mu.Unlock()
	}
	snapshot := func() []hosttypes.Event {
		mu.Lock()
		defer mu.Unlock()
		out := make([]hosttypes.Event, len(events))
		copy(out, events)
		return out
	}
	return emit, snapshot
}

func hasEventKind(events []hosttypes.Event, kind string) bool {
	for _, e := range events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func TestSessionHappyPathEchoTool(t *testing.T) {
	emit, snapshot := collectEvents()
	s := New("echo-server", catalog.New(), protocol.ClientInfo{Name: "mcphostd", Version: "test"}, emit)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx, echoPeerInvocation()))
	defer s.Stop(ctx)

	require.Eventually(t, func() bool { return s.State() == hosttypes.StateRunning }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "2024-11-05", s.NegotiatedVersion())

	tools, err := s.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)

	result, err := s.CallTool(ctx, "echo", map[string]interface{}{"message": "hi"})
	require.NoError(t, err)
	assert.Contains(t, toJSONish(result), "hi")

	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, hosttypes.StateStopped, s.State())

	events := snapshot()
	assert.True(t, hasEventKind(events, hosttypes.EventClientConnected))
	assert.True(t, hasEventKind(events, hosttypes.EventToolCalled))
	assert.True(t, hasEventKind(events, hosttypes.EventClientDisconnected))
}

func toJSONish(v interface{}) string {
	var sb strings.Builder
	sb.WriteString("")
	switch t := v.(type) {
	case string:
		return t
	default:
		return stringifyDeep(t, &sb)
	}
}

func stringifyDeep(v interface{}, sb *strings.Builder) string {
	switch t := v.(type) {
	case map[string]interface{}:
		for _, vv := range t {
			sb.WriteString(stringifyDeep(vv, sb))
		}
	case []interface{}:
		for _, vv := range t {
			sb.WriteString(stringifyDeep(vv, sb))
		}
	case string:
		sb.WriteString(t)
	}
	return sb.String()
}

func TestSessionOperationsFailNotConnectedBeforeStart(t *testing.T) {
	emit, _ := collectEvents()
	s := New("echo-server", catalog.New(), protocol.ClientInfo{Name: "mcphostd", Version: "test"}, emit)

	_, err := s.ListTools(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, hosterr.ErrNotConnected)
}

func TestSessionCallToolNotFound(t *testing.T) {
	emit, _ := collectEvents()
	s := New("echo-server", catalog.New(), protocol.ClientInfo{Name: "mcphostd", Version: "test"}, emit)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, echoPeerInvocation()))
	defer s.Stop(ctx)

	require.Eventually(t, func() bool { return s.State() == hosttypes.StateRunning }, 2*time.Second, 10*time.Millisecond)

	_, err := s.CallTool(ctx, "does-not-exist", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, hosterr.ErrNotFound)
}

func TestSessionStartIsIdempotentWhileRunning(t *testing.T) {
	emit, _ := collectEvents()
	s := New("echo-server", catalog.New(), protocol.ClientInfo{Name: "mcphostd", Version: "test"}, emit)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, echoPeerInvocation()))
	defer s.Stop(ctx)

	require.Eventually(t, func() bool { return s.State() == hosttypes.StateRunning }, 2*time.Second, 10*time.Millisecond)
	pid := s.PID()

	require.NoError(t, s.Start(ctx, echoPeerInvocation()))
	assert.Equal(t, pid, s.PID())
}
