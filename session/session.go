// Package session is the Peer Session: it turns a Peer Transport into
// an MCP peer by performing the handshake, caching capabilities, enforcing
// per-version gating through the catalog, and owning the reconnect policy.
// It generalizes gomcp's client lifecycle
// (client/lifecycle.go: Connect/initialize/Close) and notification fan-out
// (client/notifications.go) from a single always-negotiate-once client
// into a supervised, reconnecting state machine, and replaces gomcp's
// exponential client/backoff.go with a linear reconnectDelay*attempt
// policy.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcphost/runtime/catalog"
	"github.com/mcphost/runtime/hosterr"
	"github.com/mcphost/runtime/hosttypes"
	"github.com/mcphost/runtime/protocol"
	"github.com/mcphost/runtime/transport"
)

// Default timeout and reconnect-policy knobs; overridable via Option.
const (
	DefaultRequestDeadline     = 30 * time.Second
	DefaultReconnectBaseDelay  = 2 * time.Second
	DefaultMaxReconnectAttempt = 3
)

// EmitFunc publishes a (kind, payload) event. Sessions never call back into
// the Manager directly, to avoid a cyclic dependency; this is the only
// outward channel.
type EmitFunc func(kind string, payload interface{})

// Option configures a Session at construction time.
type Option func(*Session)

// WithRequestDeadline overrides the per-call deadline (default 30s).
func WithRequestDeadline(d time.Duration) Option {
	return func(s *Session) { s.requestDeadline = d }
}

// WithReconnectPolicy overrides the base delay and attempt bound.
func WithReconnectPolicy(baseDelay time.Duration, maxAttempts int) Option {
	return func(s *Session) {
		s.reconnectBaseDelay = baseDelay
		s.maxReconnectAttempts = maxAttempts
	}
}

// Session owns one peer's lifecycle atop a (possibly rebuilt) Transport.
type Session struct {
	id         string
	clientInfo protocol.ClientInfo
	catalog    *catalog.Catalog
	emit       EmitFunc

	requestDeadline       time.Duration
	reconnectBaseDelay    time.Duration
	maxReconnectAttempts  int

	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.RWMutex
	state            hosttypes.State
	lastError        string
	invocation       hosttypes.Invocation
	tr               *transport.Transport
	negotiatedVer    string
	negotiatedCaps   catalog.VersionDescriptor
	peerCapabilities protocol.Capabilities
	serverInfo       protocol.ClientInfo
	tools            map[string]protocol.Tool
	resources        map[string]protocol.Resource
	prompts          map[string]protocol.Prompt

	stopRequested atomic.Bool
	restartSeq    atomic.Int64
}

// New builds a Session in state stopped. Start must be called to spawn the
// peer and perform the handshake.
func New(id string, cat *catalog.Catalog, clientInfo protocol.ClientInfo, emit EmitFunc, opts ...Option) *Session {
	if emit == nil {
		emit = func(string, interface{}) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:                   id,
		clientInfo:           clientInfo,
		catalog:              cat,
		emit:                 emit,
		requestDeadline:      DefaultRequestDeadline,
		reconnectBaseDelay:   DefaultReconnectBaseDelay,
		maxReconnectAttempts: DefaultMaxReconnectAttempt,
		ctx:                  ctx,
		cancel:               cancel,
		state:                hosttypes.StateStopped,
		tools:                make(map[string]protocol.Tool),
		resources:            make(map[string]protocol.Resource),
		prompts:              make(map[string]protocol.Prompt),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the server id this Session is bound to.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() hosttypes.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st hosttypes.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) setLastError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}

// NegotiatedVersion returns the protocol version this Session's current
// handshake settled on, or "" if never connected.
func (s *Session) NegotiatedVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.negotiatedVer
}

// PID returns the child process id of the current Transport, or 0.
func (s *Session) PID() int {
	s.mu.RLock()
	tr := s.tr
	s.mu.RUnlock()
	if tr == nil || tr.ProcessPID() == 0 {
		return 0
	}
	return tr.ProcessPID()
}

// Start spawns the peer process and performs the handshake, iterating
// through fallback versions on failure. It transitions stopped -> starting
// -> running, or starting -> error on handshake failure.
func (s *Session) Start(ctx context.Context, inv hosttypes.Invocation) error {
	if s.State() == hosttypes.StateRunning {
		return nil
	}

	s.stopRequested.Store(false)
	s.mu.Lock()
	s.invocation = inv.Clone()
	s.mu.Unlock()
	s.setState(hosttypes.StateStarting)

	tr, err := s.connectAndHandshake(ctx)
	if err != nil {
		s.setState(hosttypes.StateError)
		s.setLastError(err.Error())
		return err
	}

	s.mu.Lock()
	s.tr = tr
	s.mu.Unlock()
	s.setState(hosttypes.StateRunning)
	s.emit(hosttypes.EventClientConnected, map[string]interface{}{
		"serverID":        s.id,
		"protocolVersion": s.NegotiatedVersion(),
		"serverInfo":      s.serverInfoSnapshot(),
	})

	go s.monitor(tr, s.restartSeq.Load())
	s.discoverCapabilities(ctx)
	return nil
}

func (s *Session) serverInfoSnapshot() protocol.ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverInfo
}

// connectAndHandshake spawns a fresh Transport and performs the handshake
// (primary attempt, then fallback through supportedVersions()).
func (s *Session) connectAndHandshake(ctx context.Context) (*transport.Transport, error) {
	preferred := s.catalog.Preferred()

	tr := transport.New(s.handleNotification, s.handleTransportEvent)
	s.mu.Lock()
	inv := s.invocation
	s.mu.Unlock()
	if err := tr.Spawn(ctx, inv); err != nil {
		return nil, hosterr.NewHandshakeFailure(s.id, "spawn failed", err)
	}

	if err := s.handshakeOnce(ctx, tr, preferred); err == nil {
		return tr, nil
	}

	for _, v := range s.catalog.SupportedVersions() {
		if v == preferred {
			continue
		}
		s.emit(hosttypes.EventVersionFallbackAttempt, map[string]interface{}{"serverID": s.id, "version": v})
		if err := s.handshakeOnce(ctx, tr, v); err == nil {
			s.emit(hosttypes.EventVersionFallbackSuccess, map[string]interface{}{"serverID": s.id, "version": v})
			return tr, nil
		}
	}

	_ = tr.Close()
	return nil, hosterr.NewHandshakeFailure(s.id, "no version could be negotiated with this peer", nil)
}

// initializeProbe models the duck-typed shape of an initialize response:
// different peers populate different subsets of these fields.
type initializeProbe struct {
	ProtocolVersion string `json:"protocolVersion"`
	Capabilities    struct {
		ProtocolVersions []string               `json:"protocolVersions"`
		Tools            map[string]interface{} `json:"tools"`
		Resources        map[string]interface{} `json:"resources"`
		Prompts          map[string]interface{} `json:"prompts"`
		Sampling         map[string]interface{} `json:"sampling"`
		Roots            map[string]interface{} `json:"roots"`
		Notifications    map[string]interface{} `json:"notifications"`
		Progress         map[string]interface{} `json:"progress"`
		Cancellation     map[string]interface{} `json:"cancellation"`
	} `json:"capabilities"`
	ServerInfo protocol.ClientInfo `json:"serverInfo"`
}

func (probe initializeProbe) toCapabilities() protocol.Capabilities {
	return protocol.Capabilities{
		Tools: probe.Capabilities.Tools, Resources: probe.Capabilities.Resources,
		Prompts: probe.Capabilities.Prompts, Sampling: probe.Capabilities.Sampling,
		Roots: probe.Capabilities.Roots, Notifications: probe.Capabilities.Notifications,
		Progress: probe.Capabilities.Progress, Cancellation: probe.Capabilities.Cancellation,
	}
}

// sendInitialize performs one initialize round-trip for the given version
// and returns the peer's claimed version plus its parsed response.
func (s *Session) sendInitialize(ctx context.Context, tr *transport.Transport, version string) (string, initializeProbe, error) {
	params, err := s.catalog.BuildInitializeParams(version, s.clientInfo)
	if err != nil {
		return "", initializeProbe{}, err
	}

	req := protocol.NewRequest(1, protocol.MethodInitialize, params)
	validation := s.catalog.ValidateMessage(req, version)
	for _, w := range validation.Warnings {
		s.emit(hosttypes.EventVersionWarning, map[string]interface{}{"serverID": s.id, "warning": w})
	}
	if !validation.OK {
		return "", initializeProbe{}, hosterr.NewValidationError(fmt.Sprintf("initialize message invalid: %v", validation.Errors))
	}

	result, err := tr.Call(ctx, protocol.MethodInitialize, params, s.requestDeadline)
	if err != nil {
		return "", initializeProbe{}, err
	}

	var probe initializeProbe
	if err := protocol.DecodePayload(result, &probe); err != nil {
		return "", initializeProbe{}, err
	}

	claimed := probe.ProtocolVersion
	if claimed == "" && len(probe.Capabilities.ProtocolVersions) > 0 {
		claimed = probe.Capabilities.ProtocolVersions[0]
	}
	if claimed == "" {
		claimed = version
	}
	return claimed, probe, nil
}

// handshakeOnce drives one full handshake attempt starting from
// attemptVersion: initialize, negotiate, re-initialize on mismatch, then
// the initialized notification.
func (s *Session) handshakeOnce(ctx context.Context, tr *transport.Transport, attemptVersion string) error {
	claimed, probe, err := s.sendInitialize(ctx, tr, attemptVersion)
	if err != nil {
		return err
	}

	neg, err := s.catalog.Negotiate([]string{claimed})
	if err != nil {
		s.emit(hosttypes.EventVersionNegotiationError, map[string]interface{}{"serverID": s.id, "claimed": claimed})
		return err
	}
	s.emit(hosttypes.EventVersionNegotiated, map[string]interface{}{
		"serverID": s.id, "version": neg.Version, "backwardCompatible": neg.IsBackwardCompatible,
	})

	if neg.Version != attemptVersion {
		_, probe2, err := s.sendInitialize(ctx, tr, neg.Version)
		if err != nil {
			return err
		}
		probe = probe2
	}

	if err := tr.Notify(protocol.MethodInitialized, nil); err != nil {
		return err
	}

	s.mu.Lock()
	s.negotiatedVer = neg.Version
	s.negotiatedCaps = neg.Capabilities
	s.peerCapabilities = probe.toCapabilities()
	s.serverInfo = probe.ServerInfo
	s.mu.Unlock()
	return nil
}

// discoverCapabilities issues tools/list, resources/list, prompts/list for
// every category enabled by both the negotiated version and the peer's
// declared capabilities. Failures are warnings, not fatal.
func (s *Session) discoverCapabilities(ctx context.Context) {
	s.mu.RLock()
	negotiated := s.negotiatedCaps
	peerCaps := s.peerCapabilities
	s.mu.RUnlock()

	if negotiated.HasFeature(catalog.FeatureTools) && peerCaps.Has("tools") {
		if err := s.refreshTools(ctx); err != nil {
			s.emit(hosttypes.EventVersionWarning, map[string]interface{}{"serverID": s.id, "warning": "tools/list discovery failed: " + err.Error()})
		}
	}
	if negotiated.HasFeature(catalog.FeatureResources) && peerCaps.Has("resources") {
		if err := s.refreshResources(ctx); err != nil {
			s.emit(hosttypes.EventVersionWarning, map[string]interface{}{"serverID": s.id, "warning": "resources/list discovery failed: " + err.Error()})
		}
	}
	if negotiated.HasFeature(catalog.FeaturePrompts) && peerCaps.Has("prompts") {
		if err := s.refreshPrompts(ctx); err != nil {
			s.emit(hosttypes.EventVersionWarning, map[string]interface{}{"serverID": s.id, "warning": "prompts/list discovery failed: " + err.Error()})
		}
	}
}

func (s *Session) currentTransport() (*transport.Transport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != hosttypes.StateRunning || s.tr == nil {
		return nil, hosterr.NewNotConnectedError(s.id, string(s.state))
	}
	return s.tr, nil
}

func (s *Session) refreshTools(ctx context.Context) error {
	tr, err := s.currentTransport()
	if err != nil {
		return err
	}
	result, err := tr.Call(ctx, protocol.MethodListTools, nil, s.requestDeadline)
	if err != nil {
		return err
	}
	var payload struct {
		Tools []protocol.Tool `json:"tools"`
	}
	if err := protocol.DecodePayload(result, &payload); err != nil {
		return err
	}
	tools := make(map[string]protocol.Tool, len(payload.Tools))
	for _, t := range payload.Tools {
		tools[t.Name] = t
	}
	s.mu.Lock()
	s.tools = tools
	s.mu.Unlock()
	return nil
}

func (s *Session) refreshResources(ctx context.Context) error {
	tr, err := s.currentTransport()
	if err != nil {
		return err
	}
	result, err := tr.Call(ctx, protocol.MethodListResources, nil, s.requestDeadline)
	if err != nil {
		return err
	}
	var payload struct {
		Resources []protocol.Resource `json:"resources"`
	}
	if err := protocol.DecodePayload(result, &payload); err != nil {
		return err
	}
	resources := make(map[string]protocol.Resource, len(payload.Resources))
	for _, r := range payload.Resources {
		resources[r.URI] = r
	}
	s.mu.Lock()
	s.resources = resources
	s.mu.Unlock()
	return nil
}

func (s *Session) refreshPrompts(ctx context.Context) error {
	tr, err := s.currentTransport()
	if err != nil {
		return err
	}
	result, err := tr.Call(ctx, protocol.MethodListPrompts, nil, s.requestDeadline)
	if err != nil {
		return err
	}
	var payload struct {
		Prompts []protocol.Prompt `json:"prompts"`
	}
	if err := protocol.DecodePayload(result, &payload); err != nil {
		return err
	}
	prompts := make(map[string]protocol.Prompt, len(payload.Prompts))
	for _, p := range payload.Prompts {
		prompts[p.Name] = p
	}
	s.mu.Lock()
	s.prompts = prompts
	s.mu.Unlock()
	return nil
}

// ListTools returns the cached tool list, refreshing it first.
func (s *Session) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	if _, err := s.currentTransport(); err != nil {
		return nil, err
	}
	if err := s.refreshTools(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.Tool, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t)
	}
	return out, nil
}

// CallTool validates, refreshes the tool cache if name is unknown, and
// invokes tools/call.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	tr, err := s.currentTransport()
	if err != nil {
		return nil, err
	}
	if !s.hasTool(name) {
		if err := s.refreshTools(ctx); err != nil {
			return nil, err
		}
		if !s.hasTool(name) {
			return nil, hosterr.NewNotFoundError("tool", name)
		}
	}

	params := map[string]interface{}{"name": name, "arguments": args}
	result, err := tr.Call(ctx, protocol.MethodCallTool, params, s.requestDeadline)
	if err != nil {
		return nil, err
	}
	s.emit(hosttypes.EventToolCalled, map[string]interface{}{"serverID": s.id, "tool": name})
	return result, nil
}

func (s *Session) hasTool(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tools[name]
	return ok
}

// ListResources returns the cached resource list, refreshing it first.
func (s *Session) ListResources(ctx context.Context) ([]protocol.Resource, error) {
	if _, err := s.currentTransport(); err != nil {
		return nil, err
	}
	if err := s.refreshResources(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.Resource, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, r)
	}
	return out, nil
}

// ReadResource reads a resource by URI, refreshing the cache if it is
// unknown.
func (s *Session) ReadResource(ctx context.Context, uri string) (interface{}, error) {
	tr, err := s.currentTransport()
	if err != nil {
		return nil, err
	}
	if !s.hasResource(uri) {
		if err := s.refreshResources(ctx); err != nil {
			return nil, err
		}
		if !s.hasResource(uri) {
			return nil, hosterr.NewNotFoundError("resource", uri)
		}
	}

	result, err := tr.Call(ctx, protocol.MethodReadResource, map[string]interface{}{"uri": uri}, s.requestDeadline)
	if err != nil {
		return nil, err
	}
	s.emit(hosttypes.EventResourceRead, map[string]interface{}{"serverID": s.id, "uri": uri})
	return result, nil
}

func (s *Session) hasResource(uri string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.resources[uri]
	return ok
}

// ListPrompts returns the cached prompt list, refreshing it first.
func (s *Session) ListPrompts(ctx context.Context) ([]protocol.Prompt, error) {
	if _, err := s.currentTransport(); err != nil {
		return nil, err
	}
	if err := s.refreshPrompts(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.Prompt, 0, len(s.prompts))
	for _, p := range s.prompts {
		out = append(out, p)
	}
	return out, nil
}

// GetPrompt retrieves a prompt by name, refreshing the cache if it is
// unknown.
func (s *Session) GetPrompt(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	tr, err := s.currentTransport()
	if err != nil {
		return nil, err
	}
	if !s.hasPrompt(name) {
		if err := s.refreshPrompts(ctx); err != nil {
			return nil, err
		}
		if !s.hasPrompt(name) {
			return nil, hosterr.NewNotFoundError("prompt", name)
		}
	}

	params := map[string]interface{}{"name": name, "arguments": args}
	result, err := tr.Call(ctx, protocol.MethodGetPrompt, params, s.requestDeadline)
	if err != nil {
		return nil, err
	}
	s.emit(hosttypes.EventPromptRetrieved, map[string]interface{}{"serverID": s.id, "prompt": name})
	return result, nil
}

func (s *Session) hasPrompt(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.prompts[name]
	return ok
}

// handleNotification forwards typed list_changed events when the
// negotiated version declares the notifications capability; otherwise it
// forwards unknown notifications generically.
func (s *Session) handleNotification(raw []byte, env protocol.Envelope) {
	s.mu.RLock()
	hasNotifications := s.negotiatedCaps.HasFeature(catalog.FeatureNotifications)
	s.mu.RUnlock()

	switch env.Method {
	case protocol.MethodNotifyToolsListChanged:
		if hasNotifications {
			s.emit("tools.listChanged", map[string]interface{}{"serverID": s.id})
		}
	case protocol.MethodNotifyResourcesListChanged:
		if hasNotifications {
			s.emit("resources.listChanged", map[string]interface{}{"serverID": s.id})
		}
	case protocol.MethodNotifyPromptsListChanged:
		if hasNotifications {
			s.emit("prompts.listChanged", map[string]interface{}{"serverID": s.id})
		}
	default:
		s.emit("peerNotification", map[string]interface{}{"serverID": s.id, "method": env.Method, "raw": string(raw)})
	}
}

// handleTransportEvent relays nonJsonOutput/stderrOutput straight through
// to the host's event stream.
func (s *Session) handleTransportEvent(evt hosttypes.Event) {
	s.emit(evt.Kind, evt.Payload)
}

// monitor watches a Transport for process exit and decides whether to
// latch an error, settle into stopped, or begin the reconnect policy. seq
// guards against a stale monitor (bound to a transport that has since been
// replaced by a manual restart) acting after the fact.
func (s *Session) monitor(tr *transport.Transport, seq int64) {
	<-tr.Done()
	if s.stopRequested.Load() || s.restartSeq.Load() != seq {
		return
	}

	info := tr.ExitInfo()
	switch {
	case info.ReconnectEligible:
		s.setLastError(fmt.Sprintf("peer exited (code=%d)", info.Code))
		s.emit(hosttypes.EventClientError, map[string]interface{}{"serverID": s.id, "code": info.Code})
		s.reconnectLoop(seq)
	case info.SawFatalStderr:
		s.setState(hosttypes.StateError)
		s.setLastError("peer exited after a fatal stderr line")
		s.emit(hosttypes.EventClientError, map[string]interface{}{"serverID": s.id, "code": info.Code})
	default:
		s.setState(hosttypes.StateStopped)
		s.emit(hosttypes.EventClientDisconnected, map[string]interface{}{"serverID": s.id, "code": info.Code})
	}
}

// reconnectLoop implements the linear back-off policy: wait
// reconnectDelay*attempt, then rebuild the Transport and repeat the
// handshake, up to maxReconnectAttempts.
func (s *Session) reconnectLoop(seq int64) {
	for attempt := 1; attempt <= s.maxReconnectAttempts; attempt++ {
		s.setState(hosttypes.StateReconnecting)
		s.emit(hosttypes.EventClientReconnecting, map[string]interface{}{"serverID": s.id, "attempt": attempt})

		delay := s.reconnectBaseDelay * time.Duration(attempt)
		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			return
		}

		if s.restartSeq.Load() != seq || s.State() == hosttypes.StateRunning {
			// A manual restart raced with us and already won.
			return
		}

		s.setState(hosttypes.StateStarting)
		tr, err := s.connectAndHandshake(s.ctx)
		if err != nil {
			s.setLastError(err.Error())
			continue
		}

		newSeq := s.restartSeq.Add(1)
		s.mu.Lock()
		s.tr = tr
		s.mu.Unlock()
		s.setState(hosttypes.StateRunning)
		s.emit(hosttypes.EventClientConnected, map[string]interface{}{"serverID": s.id, "protocolVersion": s.NegotiatedVersion()})
		go s.monitor(tr, newSeq)
		s.discoverCapabilities(s.ctx)
		return
	}
	s.setState(hosttypes.StateError)
	s.setLastError("exhausted reconnect attempts")
}

// Stop closes the Transport and transitions to stopped. It is idempotent.
func (s *Session) Stop(ctx context.Context) error {
	s.stopRequested.Store(true)
	s.restartSeq.Add(1)

	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()

	if tr == nil {
		s.setState(hosttypes.StateStopped)
		return nil
	}

	s.setState(hosttypes.StateStopping)
	err := tr.Close()
	s.setState(hosttypes.StateStopped)
	s.emit(hosttypes.EventClientDisconnected, map[string]interface{}{"serverID": s.id})
	return err
}

// Dispose stops the Session and cancels its background context.
func (s *Session) Dispose(ctx context.Context) error {
	err := s.Stop(ctx)
	s.cancel()
	return err
}
