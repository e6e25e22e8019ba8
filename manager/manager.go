// Package manager is the orchestrating half of the Server Registry &
// Manager: it owns the set of live Peer Sessions, drives install/
// start/stop/restart/health through the Registry and the Installer, and
// republishes every Session and Installer event onto its own
// hostevents.Bus. It generalizes gomcp's per-method handler-slice
// fan-out (client/notifications.go) into the bounded-channel bus the host
// UI subscribes to, and keeps the Session -> Manager relationship strictly
// one-directional: a Session only ever calls its EmitFunc, never a Manager
// method, so there is no synchronous callback cycle.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcphost/runtime/catalog"
	"github.com/mcphost/runtime/hosterr"
	"github.com/mcphost/runtime/hostevents"
	"github.com/mcphost/runtime/hosttypes"
	"github.com/mcphost/runtime/installer"
	"github.com/mcphost/runtime/protocol"
	"github.com/mcphost/runtime/registry"
	"github.com/mcphost/runtime/session"
)

// restartPause is the fixed delay between stop and start in Restart.
const restartPause = 1 * time.Second

// InstallOptions is an alias for the options type package installer
// defines; kept as a Manager-local name since this is the public surface
// callers of Manager.Install use.
type InstallOptions = installer.InstallOptions

// EmitFunc is an alias for installer.EmitFunc, the same (kind, payload)
// shape Session uses.
type EmitFunc = installer.EmitFunc

// Installer is the seam package installer implements. Defined here, not in
// package installer, the way gomcp defines ClientTransport beside its
// consumer rather than beside transport_stdio.go.
type Installer interface {
	Install(ctx context.Context, url string, opts InstallOptions, emit EmitFunc) (hosttypes.ServerRecord, error)
	Remove(ctx context.Context, rec hosttypes.ServerRecord, emit EmitFunc) error
}

// CacheClearer is an optional Installer capability; ClearCache is a no-op
// when the configured Installer doesn't implement it.
type CacheClearer interface {
	ClearCache() error
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithSessionOptions forwards options to every Session the Manager
// constructs (request deadline, reconnect policy).
func WithSessionOptions(opts ...session.Option) Option {
	return func(m *Manager) { m.sessionOpts = append(m.sessionOpts, opts...) }
}

// Manager owns the live Sessions for every registered server.
type Manager struct {
	reg        *registry.Registry
	bus        *hostevents.Bus
	cat        *catalog.Catalog
	clientInfo protocol.ClientInfo
	installer  Installer

	sessionOpts []session.Option

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// New builds a Manager. bus may be nil, in which case events are dropped.
func New(reg *registry.Registry, bus *hostevents.Bus, cat *catalog.Catalog, clientInfo protocol.ClientInfo, inst Installer, opts ...Option) *Manager {
	m := &Manager{
		reg:        reg,
		bus:        bus,
		cat:        cat,
		clientInfo: clientInfo,
		installer:  inst,
		sessions:   make(map[string]*session.Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) emit(kind string, payload interface{}) {
	if m.bus != nil {
		m.bus.Emit(kind, payload)
	}
}

// Install delegates to the Installer, registers the resulting record
// (overwrite refused by default — uninstall first), and starts it when
// opts.AutoStart is set.
func (m *Manager) Install(ctx context.Context, url string, opts InstallOptions) (hosttypes.ServerRecord, error) {
	rec, err := m.installer.Install(ctx, url, opts, m.emit)
	if err != nil {
		return hosttypes.ServerRecord{}, err
	}
	if err := m.reg.AddOrReplace(rec, false); err != nil {
		return hosttypes.ServerRecord{}, err
	}
	m.emit(hosttypes.EventServerInstalled, rec)

	if opts.AutoStart {
		if err := m.Start(ctx, rec.ID); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// Start is idempotent if the server is already running; otherwise it tears
// down any stale Session, constructs a fresh one, and performs the
// handshake.
func (m *Manager) Start(ctx context.Context, id string) error {
	rec, ok := m.reg.Get(id)
	if !ok {
		return hosterr.NewRegistryError(id, "server not found", nil)
	}

	m.mu.Lock()
	existing, exists := m.sessions[id]
	m.mu.Unlock()

	if exists && existing.State() == hosttypes.StateRunning {
		return nil
	}
	if exists {
		_ = existing.Dispose(ctx)
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
	}

	if _, err := m.reg.SetStatus(id, hosttypes.StateStarting, registry.StatusDetails{}); err != nil {
		return err
	}
	m.emit(hosttypes.EventServerStarting, map[string]interface{}{"serverID": id})

	sess := session.New(id, m.cat, m.clientInfo, session.EmitFunc(m.emit), m.sessionOpts...)
	if err := sess.Start(ctx, rec.Invocation); err != nil {
		_, _ = m.reg.SetStatus(id, hosttypes.StateError, registry.StatusDetails{LastError: err.Error()})
		return err
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	_, err := m.reg.SetStatus(id, hosttypes.StateRunning, registry.StatusDetails{
		ProtocolVersion: sess.NegotiatedVersion(),
		PID:             sess.PID(),
	})
	if err != nil {
		return err
	}
	m.emit(hosttypes.EventServerStarted, map[string]interface{}{"serverID": id, "pid": sess.PID()})
	return nil
}

// Stop closes the Session (if any) and records stopped.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	m.emit(hosttypes.EventServerStopping, map[string]interface{}{"serverID": id})

	var stopErr error
	if ok {
		stopErr = sess.Stop(ctx)
	}

	if _, err := m.reg.SetStatus(id, hosttypes.StateStopped, registry.StatusDetails{}); err != nil && stopErr == nil {
		stopErr = err
	}
	m.emit(hosttypes.EventServerStopped, map[string]interface{}{"serverID": id})
	return stopErr
}

// Restart stops (if live), pauses, starts again, and bumps restartCount.
func (m *Manager) Restart(ctx context.Context, id string) error {
	m.mu.Lock()
	_, running := m.sessions[id]
	m.mu.Unlock()

	if running {
		if err := m.Stop(ctx, id); err != nil {
			m.emit(hosttypes.EventServerRestartFailed, map[string]interface{}{"serverID": id, "error": err.Error()})
			return err
		}
	}

	select {
	case <-time.After(restartPause):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := m.Start(ctx, id); err != nil {
		m.emit(hosttypes.EventServerRestartFailed, map[string]interface{}{"serverID": id, "error": err.Error()})
		return err
	}
	return m.reg.IncrementRestartCount(id)
}

// Uninstall stops the server if running, asks the Installer to remove its
// files, then removes it from the Registry.
func (m *Manager) Uninstall(ctx context.Context, id string) error {
	rec, ok := m.reg.Get(id)
	if !ok {
		return hosterr.NewRegistryError(id, "server not found", nil)
	}

	m.mu.Lock()
	_, running := m.sessions[id]
	m.mu.Unlock()
	if running {
		if err := m.Stop(ctx, id); err != nil {
			return err
		}
	}

	if err := m.installer.Remove(ctx, rec, m.emit); err != nil {
		return err
	}
	if err := m.reg.Remove(id); err != nil {
		return err
	}
	m.emit(hosttypes.EventServerUninstalled, map[string]interface{}{"serverID": id})
	return nil
}

// Update stops the server if running and reinstalls from its recorded
// installURL, preserving id.
func (m *Manager) Update(ctx context.Context, id string, opts InstallOptions) error {
	rec, ok := m.reg.Get(id)
	if !ok {
		return hosterr.NewRegistryError(id, "server not found", nil)
	}

	m.mu.Lock()
	_, running := m.sessions[id]
	m.mu.Unlock()
	if running {
		if err := m.Stop(ctx, id); err != nil {
			return err
		}
	}

	newRec, err := m.installer.Install(ctx, rec.InstallURL, opts, m.emit)
	if err != nil {
		return err
	}
	newRec.ID = id
	return m.reg.AddOrReplace(newRec, true)
}

// List returns every registered server record.
func (m *Manager) List() []hosttypes.ServerRecord { return m.reg.List() }

// Status returns the ServerStatus for id.
func (m *Manager) Status(id string) (hosttypes.ServerStatus, bool) { return m.reg.Status(id) }

// GetClient returns the live Session for id, if one is running.
func (m *Manager) GetClient(id string) (*session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// StartAutoStartServers starts every record with Metadata.AutoStart set,
// returning the per-id outcome.
func (m *Manager) StartAutoStartServers(ctx context.Context) map[string]error {
	outcomes := make(map[string]error)
	for _, rec := range m.reg.List() {
		if !rec.Metadata.AutoStart {
			continue
		}
		outcomes[rec.ID] = m.Start(ctx, rec.ID)
	}
	return outcomes
}

// StopAll stops every currently running server.
func (m *Manager) StopAll(ctx context.Context) map[string]error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	outcomes := make(map[string]error, len(ids))
	for _, id := range ids {
		outcomes[id] = m.Stop(ctx, id)
	}
	return outcomes
}

// Health issues a listTools probe against the running Session for id; a
// success means healthy. The result is recorded on ServerStatus via
// Registry.SetHealthResult.
func (m *Manager) Health(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok || sess.State() != hosttypes.StateRunning {
		err := hosterr.NewNotConnectedError(id, "not running")
		_, _ = m.reg.SetHealthResult(id, false)
		return false, err
	}

	if _, err := sess.ListTools(ctx); err != nil {
		_, _ = m.reg.SetHealthResult(id, false)
		return false, fmt.Errorf("health probe failed: %w", err)
	}
	_, err := m.reg.SetHealthResult(id, true)
	return true, err
}

// ClearCache asks the Installer to drop its cache, if it supports that.
func (m *Manager) ClearCache() error {
	if cc, ok := m.installer.(CacheClearer); ok {
		return cc.ClearCache()
	}
	return nil
}

// Dispose stops every Session and drops them from the Manager.
func (m *Manager) Dispose(ctx context.Context) {
	m.StopAll(ctx)
}
