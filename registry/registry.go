// Package registry is the persistent half of the Server Registry & Manager:
// a mapping from server id to ServerRecord, mirrored atomically to a
// store.KVStore on every mutation, plus the associated ServerStatus table.
// It follows gomcp's mutex-guarded-map-of-structs shape
// (server/registry.go's Registry) but replaces in-place mutation with
// copy-on-write value records, since ServerRecord/ServerStatus here must
// never be observed half-written by a concurrent reader.
package registry

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcphost/runtime/hosterr"
	"github.com/mcphost/runtime/hostevents"
	"github.com/mcphost/runtime/hosttypes"
	"github.com/mcphost/runtime/store"
)

const (
	serversKey = "mcpServers"
	statusKey  = "mcpServerStatus"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Registry owns the durable ServerRecord map and the volatile
// ServerStatus map, keeping both mirrored to a KVStore.
type Registry struct {
	mu       sync.RWMutex
	records  map[string]hosttypes.ServerRecord
	statuses map[string]hosttypes.ServerStatus
	kv       store.KVStore
	bus      *hostevents.Bus
}

// New builds a Registry backed by kv, loading any previously persisted
// state. bus may be nil, in which case mutations are silent.
func New(kv store.KVStore, bus *hostevents.Bus) (*Registry, error) {
	r := &Registry{
		records:  make(map[string]hosttypes.ServerRecord),
		statuses: make(map[string]hosttypes.ServerStatus),
		kv:       kv,
		bus:      bus,
	}
	if _, err := kv.Get(serversKey, &r.records); err != nil {
		return nil, hosterr.NewRegistryError("", "load persisted servers", err)
	}
	if r.records == nil {
		r.records = make(map[string]hosttypes.ServerRecord)
	}
	if _, err := kv.Get(statusKey, &r.statuses); err != nil {
		return nil, hosterr.NewRegistryError("", "load persisted status", err)
	}
	if r.statuses == nil {
		r.statuses = make(map[string]hosttypes.ServerStatus)
	}
	return r, nil
}

func (r *Registry) emit(kind string, payload interface{}) {
	if r.bus != nil {
		r.bus.Emit(kind, payload)
	}
}

// persistLocked mirrors both maps to the KVStore. Caller must hold r.mu.
func (r *Registry) persistLocked() error {
	if err := r.kv.Set(serversKey, r.records); err != nil {
		return hosterr.NewRegistryError("", "persist servers", err)
	}
	if err := r.kv.Set(statusKey, r.statuses); err != nil {
		return hosterr.NewRegistryError("", "persist status", err)
	}
	return nil
}

func validateRecord(rec hosttypes.ServerRecord) error {
	if rec.ID == "" || !idPattern.MatchString(rec.ID) {
		return hosterr.NewRegistryError(rec.ID, fmt.Sprintf("id %q must match [A-Za-z0-9_-]+", rec.ID), nil)
	}
	if rec.Invocation.Command == "" {
		return hosterr.NewRegistryError(rec.ID, "invocation command must be non-empty", nil)
	}
	if rec.Invocation.Args == nil {
		return hosterr.NewRegistryError(rec.ID, "invocation args must be a sequence (possibly empty)", nil)
	}
	return nil
}

// Add validates and persists a new record, emitting serverAdded.
func (r *Registry) Add(rec hosttypes.ServerRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.ID]; exists {
		return hosterr.NewRegistryError(rec.ID, "server id already exists", nil)
	}

	rec = rec.Clone()
	now := rec.Metadata.UpdatedAt
	if now.IsZero() {
		now = timeNow()
	}
	rec.Metadata.CreatedAt = now
	rec.Metadata.UpdatedAt = now
	if rec.Metadata.InstallID == "" {
		rec.Metadata.InstallID = uuid.NewString()
	}

	r.records[rec.ID] = rec
	if err := r.persistLocked(); err != nil {
		delete(r.records, rec.ID)
		return err
	}
	r.emit(hosttypes.EventServerAdded, rec)
	return nil
}

// timeNow exists so tests and callers can see the exact point at which
// "now" is read, without pulling time.Now() into every call site.
func timeNow() time.Time { return time.Now() }

// AddOrReplace adds rec, or — when overwrite is set and the id already
// exists — removes the existing record first.
func (r *Registry) AddOrReplace(rec hosttypes.ServerRecord, overwrite bool) error {
	r.mu.Lock()
	_, exists := r.records[rec.ID]
	r.mu.Unlock()

	if exists && overwrite {
		if err := r.Remove(rec.ID); err != nil {
			return err
		}
	}
	return r.Add(rec)
}

// Update merges patch fields into the record at id (id itself is
// immutable), bumps UpdatedAt, persists, and emits serverUpdated.
func (r *Registry) Update(id string, patch func(rec *hosttypes.ServerRecord)) (hosttypes.ServerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return hosttypes.ServerRecord{}, hosterr.NewRegistryError(id, "server not found", nil)
	}
	rec = rec.Clone()
	patch(&rec)
	rec.ID = id
	rec.Metadata.UpdatedAt = timeNow()

	r.records[id] = rec
	if err := r.persistLocked(); err != nil {
		return hosttypes.ServerRecord{}, err
	}
	r.emit(hosttypes.EventServerUpdated, rec)
	return rec.Clone(), nil
}

// Remove deletes the record and its status, persists, and emits
// serverRemoved.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return hosterr.NewRegistryError(id, "server not found", nil)
	}
	delete(r.records, id)
	delete(r.statuses, id)
	if err := r.persistLocked(); err != nil {
		return err
	}
	r.emit(hosttypes.EventServerRemoved, id)
	return nil
}

// Get returns a copy of the record at id.
func (r *Registry) Get(id string) (hosttypes.ServerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return hosttypes.ServerRecord{}, false
	}
	return rec.Clone(), true
}

// List returns a copy of every record.
func (r *Registry) List() []hosttypes.ServerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]hosttypes.ServerRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	return out
}

// ListByMethod returns every record whose InstallMethod matches method.
func (r *Registry) ListByMethod(method hosttypes.InstallMethod) []hosttypes.ServerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []hosttypes.ServerRecord
	for _, rec := range r.records {
		if rec.Method == method {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Status returns a copy of the status for id.
func (r *Registry) Status(id string) (hosttypes.ServerStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.statuses[id]
	if !ok {
		return hosttypes.ServerStatus{}, false
	}
	return st.Clone(), true
}

// StatusDetails carries the fields SetStatus may update beyond State.
type StatusDetails struct {
	ProtocolVersion     string
	VersionCapabilities hosttypes.VersionCapabilities
	PID                 int
	LastError           string
}

// SetStatus updates the ServerStatus for id: on running it sets
// lastStarted; on stopped it sets lastStopped; on error it increments
// errorCount and sets lastError. Persists and emits statusChanged.
func (r *Registry) SetStatus(id string, state hosttypes.State, details StatusDetails) (hosttypes.ServerStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return hosttypes.ServerStatus{}, hosterr.NewRegistryError(id, "server not found", nil)
	}

	st := r.statuses[id]
	st.State = state
	st.LastUpdated = timeNow()

	switch state {
	case hosttypes.StateRunning:
		st.LastStarted = st.LastUpdated
		st.ProtocolVersion = details.ProtocolVersion
		st.VersionCapabilities = details.VersionCapabilities
		st.PID = details.PID
	case hosttypes.StateStopped:
		st.LastStopped = st.LastUpdated
		st.PID = 0
	case hosttypes.StateError:
		st.ErrorCount++
		st.LastError = details.LastError
	}

	r.statuses[id] = st
	if err := r.persistLocked(); err != nil {
		return hosttypes.ServerStatus{}, err
	}
	r.emit(hosttypes.EventStatusChanged, map[string]interface{}{"serverID": id, "status": st.Clone()})
	return st.Clone(), nil
}

// SetHealthResult records the outcome of a Manager.Health probe: a healthy
// result resets ConsecutiveHealthFailures, a failing one increments it.
// Persists and emits statusChanged.
func (r *Registry) SetHealthResult(id string, healthy bool) (hosttypes.ServerStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return hosttypes.ServerStatus{}, hosterr.NewRegistryError(id, "server not found", nil)
	}

	st := r.statuses[id]
	st.LastUpdated = timeNow()
	if healthy {
		st.ConsecutiveHealthFailures = 0
	} else {
		st.ConsecutiveHealthFailures++
	}

	r.statuses[id] = st
	if err := r.persistLocked(); err != nil {
		return hosttypes.ServerStatus{}, err
	}
	r.emit(hosttypes.EventStatusChanged, map[string]interface{}{"serverID": id, "status": st.Clone()})
	return st.Clone(), nil
}

// IncrementRestartCount bumps the restart counter for id (used by
// Manager.Restart).
func (r *Registry) IncrementRestartCount(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.statuses[id]
	if !ok {
		st = hosttypes.ServerStatus{}
	}
	st.RestartCount++
	r.statuses[id] = st
	return r.persistLocked()
}

// ExportBlob is the bulk-transfer payload Export produces and Import consumes.
type ExportBlob struct {
	Records []hosttypes.ServerRecord `json:"records"`
}

// Export returns the records for the given ids, or every record if ids is
// empty.
func (r *Registry) Export(ids []string) ExportBlob {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []hosttypes.ServerRecord
	if len(ids) == 0 {
		for _, rec := range r.records {
			out = append(out, rec.Clone())
		}
	} else {
		for _, id := range ids {
			if rec, ok := r.records[id]; ok {
				out = append(out, rec.Clone())
			}
		}
	}
	return ExportBlob{Records: out}
}

// ImportResult reports the outcome of a bulk Import.
type ImportResult struct {
	Imported int
	Skipped  int
	Errors   []string
}

// Import adds every record in blob, using AddOrReplace semantics per
// overwrite.
func (r *Registry) Import(blob ExportBlob, overwrite bool) ImportResult {
	var res ImportResult
	for _, rec := range blob.Records {
		if err := r.AddOrReplace(rec, overwrite); err != nil {
			if _, exists := r.Get(rec.ID); exists && !overwrite {
				res.Skipped++
				continue
			}
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", rec.ID, err))
			continue
		}
		res.Imported++
	}
	return res
}
