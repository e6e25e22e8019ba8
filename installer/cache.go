package installer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"time"

	"github.com/mcphost/runtime/hosttypes"
	"github.com/mcphost/runtime/store"
)

// DefaultCacheTTL is how long a cache entry remains valid before a fresh
// install is forced regardless of forceReinstall.
const DefaultCacheTTL = 7 * 24 * time.Hour

// CacheEntry is the metadata record persisted for a successful install.
type CacheEntry struct {
	Timestamp   time.Time            `json:"timestamp"`
	CacheKey    string                `json:"cacheKey"`
	Record      hosttypes.ServerRecord `json:"record"`
	InstallPath string                `json:"installPath"`
}

// Cache stores install metadata keyed by CacheKey, backed by a
// store.KVStore (the same abstraction the Registry persists through).
type Cache struct {
	kv store.KVStore
}

// NewCache builds a Cache over kv.
func NewCache(kv store.KVStore) *Cache { return &Cache{kv: kv} }

// cacheStoreKey namespaces key for the shared KVStore. FileStore derives a
// filename and an os.CreateTemp pattern directly from this string, and
// CreateTemp rejects any pattern containing a path separator, so the
// namespace prefix must not introduce one.
func cacheStoreKey(key string) string { return "installCache-" + key }

// Get returns the cache entry for key, if present.
func (c *Cache) Get(key string) (CacheEntry, bool, error) {
	var entry CacheEntry
	ok, err := c.kv.Get(cacheStoreKey(key), &entry)
	return entry, ok, err
}

// Set writes entry under key.
func (c *Cache) Set(key string, entry CacheEntry) error {
	return c.kv.Set(cacheStoreKey(key), entry)
}

// Clear deletes the entries for the given keys. The Cache keeps no index of
// the keys it has written, so the caller supplies them; Pipeline.ClearCache
// does not call Clear.
func (c *Cache) Clear(keys []string) error {
	for _, k := range keys {
		if err := c.kv.Delete(cacheStoreKey(k)); err != nil {
			return err
		}
	}
	return nil
}

// Valid reports whether entry is still usable: not expired, and its
// recorded install path still exists on disk.
func (e CacheEntry) Valid(ttl time.Duration) bool {
	if time.Since(e.Timestamp) > ttl {
		return false
	}
	if e.InstallPath == "" {
		return false
	}
	_, err := os.Stat(e.InstallPath)
	return err == nil
}

// CacheKeyOptions is the option subset the cache key is stable over.
type CacheKeyOptions struct {
	ForceReinstall bool
	AllowHighRisk  bool
}

// CacheKeyFor derives a stable 16-character cache key from the parsed
// origin's type/fullName/version plus the options relevant to caching.
func CacheKeyFor(origin ParsedOrigin, opts CacheKeyOptions) string {
	payload, _ := json.Marshal(struct {
		Type    OriginType
		Name    string
		Version string
		Opts    CacheKeyOptions
	}{origin.Type, origin.FullName, origin.Version, opts})

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:16]
}
