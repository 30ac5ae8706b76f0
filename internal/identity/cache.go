package identity

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Default cache lifetimes. Fallback entries expire much sooner so a
// transient remote outage is not cached as a permanently unknown contact.
const (
	DefaultTTL         = 7 * 24 * time.Hour
	DefaultFallbackTTL = 6 * time.Hour
)

type cacheEntry struct {
	Contact    Contact   `json:"contact"`
	InsertedAt time.Time `json:"insertedAt"`
	Fallback   bool      `json:"fallback,omitempty"`
}

type cacheFile struct {
	Aliases  map[string]string     `json:"aliases"`
	Contacts map[string]cacheEntry `json:"contacts"`
}

// Cache holds the alias→canonical mapping and the canonical→contact profile
// map, persisted together as one JSON file. Single-writer: only the Resolver
// mutates it; readers get copies.
type degradedAlias struct {
	canonical  string
	insertedAt time.Time
}

type Cache struct {
	mu          sync.RWMutex
	aliases     map[string]string
	degraded    map[string]degradedAlias // failed alias resolutions, in-memory only
	contacts    map[string]cacheEntry
	path        string // empty disables persistence
	ttl         time.Duration
	fallbackTTL time.Duration
	now         func() time.Time
}

// NewCache loads persisted state from path. Corrupt or missing state is
// replaced with an empty cache, never an error.
func NewCache(path string, ttl, fallbackTTL time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if fallbackTTL <= 0 {
		fallbackTTL = DefaultFallbackTTL
	}
	c := &Cache{
		aliases:     make(map[string]string),
		degraded:    make(map[string]degradedAlias),
		contacts:    make(map[string]cacheEntry),
		path:        path,
		ttl:         ttl,
		fallbackTTL: fallbackTTL,
		now:         time.Now,
	}
	c.load()
	return c
}

// Alias returns the canonical identifier an alias maps to. Degraded
// mappings (recorded after a failed remote resolution) are honored only
// within the fallback TTL so a transient outage cannot poison the alias
// map permanently.
func (c *Cache) Alias(alias string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if canonical, ok := c.aliases[alias]; ok {
		return canonical, true
	}
	if d, ok := c.degraded[alias]; ok {
		if c.now().Sub(d.insertedAt) <= c.fallbackTTL {
			return d.canonical, true
		}
		delete(c.degraded, alias)
	}
	return "", false
}

// PutAlias records an alias→canonical mapping and persists. A prior
// degraded mapping for the alias is superseded.
func (c *Cache) PutAlias(alias, canonical string) {
	c.mu.Lock()
	c.aliases[alias] = canonical
	delete(c.degraded, alias)
	c.mu.Unlock()
	c.flush()
}

// PutDegradedAlias records a best-effort mapping after a failed remote
// resolution. Kept in-memory only: a restart retries the real resolution.
func (c *Cache) PutDegradedAlias(alias, canonical string) {
	c.mu.Lock()
	c.degraded[alias] = degradedAlias{canonical: canonical, insertedAt: c.now()}
	c.mu.Unlock()
}

// Contact returns a copy of the cached contact for the canonical id, if
// present and not expired. Expired entries are evicted lazily.
func (c *Cache) Contact(id string) (Contact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.contacts[id]
	if !ok {
		return Contact{}, false
	}
	if c.expiredLocked(e) {
		delete(c.contacts, id)
		return Contact{}, false
	}
	return e.Contact, true
}

// PutContact caches a resolved contact and persists. fallback marks entries
// synthesized after a resolution failure, which expire on the shorter TTL.
func (c *Cache) PutContact(contact Contact, fallback bool) {
	c.mu.Lock()
	c.contacts[contact.ID] = cacheEntry{
		Contact:    contact,
		InsertedAt: c.now(),
		Fallback:   fallback,
	}
	c.mu.Unlock()
	c.flush()
}

// Sweep evicts every expired contact entry and persists when anything was
// removed. Returns the number of evicted entries.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	for alias, d := range c.degraded {
		if c.now().Sub(d.insertedAt) > c.fallbackTTL {
			delete(c.degraded, alias)
		}
	}
	removed := 0
	for id, e := range c.contacts {
		if c.expiredLocked(e) {
			delete(c.contacts, id)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.flush()
	}
	return removed
}

// Len returns (aliases, contacts) counts.
func (c *Cache) Len() (int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.aliases), len(c.contacts)
}

func (c *Cache) expiredLocked(e cacheEntry) bool {
	ttl := c.ttl
	if e.Fallback {
		ttl = c.fallbackTTL
	}
	return c.now().Sub(e.InsertedAt) > ttl
}

// FlushNow persists the cache immediately.
func (c *Cache) FlushNow() error {
	return c.write()
}

// flush persists and only logs on failure; a failed write never blocks
// in-memory operation.
func (c *Cache) flush() {
	if err := c.write(); err != nil {
		slog.Warn("identity cache write failed", "path", c.path, "error", err)
	}
}

func (c *Cache) write() error {
	if c.path == "" {
		return nil
	}
	c.mu.RLock()
	f := cacheFile{Aliases: c.aliases, Contacts: c.contacts}
	data, err := json.MarshalIndent(f, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o644)
}

func (c *Cache) load() {
	if c.path == "" {
		return
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("identity cache read failed, starting fresh", "path", c.path, "error", err)
		}
		return
	}
	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Warn("identity cache corrupt, starting fresh", "path", c.path, "error", err)
		return
	}
	if f.Aliases != nil {
		c.aliases = f.Aliases
	}
	if f.Contacts != nil {
		c.contacts = f.Contacts
	}
	aliases, contacts := len(c.aliases), len(c.contacts)
	slog.Debug("identity cache loaded", "path", c.path, "aliases", aliases, "contacts", contacts)
}
