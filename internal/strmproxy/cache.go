package strmproxy

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/Zzackllack/AniBridge-sub000/internal/models"
)

// Entry is a resolved STRM URL plus the provider that produced it and when
// it was resolved, grounded on cache.py's StrmCacheEntry.
type Entry struct {
	URL          string
	ProviderUsed string
	ResolvedAt   time.Time
}

func (e Entry) isFresh(now time.Time, ttlSeconds int) bool {
	if ttlSeconds <= 0 {
		return true
	}
	return now.Sub(e.ResolvedAt) <= time.Duration(ttlSeconds)*time.Second
}

// MemoryCache is a process-local, TTL-bounded cache of resolved STRM URLs
// keyed by Identity, matching cache.py's StrmMemoryCache.
type MemoryCache struct {
	ttlSeconds int
	mu         sync.Mutex
	data       map[string]Entry
	now        func() time.Time
}

// NewMemoryCache constructs a MemoryCache with the given TTL in seconds.
// ttlSeconds <= 0 disables expiry.
func NewMemoryCache(ttlSeconds int) *MemoryCache {
	return &MemoryCache{ttlSeconds: ttlSeconds, data: make(map[string]Entry), now: time.Now}
}

// Get returns the cached entry for id if present and fresh.
func (c *MemoryCache) Get(id Identity) (Entry, bool) {
	key := id.CacheKey()
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok {
		return Entry{}, false
	}
	if !entry.isFresh(c.now(), c.ttlSeconds) {
		delete(c.data, key)
		return Entry{}, false
	}
	return entry, true
}

// Set stores entry for id.
func (c *MemoryCache) Set(id Identity, entry Entry) {
	key := id.CacheKey()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = entry
}

// Invalidate drops any cached entry for id.
func (c *MemoryCache) Invalidate(id Identity) {
	key := id.CacheKey()
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// Store layers MemoryCache in front of the strm_url_mappings table, so a
// resolved URL survives process restarts and the proxy's poll-style
// /strm/stream endpoint doesn't re-resolve on every request within the TTL.
type Store struct {
	db         *sql.DB
	mem        *MemoryCache
	ttlSeconds int
}

// NewStore constructs a Store backed by db with the given TTL in seconds.
func NewStore(db *sql.DB, ttlSeconds int) *Store {
	return &Store{db: db, mem: NewMemoryCache(ttlSeconds), ttlSeconds: ttlSeconds}
}

// Get returns a fresh resolved URL for id, checking the in-memory layer
// first and falling back to the database layer, matching the original's
// two-tier lookup (memory cache, then the durable strm_url_mappings table).
func (s *Store) Get(ctx context.Context, id Identity) (Entry, bool, error) {
	if entry, ok := s.mem.Get(id); ok {
		return entry, true, nil
	}

	row, err := models.GetStrmMapping(ctx, s.db, id.Site, id.Slug, id.Season, id.Episode, id.Language, id.Provider)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	if !row.IsFresh(time.Now(), s.ttlSeconds) {
		return Entry{}, false, nil
	}

	entry := Entry{URL: row.ResolvedURL, ResolvedAt: row.ResolvedAt}
	if row.ProviderUsed.Valid {
		entry.ProviderUsed = row.ProviderUsed.String
	}
	s.mem.Set(id, entry)
	return entry, true, nil
}

// Set persists a freshly resolved URL to both layers.
func (s *Store) Set(ctx context.Context, id Identity, entry Entry) error {
	s.mem.Set(id, entry)

	providerUsed := sql.NullString{}
	if entry.ProviderUsed != "" {
		providerUsed = sql.NullString{String: entry.ProviderUsed, Valid: true}
	}
	provider := sql.NullString{}
	if id.Provider != "" {
		provider = sql.NullString{String: id.Provider, Valid: true}
	}
	return models.UpsertStrmMapping(ctx, s.db, models.StrmUrlMapping{
		Site: id.Site, Slug: id.Slug, Season: id.Season, Episode: id.Episode,
		Language: id.Language, Provider: provider,
		ResolvedURL: entry.URL, ProviderUsed: providerUsed,
	})
}

// Invalidate drops id from both layers, used once an upstream request
// reports a stale-mapping status class (spec §4.8/§7).
func (s *Store) Invalidate(ctx context.Context, id Identity) error {
	s.mem.Invalidate(id)
	return models.InvalidateStrmMapping(ctx, s.db, id.Site, id.Slug, id.Season, id.Episode, id.Language, id.Provider)
}
