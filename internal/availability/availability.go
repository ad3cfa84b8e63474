// Package availability wraps the persisted EpisodeAvailability rows with an
// in-memory hot-path cache, implementing the Torznab endpoint's
// fresh-or-probe decision tree (spec §4.3).
package availability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/Zzackllack/AniBridge-sub000/internal/models"
)

// Result is the caller-facing view of one availability probe.
type Result struct {
	Available bool
	Height    int
	Vcodec    string
	Provider  string
}

// Cache fronts the database-backed availability table with a ristretto
// in-memory layer, keyed by the five-tuple (site, slug, season, episode,
// language). Writes are idempotent upserts; reads never satisfy a download.
type Cache struct {
	db       *sql.DB
	hot      *ristretto.Cache
	ttlHours int
}

// New constructs a Cache. ttlHours <= 0 means cached records are always
// considered fresh.
func New(db *sql.DB, ttlHours int) (*Cache, error) {
	hot, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("construct hot cache: %w", err)
	}
	return &Cache{db: db, hot: hot, ttlHours: ttlHours}, nil
}

func key(site, slug string, season, episode int, language string) string {
	return fmt.Sprintf("%s|%s|%d|%d|%s", site, slug, season, episode, language)
}

// Get returns a fresh cached Result, or (Result{}, false) if absent or
// stale. It checks the hot in-memory layer first, falling back to the
// database, and repopulates the hot layer on a database hit.
func (c *Cache) Get(ctx context.Context, site, slug string, season, episode int, language string) (Result, bool) {
	k := key(site, slug, season, episode, language)
	if v, ok := c.hot.Get(k); ok {
		if res, ok := v.(Result); ok {
			return res, true
		}
	}

	row, err := models.GetAvailability(ctx, c.db, site, slug, season, episode, language)
	if err != nil || row == nil {
		return Result{}, false
	}
	if !row.IsFresh(time.Now().UTC(), c.ttlHours) {
		return Result{}, false
	}

	res := Result{
		Available: row.Available,
		Height:    int(row.Height.Int64),
		Vcodec:    row.Vcodec.String,
		Provider:  row.Provider.String,
	}
	c.hot.SetWithTTL(k, res, 1, time.Duration(c.ttlHours)*time.Hour)
	return res, true
}

// Upsert idempotently writes a probe result (positive or negative) to both
// layers, so a negative probe is cached too and future lookups skip
// re-probing until the TTL elapses.
func (c *Cache) Upsert(ctx context.Context, site, slug string, season, episode int, language string, res Result, extra any) error {
	row := models.EpisodeAvailability{
		Site:      site,
		Slug:      slug,
		Season:    season,
		Episode:   episode,
		Language:  language,
		Available: res.Available,
	}
	if res.Height > 0 {
		row.Height = sql.NullInt64{Int64: int64(res.Height), Valid: true}
	}
	if res.Vcodec != "" {
		row.Vcodec = sql.NullString{String: res.Vcodec, Valid: true}
	}
	if res.Provider != "" {
		row.Provider = sql.NullString{String: res.Provider, Valid: true}
	}
	if extra != nil {
		if b, err := json.Marshal(extra); err == nil {
			row.Extra = sql.NullString{String: string(b), Valid: true}
		}
	}

	if err := models.UpsertAvailability(ctx, c.db, row); err != nil {
		return fmt.Errorf("upsert availability: %w", err)
	}

	k := key(site, slug, season, episode, language)
	c.hot.SetWithTTL(k, res, 1, time.Duration(c.ttlHours)*time.Hour)
	return nil
}

// ListAvailableLanguages returns every fresh, available language cached for
// (site, slug, season, episode), used to drive multi-language preview
// search.
func (c *Cache) ListAvailableLanguages(ctx context.Context, site, slug string, season, episode int) ([]string, error) {
	return models.ListAvailableLanguagesCached(ctx, c.db, site, slug, season, episode, c.ttlHours)
}

// ListCachedEpisodeNumbers returns the sorted episode numbers with at least
// one fresh, available row cached for (site, slug, season), the cache-backed
// source in tvsearch's season-discovery order.
func (c *Cache) ListCachedEpisodeNumbers(ctx context.Context, site, slug string, season int) ([]int, error) {
	return models.ListCachedEpisodeNumbersForSeason(ctx, c.db, site, slug, season, c.ttlHours)
}
