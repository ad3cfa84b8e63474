package models

import (
	"context"
	"database/sql"
	"time"
)

// StrmUrlMapping is the STRM proxy's persisted record of a resolved upstream
// URL for a (site, slug, season, episode, language, provider) tuple
// (spec §3/§4.8).
type StrmUrlMapping struct {
	Site             string
	Slug             string
	Season           int
	Episode          int
	Language         string
	Provider         sql.NullString
	ResolvedURL      string
	ProviderUsed     sql.NullString
	ResolvedHeaders  sql.NullString // JSON-encoded
	ResolvedAt       time.Time
}

// IsFresh reports whether the mapping is still within ttlSeconds of
// ResolvedAt. ttlSeconds <= 0 means "always fresh".
func (m *StrmUrlMapping) IsFresh(now time.Time, ttlSeconds int) bool {
	if ttlSeconds <= 0 {
		return true
	}
	return now.Sub(m.ResolvedAt) <= time.Duration(ttlSeconds)*time.Second
}

// provider key helper: NULL provider collapses to "" for the unique key.
func providerKey(p sql.NullString) string {
	if p.Valid {
		return p.String
	}
	return ""
}

// UpsertStrmMapping idempotently upserts a mapping keyed by the six-tuple.
func UpsertStrmMapping(ctx context.Context, db *sql.DB, m StrmUrlMapping) error {
	m.ResolvedAt = time.Now().UTC()
	_, err := db.ExecContext(ctx, `
		INSERT INTO strm_url_mappings
			(site, slug, season, episode, language, provider, resolved_url, provider_used, resolved_headers, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(site, slug, season, episode, language, provider) DO UPDATE SET
			resolved_url=excluded.resolved_url, provider_used=excluded.provider_used,
			resolved_headers=excluded.resolved_headers, resolved_at=excluded.resolved_at`,
		m.Site, m.Slug, m.Season, m.Episode, m.Language, providerKey(m.Provider), m.ResolvedURL,
		m.ProviderUsed, m.ResolvedHeaders, m.ResolvedAt,
	)
	return err
}

// GetStrmMapping fetches a mapping by the six-tuple key, or
// (nil, sql.ErrNoRows).
func GetStrmMapping(ctx context.Context, db *sql.DB, site, slug string, season, episode int, language, provider string) (*StrmUrlMapping, error) {
	row := db.QueryRowContext(ctx, `
		SELECT site, slug, season, episode, language, provider, resolved_url, provider_used, resolved_headers, resolved_at
		FROM strm_url_mappings WHERE site=? AND slug=? AND season=? AND episode=? AND language=? AND provider=?`,
		site, slug, season, episode, language, provider)
	var m StrmUrlMapping
	if err := row.Scan(&m.Site, &m.Slug, &m.Season, &m.Episode, &m.Language, &m.Provider,
		&m.ResolvedURL, &m.ProviderUsed, &m.ResolvedHeaders, &m.ResolvedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// InvalidateStrmMapping deletes a cached mapping so the next lookup
// re-resolves, used when the upstream reports a stale-mapping status class.
func InvalidateStrmMapping(ctx context.Context, db *sql.DB, site, slug string, season, episode int, language, provider string) error {
	_, err := db.ExecContext(ctx, `
		DELETE FROM strm_url_mappings WHERE site=? AND slug=? AND season=? AND episode=? AND language=? AND provider=?`,
		site, slug, season, episode, language, provider)
	return err
}
