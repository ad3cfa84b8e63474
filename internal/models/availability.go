package models

import (
	"context"
	"database/sql"
	"sort"
	"time"
)

// EpisodeAvailability is the cached result of probing one
// (site, slug, season, episode, language) tuple (spec §3).
type EpisodeAvailability struct {
	Site      string
	Slug      string
	Season    int
	Episode   int
	Language  string
	Available bool
	Height    sql.NullInt64
	Vcodec    sql.NullString
	Provider  sql.NullString
	CheckedAt time.Time
	Extra     sql.NullString // JSON-encoded, used for specials-mapper metadata
}

// IsFresh reports whether the record is still within ttlHours of checkedAt.
// ttlHours <= 0 means "always fresh" (spec §4.3/§8).
func (a *EpisodeAvailability) IsFresh(now time.Time, ttlHours int) bool {
	if ttlHours <= 0 {
		return true
	}
	age := now.Sub(a.CheckedAt)
	return age <= time.Duration(ttlHours)*time.Hour
}

// UpsertAvailability idempotently upserts one availability row, keyed by the
// five-tuple (site, slug, season, episode, language).
func UpsertAvailability(ctx context.Context, db *sql.DB, a EpisodeAvailability) error {
	a.CheckedAt = time.Now().UTC()
	_, err := db.ExecContext(ctx, `
		INSERT INTO episode_availability
			(site, slug, season, episode, language, available, height, vcodec, provider, checked_at, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(site, slug, season, episode, language) DO UPDATE SET
			available=excluded.available, height=excluded.height, vcodec=excluded.vcodec,
			provider=excluded.provider, checked_at=excluded.checked_at, extra=excluded.extra`,
		a.Site, a.Slug, a.Season, a.Episode, a.Language, a.Available, a.Height, a.Vcodec,
		a.Provider, a.CheckedAt, a.Extra,
	)
	return err
}

// GetAvailability fetches the availability row for the five-tuple, or
// (nil, sql.ErrNoRows) if absent.
func GetAvailability(ctx context.Context, db *sql.DB, site, slug string, season, episode int, language string) (*EpisodeAvailability, error) {
	row := db.QueryRowContext(ctx, `
		SELECT site, slug, season, episode, language, available, height, vcodec, provider, checked_at, extra
		FROM episode_availability WHERE site=? AND slug=? AND season=? AND episode=? AND language=?`,
		site, slug, season, episode, language)
	var a EpisodeAvailability
	if err := row.Scan(&a.Site, &a.Slug, &a.Season, &a.Episode, &a.Language, &a.Available,
		&a.Height, &a.Vcodec, &a.Provider, &a.CheckedAt, &a.Extra); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAvailableLanguagesCached returns the fresh, available languages cached
// for (site, slug, season, episode), mirroring list_available_languages_cached.
func ListAvailableLanguagesCached(ctx context.Context, db *sql.DB, site, slug string, season, episode, ttlHours int) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT language, checked_at FROM episode_availability
		WHERE site=? AND slug=? AND season=? AND episode=? AND available=1`,
		site, slug, season, episode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := time.Now().UTC()
	var out []string
	for rows.Next() {
		var lang string
		var checkedAt time.Time
		if err := rows.Scan(&lang, &checkedAt); err != nil {
			return nil, err
		}
		a := EpisodeAvailability{CheckedAt: checkedAt}
		if a.IsFresh(now, ttlHours) {
			out = append(out, lang)
		}
	}
	return out, rows.Err()
}

// ListCachedEpisodeNumbersForSeason returns the sorted, de-duplicated episode
// numbers with at least one fresh, available row for (site, slug, season),
// used as the cache-backed source in tvsearch's season-discovery order.
func ListCachedEpisodeNumbersForSeason(ctx context.Context, db *sql.DB, site, slug string, season, ttlHours int) ([]int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT episode, checked_at FROM episode_availability
		WHERE site=? AND slug=? AND season=? AND available=1`,
		site, slug, season)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := time.Now().UTC()
	seen := map[int]bool{}
	var out []int
	for rows.Next() {
		var episode int
		var checkedAt time.Time
		if err := rows.Scan(&episode, &checkedAt); err != nil {
			return nil, err
		}
		a := EpisodeAvailability{CheckedAt: checkedAt}
		if a.IsFresh(now, ttlHours) && !seen[episode] {
			seen[episode] = true
			out = append(out, episode)
		}
	}
	sort.Ints(out)
	return out, rows.Err()
}
