package models

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EpisodeNumberMapping translates Sonarr's absolute-numbered requests into
// (season, episode) coordinates per series (spec §3).
type EpisodeNumberMapping struct {
	ID             int64
	SeriesSlug     string
	AbsoluteNumber int
	SeasonNumber   int
	EpisodeNumber  int
	EpisodeTitle   sql.NullString
	LastSyncedAt   time.Time
}

func ensurePositive(value int, name string) error {
	if value <= 0 {
		return fmt.Errorf("%s must be positive, got %d", name, value)
	}
	return nil
}

// UpsertEpisodeMapping creates or updates a mapping, matching first on
// (slug, absolute_number) then on (slug, season, episode), mirroring
// upsert_episode_mapping's two-step lookup.
func UpsertEpisodeMapping(ctx context.Context, db *sql.DB, m EpisodeNumberMapping) (*EpisodeNumberMapping, error) {
	if err := ensurePositive(m.AbsoluteNumber, "absolute_number"); err != nil {
		return nil, err
	}
	if err := ensurePositive(m.SeasonNumber, "season_number"); err != nil {
		return nil, err
	}
	if err := ensurePositive(m.EpisodeNumber, "episode_number"); err != nil {
		return nil, err
	}

	existing, err := GetEpisodeMappingByAbsolute(ctx, db, m.SeriesSlug, m.AbsoluteNumber)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if existing == nil {
		existing, err = GetEpisodeMappingBySeasonEpisode(ctx, db, m.SeriesSlug, m.SeasonNumber, m.EpisodeNumber)
		if err != nil && err != sql.ErrNoRows {
			return nil, err
		}
	}

	now := time.Now().UTC()
	if existing == nil {
		res, err := db.ExecContext(ctx, `
			INSERT INTO episode_number_mappings (series_slug, absolute_number, season_number, episode_number, episode_title, last_synced_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			m.SeriesSlug, m.AbsoluteNumber, m.SeasonNumber, m.EpisodeNumber, m.EpisodeTitle, now)
		if err != nil {
			return nil, err
		}
		id, _ := res.LastInsertId()
		m.ID = id
		m.LastSyncedAt = now
		return &m, nil
	}

	_, err = db.ExecContext(ctx, `
		UPDATE episode_number_mappings
		SET absolute_number=?, season_number=?, episode_number=?, episode_title=COALESCE(?, episode_title), last_synced_at=?
		WHERE id=?`,
		m.AbsoluteNumber, m.SeasonNumber, m.EpisodeNumber, m.EpisodeTitle, now, existing.ID)
	if err != nil {
		return nil, err
	}
	existing.AbsoluteNumber = m.AbsoluteNumber
	existing.SeasonNumber = m.SeasonNumber
	existing.EpisodeNumber = m.EpisodeNumber
	existing.LastSyncedAt = now
	return existing, nil
}

func scanEpisodeMappingRow(row *sql.Row) (*EpisodeNumberMapping, error) {
	var m EpisodeNumberMapping
	if err := row.Scan(&m.ID, &m.SeriesSlug, &m.AbsoluteNumber, &m.SeasonNumber, &m.EpisodeNumber, &m.EpisodeTitle, &m.LastSyncedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetEpisodeMappingByAbsolute looks up a mapping by (slug, absolute_number).
func GetEpisodeMappingByAbsolute(ctx context.Context, db *sql.DB, seriesSlug string, absoluteNumber int) (*EpisodeNumberMapping, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, series_slug, absolute_number, season_number, episode_number, episode_title, last_synced_at
		FROM episode_number_mappings WHERE series_slug=? AND absolute_number=?`, seriesSlug, absoluteNumber)
	return scanEpisodeMappingRow(row)
}

// GetEpisodeMappingBySeasonEpisode looks up a mapping by (slug, season, episode).
func GetEpisodeMappingBySeasonEpisode(ctx context.Context, db *sql.DB, seriesSlug string, season, episode int) (*EpisodeNumberMapping, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, series_slug, absolute_number, season_number, episode_number, episode_title, last_synced_at
		FROM episode_number_mappings WHERE series_slug=? AND season_number=? AND episode_number=?`, seriesSlug, season, episode)
	return scanEpisodeMappingRow(row)
}

// ListEpisodeMappingsForSeries returns every mapping for a series, ordered
// by absolute number.
func ListEpisodeMappingsForSeries(ctx context.Context, db *sql.DB, seriesSlug string) ([]*EpisodeNumberMapping, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, series_slug, absolute_number, season_number, episode_number, episode_title, last_synced_at
		FROM episode_number_mappings WHERE series_slug=? ORDER BY absolute_number`, seriesSlug)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*EpisodeNumberMapping
	for rows.Next() {
		var m EpisodeNumberMapping
		if err := rows.Scan(&m.ID, &m.SeriesSlug, &m.AbsoluteNumber, &m.SeasonNumber, &m.EpisodeNumber, &m.EpisodeTitle, &m.LastSyncedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
