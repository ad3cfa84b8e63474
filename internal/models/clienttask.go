package models

import (
	"context"
	"database/sql"
	"time"
)

// ClientTask is the qBittorrent-facing projection of a magnet onto an
// internal Job (spec §3).
type ClientTask struct {
	Hash           string
	Name           string
	Slug           string
	Season         int
	Episode        int
	AbsoluteNumber sql.NullInt64
	Language       string
	Site           string
	JobID          sql.NullString
	SavePath       sql.NullString
	Category       sql.NullString
	AddedOn        time.Time
	CompletionOn   sql.NullTime
	State          string
}

// UpsertClientTask creates or updates the ClientTask keyed by hash.
func UpsertClientTask(ctx context.Context, db *sql.DB, t ClientTask) error {
	if t.AddedOn.IsZero() {
		t.AddedOn = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO client_tasks
			(hash, name, slug, season, episode, absolute_number, language, site, job_id, save_path, category, added_on, completion_on, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			name=excluded.name, slug=excluded.slug, season=excluded.season, episode=excluded.episode,
			absolute_number=excluded.absolute_number, language=excluded.language, site=excluded.site,
			job_id=excluded.job_id, save_path=excluded.save_path, category=excluded.category,
			completion_on=excluded.completion_on, state=excluded.state`,
		t.Hash, t.Name, t.Slug, t.Season, t.Episode, t.AbsoluteNumber, t.Language, t.Site,
		t.JobID, t.SavePath, t.Category, t.AddedOn, t.CompletionOn, t.State,
	)
	return err
}

// GetClientTask fetches a ClientTask by hash, or (nil, sql.ErrNoRows).
func GetClientTask(ctx context.Context, db *sql.DB, hash string) (*ClientTask, error) {
	row := db.QueryRowContext(ctx, `
		SELECT hash, name, slug, season, episode, absolute_number, language, site, job_id,
		       save_path, category, added_on, completion_on, state
		FROM client_tasks WHERE hash=?`, hash)
	return scanClientTask(row)
}

func scanClientTask(row *sql.Row) (*ClientTask, error) {
	var t ClientTask
	if err := row.Scan(&t.Hash, &t.Name, &t.Slug, &t.Season, &t.Episode, &t.AbsoluteNumber,
		&t.Language, &t.Site, &t.JobID, &t.SavePath, &t.Category, &t.AddedOn, &t.CompletionOn, &t.State); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListClientTasks returns every ClientTask, for torrents/info and
// sync/maindata projection.
func ListClientTasks(ctx context.Context, db *sql.DB) ([]*ClientTask, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT hash, name, slug, season, episode, absolute_number, language, site, job_id,
		       save_path, category, added_on, completion_on, state
		FROM client_tasks ORDER BY added_on DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ClientTask
	for rows.Next() {
		var t ClientTask
		if err := rows.Scan(&t.Hash, &t.Name, &t.Slug, &t.Season, &t.Episode, &t.AbsoluteNumber,
			&t.Language, &t.Site, &t.JobID, &t.SavePath, &t.Category, &t.AddedOn, &t.CompletionOn, &t.State); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// DeleteClientTask removes a ClientTask by hash.
func DeleteClientTask(ctx context.Context, db *sql.DB, hash string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM client_tasks WHERE hash=?`, hash)
	return err
}

// SetClientTaskCompletion stamps completion_on the first time a task is
// observed complete, mirroring the "stamp on first projection" rule in
// spec §4.6.
func SetClientTaskCompletion(ctx context.Context, db *sql.DB, hash string, when time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE client_tasks SET completion_on=? WHERE hash=? AND completion_on IS NULL`, when, hash)
	return err
}
