// Package models defines AniBridge's persisted entities (Job,
// EpisodeAvailability, ClientTask, StrmUrlMapping, EpisodeNumberMapping) and
// their CRUD operations, grounded on original_source/app/db/models.py.
package models

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// JobStatus is a Job's lifecycle state.
type JobStatus string

const (
	JobQueued      JobStatus = "queued"
	JobDownloading JobStatus = "downloading"
	JobCompleted   JobStatus = "completed"
	JobFailed      JobStatus = "failed"
	JobCancelled   JobStatus = "cancelled"
)

// Terminal reports whether s is a terminal lifecycle state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job represents one unit of fetching work (spec §3).
type Job struct {
	ID              string
	Status          JobStatus
	Progress        float64
	DownloadedBytes int64
	TotalBytes      sql.NullInt64
	Speed           sql.NullFloat64
	ETA             sql.NullInt64
	Message         sql.NullString
	ResultPath      sql.NullString
	SourceSite      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// JobUpdate carries the subset of fields a caller wants to mutate; a nil
// pointer field is left untouched, mirroring update_job's **fields kwargs.
type JobUpdate struct {
	Status          *JobStatus
	Progress        *float64
	DownloadedBytes *int64
	TotalBytes      *int64
	Speed           *float64
	ETA             *int64
	Message         *string
	ResultPath      *string
	SourceSite      *string
}

// CreateJob inserts a new queued Job and returns it.
func CreateJob(ctx context.Context, db *sql.DB, sourceSite string) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:         uuid.NewString(),
		Status:     JobQueued,
		SourceSite: sourceSite,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, progress, downloaded_bytes, source_site, created_at, updated_at)
		VALUES (?, ?, 0, 0, ?, ?, ?)`,
		job.ID, string(job.Status), job.SourceSite, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob fetches a Job by id, or (nil, sql.ErrNoRows) if absent.
func GetJob(ctx context.Context, db *sql.DB, id string) (*Job, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, status, progress, downloaded_bytes, total_bytes, speed, eta,
		       message, result_path, source_site, created_at, updated_at
		FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func scanJob(row *sql.Row) (*Job, error) {
	var j Job
	var status string
	if err := row.Scan(&j.ID, &status, &j.Progress, &j.DownloadedBytes, &j.TotalBytes,
		&j.Speed, &j.ETA, &j.Message, &j.ResultPath, &j.SourceSite, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Status = JobStatus(status)
	return &j, nil
}

// UpdateJob applies a partial update and bumps updated_at, mirroring
// update_job's setattr-loop semantics.
func UpdateJob(ctx context.Context, db *sql.DB, id string, u JobUpdate) (*Job, error) {
	existing, err := GetJob(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if u.Status != nil {
		existing.Status = *u.Status
	}
	if u.Progress != nil {
		existing.Progress = *u.Progress
	}
	if u.DownloadedBytes != nil {
		existing.DownloadedBytes = *u.DownloadedBytes
	}
	if u.TotalBytes != nil {
		existing.TotalBytes = sql.NullInt64{Int64: *u.TotalBytes, Valid: true}
	}
	if u.Speed != nil {
		existing.Speed = sql.NullFloat64{Float64: *u.Speed, Valid: true}
	}
	if u.ETA != nil {
		existing.ETA = sql.NullInt64{Int64: *u.ETA, Valid: true}
	}
	if u.Message != nil {
		existing.Message = sql.NullString{String: *u.Message, Valid: true}
	}
	if u.ResultPath != nil {
		existing.ResultPath = sql.NullString{String: *u.ResultPath, Valid: true}
	}
	if u.SourceSite != nil {
		existing.SourceSite = *u.SourceSite
	}
	existing.UpdatedAt = time.Now().UTC()

	_, err = db.ExecContext(ctx, `
		UPDATE jobs SET status=?, progress=?, downloaded_bytes=?, total_bytes=?, speed=?,
		                eta=?, message=?, result_path=?, source_site=?, updated_at=?
		WHERE id=?`,
		string(existing.Status), existing.Progress, existing.DownloadedBytes, existing.TotalBytes,
		existing.Speed, existing.ETA, existing.Message, existing.ResultPath, existing.SourceSite,
		existing.UpdatedAt, id,
	)
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// CleanupDanglingJobs moves every {queued, downloading} Job to failed with
// the restart message, per spec §3's startup-recovery invariant. It must run
// before any worker starts.
func CleanupDanglingJobs(ctx context.Context, db *sql.DB) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE jobs SET status=?, message=?, updated_at=?
		WHERE status IN (?, ?)`,
		string(JobFailed), "Interrupted by application restart", time.Now().UTC(),
		string(JobQueued), string(JobDownloading),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
