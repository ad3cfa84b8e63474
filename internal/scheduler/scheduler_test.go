package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"

	"github.com/Zzackllack/AniBridge-sub000/internal/config"
	"github.com/Zzackllack/AniBridge-sub000/internal/database"
	"github.com/Zzackllack/AniBridge-sub000/internal/models"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))
	return db
}

type fakeDownloader struct {
	path string
	err  error
}

func (f fakeDownloader) Download(_ context.Context, _ Request, _ string, progress ProgressFunc) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	_ = progress(50, 100, 1024, 10)
	_ = progress(100, 100, 1024, 0)
	return f.path, nil
}

type fakeStrmResolver struct {
	url, provider string
	err           error
}

func (f fakeStrmResolver) Resolve(_ context.Context, _ Request) (string, string, error) {
	return f.url, f.provider, f.err
}

func waitForTerminal(t *testing.T, db *sql.DB, jobID string) *models.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := models.GetJob(context.Background(), db, jobID)
		require.NoError(t, err)
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func TestSchedule_DownloadSucceeds(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()

	s := New(db, 2, dir, config.StrmProxyModeDirect,
		fakeDownloader{path: dir + "/result.mkv"},
		fakeStrmResolver{})

	jobID, err := s.Schedule(context.Background(), Request{Slug: "frieren", Season: 1, Episode: 1})
	require.NoError(t, err)

	job := waitForTerminal(t, db, jobID)
	require.Equal(t, models.JobCompleted, job.Status)
	require.Equal(t, dir+"/result.mkv", job.ResultPath.String)
}

func TestSchedule_DownloadFailureMarksFailed(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()

	s := New(db, 2, dir, config.StrmProxyModeDirect,
		fakeDownloader{err: errors.New("boom")},
		fakeStrmResolver{})

	jobID, err := s.Schedule(context.Background(), Request{Slug: "frieren", Season: 1, Episode: 1})
	require.NoError(t, err)

	job := waitForTerminal(t, db, jobID)
	require.Equal(t, models.JobFailed, job.Status)
}

func TestSchedule_StrmModeWritesFile(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()

	s := New(db, 2, dir, config.StrmProxyModeDirect,
		fakeDownloader{}, fakeStrmResolver{url: "https://example.com/video.m3u8", provider: "voe"})

	jobID, err := s.Schedule(context.Background(), Request{
		Slug: "frieren", Season: 1, Episode: 1, Mode: "strm", TitleHint: "Frieren.S01E01",
	})
	require.NoError(t, err)

	job := waitForTerminal(t, db, jobID)
	require.Equal(t, models.JobCompleted, job.Status)
	require.FileExists(t, job.ResultPath.String)
}

func TestCancel_MarksJobCancelled(t *testing.T) {
	db := openTestDB(t)
	dir := t.TempDir()

	block := make(chan struct{})
	s := New(db, 1, dir, config.StrmProxyModeDirect,
		blockingDownloader{block: block}, fakeStrmResolver{})

	jobID, err := s.Schedule(context.Background(), Request{Slug: "frieren", Season: 1, Episode: 1})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	s.Cancel(jobID)
	close(block)

	job := waitForTerminal(t, db, jobID)
	require.Equal(t, models.JobCancelled, job.Status)
}

type blockingDownloader struct{ block chan struct{} }

func (b blockingDownloader) Download(ctx context.Context, _ Request, _ string, _ ProgressFunc) (string, error) {
	select {
	case <-b.block:
		return "", errors.New("unblocked without cancellation")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
