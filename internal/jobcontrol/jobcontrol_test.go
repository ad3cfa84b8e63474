package jobcontrol

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zzackllack/AniBridge-sub000/internal/config"
	"github.com/Zzackllack/AniBridge-sub000/internal/database"
	"github.com/Zzackllack/AniBridge-sub000/internal/models"
	"github.com/Zzackllack/AniBridge-sub000/internal/scheduler"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))
	return db
}

type blockingDownloader struct{ release chan struct{} }

func (b blockingDownloader) Download(ctx context.Context, _ scheduler.Request, _ string, progress scheduler.ProgressFunc) (string, error) {
	_ = progress(0, 100, 0, 0)
	select {
	case <-b.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "/downloads/done.mkv", nil
}

type noopStrmResolver struct{}

func (noopStrmResolver) Resolve(context.Context, scheduler.Request) (string, string, error) {
	return "", "", nil
}

func newTestHandlers(t *testing.T, downloader scheduler.EpisodeDownloader) (*Handlers, *sql.DB) {
	t.Helper()
	db := openTestDB(t)
	sched := scheduler.New(db, 2, t.TempDir(), config.StrmProxyModeDirect, downloader, noopStrmResolver{})
	return NewHandlers(db, sched), db
}

func TestHandleEnqueue_RejectsMissingLinkAndSlug(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandlers(t, blockingDownloader{release: make(chan struct{})})
	req := httptest.NewRequest(http.MethodPost, "/downloader/download", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEnqueue_SchedulesJobAndReturnsID(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	h, _ := newTestHandlers(t, blockingDownloader{release: release})

	body := `{"slug":"frieren","season":1,"episode":1,"language":"German Dub"}`
	req := httptest.NewRequest(http.MethodPost, "/downloader/download", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["job_id"])
}

func TestHandleGetJob_NotFoundReturns404(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandlers(t, blockingDownloader{release: make(chan struct{})})
	req := httptest.NewRequest(http.MethodGet, "/jobs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetJob_ReturnsStatusJSON(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	job, err := models.CreateJob(context.Background(), db, "aniworld.to")
	require.NoError(t, err)

	sched := scheduler.New(db, 1, t.TempDir(), config.StrmProxyModeDirect, blockingDownloader{release: make(chan struct{})}, noopStrmResolver{})
	h := NewHandlers(db, sched)

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID, nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp jobStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, job.ID, resp.ID)
	assert.Equal(t, "queued", resp.Status)
}

func TestHandleCancelJob_NotRunningWhenNeverScheduled(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandlers(t, blockingDownloader{release: make(chan struct{})})
	req := httptest.NewRequest(http.MethodDelete, "/jobs/unknown-id", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not-running", resp["status"])
}

func TestHandleCancelJob_CancellingWhenRunning(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	h, db := newTestHandlers(t, blockingDownloader{release: release})

	sched := h.scheduler
	jobID, err := sched.Schedule(context.Background(), scheduler.Request{Slug: "frieren", Season: 1, Episode: 1, Language: "German Dub"})
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		job, err := models.GetJob(context.Background(), db, jobID)
		require.NoError(t, err)
		if job.Status == models.JobDownloading {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	req := httptest.NewRequest(http.MethodDelete, "/jobs/"+jobID, nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cancelling", resp["status"])
}

func TestHandleJobEvents_StreamsUntilTerminal(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	job, err := models.CreateJob(context.Background(), db, "aniworld.to")
	require.NoError(t, err)

	completed := models.JobCompleted
	hundred := 100.0
	_, err = models.UpdateJob(context.Background(), db, job.ID, models.JobUpdate{Status: &completed, Progress: &hundred})
	require.NoError(t, err)

	sched := scheduler.New(db, 1, t.TempDir(), config.StrmProxyModeDirect, blockingDownloader{release: make(chan struct{})}, noopStrmResolver{})
	h := NewHandlers(db, sched)

	r := chi.NewRouter()
	r.Get("/jobs/{id}/events", h.handleJobEvents)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/jobs/" + job.ID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	var sawData bool
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			sawData = true
			assert.Contains(t, line, `"status":"completed"`)
		}
	}
	assert.True(t, sawData, "expected at least one SSE data line before stream closed")
}
