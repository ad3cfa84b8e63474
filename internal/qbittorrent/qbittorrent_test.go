package qbittorrent

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zzackllack/AniBridge-sub000/internal/config"
	"github.com/Zzackllack/AniBridge-sub000/internal/database"
	"github.com/Zzackllack/AniBridge-sub000/internal/magnet"
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

func testCfg() *config.Config {
	return &config.Config{
		DownloadDir:    "./downloads",
		MaxConcurrency: 2,
	}
}

func newHandlers(t *testing.T) *Handlers {
	t.Helper()
	h := NewHandlers(testCfg(), openTestDB(t), nil)
	h.nowFunc = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return h
}

func TestHandleLogin_SetsFixedSIDCookie(t *testing.T) {
	t.Parallel()

	h := newHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v2/auth/login", nil)
	rec := httptest.NewRecorder()
	h.handleLogin(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SID, cookies[0].Value)
}

func TestHandleVersion_ReturnsConfiguredVersionString(t *testing.T) {
	t.Parallel()

	h := newHandlers(t)
	rec := httptest.NewRecorder()
	h.handleVersion(rec, httptest.NewRequest(http.MethodGet, "/api/v2/app/version", nil))
	assert.Equal(t, appVersion, rec.Body.String())
}

func TestHandleWebAPIVersion_ReturnsConfiguredVersionString(t *testing.T) {
	t.Parallel()

	h := newHandlers(t)
	rec := httptest.NewRecorder()
	h.handleWebAPIVersion(rec, httptest.NewRequest(http.MethodGet, "/api/v2/app/webapiVersion", nil))
	assert.Equal(t, webAPIVersion, rec.Body.String())
}

func TestCategoryStore_CreateEditRemoveRoundtrip(t *testing.T) {
	t.Parallel()

	h := newHandlers(t)

	form := url.Values{"category": {"anime"}, "savePath": {"/downloads/anime"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v2/torrents/createCategory", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.handleCreateCategory(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	snap := h.categories.snapshot()
	require.Contains(t, snap, "anime")
	assert.Equal(t, "/downloads/anime", snap["anime"].SavePath)

	removeForm := url.Values{"categories": {"anime"}}
	removeReq := httptest.NewRequest(http.MethodPost, "/api/v2/torrents/removeCategories", strings.NewReader(removeForm.Encode()))
	removeReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	removeRec := httptest.NewRecorder()
	h.handleRemoveCategories(removeRec, removeReq)
	require.Equal(t, http.StatusOK, removeRec.Code)
	assert.NotContains(t, h.categories.snapshot(), "anime")
}

func TestDecodeMagnet_RecoversFieldsRegardlessOfSitePrefix(t *testing.T) {
	t.Parallel()

	uri := magnet.Build(magnet.Params{
		Title: "Frieren S01E01", Slug: "frieren", Season: 1, Episode: 1,
		Language: "German Dub", Provider: "VOE", Site: "aniworld.to", Mode: "strm",
	})

	d, err := decodeMagnet(uri)
	require.NoError(t, err)
	assert.Equal(t, "Frieren S01E01", d.Title)
	assert.Equal(t, "frieren", d.Slug)
	assert.Equal(t, 1, d.Season)
	assert.Equal(t, 1, d.Episode)
	assert.Equal(t, "German Dub", d.Language)
	assert.Equal(t, "VOE", d.Provider)
	assert.Equal(t, "aniworld.to", d.Site)
	assert.Equal(t, "strm", d.Mode)
	assert.Len(t, d.Hash, 40)
}

func TestDecodeMagnet_RejectsNonMagnetURI(t *testing.T) {
	t.Parallel()

	_, err := decodeMagnet("not-a-magnet")
	assert.ErrorIs(t, err, magnet.ErrNotMagnet)
}

func TestQbitState_ProjectsJobStatusVocabulary(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "downloading", qbitState(models.JobDownloading))
	assert.Equal(t, "downloading", qbitState(models.JobQueued))
	assert.Equal(t, "uploading", qbitState(models.JobCompleted))
	assert.Equal(t, "error", qbitState(models.JobFailed))
	assert.Equal(t, "pausedDL", qbitState(models.JobCancelled))
}

func TestHandleInfo_ProjectsClientTaskAndJobIntoTorrentEntry(t *testing.T) {
	t.Parallel()

	h := newHandlers(t)
	ctx := context.Background()

	job, err := models.CreateJob(ctx, h.db, "aniworld.to")
	require.NoError(t, err)
	status := models.JobCompleted
	progress := 100.0
	resultPath := job.ID + ".mkv"
	_, err = models.UpdateJob(ctx, h.db, job.ID, models.JobUpdate{Status: &status, Progress: &progress, ResultPath: &resultPath})
	require.NoError(t, err)

	require.NoError(t, models.UpsertClientTask(ctx, h.db, models.ClientTask{
		Hash: strings.Repeat("a", 40), Name: "Frieren S01E01", Slug: "frieren",
		Season: 1, Episode: 1, Language: "German Dub", Site: "aniworld.to",
		JobID: sql.NullString{String: job.ID, Valid: true}, AddedOn: h.now(), State: "downloading",
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v2/torrents/info", nil)
	rec := httptest.NewRecorder()
	h.handleInfo(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"uploading"`)
	assert.Contains(t, rec.Body.String(), `"progress":1`)
}

func TestHandleDelete_RemovesClientTask(t *testing.T) {
	t.Parallel()

	h := newHandlers(t)
	ctx := context.Background()
	hash := strings.Repeat("b", 40)
	require.NoError(t, models.UpsertClientTask(ctx, h.db, models.ClientTask{
		Hash: hash, Name: "Frieren S01E01", Slug: "frieren", Site: "aniworld.to",
		AddedOn: h.now(), State: "downloading",
	}))

	form := url.Values{"hashes": {hash}}
	req := httptest.NewRequest(http.MethodPost, "/api/v2/torrents/delete", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.handleDelete(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	task, err := models.GetClientTask(ctx, h.db, hash)
	assert.Error(t, err)
	assert.Nil(t, task)
}
