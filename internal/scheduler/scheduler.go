// Package scheduler runs the bounded worker pool that executes Jobs:
// scraping, resolving, fetching bytes (or writing a .strm pointer), and
// reporting progress. Grounded on original_source/app/core/scheduler.py's
// executor/RUNNING-registry design, translated from a thread pool + Event
// pair to a goroutine pool bounded by a weighted semaphore and cancelled via
// context.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/Zzackllack/AniBridge-sub000/internal/apperr"
	"github.com/Zzackllack/AniBridge-sub000/internal/config"
	"github.com/Zzackllack/AniBridge-sub000/internal/metrics"
	"github.com/Zzackllack/AniBridge-sub000/internal/models"
	"github.com/Zzackllack/AniBridge-sub000/internal/strmwriter"
)

// Request describes one unit of scheduled work, mirroring the original
// download/STRM request dict.
type Request struct {
	Slug      string
	Season    int
	Episode   int
	Language  string
	Provider  string
	TitleHint string
	Link      string
	Site      string
	Mode      string // "" (download) or "strm"
}

// ProgressFunc reports incremental download progress. Implementations
// return apperr.ErrCancelled once the job's context has been cancelled so
// the downloader can unwind promptly.
type ProgressFunc func(downloadedBytes, totalBytes int64, speed float64, etaSeconds int64) error

// EpisodeDownloader performs the actual scrape+resolve+fetch for a
// download-mode Request, writing the final file under destDir and returning
// its path.
type EpisodeDownloader interface {
	Download(ctx context.Context, req Request, destDir string, progress ProgressFunc) (resultPath string, err error)
}

// StrmResolver resolves a direct media URL for a STRM-mode Request.
type StrmResolver interface {
	Resolve(ctx context.Context, req Request) (directURL, providerUsed string, err error)
}

type runningEntry struct {
	cancel context.CancelFunc
}

// Scheduler owns the worker pool and the RUNNING registry of in-flight Jobs.
type Scheduler struct {
	db  *sql.DB
	sem *semaphore.Weighted

	mu      sync.Mutex
	running map[string]*runningEntry

	downloadDir   string
	strmProxyMode config.StrmProxyMode

	downloader  EpisodeDownloader
	strmResolve StrmResolver
}

// New constructs a Scheduler bounded to maxConcurrency simultaneous Jobs.
func New(db *sql.DB, maxConcurrency int, downloadDir string, strmProxyMode config.StrmProxyMode, downloader EpisodeDownloader, strmResolve StrmResolver) *Scheduler {
	return &Scheduler{
		db:            db,
		sem:           semaphore.NewWeighted(int64(maxConcurrency)),
		running:       make(map[string]*runningEntry),
		downloadDir:   downloadDir,
		strmProxyMode: strmProxyMode,
		downloader:    downloader,
		strmResolve:   strmResolve,
	}
}

// RecoverDanglingJobs must run once at startup, before any worker is
// scheduled: it moves every interrupted {queued, downloading} Job to
// failed, since no RUNNING entry survives a process restart to resume them.
func RecoverDanglingJobs(ctx context.Context, db *sql.DB) (int64, error) {
	return models.CleanupDanglingJobs(ctx, db)
}

// Schedule creates a Job row and starts its worker, returning the new
// Job's id immediately. The worker itself waits on the bounded semaphore,
// so scheduling never blocks the caller even at full concurrency.
func (s *Scheduler) Schedule(ctx context.Context, req Request) (string, error) {
	site := req.Site
	if site == "" {
		site = "aniworld.to"
	}

	job, err := models.CreateJob(ctx, s.db, site)
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.running[job.ID] = &runningEntry{cancel: cancel}
	s.mu.Unlock()

	mode := "download"
	if strings.EqualFold(strings.TrimSpace(req.Mode), "strm") {
		mode = "strm"
	}
	metrics.JobsScheduled.WithLabelValues(mode).Inc()

	go s.run(runCtx, job.ID, req)

	return job.ID, nil
}

// Cancel requests cooperative cancellation of a running Job, reporting
// whether the Job was actually tracked (already finished, or never
// scheduled, Jobs report false), matching cancel_job's RUNNING-registry
// lookup.
func (s *Scheduler) Cancel(jobID string) bool {
	s.mu.Lock()
	entry, ok := s.running[jobID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	entry.cancel()
	return true
}

func (s *Scheduler) unregister(jobID string) {
	s.mu.Lock()
	delete(s.running, jobID)
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context, jobID string, req Request) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.finishWithError(ctx, jobID, s.jobModeOf(req), err)
		s.unregister(jobID)
		return
	}
	defer s.sem.Release(1)
	defer s.unregister(jobID)

	if strings.EqualFold(strings.TrimSpace(req.Mode), "strm") {
		s.runStrm(ctx, jobID, req)
		return
	}
	s.runDownload(ctx, jobID, req)
}

func (s *Scheduler) jobModeOf(req Request) string {
	if strings.EqualFold(strings.TrimSpace(req.Mode), "strm") {
		return "strm"
	}
	return "download"
}

func (s *Scheduler) runDownload(ctx context.Context, jobID string, req Request) {
	site := req.Site
	if site == "" {
		site = "aniworld.to"
	}
	status := models.JobDownloading
	if _, err := models.UpdateJob(ctx, s.db, jobID, models.JobUpdate{
		Status: &status, SourceSite: &site,
	}); err != nil {
		log.Error().Err(err).Str("job", jobID).Msg("failed to mark job downloading")
	}

	progress := s.progressUpdater(ctx, jobID)
	dest, err := s.downloader.Download(ctx, req, s.downloadDir, progress)
	if err != nil {
		s.finishWithError(ctx, jobID, "download", err)
		return
	}

	completed := models.JobCompleted
	hundred := 100.0
	if _, err := models.UpdateJob(ctx, s.db, jobID, models.JobUpdate{
		Status: &completed, Progress: &hundred, ResultPath: &dest,
	}); err != nil {
		log.Error().Err(err).Str("job", jobID).Msg("failed to mark job completed")
	}
	metrics.JobsCompleted.WithLabelValues("download", "completed").Inc()
	if info, statErr := os.Stat(dest); statErr == nil {
		metrics.JobDownloadedBytes.Add(float64(info.Size()))
	}
}

func (s *Scheduler) runStrm(ctx context.Context, jobID string, req Request) {
	site := req.Site
	if site == "" {
		site = "aniworld.to"
	}
	status := models.JobDownloading
	if _, err := models.UpdateJob(ctx, s.db, jobID, models.JobUpdate{
		Status: &status, SourceSite: &site,
	}); err != nil {
		log.Error().Err(err).Str("job", jobID).Msg("failed to mark job downloading")
	}

	if ctx.Err() != nil {
		s.finishWithError(ctx, jobID, "strm", apperr.ErrCancelled)
		return
	}

	directURL, providerUsed, err := s.strmResolve.Resolve(ctx, req)
	if err != nil {
		s.finishWithError(ctx, jobID, "strm", err)
		return
	}
	if ctx.Err() != nil {
		s.finishWithError(ctx, jobID, "strm", apperr.ErrCancelled)
		return
	}

	baseName := strings.TrimSpace(req.TitleHint)
	if baseName == "" {
		baseName = fmt.Sprintf("%s.S%02dE%02d", req.Slug, req.Season, req.Episode)
	}
	outPath, err := strmwriter.AllocateUniquePath(s.downloadDir, baseName)
	if err != nil {
		s.finishWithError(ctx, jobID, "strm", err)
		return
	}

	strmURL := directURL
	if s.strmProxyMode == config.StrmProxyModeProxy {
		if err := models.UpsertStrmMapping(ctx, s.db, models.StrmUrlMapping{
			Site: site, Slug: req.Slug, Season: req.Season, Episode: req.Episode,
			Language: req.Language, ResolvedURL: directURL,
		}); err != nil {
			log.Error().Err(err).Str("job", jobID).Msg("failed to persist strm mapping")
		}
	}

	content, err := strmwriter.BuildContent(strmURL)
	if err != nil {
		s.finishWithError(ctx, jobID, "strm", err)
		return
	}
	if err := strmwriter.WriteAtomic(outPath, content); err != nil {
		s.finishWithError(ctx, jobID, "strm", err)
		return
	}

	completed := models.JobCompleted
	hundred := 100.0
	size := int64(len(content))
	msg := fmt.Sprintf("STRM created (provider=%s)", providerUsed)
	if _, err := models.UpdateJob(ctx, s.db, jobID, models.JobUpdate{
		Status: &completed, Progress: &hundred, ResultPath: &outPath,
		DownloadedBytes: &size, TotalBytes: &size, Message: &msg,
	}); err != nil {
		log.Error().Err(err).Str("job", jobID).Msg("failed to mark strm job completed")
	}
	metrics.JobsCompleted.WithLabelValues("strm", "completed").Inc()
}

// finishWithError classifies err onto a terminal Job status, matching the
// original's OSError/"Cancel"-substring/generic-exception branches.
func (s *Scheduler) finishWithError(ctx context.Context, jobID, mode string, err error) {
	status := models.JobFailed
	msg := err.Error()

	switch {
	case errors.Is(err, context.Canceled), apperr.IsCancelled(err):
		status = models.JobCancelled
		msg = "Cancelled by user"
	case apperr.KindOf(err) == apperr.KindFilesystemPermission:
		msg = fmt.Sprintf("Download dir not writable: %v", err)
	case strings.Contains(strings.ToLower(msg), "cancel"):
		status = models.JobCancelled
		msg = "Cancelled by user"
	}

	if _, uErr := models.UpdateJob(context.Background(), s.db, jobID, models.JobUpdate{Status: &status, Message: &msg}); uErr != nil {
		log.Error().Err(uErr).Str("job", jobID).Msg("failed to record job failure")
	}
	metrics.JobsCompleted.WithLabelValues(mode, string(status)).Inc()
}

// progressUpdater returns a ProgressFunc that throttles database writes to
// ~1% steps of total, matching
// _progress_updater's step = max(1, total // 100) rule. It returns
// apperr.ErrCancelled once the job's context is done so the downloader can
// stop promptly.
func (s *Scheduler) progressUpdater(ctx context.Context, jobID string) ProgressFunc {
	lastStep := int64(-1)

	return func(downloaded, total int64, speed float64, eta int64) error {
		if ctx.Err() != nil {
			return apperr.ErrCancelled
		}

		progress := 0.0
		shouldWrite := true
		if total > 0 {
			step := total / 100
			if step < 1 {
				step = 1
			}
			thisStep := downloaded / step
			shouldWrite = downloaded == total || thisStep != lastStep
			lastStep = thisStep
			progress = float64(downloaded) / float64(total) * 100.0
			if progress > 100 {
				progress = 100
			}
		}

		if !shouldWrite {
			return nil
		}

		downloading := models.JobDownloading
		upd := models.JobUpdate{
			Status: &downloading, Progress: &progress, DownloadedBytes: &downloaded,
		}
		if total > 0 {
			upd.TotalBytes = &total
		}
		if speed > 0 {
			upd.Speed = &speed
		}
		if eta > 0 {
			upd.ETA = &eta
		}
		if _, err := models.UpdateJob(context.Background(), s.db, jobID, upd); err != nil {
			log.Warn().Err(err).Str("job", jobID).Msg("progress write failed")
		}
		return nil
	}
}

// Shutdown cancels every running Job's context and clears the registry;
// later Schedule calls are still accepted. It does not block for in-flight
// goroutines to exit, matching the
// original's shutdown_executor(wait=False).
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.running {
		entry.cancel()
		delete(s.running, id)
	}
}
