// Command anibridge starts the synthetic Torznab indexer and qBittorrent
// shim: it loads configuration, opens the embedded database, recovers any
// Jobs left dangling by an unclean restart, starts the background
// maintenance loops, and serves every HTTP surface behind one listener,
// grounded on the teacher's server/main.go sequencing (config -> services ->
// routes -> graceful shutdown) and lifespan.py's startup/shutdown ordering.
package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Zzackllack/AniBridge-sub000/internal/availability"
	"github.com/Zzackllack/AniBridge-sub000/internal/background"
	"github.com/Zzackllack/AniBridge-sub000/internal/config"
	"github.com/Zzackllack/AniBridge-sub000/internal/database"
	"github.com/Zzackllack/AniBridge-sub000/internal/downloader"
	"github.com/Zzackllack/AniBridge-sub000/internal/httpx"
	"github.com/Zzackllack/AniBridge-sub000/internal/jobcontrol"
	"github.com/Zzackllack/AniBridge-sub000/internal/logging"
	"github.com/Zzackllack/AniBridge-sub000/internal/metrics"
	"github.com/Zzackllack/AniBridge-sub000/internal/providers"
	"github.com/Zzackllack/AniBridge-sub000/internal/qbittorrent"
	"github.com/Zzackllack/AniBridge-sub000/internal/scheduler"
	"github.com/Zzackllack/AniBridge-sub000/internal/specials"
	"github.com/Zzackllack/AniBridge-sub000/internal/strmproxy"
	"github.com/Zzackllack/AniBridge-sub000/internal/titleindex"
	"github.com/Zzackllack/AniBridge-sub000/internal/torznab"
)

// version is overridable at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	aniworldHrefPattern = regexp.MustCompile(`/anime/stream/([^/?#]+)`)
	sToHrefPattern      = regexp.MustCompile(`/serie/stream/([^/?#]+)`)
)

func main() {
	cfg := config.Load()
	logger := logging.Init(cfg.Env, cfg.LogLevel)
	logger.Info().Str("version", version).Msg("starting anibridge")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if err := cfg.EnsureWritableDirs(); err != nil {
		logger.Fatal().Err(err).Msg("data/download directories not writable")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close(db)

	if recovered, err := scheduler.RecoverDanglingJobs(ctx, db); err != nil {
		logger.Error().Err(err).Msg("failed to recover dangling jobs")
	} else if recovered > 0 {
		logger.Warn().Int64("count", recovered).Msg("marked dangling jobs as failed after restart")
	}

	registry := providers.NewRegistry(cfg.ProviderOrder, map[string]providers.Provider{})
	dl := downloader.New(registry, cfg.SourceTag, cfg.ReleaseGroup, cfg.DownloadRateLimitBytesPerSec)
	sched := scheduler.New(db, cfg.MaxConcurrency, cfg.DownloadDir, cfg.StrmProxyMode, dl, dl)
	defer sched.Shutdown()

	availCache, err := availability.New(db, cfg.AvailabilityTTLHours)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct availability cache")
	}

	titleIdx := titleindex.New([]titleindex.SiteConfig{
		{Site: "aniworld.to", HrefPattern: aniworldHrefPattern, IndexURL: "https://aniworld.to/animes", RefreshHours: float64(cfg.TitlesRefreshHours), SearchPriority: 0},
		{Site: "s.to", HrefPattern: sToHrefPattern, IndexURL: "https://s.to/serien", RefreshHours: float64(cfg.TitlesRefreshHours), SearchPriority: 1},
	}, httpx.DefaultClient)
	titleResolver := titleindex.NewResolver(titleIdx, titleindex.DefaultMinConfidence)

	fetchFilme := func(ctx context.Context, site, slug string) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+site+"/anime/stream/"+slug+"/filme", nil)
		if err != nil {
			return "", err
		}
		resp, err := httpx.DefaultClient.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return "", err
		}
		return string(body), nil
	}
	specialsResolver := specials.NewResolver(
		httpx.DefaultClient,
		cfg.SpecialsMatchConfidenceThreshold,
		time.Duration(cfg.SpecialsMetadataCacheTTLMinutes)*time.Minute,
		fetchFilme,
	)

	torznabHandlers := torznab.NewHandlers(cfg, titleResolver, specialsResolver, availCache, registry, db)
	qbitHandlers := qbittorrent.NewHandlers(cfg, db, sched)
	jobHandlers := jobcontrol.NewHandlers(db, sched)

	strmAuth := strmproxy.NewAuthenticator(cfg.StrmProxyAuth, cfg.StrmProxySecret, cfg.StrmProxyTokenTTLSeconds)
	strmURLs := strmproxy.NewURLBuilder(cfg.StrmPublicBaseURL, strmAuth)
	strmStore := strmproxy.NewStore(db, cfg.StrmProxyCacheTTLSeconds)
	strmResolver := strmproxy.NewResolver(registry, strmStore, cfg.ProxyEnabled)
	strmHandlers := strmproxy.NewHandlers(strmAuth, strmURLs, strmResolver)

	router := chi.NewRouter()
	router.Get("/torznab/api", torznabHandlers.ServeHTTP)
	router.Mount("/api/v2", qbitHandlers.Router())
	router.Mount("/", jobHandlers.Router())
	router.Get("/strm/stream", strmHandlers.ServeStream)
	router.Head("/strm/stream", strmHandlers.ServeStream)
	router.Get("/strm/proxy/{name}", strmHandlers.ServeProxy)
	router.Head("/strm/proxy/{name}", strmHandlers.ServeProxy)
	router.Get("/metrics", metrics.Handler().ServeHTTP)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	bg := background.New(background.Config{
		DownloadDir:              cfg.DownloadDir,
		DownloadsTTLHours:        cfg.DownloadsTTLHours,
		CleanupScanIntervalMin:   cfg.CleanupScanIntervalMin,
		PublicIPCheckEnabled:     cfg.PublicIPCheckEnabled,
		PublicIPCheckIntervalMin: cfg.PublicIPCheckIntervalMin,
		MegakinoCandidates:       cfg.MegakinoCandidates,
		MegakinoCheckIntervalMin: cfg.MegakinoCheckIntervalMin,
		GithubOwner:              cfg.GithubOwner,
		GithubRepo:               cfg.GithubRepo,
		GhcrImage:                cfg.GhcrImage,
		Version:                  version,
	}, httpx.DefaultClient)

	bgCtx, bgCancel := context.WithCancel(ctx)
	go func() {
		if err := bg.Run(bgCtx); err != nil {
			logger.Error().Err(err).Msg("background services exited")
		}
	}()
	defer bgCancel()

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming endpoints (SSE, /strm/stream) hold the connection open
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	sched.Shutdown()
	bgCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during http server shutdown")
	}
	logger.Info().Msg("anibridge shut down cleanly")
}
