package qbittorrent

import (
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Zzackllack/AniBridge-sub000/internal/config"
	"github.com/Zzackllack/AniBridge-sub000/internal/scheduler"
)

// Handlers wires the Job store and Scheduler into a qBittorrent WebAPI v2
// subset, grounded on original_source/app/api/qbittorrent/*.py's endpoint
// set and state-vocabulary mapping.
type Handlers struct {
	cfg        *config.Config
	db         *sql.DB
	scheduler  *scheduler.Scheduler
	categories *categoryStore
	nowFunc    func() time.Time
}

// NewHandlers constructs Handlers. db and scheduler may be nil in tests
// that only exercise stateless endpoints (version, preferences, auth).
func NewHandlers(cfg *config.Config, db *sql.DB, sched *scheduler.Scheduler) *Handlers {
	return &Handlers{
		cfg:        cfg,
		db:         db,
		scheduler:  sched,
		categories: newCategoryStore(),
		nowFunc:    time.Now,
	}
}

func (h *Handlers) now() time.Time {
	if h.nowFunc != nil {
		return h.nowFunc()
	}
	return time.Now()
}

// savePath returns the public-facing path Sonarr/Prowlarr should see for a
// completed download, honoring QBIT_PUBLIC_SAVE_PATH when configured so a
// containerized AniBridge can present a path meaningful to the *arr host.
func (h *Handlers) savePath(internal string) string {
	if h.cfg.QbitPublicSavePath != "" {
		if internal == "" {
			return h.cfg.QbitPublicSavePath
		}
		return strings.TrimRight(h.cfg.QbitPublicSavePath, "/") + "/" + strings.TrimLeft(strings.TrimPrefix(internal, h.cfg.DownloadDir), "/")
	}
	if internal != "" {
		return internal
	}
	return h.cfg.DownloadDir
}

// Router mounts the subset of qBittorrent WebAPI v2 that Sonarr/Prowlarr's
// download-client probing and polling needs.
func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/logout", h.handleLogout)

	r.Get("/app/version", h.handleVersion)
	r.Get("/app/webapiVersion", h.handleWebAPIVersion)
	r.Get("/app/buildInfo", h.handleBuildInfo)
	r.Get("/app/preferences", h.handlePreferences)

	r.Get("/torrents/categories", h.handleCategories)
	r.Post("/torrents/createCategory", h.handleCreateCategory)
	r.Post("/torrents/editCategory", h.handleEditCategory)
	r.Post("/torrents/removeCategories", h.handleRemoveCategories)

	r.Post("/torrents/add", h.handleAdd)
	r.Get("/torrents/info", h.handleInfo)
	r.Get("/torrents/files", h.handleFiles)
	r.Get("/torrents/properties", h.handleProperties)
	r.Post("/torrents/delete", h.handleDelete)

	r.Get("/sync/maindata", h.handleMainData)
	r.Get("/transfer/info", h.handleTransferInfo)
	return r
}
