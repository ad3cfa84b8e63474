package torznab

import (
	"database/sql"
	"encoding/xml"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Zzackllack/AniBridge-sub000/internal/availability"
	"github.com/Zzackllack/AniBridge-sub000/internal/config"
	"github.com/Zzackllack/AniBridge-sub000/internal/providers"
	"github.com/Zzackllack/AniBridge-sub000/internal/specials"
	"github.com/Zzackllack/AniBridge-sub000/internal/titleindex"
)

const strmSuffix = " [STRM]"

// Handlers wires the Title Index, the specials mapper, the availability
// cache and the Provider Resolver into the four Torznab verbs, grounded on
// api/torznab/api.py's torznab_api router.
type Handlers struct {
	cfg      *config.Config
	index    *titleindex.Resolver
	specials *specials.Resolver
	cache    *availability.Cache
	registry *providers.Registry
	db       *sql.DB
	nowFunc  func() time.Time
}

// NewHandlers constructs Handlers. db may be nil; it is only consulted for
// absolute-numbering translation, which is skipped when unset.
func NewHandlers(cfg *config.Config, index *titleindex.Resolver, sp *specials.Resolver, cache *availability.Cache, registry *providers.Registry, db *sql.DB) *Handlers {
	return &Handlers{cfg: cfg, index: index, specials: sp, cache: cache, registry: registry, db: db, nowFunc: time.Now}
}

func (h *Handlers) now() time.Time {
	if h.nowFunc != nil {
		return h.nowFunc()
	}
	return time.Now()
}

func writeXML(w http.ResponseWriter, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode torznab response")
	}
}

func writeEmptyRSS(w http.ResponseWriter, indexerName string) {
	writeXML(w, "application/rss+xml; charset=utf-8", newRSS(indexerName))
}

// requireAPIKey checks the apikey parameter against the configured indexer
// key, matching _require_apikey. Callers must exempt t=caps themselves.
func (h *Handlers) requireAPIKey(apikey string) bool {
	if h.cfg.IndexerAPIKey == "" {
		return true
	}
	return apikey != "" && apikey == h.cfg.IndexerAPIKey
}

// ServeHTTP dispatches GET /torznab/api requests across the four verbs.
func (h *Handlers) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	verb := strings.ToLower(strings.TrimSpace(q.Get("t")))
	apikey := q.Get("apikey")

	if verb != "caps" && !h.requireAPIKey(apikey) {
		http.Error(w, "invalid apikey", http.StatusUnauthorized)
		return
	}

	switch verb {
	case "caps":
		writeXML(w, "application/xml; charset=utf-8", BuildCaps(h.cfg))
	case "search":
		h.handleSearch(w, r)
	case "movie", "movie-search":
		h.handleMovie(w, r)
	case "tvsearch":
		h.handleTVSearch(w, r)
	default:
		http.Error(w, "invalid t", http.StatusBadRequest)
	}
}

func parseLimit(q map[string][]string) int {
	const defaultLimit = 50
	v := ""
	if vals, ok := q["limit"]; ok && len(vals) > 0 {
		v = vals[0]
	}
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > 100 {
		return 100
	}
	return n
}

func seeders(cfg *config.Config) (int, int) {
	s := cfg.TorznabFakeSeeders
	l := cfg.TorznabFakeLeechers
	if s < 0 {
		s = 0
	}
	if l < 0 {
		l = 0
	}
	return s, l
}

// buildTestItem synthesizes the connectivity-test item used when t=search
// or t=movie is called with an empty q and TORZNAB_RETURN_TEST_RESULT is
// enabled, matching the inline synthetic-item blocks in torznab_api.
func (h *Handlers) buildTestItem(catID int) []Item {
	cfg := h.cfg
	seed, leech := seeders(cfg)
	now := h.now()
	guidBase := buildGUID("aniworld.to", cfg.TorznabTestSlug, cfg.TorznabTestSeason, cfg.TorznabTestEpisode, cfg.TorznabTestLanguage, cfg.TorznabTestSeason, cfg.TorznabTestEpisode, false)

	var items []Item
	if cfg.StrmFilesMode == config.StrmFilesNo || cfg.StrmFilesMode == config.StrmFilesBoth {
		m := buildTestMagnet(cfg, "")
		items = append(items, buildItem(itemParams{
			Title: cfg.TorznabTestTitle, Magnet: m, PubDate: now, CatID: catID,
			GUID: guidBase, Seeders: seed, Leechers: leech,
		}))
	}
	if cfg.StrmFilesMode == config.StrmFilesOnly || cfg.StrmFilesMode == config.StrmFilesBoth {
		m := buildTestMagnet(cfg, "strm")
		items = append(items, buildItem(itemParams{
			Title: cfg.TorznabTestTitle + strmSuffix, Magnet: m, PubDate: now, CatID: catID,
			GUID: guidBase + ":strm", Seeders: seed, Leechers: leech,
		}))
	}
	return items
}
