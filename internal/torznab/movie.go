package torznab

import (
	"net/http"
	"strings"
)

// handleMovie implements t=movie/movie-search: a synthetic test item for an
// empty query, otherwise a megakino-site preview search with no anime
// fallback, matching torznab_api's movie branch.
func (h *Handlers) handleMovie(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	limit := parseLimit(q)

	rss := newRSS(h.cfg.IndexerName)
	channel := &rss.Channel

	switch {
	case query == "" && h.cfg.TorznabReturnTestResult:
		channel.Items = append(channel.Items, h.buildTestItem(h.cfg.TorznabCatMovie)...)
	case query != "":
		h.handlePreviewSearch(r.Context(), channel, query, h.cfg.TorznabCatMovie, megakinoSite, limit)
	}

	writeXML(w, "application/rss+xml; charset=utf-8", rss)
}
