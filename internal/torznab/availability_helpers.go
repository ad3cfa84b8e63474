package torznab

import (
	"context"

	"github.com/Zzackllack/AniBridge-sub000/internal/availability"
)

// candidateLanguages returns the fresh cached languages for (site, slug,
// season, episode), or the site's default ordering if none are fresh,
// matching the repeated "cached_langs if cached_langs else default_langs"
// pattern across api.py's search helpers.
func (h *Handlers) candidateLanguages(ctx context.Context, site, slug string, season, episode int) []string {
	if h.cache != nil {
		if langs, err := h.cache.ListAvailableLanguages(ctx, site, slug, season, episode); err == nil && len(langs) > 0 {
			return langs
		}
	}
	return defaultLanguagesForSite(site)
}

// getCachedAvailability returns a fresh cached probe result, or
// (probeResult{}, false) if absent/stale.
func (h *Handlers) getCachedAvailability(ctx context.Context, site, slug string, season, episode int, language string) (probeResult, bool) {
	if h.cache == nil {
		return probeResult{}, false
	}
	res, ok := h.cache.Get(ctx, site, slug, season, episode, language)
	if !ok {
		return probeResult{}, false
	}
	return probeResult{Available: res.Available, Height: res.Height, Vcodec: res.Vcodec, Provider: res.Provider}, true
}

// upsertAvailability persists a probe outcome, matching the repeated
// try/except upsert_availability blocks across api.py.
func (h *Handlers) upsertAvailability(ctx context.Context, site, slug string, season, episode int, language string, res probeResult, extra any) {
	if h.cache == nil {
		return
	}
	_ = h.cache.Upsert(ctx, site, slug, season, episode, language, availability.Result{
		Available: res.Available, Height: res.Height, Vcodec: res.Vcodec, Provider: res.Provider,
	}, extra)
}
