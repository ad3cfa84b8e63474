package torznab

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/Zzackllack/AniBridge-sub000/internal/config"
	"github.com/Zzackllack/AniBridge-sub000/internal/episodemapping"
	"github.com/Zzackllack/AniBridge-sub000/internal/naming"
	"github.com/Zzackllack/AniBridge-sub000/internal/providers"
	"github.com/Zzackllack/AniBridge-sub000/internal/specials"
)

// maxAbsoluteCatalogSeasons bounds how many seasons absolute-number
// catalogue scraping probes before giving up, mirroring the bound
// TorznabSeasonSearchMaxEpisodes places on per-season episode discovery.
const maxAbsoluteCatalogSeasons = 20

// handleTVSearch implements t=tvsearch: episode search when ep is given,
// season discovery otherwise, matching torznab_api's tvsearch branch.
func (h *Handlers) handleTVSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	seasonStr := q.Get("season")
	if seasonStr == "" {
		writeEmptyRSS(w, h.cfg.IndexerName)
		return
	}
	season, err := strconv.Atoi(seasonStr)
	if err != nil {
		writeEmptyRSS(w, h.cfg.IndexerName)
		return
	}

	var episode int
	hasEpisode := false
	if epStr := q.Get("ep"); epStr != "" {
		if e, err := strconv.Atoi(epStr); err == nil {
			episode = e
			hasEpisode = true
		}
	}

	ids := parseSpecialIds(q)
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		if title, ok := h.specials.SeriesTitleFromIDs(r.Context(), ids); ok {
			query = title
		}
	}
	if query == "" {
		writeEmptyRSS(w, h.cfg.IndexerName)
		return
	}

	candidate, ok := h.index.ResolveForSite(r.Context(), query, "")
	if !ok {
		writeEmptyRSS(w, h.cfg.IndexerName)
		return
	}
	siteFound, slug := candidate.Site, candidate.Slug
	displayTitle := candidate.Title
	if displayTitle == "" {
		displayTitle = query
	}

	if h.db != nil {
		var episodePtr *int
		if hasEpisode {
			episodePtr = &episode
		}
		if absNumber, ok := episodemapping.DetectAbsoluteNumber(query, &season, episodePtr, false); ok {
			mapped, resolveErr := episodemapping.ResolveAbsoluteEpisode(r.Context(), h.db, slug, absNumber, h.absoluteCatalogFetcher(siteFound, slug, query, displayTitle, ids))
			if resolveErr != nil || mapped == nil {
				writeEmptyRSS(w, h.cfg.IndexerName)
				return
			}
			season, episode = mapped.SeasonNumber, mapped.EpisodeNumber
			hasEpisode = true
		}
	}

	rss := newRSS(h.cfg.IndexerName)
	channel := &rss.Channel
	limit := parseLimit(q)
	count := 0

	if hasEpisode {
		emitted, _ := h.emitEpisodeItems(r.Context(), channel, slug, siteFound, displayTitle, query, season, episode, ids, limit)
		count += emitted
	} else {
		episodeNumbers := h.resolveSeasonEpisodeNumbers(r.Context(), slug, siteFound, query, displayTitle, season, ids)
		for _, ep := range episodeNumbers {
			remaining := limit - count
			if remaining <= 0 {
				break
			}
			emitted, limitHit := h.emitEpisodeItems(r.Context(), channel, slug, siteFound, displayTitle, query, season, ep, ids, remaining)
			count += emitted
			if limitHit {
				break
			}
		}
	}

	writeXML(w, "application/rss+xml; charset=utf-8", rss)
}

func parseSpecialIds(q map[string][]string) specials.Ids {
	get := func(key string) string {
		if v, ok := q[key]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	var ids specials.Ids
	if v := get("tvdbid"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			ids.TVDBID = n
		}
	}
	if v := get("tmdbid"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			ids.TMDBID = n
		}
	}
	ids.IMDBID = get("imdbid")
	return ids
}

// emitEpisodeItems emits RSS items for one requested (season, episode) pair
// across candidate languages, resolving a specials alias mapping when a
// direct probe fails on aniworld.to, matching emit_tvsearch_episode_items.
func (h *Handlers) emitEpisodeItems(ctx context.Context, channel *Channel, slug, site, displayTitle, query string, requestSeason, requestEpisode int, ids specials.Ids, maxItems int) (emitted int, limitHit bool) {
	candidateLangs := h.candidateLanguages(ctx, site, slug, requestSeason, requestEpisode)
	seed, leech := seeders(h.cfg)
	now := h.now()

	count := 0
	specialMapAttempted := false
	var specialMap *specials.Mapping

	for _, lang := range candidateLangs {
		if maxItems > 0 && count >= maxItems {
			return count, true
		}

		sourceSeason, sourceEpisode := requestSeason, requestEpisode
		aliasSeason, aliasEpisode := requestSeason, requestEpisode
		if specialMap != nil {
			sourceSeason, sourceEpisode = specialMap.SourceSeason, specialMap.SourceEpisode
			aliasSeason, aliasEpisode = specialMap.AliasSeason, specialMap.AliasEpisode
		}

		res, fresh := h.getCachedAvailability(ctx, site, slug, sourceSeason, sourceEpisode, lang)
		if !fresh {
			res = probeEpisodeQuality(ctx, h.registry, providers.Episode{Site: site, Slug: slug, Season: sourceSeason, Episode: sourceEpisode}, "", lang)

			if !res.Available && h.cfg.SpecialsMetadataEnabled && site == "aniworld.to" {
				if !specialMapAttempted {
					specialMapAttempted = true
					if m, ok := h.specials.ResolveFromEpisodeRequest(ctx, site, slug, requestSeason, requestEpisode, query, displayTitle, ids); ok {
						specialMap = &m
					}
				}
				if specialMap != nil {
					res, sourceSeason, sourceEpisode, aliasSeason, aliasEpisode = h.tryMappedSpecialProbe(ctx, site, slug, lang, specialMap)
				}
			}

			var extra any
			if specialMap != nil {
				extra = map[string]int{"special_alias_season": aliasSeason, "special_alias_episode": aliasEpisode}
			}
			h.upsertAvailability(ctx, site, slug, sourceSeason, sourceEpisode, lang, res, extra)
		}

		if !res.Available {
			continue
		}

		releaseTitle := naming.BuildReleaseName(naming.Spec{
			SeriesTitle: displayTitle, Season: aliasSeason, Episode: aliasEpisode,
			Height: res.Height, Vcodec: res.Vcodec, Language: lang,
			SourceTag: h.cfg.SourceTag, ReleaseGroup: h.cfg.ReleaseGroup,
		})
		guidBase := buildGUID(site, slug, sourceSeason, sourceEpisode, lang, aliasSeason, aliasEpisode, false)

		if h.cfg.StrmFilesMode == config.StrmFilesNo || h.cfg.StrmFilesMode == config.StrmFilesBoth {
			if maxItems > 0 && count >= maxItems {
				return count, true
			}
			m := buildMagnetFor(releaseTitle, slug, sourceSeason, sourceEpisode, lang, res.Provider, site, "")
			channel.Items = append(channel.Items, buildItem(itemParams{
				Title: releaseTitle, Magnet: m, PubDate: now, CatID: h.cfg.TorznabCatAnime,
				GUID: guidBase, Seeders: seed, Leechers: leech,
			}))
			count++
		}
		if h.cfg.StrmFilesMode == config.StrmFilesOnly || h.cfg.StrmFilesMode == config.StrmFilesBoth {
			if maxItems > 0 && count >= maxItems {
				return count, true
			}
			title := releaseTitle + strmSuffix
			m := buildMagnetFor(title, slug, sourceSeason, sourceEpisode, lang, res.Provider, site, "strm")
			channel.Items = append(channel.Items, buildItem(itemParams{
				Title: title, Magnet: m, PubDate: now, CatID: h.cfg.TorznabCatAnime,
				GUID: guidBase + ":strm", Seeders: seed, Leechers: leech,
			}))
			count++
		}
	}
	return count, false
}

// tryMappedSpecialProbe probes availability for a specials-mapped source
// episode, preferring a fresh cache hit, matching _try_mapped_special_probe.
func (h *Handlers) tryMappedSpecialProbe(ctx context.Context, site, slug, lang string, m *specials.Mapping) (res probeResult, sourceSeason, sourceEpisode, aliasSeason, aliasEpisode int) {
	sourceSeason, sourceEpisode = m.SourceSeason, m.SourceEpisode
	aliasSeason, aliasEpisode = m.AliasSeason, m.AliasEpisode

	if cached, fresh := h.getCachedAvailability(ctx, site, slug, sourceSeason, sourceEpisode, lang); fresh {
		return cached, sourceSeason, sourceEpisode, aliasSeason, aliasEpisode
	}
	res = probeEpisodeQuality(ctx, h.registry, providers.Episode{Site: site, Slug: slug, Season: sourceSeason, Episode: sourceEpisode}, "", lang)
	return res, sourceSeason, sourceEpisode, aliasSeason, aliasEpisode
}

// resolveSeasonEpisodeNumbers discovers a season's episode numbers via
// metadata, the availability cache, and fallback probing, in that priority
// order, matching resolve_season_episode_numbers.
func (h *Handlers) resolveSeasonEpisodeNumbers(ctx context.Context, slug, site, query, displayTitle string, season int, ids specials.Ids) []int {
	var metadataEpisodes []int
	if nums, ok := h.specials.SeasonEpisodeNumbers(ctx, ids, query, displayTitle, season); ok {
		metadataEpisodes = nums
	}

	var cachedEpisodes []int
	if h.cache != nil {
		if nums, err := h.cache.ListCachedEpisodeNumbers(ctx, site, slug, season); err == nil {
			cachedEpisodes = nums
		}
	}

	if merged := mergeSortedUnique(metadataEpisodes, cachedEpisodes); len(merged) > 0 {
		return merged
	}

	var discovered []int
	consecutiveMisses := 0
	for ep := 1; ep <= h.cfg.TorznabSeasonSearchMaxEpisodes; ep++ {
		if h.probeEpisodeAvailableForDiscovery(ctx, slug, site, season, ep) {
			discovered = append(discovered, ep)
			consecutiveMisses = 0
			continue
		}
		consecutiveMisses++
		if consecutiveMisses >= h.cfg.TorznabSeasonSearchMaxConsecutiveMiss {
			break
		}
	}
	return discovered
}

// probeEpisodeAvailableForDiscovery reports whether an episode is available
// in at least one candidate language, upserting availability as a
// side-effect, matching _probe_episode_available_for_discovery.
func (h *Handlers) probeEpisodeAvailableForDiscovery(ctx context.Context, slug, site string, season, episode int) bool {
	for _, lang := range h.candidateLanguages(ctx, site, slug, season, episode) {
		if cached, fresh := h.getCachedAvailability(ctx, site, slug, season, episode, lang); fresh && cached.Available {
			return true
		}
		res := probeEpisodeQuality(ctx, h.registry, providers.Episode{Site: site, Slug: slug, Season: season, Episode: episode}, "", lang)
		h.upsertAvailability(ctx, site, slug, season, episode, lang, res, nil)
		if res.Available {
			return true
		}
	}
	return false
}

// absoluteCatalogFetcher builds an episodemapping.CatalogFetcher by running
// the season/episode discovery probing of resolveSeasonEpisodeNumbers
// across every season of a series, assigning running absolute numbers.
// This replaces the original's AniWorld-library catalogue lookup, which has
// no Go equivalent in this corpus.
func (h *Handlers) absoluteCatalogFetcher(site, slug, query, displayTitle string, ids specials.Ids) episodemapping.CatalogFetcher {
	return func(ctx context.Context) ([]episodemapping.CatalogEntry, error) {
		var entries []episodemapping.CatalogEntry
		absolute := 0
		missedSeasons := 0
		for season := 1; season <= maxAbsoluteCatalogSeasons; season++ {
			episodes := h.resolveSeasonEpisodeNumbers(ctx, slug, site, query, displayTitle, season, ids)
			if len(episodes) == 0 {
				missedSeasons++
				if missedSeasons >= 2 {
					break
				}
				continue
			}
			missedSeasons = 0
			for _, ep := range episodes {
				absolute++
				entries = append(entries, episodemapping.CatalogEntry{
					Absolute: absolute, Season: season, Episode: ep,
				})
			}
		}
		return entries, nil
	}
}

func mergeSortedUnique(a, b []int) []int {
	seen := map[int]struct{}{}
	var out []int
	for _, n := range append(append([]int{}, a...), b...) {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
