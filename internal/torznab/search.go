package torznab

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/Zzackllack/AniBridge-sub000/internal/config"
	"github.com/Zzackllack/AniBridge-sub000/internal/naming"
	"github.com/Zzackllack/AniBridge-sub000/internal/providers"
	"github.com/Zzackllack/AniBridge-sub000/internal/specials"
)

// handleSearch implements t=search: a synthetic test item for an empty
// query, movie-category preview search with anime fallback when the
// request names the movie category, and specials-then-preview search
// otherwise, matching torznab_api's "search" branch.
func (h *Handlers) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	limit := parseLimit(q)

	catID := h.cfg.TorznabCatAnime
	moviePreferred := false
	if cat := q.Get("cat"); cat != "" {
		for _, c := range strings.Split(cat, ",") {
			if strings.TrimSpace(c) == strconv.Itoa(h.cfg.TorznabCatMovie) {
				catID = h.cfg.TorznabCatMovie
				moviePreferred = true
			}
		}
	}

	rss := newRSS(h.cfg.IndexerName)
	channel := &rss.Channel

	switch {
	case query == "" && h.cfg.TorznabReturnTestResult:
		channel.Items = append(channel.Items, h.buildTestItem(catID)...)
	case query == "":
		// no test result configured, empty feed.
	case moviePreferred:
		count := h.handlePreviewSearch(r.Context(), channel, query, h.cfg.TorznabCatMovie, megakinoSite, limit)
		if count == 0 {
			h.handlePreviewSearch(r.Context(), channel, query, h.cfg.TorznabCatAnime, "", limit)
		}
	default:
		specialCount := 0
		if h.cfg.SpecialsMetadataEnabled {
			specialCount = h.handleSpecialSearch(r.Context(), channel, query, catID, parseSpecialIds(q), limit)
		}
		if specialCount == 0 {
			h.handlePreviewSearch(r.Context(), channel, query, catID, "", limit)
		}
	}

	writeXML(w, "application/rss+xml; charset=utf-8", rss)
}

// handleSpecialSearch answers a title-only query by resolving an AniWorld
// specials alias mapping directly, matching _handle_special_search.
func (h *Handlers) handleSpecialSearch(ctx context.Context, channel *Channel, query string, catID int, ids specials.Ids, limit int) int {
	query = strings.TrimSpace(query)
	if query == "" || h.cfg.TestMode {
		return 0
	}

	const site = "aniworld.to"
	candidate, ok := h.index.ResolveForSite(ctx, query, site)
	if !ok {
		return 0
	}
	slug := candidate.Slug
	displayTitle := candidate.Title
	if displayTitle == "" {
		displayTitle = query
	}

	mapping, ok := h.specials.ResolveFromQuery(ctx, site, slug, query, displayTitle, ids)
	if !ok {
		return 0
	}

	candidateLangs := h.candidateLanguages(ctx, site, slug, mapping.SourceSeason, mapping.SourceEpisode)
	seed, leech := seeders(h.cfg)
	now := h.now()
	count := 0

	for _, lang := range candidateLangs {
		res, fresh := h.getCachedAvailability(ctx, site, slug, mapping.SourceSeason, mapping.SourceEpisode, lang)
		if !fresh {
			res = probeEpisodeQuality(ctx, h.registry, providers.Episode{Site: site, Slug: slug, Season: mapping.SourceSeason, Episode: mapping.SourceEpisode}, "", lang)
			extra := map[string]int{"special_alias_season": mapping.AliasSeason, "special_alias_episode": mapping.AliasEpisode}
			h.upsertAvailability(ctx, site, slug, mapping.SourceSeason, mapping.SourceEpisode, lang, res, extra)
		}
		if !res.Available {
			continue
		}

		releaseTitle := naming.BuildReleaseName(naming.Spec{
			SeriesTitle: displayTitle, Season: mapping.AliasSeason, Episode: mapping.AliasEpisode,
			Height: res.Height, Vcodec: res.Vcodec, Language: lang,
			SourceTag: h.cfg.SourceTag, ReleaseGroup: h.cfg.ReleaseGroup,
		})
		guidBase := buildGUID(site, slug, mapping.SourceSeason, mapping.SourceEpisode, lang, mapping.AliasSeason, mapping.AliasEpisode, false)

		if h.cfg.StrmFilesMode == config.StrmFilesNo || h.cfg.StrmFilesMode == config.StrmFilesBoth {
			m := buildMagnetFor(releaseTitle, slug, mapping.SourceSeason, mapping.SourceEpisode, lang, res.Provider, site, "")
			channel.Items = append(channel.Items, buildItem(itemParams{
				Title: releaseTitle, Magnet: m, PubDate: now, CatID: catID,
				GUID: guidBase, Seeders: seed, Leechers: leech,
			}))
		}
		if h.cfg.StrmFilesMode == config.StrmFilesOnly || h.cfg.StrmFilesMode == config.StrmFilesBoth {
			title := releaseTitle + strmSuffix
			m := buildMagnetFor(title, slug, mapping.SourceSeason, mapping.SourceEpisode, lang, res.Provider, site, "strm")
			channel.Items = append(channel.Items, buildItem(itemParams{
				Title: title, Magnet: m, PubDate: now, CatID: catID,
				GUID: guidBase + ":strm", Seeders: seed, Leechers: leech,
			}))
		}

		count++
		if limit > 0 && count >= limit {
			break
		}
	}
	return count
}
