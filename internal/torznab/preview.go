package torznab

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/Zzackllack/AniBridge-sub000/internal/config"
	"github.com/Zzackllack/AniBridge-sub000/internal/naming"
	"github.com/Zzackllack/AniBridge-sub000/internal/providers"
)

var yearRe = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)

// extractYearFromQuery pulls the last 4-digit year token out of a query
// string, matching extract_year_from_query. The original's IMDb-lookup
// fallback is not ported: it is a best-effort display enhancement with no
// effect on resolution or availability, and doing it well needs an IMDb
// client this corpus doesn't carry.
func extractYearFromQuery(q string) (int, bool) {
	matches := yearRe.FindAllString(q, -1)
	if len(matches) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(matches[len(matches)-1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// handlePreviewSearch probes the single S01E01 preview across candidate
// languages for a free-text query, appending RSS items to channel. site
// constrains slug resolution to one catalogue (used by the movie-category
// chain); an empty site searches every configured site. Returns the number
// of candidate languages that produced items (each may add a regular and a
// STRM item), matching _handle_preview_search.
func (h *Handlers) handlePreviewSearch(ctx context.Context, channel *Channel, query string, catID int, site string, limit int) int {
	query = strings.TrimSpace(query)
	if query == "" {
		return 0
	}
	if h.cfg.TestMode {
		return 0
	}

	year, hasYear := extractYearFromQuery(query)

	candidate, ok := h.index.ResolveForSite(ctx, query, site)
	if !ok {
		return 0
	}
	siteFound, slug := candidate.Site, candidate.Slug
	displayTitle := candidate.Title
	if displayTitle == "" {
		displayTitle = query
	}
	if hasYear {
		displayTitle = displayTitle + " " + strconv.Itoa(year)
	}

	const season, episode = 1, 1
	candidateLangs := h.candidateLanguages(ctx, siteFound, slug, season, episode)
	seed, leech := seeders(h.cfg)
	now := h.now()
	count := 0

	for _, lang := range candidateLangs {
		if limit > 0 && count >= limit {
			break
		}

		res := probeEpisodeQuality(ctx, h.registry, providers.Episode{Site: siteFound, Slug: slug, Season: season, Episode: episode}, "", lang)
		h.upsertAvailability(ctx, siteFound, slug, season, episode, lang, res, nil)
		if !res.Available {
			continue
		}

		releaseTitle := naming.BuildReleaseName(naming.Spec{
			SeriesTitle: displayTitle, Height: res.Height, Vcodec: res.Vcodec,
			Language: lang, SourceTag: h.cfg.SourceTag, ReleaseGroup: h.cfg.ReleaseGroup,
		})
		guidBase := buildGUID(siteFound, slug, season, episode, lang, season, episode, false)

		if h.cfg.StrmFilesMode == config.StrmFilesNo || h.cfg.StrmFilesMode == config.StrmFilesBoth {
			m := buildMagnetFor(releaseTitle, slug, season, episode, lang, res.Provider, siteFound, "")
			channel.Items = append(channel.Items, buildItem(itemParams{
				Title: releaseTitle, Magnet: m, PubDate: now, CatID: catID,
				GUID: guidBase, Seeders: seed, Leechers: leech,
			}))
		}
		if h.cfg.StrmFilesMode == config.StrmFilesOnly || h.cfg.StrmFilesMode == config.StrmFilesBoth {
			title := releaseTitle + strmSuffix
			m := buildMagnetFor(title, slug, season, episode, lang, res.Provider, siteFound, "strm")
			channel.Items = append(channel.Items, buildItem(itemParams{
				Title: title, Magnet: m, PubDate: now, CatID: catID,
				GUID: guidBase + ":strm", Seeders: seed, Leechers: leech,
			}))
		}
		count++
	}
	return count
}
