// Package episodemapping translates Sonarr's absolute-numbered tvsearch
// requests into (season, episode) coordinates and back, grounded on
// original_source/app/utils/absolute_numbering.py. Mappings are persisted
// via models.EpisodeNumberMapping and populated on demand by scraping a
// series' catalogue the first time an absolute number is requested.
package episodemapping

import (
	"context"
	"database/sql"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Zzackllack/AniBridge-sub000/internal/models"
)

var absoluteIdentifierRe = regexp.MustCompile(`^\d+$`)

// IsAbsoluteIdentifier reports whether identifier (trimmed) consists only of
// digits, matching is_absolute_identifier; ParseAbsoluteIdentifier
// additionally rejects zero.
func IsAbsoluteIdentifier(identifier string) bool {
	return absoluteIdentifierRe.MatchString(strings.TrimSpace(identifier))
}

// ParseAbsoluteIdentifier parses identifier as a positive absolute episode
// number, matching parse_absolute_identifier.
func ParseAbsoluteIdentifier(identifier string) (int, bool) {
	token := strings.TrimSpace(identifier)
	if !absoluteIdentifierRe.MatchString(token) {
		return 0, false
	}
	n, err := strconv.Atoi(token)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

var digitsRe = regexp.MustCompile(`\d+`)

func parseFromQuery(query string) (int, bool) {
	tokens := digitsRe.FindAllString(query, -1)
	if len(tokens) == 0 {
		return 0, false
	}
	return ParseAbsoluteIdentifier(tokens[len(tokens)-1])
}

// DetectAbsoluteNumber decides whether a tvsearch request should be handled
// in absolute-numbering mode and, if so, returns the absolute episode
// number, matching detect_absolute_number. season/episode are nil when the
// request omitted that parameter.
func DetectAbsoluteNumber(query string, season, episode *int, absoluteHint bool) (int, bool) {
	if absoluteHint {
		if episode != nil {
			if *episode > 0 {
				return *episode, true
			}
			return 0, false
		}
		return parseFromQuery(query)
	}

	if season != nil && *season == 0 && episode != nil {
		if *episode > 0 {
			return *episode, true
		}
		return 0, false
	}

	if episode == nil {
		return parseFromQuery(query)
	}

	return 0, false
}

// CatalogEntry is one scraped (absolute, season, episode) coordinate,
// matching EpisodeCatalogEntry.
type CatalogEntry struct {
	Absolute int
	Season   int
	Episode  int
	Title    string
	IsSpecial bool
}

// CatalogFetcher scrapes a series' full absolute-numbered catalogue,
// matching fetch_episode_catalog's role (the AniWorld library lookup there
// has no Go equivalent in this corpus; callers adapt their own
// season/episode discovery into CatalogEntry instead).
type CatalogFetcher func(ctx context.Context) ([]CatalogEntry, error)

func storeCatalogEntries(ctx context.Context, db *sql.DB, seriesSlug string, entries []CatalogEntry) {
	for _, e := range entries {
		if e.Absolute <= 0 || e.Season <= 0 || e.Episode <= 0 {
			continue
		}
		title := sql.NullString{String: e.Title, Valid: e.Title != ""}
		_, err := models.UpsertEpisodeMapping(ctx, db, models.EpisodeNumberMapping{
			SeriesSlug: seriesSlug, AbsoluteNumber: e.Absolute,
			SeasonNumber: e.Season, EpisodeNumber: e.Episode, EpisodeTitle: title,
		})
		if err != nil {
			log.Warn().Err(err).Str("slug", seriesSlug).Int("absolute", e.Absolute).Msg("failed to upsert episode mapping")
		}
	}
}

// EnsureCatalogMappings fetches and persists every non-special mapping for
// a series, returning the stored rows, matching ensure_catalog_mappings.
func EnsureCatalogMappings(ctx context.Context, db *sql.DB, seriesSlug string, fetch CatalogFetcher) ([]*models.EpisodeNumberMapping, error) {
	entries, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	var keep []CatalogEntry
	for _, e := range entries {
		if !e.IsSpecial && e.Season > 0 {
			keep = append(keep, e)
		}
	}
	if len(keep) == 0 {
		return nil, nil
	}

	storeCatalogEntries(ctx, db, seriesSlug, keep)
	return models.ListEpisodeMappingsForSeries(ctx, db, seriesSlug)
}

// ResolveAbsoluteEpisode looks up a series' absolute number, triggering a
// catalogue scrape on a cache miss, matching resolve_absolute_episode.
func ResolveAbsoluteEpisode(ctx context.Context, db *sql.DB, seriesSlug string, absoluteNumber int, fetch CatalogFetcher) (*models.EpisodeNumberMapping, error) {
	if m, err := models.GetEpisodeMappingByAbsolute(ctx, db, seriesSlug, absoluteNumber); err == nil && m.SeasonNumber > 0 {
		return m, nil
	} else if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	if _, err := EnsureCatalogMappings(ctx, db, seriesSlug, fetch); err != nil {
		return nil, err
	}

	m, err := models.GetEpisodeMappingByAbsolute(ctx, db, seriesSlug, absoluteNumber)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if m.SeasonNumber <= 0 {
		return nil, nil
	}
	return m, nil
}

// ResolveAbsoluteTargets resolves the single mapping for an absolute
// number, falling back to the whole scraped catalogue (every non-special
// episode) when no direct mapping exists and fallback is enabled, matching
// resolve_absolute_targets. The bool return reports whether the fallback
// catalogue was used.
func ResolveAbsoluteTargets(ctx context.Context, db *sql.DB, seriesSlug string, absoluteNumber int, fetch CatalogFetcher, fallbackEnabled bool) ([]*models.EpisodeNumberMapping, bool, error) {
	mapping, err := ResolveAbsoluteEpisode(ctx, db, seriesSlug, absoluteNumber, fetch)
	if err != nil {
		return nil, false, err
	}
	if mapping != nil {
		return []*models.EpisodeNumberMapping{mapping}, false, nil
	}

	log.Error().Str("slug", seriesSlug).Int("absolute", absoluteNumber).Msg("cannot map absolute episode: no season/episode mapping")
	if !fallbackEnabled {
		return nil, false, nil
	}

	mappings, err := EnsureCatalogMappings(ctx, db, seriesSlug, fetch)
	if err != nil {
		return nil, false, err
	}
	if len(mappings) == 0 {
		return nil, true, nil
	}
	log.Warn().Str("slug", seriesSlug).Int("count", len(mappings)).Msg("using fallback catalogue for absolute numbering")
	return mappings, true, nil
}

// FindBySeasonEpisode looks up a mapping by its standard coordinates,
// matching find_by_season_episode.
func FindBySeasonEpisode(ctx context.Context, db *sql.DB, seriesSlug string, season, episode int) (*models.EpisodeNumberMapping, error) {
	m, err := models.GetEpisodeMappingBySeasonEpisode(ctx, db, seriesSlug, season, episode)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}
