// Package specials cross-references a site's season-zero "specials" catalogue
// with SkyHook (Sonarr's public TVDB mirror) episode metadata, so a special
// that a source site lists as a bare film index can be reported to Torznab
// clients under the season/episode coordinates their metadata actually
// assigns it. Grounded on
// original_source/app/providers/aniworld/specials.go.
package specials

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/net/html"
)

const (
	skyhookSearchURL = "https://skyhook.sonarr.tv/v1/tvdb/search/en/"
	skyhookShowURL   = "https://skyhook.sonarr.tv/v1/tvdb/shows/en/%d"
)

var filmPathRe = regexp.MustCompile(`/filme/film-(\d+)`)
var partNumberRe = regexp.MustCompile(`(?i)\b(?:part|teil)\s*(\d+)\b`)
var bracketTagRe = regexp.MustCompile(`\[([^\]]+)\]`)

// Ids carries the external identifiers a Torznab tvsearch request may supply.
type Ids struct {
	TVDBID  int
	TMDBID  int
	IMDBID  string
}

// Entry is one season-zero row on the source site's "Filme" listing.
type Entry struct {
	FilmIndex int
	Href      string
	TitleDE   string
	TitleAlt  string
	Tags      []string
}

func (e Entry) combinedTitle() string {
	parts := []string{}
	if e.TitleDE != "" {
		parts = append(parts, e.TitleDE)
	}
	if e.TitleAlt != "" {
		parts = append(parts, e.TitleAlt)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// episode is one SkyHook episode record.
type episode struct {
	Season int
	Number int
	Title  string
}

// Mapping is a resolved season-zero-to-metadata alias.
type Mapping struct {
	SourceSeason  int
	SourceEpisode int
	AliasSeason   int
	AliasEpisode  int
	MetadataTitle string
	TVDBID        int
}

// Resolver fetches and caches season-zero listings and SkyHook metadata,
// resolving the mapping between them.
type Resolver struct {
	client           *http.Client
	confidenceFloor  float64
	ttl              time.Duration
	fetchFilme       func(ctx context.Context, site, slug string) (string, error)

	mu           sync.Mutex
	entriesCache map[string]cachedEntries
	searchCache  map[string]cachedSearch
	showCache    map[int]cachedShow
}

type cachedEntries struct {
	at      time.Time
	entries []Entry
}

type cachedSearch struct {
	at      time.Time
	results []skyhookShow
}

type cachedShow struct {
	at   time.Time
	show *skyhookShowPayload
}

type skyhookShow struct {
	TVDBID int    `json:"tvdbId"`
	Title  string `json:"title"`
}

type skyhookShowPayload struct {
	TVDBID   int              `json:"tvdbId"`
	Title    string           `json:"title"`
	Episodes []skyhookEpisode `json:"episodes"`
}

type skyhookEpisode struct {
	SeasonNumber  int    `json:"seasonNumber"`
	EpisodeNumber int    `json:"episodeNumber"`
	Title         string `json:"title"`
}

// FetchFunc retrieves the raw HTML of a site's season-zero "Filme" listing
// page for slug.
type FetchFunc func(ctx context.Context, site, slug string) (string, error)

// NewResolver constructs a Resolver. fetchFilme supplies the raw HTML for a
// site/slug's season-zero listing page (grounded on each site's own HTTP
// client configuration, so this package stays site-agnostic).
func NewResolver(client *http.Client, confidenceFloor float64, ttl time.Duration, fetchFilme FetchFunc) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{
		client:          client,
		confidenceFloor: confidenceFloor,
		ttl:             ttl,
		fetchFilme:      fetchFilme,
		entriesCache:    map[string]cachedEntries{},
		searchCache:     map[string]cachedSearch{},
		showCache:       map[int]cachedShow{},
	}
}

// ParseFilmeEntries extracts the season-zero "Filme" table from an
// AniWorld-style stream page, matching parse_filme_entries.
func ParseFilmeEntries(htmlText string) ([]Entry, error) {
	doc, err := html.Parse(strings.NewReader(htmlText))
	if err != nil {
		return nil, err
	}

	var season0 *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if season0 != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "tbody" && attr(n, "id") == "season0" {
			season0 = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(doc)
	if season0 == nil {
		return nil, nil
	}

	var entries []Entry
	var walkRows func(*html.Node)
	walkRows = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			if e, ok := parseFilmeRow(n); ok {
				entries = append(entries, e)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walkRows(c)
		}
	}
	walkRows(season0)

	sort.Slice(entries, func(i, j int) bool { return entries[i].FilmIndex < entries[j].FilmIndex })
	return entries, nil
}

func parseFilmeRow(row *html.Node) (Entry, bool) {
	anchor := findAnchorMatching(row, filmPathRe)
	if anchor == nil {
		return Entry{}, false
	}
	href := attr(anchor, "href")
	m := filmPathRe.FindStringSubmatch(href)
	if m == nil {
		return Entry{}, false
	}
	filmIndex, _ := strconv.Atoi(m[1])

	titleDE, titleAlt := extractTitleCell(row)
	tagSource := strings.TrimSpace(titleDE + " " + titleAlt)
	tags := uniqueSorted(bracketTagRe.FindAllStringSubmatch(tagSource, -1))

	return Entry{FilmIndex: filmIndex, Href: href, TitleDE: titleDE, TitleAlt: titleAlt, Tags: tags}, true
}

func uniqueSorted(matches [][]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		v := strings.TrimSpace(m[1])
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func extractTitleCell(row *html.Node) (de, alt string) {
	td := findNodeByClass(row, "td", "seasonEpisodeTitle")
	if td == nil {
		return "", ""
	}
	if strong := findFirst(td, "strong"); strong != nil {
		de = strings.TrimSpace(textOf(strong))
	}
	if span := findFirst(td, "span"); span != nil {
		alt = strings.TrimSpace(textOf(span))
	}
	return de, alt
}

func findAnchorMatching(n *html.Node, re *regexp.Regexp) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if found != nil {
			return
		}
		if node.Type == html.ElementNode && node.Data == "a" && re.MatchString(attr(node, "href")) {
			found = node
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return found
}

func findNodeByClass(n *html.Node, tag, class string) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if found != nil {
			return
		}
		if node.Type == html.ElementNode && node.Data == tag && strings.Contains(" "+attr(node, "class")+" ", " "+class+" ") {
			found = node
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return found
}

func findFirst(n *html.Node, tag string) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if found != nil {
			return
		}
		if node.Type == html.ElementNode && node.Data == tag {
			found = node
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return found
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// normalizeText lowercases and collapses non-alphanumeric runs to spaces,
// matching _normalize_text (diacritics are left as-is; this corpus's titles
// are already ASCII-transliterated upstream).
func normalizeText(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func tokenSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, t := range strings.Fields(normalizeText(s)) {
		out[t] = struct{}{}
	}
	return out
}

func partNumbers(s string) map[int]struct{} {
	out := map[int]struct{}{}
	for _, m := range partNumberRe.FindAllStringSubmatch(s, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			out[n] = struct{}{}
		}
	}
	return out
}

func setsEqual(a, b map[int]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func setsDisjoint(a, b map[int]struct{}) bool {
	for k := range a {
		if _, ok := b[k]; ok {
			return false
		}
	}
	return true
}

// titleScore blends token overlap, Jaccard similarity, substring containment
// and a part-number bonus/penalty into one match confidence, matching
// _title_score.
func titleScore(left, right string) float64 {
	leftNorm, rightNorm := normalizeText(left), normalizeText(right)
	if leftNorm == "" || rightNorm == "" {
		return 0
	}
	leftTokens, rightTokens := tokenSet(leftNorm), tokenSet(rightNorm)
	if len(leftTokens) == 0 || len(rightTokens) == 0 {
		return 0
	}

	inter := 0
	union := map[string]struct{}{}
	for t := range leftTokens {
		union[t] = struct{}{}
		if _, ok := rightTokens[t]; ok {
			inter++
		}
	}
	for t := range rightTokens {
		union[t] = struct{}{}
	}

	overlap := float64(inter) / float64(len(leftTokens))
	jaccard := float64(inter) / float64(len(union))
	containment := 0.0
	if strings.Contains(rightNorm, leftNorm) || strings.Contains(leftNorm, rightNorm) {
		containment = 1.0
	}

	score := 0.55*overlap + 0.25*jaccard + 0.20*containment

	leftParts, rightParts := partNumbers(leftNorm), partNumbers(rightNorm)
	if len(leftParts) > 0 && len(rightParts) > 0 {
		switch {
		case setsEqual(leftParts, rightParts):
			score += 0.30
		case setsDisjoint(leftParts, rightParts):
			score -= 0.30
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func (r *Resolver) filmeEntries(ctx context.Context, site, slug string) ([]Entry, error) {
	r.mu.Lock()
	if c, ok := r.entriesCache[slug]; ok && r.ttl > 0 && time.Since(c.at) < r.ttl {
		r.mu.Unlock()
		return c.entries, nil
	}
	r.mu.Unlock()

	if r.fetchFilme == nil {
		return nil, fmt.Errorf("specials: no filme fetcher configured")
	}
	body, err := r.fetchFilme(ctx, site, slug)
	if err != nil {
		return nil, err
	}
	entries, err := ParseFilmeEntries(body)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.ttl > 0 {
		r.entriesCache[slug] = cachedEntries{at: time.Now(), entries: entries}
	}
	r.mu.Unlock()
	return entries, nil
}

func (r *Resolver) skyhookSearch(ctx context.Context, term string) ([]skyhookShow, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil, nil
	}
	r.mu.Lock()
	if c, ok := r.searchCache[term]; ok && r.ttl > 0 && time.Since(c.at) < r.ttl {
		r.mu.Unlock()
		return c.results, nil
	}
	r.mu.Unlock()

	u := skyhookSearchURL + "?" + url.Values{"term": {term}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("skyhook search: status %d", resp.StatusCode)
	}
	var results []skyhookShow
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.ttl > 0 {
		r.searchCache[term] = cachedSearch{at: time.Now(), results: results}
	}
	r.mu.Unlock()
	return results, nil
}

func (r *Resolver) skyhookShow(ctx context.Context, tvdbID int) (*skyhookShowPayload, error) {
	r.mu.Lock()
	if c, ok := r.showCache[tvdbID]; ok && r.ttl > 0 && time.Since(c.at) < r.ttl {
		r.mu.Unlock()
		return c.show, nil
	}
	r.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(skyhookShowURL, tvdbID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("skyhook show: status %d", resp.StatusCode)
	}
	var payload skyhookShowPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.ttl > 0 {
		r.showCache[tvdbID] = cachedShow{at: time.Now(), show: &payload}
	}
	r.mu.Unlock()
	return &payload, nil
}

func (r *Resolver) resolveTVDBID(ctx context.Context, ids Ids, seriesTitle, query string) (int, bool) {
	if ids.TVDBID > 0 {
		return ids.TVDBID, true
	}

	var idTerms []string
	if ids.TMDBID > 0 {
		idTerms = append(idTerms, fmt.Sprintf("tmdb:%d", ids.TMDBID))
	}
	if strings.TrimSpace(ids.IMDBID) != "" {
		idTerms = append(idTerms, "imdb:"+strings.TrimSpace(ids.IMDBID))
	}
	for _, term := range idTerms {
		shows, err := r.skyhookSearch(ctx, term)
		if err != nil || len(shows) == 0 {
			continue
		}
		if shows[0].TVDBID > 0 {
			return shows[0].TVDBID, true
		}
	}

	bestID, bestScore := 0, 0.0
	for _, candidateQuery := range []string{seriesTitle, query} {
		q := strings.TrimSpace(candidateQuery)
		if q == "" {
			continue
		}
		shows, err := r.skyhookSearch(ctx, q)
		if err != nil {
			continue
		}
		for _, show := range shows {
			if show.TVDBID == 0 || show.Title == "" {
				continue
			}
			if s := titleScore(seriesTitle, show.Title); s > bestScore {
				bestScore, bestID = s, show.TVDBID
			}
		}
	}
	if bestID != 0 && bestScore >= 0.45 {
		return bestID, true
	}
	return 0, false
}

func (r *Resolver) showPayload(ctx context.Context, ids Ids, query, seriesTitle string) (*skyhookShowPayload, bool) {
	tvdbID, ok := r.resolveTVDBID(ctx, ids, seriesTitle, query)
	if !ok {
		return nil, false
	}
	payload, err := r.skyhookShow(ctx, tvdbID)
	if err != nil || payload == nil {
		return nil, false
	}
	return payload, true
}

func extractEpisodes(payload *skyhookShowPayload) []episode {
	var out []episode
	for _, e := range payload.Episodes {
		if strings.TrimSpace(e.Title) == "" {
			continue
		}
		out = append(out, episode{Season: e.SeasonNumber, Number: e.EpisodeNumber, Title: e.Title})
	}
	return out
}

func (r *Resolver) pickEpisodeByQuery(query string, episodes []episode) (episode, bool) {
	var best episode
	bestScore := 0.0
	found := false
	for _, e := range episodes {
		if s := titleScore(query, e.Title); s > bestScore {
			bestScore, best, found = s, e, true
		}
	}
	threshold := r.confidenceFloor - 0.10
	if threshold < 0.25 {
		threshold = 0.25
	}
	if !found || bestScore < threshold {
		return episode{}, false
	}
	return best, true
}

func (r *Resolver) pickEntryForEpisode(meta episode, entries []Entry) (Entry, bool) {
	var best Entry
	bestScore := 0.0
	found := false
	for _, e := range entries {
		score := titleScore(meta.Title, e.TitleDE)
		if s := titleScore(meta.Title, e.TitleAlt); s > score {
			score = s
		}
		if s := titleScore(meta.Title, e.combinedTitle()); s > score {
			score = s
		}
		if e.FilmIndex == meta.Number {
			score += 0.10
		}
		if score > bestScore {
			bestScore, best, found = score, e, true
		}
	}
	threshold := r.confidenceFloor - 0.15
	if threshold < 0.25 {
		threshold = 0.25
	}
	if !found || bestScore < threshold {
		return Entry{}, false
	}
	return best, true
}

// ResolveFromQuery resolves a season-zero alias from a free-text query,
// matching resolve_special_mapping_from_query: used when a title search
// can't be satisfied directly and the caller wants to know whether the
// query itself names a special.
func (r *Resolver) ResolveFromQuery(ctx context.Context, site, slug, query, seriesTitle string, ids Ids) (Mapping, bool) {
	if slug == "" || query == "" {
		return Mapping{}, false
	}
	entries, err := r.filmeEntries(ctx, site, slug)
	if err != nil || len(entries) == 0 {
		return Mapping{}, false
	}
	payload, ok := r.showPayload(ctx, ids, query, seriesTitle)
	if !ok {
		return Mapping{}, false
	}

	var specials []episode
	for _, e := range extractEpisodes(payload) {
		if e.Season == 0 {
			specials = append(specials, e)
		}
	}
	if len(specials) == 0 {
		return Mapping{}, false
	}

	meta, ok := r.pickEpisodeByQuery(query, specials)
	if !ok {
		return Mapping{}, false
	}
	entry, ok := r.pickEntryForEpisode(meta, entries)
	if !ok {
		return Mapping{}, false
	}

	return Mapping{
		SourceSeason: 0, SourceEpisode: entry.FilmIndex,
		AliasSeason: meta.Season, AliasEpisode: meta.Number,
		MetadataTitle: meta.Title, TVDBID: payload.TVDBID,
	}, true
}

// SeasonEpisodeNumbers resolves the sorted, de-duplicated episode numbers
// SkyHook reports for one season of a series, used to drive tvsearch's
// season-discovery mode via metadata before falling back to cache/probing,
// matching _metadata_episode_numbers_for_season.
func (r *Resolver) SeasonEpisodeNumbers(ctx context.Context, ids Ids, query, seriesTitle string, season int) ([]int, bool) {
	tvdbID, ok := r.resolveTVDBID(ctx, ids, seriesTitle, query)
	if !ok {
		return nil, false
	}
	payload, err := r.skyhookShow(ctx, tvdbID)
	if err != nil || payload == nil {
		return nil, false
	}

	seen := map[int]struct{}{}
	for _, e := range payload.Episodes {
		if e.SeasonNumber == season && e.EpisodeNumber > 0 {
			seen[e.EpisodeNumber] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil, false
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out, true
}

// SeriesTitleFromIDs resolves a series' canonical title purely from external
// identifiers (no free-text query), for tvsearch requests that name a show
// via tvdbid/tmdbid/imdbid instead of q, matching
// _resolve_tvsearch_query_from_ids's intent.
func (r *Resolver) SeriesTitleFromIDs(ctx context.Context, ids Ids) (string, bool) {
	if ids.TVDBID <= 0 {
		return "", false
	}
	payload, err := r.skyhookShow(ctx, ids.TVDBID)
	if err != nil || payload == nil || payload.Title == "" {
		return "", false
	}
	return payload.Title, true
}

// ResolveFromEpisodeRequest resolves a season-zero alias for one explicitly
// requested (season, episode) pair, matching
// resolve_special_mapping_from_episode_request: used when an episode-specific
// tvsearch request for the metadata coordinates can't be satisfied directly
// against the source site.
func (r *Resolver) ResolveFromEpisodeRequest(ctx context.Context, site, slug string, requestSeason, requestEpisode int, query, seriesTitle string, ids Ids) (Mapping, bool) {
	if slug == "" {
		return Mapping{}, false
	}
	entries, err := r.filmeEntries(ctx, site, slug)
	if err != nil || len(entries) == 0 {
		return Mapping{}, false
	}
	payload, ok := r.showPayload(ctx, ids, query, seriesTitle)
	if !ok {
		return Mapping{}, false
	}

	var meta episode
	found := false
	for _, e := range extractEpisodes(payload) {
		if e.Season == requestSeason && e.Number == requestEpisode {
			meta, found = e, true
			break
		}
	}
	if !found {
		return Mapping{}, false
	}

	entry, ok := r.pickEntryForEpisode(meta, entries)
	if !ok {
		return Mapping{}, false
	}

	return Mapping{
		SourceSeason: 0, SourceEpisode: entry.FilmIndex,
		AliasSeason: requestSeason, AliasEpisode: requestEpisode,
		MetadataTitle: meta.Title, TVDBID: payload.TVDBID,
	}, true
}
