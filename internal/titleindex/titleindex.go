// Package titleindex maintains, per source site, a slug↔title catalogue
// used to resolve free-text Torznab queries to a concrete series slug.
// Grounded on original_source/app/utils/title_resolver.go's TTL-refreshed
// cache and fallback chain, with HTML walking in the style of the teacher's
// server/services/indexers/generic.go.
package titleindex

import (
	"context"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
)

// SiteConfig describes how to build and refresh one site's index.
type SiteConfig struct {
	Site           string
	HrefPattern    *regexp.Regexp // first capture group yields the slug
	IndexURL       string         // live HTML/sitemap endpoint; empty disables
	SnapshotPath   string         // local fallback file
	RefreshHours   float64        // <= 0 disables time-based refresh
	SearchPriority int            // lower wins ties
}

// entry is one site's cached state.
type entry struct {
	index      map[string]string   // slug -> display title
	alts       map[string][]string // slug -> alternative titles (display title included)
	lastLoaded time.Time
}

// Index holds per-site caches and performs TTL-triggered refresh with the
// live-URL -> snapshot-file -> stale-cache fallback chain.
type Index struct {
	mu      sync.Mutex
	sites   map[string]SiteConfig
	cache   map[string]*entry
	client  *http.Client
	nowFunc func() time.Time
}

// New constructs an Index for the given site configurations.
func New(sites []SiteConfig, client *http.Client) *Index {
	if client == nil {
		client = http.DefaultClient
	}
	m := make(map[string]SiteConfig, len(sites))
	for _, s := range sites {
		m[s.Site] = s
	}
	return &Index{
		sites:   m,
		cache:   make(map[string]*entry),
		client:  client,
		nowFunc: time.Now,
	}
}

// Sites returns the configured sites, for iterating during resolution.
func (ix *Index) Sites() []SiteConfig {
	out := make([]SiteConfig, 0, len(ix.sites))
	for _, s := range ix.sites {
		out = append(out, s)
	}
	return out
}

func (ix *Index) shouldRefresh(site string, now time.Time) bool {
	cfg := ix.sites[site]
	e, ok := ix.cache[site]
	if !ok || e == nil {
		return true
	}
	if cfg.RefreshHours <= 0 {
		return false
	}
	return now.Sub(e.lastLoaded) > time.Duration(cfg.RefreshHours*float64(time.Hour))
}

// Load returns the current slug->title map for site, refreshing it first if
// the TTL has elapsed. Never returns an error: an empty/stale index degrades
// to "no slug resolved" per the component's never-raise-to-HTTP contract.
func (ix *Index) Load(ctx context.Context, site string) map[string]string {
	idx, _ := ix.LoadWithAlts(ctx, site)
	return idx
}

// LoadWithAlts is Load plus the alternative-titles map.
func (ix *Index) LoadWithAlts(ctx context.Context, site string) (map[string]string, map[string][]string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cfg, known := ix.sites[site]
	if !known {
		return map[string]string{}, map[string][]string{}
	}

	now := ix.nowFunc()
	if !ix.shouldRefresh(site, now) {
		e := ix.cache[site]
		return e.index, e.alts
	}

	if cfg.IndexURL != "" {
		if idx, alts, err := ix.fetchFromURL(ctx, cfg); err == nil && len(idx) > 0 {
			ix.cache[site] = &entry{index: idx, alts: alts, lastLoaded: now}
			return idx, alts
		}
	}

	if cfg.SnapshotPath != "" {
		if idx, alts, err := ix.loadFromFile(cfg); err == nil && len(idx) > 0 {
			ix.cache[site] = &entry{index: idx, alts: alts, lastLoaded: now}
			return idx, alts
		}
	}

	if e, ok := ix.cache[site]; ok && e != nil {
		return e.index, e.alts
	}
	ix.cache[site] = &entry{index: map[string]string{}, alts: map[string][]string{}, lastLoaded: now}
	return ix.cache[site].index, ix.cache[site].alts
}

func (ix *Index) fetchFromURL(ctx context.Context, cfg SiteConfig) (map[string]string, map[string][]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.IndexURL, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := ix.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, &http.ProtocolError{ErrorString: resp.Status}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return ParseIndex(string(body), cfg.HrefPattern)
}

func (ix *Index) loadFromFile(cfg SiteConfig) (map[string]string, map[string][]string, error) {
	body, err := os.ReadFile(cfg.SnapshotPath)
	if err != nil {
		return nil, nil, err
	}
	return ParseIndex(string(body), cfg.HrefPattern)
}

// ParseIndex walks HTML, extracting a slug from each anchor's href via
// hrefPattern and building the display-title and alternative-titles maps.
// The main title is always the first alternative, and a comma-separated
// data-alternative-title attribute supplies the rest, per spec §4.1.
func ParseIndex(htmlText string, hrefPattern *regexp.Regexp) (map[string]string, map[string][]string, error) {
	doc, err := html.Parse(strings.NewReader(htmlText))
	if err != nil {
		return nil, nil, err
	}

	idx := map[string]string{}
	alts := map[string][]string{}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			href, altRaw := anchorAttrs(n)
			m := hrefPattern.FindStringSubmatch(href)
			if len(m) >= 2 {
				slug := m[1]
				title := strings.TrimSpace(textContent(n))

				var altList []string
				if altRaw != "" {
					for _, piece := range strings.Split(altRaw, ",") {
						p := strings.Trim(strings.TrimSpace(piece), `'"`)
						if p != "" {
							altList = append(altList, p)
						}
					}
				}
				if title != "" {
					if contains(altList, title) {
						kept := make([]string, 0, len(altList))
						for _, a := range altList {
							if a != title {
								kept = append(kept, a)
							}
						}
						altList = kept
					}
					altList = append([]string{title}, altList...)
				}
				if title != "" {
					idx[slug] = title
				}
				if len(altList) > 0 {
					alts[slug] = altList
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return idx, alts, nil
}

func anchorAttrs(n *html.Node) (href, altTitle string) {
	for _, a := range n.Attr {
		switch a.Key {
		case "href":
			href = a.Val
		case "data-alternative-title":
			altTitle = a.Val
		}
	}
	return href, altTitle
}

func textContent(n *html.Node) string {
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

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
