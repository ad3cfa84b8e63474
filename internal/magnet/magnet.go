// Package magnet builds and parses the self-describing magnet URIs AniBridge
// hands to downloader-management tools in place of real BitTorrent magnets.
// Grounded on original_source/app/utils/magnet.go's canonical codec.
package magnet

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// sitePrefixes maps a source site hostname to the short prefix used for its
// magnet query parameters. Sites not listed fall back to derivePrefix.
var sitePrefixes = map[string]string{
	"aniworld.to": "aw",
	"s.to":        "sto",
	"megakino.io": "mk",
}

func sitePrefix(site string) string {
	if p, ok := sitePrefixes[site]; ok {
		return p
	}
	return derivePrefix(site)
}

// derivePrefix synthesizes a short, stable prefix for an unregistered site by
// taking the first dot-separated label of its hostname, cut to 3 characters
// and lowercased ("xx" when the label is empty).
func derivePrefix(site string) string {
	host := strings.SplitN(site, ".", 2)[0]
	if host == "" {
		return "xx"
	}
	if len(host) > 3 {
		host = host[:3]
	}
	return strings.ToLower(host)
}

// Params is the flattened set of metadata fields a magnet URI carries.
type Params struct {
	Title    string
	Slug     string
	Season   int
	Episode  int
	Language string
	Provider string
	Site     string
	Mode     string // "download" (default, omitted) or "strm"
}

func hashID(slug string, season, episode int, language string) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%d|%d|%s", slug, season, episode, language)))
	return hex.EncodeToString(sum[:])
}

// Build constructs a magnet URI whose xt is a synthetic BTIH derived from
// (slug, season, episode, language), with the remaining metadata encoded as
// site-prefixed query parameters. The xt parameter's colons are preserved
// literally (not percent-encoded) since strict Torznab/qBittorrent consumers
// expect a literal "urn:btih:" prefix.
func Build(p Params) string {
	xt := "urn:btih:" + hashID(p.Slug, p.Season, p.Episode, p.Language)
	prefix := sitePrefix(p.Site)

	type kv struct{ k, v string }
	pairs := []kv{
		{"xt", xt},
		{"dn", p.Title},
		{prefix + "_slug", p.Slug},
		{prefix + "_s", strconv.Itoa(p.Season)},
		{prefix + "_e", strconv.Itoa(p.Episode)},
		{prefix + "_lang", p.Language},
		{prefix + "_site", p.Site},
	}
	if p.Provider != "" {
		pairs = append(pairs, kv{prefix + "_provider", p.Provider})
	}
	if p.Mode != "" && p.Mode != "download" {
		pairs = append(pairs, kv{"mode", p.Mode})
	}

	var b strings.Builder
	b.WriteString("magnet:?")
	for i, pair := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(pair.k)
		b.WriteByte('=')
		if pair.k == "xt" {
			b.WriteString(encodeKeepingColons(pair.v))
		} else {
			b.WriteString(url.QueryEscape(pair.v))
		}
	}
	return b.String()
}

// encodeKeepingColons percent-encodes a value the way net/url.QueryEscape
// does, except that literal ':' bytes are left unescaped.
func encodeKeepingColons(v string) string {
	escaped := url.QueryEscape(v)
	return strings.ReplaceAll(escaped, "%3A", ":")
}

// ErrNotMagnet is returned when Parse's input does not begin with "magnet:?".
var ErrNotMagnet = fmt.Errorf("not a magnet uri")

// ErrMixedPrefix is returned when a magnet URI mixes metadata parameters
// from more than one site prefix.
var ErrMixedPrefix = fmt.Errorf("mixed magnet prefixes")

// ErrMissingParam is returned when a magnet URI is missing a required
// metadata field for its detected prefix.
type ErrMissingParam struct{ Param string }

func (e ErrMissingParam) Error() string { return "missing param: " + e.Param }

// Parse flattens a magnet URI's query parameters into a map, rejecting
// inputs that mix more than one site prefix or omit a required field for
// the detected prefix. When no registered prefix is present, it falls back
// to "aw" for backward compatibility, matching the original codec.
func Parse(magnet string) (map[string]string, error) {
	const scheme = "magnet:?"
	if !strings.HasPrefix(magnet, scheme) {
		return nil, ErrNotMagnet
	}
	values, err := url.ParseQuery(magnet[len(scheme):])
	if err != nil {
		return nil, err
	}

	flat := map[string]string{}
	var keys []string
	for k, v := range values {
		if len(v) == 0 || v[0] == "" {
			continue
		}
		flat[k] = v[0]
		keys = append(keys, k)
	}
	sort.Strings(keys)

	prefix := ""
	allPrefixes := knownPrefixes()
	for _, k := range keys {
		for _, p := range allPrefixes {
			if strings.HasPrefix(k, p+"_") {
				if prefix != "" && prefix != p {
					return nil, ErrMixedPrefix
				}
				prefix = p
			}
		}
	}
	if prefix == "" {
		prefix = "aw"
	}

	for _, req := range []string{"dn", "xt", prefix + "_slug", prefix + "_s", prefix + "_e", prefix + "_lang"} {
		if _, ok := flat[req]; !ok {
			return nil, ErrMissingParam{Param: req}
		}
	}
	return flat, nil
}

func knownPrefixes() []string {
	out := make([]string, 0, len(sitePrefixes))
	for _, p := range sitePrefixes {
		out = append(out, p)
	}
	return out
}
