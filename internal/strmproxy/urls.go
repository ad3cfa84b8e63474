package strmproxy

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/Zzackllack/AniBridge-sub000/internal/apperr"
)

// URLBuilder builds deterministic, auth-stamped proxy URLs under a
// configured public base, grounded on urls.py.
type URLBuilder struct {
	publicBase string
	auth       *Authenticator
}

// NewURLBuilder constructs a URLBuilder. publicBase may be empty if the
// deployment never needs proxy mode; BuildStreamURL/BuildProxyURL then fail.
func NewURLBuilder(publicBase string, auth *Authenticator) *URLBuilder {
	return &URLBuilder{publicBase: strings.TrimRight(strings.TrimSpace(publicBase), "/"), auth: auth}
}

func (b *URLBuilder) requirePublicBase() (string, error) {
	if b.publicBase == "" {
		return "", apperr.New(apperr.KindConfigFatal, "STRM_PUBLIC_BASE_URL is required for STRM proxy URLs")
	}
	return b.publicBase, nil
}

func encodeParamsSorted(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	v := url.Values{}
	for _, k := range keys {
		v.Set(k, params[k])
	}
	return v.Encode()
}

func (b *URLBuilder) buildURL(path string, params map[string]string) (string, error) {
	base, err := b.requirePublicBase()
	if err != nil {
		return "", err
	}
	full := base + "/" + strings.TrimLeft(path, "/")
	if len(params) == 0 {
		return full, nil
	}
	return full + "?" + encodeParamsSorted(params), nil
}

// IsAlreadyProxied reports whether rawURL already targets this proxy's
// /strm/stream or /strm/proxy endpoints.
func (b *URLBuilder) IsAlreadyProxied(rawURL string) bool {
	if b.publicBase == "" {
		return false
	}
	prefix := b.publicBase + "/strm/"
	return strings.HasPrefix(rawURL, prefix)
}

// BuildStreamURL builds a stable, auth-stamped /strm/stream URL identifying
// id, so Sonarr/Jellyfin-style clients can poll the same playable URL
// repeatedly while the upstream resolution is refreshed behind the scenes.
func (b *URLBuilder) BuildStreamURL(id Identity) (string, error) {
	params := map[string]string{
		"site": id.Site,
		"slug": id.Slug,
		"s":    strconv.Itoa(id.Season),
		"e":    strconv.Itoa(id.Episode),
		"lang": id.Language,
	}
	if id.Provider != "" {
		params["provider"] = id.Provider
	}

	auth, err := b.auth.BuildAuthParams(params)
	if err != nil {
		return "", err
	}
	for k, v := range auth {
		params[k] = v
	}
	return b.buildURL("/strm/stream", params)
}

// BuildProxyURL wraps an arbitrary upstream resource URL (an HLS segment, a
// subtitle, a key file) behind this proxy's /strm/proxy/<name> endpoint,
// unless it is already proxied.
func (b *URLBuilder) BuildProxyURL(upstreamURL string) (string, error) {
	if b.IsAlreadyProxied(upstreamURL) {
		return upstreamURL, nil
	}

	parsed, err := url.Parse(upstreamURL)
	if err != nil {
		return "", fmt.Errorf("parse upstream url: %w", err)
	}
	name := lastPathSegment(parsed.Path)
	if name == "" || !strings.Contains(name, ".") {
		name = "resource.bin"
	}

	params := map[string]string{"u": upstreamURL}
	auth, err := b.auth.BuildAuthParams(params)
	if err != nil {
		return "", err
	}
	for k, v := range auth {
		params[k] = v
	}
	return b.buildURL("/strm/proxy/"+name, params)
}

func lastPathSegment(path string) string {
	path = strings.TrimSpace(path)
	idx := strings.LastIndex(path, "/")
	if idx == -1 {
		return path
	}
	return path[idx+1:]
}
