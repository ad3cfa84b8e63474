// Package httpx provides the shared HTTP client helpers used by the Title
// Index, the Provider Resolver and the STRM proxy: a default timeout client,
// a long-timeout client for large transfers, and a no-proxy variant used by
// the Provider Resolver's proxy-fallback walk (spec §4.2). Grounded on
// shared/http/client.go and shared/http/bypass.go.
package httpx

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultTimeout bounds a single resolver probe per spec §5.
const DefaultTimeout = 6 * time.Second

// LongTimeout bounds upstream stream opens per spec §5.
const LongTimeout = 30 * time.Second

// DefaultClient is the baseline HTTP client honouring any process-wide
// proxy configuration (via the standard HTTP_PROXY/HTTPS_PROXY env vars,
// which http.ProxyFromEnvironment reads).
var DefaultClient = &http.Client{
	Timeout: DefaultTimeout,
	Transport: &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
	},
}

// LongTimeoutClient is DefaultClient with a longer deadline, for upstream
// stream opens and remux probes.
var LongTimeoutClient = &http.Client{
	Timeout: LongTimeout,
	Transport: DefaultClient.Transport,
}

// NoProxyClient never dials through a proxy, regardless of environment
// configuration. Used for the Provider Resolver's "retry the whole walk
// without a proxy" fallback (spec §4.2), because CDNs serving bytes often
// reject proxied clients even when extraction succeeded behind one.
var NoProxyClient = &http.Client{
	Timeout: DefaultTimeout,
	Transport: &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
	},
}

// ClientFor returns NoProxyClient when noProxy is true, else DefaultClient.
// This lets resolver code pick its HTTP client based on which pass of the
// candidate walk it is in, so extraction and the eventual byte transfer
// agree on proxied-vs-direct (spec §4.2: "mixing them produces 403s").
func ClientFor(noProxy bool) *http.Client {
	if noProxy {
		return NoProxyClient
	}
	return DefaultClient
}

// WithoutProxy runs fn with the process's proxy environment variables
// temporarily cleared, generalizing original_source's disabled_proxy_env
// context manager for code paths (e.g. third-party scraper libraries) that
// read proxy settings from the environment rather than taking a client.
func WithoutProxy(fn func()) {
	keys := []string{"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "http_proxy", "https_proxy", "all_proxy"}
	saved := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok {
			saved[k] = v
			_ = os.Unsetenv(k)
		}
	}
	defer func() {
		for _, k := range keys {
			if v, ok := saved[k]; ok {
				_ = os.Setenv(k, v)
			}
		}
	}()
	fn()
}

// MakeRequest performs a GET request and returns the response if it is a
// successful (2xx) status, otherwise it closes the body and returns an
// error, following shared/http/client.go's MakeRequest contract.
func MakeRequest(ctx context.Context, rawURL string, client *http.Client) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, rawURL)
	}
	return resp, nil
}

// BuildQueryURL appends params (sorted is not required; callers control
// determinism where it matters) to base as a query string.
func BuildQueryURL(base string, params map[string]string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// IsStaleMappingStatus reports whether an HTTP status code falls in the
// class that invalidates a cached STRM URL mapping (spec §4.8/§7).
func IsStaleMappingStatus(code int) bool {
	switch code {
	case http.StatusForbidden, http.StatusNotFound, http.StatusGone,
		http.StatusTooManyRequests, http.StatusUnavailableForLegalReasons:
		return true
	default:
		return false
	}
}

// IsHTTPOrHTTPS reports whether rawURL uses the http or https scheme.
func IsHTTPOrHTTPS(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}
