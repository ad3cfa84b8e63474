package strmproxy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Zzackllack/AniBridge-sub000/internal/httpx"
)

var allowedResponseHeaders = map[string]bool{
	"content-type": true, "content-length": true, "content-range": true,
	"accept-ranges": true, "etag": true, "last-modified": true,
}

var hlsContentTypes = map[string]bool{
	"application/vnd.apple.mpegurl": true, "application/x-mpegurl": true, "audio/mpegurl": true,
}

const streamChunkSize = 64 * 1024

// Handlers wires auth, URL building, the resolved-URL cache and HLS
// rewriting into the /strm/stream and /strm/proxy/{name} HTTP endpoints,
// grounded on api/strm.py's router.
type Handlers struct {
	auth     *Authenticator
	builder  *URLBuilder
	resolver *Resolver
	client   *http.Client
}

// NewHandlers constructs Handlers.
func NewHandlers(auth *Authenticator, builder *URLBuilder, resolver *Resolver) *Handlers {
	return &Handlers{auth: auth, builder: builder, resolver: resolver, client: httpx.LongTimeoutClient}
}

func filterResponseHeaders(h http.Header) http.Header {
	out := make(http.Header)
	for k, v := range h {
		if allowedResponseHeaders[strings.ToLower(k)] {
			out[k] = v
		}
	}
	return out
}

func ensureContentType(h http.Header, def string) {
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", def)
	}
}

func isHLSResponse(rawURL string, h http.Header) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(h.Get("Content-Type"), ";", 2)[0]))
	if hlsContentTypes[ct] {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	return strings.HasSuffix(path, ".m3u8") || strings.HasSuffix(path, ".m3u")
}

func upstreamRequestHeaders(r *http.Request) http.Header {
	h := http.Header{}
	if v := r.Header.Get("Range"); v != "" {
		h.Set("Range", v)
	}
	if v := r.Header.Get("User-Agent"); v != "" {
		h.Set("User-Agent", v)
	}
	return h
}

func (h *Handlers) openUpstream(method, rawURL string, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequest(method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header = headers.Clone()
	return h.client.Do(req)
}

// parseIdentityParams extracts a required EpisodeRequest from query params,
// matching api/strm.py's _parse_identity.
func parseIdentityParams(q url.Values) (EpisodeRequest, error) {
	slug := strings.TrimSpace(q.Get("slug"))
	if slug == "" {
		return EpisodeRequest{}, errMissingParam("slug")
	}
	site := strings.TrimSpace(q.Get("site"))
	if site == "" {
		site = "aniworld.to"
	}
	lang := strings.TrimSpace(q.Get("lang"))
	if lang == "" {
		lang = strings.TrimSpace(q.Get("language"))
	}
	if lang == "" {
		return EpisodeRequest{}, errMissingParam("lang")
	}
	sRaw, eRaw := q.Get("s"), q.Get("e")
	if sRaw == "" {
		sRaw = q.Get("season")
	}
	if eRaw == "" {
		eRaw = q.Get("episode")
	}
	season, err := strconv.Atoi(sRaw)
	if err != nil {
		return EpisodeRequest{}, errInvalidParam("season/episode")
	}
	episode, err := strconv.Atoi(eRaw)
	if err != nil {
		return EpisodeRequest{}, errInvalidParam("season/episode")
	}
	return EpisodeRequest{
		Site: site, Slug: slug, Season: season, Episode: episode,
		Language: lang, Provider: strings.TrimSpace(q.Get("provider")),
	}, nil
}

type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func errMissingParam(name string) error { return &httpError{status: 400, msg: "missing " + name} }
func errInvalidParam(name string) error { return &httpError{status: 400, msg: "invalid " + name} }

func writeHTTPError(w http.ResponseWriter, err error) {
	if he, ok := err.(*httpError); ok {
		http.Error(w, he.msg, he.status)
		return
	}
	http.Error(w, err.Error(), http.StatusBadGateway)
}

// fetchWithRefresh resolves id's direct URL (through cache) and opens an
// upstream request, retrying once with a forced cache invalidation if the
// first attempt fails outright or returns a stale-mapping status class,
// matching _fetch_with_refresh.
func (h *Handlers) fetchWithRefresh(ctx context.Context, req EpisodeRequest, method string, headers http.Header) (*http.Response, string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		directURL, _, err := h.resolver.Resolve(ctx, req)
		if err != nil {
			return nil, "", err
		}

		resp, err := h.openUpstream(method, directURL, headers)
		if err != nil {
			lastErr = err
			if attempt == 0 {
				_ = h.resolver.Invalidate(ctx, req)
				continue
			}
			return nil, "", lastErr
		}

		if httpx.IsStaleMappingStatus(resp.StatusCode) && attempt == 0 {
			_ = resp.Body.Close()
			_ = h.resolver.Invalidate(ctx, req)
			continue
		}
		return resp, directURL, nil
	}
	return nil, "", &httpError{status: 502, msg: "upstream request failed"}
}

// ServeStream handles GET/HEAD /strm/stream: resolves the identity named by
// the query params to an upstream URL, proxying its bytes (rewriting an
// HLS playlist's embedded URIs through /strm/proxy as it goes).
func (h *Handlers) ServeStream(w http.ResponseWriter, r *http.Request) {
	params := paramsFromQuery(r.URL.Query())
	if err := h.auth.RequireAuth(params); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	req, err := parseIdentityParams(r.URL.Query())
	if err != nil {
		writeHTTPError(w, err)
		return
	}

	reqHeaders := upstreamRequestHeaders(r)
	method := r.Method
	if method == http.MethodHead {
		method = http.MethodGet
		reqHeaders.Set("Range", "bytes=0-0")
	}

	resp, upstreamURL, err := h.fetchWithRefresh(r.Context(), req, method, reqHeaders)
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	defer resp.Body.Close()

	log.Info().Str("site", req.Site).Str("slug", req.Slug).Int("s", req.Season).Int("e", req.Episode).
		Str("lang", req.Language).Msg("strm stream request")

	if r.Method == http.MethodHead {
		filtered := filterResponseHeaders(resp.Header)
		ensureContentType(filtered, "application/octet-stream")
		copyHeader(w.Header(), filtered)
		w.WriteHeader(resp.StatusCode)
		return
	}

	if isHLSResponse(upstreamURL, resp.Header) {
		h.serveHLS(w, resp, upstreamURL)
		return
	}

	headers := filterResponseHeaders(resp.Header)
	ensureContentType(headers, "application/octet-stream")
	copyHeader(w.Header(), headers)
	w.WriteHeader(resp.StatusCode)
	streamBody(w, resp.Body)
}

// ServeProxy handles GET/HEAD /strm/proxy/{name}: streams an arbitrary
// upstream resource URL (passed via the "u" query param) behind this
// proxy's auth, rewriting it first if it turns out to be an HLS playlist.
func (h *Handlers) ServeProxy(w http.ResponseWriter, r *http.Request) {
	params := paramsFromQuery(r.URL.Query())
	if err := h.auth.RequireAuth(params); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	upstreamURL := strings.TrimSpace(r.URL.Query().Get("u"))
	if upstreamURL == "" {
		http.Error(w, "missing upstream url", http.StatusBadRequest)
		return
	}
	if !httpx.IsHTTPOrHTTPS(upstreamURL) {
		http.Error(w, "invalid upstream url scheme", http.StatusBadRequest)
		return
	}

	reqHeaders := upstreamRequestHeaders(r)
	method := r.Method
	if method == http.MethodHead {
		method = http.MethodGet
		reqHeaders.Set("Range", "bytes=0-0")
	}

	resp, err := h.openUpstream(method, upstreamURL, reqHeaders)
	if err != nil {
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if r.Method == http.MethodHead {
		filtered := filterResponseHeaders(resp.Header)
		ensureContentType(filtered, "application/octet-stream")
		copyHeader(w.Header(), filtered)
		w.WriteHeader(resp.StatusCode)
		return
	}

	if isHLSResponse(upstreamURL, resp.Header) {
		h.serveHLS(w, resp, upstreamURL)
		return
	}

	headers := filterResponseHeaders(resp.Header)
	ensureContentType(headers, "application/octet-stream")
	copyHeader(w.Header(), headers)
	w.WriteHeader(resp.StatusCode)
	streamBody(w, resp.Body)
}

func (h *Handlers) serveHLS(w http.ResponseWriter, resp *http.Response, baseURL string) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, "failed reading upstream playlist", http.StatusBadGateway)
		return
	}

	rewritten := RewriteHLSPlaylist(string(body), baseURL, func(u string) string {
		proxied, err := h.builder.BuildProxyURL(u)
		if err != nil {
			return u
		}
		return proxied
	})

	out := []byte(rewritten)
	headers := filterResponseHeaders(resp.Header)
	headers.Set("Content-Type", "application/vnd.apple.mpegurl")
	headers.Set("Content-Length", strconv.Itoa(len(out)))
	copyHeader(w.Header(), headers)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(out)
}

func copyHeader(dst, src http.Header) {
	for k, v := range src {
		dst[k] = v
	}
}

func streamBody(w http.ResponseWriter, body io.Reader) {
	buf := make([]byte, streamChunkSize)
	flusher, _ := w.(http.Flusher)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}
