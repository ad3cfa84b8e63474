package strmproxy

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// uriTagPrefixes lists the HLS tags that carry a URI= attribute needing
// rewriting to route through the proxy, grounded on hls.py's
// _URI_TAG_PREFIXES.
var uriTagPrefixes = []string{
	"#EXT-X-KEY",
	"#EXT-X-MAP",
	"#EXT-X-MEDIA",
	"#EXT-X-I-FRAME-STREAM-INF",
	"#EXT-X-SESSION-KEY",
	"#EXT-X-PRELOAD-HINT",
	"#EXT-X-RENDITION-REPORT",
	"#EXT-X-SESSION-DATA",
}

var uriAttrRe = regexp.MustCompile(`URI=(?:"([^"]*)"|([^,]*))`)

const (
	streamInfPrefix     = "#EXT-X-STREAM-INF:"
	extinfPrefix        = "#EXTINF:"
	minAverageBandwidth = 192_000
)

func hasURITagPrefix(line string) bool {
	for _, p := range uriTagPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// splitHLSAttrs splits an HLS attribute list on commas, respecting quoted
// values, matching hls.py's _split_hls_attrs.
func splitHLSAttrs(raw string) []string {
	var parts []string
	var buf strings.Builder
	inQuotes := false
	for _, ch := range raw {
		if ch == '"' {
			inQuotes = !inQuotes
		}
		if ch == ',' && !inQuotes {
			if part := strings.TrimSpace(buf.String()); part != "" {
				parts = append(parts, part)
			}
			buf.Reset()
			continue
		}
		buf.WriteRune(ch)
	}
	if tail := strings.TrimSpace(buf.String()); tail != "" {
		parts = append(parts, tail)
	}
	return parts
}

func parseBandwidth(attrs []string) (int, bool) {
	for _, attr := range attrs {
		idx := strings.Index(attr, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(attr[:idx])
		if !strings.EqualFold(key, "BANDWIDTH") {
			continue
		}
		value := strings.Trim(strings.TrimSpace(attr[idx+1:]), `"`)
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func computeAverageBandwidth(bandwidth int) int {
	avg := int(float64(bandwidth) * 0.85)
	if avg < minAverageBandwidth {
		return minAverageBandwidth
	}
	return avg
}

// IsHLSMediaPlaylist reports whether playlistText looks like a media
// playlist (segment list) rather than a master playlist (variant list),
// matching hls.py's is_hls_media_playlist: it carries #EXTINF lines and no
// #EXT-X-STREAM-INF lines.
func IsHLSMediaPlaylist(playlistText string) bool {
	if playlistText == "" {
		return false
	}
	hasStreamInf, hasExtinf := false, false
	for _, raw := range strings.Split(playlistText, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, streamInfPrefix) {
			hasStreamInf = true
		}
		if strings.HasPrefix(line, extinfPrefix) {
			hasExtinf = true
		}
	}
	return hasExtinf && !hasStreamInf
}

// InjectStreamInfBandwidthHints ensures every #EXT-X-STREAM-INF variant line
// carries BANDWIDTH and AVERAGE-BANDWIDTH attributes, synthesizing them from
// defaultBandwidth where absent, matching
// inject_stream_inf_bandwidth_hints. Some upstream master playlists omit
// these, which makes picky HLS clients refuse to pick a variant at all.
func InjectStreamInfBandwidthHints(playlistText string, defaultBandwidth int) string {
	if playlistText == "" {
		return playlistText
	}
	if defaultBandwidth <= 0 {
		defaultBandwidth = minAverageBandwidth
	}

	endsWithNewline := strings.HasSuffix(playlistText, "\n")
	lines := strings.Split(playlistText, "\n")
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if !strings.HasPrefix(stripped, streamInfPrefix) {
			out = append(out, line)
			continue
		}

		prefixIdx := strings.Index(line, streamInfPrefix)
		prefix := line[:prefixIdx] + streamInfPrefix
		attrsRaw := line[prefixIdx+len(streamInfPrefix):]
		attrs := splitHLSAttrs(attrsRaw)

		keys := map[string]bool{}
		for _, attr := range attrs {
			if idx := strings.Index(attr, "="); idx > 0 {
				keys[strings.ToUpper(strings.TrimSpace(attr[:idx]))] = true
			}
		}

		bandwidth, hasBandwidth := parseBandwidth(attrs)
		if !keys["BANDWIDTH"] {
			bandwidth = defaultBandwidth
			attrs = append(attrs, "BANDWIDTH="+strconv.Itoa(bandwidth))
			hasBandwidth = true
		}
		if !hasBandwidth {
			bandwidth = defaultBandwidth
		}
		if !keys["AVERAGE-BANDWIDTH"] {
			attrs = append(attrs, "AVERAGE-BANDWIDTH="+strconv.Itoa(computeAverageBandwidth(bandwidth)))
		}
		out = append(out, prefix+strings.Join(attrs, ","))
	}

	result := strings.Join(out, "\n")
	if endsWithNewline {
		result += "\n"
	}
	return result
}

// BuildSyntheticMasterPlaylist builds a minimal master playlist pointing at
// a single media playlist URL, for upstreams that serve a bare media
// playlist directly, matching build_synthetic_master_playlist.
func BuildSyntheticMasterPlaylist(mediaPlaylistURL string, bandwidth int) string {
	if bandwidth <= 0 {
		bandwidth = minAverageBandwidth
	}
	average := computeAverageBandwidth(bandwidth)
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-STREAM-INF:BANDWIDTH=")
	b.WriteString(strconv.Itoa(bandwidth))
	b.WriteString(",AVERAGE-BANDWIDTH=")
	b.WriteString(strconv.Itoa(average))
	b.WriteString("\n")
	b.WriteString(mediaPlaylistURL)
	b.WriteString("\n")
	return b.String()
}

func rewriteURIAttr(line, baseURL string, rewriteURL func(string) string) string {
	return uriAttrRe.ReplaceAllStringFunc(line, func(match string) string {
		sub := uriAttrRe.FindStringSubmatch(match)
		quoted, unquoted := sub[1], sub[2]
		raw := quoted
		wasQuoted := strings.Contains(match, `"`)
		if !wasQuoted {
			raw = unquoted
		}
		abs := resolveReference(baseURL, raw)
		proxied := rewriteURL(abs)
		if wasQuoted {
			return `URI="` + proxied + `"`
		}
		return "URI=" + proxied
	})
}

func resolveReference(baseURL, ref string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ref
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(rel).String()
}

// RewriteHLSPlaylist rewrites every URI a playlist references (segment
// lines, #EXT-X-KEY/#EXT-X-MAP/etc URI= attributes) through rewriteURL,
// resolving relative references against baseURL, matching
// rewrite_hls_playlist. Non-URI lines and comments are passed through
// unchanged, and the original trailing newline is preserved.
func RewriteHLSPlaylist(playlistText, baseURL string, rewriteURL func(string) string) string {
	if playlistText == "" {
		return playlistText
	}

	endsWithNewline := strings.HasSuffix(playlistText, "\n")
	lines := strings.Split(playlistText, "\n")
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			out = append(out, line)
			continue
		}
		if strings.HasPrefix(stripped, "#") {
			if hasURITagPrefix(stripped) {
				out = append(out, rewriteURIAttr(line, baseURL, rewriteURL))
			} else {
				out = append(out, line)
			}
			continue
		}

		abs := resolveReference(baseURL, stripped)
		out = append(out, rewriteURL(abs))
	}

	result := strings.Join(out, "\n")
	if endsWithNewline {
		result += "\n"
	}
	return result
}
