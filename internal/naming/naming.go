// Package naming builds scene-style release names for synthetic torznab
// results and downloaded files, grounded on
// original_source/app/utils/naming.py and the height/codec bucketing style of
// the teacher's server/services/quality.go.
package naming

import (
	"fmt"
	"regexp"
	"strings"
)

// langTagMap maps a display language to its release-name tag. Languages not
// listed fall back to a sanitized form of the language string itself.
var langTagMap = map[string]string{
	"German Dub":  "GER",
	"German Sub":  "GER.SUB",
	"English Sub": "ENG.SUB",
}

var (
	nonAlnum  = regexp.MustCompile(`[^A-Za-z0-9]+`)
	multiDots = regexp.MustCompile(`\.+`)
)

// SafeComponent collapses any run of non-alphanumeric characters to a single
// dot and trims leading/trailing dots, matching _safe_component.
func SafeComponent(s string) string {
	s = nonAlnum.ReplaceAllString(strings.TrimSpace(s), ".")
	s = multiDots.ReplaceAllString(s, ".")
	return strings.Trim(s, ".")
}

// Codec is the folded codec tag used in release names.
type Codec string

const (
	CodecH264 Codec = "H264"
	CodecH265 Codec = "H265"
	CodecAV1  Codec = "AV1"
	CodecVP9  Codec = "VP9"
)

// MapCodec folds a raw vcodec string (as reported by a media probe) onto one
// of the four release-name codec buckets, defaulting to H264.
func MapCodec(vcodec string) Codec {
	v := strings.ToLower(vcodec)
	switch {
	case v == "":
		return CodecH264
	case strings.Contains(v, "hevc"), strings.Contains(v, "h265"), strings.Contains(v, "x265"):
		return CodecH265
	case strings.Contains(v, "av01"), strings.Contains(v, "av1"):
		return CodecAV1
	case strings.Contains(v, "vp09"), strings.Contains(v, "vp9"):
		return CodecVP9
	default:
		return CodecH264
	}
}

// Quality is the folded resolution tag used in release names.
type Quality string

const (
	Quality2160p Quality = "2160p"
	Quality1440p Quality = "1440p"
	Quality1080p Quality = "1080p"
	Quality720p  Quality = "720p"
	Quality480p  Quality = "480p"
	QualitySD    Quality = "SD"
)

// qualityRank orders Quality values from lowest to highest, used for
// comparisons (e.g. "did this probe improve on the cached quality").
var qualityRank = map[Quality]int{
	QualitySD:    0,
	Quality480p:  1,
	Quality720p:  2,
	Quality1080p: 3,
	Quality1440p: 4,
	Quality2160p: 5,
}

// CompareQuality returns 1 if a > b, -1 if a < b, 0 if equal.
func CompareQuality(a, b Quality) int {
	ra, rb := qualityRank[a], qualityRank[b]
	switch {
	case ra > rb:
		return 1
	case ra < rb:
		return -1
	default:
		return 0
	}
}

// MapHeightToQuality buckets a pixel height onto a Quality tag, defaulting
// to SD for zero/unknown heights.
func MapHeightToQuality(height int) Quality {
	switch {
	case height >= 2160:
		return Quality2160p
	case height >= 1440:
		return Quality1440p
	case height >= 1080:
		return Quality1080p
	case height >= 720:
		return Quality720p
	case height >= 480:
		return Quality480p
	default:
		return QualitySD
	}
}

// Spec describes the inputs to BuildReleaseName.
type Spec struct {
	SeriesTitle    string
	Season         int
	Episode        int
	AbsoluteNumber int // 0 means "not absolute-numbered"
	Height         int
	Vcodec         string
	Language       string
	SourceTag      string
	ReleaseGroup   string
}

// BuildReleaseName assembles the dot-separated scene-style release name:
// <Series>.S<ss>E<ee>.<quality>.<source-tag>.<codec>.<lang-tag>-<GROUP>, or
// <Series>.ABS<nnn>.<...> for absolute-numbered releases.
func BuildReleaseName(s Spec) string {
	seriesPart := SafeComponent(s.SeriesTitle)

	var sePart string
	if s.AbsoluteNumber > 0 {
		sePart = fmt.Sprintf("ABS%03d", s.AbsoluteNumber)
	} else if s.Season > 0 || s.Episode > 0 {
		sePart = fmt.Sprintf("S%02dE%02d", s.Season, s.Episode)
	}

	qualPart := string(MapHeightToQuality(s.Height))
	codecPart := string(MapCodec(s.Vcodec))

	langPart, ok := langTagMap[s.Language]
	if !ok {
		langPart = SafeComponent(s.Language)
	}

	parts := []string{seriesPart, sePart, qualPart, s.SourceTag, codecPart, langPart}
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	base := strings.Join(nonEmpty, ".")

	group := strings.TrimSpace(s.ReleaseGroup)
	if group != "" {
		base = base + "-" + strings.ToUpper(group)
	}
	return base
}

// EstimateSizeBytes heuristically estimates a release's file size from its
// title's quality tags, mirroring _estimate_size_from_title_bytes's bucketed
// table exactly. Used only to populate the Torznab <size>/torznab:attr size
// field for synthetic results; never consulted for actual download planning.
func EstimateSizeBytes(title string) int64 {
	const mib = 1 << 20
	const gib = 1 << 30
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "2160p"), strings.Contains(t, "4k"):
		return 8 * gib
	case strings.Contains(t, "1080p"):
		return 1500 * mib
	case strings.Contains(t, "720p"):
		return 700 * mib
	case strings.Contains(t, "480p"):
		return 350 * mib
	default:
		return 500 * mib
	}
}
