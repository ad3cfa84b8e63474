package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildReleaseName_StandardEpisode(t *testing.T) {
	t.Parallel()

	got := BuildReleaseName(Spec{
		SeriesTitle:  "Attack on Titan",
		Season:       4,
		Episode:      28,
		Height:       1080,
		Vcodec:       "hevc",
		Language:     "German Dub",
		SourceTag:    "WEB",
		ReleaseGroup: "anibridge",
	})

	assert.Equal(t, "Attack.on.Titan.S04E28.1080p.WEB.H265.GER-ANIBRIDGE", got)
}

func TestBuildReleaseName_AbsoluteNumbering(t *testing.T) {
	t.Parallel()

	got := BuildReleaseName(Spec{
		SeriesTitle:    "One Piece",
		AbsoluteNumber: 1071,
		Height:         720,
		Vcodec:         "h264",
		Language:       "German Sub",
		SourceTag:      "WEB",
		ReleaseGroup:   "anibridge",
	})

	assert.Equal(t, "One.Piece.ABS1071.720p.WEB.H264.GER.SUB-ANIBRIDGE", got)
}

func TestBuildReleaseName_NoReleaseGroupOmitsSuffix(t *testing.T) {
	t.Parallel()

	got := BuildReleaseName(Spec{
		SeriesTitle: "Frieren",
		Season:      1,
		Episode:     1,
		Language:    "English Sub",
		SourceTag:   "WEB",
	})

	assert.NotContains(t, got, "-")
}

func TestSafeComponent_CollapsesPunctuation(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Kaiju.No.8", SafeComponent("Kaiju No. 8!!"))
	assert.Equal(t, "Re.Zero", SafeComponent("  Re:Zero  "))
}

func TestMapCodec(t *testing.T) {
	t.Parallel()

	cases := map[string]Codec{
		"":          CodecH264,
		"avc1":      CodecH264,
		"hevc":      CodecH265,
		"libx265":   CodecH265,
		"av01.0.05": CodecAV1,
		"vp09":      CodecVP9,
	}
	for in, want := range cases {
		assert.Equal(t, want, MapCodec(in), "input %q", in)
	}
}

func TestMapHeightToQuality(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Quality2160p, MapHeightToQuality(2160))
	assert.Equal(t, Quality1080p, MapHeightToQuality(1080))
	assert.Equal(t, Quality720p, MapHeightToQuality(720))
	assert.Equal(t, QualitySD, MapHeightToQuality(240))
	assert.Equal(t, QualitySD, MapHeightToQuality(0))
}

func TestCompareQuality(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, CompareQuality(Quality1080p, Quality720p))
	assert.Equal(t, -1, CompareQuality(Quality480p, Quality1080p))
	assert.Equal(t, 0, CompareQuality(Quality720p, Quality720p))
}

func TestEstimateSizeBytes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(8)<<30, EstimateSizeBytes("Show.S01E01.2160p.WEB-DL"))
	assert.Equal(t, int64(500)<<20, EstimateSizeBytes("Show.S01E01.WEB-DL"))
}
