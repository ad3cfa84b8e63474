package magnet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_PreservesColonsInXT(t *testing.T) {
	t.Parallel()

	uri := Build(Params{
		Title:    "Kaiju No. 8",
		Slug:     "kaiju-no-8",
		Season:   1,
		Episode:  3,
		Language: "German Dub",
		Site:     "aniworld.to",
	})

	require.Contains(t, uri, "xt=urn:btih:")
	assert.NotContains(t, uri, "xt=urn%3Abtih%3A")
}

func TestBuild_SiteSpecificPrefix(t *testing.T) {
	t.Parallel()

	cases := []struct {
		site   string
		prefix string
	}{
		{"aniworld.to", "aw_slug"},
		{"s.to", "sto_slug"},
		{"megakino.io", "mk_slug"},
	}

	for _, tc := range cases {
		uri := Build(Params{Title: "x", Slug: "y", Season: 1, Episode: 1, Language: "German Dub", Site: tc.site})
		assert.Contains(t, uri, tc.prefix+"=y", "site %s", tc.site)
	}
}

func TestBuildParse_RoundTrip(t *testing.T) {
	t.Parallel()

	uri := Build(Params{
		Title:    "Frieren",
		Slug:     "frieren",
		Season:   1,
		Episode:  12,
		Language: "German Sub",
		Provider: "VOE",
		Site:     "s.to",
	})

	flat, err := Parse(uri)
	require.NoError(t, err)
	assert.Equal(t, "frieren", flat["sto_slug"])
	assert.Equal(t, "1", flat["sto_s"])
	assert.Equal(t, "12", flat["sto_e"])
	assert.Equal(t, "German Sub", flat["sto_lang"])
	assert.Equal(t, "VOE", flat["sto_provider"])
}

func TestParse_RejectsNonMagnet(t *testing.T) {
	t.Parallel()

	_, err := Parse("https://example.com/not-a-magnet")
	assert.ErrorIs(t, err, ErrNotMagnet)
}

func TestParse_RejectsMixedPrefixes(t *testing.T) {
	t.Parallel()

	_, err := Parse("magnet:?xt=urn:btih:abc&dn=x&aw_slug=a&aw_s=1&aw_e=1&aw_lang=German+Dub&sto_slug=b")
	assert.ErrorIs(t, err, ErrMixedPrefix)
}

func TestParse_MissingRequiredParam(t *testing.T) {
	t.Parallel()

	_, err := Parse("magnet:?xt=urn:btih:abc&dn=x&aw_slug=a&aw_s=1&aw_e=1")
	var missing ErrMissingParam
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "aw_lang", missing.Param)
}

func TestParse_DefaultsToAWPrefixWhenAbsent(t *testing.T) {
	t.Parallel()

	_, err := Parse("magnet:?xt=urn:btih:abc&dn=x")
	var missing ErrMissingParam
	require.ErrorAs(t, err, &missing)
	assert.True(t, strings.HasPrefix(missing.Param, "aw_"))
}

func TestHashID_IsDeterministicAndSensitiveToAllFields(t *testing.T) {
	t.Parallel()

	a := hashID("slug", 1, 2, "German Dub")
	b := hashID("slug", 1, 2, "German Dub")
	c := hashID("slug", 1, 2, "German Sub")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
