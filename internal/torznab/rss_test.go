package torznab

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Zzackllack/AniBridge-sub000/internal/magnet"
)

func TestBuildGUID_AppendsAliasTagOnlyWhenCoordinatesDiffer(t *testing.T) {
	t.Parallel()

	direct := buildGUID("aniworld.to", "frieren", 1, 5, "German Dub", 1, 5, false)
	assert.Equal(t, "aw:frieren:s1e5:German Dub", direct)

	aliased := buildGUID("aniworld.to", "frieren", 0, 2, "German Dub", 1, 12, false)
	assert.Equal(t, "aw:frieren:s0e2:German Dub:alias-s1e12", aliased)

	strm := buildGUID("aniworld.to", "frieren", 1, 5, "German Dub", 1, 5, true)
	assert.Equal(t, "aw:frieren:s1e5:German Dub:strm", strm)
}

func TestBuildGUID_UnknownSiteDerivesPrefix(t *testing.T) {
	t.Parallel()

	guid := buildGUID("example.org", "slug", 1, 1, "German Dub", 1, 1, false)
	assert.Equal(t, "exa:slug:s1e1:German Dub", guid)
}

func TestParseBTIHFromMagnet_ExtractsHexHash(t *testing.T) {
	t.Parallel()

	uri := magnet.Build(magnet.Params{
		Title: "Frieren", Slug: "frieren", Season: 1, Episode: 1,
		Language: "German Dub", Site: "aniworld.to",
	})

	btih := parseBTIHFromMagnet(uri)
	assert.Len(t, btih, 40)
}

func TestParseBTIHFromMagnet_MalformedURIReturnsEmpty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", parseBTIHFromMagnet("not a uri"))
}

func TestBuildItem_PopulatesAttributesFromMagnet(t *testing.T) {
	t.Parallel()

	uri := magnet.Build(magnet.Params{
		Title: "Frieren S01E01 German Dub", Slug: "frieren", Season: 1, Episode: 1,
		Language: "German Dub", Site: "aniworld.to",
	})

	item := buildItem(itemParams{
		Title:    "Frieren S01E01 German Dub",
		Magnet:   uri,
		PubDate:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		CatID:    5070,
		GUID:     "aw:frieren:s1e1:German Dub",
		Seeders:  42,
		Leechers: 3,
	})

	assert.Equal(t, "Frieren S01E01 German Dub", item.Title)
	assert.Equal(t, "5070", item.Category)
	assert.Equal(t, uri, item.Enclosure.URL)
	assert.Equal(t, "false", item.GUID.IsPermaLink)

	attrs := map[string]string{}
	for _, a := range item.Attributes {
		attrs[a.Name] = a.Value
	}
	assert.Equal(t, uri, attrs["magneturl"])
	assert.Equal(t, "42", attrs["seeders"])
	assert.Equal(t, "3", attrs["leechers"])
	assert.Equal(t, "45", attrs["peers"])
	assert.Len(t, attrs["infohash"], 40)
}
