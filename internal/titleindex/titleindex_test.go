package titleindex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHTML = `
<html><body>
<a href="/anime/stream/kaiju-no-8" data-alternative-title="Kaiju No. 8, Kaijuu 8-gou">Kaiju No. 8</a>
<a href="/anime/stream/frieren" data-alternative-title="Frieren: Beyond Journey's End">Frieren</a>
<a href="/other/page">Not a series link</a>
</body></html>`

var aniworldHrefPattern = regexp.MustCompile(`/anime/stream/([^/?#]+)`)

func TestParseIndex_ExtractsSlugsTitlesAndAlts(t *testing.T) {
	t.Parallel()

	idx, alts, err := ParseIndex(sampleHTML, aniworldHrefPattern)
	require.NoError(t, err)

	assert.Equal(t, "Kaiju No. 8", idx["kaiju-no-8"])
	assert.Equal(t, "Frieren", idx["frieren"])
	assert.NotContains(t, idx, "other/page")

	require.Contains(t, alts, "kaiju-no-8")
	assert.Contains(t, alts["kaiju-no-8"], "Kaiju No. 8")
	assert.Contains(t, alts["kaiju-no-8"], "Kaijuu 8-gou")
}

func TestIndex_LazyTTLRefresh(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(sampleHTML))
	}))
	defer srv.Close()

	cfg := SiteConfig{Site: "aniworld.to", HrefPattern: aniworldHrefPattern, IndexURL: srv.URL, RefreshHours: 1}
	ix := New([]SiteConfig{cfg}, srv.Client())

	fakeNow := time.Now()
	ix.nowFunc = func() time.Time { return fakeNow }
	ix.cache["aniworld.to"] = &entry{
		index:      map[string]string{"frieren": "Frieren"},
		alts:       map[string][]string{},
		lastLoaded: fakeNow,
	}

	idx := ix.Load(context.Background(), "aniworld.to")
	assert.Equal(t, "Frieren", idx["frieren"])
	assert.Equal(t, int32(0), calls.Load(), "within the TTL the cached index is served")

	fakeNow = fakeNow.Add(2 * time.Hour)
	idx = ix.Load(context.Background(), "aniworld.to")
	assert.Equal(t, "Kaiju No. 8", idx["kaiju-no-8"])
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolver_ResolvesBestScoringCandidate(t *testing.T) {
	t.Parallel()

	cfg := SiteConfig{Site: "aniworld.to", HrefPattern: aniworldHrefPattern, RefreshHours: 0, SearchPriority: 0}
	ix := New([]SiteConfig{cfg}, nil)
	ix.cache["aniworld.to"] = &entry{
		index: map[string]string{
			"frieren":    "Frieren",
			"kaiju-no-8": "Kaiju No. 8",
		},
		alts:       map[string][]string{},
		lastLoaded: time.Now(),
	}

	r := NewResolver(ix, DefaultMinConfidence)
	c, ok := r.Resolve(context.Background(), "Kaiju No 8")
	require.True(t, ok)
	assert.Equal(t, "kaiju-no-8", c.Slug)
}

func TestResolver_RejectsBelowConfidenceFloor(t *testing.T) {
	t.Parallel()

	cfg := SiteConfig{Site: "aniworld.to", HrefPattern: aniworldHrefPattern}
	ix := New([]SiteConfig{cfg}, nil)
	ix.cache["aniworld.to"] = &entry{
		index:      map[string]string{"frieren": "Frieren"},
		alts:       map[string][]string{},
		lastLoaded: time.Now(),
	}

	r := NewResolver(ix, DefaultMinConfidence)
	_, ok := r.Resolve(context.Background(), "completely unrelated query text")
	assert.False(t, ok)
}

func TestResolver_TieBreaksBySearchPriorityThenShorterTitleThenSlug(t *testing.T) {
	t.Parallel()

	cfgA := SiteConfig{Site: "site-a", SearchPriority: 1}
	cfgB := SiteConfig{Site: "site-b", SearchPriority: 0}
	ix := New([]SiteConfig{cfgA, cfgB}, nil)
	ix.cache["site-a"] = &entry{index: map[string]string{"slug-a": "Same Title"}, alts: map[string][]string{}, lastLoaded: time.Now()}
	ix.cache["site-b"] = &entry{index: map[string]string{"slug-b": "Same Title"}, alts: map[string][]string{}, lastLoaded: time.Now()}

	r := NewResolver(ix, DefaultMinConfidence)
	c, ok := r.Resolve(context.Background(), "Same Title")
	require.True(t, ok)
	assert.Equal(t, "site-b", c.Site, "lower search_priority should win ties")
}
