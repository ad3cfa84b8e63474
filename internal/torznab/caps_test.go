package torznab

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Zzackllack/AniBridge-sub000/internal/config"
)

func TestBuildCaps_ReflectsConfiguredAnimeCategory(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{TorznabCatAnime: 5070}
	caps := BuildCaps(cfg)

	assert.Equal(t, "yes", caps.Searching.TVSearch.Available)
	assert.Equal(t, supportedParams, caps.Searching.TVSearch.SupportedParams)
	require1Category(t, caps, "5070")
}

func require1Category(t *testing.T, caps Caps, id string) {
	t.Helper()
	if len(caps.Categories.Categories) != 1 {
		t.Fatalf("expected exactly one category, got %d", len(caps.Categories.Categories))
	}
	assert.Equal(t, id, caps.Categories.Categories[0].ID)
}
