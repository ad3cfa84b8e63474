package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zzackllack/AniBridge-sub000/internal/apperr"
)

type stubProvider struct {
	name   string
	url    string
	err    error
	called *[]string
}

func (p stubProvider) Name() string { return p.name }

func (p stubProvider) DirectURL(_ context.Context, _ Episode, _ string) (string, error) {
	if p.called != nil {
		*p.called = append(*p.called, p.name)
	}
	return p.url, p.err
}

func TestGetDirectURLWithFallback_PreferredFirst(t *testing.T) {
	t.Parallel()

	var calls []string
	reg := NewRegistry([]string{"voe", "streamtape"}, map[string]Provider{
		"voe":        stubProvider{name: "voe", url: "", called: &calls},
		"streamtape": stubProvider{name: "streamtape", url: "https://example/stream", called: &calls},
		"doodstream": stubProvider{name: "doodstream", url: "https://example/dood", called: &calls},
	})

	url, provider, err := reg.GetDirectURLWithFallback(context.Background(), Episode{}, "doodstream", "German Dub")
	require.NoError(t, err)
	assert.Equal(t, "https://example/dood", url)
	assert.Equal(t, "doodstream", provider)
	assert.Equal(t, []string{"doodstream"}, calls)
}

func TestGetDirectURLWithFallback_FallsThroughOnEmptyResult(t *testing.T) {
	t.Parallel()

	reg := NewRegistry([]string{"voe", "streamtape"}, map[string]Provider{
		"voe":        stubProvider{name: "voe", url: ""},
		"streamtape": stubProvider{name: "streamtape", url: "https://example/stream"},
	})

	url, provider, err := reg.GetDirectURLWithFallback(context.Background(), Episode{}, "", "German Dub")
	require.NoError(t, err)
	assert.Equal(t, "https://example/stream", url)
	assert.Equal(t, "streamtape", provider)
}

func TestGetDirectURLWithFallback_ShortCircuitsOnLanguageUnavailable(t *testing.T) {
	t.Parallel()

	var calls []string
	langErr := &apperr.LanguageUnavailable{Language: "English Dub", Available: []string{"German Dub"}}
	reg := NewRegistry([]string{"voe", "streamtape"}, map[string]Provider{
		"voe":        stubProvider{name: "voe", err: langErr, called: &calls},
		"streamtape": stubProvider{name: "streamtape", url: "https://example/stream", called: &calls},
	})

	_, _, err := reg.GetDirectURLWithFallback(context.Background(), Episode{}, "", "English Dub")
	require.Error(t, err)
	assert.True(t, apperr.IsLanguageUnavailable(err))
	assert.Equal(t, []string{"voe"}, calls, "streamtape must not be tried after a language-unavailable verdict")
}

func TestGetDirectURLWithFallback_NoProviderYieldedURL(t *testing.T) {
	t.Parallel()

	reg := NewRegistry([]string{"voe", "streamtape"}, map[string]Provider{
		"voe":        stubProvider{name: "voe"},
		"streamtape": stubProvider{name: "streamtape"},
	})

	_, _, err := reg.GetDirectURLWithFallback(context.Background(), Episode{}, "", "German Dub")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNoProvider, apperr.KindOf(err))
}

func TestParseAvailableLanguagesFromError(t *testing.T) {
	t.Parallel()

	got := ParseAvailableLanguagesFromError("No provider found. Available languages: ['English Sub', 'German Sub']")
	assert.Equal(t, []string{"English Sub", "German Sub"}, got)
}

func TestNormalizeLanguage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "German Dub", NormalizeLanguage("de"))
	assert.Equal(t, "German Sub", NormalizeLanguage("German Sub"))
	assert.Equal(t, "Klingon", NormalizeLanguage("Klingon"))
}
