package specials

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const filmeHTML = `
<html><body>
<table><tbody id="season0">
<tr>
  <td class="seasonEpisodeTitle"><strong>Special Episode</strong><span>Special Episode Alt</span></td>
  <td><a href="/anime/stream/frieren/filme/film-1">Film 1</a></td>
</tr>
<tr>
  <td class="seasonEpisodeTitle"><strong>Unrelated Short</strong><span></span></td>
  <td><a href="/anime/stream/frieren/filme/film-2">Film 2</a></td>
</tr>
</tbody></table>
</body></html>`

func TestParseFilmeEntries_ExtractsFilmIndexAndTitles(t *testing.T) {
	t.Parallel()

	entries, err := ParseFilmeEntries(filmeHTML)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, 1, entries[0].FilmIndex)
	assert.Equal(t, "Special Episode", entries[0].TitleDE)
	assert.Equal(t, "Special Episode Alt", entries[0].TitleAlt)

	assert.Equal(t, 2, entries[1].FilmIndex)
}

func TestParseFilmeEntries_NoSeason0TableReturnsEmpty(t *testing.T) {
	t.Parallel()

	entries, err := ParseFilmeEntries(`<html><body><p>nothing here</p></body></html>`)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTitleScore_ExactMatchScoresHighest(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, titleScore("Special Episode", "Special Episode"), 0.001)
}

func TestTitleScore_UnrelatedTitlesScoreLow(t *testing.T) {
	t.Parallel()

	assert.Less(t, titleScore("Special Episode", "Completely Different Thing"), 0.3)
}

func TestTitleScore_PartNumberMismatchPenalizesOverlappingTitles(t *testing.T) {
	t.Parallel()

	withPart1 := titleScore("Movie Part 1", "Movie Part 1")
	mismatch := titleScore("Movie Part 1", "Movie Part 2")
	assert.Less(t, mismatch, withPart1)
}

func TestTitleScore_EmptyInputsScoreZero(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, titleScore("", "Something"))
	assert.Equal(t, 0.0, titleScore("Something", ""))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

const skyhookShowJSON = `{
	"tvdbId": 123,
	"title": "Frieren",
	"episodes": [
		{"seasonNumber": 0, "episodeNumber": 1, "title": "Special Episode"},
		{"seasonNumber": 1, "episodeNumber": 1, "title": "Beginning"},
		{"seasonNumber": 1, "episodeNumber": 2, "title": "Journey"}
	]
}`

func fakeSkyhookClient() *http.Client {
	return &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			switch {
			case strings.HasPrefix(req.URL.Path, "/v1/tvdb/search/en/"):
				return jsonResponse(`[{"tvdbId":123,"title":"Frieren"}]`), nil
			case strings.HasPrefix(req.URL.Path, "/v1/tvdb/shows/en/123"):
				return jsonResponse(skyhookShowJSON), nil
			default:
				return jsonResponse(`[]`), nil
			}
		}),
	}
}

func fetchFilmeStub(ctx context.Context, site, slug string) (string, error) {
	return filmeHTML, nil
}

func TestResolveFromQuery_MapsSeasonZeroEntryToMetadataCoordinates(t *testing.T) {
	t.Parallel()

	r := NewResolver(fakeSkyhookClient(), 0.6, time.Hour, fetchFilmeStub)
	mapping, ok := r.ResolveFromQuery(context.Background(), "aniworld.to", "frieren", "Special Episode", "Frieren", Ids{})
	require.True(t, ok)

	assert.Equal(t, 0, mapping.SourceSeason)
	assert.Equal(t, 1, mapping.SourceEpisode)
	assert.Equal(t, 0, mapping.AliasSeason)
	assert.Equal(t, 1, mapping.AliasEpisode)
	assert.Equal(t, "Special Episode", mapping.MetadataTitle)
	assert.Equal(t, 123, mapping.TVDBID)
}

func TestResolveFromQuery_EmptySlugOrQueryReturnsFalse(t *testing.T) {
	t.Parallel()

	r := NewResolver(fakeSkyhookClient(), 0.6, time.Hour, fetchFilmeStub)
	_, ok := r.ResolveFromQuery(context.Background(), "aniworld.to", "", "Special Episode", "Frieren", Ids{})
	assert.False(t, ok)

	_, ok = r.ResolveFromQuery(context.Background(), "aniworld.to", "frieren", "", "Frieren", Ids{})
	assert.False(t, ok)
}

func TestResolveFromEpisodeRequest_MapsExplicitSeasonEpisode(t *testing.T) {
	t.Parallel()

	r := NewResolver(fakeSkyhookClient(), 0.6, time.Hour, fetchFilmeStub)
	mapping, ok := r.ResolveFromEpisodeRequest(context.Background(), "aniworld.to", "frieren", 0, 1, "Frieren", "Frieren", Ids{})
	require.True(t, ok)

	assert.Equal(t, 1, mapping.SourceEpisode)
	assert.Equal(t, 0, mapping.AliasSeason)
	assert.Equal(t, 1, mapping.AliasEpisode)
}

func TestSeasonEpisodeNumbers_ReturnsSortedDistinctNumbersForSeason(t *testing.T) {
	t.Parallel()

	r := NewResolver(fakeSkyhookClient(), 0.6, time.Hour, fetchFilmeStub)
	nums, ok := r.SeasonEpisodeNumbers(context.Background(), Ids{TVDBID: 123}, "Frieren", "Frieren", 1)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, nums)
}

func TestSeasonEpisodeNumbers_UnknownSeasonReturnsFalse(t *testing.T) {
	t.Parallel()

	r := NewResolver(fakeSkyhookClient(), 0.6, time.Hour, fetchFilmeStub)
	_, ok := r.SeasonEpisodeNumbers(context.Background(), Ids{TVDBID: 123}, "Frieren", "Frieren", 9)
	assert.False(t, ok)
}

func TestSeriesTitleFromIDs_ResolvesTitleFromTVDBID(t *testing.T) {
	t.Parallel()

	r := NewResolver(fakeSkyhookClient(), 0.6, time.Hour, fetchFilmeStub)
	title, ok := r.SeriesTitleFromIDs(context.Background(), Ids{TVDBID: 123})
	require.True(t, ok)
	assert.Equal(t, "Frieren", title)
}

func TestSeriesTitleFromIDs_NoTVDBIDReturnsFalse(t *testing.T) {
	t.Parallel()

	r := NewResolver(fakeSkyhookClient(), 0.6, time.Hour, fetchFilmeStub)
	_, ok := r.SeriesTitleFromIDs(context.Background(), Ids{})
	assert.False(t, ok)
}
