package episodemapping

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zzackllack/AniBridge-sub000/internal/database"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))
	return db
}

func TestIsAbsoluteIdentifier(t *testing.T) {
	t.Parallel()

	assert.True(t, IsAbsoluteIdentifier("42"))
	assert.True(t, IsAbsoluteIdentifier("  7 "))
	assert.False(t, IsAbsoluteIdentifier("S01E02"))
	assert.False(t, IsAbsoluteIdentifier(""))
}

func TestParseAbsoluteIdentifier(t *testing.T) {
	t.Parallel()

	n, ok := ParseAbsoluteIdentifier("13")
	require.True(t, ok)
	assert.Equal(t, 13, n)

	_, ok = ParseAbsoluteIdentifier("0")
	assert.False(t, ok)

	_, ok = ParseAbsoluteIdentifier("abc")
	assert.False(t, ok)
}

func TestDetectAbsoluteNumber_SeasonZeroWithEpisode(t *testing.T) {
	t.Parallel()

	season, episode := 0, 13
	n, ok := DetectAbsoluteNumber("", &season, &episode, false)
	require.True(t, ok)
	assert.Equal(t, 13, n)
}

func TestDetectAbsoluteNumber_StandardSeasonEpisodeIsNotAbsolute(t *testing.T) {
	t.Parallel()

	season, episode := 1, 3
	_, ok := DetectAbsoluteNumber("", &season, &episode, false)
	assert.False(t, ok)
}

func TestDetectAbsoluteNumber_NoEpisodeFallsBackToQuery(t *testing.T) {
	t.Parallel()

	season := 1
	n, ok := DetectAbsoluteNumber("Frieren 13", &season, nil, false)
	require.True(t, ok)
	assert.Equal(t, 13, n)
}

func TestDetectAbsoluteNumber_AbsoluteHintUsesEpisodeDirectly(t *testing.T) {
	t.Parallel()

	episode := 27
	n, ok := DetectAbsoluteNumber("", nil, &episode, true)
	require.True(t, ok)
	assert.Equal(t, 27, n)
}

func fakeCatalog(entries []CatalogEntry) CatalogFetcher {
	return func(ctx context.Context) ([]CatalogEntry, error) {
		return entries, nil
	}
}

func TestResolveAbsoluteEpisode_PopulatesFromCatalogOnMiss(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	fetch := fakeCatalog([]CatalogEntry{
		{Absolute: 1, Season: 1, Episode: 1},
		{Absolute: 2, Season: 1, Episode: 2},
		{Absolute: 13, Season: 2, Episode: 1},
	})

	mapping, err := ResolveAbsoluteEpisode(context.Background(), db, "frieren", 13, fetch)
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, 2, mapping.SeasonNumber)
	assert.Equal(t, 1, mapping.EpisodeNumber)
}

func TestResolveAbsoluteEpisode_CacheHitSkipsRefetch(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	calls := 0
	fetch := func(ctx context.Context) ([]CatalogEntry, error) {
		calls++
		return []CatalogEntry{{Absolute: 5, Season: 1, Episode: 5}}, nil
	}

	_, err := ResolveAbsoluteEpisode(context.Background(), db, "frieren", 5, fetch)
	require.NoError(t, err)
	_, err = ResolveAbsoluteEpisode(context.Background(), db, "frieren", 5, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestResolveAbsoluteTargets_FallsBackToFullCatalogueOnMiss(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	fetch := fakeCatalog([]CatalogEntry{
		{Absolute: 1, Season: 1, Episode: 1},
		{Absolute: 2, Season: 1, Episode: 2},
	})

	mappings, usedFallback, err := ResolveAbsoluteTargets(context.Background(), db, "frieren", 99, fetch, true)
	require.NoError(t, err)
	assert.True(t, usedFallback)
	assert.Len(t, mappings, 2)
}

func TestResolveAbsoluteTargets_NoFallbackReturnsEmpty(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	fetch := fakeCatalog(nil)

	mappings, usedFallback, err := ResolveAbsoluteTargets(context.Background(), db, "frieren", 99, fetch, false)
	require.NoError(t, err)
	assert.False(t, usedFallback)
	assert.Empty(t, mappings)
}
