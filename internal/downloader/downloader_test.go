package downloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zzackllack/AniBridge-sub000/internal/scheduler"
)

func TestParseProgressLine_ParsesAllFields(t *testing.T) {
	t.Parallel()

	downloaded, total, speed, eta, ok := parseProgressLine("1024/2048/512.5/2")
	require.True(t, ok)
	assert.Equal(t, int64(1024), downloaded)
	assert.Equal(t, int64(2048), total)
	assert.Equal(t, 512.5, speed)
	assert.Equal(t, int64(2), eta)
}

func TestParseProgressLine_RejectsWrongFieldCount(t *testing.T) {
	t.Parallel()

	_, _, _, _, ok := parseProgressLine("1024/2048")
	assert.False(t, ok)
}

func TestParseProgressLine_ToleratesNAValues(t *testing.T) {
	t.Parallel()

	downloaded, total, _, _, ok := parseProgressLine("1024/NA/NA/NA")
	require.True(t, ok)
	assert.Equal(t, int64(1024), downloaded)
	assert.Equal(t, int64(0), total)
}

func TestLocateDownloadedFile_PicksLargestNonPartialMatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ep.mkv"), []byte("0123456789"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ep.mkv.part"), []byte("partial"), 0o644))

	found, err := locateDownloadedFile(dir, "ep")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ep.mkv"), found)
}

func TestLocateDownloadedFile_ErrorsWhenNothingMatches(t *testing.T) {
	t.Parallel()

	_, err := locateDownloadedFile(t.TempDir(), "missing")
	assert.Error(t, err)
}

func TestResolveDirectURL_PrefersExplicitLinkOverRegistry(t *testing.T) {
	t.Parallel()

	d := New(nil, "WEB", "AniBridge", 0)
	url, provider, err := d.resolveDirectURL(context.Background(), scheduler.Request{
		Link: "https://example.com/direct.mp4", Provider: "VOE",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/direct.mp4", url)
	assert.Equal(t, "VOE", provider)
}

func TestResolveDirectURL_ErrorsWithNoLinkAndNoRegistry(t *testing.T) {
	t.Parallel()

	d := New(nil, "WEB", "AniBridge", 0)
	_, _, err := d.resolveDirectURL(context.Background(), scheduler.Request{Slug: "frieren"})
	assert.Error(t, err)
}
