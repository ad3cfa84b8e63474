package strmwriter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeBasename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Episode", SanitizeBasename(""))
	assert.Equal(t, "clip", SanitizeBasename("sample"))
	assert.Equal(t, "Show S01 E01", SanitizeBasename("Show/S01:E01"))
	assert.Equal(t, "Episode", SanitizeBasename("."))
	assert.Equal(t, "Episode", SanitizeBasename("..."))
}

func TestAllocateUniquePath_AppendsNumericSuffixOnCollision(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	first, err := AllocateUniquePath(dir, "Frieren S01E01")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Frieren S01E01.strm"), first)
	require.NoError(t, os.WriteFile(first, []byte("x"), 0o644))

	second, err := AllocateUniquePath(dir, "Frieren S01E01")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Frieren S01E01.2.strm"), second)
}

func TestBuildContent_ValidatesScheme(t *testing.T) {
	t.Parallel()

	content, err := BuildContent("https://example.com/video.m3u8")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/video.m3u8\n", content)

	_, err = BuildContent("ftp://example.com/video")
	assert.Error(t, err)

	_, err = BuildContent("  ")
	assert.Error(t, err)
}

func TestWriteAtomic_WritesExactBytes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.strm")

	require.NoError(t, WriteAtomic(path, "https://example.com/x\n"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/x\n", string(data))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
