package torznab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTestMagnet_StrmModeAppendsModeParam(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	uri := buildTestMagnet(cfg, "strm")
	require.Contains(t, uri, "mode=strm")
	assert.Contains(t, uri, cfg.TorznabTestSlug)
}

func TestBuildTestMagnet_DownloadModeOmitsModeParam(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	uri := buildTestMagnet(cfg, "")
	assert.NotContains(t, uri, "mode=")
}
