package torznab

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractYearFromQuery_FindsLastFourDigitYear(t *testing.T) {
	t.Parallel()

	y, ok := extractYearFromQuery("Some Movie 2021 Remastered 1080p")
	assert.True(t, ok)
	assert.Equal(t, 2021, y)
}

func TestExtractYearFromQuery_PicksLastWhenMultiplePresent(t *testing.T) {
	t.Parallel()

	y, ok := extractYearFromQuery("1999 vs 2015 rerelease")
	assert.True(t, ok)
	assert.Equal(t, 2015, y)
}

func TestExtractYearFromQuery_NoYearReturnsFalse(t *testing.T) {
	t.Parallel()

	_, ok := extractYearFromQuery("Some Movie Without A Year")
	assert.False(t, ok)
}

func TestHandlePreviewSearch_TestModeShortCircuitsToZero(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TestMode = true
	h := newTestHandlers(cfg)

	channel := &Channel{}
	count := h.handlePreviewSearch(context.Background(), channel, "Frieren", cfg.TorznabCatAnime, "", 50)
	assert.Equal(t, 0, count)
	assert.Empty(t, channel.Items)
}
