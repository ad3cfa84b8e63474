package torznab

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Zzackllack/AniBridge-sub000/internal/specials"
)

func TestHandleSpecialSearch_EmptyQueryReturnsZero(t *testing.T) {
	t.Parallel()

	h := newTestHandlers(testConfig())
	channel := &Channel{}
	count := h.handleSpecialSearch(context.Background(), channel, "", 5070, specials.Ids{}, 50)
	assert.Equal(t, 0, count)
}

func TestHandleSpecialSearch_TestModeShortCircuitsToZero(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TestMode = true
	h := newTestHandlers(cfg)
	channel := &Channel{}
	count := h.handleSpecialSearch(context.Background(), channel, "Frieren", 5070, specials.Ids{}, 50)
	assert.Equal(t, 0, count)
}
