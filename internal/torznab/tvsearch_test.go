package torznab

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeSortedUnique_DedupsAndSorts(t *testing.T) {
	t.Parallel()

	got := mergeSortedUnique([]int{3, 1, 2}, []int{2, 4})
	assert.Equal(t, []int{1, 2, 3, 4}, got)
}

func TestMergeSortedUnique_EmptyInputsReturnEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, mergeSortedUnique(nil, nil))
}

func TestParseSpecialIds_ReadsKnownQueryParams(t *testing.T) {
	t.Parallel()

	q := map[string][]string{
		"tvdbid": {"12345"},
		"tmdbid": {"678"},
		"imdbid": {"tt0111161"},
		"rid":    {"999"},
	}
	ids := parseSpecialIds(q)
	assert.Equal(t, 12345, ids.TVDBID)
	assert.Equal(t, 678, ids.TMDBID)
	assert.Equal(t, "tt0111161", ids.IMDBID)
}

func TestParseSpecialIds_IgnoresUnparsableNumericIds(t *testing.T) {
	t.Parallel()

	ids := parseSpecialIds(map[string][]string{"tvdbid": {"not-a-number"}})
	assert.Equal(t, 0, ids.TVDBID)
}
