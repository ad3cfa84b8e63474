package strmproxy

import "fmt"

// Identity identifies a specific episode stream for STRM proxying.
type Identity struct {
	Site     string
	Slug     string
	Season   int
	Episode  int
	Language string
	Provider string // "" means unset
}

// CacheKey is the six-tuple cache/lookup key for this identity.
func (id Identity) CacheKey() string {
	return fmt.Sprintf("%s|%s|%d|%d|%s|%s", id.Site, id.Slug, id.Season, id.Episode, id.Language, id.Provider)
}
