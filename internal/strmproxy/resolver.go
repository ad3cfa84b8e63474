package strmproxy

import (
	"context"
	"strings"

	"github.com/Zzackllack/AniBridge-sub000/internal/providers"
)

// EpisodeRequest is the resolver's input: everything needed to locate one
// episode's upstream stream. Deliberately independent of the scheduler
// package's Request so this resolver has no dependency on the worker pool;
// callers adapt between the two shapes.
type EpisodeRequest struct {
	Site     string
	Slug     string
	Season   int
	Episode  int
	Language string
	Provider string // preferred provider, "" for none
}

// Resolver resolves an upstream direct URL for a STRM identity, caching the
// result and retrying with a Megakino-specific strategy when the site
// warrants it, grounded on resolver.py's resolve_direct_url.
type Resolver struct {
	registry        *providers.Registry
	cache           *Store
	proxyConfigured bool
}

// NewResolver constructs a Resolver. proxyConfigured mirrors
// config.Config.ProxyEnabled and governs whether the generic (non-Megakino)
// branch retries its whole candidate walk with the proxy disabled on
// failure.
func NewResolver(registry *providers.Registry, cache *Store, proxyConfigured bool) *Resolver {
	return &Resolver{registry: registry, cache: cache, proxyConfigured: proxyConfigured}
}

// Resolve returns a direct upstream URL and the provider that produced it,
// consulting the cache first and persisting a freshly resolved URL on a
// cache miss.
func (r *Resolver) Resolve(ctx context.Context, req EpisodeRequest) (string, string, error) {
	id := Identity{
		Site: req.Site, Slug: req.Slug, Season: req.Season, Episode: req.Episode,
		Language: req.Language, Provider: req.Provider,
	}

	if r.cache != nil {
		if entry, ok, err := r.cache.Get(ctx, id); err == nil && ok {
			return entry.URL, entry.ProviderUsed, nil
		}
	}

	ep := providers.Episode{Site: req.Site, Slug: req.Slug, Season: req.Season, Episode: req.Episode}

	var (
		directURL, providerUsed string
		err                     error
	)
	if strings.Contains(strings.ToLower(req.Site), "megakino") && req.Slug != "" {
		directURL, providerUsed, err = r.registry.TryAllCandidates(ctx, ep, req.Provider, req.Language)
	} else {
		directURL, providerUsed, _, err = r.registry.ResolveWithProxyFallback(ctx, ep, req.Provider, req.Language, r.proxyConfigured)
	}
	if err != nil {
		return "", "", err
	}

	if r.cache != nil {
		_ = r.cache.Set(ctx, id, Entry{URL: directURL, ProviderUsed: providerUsed})
	}
	return directURL, providerUsed, nil
}

// Invalidate drops a cached resolution for identity, so the next Resolve
// call re-resolves from the provider chain. Called when an upstream
// request against a cached URL reports a stale-mapping status class.
func (r *Resolver) Invalidate(ctx context.Context, req EpisodeRequest) error {
	if r.cache == nil {
		return nil
	}
	id := Identity{
		Site: req.Site, Slug: req.Slug, Season: req.Season, Episode: req.Episode,
		Language: req.Language, Provider: req.Provider,
	}
	return r.cache.Invalidate(ctx, id)
}
