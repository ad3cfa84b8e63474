package providers

import (
	"context"
	"fmt"

	"github.com/Zzackllack/AniBridge-sub000/internal/apperr"
	"github.com/Zzackllack/AniBridge-sub000/internal/httpx"
)

// ResolveWithProxyFallback runs GetDirectURLWithFallback once under the
// process's configured proxy, and — if that whole walk fails and a proxy is
// in fact configured — retries the entire walk once with the proxy
// disabled. Extraction often succeeds behind a proxy while the CDN serving
// the bytes refuses proxied clients, so the retry re-runs the full walk
// rather than just the final hop, keeping the chosen path (proxied or
// direct) consistent across extraction and download.
func (r *Registry) ResolveWithProxyFallback(ctx context.Context, ep Episode, preferred, language string, proxyConfigured bool) (url, provider string, usedProxy bool, err error) {
	url, provider, err = r.GetDirectURLWithFallback(ctx, ep, preferred, language)
	if err == nil {
		return url, provider, proxyConfigured, nil
	}
	if apperr.IsLanguageUnavailable(err) || !proxyConfigured {
		return "", "", false, err
	}

	var retryErr error
	httpx.WithoutProxy(func() {
		url, provider, retryErr = r.GetDirectURLWithFallback(ctx, ep, preferred, language)
	})
	if retryErr != nil {
		return "", "", false, retryErr
	}
	return url, provider, false, nil
}

// TryAllCandidates walks the candidate providers in order like
// GetDirectURLWithFallback, but retries past every error including
// LanguageUnavailable instead of short-circuiting on it, returning the
// first successful (url, providerName) or the last error seen once every
// candidate has failed. Grounded on resolver.py's Megakino-specific retry
// loop, which treats a client resolution failure on one provider as a
// reason to try the next rather than a site-wide "not carried" signal.
func (r *Registry) TryAllCandidates(ctx context.Context, ep Episode, preferred, language string) (string, string, error) {
	language = NormalizeLanguage(language)

	var lastErr error
	for _, name := range r.candidateOrder(preferred) {
		p, ok := r.providers[name]
		if !ok {
			continue
		}
		url, err := p.DirectURL(ctx, ep, language)
		if err != nil {
			lastErr = err
			continue
		}
		if url != "" {
			return url, name, nil
		}
	}

	if lastErr == nil {
		lastErr = apperr.Wrap(apperr.KindNoProvider, "no provider yielded a direct url", &apperr.NoProviderYieldedURL{})
	}
	return "", "", fmt.Errorf("megakino-style resolution failed after retries: %w", lastErr)
}
