// Package providers implements the fallback-chain resolution of a direct
// media URL for an episode, grounded on
// original_source/app/core/downloader/provider_resolution.py.
package providers

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/Zzackllack/AniBridge-sub000/internal/apperr"
	"github.com/Zzackllack/AniBridge-sub000/internal/metrics"
)

// Episode is the minimal handle a Provider needs to locate an episode's
// stream on its source site.
type Episode struct {
	Site    string
	Slug    string
	Season  int
	Episode int
}

// Provider probes one hosting backend for a direct URL. A nil error with an
// empty url means "this provider has nothing"; a LanguageUnavailable error
// means the site itself doesn't carry the requested language at all (not
// just this provider), and must short-circuit the whole walk.
type Provider interface {
	Name() string
	DirectURL(ctx context.Context, ep Episode, language string) (string, error)
}

// languageAliases normalizes free-form language labels onto the small
// closed set the rest of the system understands.
var languageAliases = map[string]string{
	"de":          "German Dub",
	"german":      "German Dub",
	"german dub":  "German Dub",
	"ger":         "German Dub",
	"de-sub":      "German Sub",
	"german sub":  "German Sub",
	"ger.sub":     "German Sub",
	"en-sub":      "English Sub",
	"english sub": "English Sub",
	"eng.sub":     "English Sub",
	"en":          "English Dub",
	"english":     "English Dub",
	"english dub": "English Dub",
	"eng":         "English Dub",
}

// NormalizeLanguage maps a free-form language label onto the closed set
// {"German Dub", "German Sub", "English Sub", "English Dub"}. Unknown
// inputs are returned unchanged so callers (and LanguageUnavailable
// messages) still show the caller's original intent.
func NormalizeLanguage(language string) string {
	key := strings.ToLower(strings.TrimSpace(language))
	if norm, ok := languageAliases[key]; ok {
		return norm
	}
	return language
}

// Registry holds the configured provider order and preferred-first
// resolution policy.
type Registry struct {
	order     []string
	providers map[string]Provider
}

// NewRegistry builds a Registry from an ordered provider list. Providers not
// present in the map are skipped silently (configuration drift, not a bug).
func NewRegistry(order []string, providers map[string]Provider) *Registry {
	return &Registry{order: order, providers: providers}
}

var availableLangRe = regexp.MustCompile(`(?i)available languages:\s*\[([^\]]*)\]`)

// ParseAvailableLanguagesFromError extracts a bracketed, comma-separated
// language list from a provider error message, e.g.
// "Available languages: ['English Sub', 'German Sub']".
func ParseAvailableLanguagesFromError(msg string) []string {
	m := availableLangRe.FindStringSubmatch(msg)
	if m == nil {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(m[1], ",") {
		p := strings.Trim(strings.TrimSpace(part), `'"`+"\t")
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// candidateOrder builds [preferred] ++ (order \ [preferred]).
func (r *Registry) candidateOrder(preferred string) []string {
	var out []string
	seen := map[string]bool{}
	pref := strings.TrimSpace(preferred)
	if pref != "" {
		out = append(out, pref)
		seen[pref] = true
	}
	for _, name := range r.order {
		if !seen[name] {
			out = append(out, name)
			seen[name] = true
		}
	}
	return out
}

// GetDirectURLWithFallback walks the candidate providers in order, returning
// the first (url, providerName) a candidate yields. A LanguageUnavailable
// error from any candidate aborts the walk immediately. If every candidate
// yields nothing, it returns NoProviderYieldedURL.
func (r *Registry) GetDirectURLWithFallback(ctx context.Context, ep Episode, preferred, language string) (string, string, error) {
	language = NormalizeLanguage(language)
	var tried []string

	for _, name := range r.candidateOrder(preferred) {
		p, ok := r.providers[name]
		if !ok {
			continue
		}
		tried = append(tried, name)

		url, err := p.DirectURL(ctx, ep, language)
		if err != nil {
			var langErr *apperr.LanguageUnavailable
			if errors.As(err, &langErr) {
				metrics.ResolverFallbacks.WithLabelValues("language_unavailable").Inc()
				return "", "", apperr.Wrap(apperr.KindLanguageUnavailable, "language not carried by site", langErr)
			}
			continue
		}
		if url != "" {
			metrics.ResolverFallbacks.WithLabelValues("resolved").Inc()
			return url, name, nil
		}
	}

	metrics.ResolverFallbacks.WithLabelValues("no_provider").Inc()
	return "", "", apperr.Wrap(apperr.KindNoProvider, "no provider yielded a direct url",
		&apperr.NoProviderYieldedURL{Tried: tried})
}
