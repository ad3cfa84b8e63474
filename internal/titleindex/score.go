package titleindex

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// DefaultMinConfidence is the minimum score a candidate must reach to be
// accepted as a match (spec §4.1's "configurable minimum confidence floor").
const DefaultMinConfidence = 0.35

// scoring weights for the blended score: intersection size, Jaccard
// similarity, substring containment, and fuzzy (edit-distance) closeness,
// the last of which absorbs typos and transliteration drift that the
// token-based terms above miss entirely.
const (
	weightIntersection = 0.25
	weightJaccard       = 0.3
	weightSubstring     = 0.25
	weightFuzzy         = 0.2
)

// fuzzyScore returns a 0..1 closeness score derived from fuzzysearch's
// Levenshtein-style rank: 0 for no subsequence match at all, otherwise
// 1 - rank/maxLen so a closer match (lower rank) scores higher.
func fuzzyScore(query, candidate string) float64 {
	qLower := strings.ToLower(strings.TrimSpace(query))
	cLower := strings.ToLower(strings.TrimSpace(candidate))
	if qLower == "" || cLower == "" {
		return 0
	}
	rank := fuzzy.RankMatchNormalized(qLower, cLower)
	if rank < 0 {
		return 0
	}
	maxLen := len(qLower)
	if len(cLower) > maxLen {
		maxLen = len(cLower)
	}
	if maxLen == 0 {
		return 0
	}
	closeness := 1.0 - float64(rank)/float64(maxLen)
	if closeness < 0 {
		closeness = 0
	}
	return closeness
}

// tokenize lowercases and splits on non-alphanumeric runs, dropping
// digit-only tokens (matching _normalize_tokens plus the digit-only drop
// spec §4.1 adds on top of it).
func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if isDigitsOnly(f) {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

func isDigitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func intersectionSize(a, b map[string]struct{}) int {
	n := 0
	for t := range a {
		if _, ok := b[t]; ok {
			n++
		}
	}
	return n
}

func unionSize(a, b map[string]struct{}) int {
	seen := make(map[string]struct{}, len(a)+len(b))
	for t := range a {
		seen[t] = struct{}{}
	}
	for t := range b {
		seen[t] = struct{}{}
	}
	return len(seen)
}

// score blends set-intersection size (normalized by query token count),
// Jaccard similarity, substring containment and fuzzy closeness (fuzzyScore)
// into one candidate score.
func score(queryTokens map[string]struct{}, query, candidate string) float64 {
	candTokens := tokenize(candidate)
	inter := intersectionSize(queryTokens, candTokens)
	union := unionSize(queryTokens, candTokens)

	var interScore, jaccard float64
	if len(queryTokens) > 0 {
		interScore = float64(inter) / float64(len(queryTokens))
	}
	if union > 0 {
		jaccard = float64(inter) / float64(union)
	}

	var substring float64
	qLower := strings.ToLower(strings.TrimSpace(query))
	cLower := strings.ToLower(strings.TrimSpace(candidate))
	if qLower != "" && cLower != "" && (strings.Contains(cLower, qLower) || strings.Contains(qLower, cLower)) {
		substring = 1.0
	}

	fuzzyTerm := fuzzyScore(query, candidate)

	return weightIntersection*interScore + weightJaccard*jaccard + weightSubstring*substring + weightFuzzy*fuzzyTerm
}

// Candidate is a scored slug resolution result.
type Candidate struct {
	Site  string
	Slug  string
	Title string
	Score float64
}

// Resolver resolves free-text queries to a (site, slug) using one or more
// Index-backed site catalogues.
type Resolver struct {
	index         *Index
	minConfidence float64
}

// NewResolver constructs a Resolver over idx with the given confidence
// floor (use DefaultMinConfidence if unsure).
func NewResolver(idx *Index, minConfidence float64) *Resolver {
	return &Resolver{index: idx, minConfidence: minConfidence}
}

// Resolve scores every known slug across every configured site and returns
// the best candidate, or (nil, false) if nothing clears the confidence
// floor. Ties break by (1) lower SearchPriority, (2) shorter title,
// (3) lexicographic slug order, per the Open-Question decision recorded in
// DESIGN.md.
func (r *Resolver) Resolve(ctx context.Context, query string) (*Candidate, bool) {
	return r.ResolveForSite(ctx, query, "")
}

// ResolveForSite is Resolve restricted to one site's catalogue; an empty
// site searches every configured site, matching _slug_from_query's optional
// site filter.
func (r *Resolver) ResolveForSite(ctx context.Context, query, site string) (*Candidate, bool) {
	if strings.TrimSpace(query) == "" {
		return nil, false
	}
	queryTokens := tokenize(query)

	var best []Candidate
	bestScore := -1.0

	for _, s := range r.index.Sites() {
		if site != "" && s.Site != site {
			continue
		}
		site := s
		idx, alts := r.index.LoadWithAlts(ctx, site.Site)
		for slug, title := range idx {
			titles := []string{title}
			if a, ok := alts[slug]; ok {
				titles = append(titles, a...)
			}

			local := 0.0
			for _, cand := range titles {
				if s := score(queryTokens, query, cand); s > local {
					local = s
				}
			}

			if local < r.minConfidence {
				continue
			}
			c := Candidate{Site: site.Site, Slug: slug, Title: title, Score: local}
			switch {
			case local > bestScore:
				bestScore = local
				best = []Candidate{c}
			case local == bestScore:
				best = append(best, c)
			}
		}
	}

	if len(best) == 0 {
		return nil, false
	}
	if len(best) == 1 {
		return &best[0], true
	}

	priority := make(map[string]int, len(r.index.sites))
	for name, cfg := range r.index.sites {
		priority[name] = cfg.SearchPriority
	}
	sort.Slice(best, func(i, j int) bool {
		a, b := best[i], best[j]
		if priority[a.Site] != priority[b.Site] {
			return priority[a.Site] < priority[b.Site]
		}
		if len(a.Title) != len(b.Title) {
			return len(a.Title) < len(b.Title)
		}
		return a.Slug < b.Slug
	})
	return &best[0], true
}
