package torznab

import (
	"github.com/Zzackllack/AniBridge-sub000/internal/config"
	"github.com/Zzackllack/AniBridge-sub000/internal/magnet"
)

// buildMagnetFor wraps magnet.Build with the site-aware title/mode fields
// used throughout this package.
func buildMagnetFor(title, slug string, season, episode int, language, provider, site, mode string) string {
	return magnet.Build(magnet.Params{
		Title: title, Slug: slug, Season: season, Episode: episode,
		Language: language, Provider: provider, Site: site, Mode: mode,
	})
}

// buildTestMagnet builds the synthetic connectivity-test magnet, matching
// the inline build_magnet calls in torznab_api's empty-query branches.
func buildTestMagnet(cfg *config.Config, mode string) string {
	title := cfg.TorznabTestTitle
	if mode == "strm" {
		title += strmSuffix
	}
	return buildMagnetFor(title, cfg.TorznabTestSlug, cfg.TorznabTestSeason, cfg.TorznabTestEpisode, cfg.TorznabTestLanguage, "", "aniworld.to", mode)
}
