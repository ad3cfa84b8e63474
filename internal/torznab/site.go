package torznab

// defaultLanguages is the site-default candidate language ordering consulted
// when no fresh cache row exists, matching _default_languages_for_site's
// fallback table.
var defaultLanguages = map[string][]string{
	"aniworld.to": {"German Dub", "German Sub", "English Sub"},
	"s.to":        {"German Dub", "German Sub", "English Sub"},
	"megakino.io": {"German Dub", "German Sub"},
}

func defaultLanguagesForSite(site string) []string {
	if langs, ok := defaultLanguages[site]; ok {
		return append([]string(nil), langs...)
	}
	return append([]string(nil), defaultLanguages["aniworld.to"]...)
}

const megakinoSite = "megakino.io"
