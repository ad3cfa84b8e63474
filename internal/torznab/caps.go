package torznab

import (
	"strconv"

	"github.com/Zzackllack/AniBridge-sub000/internal/config"
)

// supportedParams is the parameter list advertised for tv-search, matching
// utils.py's SUPPORTED_PARAMS.
const supportedParams = "q,season,ep"

// BuildCaps constructs the static capability document, matching _caps_xml.
func BuildCaps(cfg *config.Config) Caps {
	var caps Caps
	caps.Server.Version = "1.0"
	caps.Limits.Max = 100
	caps.Limits.Default = 50
	caps.Searching.TVSearch.Available = "yes"
	caps.Searching.TVSearch.SupportedParams = supportedParams
	caps.Categories.Categories = []Category{
		{ID: strconv.Itoa(cfg.TorznabCatAnime), Name: "TV/Anime"},
	}
	return caps
}
