package torznab

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Zzackllack/AniBridge-sub000/internal/naming"
)

// sitePrefixes mirrors internal/magnet's table for guid construction, kept
// separate since the guid is a display artifact rather than a wire-format
// field a magnet consumer parses.
var sitePrefixes = map[string]string{
	"aniworld.to": "aw",
	"s.to":        "sto",
	"megakino.io": "mk",
}

func sitePrefix(site string) string {
	if p, ok := sitePrefixes[site]; ok {
		return p
	}
	host := strings.SplitN(site, ".", 2)[0]
	if len(host) > 3 {
		host = host[:3]
	}
	if host == "" {
		return "xx"
	}
	return strings.ToLower(host)
}

// buildGUID assembles the item guid, appending an alias tag when the
// displayed coordinates differ from the magnet's encoded source
// coordinates, and a strm tag for STRM-mode variants.
func buildGUID(site, slug string, sourceSeason, sourceEpisode int, language string, aliasSeason, aliasEpisode int, strm bool) string {
	base := fmt.Sprintf("%s:%s:s%de%d:%s", sitePrefix(site), slug, sourceSeason, sourceEpisode, language)
	if aliasSeason != sourceSeason || aliasEpisode != sourceEpisode {
		base = fmt.Sprintf("%s:alias-s%de%d", base, aliasSeason, aliasEpisode)
	}
	if strm {
		base += ":strm"
	}
	return base
}

// parseBTIHFromMagnet extracts the hex infohash from a magnet URI's xt
// parameter, matching _parse_btih_from_magnet.
func parseBTIHFromMagnet(magnet string) string {
	u, err := url.Parse(magnet)
	if err != nil {
		return ""
	}
	for _, xt := range u.Query()["xt"] {
		if strings.HasPrefix(strings.ToLower(xt), "urn:btih:") {
			return xt[len("urn:btih:"):]
		}
	}
	return ""
}

// itemParams is the set of inputs buildItem needs to synthesize one RSS
// item, matching utils.py's _build_item.
type itemParams struct {
	Title     string
	Magnet    string
	PubDate   time.Time
	CatID     int
	GUID      string
	Seeders   int
	Leechers  int
}

func buildItem(p itemParams) Item {
	size := naming.EstimateSizeBytes(p.Title)
	peers := p.Seeders + p.Leechers

	item := Item{
		Title:    p.Title,
		GUID:     GUID{IsPermaLink: "false", Value: p.GUID},
		PubDate:  p.PubDate.Format(time.RFC1123Z),
		Category: strconv.Itoa(p.CatID),
		Enclosure: Enclosure{
			URL:    p.Magnet,
			Length: strconv.FormatInt(size, 10),
			Type:   "application/x-bittorrent;x-scheme-handler/magnet",
		},
	}
	item.Attributes = append(item.Attributes,
		Attr{Name: "magneturl", Value: p.Magnet},
		Attr{Name: "size", Value: strconv.FormatInt(size, 10)},
	)
	if btih := parseBTIHFromMagnet(p.Magnet); btih != "" {
		item.Attributes = append(item.Attributes, Attr{Name: "infohash", Value: btih})
	}
	item.Attributes = append(item.Attributes,
		Attr{Name: "seeders", Value: strconv.Itoa(p.Seeders)},
		Attr{Name: "peers", Value: strconv.Itoa(peers)},
		Attr{Name: "leechers", Value: strconv.Itoa(p.Leechers)},
	)
	return item
}
