// Package torznab implements the Torznab-compatible indexer endpoint: caps,
// search, movie and tvsearch verbs answered by probing upstream sites
// through the Provider Resolver rather than a real torrent index. Grounded
// on app/api/torznab/api.go and utils.go, with the XML shapes following the
// teacher's server/handlers/torznab.go.
package torznab

import "encoding/xml"

const torznabNS = "http://torznab.com/schemas/2015/feed"

// Caps is the static capability document returned for t=caps.
type Caps struct {
	XMLName xml.Name `xml:"caps"`
	Server  struct {
		Version string `xml:"version,attr"`
	} `xml:"server"`
	Limits struct {
		Max     int `xml:"max,attr"`
		Default int `xml:"default,attr"`
	} `xml:"limits"`
	Searching struct {
		TVSearch SearchCapability `xml:"tv-search"`
	} `xml:"searching"`
	Categories struct {
		Categories []Category `xml:"category"`
	} `xml:"categories"`
}

// SearchCapability advertises one verb's availability and parameter list.
type SearchCapability struct {
	Available       string `xml:"available,attr"`
	SupportedParams string `xml:"supportedParams,attr"`
}

// Category is one advertised Torznab category.
type Category struct {
	ID   string `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

// RSS is the search/tvsearch/movie response envelope.
type RSS struct {
	XMLName   xml.Name `xml:"rss"`
	Version   string   `xml:"version,attr"`
	TorznabNS string   `xml:"xmlns:torznab,attr"`
	Channel   Channel  `xml:"channel"`
}

// Channel is the RSS channel carrying the indexer's items.
type Channel struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Link        string `xml:"link"`
	Items       []Item `xml:"item"`
}

// Item is one synthesized release.
type Item struct {
	Title      string     `xml:"title"`
	GUID       GUID       `xml:"guid"`
	PubDate    string     `xml:"pubDate,omitempty"`
	Category   string     `xml:"category"`
	Enclosure  Enclosure  `xml:"enclosure"`
	Attributes []Attr     `xml:"torznab:attr"`
}

// GUID marks the release identifier as not a dereferenceable permalink.
type GUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

// Enclosure carries the magnet URI clients fetch to start a download.
type Enclosure struct {
	URL    string `xml:"url,attr"`
	Length string `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

// Attr is one torznab:attr name/value pair.
type Attr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// newRSS builds an empty RSS envelope with the channel boilerplate every
// response carries, matching _rss_root.
func newRSS(indexerName string) *RSS {
	rss := &RSS{Version: "2.0", TorznabNS: torznabNS}
	rss.Channel = Channel{
		Title:       indexerName,
		Description: "AniBridge Torznab feed",
		Link:        "https://localhost/",
	}
	return rss
}
