package fetcher

import (
	"encoding/xml"
	"strings"
)

// parseSitemap extracts every <loc> URL from sitemap XML. Both urlset
// and sitemapindex documents work: the caller recurses into nested
// sitemaps by checking for the .xml suffix.
func parseSitemap(xmlText string) []string {
	var urls []string

	decoder := xml.NewDecoder(strings.NewReader(xmlText))
	inLoc := false
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			inLoc = t.Name.Local == "loc"
		case xml.EndElement:
			inLoc = false
		case xml.CharData:
			if inLoc {
				if u := strings.TrimSpace(string(t)); u != "" {
					urls = append(urls, u)
				}
			}
		}
	}
	return urls
}

// isSitemapURL reports whether a <loc> entry points at another sitemap
// rather than a page.
func isSitemapURL(url string) bool {
	trimmed := strings.TrimSuffix(strings.ToLower(url), "/")
	return strings.HasSuffix(trimmed, ".xml") || strings.HasSuffix(trimmed, ".xml.gz")
}
