package fetcher

import (
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"
)

// BlockedDomainsEnv lists extra blocked domains, comma separated.
const BlockedDomainsEnv = "SANDBRIDGE_BLOCKED_DOMAINS"

// defaultBlockedDomains are sites known to refuse automated fetching.
var defaultBlockedDomains = map[string]bool{
	"medium.com":   true,
	"substack.com": true,
}

var (
	hostPrefixRe = regexp.MustCompile(`^(www|docs|api|developer)\.`)
	docExtRe     = regexp.MustCompile(`\.(md|html|htm)$`)
)

// noiseSegments are host segments too generic to name a library.
var noiseSegments = map[string]bool{
	"com": true, "org": true, "io": true, "dev": true, "net": true, "co": true,
}

// Blocklist refuses URLs on domains that block automated fetching.
type Blocklist struct {
	domains map[string]bool
}

// NewBlocklist builds the blocklist from the defaults plus the
// comma-separated BlockedDomainsEnv override.
func NewBlocklist() *Blocklist {
	domains := make(map[string]bool, len(defaultBlockedDomains))
	for d := range defaultBlockedDomains {
		domains[d] = true
	}
	for _, d := range strings.Split(os.Getenv(BlockedDomainsEnv), ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			domains[d] = true
		}
	}
	return &Blocklist{domains: domains}
}

// Blocked reports whether the URL's host is on the blocklist. Hosts
// are matched after stripping www./docs. style prefixes, and subdomains
// of a blocked domain are blocked too.
func (b *Blocklist) Blocked(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	host = hostPrefixRe.ReplaceAllString(host, "")

	if b.domains[host] {
		return host, true
	}
	for d := range b.domains {
		if strings.HasSuffix(host, "."+d) {
			return d, true
		}
	}
	return "", false
}

// ExtractLibraryName pulls a library or project name from a URL's host.
//
//	docs.memvid.com       -> memvid
//	react.dev             -> react
//	github.com/foo/bar    -> foo-bar
func ExtractLibraryName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	host := strings.ToLower(u.Hostname())

	// GitHub: org-repo names the library.
	if host == "github.com" || host == "raw.githubusercontent.com" {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) >= 2 && parts[0] != "" && parts[1] != "" {
			return parts[0] + "-" + parts[1]
		}
		if len(parts) >= 1 && parts[0] != "" {
			return parts[0]
		}
		return "github"
	}

	host = hostPrefixRe.ReplaceAllString(host, "")

	for _, seg := range strings.Split(host, ".") {
		if len(seg) > 2 && !noiseSegments[seg] {
			return seg
		}
	}

	if host == "" {
		return "unknown"
	}
	return strings.ReplaceAll(host, ".", "-")
}

// URLToRelPath maps a URL to its raw-doc path relative to the raw
// directory: <library>/<url-path>.md, with "index" for bare hosts.
// Dot segments are stripped so a crafted URL can never name a file
// outside the raw directory.
func URLToRelPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return path.Join("unknown", "index.md")
	}

	library := dropDotSegments(ExtractLibraryName(rawURL))
	if library == "" {
		library = "unknown"
	}
	p := docExtRe.ReplaceAllString(u.Path, "")
	p = dropDotSegments(p)
	if p == "" {
		p = "index"
	}
	return path.Join(library, p+".md")
}

// dropDotSegments removes empty, "." and ".." segments from a
// slash-separated path.
func dropDotSegments(p string) string {
	segs := strings.Split(p, "/")
	kept := segs[:0]
	for _, seg := range segs {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		kept = append(kept, seg)
	}
	return strings.Join(kept, "/")
}

// looksLikeMarkdown reports whether text reads as markdown rather than
// HTML: no doctype or html tag up front, and under 30% tag-opening
// lines in the first 50.
func looksLikeMarkdown(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	head := strings.ToLower(strings.TrimSpace(text))
	if len(head) > 200 {
		head = head[:200]
	}
	if strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html") {
		return false
	}

	lines := strings.Split(text, "\n")
	if len(lines) > 50 {
		lines = lines[:50]
	}
	htmlLines := 0
	for _, line := range lines {
		trimmed := strings.ToLower(strings.TrimSpace(line))
		if len(trimmed) >= 2 && trimmed[0] == '<' && trimmed[1] >= 'a' && trimmed[1] <= 'z' {
			htmlLines++
		}
	}
	return len(lines) == 0 || float64(htmlLines)/float64(len(lines)) <= 0.3
}
