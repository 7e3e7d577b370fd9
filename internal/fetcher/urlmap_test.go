package fetcher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractLibraryName(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://docs.memvid.com/api/search", "memvid"},
		{"https://react.dev/learn", "react"},
		{"https://developer.mozilla.org/en-US/docs", "mozilla"},
		{"https://github.com/foo/bar/blob/main/README.md", "foo-bar"},
		{"https://github.com/foo", "foo"},
		{"https://github.com/", "github"},
		{"https://raw.githubusercontent.com/org/repo/main/doc.md", "org-repo"},
		{"https://www.rust-lang.org/learn", "rust-lang"},
		{"https://api.stripe.com/v1", "stripe"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractLibraryName(tt.url))
		})
	}
}

func TestURLToRelPath(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://docs.memvid.com/api/search", "memvid/api/search.md"},
		{"https://docs.memvid.com/api/search.html", "memvid/api/search.md"},
		{"https://docs.memvid.com/guide.md", "memvid/guide.md"},
		{"https://react.dev/", "react/index.md"},
		{"https://react.dev", "react/index.md"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.expected, URLToRelPath(tt.url))
		})
	}
}

func TestURLToRelPath_DotSegmentsStripped(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://example.com/../../../../tmp/evil", "example/tmp/evil.md"},
		{"https://example.com/docs/../../secret", "example/docs/secret.md"},
		{"https://example.com/./a/./b", "example/a/b.md"},
		{"https://github.com/..", "unknown/index.md"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.expected, URLToRelPath(tt.url))
		})
	}
}

func TestBlocklist_Defaults(t *testing.T) {
	b := NewBlocklist()

	host, blocked := b.Blocked("https://medium.com/@someone/post")
	assert.True(t, blocked)
	assert.Equal(t, "medium.com", host)

	_, blocked = b.Blocked("https://www.substack.com/home")
	assert.True(t, blocked)

	// Subdomains of blocked domains are blocked too.
	_, blocked = b.Blocked("https://newsletter.substack.com/p/post")
	assert.True(t, blocked)

	_, blocked = b.Blocked("https://docs.python.org/3/")
	assert.False(t, blocked)
}

func TestBlocklist_EnvOverride(t *testing.T) {
	t.Setenv(BlockedDomainsEnv, "example.com, other.net")
	b := NewBlocklist()

	_, blocked := b.Blocked("https://example.com/page")
	assert.True(t, blocked)
	_, blocked = b.Blocked("https://other.net/page")
	assert.True(t, blocked)
	_, blocked = b.Blocked("https://medium.com/page")
	assert.True(t, blocked, "defaults stay in force")
}

func TestLooksLikeMarkdown(t *testing.T) {
	assert.True(t, looksLikeMarkdown("# Title\n\nSome paragraph text."))
	assert.True(t, looksLikeMarkdown("plain text without any markup"))

	assert.False(t, looksLikeMarkdown(""))
	assert.False(t, looksLikeMarkdown("   \n\t  "))
	assert.False(t, looksLikeMarkdown("<!DOCTYPE html><html><body>hi</body></html>"))
	assert.False(t, looksLikeMarkdown("<html>\n<body>\n<p>hi</p>\n</body>\n</html>"))

	// Mostly tag-opening lines reads as HTML even without a doctype.
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString("<div>content</div>\n")
	}
	assert.False(t, looksLikeMarkdown(sb.String()))
}

func TestLooksLikeMarkdown_InlineHTMLTolerated(t *testing.T) {
	text := "# Guide\n\nUse the <code>Run</code> helper.\n\nMore prose here.\nAnd here.\n"
	assert.True(t, looksLikeMarkdown(text))
}
