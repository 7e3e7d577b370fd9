package fetcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTMLToMarkdown_Headings(t *testing.T) {
	md, err := htmlToMarkdown(`<html><body><h1>Guide</h1><p>Intro text.</p><h2>Install</h2><p>Run it.</p></body></html>`)
	require.NoError(t, err)

	assert.Contains(t, md, "# Guide")
	assert.Contains(t, md, "## Install")
	assert.Contains(t, md, "Intro text.")
}

func TestHTMLToMarkdown_SkipsChrome(t *testing.T) {
	md, err := htmlToMarkdown(`<html><body>
		<nav>Home About</nav>
		<script>alert(1)</script>
		<style>.x{color:red}</style>
		<p>Real content.</p>
		<footer>Copyright</footer>
	</body></html>`)
	require.NoError(t, err)

	assert.Contains(t, md, "Real content.")
	assert.NotContains(t, md, "alert(1)")
	assert.NotContains(t, md, "Home About")
	assert.NotContains(t, md, "Copyright")
}

func TestHTMLToMarkdown_Links(t *testing.T) {
	md, err := htmlToMarkdown(`<p>See <a href="https://example.com/docs">the docs</a>.</p>`)
	require.NoError(t, err)

	assert.Contains(t, md, "[the docs](https://example.com/docs)")
}

func TestHTMLToMarkdown_AnchorLinksUnwrapped(t *testing.T) {
	md, err := htmlToMarkdown(`<p><a href="#section">jump</a></p>`)
	require.NoError(t, err)

	assert.Contains(t, md, "jump")
	assert.NotContains(t, md, "](#section)")
}

func TestHTMLToMarkdown_CodeBlocks(t *testing.T) {
	md, err := htmlToMarkdown(`<p>Use <code>go build</code> or:</p><pre>go test ./...</pre>`)
	require.NoError(t, err)

	assert.Contains(t, md, "`go build`")
	assert.Contains(t, md, "```")
	assert.Contains(t, md, "go test ./...")
}

func TestHTMLToMarkdown_Lists(t *testing.T) {
	md, err := htmlToMarkdown(`<ul><li>first</li><li>second</li></ul>`)
	require.NoError(t, err)

	assert.Contains(t, md, "- first")
	assert.Contains(t, md, "- second")
}

func TestCleanMarkdown(t *testing.T) {
	out := cleanMarkdown("a\n\n\n\n\nb   c\t\td  \n")
	assert.Equal(t, "a\n\nb c d", out)
}
