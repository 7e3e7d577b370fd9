package fetcher

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	multiNewlineRe = regexp.MustCompile(`\n{3,}`)
	multiSpaceRe   = regexp.MustCompile(`[ \t]{2,}`)
)

// htmlToMarkdown converts an HTML page to simplified markdown by
// walking the parse tree. It is the cascade's last tier, used when
// neither the origin nor the proxy produced markdown.
func htmlToMarkdown(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var sb strings.Builder
	walkNode(doc, &sb, 0)

	return cleanMarkdown(sb.String()), nil
}

func walkNode(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 50 {
		return
	}

	switch n.Type {
	case html.TextNode:
		text := strings.TrimSpace(n.Data)
		if text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header":
			return
		case "title":
			sb.WriteString("# ")
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walkNode(c, sb, depth+1)
			}
			sb.WriteString("\n\n")
			return
		case "h1":
			sb.WriteString("\n\n# ")
		case "h2":
			sb.WriteString("\n\n## ")
		case "h3":
			sb.WriteString("\n\n### ")
		case "h4":
			sb.WriteString("\n\n#### ")
		case "h5":
			sb.WriteString("\n\n##### ")
		case "h6":
			sb.WriteString("\n\n###### ")
		case "p", "div":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		case "code":
			sb.WriteString("`")
		case "pre":
			sb.WriteString("\n\n```\n")
		case "strong", "b":
			sb.WriteString("**")
		case "em", "i":
			sb.WriteString("*")
		case "a":
			if href := nodeAttr(n, "href"); href != "" && !strings.HasPrefix(href, "#") {
				sb.WriteString("[")
			}
		case "img":
			if alt := nodeAttr(n, "alt"); alt != "" {
				fmt.Fprintf(sb, "[Image: %s]", alt)
			}
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkNode(c, sb, depth+1)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString("\n\n")
		case "code":
			sb.WriteString("`")
		case "pre":
			sb.WriteString("\n```\n\n")
		case "strong", "b":
			sb.WriteString("**")
		case "em", "i":
			sb.WriteString("*")
		case "a":
			if href := nodeAttr(n, "href"); href != "" && !strings.HasPrefix(href, "#") {
				fmt.Fprintf(sb, "](%s)", href)
			}
		}
	}
}

func nodeAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func cleanMarkdown(s string) string {
	s = multiNewlineRe.ReplaceAllString(s, "\n\n")
	s = multiSpaceRe.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
