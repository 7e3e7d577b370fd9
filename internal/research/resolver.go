package research

import (
	"context"
	"fmt"
	"strings"
)

// knownDocs maps common library names to their documentation roots.
// A matched topic tries <root>/sitemap.xml first, then the root page.
var knownDocs = map[string]string{
	"fastapi":      "https://fastapi.tiangolo.com",
	"memvid":       "https://docs.memvid.com",
	"dspy":         "https://dspy.ai",
	"pydantic":     "https://docs.pydantic.dev",
	"httpx":        "https://www.python-httpx.org",
	"starlette":    "https://www.starlette.io",
	"uvicorn":      "https://www.uvicorn.org",
	"sqlmodel":     "https://sqlmodel.tiangolo.com",
	"typer":        "https://typer.tiangolo.com",
	"polars":       "https://docs.pola.rs",
	"pytest":       "https://docs.pytest.org",
	"click":        "https://click.palletsprojects.com",
	"flask":        "https://flask.palletsprojects.com",
	"django":       "https://docs.djangoproject.com",
	"numpy":        "https://numpy.org",
	"pandas":       "https://pandas.pydata.org",
	"scikit-learn": "https://scikit-learn.org",
	"sklearn":      "https://scikit-learn.org",
	"torch":        "https://pytorch.org",
	"pytorch":      "https://pytorch.org",
	"transformers": "https://huggingface.co/docs/transformers",
	"langchain":    "https://python.langchain.com",
	"llamaindex":   "https://docs.llamaindex.ai",
	"llama-index":  "https://docs.llamaindex.ai",
	"openai":       "https://platform.openai.com/docs",
	"anthropic":    "https://docs.anthropic.com",
}

// StaticResolver maps topics to documentation URLs through the known
// table, falling back to common hosting patterns.
type StaticResolver struct{}

// Resolve returns candidate URLs for the topic, best first.
func (StaticResolver) Resolve(ctx context.Context, topic string) []string {
	topic = strings.ToLower(strings.TrimSpace(topic))
	if topic == "" {
		return nil
	}

	if base, ok := knownDocs[topic]; ok {
		return []string{base + "/sitemap.xml", base}
	}

	return []string{
		fmt.Sprintf("https://docs.%s.com/sitemap.xml", topic),
		fmt.Sprintf("https://%s.dev/sitemap.xml", topic),
		fmt.Sprintf("https://%s.readthedocs.io/sitemap.xml", topic),
		fmt.Sprintf("https://docs.%s.io/sitemap.xml", topic),
	}
}
