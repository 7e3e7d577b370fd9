package driven

import "context"

// DocResolver maps a research topic to candidate documentation URLs.
// The default implementation consults a static table of common
// documentation roots plus pattern fallbacks; alternative resolvers can
// consult an external catalog.
type DocResolver interface {
	// Resolve returns candidate URLs for the topic, best first.
	// Sitemap URLs are tried before direct pages.
	Resolve(ctx context.Context, topic string) []string
}
