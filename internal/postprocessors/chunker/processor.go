// Package chunker provides a markdown-aware text chunking processor.
package chunker

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
)

// DefaultTargetSize is the preferred number of characters per chunk.
const DefaultTargetSize = 2048

// DefaultMaxSize is the hard upper bound before a section is split.
const DefaultMaxSize = 4096

// DefaultOverlap is the number of overlapping characters when an
// oversized section falls back to fixed-size splitting.
const DefaultOverlap = 200

// Processor splits document text into chunks along markdown section
// boundaries. Sections are accumulated up to the target size; sections
// larger than the maximum are split with overlap. It implements the
// PostProcessor interface.
type Processor struct {
	targetSize int
	maxSize    int
	overlap    int
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithTargetSize sets the preferred chunk size in characters.
func WithTargetSize(size int) Option {
	return func(p *Processor) {
		if size > 0 {
			p.targetSize = size
		}
	}
}

// WithMaxSize sets the hard chunk size limit in characters.
func WithMaxSize(size int) Option {
	return func(p *Processor) {
		if size > 0 {
			p.maxSize = size
		}
	}
}

// WithOverlap sets the overlap for fixed-size fallback splitting.
func WithOverlap(overlap int) Option {
	return func(p *Processor) {
		if overlap >= 0 {
			p.overlap = overlap
		}
	}
}

// New creates a new chunker processor with the given options.
func New(opts ...Option) *Processor {
	p := &Processor{
		targetSize: DefaultTargetSize,
		maxSize:    DefaultMaxSize,
		overlap:    DefaultOverlap,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.maxSize < p.targetSize {
		p.maxSize = p.targetSize * 2
	}
	// Ensure overlap doesn't exceed target size
	if p.overlap >= p.targetSize {
		p.overlap = p.targetSize / 4
	}

	return p
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "chunker"
}

// section is one markdown heading plus its body text.
type section struct {
	heading string
	text    string
}

// Process splits the document text into chunks.
// Input chunks are ignored; this processor creates new chunks from document text.
func (p *Processor) Process(_ context.Context, doc *domain.Document, _ []domain.Chunk) ([]domain.Chunk, error) {
	if strings.TrimSpace(doc.Text) == "" {
		// Empty content produces no chunks
		return nil, nil
	}

	sections := splitSections(doc.Text)

	var chunks []domain.Chunk
	var buf strings.Builder
	var bufHeading string

	flush := func() {
		content := strings.TrimSpace(buf.String())
		if content == "" {
			buf.Reset()
			return
		}
		chunks = append(chunks, p.newChunk(doc, len(chunks), bufHeading, content))
		buf.Reset()
	}

	for _, sec := range sections {
		secLen := len(sec.heading) + len(sec.text)

		if secLen > p.maxSize {
			// Oversized section: flush the accumulator, then split the
			// section with overlap.
			flush()
			for _, part := range splitFixed(sec.text, p.targetSize, p.overlap) {
				content := part
				if sec.heading != "" {
					content = sec.heading + "\n\n" + part
				}
				chunks = append(chunks, p.newChunk(doc, len(chunks), sec.heading, content))
			}
			bufHeading = ""
			continue
		}

		if buf.Len() > 0 && buf.Len()+secLen > p.targetSize {
			flush()
		}

		if buf.Len() == 0 {
			bufHeading = sec.heading
		}
		if sec.heading != "" {
			buf.WriteString(sec.heading)
			buf.WriteString("\n\n")
		}
		buf.WriteString(sec.text)
		buf.WriteString("\n\n")
	}
	flush()

	return chunks, nil
}

// newChunk builds a chunk with section metadata.
func (p *Processor) newChunk(doc *domain.Document, index int, heading, content string) domain.Chunk {
	meta := make(map[string]any)
	if heading != "" {
		meta["section"] = strings.TrimLeft(strings.TrimSpace(heading), "# ")
	}
	return domain.Chunk{
		ID:          uuid.New().String(),
		DocumentID:  doc.ID,
		ParentTitle: doc.Title,
		Content:     content,
		ChunkIndex:  index,
		Metadata:    meta,
	}
}

// splitSections breaks markdown text at heading lines. Text before the
// first heading becomes a heading-less section.
func splitSections(text string) []section {
	lines := strings.Split(text, "\n")

	var sections []section
	var heading string
	var body strings.Builder

	emit := func() {
		b := strings.TrimSpace(body.String())
		if b != "" || heading != "" {
			sections = append(sections, section{heading: heading, text: b})
		}
		body.Reset()
	}

	inFence := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
		}

		if !inFence && isHeading(trimmed) {
			emit()
			heading = trimmed
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	emit()

	return sections
}

// isHeading reports whether a line is a markdown ATX heading.
func isHeading(line string) bool {
	if !strings.HasPrefix(line, "#") {
		return false
	}
	i := 0
	for i < len(line) && line[i] == '#' {
		i++
	}
	return i <= 6 && i < len(line) && line[i] == ' '
}

// splitFixed splits text into fixed-size pieces with overlap, preferring
// paragraph boundaries near the cut point.
func splitFixed(text string, size, overlap int) []string {
	if len(text) <= size {
		return []string{text}
	}

	var parts []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			parts = append(parts, strings.TrimSpace(text[start:]))
			break
		}

		// Prefer to cut at a paragraph break in the last quarter of the window.
		cut := end
		if idx := strings.LastIndex(text[start:end], "\n\n"); idx > size*3/4 {
			cut = start + idx
		}

		parts = append(parts, strings.TrimSpace(text[start:cut]))

		next := cut - overlap
		if next <= start {
			next = cut
		}
		start = next
	}

	// Drop empties produced by trimming.
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
