// Package entities provides a rule-based entity extraction processor.
package entities

import (
	"context"
	"regexp"
	"strings"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
)

// MaxEntitiesPerChunk bounds the entity list stored per chunk.
const MaxEntitiesPerChunk = 32

// rules maps entity kinds to their extraction patterns.
var rules = map[string]*regexp.Regexp{
	"url":     regexp.MustCompile(`https?://[^\s<>"')\]]+`),
	"email":   regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
	"version": regexp.MustCompile(`\bv?\d+\.\d+(?:\.\d+)?(?:-[0-9A-Za-z.]+)?\b`),
	"path":    regexp.MustCompile(`(?:~|/)[A-Za-z0-9_./-]{2,}`),
	"symbol":  regexp.MustCompile(`\b[a-z][A-Za-z0-9]*\.[A-Z][A-Za-z0-9]*\b`),
}

// Processor annotates chunks with entities found by regex rules.
// It implements the PostProcessor interface.
type Processor struct{}

// New creates a new entity extraction processor.
func New() *Processor {
	return &Processor{}
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "entities"
}

// Process scans each chunk's content and records found entities in the
// chunk metadata under "entities", as "kind:value" strings.
func (p *Processor) Process(_ context.Context, _ *domain.Document, chunks []domain.Chunk) ([]domain.Chunk, error) {
	for i := range chunks {
		found := extract(chunks[i].Content)
		if len(found) == 0 {
			continue
		}
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = make(map[string]any)
		}
		chunks[i].Metadata["entities"] = found
	}
	return chunks, nil
}

// extract applies every rule to the content and returns deduplicated
// "kind:value" entries, capped at MaxEntitiesPerChunk.
func extract(content string) []string {
	var found []string
	seen := make(map[string]bool)

	for kind, re := range rules {
		for _, match := range re.FindAllString(content, -1) {
			match = strings.TrimRight(match, ".,;:")
			entry := kind + ":" + match
			if seen[entry] {
				continue
			}
			seen[entry] = true
			found = append(found, entry)
			if len(found) >= MaxEntitiesPerChunk {
				return found
			}
		}
	}
	return found
}
