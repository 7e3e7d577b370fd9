package entities

import (
	"context"
	"strings"
	"testing"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
)

func TestProcessor_Name(t *testing.T) {
	p := New()
	if p.Name() != "entities" {
		t.Errorf("expected name 'entities', got '%s'", p.Name())
	}
}

func TestProcessor_Process_FindsURLs(t *testing.T) {
	p := New()
	chunks := []domain.Chunk{
		{ID: "c1", Content: "See https://pkg.go.dev/net/http for details."},
	}

	out, err := p.Process(context.Background(), nil, chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entities, ok := out[0].Metadata["entities"].([]string)
	if !ok {
		t.Fatal("expected entities metadata")
	}
	if !containsEntry(entities, "url:https://pkg.go.dev/net/http") {
		t.Errorf("expected URL entity, got %v", entities)
	}
}

func TestProcessor_Process_FindsVersionsAndEmails(t *testing.T) {
	p := New()
	chunks := []domain.Chunk{
		{ID: "c1", Content: "Released v1.2.3, contact dev@example.com."},
	}

	out, err := p.Process(context.Background(), nil, chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entities := out[0].Metadata["entities"].([]string)
	if !containsEntry(entities, "version:v1.2.3") {
		t.Errorf("expected version entity, got %v", entities)
	}
	if !containsEntry(entities, "email:dev@example.com") {
		t.Errorf("expected email entity, got %v", entities)
	}
}

func TestProcessor_Process_NoEntities(t *testing.T) {
	p := New()
	chunks := []domain.Chunk{
		{ID: "c1", Content: "nothing interesting here"},
	}

	out, err := p.Process(context.Background(), nil, chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := out[0].Metadata["entities"]; ok {
		t.Error("expected no entities metadata for plain content")
	}
}

func TestProcessor_Process_Deduplicates(t *testing.T) {
	p := New()
	chunks := []domain.Chunk{
		{ID: "c1", Content: "v2.0.0 and again v2.0.0"},
	}

	out, err := p.Process(context.Background(), nil, chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entities := out[0].Metadata["entities"].([]string)
	count := 0
	for _, e := range entities {
		if e == "version:v2.0.0" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected one deduplicated entry, got %d", count)
	}
}

func TestProcessor_Process_CapsEntityCount(t *testing.T) {
	p := New()

	var sb strings.Builder
	for i := 0; i < 100; i++ {
		sb.WriteString("user")
		sb.WriteByte(byte('a' + i%26))
		sb.WriteByte(byte('a' + i/26))
		sb.WriteString("@example.com ")
	}

	chunks := []domain.Chunk{{ID: "c1", Content: sb.String()}}

	out, err := p.Process(context.Background(), nil, chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entities := out[0].Metadata["entities"].([]string)
	if len(entities) > MaxEntitiesPerChunk {
		t.Errorf("expected at most %d entities, got %d", MaxEntitiesPerChunk, len(entities))
	}
}

func containsEntry(entries []string, want string) bool {
	for _, e := range entries {
		if e == want {
			return true
		}
	}
	return false
}
