package postprocessors

import (
	"github.com/custodia-labs/sandbridge/internal/core/ports/driven"
	"github.com/custodia-labs/sandbridge/internal/postprocessors/chunker"
	"github.com/custodia-labs/sandbridge/internal/postprocessors/entities"
)

// RegisterDefaults registers all built-in processors with the registry.
// Call this during application initialisation to enable standard processors.
func RegisterDefaults(r *Registry) {
	r.Register("chunker", buildChunker)
	r.Register("entities", buildEntities)
}

// buildChunker creates a chunker processor from generic config.
// Supported config keys:
//   - target_size (int): Preferred characters per chunk (default: 2048)
//   - max_size (int): Hard chunk size limit (default: 4096)
//   - overlap (int): Overlap for fixed-size fallback splits (default: 200)
func buildChunker(cfg map[string]any) (driven.PostProcessor, error) {
	var opts []chunker.Option

	if cfg != nil {
		if size := getIntFromConfig(cfg, "target_size"); size > 0 {
			opts = append(opts, chunker.WithTargetSize(size))
		}
		if size := getIntFromConfig(cfg, "max_size"); size > 0 {
			opts = append(opts, chunker.WithMaxSize(size))
		}
		if overlap := getIntFromConfig(cfg, "overlap"); overlap >= 0 {
			opts = append(opts, chunker.WithOverlap(overlap))
		}
	}

	return chunker.New(opts...), nil
}

// DefaultPipeline builds the standard ingest pipeline: markdown chunking
// followed by entity extraction. chunkerCfg, when non-nil, tunes the
// chunker sizes.
func DefaultPipeline(r *Registry, chunkerCfg map[string]any) (*Pipeline, error) {
	chunk, err := r.Build("chunker", chunkerCfg)
	if err != nil {
		return nil, err
	}
	enrich, err := r.Build("entities", nil)
	if err != nil {
		return nil, err
	}
	return NewPipeline(chunk, enrich), nil
}

// buildEntities creates an entity extraction processor.
func buildEntities(_ map[string]any) (driven.PostProcessor, error) {
	return entities.New(), nil
}

// getIntFromConfig safely extracts an int from generic config map.
// Handles int, int64, and float64 types that may come from TOML/JSON parsing.
func getIntFromConfig(cfg map[string]any, key string) int {
	val, ok := cfg[key]
	if !ok {
		return 0
	}

	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
