// Package embedding is the text-to-vector capability named in spec.md
// §4.2. It generalizes the teacher's two memory.EmbeddingGenerator
// implementations (HuggingFaceEmbedding, SimpleEmbedding) into a single
// Gateway interface with a caching decorator in front of either one.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned when a gateway's configured dimension
// doesn't match the dimension actually produced, which would otherwise
// silently corrupt the vector index's fixed-width VECTOR FLAT schema.
var ErrDimensionMismatch = errors.New("embedding: dimension mismatch")

// Gateway produces a fixed-dimension embedding for a single piece of
// text, and a batch variant for bulk ingest (spec.md §4.8) so callers
// never have to fan out per-item HTTP calls themselves.
type Gateway interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dims() int
	Health(ctx context.Context) error
}

func checkDims(want int, got []float32) error {
	if len(got) != want {
		return fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, want, len(got))
	}
	return nil
}
