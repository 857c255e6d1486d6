package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// DeterministicGateway produces a stable, hash-derived vector for any text
// without calling out to a model server. It is used when configuration
// selects it as the embedding provider; nothing switches to it
// automatically when another provider is unreachable. Its vector space is
// deterministic but carries no semantic meaning. Grounded on the
// teacher's SimpleEmbedding (internal/memory/embedding.go), keeping its
// per-dimension hash idea, with math.Sqrt L2 normalization and an
// arbitrary dimension.
type DeterministicGateway struct {
	dims int
}

func NewDeterministicGateway(dims int) *DeterministicGateway {
	return &DeterministicGateway{dims: dims}
}

func (g *DeterministicGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, g.dims)
	for i := range vec {
		vec[i] = float32(simpleHash(text, i)) / float32(math.MaxUint32)
	}
	normalize(vec)
	return vec, nil
}

func (g *DeterministicGateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := g.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (g *DeterministicGateway) Dims() int { return g.dims }

func (g *DeterministicGateway) Health(ctx context.Context) error { return nil }

// simpleHash derives a different 32-bit hash per dimension index by
// salting the FNV hash with the index, so adjacent components of the
// output vector aren't trivially correlated.
func simpleHash(text string, salt int) uint32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	h.Write([]byte{byte(salt), byte(salt >> 8)})
	return h.Sum32()
}

func normalize(vec []float32) {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] /= norm
	}
}
