package retrieval

import (
	"context"
	"math"
)

// diversify re-ranks fused results by Maximal Marginal Relevance:
// score = λ·relevance − (1−λ)·max_cosine_to_selected, greedily picking
// the highest-scoring remaining candidate at each step, per spec.md
// §4.7. relevance is the candidate's RRF score (already in [0, ~1/K]
// range but MMR only needs it as a consistent ranking signal, not a
// calibrated probability). Candidates whose embedding can't be loaded
// are scored as maximally diverse (cosine 0) rather than dropped, so a
// missing vector never silently removes a result.
func (e *Engine) diversify(ctx context.Context, candidates []scoredEntry, queryVector []float32, lambda float64, topK int) []scoredEntry {
	if len(candidates) <= 1 || topK <= 0 {
		if len(candidates) > topK {
			return candidates[:topK]
		}
		return candidates
	}

	embeddings := make(map[string][]float32, len(candidates))
	for _, c := range candidates {
		if vec, err := e.getMemoryEmbedding(ctx, c.ID); err == nil && vec != nil {
			embeddings[c.ID] = vec
		}
	}

	remaining := append([]scoredEntry(nil), candidates...)
	selected := make([]scoredEntry, 0, topK)

	for len(selected) < topK && len(remaining) > 0 {
		bestIdx := 0
		bestScore := math.Inf(-1)

		for i, cand := range remaining {
			maxSim := 0.0
			for _, sel := range selected {
				sim := cosineSimilarity(embeddings[cand.ID], embeddings[sel.ID])
				if sim > maxSim {
					maxSim = sim
				}
			}
			mmrScore := lambda*cand.Score - (1-lambda)*maxSim
			if mmrScore > bestScore {
				bestScore = mmrScore
				bestIdx = i
			}
		}

		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

func (e *Engine) getMemoryEmbedding(ctx context.Context, id string) ([]float32, error) {
	return e.index.GetEmbedding(ctx, id)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
