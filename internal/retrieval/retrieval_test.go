package retrieval

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/memplane/memplane/internal/graphstore"
)

func TestFuseRRF_HigherRankWinsWithinSingleList(t *testing.T) {
	entries := fuseRRF([][]string{{"a", "b", "c"}})
	if entries[0].ID != "a" {
		t.Errorf("expected 'a' (rank 1) to score highest, got %s", entries[0].ID)
	}
	if entries[0].Score <= entries[1].Score {
		t.Error("expected strictly decreasing scores by rank")
	}
}

func TestFuseRRF_AgreementAcrossArmsBoostsScore(t *testing.T) {
	// "x" appears first in both arms; "y" only in one. RRF should rank
	// "x" above anything that only one arm agrees on.
	fused := fuseRRF([][]string{{"x", "y"}, {"x", "z"}})
	if fused[0].ID != "x" {
		t.Errorf("expected 'x' (present in both arms) to rank first, got %s", fused[0].ID)
	}
}

func TestFuseRRF_Monotonic(t *testing.T) {
	// A result ranked better in every arm it appears in should never
	// score lower than one ranked worse in every arm.
	fused := fuseRRF([][]string{{"best", "worst"}, {"best", "worst"}})
	scoreOf := func(id string) float64 {
		for _, e := range fused {
			if e.ID == id {
				return e.Score
			}
		}
		return -1
	}
	if scoreOf("best") <= scoreOf("worst") {
		t.Error("expected consistently-better-ranked result to score higher")
	}
}

func TestCosineSimilarity_IdenticalVectorsAreOne(t *testing.T) {
	v := []float32{1, 2, 3}
	sim := cosineSimilarity(v, v)
	if sim < 0.999 || sim > 1.001 {
		t.Errorf("expected cosine similarity ~1 for identical vectors, got %f", sim)
	}
}

func TestCosineSimilarity_OrthogonalVectorsAreZero(t *testing.T) {
	sim := cosineSimilarity([]float32{1, 0}, []float32{0, 1})
	if sim < -0.001 || sim > 0.001 {
		t.Errorf("expected cosine similarity ~0 for orthogonal vectors, got %f", sim)
	}
}

func TestCosineSimilarity_MismatchedLengthIsZero(t *testing.T) {
	sim := cosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
	if sim != 0 {
		t.Errorf("expected 0 for mismatched lengths, got %f", sim)
	}
}

// fakeStore and fakeIndex mirror the pattern used in internal/ingestion's
// tests: a minimal in-memory stand-in rather than a live Dgraph/Redis.
type fakeStore struct {
	memories map[string]string // id -> content
}

func (f *fakeStore) RunRead(ctx context.Context, query string, vars map[string]string) (*graphstore.Result, error) {
	id := vars["$id"]
	content, ok := f.memories[id]
	if !ok {
		data, _ := json.Marshal(map[string]interface{}{"q": []interface{}{}})
		return &graphstore.Result{JSON: data}, nil
	}
	row := map[string]interface{}{"memory.id": id, "memory.content": content, "memory.state": "active"}
	data, _ := json.Marshal(map[string]interface{}{"q": []interface{}{row}})
	return &graphstore.Result{JSON: data}, nil
}
func (f *fakeStore) RunWrite(ctx context.Context, mutation string, vars map[string]string) (*graphstore.Result, error) {
	return &graphstore.Result{}, nil
}
func (f *fakeStore) InitSchema(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                         { return nil }

type fakeIndex struct {
	vectorHits []graphstore.ScoredID
	textHits   []graphstore.RankedID
}

func (f *fakeIndex) SearchVector(ctx context.Context, userID string, embedding []float32, k, overFetchK int) ([]graphstore.ScoredID, error) {
	return f.vectorHits, nil
}
func (f *fakeIndex) SearchText(ctx context.Context, userID, query string, k int) ([]graphstore.RankedID, error) {
	return f.textHits, nil
}
func (f *fakeIndex) GetEmbedding(ctx context.Context, memoryID string) ([]float32, error) {
	return nil, nil
}

type fakeEmbed struct{}

func (fakeEmbed) Embed(ctx context.Context, text string) ([]float32, error) { return []float32{1, 0}, nil }
func (fakeEmbed) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (fakeEmbed) Dims() int                        { return 2 }
func (fakeEmbed) Health(ctx context.Context) error { return nil }

func TestEngine_Search_HydratesAndFuses(t *testing.T) {
	store := &fakeStore{memories: map[string]string{"m1": "likes coffee", "m2": "owns a dog"}}
	index := &fakeIndex{
		vectorHits: []graphstore.ScoredID{{ID: "m1", Similarity: 0.9}, {ID: "m2", Similarity: 0.5}},
		textHits:   []graphstore.RankedID{{ID: "m1", Rank: 1}},
	}
	engine := NewEngine(store, index, fakeEmbed{})

	hits, err := engine.Search(context.Background(), "user-1", "coffee", Options{TopK: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Memory.ID != "m1" {
		t.Errorf("expected m1 (present in both arms) to rank first, got %s", hits[0].Memory.ID)
	}
}
