package bulkingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/memplane/memplane/internal/dedup"
	"github.com/memplane/memplane/internal/graphstore"
	"github.com/memplane/memplane/internal/llm"
)

type stubLLMGateway struct{}

func (stubLLMGateway) Complete(ctx context.Context, systemPrompt, userPrompt string, opts llm.Options) (string, error) {
	return "SAME", nil
}
func (stubLLMGateway) Health(ctx context.Context) error { return nil }

type fakeStore struct {
	writes int
}

func (f *fakeStore) RunRead(ctx context.Context, query string, vars map[string]string) (*graphstore.Result, error) {
	return &graphstore.Result{JSON: []byte(`{"q":[]}`)}, nil
}
func (f *fakeStore) RunWrite(ctx context.Context, mutation string, vars map[string]string) (*graphstore.Result, error) {
	return &graphstore.Result{}, nil
}
func (f *fakeStore) RunJSONMutation(ctx context.Context, setJSON []byte) (*graphstore.Result, error) {
	f.writes++
	var envelope struct {
		UserID    string                   `json:"user.userId"`
		HasMemory []map[string]interface{} `json:"has_memory"`
	}
	if err := json.Unmarshal(setJSON, &envelope); err != nil {
		return nil, err
	}
	return &graphstore.Result{}, nil
}
func (f *fakeStore) InitSchema(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                         { return nil }

type fakeIndex struct {
	indexed      []string
	similarities map[string]float64 // content -> similarity to return for all queries
}

func (f *fakeIndex) IndexMemory(ctx context.Context, userID, memoryID, content string, embedding []float32, state string, live bool, createdAt time.Time) error {
	f.indexed = append(f.indexed, memoryID)
	return nil
}

func (f *fakeIndex) SearchVector(ctx context.Context, userID string, embedding []float32, k, overFetchK int) ([]graphstore.ScoredID, error) {
	if f.similarities == nil {
		return nil, nil
	}
	var hits []graphstore.ScoredID
	for id, sim := range f.similarities {
		hits = append(hits, graphstore.ScoredID{ID: id, Similarity: sim})
	}
	return hits, nil
}

type fakeEmbed struct{}

func (fakeEmbed) Embed(ctx context.Context, text string) ([]float32, error) { return []float32{1}, nil }
func (fakeEmbed) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2}
	}
	return out, nil
}
func (fakeEmbed) Dims() int                        { return 2 }
func (fakeEmbed) Health(ctx context.Context) error { return nil }

func TestIngest_DropsExactDuplicatesInBatch(t *testing.T) {
	store := &fakeStore{}
	index := &fakeIndex{}
	svc := New(store, index, fakeEmbed{}, nil, 2, 0.85)

	result, err := svc.Ingest(context.Background(), "user-1", []string{"fact one", "fact one", "fact two"}, "app")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SkippedExactDuplicates != 1 {
		t.Errorf("expected 1 exact duplicate skipped, got %d", result.SkippedExactDuplicates)
	}
	if len(result.Inserted) != 2 {
		t.Errorf("expected 2 inserted, got %d", len(result.Inserted))
	}
	if store.writes != 1 {
		t.Errorf("expected exactly one batch write, got %d", store.writes)
	}
}

func TestIngest_SkipsNearDuplicatesAboveThreshold(t *testing.T) {
	store := &fakeStore{}
	index := &fakeIndex{similarities: map[string]float64{"existing-1": 0.95}}
	svc := New(store, index, fakeEmbed{}, nil, 1, 0.85)

	pool := llm.NewPool(stubLLMGateway{}, llm.PoolConfig{Workers: 1, QueueSize: 1})
	t.Cleanup(pool.Shutdown)
	checker, err := dedup.NewChecker(pool)
	if err != nil {
		t.Fatalf("unexpected error creating checker: %v", err)
	}
	t.Cleanup(checker.Close)
	svc.dedup = checker

	result, err := svc.Ingest(context.Background(), "user-1", []string{"new fact"}, "app")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SkippedNearDuplicates != 1 {
		t.Errorf("expected 1 near duplicate skipped, got %d", result.SkippedNearDuplicates)
	}
	if len(result.Inserted) != 0 {
		t.Errorf("expected 0 inserted, got %d", len(result.Inserted))
	}
}

func TestIngest_EmptyBatchIsNoop(t *testing.T) {
	store := &fakeStore{}
	index := &fakeIndex{}
	svc := New(store, index, fakeEmbed{}, nil, 1, 0.85)

	result, err := svc.Ingest(context.Background(), "user-1", []string{"  ", ""}, "app")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Inserted) != 0 {
		t.Errorf("expected no insertions for an all-blank batch, got %d", len(result.Inserted))
	}
	if store.writes != 0 {
		t.Errorf("expected no write for an empty survivor set, got %d writes", store.writes)
	}
}

func TestDedupExactInBatch_TrimsAndDedupes(t *testing.T) {
	out := dedupExactInBatch([]string{" a ", "a", "b", ""})
	if len(out) != 2 {
		t.Fatalf("expected 2 unique entries, got %d: %v", len(out), out)
	}
}
