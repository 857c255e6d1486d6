// Package retrieval implements spec.md §4.7: fusing a lexical arm and a
// vector arm via Reciprocal Rank Fusion, optional MMR diversification,
// and an optional graph-traversal arm seeded by mentioned entities.
// Grounded on the teacher's RedisEpisodicStore.Search
// (internal/memory/episodic.go) for the vector-arm query shape, and on
// DgraphSemanticStore.Traverse (internal/memory/semantic.go) for the
// graph-walk arm.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/memplane/memplane/internal/apperr"
	"github.com/memplane/memplane/internal/embedding"
	"github.com/memplane/memplane/internal/graphstore"
	"github.com/memplane/memplane/internal/models"
)

// rrfK is the Reciprocal Rank Fusion damping constant spec.md §4.7 fixes
// at 60, following the canonical RRF paper's default.
const rrfK = 60.0

// Hit is one fused, hydrated search result.
type Hit struct {
	Memory *models.Memory
	Score  float64
}

// Options controls a single Search call.
type Options struct {
	TopK          int
	UseGraphArm   bool
	UseMMR        bool
	MMRLambda     float64 // relevance vs diversity tradeoff, 0..1
	GraphSeedEntityIDs []string
}

// Engine runs the hybrid retrieval pipeline.
type Engine struct {
	store graphstore.Store
	index Index
	embed embedding.Gateway
}

// Index is the subset of graphstore.RedisIndex retrieval needs.
type Index interface {
	SearchVector(ctx context.Context, userID string, embedding []float32, k, overFetchK int) ([]graphstore.ScoredID, error)
	SearchText(ctx context.Context, userID, query string, k int) ([]graphstore.RankedID, error)
	GetEmbedding(ctx context.Context, memoryID string) ([]float32, error)
}

func NewEngine(store graphstore.Store, index Index, embed embedding.Gateway) *Engine {
	return &Engine{store: store, index: index, embed: embed}
}

// Search runs the lexical + vector arms (and, when requested, the graph
// arm), fuses their rankings with RRF, optionally re-ranks with MMR, and
// hydrates the final IDs into full Memory records.
func (e *Engine) Search(ctx context.Context, userID, query string, opts Options) ([]Hit, error) {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	overFetch := opts.TopK * 4
	if overFetch < 20 {
		overFetch = 20
	}

	vector, err := e.embed.Embed(ctx, query)
	if err != nil {
		return nil, apperr.Dependency("retrieval.embed", err)
	}

	vectorHits, err := e.index.SearchVector(ctx, userID, vector, opts.TopK, overFetch)
	if err != nil {
		return nil, apperr.Dependency("retrieval.searchVector", err)
	}
	textHits, err := e.index.SearchText(ctx, userID, query, opts.TopK)
	if err != nil {
		return nil, apperr.Dependency("retrieval.searchText", err)
	}

	rankings := [][]string{vectorIDs(vectorHits), textIDs(textHits)}

	if opts.UseGraphArm && len(opts.GraphSeedEntityIDs) > 0 {
		graphIDs, err := e.graphWalk(ctx, opts.GraphSeedEntityIDs, opts.TopK)
		if err == nil && len(graphIDs) > 0 {
			rankings = append(rankings, graphIDs)
		}
	}

	fused := fuseRRF(rankings)

	if opts.UseMMR {
		lambda := opts.MMRLambda
		if lambda <= 0 {
			lambda = 0.7
		}
		fused = e.diversify(ctx, fused, vector, lambda, opts.TopK)
	} else if len(fused) > opts.TopK {
		fused = fused[:opts.TopK]
	}

	return e.hydrate(ctx, fused)
}

func vectorIDs(hits []graphstore.ScoredID) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids
}

func textIDs(hits []graphstore.RankedID) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids
}

// scoredEntry is a fused (id, score) pair, sorted by score descending.
type scoredEntry struct {
	ID    string
	Score float64
}

// fuseRRF computes score(id) = Σ 1/(K+rank) across every ranking the id
// appears in, per spec.md §4.7. rank is 1-based within each input slice.
// Ties are broken by first-seen order across rankings (not lexicographic
// ID order), matching spec.md §4.7's fusion example.
func fuseRRF(rankings [][]string) []scoredEntry {
	scores := make(map[string]float64)
	order := make(map[string]int)
	for _, ranking := range rankings {
		for i, id := range ranking {
			rank := i + 1
			scores[id] += 1.0 / (rrfK + float64(rank))
			if _, seen := order[id]; !seen {
				order[id] = len(order)
			}
		}
	}

	entries := make([]scoredEntry, 0, len(scores))
	for id, score := range scores {
		entries = append(entries, scoredEntry{ID: id, Score: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return order[entries[i].ID] < order[entries[j].ID] // stable tie-break
	})
	return entries
}

func (e *Engine) hydrate(ctx context.Context, entries []scoredEntry) ([]Hit, error) {
	hits := make([]Hit, 0, len(entries))
	for _, entry := range entries {
		mem, err := e.getMemory(ctx, entry.ID)
		if err != nil || mem == nil {
			continue
		}
		hits = append(hits, Hit{Memory: mem, Score: entry.Score})
	}
	return hits, nil
}

const getMemoryByIDQuery = `query get($id: string) {
	q(func: eq(memory.id, $id)) {
		memory.id
		memory.content
		memory.state
		memory.validAt
		memory.invalidAt
		memory.createdAt
	}
}`

func (e *Engine) getMemory(ctx context.Context, id string) (*models.Memory, error) {
	result, err := e.store.RunRead(ctx, getMemoryByIDQuery, map[string]string{"$id": id})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Q []struct {
			ID        string     `json:"memory.id"`
			Content   string     `json:"memory.content"`
			State     string     `json:"memory.state"`
			ValidAt   time.Time  `json:"memory.validAt"`
			InvalidAt *time.Time `json:"memory.invalidAt"`
			CreatedAt time.Time  `json:"memory.createdAt"`
		} `json:"q"`
	}
	if err := json.Unmarshal(result.JSON, &parsed); err != nil {
		return nil, fmt.Errorf("retrieval: decode memory: %w", err)
	}
	if len(parsed.Q) == 0 {
		return nil, nil
	}
	row := parsed.Q[0]
	return &models.Memory{
		ID:        row.ID,
		Content:   row.Content,
		State:     models.MemoryState(row.State),
		ValidAt:   row.ValidAt,
		InvalidAt: row.InvalidAt,
		CreatedAt: row.CreatedAt,
	}, nil
}
