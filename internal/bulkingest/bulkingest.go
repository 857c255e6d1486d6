// Package bulkingest implements spec.md §4.8: ingesting many memories in
// one call with in-batch exact-text dedup, cross-store near-dedup fanned
// out under a concurrency-capped semaphore, a single embedBatch call,
// and a single UNWIND-style graph write. Grounded on the teacher's
// inference.Pool (internal/inference/pool.go) for the bounded-fan-out
// shape and on DgraphSemanticStore's inline mutation style
// (internal/memory/semantic.go) for the batched write.
package bulkingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memplane/memplane/internal/apperr"
	"github.com/memplane/memplane/internal/dedup"
	"github.com/memplane/memplane/internal/embedding"
	"github.com/memplane/memplane/internal/graphstore"
	"github.com/memplane/memplane/internal/models"
)

// Index is the subset of graphstore.RedisIndex bulk ingest needs.
type Index interface {
	IndexMemory(ctx context.Context, userID, memoryID, content string, embedding []float32, state string, live bool, createdAt time.Time) error
	SearchVector(ctx context.Context, userID string, embedding []float32, k, overFetchK int) ([]graphstore.ScoredID, error)
}

// Service runs the bulk ingest pipeline.
type Service struct {
	store       graphstore.Store
	index       Index
	embed       embedding.Gateway
	dedup       *dedup.Checker
	concurrency int
	threshold   float64
}

func New(store graphstore.Store, index Index, embed embedding.Gateway, checker *dedup.Checker, concurrency int, threshold float64) *Service {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{store: store, index: index, embed: embed, dedup: checker, concurrency: concurrency, threshold: threshold}
}

// Result summarizes one bulk ingest call.
type Result struct {
	Inserted      []string // IDs of newly inserted memories
	SkippedExactDuplicates int
	SkippedNearDuplicates  int
	Failed        int
}

// Ingest processes contents in a single batch: drops in-batch exact
// text duplicates first (free, no I/O), embeds every survivor in one
// embedBatch call, checks each against the store for near-duplicates
// concurrently (bounded by s.concurrency), then issues one graph mutation
// covering every memory that survived both dedup passes.
func (s *Service) Ingest(ctx context.Context, userID string, contents []string, appName string) (*Result, error) {
	if userID == "" {
		return nil, apperr.Validationf("Ingest", "userID must not be empty")
	}

	uniqueContents := dedupExactInBatch(contents)
	result := &Result{SkippedExactDuplicates: len(contents) - len(uniqueContents)}

	if len(uniqueContents) == 0 {
		return result, nil
	}

	vectors, err := s.embed.EmbedBatch(ctx, uniqueContents)
	if err != nil {
		return nil, apperr.Dependency("Ingest.embedBatch", err)
	}

	type survivor struct {
		content string
		vector  []float32
	}

	survivors := make([]survivor, 0, len(uniqueContents))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.concurrency)

	for i, content := range uniqueContents {
		wg.Add(1)
		sem <- struct{}{}
		go func(content string, vector []float32) {
			defer wg.Done()
			defer func() { <-sem }()

			isNear, err := s.isNearDuplicate(ctx, userID, content, vector)
			if err != nil {
				// fail open: treat as not-a-duplicate on dependency error
				isNear = false
			}

			mu.Lock()
			defer mu.Unlock()
			if isNear {
				result.SkippedNearDuplicates++
				return
			}
			survivors = append(survivors, survivor{content: content, vector: vector})
		}(content, vectors[i])
	}
	wg.Wait()

	if len(survivors) == 0 {
		return result, nil
	}

	now := time.Now().UTC()
	memories := make([]*models.Memory, 0, len(survivors))
	for _, sv := range survivors {
		memories = append(memories, &models.Memory{
			ID:               uuid.NewString(),
			UserID:           userID,
			Content:          sv.content,
			State:            models.MemoryStateActive,
			Embedding:        sv.vector,
			ValidAt:          now,
			CreatedAt:        now,
			UpdatedAt:        now,
			AppName:          appName,
			ExtractionStatus: models.ExtractionPending,
		})
	}

	if err := s.writeBatch(ctx, memories); err != nil {
		result.Failed = len(memories)
		return result, err
	}

	for _, m := range memories {
		if err := s.index.IndexMemory(ctx, userID, m.ID, m.Content, m.Embedding, string(m.State), true, m.CreatedAt); err != nil {
			result.Failed++
			continue
		}
		result.Inserted = append(result.Inserted, m.ID)
	}

	return result, nil
}

// dedupExactInBatch removes exact (post-trim, case-sensitive) repeats
// within a single batch before any I/O, per spec.md §4.8 — catching the
// cheap case first so cross-store near-dedup only has to run once per
// distinct string.
func dedupExactInBatch(contents []string) []string {
	seen := make(map[string]struct{}, len(contents))
	var unique []string
	for _, c := range contents {
		trimmed := strings.TrimSpace(c)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		unique = append(unique, trimmed)
	}
	return unique
}

func (s *Service) isNearDuplicate(ctx context.Context, userID, content string, vector []float32) (bool, error) {
	if s.dedup == nil {
		return false, nil
	}

	hits, err := s.index.SearchVector(ctx, userID, vector, 3, 12)
	if err != nil {
		return false, err
	}

	for _, h := range hits {
		if h.Similarity >= s.threshold {
			// Bulk ingest skips the LLM-verify call entirely: spec.md §4.8
			// trades verification precision for throughput at batch scale,
			// relying on the similarity threshold alone to flag
			// near-duplicates.
			return true, nil
		}
	}
	return false, nil
}

const findUserQuery = `query findUser($uid: string) {
	q(func: eq(user.userId, $uid)) {
		uid
	}
}`

func (s *Service) findUserUID(ctx context.Context, userID string) (string, error) {
	result, err := s.store.RunRead(ctx, findUserQuery, map[string]string{"$uid": userID})
	if err != nil {
		return "", err
	}
	var parsed struct {
		Q []struct {
			UID string `json:"uid"`
		} `json:"q"`
	}
	if err := json.Unmarshal(result.JSON, &parsed); err != nil {
		return "", fmt.Errorf("bulkingest: decode findUser: %w", err)
	}
	if len(parsed.Q) == 0 {
		return "", nil
	}
	return parsed.Q[0].UID, nil
}

// writeBatch issues one mutation for the whole batch, the UNWIND-style
// single-call write spec.md §4.8 and §5 require. Every memory in the
// batch belongs to the same userID (Ingest is a per-user call), so the
// batch is nested once under that single owning User node rather than
// resolved per row.
func (s *Service) writeBatch(ctx context.Context, memories []*models.Memory) error {
	if len(memories) == 0 {
		return nil
	}
	userID := memories[0].UserID

	rows := make([]map[string]interface{}, 0, len(memories))
	for _, m := range memories {
		rows = append(rows, map[string]interface{}{
			"uid":                     "_:" + m.ID,
			"dgraph.type":             "Memory",
			"memory.id":               m.ID,
			"memory.content":          m.Content,
			"memory.state":            string(m.State),
			"memory.validAt":          m.ValidAt,
			"memory.createdAt":        m.CreatedAt,
			"memory.updatedAt":        m.UpdatedAt,
			"memory.extractionStatus": string(m.ExtractionStatus),
			"memory.appName":          m.AppName,
		})
	}

	userUID, err := s.findUserUID(ctx, userID)
	if err != nil {
		return apperr.Dependency("writeBatch.findUser", err)
	}
	userRef := userUID
	if userRef == "" {
		userRef = "_:user"
	}

	setJSON, err := json.Marshal(map[string]interface{}{
		"uid":         userRef,
		"dgraph.type": "User",
		"user.userId": userID,
		"has_memory":  rows,
	})
	if err != nil {
		return fmt.Errorf("bulkingest: marshal batch: %w", err)
	}

	type jsonMutator interface {
		RunJSONMutation(ctx context.Context, setJSON []byte) (*graphstore.Result, error)
	}
	jm, ok := s.store.(jsonMutator)
	if !ok {
		return fmt.Errorf("bulkingest: store does not support JSON mutation")
	}
	_, err = jm.RunJSONMutation(ctx, setJSON)
	if err != nil {
		return apperr.Dependency("writeBatch", err)
	}
	return nil
}
