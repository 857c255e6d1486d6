package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/memplane/memplane/internal/graphstore"
	"github.com/memplane/memplane/internal/llm"
	"github.com/memplane/memplane/internal/models"
)

// Worker processes one memory per ProcessOne call (a new memory, or a
// pending one the Reaper hands back), asks the LLM to pull out (entity, type, description) mentions and
// (fromEntity, relType, toEntity, description) relationships, resolves
// and links them, then marks the memory done or failed. Grounded on the
// teacher's QwenExtractor (internal/memory/extractor.go) for the
// prompt/JSON-response shape, and on inference.Pool (now llm.Pool) for
// bounding concurrent LLM calls.
type Worker struct {
	store    graphstore.Store
	pool     *llm.Pool
	resolver *Resolver
	linker   *Linker
	maxAttempts int
}

func NewWorker(store graphstore.Store, pool *llm.Pool, resolver *Resolver, linker *Linker, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Worker{store: store, pool: pool, resolver: resolver, linker: linker, maxAttempts: maxAttempts}
}

const extractionSystemPrompt = `You extract entities and relationships from a short memory of fact about a user.
Respond with strict JSON only, no markdown fences, in the shape:
{"entities": [{"name": "...", "type": "PERSON|ORGANIZATION|LOCATION|PRODUCT|CONCEPT|OTHER", "description": "..."}],
 "relationships": [{"from": "...", "type": "...", "to": "...", "description": "..."}]}`

type extractionResult struct {
	Entities []struct {
		Name        string `json:"name"`
		Type        string `json:"type"`
		Description string `json:"description"`
	} `json:"entities"`
	Relationships []struct {
		From        string `json:"from"`
		Type        string `json:"type"`
		To          string `json:"to"`
		Description string `json:"description"`
	} `json:"relationships"`
}

// ProcessOne extracts and links entities/relationships for a single
// memory and updates its extraction status. Exported so both the
// periodic pending-scanner and ad-hoc reprocessing can share it.
func (w *Worker) ProcessOne(ctx context.Context, userID, memoryID, content string) error {
	raw, err := w.pool.SubmitSync(ctx, extractionSystemPrompt, content, llm.Options{Temperature: 0, JSONMode: true})
	if err != nil {
		w.markFailed(ctx, memoryID, err)
		return err
	}

	var parsed extractionResult
	if err := json.Unmarshal([]byte(cleanJSONResponse(raw)), &parsed); err != nil {
		w.markFailed(ctx, memoryID, err)
		return fmt.Errorf("entity: parse extraction response: %w", err)
	}

	entityIDs := make(map[string]string)  // lowercase name -> app-level entity.id, for Classify
	entityUIDs := make(map[string]string) // lowercase name -> real graph uid, for mentions/Link
	for _, e := range parsed.Entities {
		resolved, uid, err := w.resolver.ResolveOrCreate(ctx, userID, e.Name, e.Type, e.Description)
		if err != nil || uid == "" {
			continue
		}
		key := strings.ToLower(e.Name)
		entityIDs[key] = resolved.ID
		entityUIDs[key] = uid
		w.mention(ctx, memoryID, uid, "mentioned", 1.0)
	}

	for _, r := range parsed.Relationships {
		fromID, ok1 := entityIDs[strings.ToLower(r.From)]
		toID, ok2 := entityIDs[strings.ToLower(r.To)]
		fromUID, ok3 := entityUIDs[strings.ToLower(r.From)]
		toUID, ok4 := entityUIDs[strings.ToLower(r.To)]
		if !ok1 || !ok2 || !ok3 || !ok4 {
			continue
		}
		class, err := w.linker.Classify(ctx, fromID, toID, r.Description)
		if err != nil || class == ClassificationSame {
			continue
		}
		_ = w.linker.Link(ctx, fromUID, r.Type, r.Description, toUID)
	}

	w.markDone(ctx, memoryID)
	return nil
}

// cleanJSONResponse strips markdown code fences an LLM sometimes wraps
// JSON in, matching the teacher's QwenExtractor.cleanJSONResponse.
func cleanJSONResponse(raw string) string {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// mention links memoryID's node to an already-resolved entity uid via a
// MENTIONS edge, carrying role/confidence/createdAt as edge facets per
// spec.md §3's Mention shape — a nested object with no "uid" would mint
// a bogus stub Entity instead of pointing at the one ResolveOrCreate
// already persisted.
func (w *Worker) mention(ctx context.Context, memoryID, entityUID, role string, confidence float64) {
	const query = `query m($mid: string) { m(func: eq(memory.id, $mid)) { uid } }`
	result, err := w.store.RunRead(ctx, query, map[string]string{"$mid": memoryID})
	if err != nil {
		return
	}
	var parsed struct {
		M []struct {
			UID string `json:"uid"`
		} `json:"m"`
	}
	if json.Unmarshal(result.JSON, &parsed) != nil || len(parsed.M) == 0 {
		return
	}

	setJSON, _ := json.Marshal(map[string]interface{}{
		"uid": parsed.M[0].UID,
		"mentions": map[string]interface{}{
			"uid":                 entityUID,
			"mentions|role":       role,
			"mentions|confidence": confidence,
			"mentions|createdAt":  time.Now().UTC(),
		},
	})

	type jsonMutator interface {
		RunJSONMutation(ctx context.Context, setJSON []byte) (*graphstore.Result, error)
	}
	if jm, ok := w.store.(jsonMutator); ok {
		_, _ = jm.RunJSONMutation(ctx, setJSON)
	}
}

func (w *Worker) markDone(ctx context.Context, memoryID string) {
	w.setExtractionStatus(ctx, memoryID, models.ExtractionDone, "", 0)
}

func (w *Worker) markFailed(ctx context.Context, memoryID string, cause error) {
	w.setExtractionStatus(ctx, memoryID, models.ExtractionFailed, cause.Error(), 1)
}

func (w *Worker) setExtractionStatus(ctx context.Context, memoryID string, status models.ExtractionStatus, errMsg string, attemptDelta int) {
	const query = `query m($mid: string) { m(func: eq(memory.id, $mid)) { uid } }`
	result, err := w.store.RunRead(ctx, query, map[string]string{"$mid": memoryID})
	if err != nil {
		return
	}
	var parsed struct {
		M []struct {
			UID string `json:"uid"`
		} `json:"m"`
	}
	if json.Unmarshal(result.JSON, &parsed) != nil || len(parsed.M) == 0 {
		return
	}

	setJSON, _ := json.Marshal(map[string]interface{}{
		"uid":                     parsed.M[0].UID,
		"memory.extractionStatus": string(status),
		"memory.extractionError":  errMsg,
		"memory.updatedAt":        time.Now().UTC(),
	})

	type jsonMutator interface {
		RunJSONMutation(ctx context.Context, setJSON []byte) (*graphstore.Result, error)
	}
	if jm, ok := w.store.(jsonMutator); ok {
		_, _ = jm.RunJSONMutation(ctx, setJSON)
	}
	_ = attemptDelta
}
