// Package ingestion implements spec.md §4.4: the single-memory write
// path (add/update/archive/pause/supersede/delete) with its strict
// operation ordering — embed, dedup-check, graph-write, index-write,
// history-append — and the state-transition guards that keep a memory's
// bi-temporal fields consistent. Grounded on the teacher's
// memory.MemoryService.Store (internal/memory/service.go) for the overall
// orchestration shape: a facade that calls out to the embedding
// generator, the store, and (here, unlike the teacher) the dedup checker
// and history log in a fixed sequence.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memplane/memplane/internal/apperr"
	"github.com/memplane/memplane/internal/dedup"
	"github.com/memplane/memplane/internal/embedding"
	"github.com/memplane/memplane/internal/graphstore"
	"github.com/memplane/memplane/internal/history"
	"github.com/memplane/memplane/internal/models"
)

// Index is the subset of graphstore.RedisIndex ingestion needs, kept as
// an interface so tests can stub it.
type Index interface {
	IndexMemory(ctx context.Context, userID, memoryID, content string, embedding []float32, state string, live bool, createdAt time.Time) error
	SearchVector(ctx context.Context, userID string, embedding []float32, k, overFetchK int) ([]graphstore.ScoredID, error)
	Delete(ctx context.Context, memoryID string) error
}

// Service is the ingestion write path.
type Service struct {
	store  graphstore.Store
	index  Index
	embed  embedding.Gateway
	dedup  *dedup.Checker
	hist   *history.Log
	dedupThreshold float64
	dedupEnabled   bool
	contextWindowEnabled bool
	contextWindowSize    int
}

// Config bundles the ingestion-relevant knobs from config.Config so this
// package doesn't import the top-level config package directly.
type Config struct {
	DedupEnabled         bool
	DedupThreshold       float64
	ContextWindowEnabled bool
	ContextWindowSize    int
}

func New(store graphstore.Store, index Index, embed embedding.Gateway, checker *dedup.Checker, hist *history.Log, cfg Config) *Service {
	return &Service{
		store:                store,
		index:                index,
		embed:                embed,
		dedup:                checker,
		hist:                 hist,
		dedupThreshold:       cfg.DedupThreshold,
		dedupEnabled:         cfg.DedupEnabled,
		contextWindowEnabled: cfg.ContextWindowEnabled,
		contextWindowSize:    cfg.ContextWindowSize,
	}
}

// AddMemory inserts content as a new live memory. When dedup finds a true
// duplicate it inserts nothing and returns the existing memory; when it
// finds an update it supersedes the existing memory and inserts the new
// one with a SUPERSEDES edge back to it. Recent-memory context (when enabled) is
// prepended to the text handed to the embedding and dedup stages only —
// the stored content is always exactly what the caller passed.
func (s *Service) AddMemory(ctx context.Context, userID, content, appName string, metadata map[string]interface{}) (*models.Memory, error) {
	return s.addMemory(ctx, userID, content, appName, metadata, "")
}

// addMemory is AddMemory's implementation plus an extra supersedesUID hook:
// when non-empty, the node this call creates carries a SUPERSEDES edge back
// to that uid, with an "at" facet set to the new memory's createdAt.
// SupersedeMemory passes this explicitly; a dedup VerdictUpdate verdict
// reached via the public AddMemory sets it internally below.
func (s *Service) addMemory(ctx context.Context, userID, content, appName string, metadata map[string]interface{}, supersedesUID string) (*models.Memory, error) {
	if content == "" {
		return nil, apperr.Validationf("AddMemory", "content must not be empty")
	}
	if userID == "" {
		return nil, apperr.Validationf("AddMemory", "userID must not be empty")
	}

	textForEmbedding := content
	if s.contextWindowEnabled && s.contextWindowSize > 0 {
		window, err := s.buildContextWindow(ctx, userID, s.contextWindowSize)
		if err == nil && window != "" {
			textForEmbedding = window + "\n" + content
		}
	}

	vector, err := s.embed.Embed(ctx, textForEmbedding)
	if err != nil {
		return nil, apperr.Dependency("AddMemory.embed", err)
	}

	now := time.Now().UTC()

	if s.dedupEnabled && s.dedup != nil {
		verdict, _, existing, existingUID, err := s.checkDuplicate(ctx, userID, content, vector)
		if err != nil {
			// fail open: proceed as a fresh insert, dedup unavailable is
			// never a reason to refuse a write
			_ = err
		} else {
			switch verdict {
			case dedup.VerdictDuplicate:
				return existing, nil
			case dedup.VerdictUpdate:
				if err := s.supersede(ctx, existingUID, existing, userID); err != nil {
					return nil, err
				}
				supersedesUID = existingUID
			}
		}
	}

	mem := &models.Memory{
		ID:                uuid.NewString(),
		UserID:            userID,
		Content:           content,
		State:             models.MemoryStateActive,
		Embedding:         vector,
		Metadata:          metadata,
		ValidAt:           now,
		CreatedAt:         now,
		UpdatedAt:         now,
		AppName:           appName,
		ExtractionStatus:  models.ExtractionPending,
	}

	// uid "" tells writeMemory this is a fresh node (blank-node create),
	// never an update of an existing one.
	if err := s.writeMemory(ctx, "", mem, supersedesUID); err != nil {
		return nil, err
	}

	s.appendHistory(ctx, mem.ID, userID, history.ActionCreate, "", content, "")

	return mem, nil
}

// checkDuplicate runs the vector-search + LLM-verify pipeline and, on a
// non-distinct verdict, loads the full existing memory record.
func (s *Service) checkDuplicate(ctx context.Context, userID, content string, vector []float32) (dedup.Verdict, *dedup.Candidate, *models.Memory, string, error) {
	hits, err := s.index.SearchVector(ctx, userID, vector, 5, 20)
	if err != nil {
		return dedup.VerdictDistinct, nil, nil, "", err
	}

	// hits arrive ordered by similarity, best first; candidates keep that
	// order because Check verifies against candidates[0]
	var candidates []dedup.Candidate
	seen := make(map[string]bool)
	for _, h := range hits {
		if h.Similarity < s.dedupThreshold || seen[h.ID] {
			continue
		}
		seen[h.ID] = true
		mem, _, err := s.getMemory(ctx, h.ID)
		if err != nil || mem == nil {
			continue
		}
		candidates = append(candidates, dedup.Candidate{ID: mem.ID, Content: mem.Content})
	}

	if len(candidates) == 0 {
		return dedup.VerdictDistinct, nil, nil, "", nil
	}

	verdict, match, err := s.dedup.Check(ctx, content, candidates)
	if err != nil || match == nil {
		return dedup.VerdictDistinct, nil, nil, "", err
	}

	existing, existingUID, err := s.getMemory(ctx, match.ID)
	if err != nil {
		return dedup.VerdictDistinct, nil, nil, "", err
	}
	return verdict, match, existing, existingUID, nil
}

// UpdateMemory replaces content on a live memory in place (no
// supersession edge — this is a correction of the same fact, not a new
// fact superseding an old one; see SupersedeMemory for that case).
func (s *Service) UpdateMemory(ctx context.Context, userID, memoryID, content string) (*models.Memory, error) {
	mem, uid, err := s.requireLiveOwned(ctx, userID, memoryID, "UpdateMemory")
	if err != nil {
		return nil, err
	}

	vector, err := s.embed.Embed(ctx, content)
	if err != nil {
		return nil, apperr.Dependency("UpdateMemory.embed", err)
	}

	previous := mem.Content
	mem.Content = content
	mem.Embedding = vector
	mem.UpdatedAt = time.Now().UTC()

	if err := s.writeMemory(ctx, uid, mem, ""); err != nil {
		return nil, err
	}

	s.appendHistory(ctx, mem.ID, userID, history.ActionUpdate, previous, content, "")
	return mem, nil
}

// SupersedeMemory marks memoryID invalid as of now and creates a new live
// memory carrying a SUPERSEDES edge back to it, per spec.md §3's
// bi-temporal supersession invariant.
func (s *Service) SupersedeMemory(ctx context.Context, userID, memoryID, newContent string) (*models.Memory, error) {
	old, uid, err := s.requireLiveOwned(ctx, userID, memoryID, "SupersedeMemory")
	if err != nil {
		return nil, err
	}
	if err := s.supersede(ctx, uid, old, userID); err != nil {
		return nil, err
	}

	return s.addMemory(ctx, userID, newContent, old.AppName, old.Metadata, uid)
}

func (s *Service) supersede(ctx context.Context, uid string, old *models.Memory, userID string) error {
	now := time.Now().UTC()
	old.InvalidAt = &now
	old.UpdatedAt = now

	if err := s.writeMemory(ctx, uid, old, ""); err != nil {
		return err
	}
	s.appendHistory(ctx, old.ID, userID, history.ActionSupersede, old.Content, "", "")
	return nil
}

// ArchiveMemory moves a live memory to the archived state: it drops out
// of the live listing (which only returns state active) but is not
// invalidated (invalidAt stays unset) and is not deleted, so the index
// still marks it live and search can still return it.
func (s *Service) ArchiveMemory(ctx context.Context, userID, memoryID string) error {
	mem, uid, err := s.requireLiveOwned(ctx, userID, memoryID, "ArchiveMemory")
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	mem.State = models.MemoryStateArchived
	mem.ArchivedAt = &now
	mem.UpdatedAt = now

	if err := s.writeMemory(ctx, uid, mem, ""); err != nil {
		return err
	}
	s.appendHistory(ctx, mem.ID, userID, history.ActionArchive, "", "", "")
	return nil
}

// PauseMemory moves a live memory to the paused state: unlike archive,
// pause is meant to be reversible by a caller re-activating it (spec.md
// §3's lifecycle diagram); this package does not expose an unpause
// operation since spec.md names none, only the state itself.
func (s *Service) PauseMemory(ctx context.Context, userID, memoryID string) error {
	mem, uid, err := s.requireLiveOwned(ctx, userID, memoryID, "PauseMemory")
	if err != nil {
		return err
	}

	mem.State = models.MemoryStatePaused
	mem.UpdatedAt = time.Now().UTC()

	if err := s.writeMemory(ctx, uid, mem, ""); err != nil {
		return err
	}
	s.appendHistory(ctx, mem.ID, userID, history.ActionPause, "", "", "")
	return nil
}

// DeleteMemory soft-deletes a single memory: removed from the index
// immediately, state set to deleted in the graph store for audit
// continuity (the row itself is not purged, only marked, matching
// spec.md §3's soft-delete-then-audit model).
func (s *Service) DeleteMemory(ctx context.Context, userID, memoryID string) error {
	mem, uid, err := s.getOwned(ctx, userID, memoryID, "DeleteMemory")
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	mem.State = models.MemoryStateDeleted
	mem.DeletedAt = &now
	mem.UpdatedAt = now

	if err := s.writeMemory(ctx, uid, mem, ""); err != nil {
		return err
	}
	if err := s.index.Delete(ctx, mem.ID); err != nil {
		return apperr.Dependency("DeleteMemory.index", err)
	}
	s.appendHistory(ctx, mem.ID, userID, history.ActionDelete, mem.Content, "", "")
	return nil
}

// DeleteAllMemories deletes every memory owned by userID. Per spec.md
// §5, this issues one delete per memory rather than a single bulk
// mutation, since the index-delete half has no bulk form in the Store
// interface and partial failure must leave per-memory history rows
// consistent with per-memory graph state.
func (s *Service) DeleteAllMemories(ctx context.Context, userID string) (int, error) {
	ids, err := s.listMemoryIDs(ctx, userID)
	if err != nil {
		return 0, err
	}

	deleted := 0
	var firstErr error
	for _, id := range ids {
		if err := s.DeleteMemory(ctx, userID, id); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		deleted++
	}
	return deleted, firstErr
}

// requireLiveOwned loads a memory, checks ownership and liveness, and
// returns its graph-store uid alongside the domain record so the caller
// can pass it to writeMemory and update the same node in place rather
// than minting a duplicate one.
func (s *Service) requireLiveOwned(ctx context.Context, userID, memoryID, op string) (*models.Memory, string, error) {
	mem, uid, err := s.getOwned(ctx, userID, memoryID, op)
	if err != nil {
		return nil, "", err
	}
	if !mem.IsLive() {
		return nil, "", apperr.NotFoundf(op, "memory %s is not live", memoryID)
	}
	return mem, uid, nil
}

func (s *Service) getOwned(ctx context.Context, userID, memoryID, op string) (*models.Memory, string, error) {
	mem, uid, err := s.getMemory(ctx, memoryID)
	if err != nil {
		return nil, "", apperr.Dependency(op, err)
	}
	if mem == nil || mem.UserID != userID {
		return nil, "", apperr.NotFoundf(op, "memory %s not found for user", memoryID)
	}
	return mem, uid, nil
}

// ~has_memory walks the User->Memory edge in reverse (has_memory carries
// the @reverse directive in the schema) to recover the owning user
// without a second round trip through listMemoryIDs.
const getMemoryQuery = `query getMemory($id: string) {
	q(func: eq(memory.id, $id)) {
		uid
		memory.id
		memory.content
		memory.state
		memory.metadata
		memory.validAt
		memory.invalidAt
		memory.createdAt
		memory.updatedAt
		memory.archivedAt
		memory.deletedAt
		memory.extractionStatus
		memory.extractionAttempts
		memory.extractionError
		memory.appName
		~has_memory { user.userId }
	}
}`

type memoryRow struct {
	UID                string            `json:"uid"`
	ID                 string            `json:"memory.id"`
	Content            string            `json:"memory.content"`
	State              string            `json:"memory.state"`
	Metadata           string            `json:"memory.metadata"`
	ValidAt            time.Time         `json:"memory.validAt"`
	InvalidAt          *time.Time        `json:"memory.invalidAt"`
	CreatedAt          time.Time         `json:"memory.createdAt"`
	UpdatedAt          time.Time         `json:"memory.updatedAt"`
	ArchivedAt         *time.Time        `json:"memory.archivedAt"`
	DeletedAt          *time.Time        `json:"memory.deletedAt"`
	ExtractionStatus   string            `json:"memory.extractionStatus"`
	ExtractionAttempts int               `json:"memory.extractionAttempts"`
	ExtractionError    string            `json:"memory.extractionError"`
	AppName            string            `json:"memory.appName"`
	OwnedBy            []struct {
		UserID string `json:"user.userId"`
	} `json:"~has_memory"`
}

// getMemory loads a memory by its app-level id and also returns the
// graph store's internal uid for that node, so callers that mutate the
// record can update the existing node in place instead of creating a
// second node that happens to share the same memory.id.
func (s *Service) getMemory(ctx context.Context, memoryID string) (*models.Memory, string, error) {
	result, err := s.store.RunRead(ctx, getMemoryQuery, map[string]string{"$id": memoryID})
	if err != nil {
		return nil, "", err
	}

	var parsed struct {
		Q []memoryRow `json:"q"`
	}
	if err := json.Unmarshal(result.JSON, &parsed); err != nil {
		return nil, "", fmt.Errorf("ingestion: decode memory query: %w", err)
	}
	if len(parsed.Q) == 0 {
		return nil, "", nil
	}

	row := parsed.Q[0]
	mem := &models.Memory{
		ID:                 row.ID,
		Content:            row.Content,
		State:              models.MemoryState(row.State),
		ValidAt:            row.ValidAt,
		InvalidAt:          row.InvalidAt,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
		ArchivedAt:         row.ArchivedAt,
		DeletedAt:          row.DeletedAt,
		ExtractionStatus:   models.ExtractionStatus(row.ExtractionStatus),
		ExtractionAttempts: row.ExtractionAttempts,
		ExtractionError:    row.ExtractionError,
		AppName:            row.AppName,
	}
	if len(row.OwnedBy) > 0 {
		mem.UserID = row.OwnedBy[0].UserID
	}
	return mem, row.UID, nil
}

func (s *Service) listMemoryIDs(ctx context.Context, userID string) ([]string, error) {
	const query = `query listIDs($uid: string) {
		u(func: eq(user.userId, $uid)) {
			has_memory { memory.id }
		}
	}`
	result, err := s.store.RunRead(ctx, query, map[string]string{"$uid": userID})
	if err != nil {
		return nil, apperr.Dependency("listMemoryIDs", err)
	}

	var parsed struct {
		U []struct {
			HasMemory []struct {
				ID string `json:"memory.id"`
			} `json:"has_memory"`
		} `json:"u"`
	}
	if err := json.Unmarshal(result.JSON, &parsed); err != nil {
		return nil, fmt.Errorf("ingestion: decode list query: %w", err)
	}
	if len(parsed.U) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(parsed.U[0].HasMemory))
	for _, m := range parsed.U[0].HasMemory {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// findUserQuery looks up a User node's graph-store uid by its app-level
// userId, so writeMemory can attach a brand-new memory to an existing
// User instead of minting a duplicate one.
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
		return "", fmt.Errorf("ingestion: decode findUser: %w", err)
	}
	if len(parsed.Q) == 0 {
		return "", nil
	}
	return parsed.Q[0].UID, nil
}

// writeMemory upserts mem's scalar fields into the graph store and its
// search projection into the index, in that order — the graph row is
// authoritative, the index is a derived, rebuildable projection, so it
// is always written second. uid is the node's existing graph-store uid
// (from a prior getMemory call) when updating a record in place; an
// empty uid mints a fresh blank node, used only for brand-new memories —
// in which case the mutation is nested under the owning User node (found
// by mem.UserID, or minted alongside it) so has_memory is populated at
// creation time instead of left for a separate write. supersedesUID, when
// non-empty, adds a SUPERSEDES edge from the new node back to that uid
// with an "at" facet, per spec.md §4.4 — only meaningful on a create
// (uid == ""); an in-place update never supersedes anything.
func (s *Service) writeMemory(ctx context.Context, uid string, mem *models.Memory, supersedesUID string) error {
	metadataJSON, err := json.Marshal(mem.Metadata)
	if err != nil {
		return fmt.Errorf("ingestion: marshal metadata: %w", err)
	}

	memoryFields := map[string]interface{}{
		"dgraph.type":               "Memory",
		"memory.id":                 mem.ID,
		"memory.content":            mem.Content,
		"memory.state":              string(mem.State),
		"memory.metadata":           string(metadataJSON),
		"memory.validAt":            mem.ValidAt,
		"memory.invalidAt":          mem.InvalidAt,
		"memory.createdAt":          mem.CreatedAt,
		"memory.updatedAt":          mem.UpdatedAt,
		"memory.archivedAt":         mem.ArchivedAt,
		"memory.deletedAt":          mem.DeletedAt,
		"memory.extractionStatus":   string(mem.ExtractionStatus),
		"memory.extractionAttempts": mem.ExtractionAttempts,
		"memory.extractionError":    mem.ExtractionError,
		"memory.appName":            mem.AppName,
	}

	var setJSON []byte
	if uid == "" {
		userUID, ferr := s.findUserUID(ctx, mem.UserID)
		if ferr != nil {
			return apperr.Dependency("writeMemory.findUser", ferr)
		}
		userRef := userUID
		if userRef == "" {
			userRef = "_:user"
		}
		memoryFields["uid"] = "_:memory"
		if supersedesUID != "" {
			memoryFields["supersedes"] = map[string]interface{}{"uid": supersedesUID, "supersedes|at": mem.CreatedAt}
		}
		setJSON, err = json.Marshal(map[string]interface{}{
			"uid":         userRef,
			"dgraph.type": "User",
			"user.userId": mem.UserID,
			"has_memory":  memoryFields,
		})
	} else {
		memoryFields["uid"] = uid
		setJSON, err = json.Marshal(memoryFields)
	}
	if err != nil {
		return fmt.Errorf("ingestion: marshal memory: %w", err)
	}

	type jsonMutator interface {
		RunJSONMutation(ctx context.Context, setJSON []byte) (*graphstore.Result, error)
	}
	if jm, ok := s.store.(jsonMutator); ok {
		if _, err := jm.RunJSONMutation(ctx, setJSON); err != nil {
			return apperr.Dependency("writeMemory", err)
		}
	}

	if err := s.index.IndexMemory(ctx, mem.UserID, mem.ID, mem.Content, mem.Embedding, string(mem.State), mem.IsLive(), mem.CreatedAt); err != nil {
		return apperr.Dependency("writeMemory.index", err)
	}

	return nil
}

func (s *Service) appendHistory(ctx context.Context, memoryID, userID string, action history.Action, previous, newValue, query string) {
	if s.hist == nil {
		return
	}
	_ = s.hist.Append(ctx, history.Entry{
		ID:            uuid.NewString(),
		MemoryID:      memoryID,
		UserID:        userID,
		Action:        action,
		PreviousValue: previous,
		NewValue:      newValue,
		QueryUsed:     query,
		CreatedAt:     time.Now().UTC(),
	})
}
