// Package engine wires every subsystem package into the single facade
// spec.md §6 describes as the API surface: one method per route, no HTTP
// framework in scope (SPEC_FULL.md leaves the transport layer as a
// Non-goal). Grounded on the teacher's top-level QuantumFlow struct
// (internal/memory/service.go's companion cmd/quantumflow/main.go
// construction) for the wiring shape: build every dependency once at
// startup, hand narrowed interfaces to each subsystem, and expose a flat
// method set a CLI or HTTP handler can call directly.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/memplane/memplane/internal/bulkingest"
	"github.com/memplane/memplane/internal/cluster"
	"github.com/memplane/memplane/internal/config"
	"github.com/memplane/memplane/internal/dedup"
	"github.com/memplane/memplane/internal/embedding"
	"github.com/memplane/memplane/internal/entity"
	"github.com/memplane/memplane/internal/graphstore"
	"github.com/memplane/memplane/internal/history"
	"github.com/memplane/memplane/internal/ingestion"
	"github.com/memplane/memplane/internal/llm"
	"github.com/memplane/memplane/internal/models"
	"github.com/memplane/memplane/internal/obslog"
	"github.com/memplane/memplane/internal/ratelimit"
	"github.com/memplane/memplane/internal/retrieval"
)

// Index is the union of every subsystem's narrowed index interface;
// *graphstore.RedisIndex satisfies it, and tests can substitute a fake.
type Index interface {
	IndexMemory(ctx context.Context, userID, memoryID, content string, embedding []float32, state string, live bool, createdAt time.Time) error
	SearchVector(ctx context.Context, userID string, embedding []float32, k, overFetchK int) ([]graphstore.ScoredID, error)
	SearchText(ctx context.Context, userID, query string, k int) ([]graphstore.RankedID, error)
	GetEmbedding(ctx context.Context, memoryID string) ([]float32, error)
	Delete(ctx context.Context, memoryID string) error
}

// Engine bundles every wired subsystem behind the method set callers use.
type Engine struct {
	cfg *config.Config
	log *obslog.Logger

	store graphstore.Store
	index Index
	embed embedding.Gateway
	llm   *llm.Pool
	hist  *history.Log
	rate  *ratelimit.Limiter

	ingest    *ingestion.Service
	bulk      *bulkingest.Service
	retrieve  *retrieval.Engine
	resolver  *entity.Resolver
	linker    *entity.Linker
	worker    *entity.Worker
	reaper    *entity.Reaper
	detector  *cluster.Detector
}

// Dependencies holds every already-constructed subsystem. It lets
// main's build function assemble I/O-bearing clients (Dgraph dial, Redis, Badger, sqlite)
// itself and hand them in, keeping this package free of connection
// details — mirroring how the teacher's main.go builds its stores before
// constructing MemoryService.
type Dependencies struct {
	Config   *config.Config
	Logger   *obslog.Logger
	Store    graphstore.Store
	Index    Index
	Embed    embedding.Gateway
	LLMPool  *llm.Pool
	History  *history.Log
	RateLimit *ratelimit.Limiter
}

// New assembles every subsystem package from shared dependencies.
func New(deps Dependencies) *Engine {
	checker, err := dedup.NewChecker(deps.LLMPool)
	if err != nil {
		// NewChecker only fails on cache construction; when it does, dedup
		// runs in degraded mode (always distinct) rather than blocking
		// startup, consistent with §9's fail-open posture.
		checker = nil
		if deps.Logger != nil {
			deps.Logger.Errorf("dedup checker unavailable, ingestion will skip near-dedup: %v", err)
		}
	}

	threshold := deps.Config.ThresholdFor(deps.Config.EmbeddingProvider)

	ingestSvc := ingestion.New(deps.Store, deps.Index, deps.Embed, checker, deps.History, ingestion.Config{
		DedupEnabled:         deps.Config.DedupEnabled,
		DedupThreshold:       threshold,
		ContextWindowEnabled: deps.Config.ContextWindowEnabled,
		ContextWindowSize:    deps.Config.ContextWindowSize,
	})

	bulkSvc := bulkingest.New(deps.Store, deps.Index, deps.Embed, checker, deps.Config.BulkConcurrency(), threshold)

	retrieveEngine := retrieval.NewEngine(deps.Store, deps.Index, deps.Embed)

	resolver := entity.NewResolver(deps.Store)
	linker := entity.NewLinker(deps.Store)
	worker := entity.NewWorker(deps.Store, deps.LLMPool, resolver, linker, deps.Config.ExtractionMaxAttempts)
	reaper := entity.NewReaper(deps.Store, worker, deps.Config.ExtractionMaxAttempts, deps.Logger)

	detector := cluster.NewDetector(deps.Store, deps.LLMPool)

	return &Engine{
		cfg:      deps.Config,
		log:      deps.Logger,
		store:    deps.Store,
		index:    deps.Index,
		embed:    deps.Embed,
		llm:      deps.LLMPool,
		hist:     deps.History,
		rate:     deps.RateLimit,
		ingest:   ingestSvc,
		bulk:     bulkSvc,
		retrieve: retrieveEngine,
		resolver: resolver,
		linker:   linker,
		worker:   worker,
		reaper:   reaper,
		detector: detector,
	}
}

// StartBackgroundWork launches the extraction reaper in its own goroutine
// on its configured interval and returns immediately; callers (typically
// main) cancel ctx on shutdown.
func (e *Engine) StartBackgroundWork(ctx context.Context) {
	go e.reaper.Run(ctx, e.cfg.ExtractionReaperEvery)
}

// AddMemory is the facade for spec.md §6's POST /memories.
func (e *Engine) AddMemory(ctx context.Context, userID, content, appName string, metadata map[string]interface{}) (*models.Memory, error) {
	mem, err := e.ingest.AddMemory(ctx, userID, content, appName, metadata)
	if err != nil {
		return nil, err
	}
	go e.extractEntitiesAsync(mem.UserID, mem.ID, mem.Content)
	return mem, nil
}

// extractEntitiesAsync runs the entity-extraction worker off the request
// path, matching spec.md §4.6's "extraction never blocks the write"
// requirement — a fresh context.Background is used since the request's
// ctx may already be canceled by the time this runs.
func (e *Engine) extractEntitiesAsync(userID, memoryID, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.worker.ProcessOne(ctx, userID, memoryID, content); err != nil && e.log != nil {
		e.log.Errorf("entity extraction failed for memory %s: %v", memoryID, err)
	}
}

// UpdateMemory is the facade for spec.md §6's PUT /memories/{id}.
func (e *Engine) UpdateMemory(ctx context.Context, userID, memoryID, content string) (*models.Memory, error) {
	return e.ingest.UpdateMemory(ctx, userID, memoryID, content)
}

// SupersedeMemory is the facade for spec.md §6's POST /memories/{id}/supersede.
func (e *Engine) SupersedeMemory(ctx context.Context, userID, memoryID, newContent string) (*models.Memory, error) {
	return e.ingest.SupersedeMemory(ctx, userID, memoryID, newContent)
}

// ArchiveMemory is the facade for spec.md §6's POST /memories/{id}/archive.
func (e *Engine) ArchiveMemory(ctx context.Context, userID, memoryID string) error {
	return e.ingest.ArchiveMemory(ctx, userID, memoryID)
}

// PauseMemory is the facade for spec.md §6's POST /memories/{id}/pause.
func (e *Engine) PauseMemory(ctx context.Context, userID, memoryID string) error {
	return e.ingest.PauseMemory(ctx, userID, memoryID)
}

// DeleteMemory is the facade for spec.md §6's DELETE /memories/{id}.
func (e *Engine) DeleteMemory(ctx context.Context, userID, memoryID string) error {
	return e.ingest.DeleteMemory(ctx, userID, memoryID)
}

// DeleteAllMemories is the facade for spec.md §6's DELETE /memories.
func (e *Engine) DeleteAllMemories(ctx context.Context, userID string) (int, error) {
	return e.ingest.DeleteAllMemories(ctx, userID)
}

// BulkAddMemories is the facade for spec.md §6's POST /memories/bulk.
func (e *Engine) BulkAddMemories(ctx context.Context, userID string, contents []string, appName string) (*bulkingest.Result, error) {
	return e.bulk.Ingest(ctx, userID, contents, appName)
}

// Search is the facade for spec.md §6's GET /memories/search.
func (e *Engine) Search(ctx context.Context, userID, query string, opts retrieval.Options) ([]retrieval.Hit, error) {
	return e.retrieve.Search(ctx, userID, query, opts)
}

// ListMemories is the facade for spec.md §6's GET /memories.
func (e *Engine) ListMemories(ctx context.Context, userID string, opts retrieval.ListOptions) ([]*models.Memory, error) {
	return e.retrieve.ListMemories(ctx, userID, opts)
}

// History is the facade for spec.md §6's GET /memories/{id}/history.
func (e *Engine) History(ctx context.Context, f history.Filter) ([]history.Entry, error) {
	if e.hist == nil {
		return nil, fmt.Errorf("engine: history log not configured")
	}
	return e.hist.Query(ctx, f)
}

// DetectCommunities is the facade for spec.md §6's POST /communities/detect.
func (e *Engine) DetectCommunities(ctx context.Context, userID string) ([]*models.Community, map[string][]string, error) {
	return e.detector.DetectCommunities(ctx, userID)
}

// SummarizeCommunity is the facade for spec.md §6's GET /communities/{id}/summary.
func (e *Engine) SummarizeCommunity(ctx context.Context, memberNames []string) string {
	return e.detector.Summarize(ctx, memberNames)
}

// ResolveEntity exposes entity resolve-or-create directly for callers
// (e.g. the CLI) that want to link a memory to a named entity without
// going through full LLM extraction.
func (e *Engine) ResolveEntity(ctx context.Context, userID, name, entityType, description string) (*models.Entity, error) {
	entity, _, err := e.resolver.ResolveOrCreate(ctx, userID, name, entityType, description)
	return entity, err
}

// Close releases every owned I/O resource, in reverse dependency order.
func (e *Engine) Close() error {
	if e.llm != nil {
		e.llm.Shutdown()
	}
	if e.hist != nil {
		if err := e.hist.Close(); err != nil {
			return err
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			return err
		}
	}
	return nil
}
