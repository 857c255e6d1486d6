package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/memplane/memplane/internal/graphstore"
	"github.com/memplane/memplane/internal/models"
	"github.com/memplane/memplane/internal/obslog"
)

// Reaper periodically sweeps memories stuck in the pending extraction
// state (a worker crashed mid-processing, or was never scheduled) and
// either re-submits them or marks them failed once their attempt count
// reaches maxAttempts. Grounded on the teacher's MemoryService.runPeriodicCompaction
// (internal/memory/service.go): same ticker-driven background goroutine
// shape, repurposed from compaction to the extraction state machine
// spec.md §4.6 names (pending -> done | failed).
type Reaper struct {
	store       graphstore.Store
	worker      *Worker
	maxAttempts int
	log         *obslog.Logger
}

func NewReaper(store graphstore.Store, worker *Worker, maxAttempts int, log *obslog.Logger) *Reaper {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Reaper{store: store, worker: worker, maxAttempts: maxAttempts, log: log}
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.SweepOnce(ctx); err != nil {
				r.log.Warnf("sweep failed: %v", err)
			}
		}
	}
}

const pendingQuery = `query pending {
	q(func: eq(memory.extractionStatus, "pending")) {
		memory.id
		memory.content
		memory.extractionAttempts
		~has_memory { user.userId }
	}
}`

// SweepOnce finds every pending memory and either re-attempts extraction
// or marks it failed once its attempt count has reached maxAttempts.
func (r *Reaper) SweepOnce(ctx context.Context) error {
	result, err := r.store.RunRead(ctx, pendingQuery, nil)
	if err != nil {
		return fmt.Errorf("entity: reaper read pending: %w", err)
	}

	var parsed struct {
		Q []struct {
			ID        string `json:"memory.id"`
			Content   string `json:"memory.content"`
			Attempts  int    `json:"memory.extractionAttempts"`
			CreatedBy []struct {
				UserID string `json:"user.userId"`
			} `json:"~has_memory"`
		} `json:"q"`
	}
	if err := json.Unmarshal(result.JSON, &parsed); err != nil {
		return fmt.Errorf("entity: reaper decode pending: %w", err)
	}

	for _, row := range parsed.Q {
		userID := ""
		if len(row.CreatedBy) > 0 {
			userID = row.CreatedBy[0].UserID
		}

		if row.Attempts >= r.maxAttempts {
			r.worker.setExtractionStatus(ctx, row.ID, models.ExtractionFailed, "max extraction attempts exceeded", 0)
			continue
		}

		r.bumpAttempts(ctx, row.ID, row.Attempts+1)
		if err := r.worker.ProcessOne(ctx, userID, row.ID, row.Content); err != nil {
			r.log.Warnf("extraction retry failed for memory %s: %v", row.ID, err)
		}
	}

	return nil
}

func (r *Reaper) bumpAttempts(ctx context.Context, memoryID string, attempts int) {
	setJSON, _ := json.Marshal(map[string]interface{}{
		"memory.id":                 memoryID,
		"memory.extractionAttempts": attempts,
	})

	type jsonMutator interface {
		RunJSONMutation(ctx context.Context, setJSON []byte) (*graphstore.Result, error)
	}
	if jm, ok := r.store.(jsonMutator); ok {
		_, _ = jm.RunJSONMutation(ctx, setJSON)
	}
}
