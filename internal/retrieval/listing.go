package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/memplane/memplane/internal/models"
)

// ListMode selects which temporal slice of a user's memories to return.
type ListMode int

const (
	// ListLive returns memories with no invalidAt and state == active.
	ListLive ListMode = iota
	// ListAll returns every memory regardless of state or validity.
	ListAll
	// ListAsOf returns memories live at a specific past instant: created
	// at or before AsOf, and (invalidAt is unset OR invalidAt > AsOf).
	ListAsOf
)

// ListOptions controls a ListMemories call.
type ListOptions struct {
	Mode  ListMode
	AsOf  time.Time
	Limit int
}

// ListMemories returns a user's memories filtered per spec.md §4.7's
// temporal listing modes, newest first. Grounded on the teacher's
// DgraphSemanticStore.QueryEntities (internal/memory/semantic.go) for
// the func/filter DQL query-building style.
func (e *Engine) ListMemories(ctx context.Context, userID string, opts ListOptions) ([]*models.Memory, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	var filter string
	vars := map[string]string{"$uid": userID, "$limit": fmt.Sprintf("%d", opts.Limit)}

	switch opts.Mode {
	case ListAll:
		filter = ""
	case ListAsOf:
		vars["$asof"] = opts.AsOf.UTC().Format(time.RFC3339)
		filter = `@filter(le(memory.createdAt, $asof) AND (NOT has(memory.invalidAt) OR gt(memory.invalidAt, $asof)))`
	default: // ListLive
		filter = `@filter(eq(memory.state, "active") AND NOT has(memory.invalidAt))`
	}

	query := fmt.Sprintf(`query list($uid: string, $limit: int%s) {
		u(func: eq(user.userId, $uid)) {
			has_memory(orderdesc: memory.createdAt, first: val($limit)) %s {
				memory.id
				memory.content
				memory.state
				memory.validAt
				memory.invalidAt
				memory.createdAt
				memory.updatedAt
			}
		}
	}`, extraVarDecl(opts.Mode), filter)

	result, err := e.store.RunRead(ctx, query, vars)
	if err != nil {
		return nil, fmt.Errorf("retrieval: list memories: %w", err)
	}

	var parsed struct {
		U []struct {
			HasMemory []struct {
				ID        string     `json:"memory.id"`
				Content   string     `json:"memory.content"`
				State     string     `json:"memory.state"`
				ValidAt   time.Time  `json:"memory.validAt"`
				InvalidAt *time.Time `json:"memory.invalidAt"`
				CreatedAt time.Time  `json:"memory.createdAt"`
				UpdatedAt time.Time  `json:"memory.updatedAt"`
			} `json:"has_memory"`
		} `json:"u"`
	}
	if err := json.Unmarshal(result.JSON, &parsed); err != nil {
		return nil, fmt.Errorf("retrieval: decode list query: %w", err)
	}
	if len(parsed.U) == 0 {
		return nil, nil
	}

	memories := make([]*models.Memory, 0, len(parsed.U[0].HasMemory))
	for _, row := range parsed.U[0].HasMemory {
		memories = append(memories, &models.Memory{
			ID:        row.ID,
			UserID:    userID,
			Content:   row.Content,
			State:     models.MemoryState(row.State),
			ValidAt:   row.ValidAt,
			InvalidAt: row.InvalidAt,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		})
	}
	return memories, nil
}

func extraVarDecl(mode ListMode) string {
	if mode == ListAsOf {
		return ", $asof: string"
	}
	return ""
}
