package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// graphWalk seeds from the given entity IDs and returns the memory IDs
// that mention either a seed entity or one of its one-hop neighbors,
// ranked by how many seed/neighbor entities each memory mentions.
// Grounded on the teacher's DgraphSemanticStore.Traverse
// (internal/memory/semantic.go), generalized from "traverse and print"
// to "traverse and rank the memories reachable from the seed set" per
// spec.md §4.7's graph-traversal retrieval arm.
func (e *Engine) graphWalk(ctx context.Context, seedEntityIDs []string, limit int) ([]string, error) {
	const query = `query walk($seeds: string) {
		seeds as var(func: eq(entity.id, $seeds))
		var(func: uid(seeds)) {
			related_to {
				n as uid
			}
		}
		memories(func: uid(seeds, n)) {
			~mentions @filter(eq(memory.state, "active")) {
				memory.id
			}
		}
	}`

	var hits []string
	seen := make(map[string]int)

	for _, seed := range seedEntityIDs {
		result, err := e.store.RunRead(ctx, query, map[string]string{"$seeds": seed})
		if err != nil {
			return nil, fmt.Errorf("retrieval: graph walk: %w", err)
		}

		var parsed struct {
			Memories []struct {
				Mentions []struct {
					ID string `json:"memory.id"`
				} `json:"~mentions"`
			} `json:"memories"`
		}
		if err := json.Unmarshal(result.JSON, &parsed); err != nil {
			continue
		}

		for _, m := range parsed.Memories {
			for _, mention := range m.Mentions {
				seen[mention.ID]++
			}
		}
	}

	type scored struct {
		id    string
		count int
	}
	var ranked []scored
	for id, count := range seen {
		ranked = append(ranked, scored{id: id, count: count})
	}
	// map iteration order is non-deterministic, so break ties by id
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].id < ranked[j].id
	})

	for _, r := range ranked {
		hits = append(hits, r.id)
		if len(hits) >= limit {
			break
		}
	}
	return hits, nil
}
