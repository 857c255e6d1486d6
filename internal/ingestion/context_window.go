package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const recentMemoriesQuery = `query recent($uid: string, $n: int) {
	u(func: eq(user.userId, $uid)) {
		has_memory(orderdesc: memory.createdAt, first: val($n)) @filter(eq(memory.state, "active") AND NOT has(memory.invalidAt)) {
			memory.content
		}
	}
}`

// buildContextWindow fetches the n most recent live memories for userID
// and joins their content into a single prefix string, oldest first, so
// the embedding (and the dedup vector search that reuses it) sees
// short-term conversational context the same way a human reviewer would;
// the dedup LLM verification still receives the bare content. Grounded on spec.md §9's
// context-window feature; no teacher file does this (the teacher embeds
// each item in isolation), so this is new code following the teacher's
// query-building style in semantic.go.
func (s *Service) buildContextWindow(ctx context.Context, userID string, n int) (string, error) {
	result, err := s.store.RunRead(ctx, recentMemoriesQuery, map[string]string{
		"$uid": userID,
		"$n":   fmt.Sprintf("%d", n),
	})
	if err != nil {
		return "", err
	}

	var parsed struct {
		U []struct {
			HasMemory []struct {
				Content string `json:"memory.content"`
			} `json:"has_memory"`
		} `json:"u"`
	}
	if err := json.Unmarshal(result.JSON, &parsed); err != nil {
		return "", fmt.Errorf("ingestion: decode context window query: %w", err)
	}
	if len(parsed.U) == 0 {
		return "", nil
	}

	items := parsed.U[0].HasMemory
	lines := make([]string, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		lines = append(lines, items[i].Content)
	}
	return strings.Join(lines, "\n"), nil
}
