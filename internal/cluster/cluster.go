// Package cluster implements spec.md §4.9: grouping a user's entity
// graph into communities via a simplified Louvain-style modularity
// optimization, then summarizing each community with an LLM call that
// fails open to a templated summary. No teacher file implements graph
// clustering (nothing in the pack does), so this is built from the
// general-purpose Louvain algorithm description, expressed in the
// teacher's style: plain structs and slices, no graph-algorithm library,
// justified below since no example repo in the pack imports one either.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/memplane/memplane/internal/graphstore"
	"github.com/memplane/memplane/internal/llm"
	"github.com/memplane/memplane/internal/models"
)

// edge is one weighted undirected connection between two entities,
// derived from RELATED_TO edges (weight 1 per edge, multiple edges
// between the same pair accumulate).
type edge struct {
	a, b   string
	weight float64
}

// Detector runs community detection over a user's entity graph.
type Detector struct {
	store graphstore.Store
	pool  *llm.Pool
}

func NewDetector(store graphstore.Store, pool *llm.Pool) *Detector {
	return &Detector{store: store, pool: pool}
}

const entityGraphQuery = `query graph($uid: string) {
	u(func: eq(user.userId, $uid)) {
		has_entity {
			entity.id
			related_to {
				entity.id
			}
		}
	}
}`

// DetectCommunities loads the user's entity graph, partitions it via
// Louvain-style local moving (each node in turn moves to the neighboring
// community with the largest modularity gain, repeated until a pass moves
// no node), and returns the resulting communities with their
// member entity IDs.
func (d *Detector) DetectCommunities(ctx context.Context, userID string) ([]*models.Community, map[string][]string, error) {
	edges, nodes, err := d.loadGraph(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("cluster: load graph: %w", err)
	}
	if len(nodes) == 0 {
		return nil, nil, nil
	}

	assignment := louvain(nodes, edges)

	membersByCommunity := make(map[string][]string)
	for node, community := range assignment {
		membersByCommunity[community] = append(membersByCommunity[community], node)
	}

	var communities []*models.Community
	byRepresentative := make(map[string][]string)
	var representatives []string
	for commID, members := range membersByCommunity {
		sort.Strings(members)
		byRepresentative[commID] = members
		representatives = append(representatives, commID)
	}
	sort.Strings(representatives)

	byID := make(map[string][]string, len(representatives))
	for _, rep := range representatives {
		members := byRepresentative[rep]
		id := newCommunityID()
		byID[id] = members
		communities = append(communities, &models.Community{
			ID:          id,
			UserID:      userID,
			MemberCount: len(members),
		})
	}

	return communities, byID, nil
}

func (d *Detector) loadGraph(ctx context.Context, userID string) ([]edge, []string, error) {
	result, err := d.store.RunRead(ctx, entityGraphQuery, map[string]string{"$uid": userID})
	if err != nil {
		return nil, nil, err
	}

	var parsed struct {
		U []struct {
			HasEntity []struct {
				ID       string `json:"entity.id"`
				Related  []struct {
					ID string `json:"entity.id"`
				} `json:"related_to"`
			} `json:"has_entity"`
		} `json:"u"`
	}
	if err := json.Unmarshal(result.JSON, &parsed); err != nil {
		return nil, nil, fmt.Errorf("decode entity graph: %w", err)
	}
	if len(parsed.U) == 0 {
		return nil, nil, nil
	}

	var nodes []string
	var edges []edge
	for _, e := range parsed.U[0].HasEntity {
		nodes = append(nodes, e.ID)
		for _, r := range e.Related {
			edges = append(edges, edge{a: e.ID, b: r.ID, weight: 1})
		}
	}
	return edges, nodes, nil
}

const summaryPrompt = `Summarize what connects this group of entities in one or two sentences: %s`

// Summarize asks the LLM for a one/two-sentence description of a
// community's theme; on failure it falls back to a templated summary
// naming the member count, per spec.md §9's fail-open requirement — a
// community summary is advisory text, never blocking retrieval or
// clustering itself.
func (d *Detector) Summarize(ctx context.Context, memberNames []string) string {
	fallback := fmt.Sprintf("A group of %d related entities.", len(memberNames))
	if d.pool == nil || len(memberNames) == 0 {
		return fallback
	}

	summary, err := llm.FailOpen(ctx, fallback, func(ctx context.Context) (string, error) {
		return d.pool.SubmitSync(ctx, "You write concise, factual summaries.", fmt.Sprintf(summaryPrompt, joinNames(memberNames)), llm.Options{Temperature: 0.3})
	})
	if err != nil {
		return fallback
	}
	return summary
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

// newCommunityID mints a fresh community ID; DetectCommunities calls it
// once per community on every run.
func newCommunityID() string { return uuid.NewString() }
