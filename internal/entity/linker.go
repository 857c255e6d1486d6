package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memplane/memplane/internal/graphstore"
)

// Classification is the outcome of comparing a new relationship
// statement against an existing RELATED_TO edge between the same two
// entities, per spec.md §4.6.
type Classification int

const (
	ClassificationSame Classification = iota
	ClassificationUpdate
	ClassificationContradiction
)

// Linker creates and maintains RELATED_TO edges between entities, and
// classifies a newly observed relationship against any existing one
// between the same pair.
type Linker struct {
	store graphstore.Store
}

func NewLinker(store graphstore.Store) *Linker {
	return &Linker{store: store}
}

const findRelationshipQuery = `query find($from: string, $to: string) {
	q(func: eq(entity.id, $from)) {
		related_to @filter(uid_in(entity.id, $to)) {
			uid
			relationship.type
			relationship.description
		}
	}
}`

// Classify compares newDescription against the existing RELATED_TO edge
// (if any) from fromEntityID to toEntityID. Identical wording is SAME
// (a reworded subset is not detected and counts as UPDATE); new
// information that doesn't conflict is UPDATE;
// directly conflicting predicates (e.g. "works at X" vs "no longer works
// at X") is CONTRADICTION.
func (l *Linker) Classify(ctx context.Context, fromEntityID, toEntityID, newDescription string) (Classification, error) {
	existing, err := l.existingDescription(ctx, fromEntityID, toEntityID)
	if err != nil {
		return ClassificationSame, err
	}
	if existing == "" {
		return ClassificationUpdate, nil // no prior edge: treat as a fresh relationship to link
	}
	if existing == newDescription {
		return ClassificationSame, nil
	}

	if containsNegationMarker(newDescription) != containsNegationMarker(existing) {
		return ClassificationContradiction, nil
	}

	return ClassificationUpdate, nil
}

func containsNegationMarker(text string) bool {
	for _, m := range []string{"no longer", "not anymore", "used to", "former", "ex-", "doesn't", "don't"} {
		if contains(text, m) {
			return true
		}
	}
	return false
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func (l *Linker) existingDescription(ctx context.Context, fromID, toID string) (string, error) {
	result, err := l.store.RunRead(ctx, findRelationshipQuery, map[string]string{"$from": fromID, "$to": toID})
	if err != nil {
		return "", err
	}

	var parsed struct {
		Q []struct {
			RelatedTo []struct {
				Description string `json:"relationship.description"`
			} `json:"related_to"`
		} `json:"q"`
	}
	if err := json.Unmarshal(result.JSON, &parsed); err != nil {
		return "", fmt.Errorf("entity: decode relationship query: %w", err)
	}
	if len(parsed.Q) == 0 || len(parsed.Q[0].RelatedTo) == 0 {
		return "", nil
	}
	return parsed.Q[0].RelatedTo[0].Description, nil
}

// Link upserts a RELATED_TO edge between two entities, overwriting the
// prior description on UPDATE classifications.
func (l *Linker) Link(ctx context.Context, fromEntityUID, relType, description string, toEntityUID string) error {
	setJSON, err := json.Marshal(map[string]interface{}{
		"uid": fromEntityUID,
		"related_to": map[string]interface{}{
			"uid":                     toEntityUID,
			"relationship.id":         uuid.NewString(),
			"relationship.type":       relType,
			"relationship.description": description,
			"relationship.createdAt":  time.Now().UTC(),
		},
	})
	if err != nil {
		return fmt.Errorf("entity: marshal link: %w", err)
	}

	type jsonMutator interface {
		RunJSONMutation(ctx context.Context, setJSON []byte) (*graphstore.Result, error)
	}
	jm, ok := l.store.(jsonMutator)
	if !ok {
		return fmt.Errorf("entity: store does not support JSON mutation")
	}
	_, err = jm.RunJSONMutation(ctx, setJSON)
	return err
}
