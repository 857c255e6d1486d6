// Package entity implements spec.md §4.6: resolving mentioned names to
// entity nodes (creating them on first mention), merging type information
// when a more specific type is observed, and tracking rank (live
// mentions + live related edges). Grounded on the teacher's
// DgraphSemanticStore.ResolveEntity/StoreEntity
// (internal/memory/semantic.go), generalized from a single Entity type
// field to the full type-priority merge rule spec.md §3 requires.
package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memplane/memplane/internal/graphstore"
	"github.com/memplane/memplane/internal/models"
)

// Resolver resolves a mentioned name + type to an entity node, creating
// one if none exists for (userID, lowercased name).
type Resolver struct {
	store graphstore.Store
}

func NewResolver(store graphstore.Store) *Resolver {
	return &Resolver{store: store}
}

const findEntityQuery = `query find($uid: string, $name: string) {
	q(func: eq(entity.name, $name)) @filter(uid_in(has_entity, uid($u))) {
		uid
		entity.id
		entity.name
		entity.type
		entity.description
		entity.rank
		entity.summary
		entity.summaryUpdatedAt
	}
	u as var(func: eq(user.userId, $uid))
}`

// ResolveOrCreate finds the entity matching (userID, lowercase(name)) or
// creates a new one. When it already exists and incomingType is strictly
// more specific per models.MoreSpecificType, the entity's type is
// upgraded (PERSON < ORGANIZATION < LOCATION < PRODUCT < CONCEPT < OTHER,
// per spec.md §3's merge rule) and the description appended if new. The
// returned uid is the entity's real graph-store uid, for callers (e.g.
// the extraction worker linking RELATED_TO/MENTIONS edges) that need a
// node reference rather than the app-level entity.id.
func (r *Resolver) ResolveOrCreate(ctx context.Context, userID, name, incomingType, description string) (*models.Entity, string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return nil, "", fmt.Errorf("entity: name must not be empty")
	}

	existing, uid, err := r.find(ctx, userID, normalized)
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()

	if existing != nil {
		merged := applyPersonAliasRule(existing, name, incomingType)
		if newType := models.MoreSpecificType(merged.Type, incomingType); newType != merged.Type {
			merged.Type = newType
		}
		if description != "" && !strings.Contains(merged.Description, description) {
			merged.Description = strings.TrimSpace(merged.Description + " " + description)
		}
		merged.UpdatedAt = now
		if err := r.write(ctx, uid, userID, merged); err != nil {
			return nil, "", err
		}
		return merged, uid, nil
	}

	fresh := &models.Entity{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        name,
		Type:        incomingType,
		Description: description,
		Rank:        0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	newUID, err := r.write(ctx, "", userID, fresh)
	if err != nil {
		return nil, "", err
	}
	return fresh, newUID, nil
}

// applyPersonAliasRule implements spec.md §3's PERSON name-alias/prefix
// rule: when the existing entity or the incoming mention is a PERSON and
// the existing name is a case-insensitive prefix of a longer incoming
// name (e.g. "Sam" then "Samantha Lee"), the longer name replaces the
// stored one; a shorter incoming name leaves it unchanged.
// ResolveOrCreate only calls it for an entity found by exact
// lowercased-name match, so there it never renames anything: no prefix
// lookup is made, and "Sam" and "Samantha Lee" resolve to two entities.
func applyPersonAliasRule(existing *models.Entity, incomingName, incomingType string) *models.Entity {
	if existing.Type != "PERSON" && incomingType != "PERSON" {
		return existing
	}
	a := strings.ToLower(existing.Name)
	b := strings.ToLower(incomingName)
	if strings.HasPrefix(b, a) && len(b) > len(a) {
		existing.Name = incomingName
	}
	return existing
}

// find returns the matching entity along with its graph-store uid (empty
// when nothing matched), so callers can update the existing node in
// place rather than minting a duplicate.
func (r *Resolver) find(ctx context.Context, userID, normalizedName string) (*models.Entity, string, error) {
	result, err := r.store.RunRead(ctx, findEntityQuery, map[string]string{"$uid": userID, "$name": normalizedName})
	if err != nil {
		return nil, "", err
	}

	var parsed struct {
		Q []struct {
			UID         string `json:"uid"`
			ID          string `json:"entity.id"`
			Name        string `json:"entity.name"`
			Type        string `json:"entity.type"`
			Description string `json:"entity.description"`
			Rank        int    `json:"entity.rank"`
			Summary     string `json:"entity.summary"`
		} `json:"q"`
	}
	if err := json.Unmarshal(result.JSON, &parsed); err != nil {
		return nil, "", fmt.Errorf("entity: decode find query: %w", err)
	}
	if len(parsed.Q) == 0 {
		return nil, "", nil
	}

	row := parsed.Q[0]
	return &models.Entity{
		ID:          row.ID,
		UserID:      userID,
		Name:        row.Name,
		Type:        row.Type,
		Description: row.Description,
		Rank:        row.Rank,
		Summary:     row.Summary,
	}, row.UID, nil
}

const findUserQuery = `query findUser($uid: string) {
	q(func: eq(user.userId, $uid)) {
		uid
	}
}`

func (r *Resolver) findUserUID(ctx context.Context, userID string) (string, error) {
	result, err := r.store.RunRead(ctx, findUserQuery, map[string]string{"$uid": userID})
	if err != nil {
		return "", err
	}
	var parsed struct {
		Q []struct {
			UID string `json:"uid"`
		} `json:"q"`
	}
	if err := json.Unmarshal(result.JSON, &parsed); err != nil {
		return "", fmt.Errorf("entity: decode findUser: %w", err)
	}
	if len(parsed.Q) == 0 {
		return "", nil
	}
	return parsed.Q[0].UID, nil
}

// write upserts e in place when uid is non-empty (an existing entity
// being merged); an empty uid mints a fresh blank node nested under the
// owning User's has_entity edge, so the new entity is reachable by a
// later find() call instead of left dangling off the graph. It returns
// the entity's real graph-store uid: the uid parameter echoed back on
// update, or the uid Dgraph assigns to the "entity" blank node on create.
func (r *Resolver) write(ctx context.Context, uid, userID string, e *models.Entity) (string, error) {
	entityFields := map[string]interface{}{
		"dgraph.type":             "Entity",
		"entity.id":               e.ID,
		"entity.name":             e.Name,
		"entity.type":             e.Type,
		"entity.description":      e.Description,
		"entity.rank":             e.Rank,
		"entity.summary":          e.Summary,
		"entity.summaryUpdatedAt": e.SummaryUpdatedAt,
	}

	var setJSON []byte
	var err error
	if uid == "" {
		userUID, ferr := r.findUserUID(ctx, userID)
		if ferr != nil {
			return "", fmt.Errorf("entity: find owning user: %w", ferr)
		}
		userRef := userUID
		if userRef == "" {
			userRef = "_:user"
		}
		entityFields["uid"] = "_:entity"
		setJSON, err = json.Marshal(map[string]interface{}{
			"uid":         userRef,
			"dgraph.type": "User",
			"user.userId": userID,
			"has_entity":  entityFields,
		})
	} else {
		entityFields["uid"] = uid
		setJSON, err = json.Marshal(entityFields)
	}
	if err != nil {
		return "", fmt.Errorf("entity: marshal: %w", err)
	}

	type jsonMutator interface {
		RunJSONMutation(ctx context.Context, setJSON []byte) (*graphstore.Result, error)
	}
	jm, ok := r.store.(jsonMutator)
	if !ok {
		return "", fmt.Errorf("entity: store does not support JSON mutation")
	}
	result, err := jm.RunJSONMutation(ctx, setJSON)
	if err != nil {
		return "", err
	}
	if uid != "" {
		return uid, nil
	}
	if result != nil {
		return result.UIDs["entity"], nil
	}
	return "", nil
}

// Rank recomputes an entity's rank as its count of live mentions plus
// live related-entity edges, per spec.md §3.
func (r *Resolver) Rank(ctx context.Context, entityID string) (int, error) {
	const query = `query rank($id: string) {
		q(func: eq(entity.id, $id)) {
			mentionCount: count(~mentions) @filter(eq(memory.state, "active"))
			relatedCount: count(related_to)
		}
	}`
	result, err := r.store.RunRead(ctx, query, map[string]string{"$id": entityID})
	if err != nil {
		return 0, err
	}

	var parsed struct {
		Q []struct {
			MentionCount int `json:"mentionCount"`
			RelatedCount int `json:"relatedCount"`
		} `json:"q"`
	}
	if err := json.Unmarshal(result.JSON, &parsed); err != nil {
		return 0, fmt.Errorf("entity: decode rank query: %w", err)
	}
	if len(parsed.Q) == 0 {
		return 0, nil
	}
	return parsed.Q[0].MentionCount + parsed.Q[0].RelatedCount, nil
}
