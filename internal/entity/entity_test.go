package entity

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/memplane/memplane/internal/graphstore"
	"github.com/memplane/memplane/internal/models"
)

// fakeStore is a minimal in-memory graphstore.Store stand-in, same
// pattern as internal/ingestion's test fake.
type fakeStore struct {
	entities map[string]*models.Entity
	byUser   map[string][]string // userID -> entity IDs
}

func newFakeStore() *fakeStore {
	return &fakeStore{entities: make(map[string]*models.Entity), byUser: make(map[string][]string)}
}

func (f *fakeStore) RunRead(ctx context.Context, query string, vars map[string]string) (*graphstore.Result, error) {
	if query == findEntityQuery {
		name := vars["$name"]
		uid := vars["$uid"]
		for _, id := range f.byUser[uid] {
			e := f.entities[id]
			if e != nil && equalFold(e.Name, name) {
				row := map[string]interface{}{
					"uid":                "0x" + e.ID,
					"entity.id":          e.ID,
					"entity.name":        e.Name,
					"entity.type":        e.Type,
					"entity.description": e.Description,
					"entity.rank":        e.Rank,
					"entity.summary":     e.Summary,
				}
				data, _ := json.Marshal(map[string]interface{}{"q": []interface{}{row}})
				return &graphstore.Result{JSON: data}, nil
			}
		}
		data, _ := json.Marshal(map[string]interface{}{"q": []interface{}{}})
		return &graphstore.Result{JSON: data}, nil
	}
	data, _ := json.Marshal(map[string]interface{}{"q": []interface{}{}})
	return &graphstore.Result{JSON: data}, nil
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func (f *fakeStore) RunWrite(ctx context.Context, mutation string, vars map[string]string) (*graphstore.Result, error) {
	return &graphstore.Result{}, nil
}

type entityFields struct {
	ID          string `json:"entity.id"`
	Name        string `json:"entity.name"`
	Type        string `json:"entity.type"`
	Description string `json:"entity.description"`
	Rank        int    `json:"entity.rank"`
}

// RunJSONMutation decodes either a bare entity envelope (an in-place
// merge of an already-known entity) or a User-nested envelope carrying
// user.userId and a has_entity child (a brand-new entity), matching the
// two shapes Resolver.write produces.
func (f *fakeStore) RunJSONMutation(ctx context.Context, setJSON []byte) (*graphstore.Result, error) {
	var nested struct {
		UserID    string        `json:"user.userId"`
		HasEntity *entityFields `json:"has_entity"`
	}
	if err := json.Unmarshal(setJSON, &nested); err != nil {
		return nil, err
	}

	var decoded entityFields
	userID := nested.UserID
	if nested.HasEntity != nil {
		decoded = *nested.HasEntity
	} else {
		if err := json.Unmarshal(setJSON, &decoded); err != nil {
			return nil, err
		}
		if userID == "" {
			userID = "user-1"
		}
	}
	if decoded.ID == "" {
		return &graphstore.Result{}, nil
	}

	_, existed := f.entities[decoded.ID]
	f.entities[decoded.ID] = &models.Entity{
		ID:          decoded.ID,
		Name:        decoded.Name,
		Type:        decoded.Type,
		Description: decoded.Description,
		Rank:        decoded.Rank,
	}
	if !existed {
		f.byUser[userID] = append(f.byUser[userID], decoded.ID)
	}
	return &graphstore.Result{UIDs: map[string]string{"entity": "0x" + decoded.ID}}, nil
}

func (f *fakeStore) InitSchema(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                         { return nil }

func TestResolver_CreatesNewEntity(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	e, _, err := r.ResolveOrCreate(context.Background(), "user-1", "Acme Corp", "ORGANIZATION", "a tech company")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Type != "ORGANIZATION" {
		t.Errorf("expected ORGANIZATION type, got %s", e.Type)
	}
}

func TestResolver_ReusesExistingEntity(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	first, _, _ := r.ResolveOrCreate(context.Background(), "user-1", "Acme Corp", "ORGANIZATION", "")
	second, _, err := r.ResolveOrCreate(context.Background(), "user-1", "acme corp", "ORGANIZATION", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected same entity to be reused across case-insensitive name match")
	}
}

func TestResolver_UpgradesTypeOnMoreSpecific(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	first, _, _ := r.ResolveOrCreate(context.Background(), "user-1", "Acme", "OTHER", "")
	second, _, err := r.ResolveOrCreate(context.Background(), "user-1", "Acme", "ORGANIZATION", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("expected same entity")
	}
	if second.Type != "ORGANIZATION" {
		t.Errorf("expected type upgraded to ORGANIZATION, got %s", second.Type)
	}
}

func TestApplyPersonAliasRule_PrefersLongerName(t *testing.T) {
	existing := &models.Entity{Name: "Sam", Type: "PERSON"}
	result := applyPersonAliasRule(existing, "Samantha Lee", "PERSON")
	if result.Name != "Samantha Lee" {
		t.Errorf("expected canonical name to become the longer alias, got %s", result.Name)
	}
}

func TestApplyPersonAliasRule_IgnoresNonPrefixNames(t *testing.T) {
	existing := &models.Entity{Name: "Sam", Type: "PERSON"}
	result := applyPersonAliasRule(existing, "Alexandra", "PERSON")
	if result.Name != "Sam" {
		t.Errorf("expected name unchanged for non-prefix alias, got %s", result.Name)
	}
}

func TestLinker_ClassifyNoExistingEdgeIsUpdate(t *testing.T) {
	store := newFakeStore()
	l := NewLinker(store)

	class, err := l.Classify(context.Background(), "e1", "e2", "works at Acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if class != ClassificationUpdate {
		t.Errorf("expected update classification for new edge, got %v", class)
	}
}

func TestContainsNegationMarker(t *testing.T) {
	if !containsNegationMarker("no longer works at Acme") {
		t.Error("expected negation marker to be detected")
	}
	if containsNegationMarker("works at Acme") {
		t.Error("expected no negation marker")
	}
}
