// Package models defines the data types shared across the memory engine.
package models

import "time"

// MemoryState is the lifecycle state of a Memory node.
type MemoryState string

const (
	MemoryStateActive   MemoryState = "active"
	MemoryStatePaused   MemoryState = "paused"
	MemoryStateArchived MemoryState = "archived"
	MemoryStateDeleted  MemoryState = "deleted"
)

// ExtractionStatus tracks the asynchronous entity-extraction state machine.
type ExtractionStatus string

const (
	ExtractionAbsent  ExtractionStatus = ""
	ExtractionPending ExtractionStatus = "pending"
	ExtractionDone    ExtractionStatus = "done"
	ExtractionFailed  ExtractionStatus = "failed"
)

// Memory is the unit of knowledge: a single self-contained natural-language fact.
type Memory struct {
	ID        string
	UserID    string
	Content   string
	State     MemoryState
	Embedding []float32
	Metadata  map[string]interface{}

	ValidAt   time.Time
	InvalidAt *time.Time // nil == live

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ArchivedAt *time.Time
	DeletedAt  *time.Time

	ExtractionStatus    ExtractionStatus
	ExtractionAttempts  int
	ExtractionError     string

	AppName    string
	Categories []string
}

// IsLive reports whether the memory is currently valid (not superseded, not deleted).
func (m *Memory) IsLive() bool {
	return m.InvalidAt == nil && m.State != MemoryStateDeleted
}

// User is the owner of all other per-tenant entities. Unique on UserID.
type User struct {
	UserID    string
	CreatedAt time.Time
}

// App is a provenance/source label, display-only.
type App struct {
	Name      string
	UserID    string
	CreatedAt time.Time
}

// Category is a classification tag attached to a Memory.
type Category struct {
	Name string
}

// EntityTypePriority ranks entity types from most to least specific.
// Index position is the rank: lower index wins a merge.
var EntityTypePriority = []string{
	"PERSON", "ORGANIZATION", "LOCATION", "PRODUCT", "CONCEPT", "OTHER",
}

// entityTypeRank returns the priority rank of a type, or -1 for an unknown
// (but still valid, open-vocabulary) type, which is treated as most specific.
func entityTypeRank(t string) int {
	for i, p := range EntityTypePriority {
		if p == t {
			return i
		}
	}
	return -1
}

// MoreSpecificType returns the type that should win a merge between two
// candidate types, per the fixed priority table in §4.6.
func MoreSpecificType(existing, incoming string) string {
	if entityTypeRank(incoming) < entityTypeRank(existing) {
		return incoming
	}
	return existing
}

// Entity is a named thing referenced by one or more memories.
type Entity struct {
	ID                   string
	UserID               string
	Name                 string
	Type                 string
	Description          string
	DescriptionEmbedding []float32
	Rank                 int
	Summary              string
	SummaryUpdatedAt     *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// RelationshipType is a free-form UPPER_SNAKE_CASE vocabulary entry.
type RelationshipType string

// Relationship is a RELATED_TO edge between two entities.
type Relationship struct {
	ID             string
	FromEntityID   string
	ToEntityID     string
	Type           RelationshipType
	Description    string
	ValidAt        time.Time
	InvalidAt      *time.Time
	ConfirmedCount int
}

// IsLive reports whether the relationship edge currently holds.
func (r *Relationship) IsLive() bool {
	return r.InvalidAt == nil
}

// Community is a detected group of entities (a graph community / cluster).
type Community struct {
	ID          string
	UserID      string
	Name        string
	Summary     string
	MemberCount int
	CreatedAt   time.Time
}

// HistoryAction enumerates the mutation kinds recorded in MemoryHistory.
type HistoryAction string

const (
	HistoryActionCreate    HistoryAction = "create"
	HistoryActionUpdate    HistoryAction = "update"
	HistoryActionSupersede HistoryAction = "supersede"
	HistoryActionArchive   HistoryAction = "archive"
	HistoryActionPause     HistoryAction = "pause"
	HistoryActionDelete    HistoryAction = "delete"
	HistoryActionAccess    HistoryAction = "access"
)

// MemoryHistory is an audit record for a single mutation or access of a Memory.
type MemoryHistory struct {
	ID            string
	MemoryID      string
	UserID        string
	Action        HistoryAction
	PreviousValue string
	NewValue      string
	QueryUsed     string
	AppName       string
	CreatedAt     time.Time
}

// MentionRole describes how a Memory refers to an Entity in a MENTIONS edge.
type MentionRole string

// Mention is a Memory->Entity MENTIONS edge.
type Mention struct {
	MemoryID   string
	EntityID   string
	Role       MentionRole
	Confidence float64
	CreatedAt  time.Time
}
