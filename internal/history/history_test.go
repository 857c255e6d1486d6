package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open history log: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLog_AppendAndQuery(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	now := time.Now().UTC()
	err := l.Append(ctx, Entry{
		ID:       "h1",
		MemoryID: "m1",
		UserID:   "u1",
		Action:   ActionCreate,
		NewValue: "hello world",
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := l.Query(ctx, Filter{MemoryID: "m1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Action != ActionCreate {
		t.Errorf("expected create action, got %s", entries[0].Action)
	}
}

func TestLog_QueryFiltersByAction(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	now := time.Now().UTC()

	l.Append(ctx, Entry{ID: "h1", MemoryID: "m1", UserID: "u1", Action: ActionCreate, CreatedAt: now})
	l.Append(ctx, Entry{ID: "h2", MemoryID: "m1", UserID: "u1", Action: ActionAccess, CreatedAt: now})

	entries, err := l.Query(ctx, Filter{MemoryID: "m1", Action: ActionAccess})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != ActionAccess {
		t.Errorf("expected exactly one access entry, got %+v", entries)
	}
}

func TestLog_GetStats(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	now := time.Now().UTC()

	l.Append(ctx, Entry{ID: "h1", MemoryID: "m1", UserID: "u1", Action: ActionCreate, CreatedAt: now})
	l.Append(ctx, Entry{ID: "h2", MemoryID: "m1", UserID: "u1", Action: ActionCreate, CreatedAt: now})
	l.Append(ctx, Entry{ID: "h3", MemoryID: "m1", UserID: "u1", Action: ActionDelete, CreatedAt: now})

	stats, err := l.GetStats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalEntries != 3 {
		t.Errorf("expected 3 total entries, got %d", stats.TotalEntries)
	}
	if stats.ByAction[ActionCreate] != 2 {
		t.Errorf("expected 2 create entries, got %d", stats.ByAction[ActionCreate])
	}
}
