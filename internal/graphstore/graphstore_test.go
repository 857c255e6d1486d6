package graphstore

import (
	"context"
	"testing"
	"time"
)

// TestNewDgraphStore_RequiresLiveAlpha mirrors the teacher's client_test.go
// style: skip under -short since no Dgraph Alpha is reachable in CI, but
// otherwise exercise the real dial/schema path.
func TestNewDgraphStore_RequiresLiveAlpha(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping live Dgraph test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	store, err := NewDgraphStore(ctx, "localhost:9080")
	if err != nil {
		t.Logf("no Dgraph Alpha reachable, skipping: %v", err)
		t.SkipNow()
	}
	defer store.Close()

	if _, err := store.RunRead(ctx, `{ q(func: has(user.userId)) { uid } }`, nil); err != nil {
		t.Errorf("RunRead failed: %v", err)
	}
}

func TestClassifyErr_Nil(t *testing.T) {
	if err := classifyErr("op", nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestIsTransportErr_ContextDeadline(t *testing.T) {
	if !isTransportErr(context.DeadlineExceeded) {
		t.Error("expected context.DeadlineExceeded to classify as transport error")
	}
	if !isTransportErr(context.Canceled) {
		t.Error("expected context.Canceled to classify as transport error")
	}
}

func TestConnectivityError_Unwrap(t *testing.T) {
	inner := context.DeadlineExceeded
	err := &ConnectivityError{Op: "dial", Err: inner}
	if err.Unwrap() != inner {
		t.Error("Unwrap should return the wrapped error")
	}
	if err.Error() == "" {
		t.Error("Error() should not be empty")
	}
}

func TestNewRedisIndex_RequiresLiveRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping live Redis test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	idx, err := NewRedisIndex(ctx, "localhost:6379", "", 0, 384)
	if err != nil {
		t.Logf("no Redis reachable, skipping: %v", err)
		t.SkipNow()
	}
	defer idx.Close()

	embedding := make([]float32, 384)
	if err := idx.IndexMemory(ctx, "user-1", "mem-1", "hello world", embedding, "active", true, time.Now()); err != nil {
		t.Errorf("IndexMemory failed: %v", err)
	}

	hits, err := idx.SearchVector(ctx, "user-1", embedding, 5, 20)
	if err != nil {
		t.Errorf("SearchVector failed: %v", err)
	}
	if len(hits) == 0 {
		t.Error("expected at least one vector hit")
	}

	if err := idx.Delete(ctx, "mem-1"); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
}

func TestSerializeEmbedding_RoundTripLength(t *testing.T) {
	embedding := []float32{1.0, -2.5, 0.0, 3.14}
	bytes, err := serializeEmbedding(embedding)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bytes) != len(embedding)*4 {
		t.Errorf("expected %d bytes, got %d", len(embedding)*4, len(bytes))
	}
}

func TestSerializeEmbedding_NilRejected(t *testing.T) {
	if _, err := serializeEmbedding(nil); err == nil {
		t.Error("expected error for nil embedding")
	}
}

func TestStripPrefix(t *testing.T) {
	if got := stripPrefix("memory:abc-123"); got != "abc-123" {
		t.Errorf("expected abc-123, got %s", got)
	}
	if got := stripPrefix("abc-123"); got != "abc-123" {
		t.Errorf("expected passthrough abc-123, got %s", got)
	}
}

func TestEscapeText_EscapesSpecialChars(t *testing.T) {
	got := escapeText("foo@bar")
	if got != `foo\@bar` {
		t.Errorf("expected foo\\@bar, got %s", got)
	}
}
