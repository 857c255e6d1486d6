package embedding

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDeterministicGateway_StableAcrossCalls(t *testing.T) {
	g := NewDeterministicGateway(32)
	ctx := context.Background()

	v1, err := g.Embed(ctx, "the quick brown fox")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v2, err := g.Embed(ctx, "the quick brown fox")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(v1) != 32 {
		t.Errorf("expected dims 32, got %d", len(v1))
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Errorf("expected deterministic output at index %d, got %v vs %v", i, v1[i], v2[i])
		}
	}
}

func TestDeterministicGateway_DiffersForDifferentText(t *testing.T) {
	g := NewDeterministicGateway(16)
	ctx := context.Background()

	v1, _ := g.Embed(ctx, "alpha")
	v2, _ := g.Embed(ctx, "beta")

	same := true
	for i := range v1 {
		if v1[i] != v2[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("expected different text to produce different vectors")
	}
}

func TestDeterministicGateway_EmbedBatch(t *testing.T) {
	g := NewDeterministicGateway(8)
	ctx := context.Background()

	out, err := g.EmbedBatch(ctx, []string{"one", "two", "three"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(out))
	}
	for _, v := range out {
		if len(v) != 8 {
			t.Errorf("expected dims 8, got %d", len(v))
		}
	}
}

func TestCheckDims_Mismatch(t *testing.T) {
	err := checkDims(384, make([]float32, 128))
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestCachedGateway_HitsCacheOnSecondCall(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "embedcache")
	defer os.RemoveAll(dir)

	inner := &countingGateway{Gateway: NewDeterministicGateway(16)}
	cached, err := NewCachedGateway(inner, dir)
	if err != nil {
		t.Fatalf("unexpected error opening cache: %v", err)
	}
	defer cached.Close()

	ctx := context.Background()
	if _, err := cached.Embed(ctx, "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := cached.Embed(ctx, "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inner.calls != 1 {
		t.Errorf("expected inner gateway to be called once (cache hit on second call), got %d calls", inner.calls)
	}
}

type countingGateway struct {
	Gateway
	calls int
}

func (c *countingGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.Gateway.Embed(ctx, text)
}
