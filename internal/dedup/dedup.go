// Package dedup implements spec.md §4.5: before a new memory is
// committed, search for vector-similar existing memories, ask the LLM to
// verify whether any is a true duplicate (accounting for negation) or an
// update of it. A duplicate is skipped (the existing memory is kept and
// nothing new is inserted); an update supersedes it. Grounded on
// the teacher's compactor.go (MemoryCompactor's stubbed Deduplicate) for
// the overall shape, generalized into a fully implemented pipeline, and
// on inference.Pool/embedding.Gateway for the two calls it fans out to.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	ristretto "github.com/dgraph-io/ristretto/v2"

	"github.com/memplane/memplane/internal/llm"
)

// Candidate is one existing memory considered for duplication against a
// new one.
type Candidate struct {
	ID      string
	Content string
}

// Verdict is the outcome of comparing a new memory's content against one
// candidate.
type Verdict int

const (
	// VerdictDistinct means the candidate and the new content describe
	// different facts; both remain live.
	VerdictDistinct Verdict = iota
	// VerdictDuplicate means the new content restates the candidate with
	// no new information; the candidate should be kept, new content
	// discarded (or superseded by itself with no content change).
	VerdictDuplicate
	// VerdictUpdate means the new content supersedes the candidate's
	// stale value with newer or corrected information.
	VerdictUpdate
)

// Checker runs the LLM-verify half of the pipeline; the caller (ingestion)
// runs the vector-candidate search via embedding.Gateway and
// graphstore.RedisIndex, filters to candidates at or above the configured
// similarity threshold, and passes the survivors in here. Check fails
// open per spec.md §9: if the LLM is unavailable, it returns
// VerdictDistinct (treat as new, never silently drop a write) along with
// the error so the caller can log it.
type Checker struct {
	pool      *llm.Pool
	cache     *ristretto.Cache[string, Verdict]
	negations *NegationDetector
}

func NewChecker(pool *llm.Pool) (*Checker, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, Verdict]{
		NumCounters: 1_000_000,
		MaxCost:     100_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("dedup: create verdict cache: %w", err)
	}

	return &Checker{
		pool:      pool,
		cache:     cache,
		negations: NewNegationDetector(),
	}, nil
}

// Check compares newContent against candidates (already filtered to
// those at or above the vector-similarity threshold by the caller) and
// returns the verdict against the single best match, or VerdictDistinct
// if candidates is empty. The pair (newContent, candidate.Content) is
// cached by an order-independent hash so re-checking the same pair in
// either direction never re-invokes the LLM.
//
// The negation gate only runs after the LLM returns DUPLICATE: a one-sided
// negation there means the two statements actually disagree (e.g. "I drink
// coffee" vs "I do not drink coffee"), so the verdict is downgraded to
// VerdictDistinct and both memories stay live, per spec.md §4.5 Stage 2b.
// It does not short-circuit the LLM call — UPDATE/DISTINCT verdicts are
// unaffected by negation.
func (c *Checker) Check(ctx context.Context, newContent string, candidates []Candidate) (Verdict, *Candidate, error) {
	if len(candidates) == 0 {
		return VerdictDistinct, nil, nil
	}

	best := candidates[0]

	key := pairKey(newContent, best.Content)
	if cached, ok := c.cache.Get(key); ok {
		return cached, &best, nil
	}

	verdict, err := c.verifyWithLLM(ctx, newContent, best.Content)
	if err != nil {
		// fail open: treat as distinct, never silently drop a write
		return VerdictDistinct, nil, err
	}

	if verdict == VerdictDuplicate && c.negations.Contradicts(newContent, best.Content) {
		verdict = VerdictDistinct
	}

	c.cache.SetWithTTL(key, verdict, 1, 0)
	c.cache.Wait()
	return verdict, &best, nil
}

const verifyPrompt = `Compare the EXISTING memory against the NEW memory about the same user.
Respond with exactly one word: SAME if the NEW memory restates the EXISTING one with no new
information, UPDATE if the NEW memory corrects, contradicts, or supersedes the EXISTING one with
newer information, or DISTINCT if they describe unrelated facts.

EXISTING: %s
NEW: %s`

func (c *Checker) verifyWithLLM(ctx context.Context, newContent, existingContent string) (Verdict, error) {
	prompt := fmt.Sprintf(verifyPrompt, existingContent, newContent)
	resp, err := c.pool.SubmitSync(ctx, "You are a precise fact-comparison assistant.", prompt, llm.Options{Temperature: 0})
	if err != nil {
		return VerdictDistinct, err
	}

	switch strings.ToUpper(strings.TrimSpace(resp)) {
	case "SAME":
		return VerdictDuplicate, nil
	case "UPDATE":
		return VerdictUpdate, nil
	default:
		return VerdictDistinct, nil
	}
}

// pairKey hashes the unordered pair {a, b} so verifying (x, y) and
// (y, x) hit the same cache entry.
func pairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	sum := sha256.Sum256([]byte(pair[0] + "\x00" + pair[1]))
	return hex.EncodeToString(sum[:])
}

func (c *Checker) Close() { c.cache.Close() }
