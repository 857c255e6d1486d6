// Package llm is the chat-completion capability spec.md §4.3 names: fact
// extraction, entity/relationship extraction, dedup verification, and
// community summarization all go through a single Gateway. Grounded on
// the teacher's inference.Client (internal/inference/client.go), an
// Ollama-backed generator with streaming and non-streaming call shapes.
package llm

import "context"

// Options controls a single completion call. Temperature defaults to 0
// for the structured-extraction call sites (spec.md §4.4, §4.6) that
// parse JSON out of the response and need determinism; callers that want
// creative summarization (§4.9) set it explicitly.
type Options struct {
	Temperature float64
	MaxTokens   int
	JSONMode    bool // request a JSON-constrained response where the provider supports it
}

// Gateway is a single request/response chat completion, deliberately not
// streaming — every call site in this module parses a complete response
// (JSON extraction, verdicts, summaries) rather than displaying partial
// tokens, unlike the teacher's CLI use case.
type Gateway interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error)
	Health(ctx context.Context) error
}

// FailOpen runs fn and returns its result; on error it logs nothing
// itself (callers own logging) and returns fallback together with the
// error, so the caller can use the fallback value and still log or
// inspect what went wrong.
func FailOpen[T any](ctx context.Context, fallback T, fn func(context.Context) (T, error)) (T, error) {
	result, err := fn(ctx)
	if err != nil {
		return fallback, err
	}
	return result, nil
}
