// Package graphstore is the thin capability surface the core consumes from
// the graph database, per spec.md §4.1. It is grounded on the teacher's
// DgraphSemanticStore (internal/memory/semantic.go in the original
// suryanshp1-QuantumFlow tree): a single long-lived *dgo.Dgraph client over
// a pooled gRPC connection, read/write calls with no cross-call
// transaction, and a DQL (Dgraph Query Language) schema installed once at
// startup.
package graphstore

import (
	"context"
	"fmt"
)

// Result is the decoded JSON payload of a single read or write call.
type Result struct {
	JSON []byte
	UIDs map[string]string // blank-node name -> assigned uid, set on writes
}

// Store is the capability surface §4.1 names: independent read/write calls
// plus schema initialization. Implementations never expose a
// multi-statement transaction — the core only ever issues a single
// UNWIND-equivalent batch when atomicity across rows is required (bulk
// ingest), and otherwise splits multi-step operations into independently
// retryable calls per spec.md §5.
type Store interface {
	RunRead(ctx context.Context, query string, vars map[string]string) (*Result, error)
	RunWrite(ctx context.Context, mutation string, vars map[string]string) (*Result, error)
	InitSchema(ctx context.Context) error
	Close() error
}

// ConnectivityError means the adapter could not reach or authenticate to
// the store at all (dial failure, auth rejection). Distinct from
// QueryError per §4.1's contract so callers can distinguish "store is
// down" (surfaced as a dependency-unavailable error, §7) from "this query
// was malformed" (an internal bug, §7).
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("graphstore: connectivity error during %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// QueryError means the store rejected a well-formed connection's query or
// mutation (syntax error, constraint violation, schema mismatch).
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("graphstore: query error during %s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
