package graphstore

import (
	"context"
	"errors"

	"github.com/dgraph-io/dgo/v230"
	"github.com/dgraph-io/dgo/v230/protos/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// DgraphStore implements Store over a pooled gRPC connection to a Dgraph
// Alpha node. It generalizes the teacher's DgraphSemanticStore from an
// Entity/Relationship-only schema to the full node/edge set of spec.md §3.
type DgraphStore struct {
	client *dgo.Dgraph
	conn   *grpc.ClientConn
}

// NewDgraphStore dials the configured Dgraph Alpha endpoint and installs
// the schema. The connection is held open for the process lifetime and
// shared across all calls (no per-call dial), matching the teacher.
func NewDgraphStore(ctx context.Context, alphaURL string) (*DgraphStore, error) {
	conn, err := grpc.NewClient(alphaURL, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, &ConnectivityError{Op: "dial", Err: err}
	}

	client := dgo.NewDgraphClient(api.NewDgraphClient(conn))
	store := &DgraphStore{client: client, conn: conn}

	if err := store.InitSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return store, nil
}

// schema declares every node label and predicate from spec.md §3: uniqueness
// on User.userId, indexes on Memory.validAt/invalidAt, Entity.name/type,
// and the fulltext/vector indexes §4.1 names (memory_text, memory_vectors —
// the latter is actually served by RedisIndex; Dgraph carries the graph
// topology and scalar predicates only, see SPEC_FULL.md).
const schema = `
	type User {
		user.userId: string
	}

	type Memory {
		memory.id: string
		memory.content: string
		memory.state: string
		memory.metadata: string
		memory.validAt: datetime
		memory.invalidAt: datetime
		memory.createdAt: datetime
		memory.updatedAt: datetime
		memory.archivedAt: datetime
		memory.deletedAt: datetime
		memory.extractionStatus: string
		memory.extractionAttempts: int
		memory.extractionError: string
		memory.appName: string
	}

	type App {
		app.name: string
	}

	type Category {
		category.name: string
	}

	type Entity {
		entity.id: string
		entity.name: string
		entity.type: string
		entity.description: string
		entity.rank: int
		entity.summary: string
		entity.summaryUpdatedAt: datetime
	}

	type Community {
		community.id: string
		community.name: string
		community.summary: string
		community.memberCount: int
	}

	type MemoryHistory {
		history.id: string
		history.action: string
		history.previousValue: string
		history.newValue: string
		history.queryUsed: string
		history.createdAt: datetime
	}

	user.userId: string @index(exact) @upsert .

	memory.id: string @index(exact) @upsert .
	memory.content: string @index(fulltext) .
	memory.state: string @index(exact) .
	memory.validAt: datetime @index(hour) .
	memory.invalidAt: datetime @index(hour) .
	memory.createdAt: datetime @index(hour) .
	memory.extractionStatus: string @index(exact) .
	memory.extractionAttempts: int .
	memory.appName: string @index(exact) .

	app.name: string @index(exact) .
	category.name: string @index(exact) .

	entity.id: string @index(exact) @upsert .
	entity.name: string @index(exact, fulltext, trigram) .
	entity.type: string @index(exact) .
	entity.rank: int @index(int) .

	community.id: string @index(exact) @upsert .
	community.memberCount: int @index(int) .

	history.id: string @index(exact) @upsert .
	history.createdAt: datetime @index(hour) .

	has_memory: [uid] @reverse .
	has_entity: [uid] @reverse .
	has_app: [uid] @reverse .
	has_category: [uid] @reverse .
	has_community: [uid] @reverse .
	created_by: [uid] @reverse .
	mentions: [uid] @reverse .
	related_to: [uid] @reverse .
	supersedes: [uid] @reverse .
	accessed: [uid] @reverse .
	in_community: [uid] @reverse .
`

// InitSchema installs the predicates/indexes above. Safe to call repeatedly
// (Dgraph's Alter is idempotent for additive schema changes).
func (s *DgraphStore) InitSchema(ctx context.Context) error {
	op := &api.Operation{Schema: schema}
	if err := s.client.Alter(ctx, op); err != nil {
		return &ConnectivityError{Op: "initSchema", Err: err}
	}
	return nil
}

// RunRead executes a read-only DQL query. vars are passed through as
// Dgraph query variables ($name syntax); callers build the query text
// themselves, matching the teacher's inline-query style.
func (s *DgraphStore) RunRead(ctx context.Context, query string, vars map[string]string) (*Result, error) {
	txn := s.client.NewReadOnlyTxn()
	defer txn.Discard(ctx)

	resp, err := txn.QueryWithVars(ctx, query, vars)
	if err != nil {
		return nil, classifyErr("runRead", err)
	}

	return &Result{JSON: resp.Json}, nil
}

// RunWrite executes a single mutation, committed immediately (no
// multi-statement transaction is exposed — see Store's doc comment).
func (s *DgraphStore) RunWrite(ctx context.Context, mutation string, vars map[string]string) (*Result, error) {
	txn := s.client.NewTxn()
	defer txn.Discard(ctx)

	req := &api.Request{
		Query:     mutation,
		Vars:      vars,
		CommitNow: true,
	}
	resp, err := txn.Do(ctx, req)
	if err != nil {
		return nil, classifyErr("runWrite", err)
	}

	return &Result{JSON: resp.Json, UIDs: resp.Uids}, nil
}

// RunJSONMutation is a convenience for the common "SetJson with CommitNow"
// pattern the teacher uses throughout semantic.go.
func (s *DgraphStore) RunJSONMutation(ctx context.Context, setJSON []byte) (*Result, error) {
	txn := s.client.NewTxn()
	defer txn.Discard(ctx)

	mu := &api.Mutation{CommitNow: true, SetJson: setJSON}
	resp, err := txn.Mutate(ctx, mu)
	if err != nil {
		return nil, classifyErr("runJSONMutation", err)
	}
	return &Result{JSON: resp.Json, UIDs: resp.Uids}, nil
}

func (s *DgraphStore) Close() error {
	return s.conn.Close()
}

// classifyErr buckets a Dgraph client error into ConnectivityError or
// QueryError per §4.1; Dgraph's gRPC errors don't carry a stable
// discriminated type for this, so — like the teacher — we treat anything
// surfacing from the transport layer itself (connection refused, context
// deadline before a response) as connectivity, and anything else
// (constraint violation, malformed DQL) as a query error.
func classifyErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransportErr(err) {
		return &ConnectivityError{Op: op, Err: err}
	}
	return &QueryError{Op: op, Err: err}
}

func isTransportErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.Unauthenticated, codes.PermissionDenied, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
