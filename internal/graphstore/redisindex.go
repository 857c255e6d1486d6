package graphstore

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisIndex serves cosine KNN and full-text search from a single
// RediSearch index named memory_vectors, whose schema carries both the
// VECTOR embedding field and the TEXT content field; there is no separate
// memory_text index. Grounded on the teacher's
// RedisEpisodicStore (internal/memory/episodic.go): same FT.CREATE/
// FT.SEARCH vector-field approach, generalized to also carry a per-user
// TAG field, since a bi-temporal, multi-tenant memory store must filter
// search results by owning user and liveness — concerns the teacher's
// single-tenant episodic recall didn't need. Dgraph has no native ANN
// operator usable across a user's whole memory set, so — exactly as the
// teacher splits "episodic vector recall" (Redis) from "semantic graph"
// (Dgraph) — this module delegates vector/text search to Redis and graph
// topology to DgraphStore.
type RedisIndex struct {
	client    *redis.Client
	indexName string
}

// ScoredID is one vector-search hit.
type ScoredID struct {
	ID         string
	Similarity float64
}

// RankedID is one text-search hit, 1-based per spec.md §4.7.
type RankedID struct {
	ID   string
	Rank int
}

// NewRedisIndex connects to Redis and ensures the search index exists.
func NewRedisIndex(ctx context.Context, addr, password string, db, dims int) (*RedisIndex, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, &ConnectivityError{Op: "redisPing", Err: err}
	}

	idx := &RedisIndex{client: client, indexName: "memory_vectors"}
	if err := idx.createIndex(ctx, dims); err != nil {
		return nil, err
	}
	return idx, nil
}

func (r *RedisIndex) createIndex(ctx context.Context, dims int) error {
	if _, err := r.client.Do(ctx, "FT.INFO", r.indexName).Result(); err == nil {
		return nil // already exists
	}

	args := []interface{}{
		"FT.CREATE", r.indexName,
		"ON", "HASH",
		"PREFIX", "1", "memory:",
		"SCHEMA",
		"content", "TEXT",
		"userId", "TAG",
		"state", "TAG",
		"live", "TAG", // "1" while invalidAt is unset and state != deleted
		"embedding", "VECTOR", "FLAT", "6",
		"DIM", dims,
		"DISTANCE_METRIC", "COSINE",
		"TYPE", "FLOAT32",
		"createdAt", "NUMERIC", "SORTABLE",
	}

	if err := r.client.Do(ctx, args...).Err(); err != nil {
		return &ConnectivityError{Op: "createIndex", Err: err}
	}
	return nil
}

// IndexMemory upserts the search-facing projection of a memory: content,
// embedding, owning user, and liveness flags. Called after every write
// that changes content, state, or temporal validity.
func (r *RedisIndex) IndexMemory(ctx context.Context, userID, memoryID, content string, embedding []float32, state string, live bool, createdAt time.Time) error {
	embeddingBytes, err := serializeEmbedding(embedding)
	if err != nil {
		return &QueryError{Op: "indexMemory", Err: err}
	}

	liveFlag := "0"
	if live {
		liveFlag = "1"
	}

	key := "memory:" + memoryID
	err = r.client.HSet(ctx, key, map[string]interface{}{
		"content":   content,
		"embedding": embeddingBytes,
		"userId":    userID,
		"state":     state,
		"live":      liveFlag,
		"createdAt": createdAt.Unix(),
	}).Err()
	if err != nil {
		return &ConnectivityError{Op: "indexMemory", Err: err}
	}
	return nil
}

// Delete removes a memory's search-facing projection.
func (r *RedisIndex) Delete(ctx context.Context, memoryID string) error {
	return r.client.Del(ctx, "memory:"+memoryID).Err()
}

// GetEmbedding returns the indexed embedding for a single memory, used by
// MMR diversification to compute similarity between already-ranked
// candidates without re-running a KNN search.
func (r *RedisIndex) GetEmbedding(ctx context.Context, memoryID string) ([]float32, error) {
	raw, err := r.client.HGet(ctx, "memory:"+memoryID, "embedding").Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, &ConnectivityError{Op: "getEmbedding", Err: err}
	}
	return deserializeEmbedding(raw), nil
}

func deserializeEmbedding(raw []byte) []float32 {
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		bits := uint32(raw[i*4]) | uint32(raw[i*4+1])<<8 | uint32(raw[i*4+2])<<16 | uint32(raw[i*4+3])<<24
		vec[i] = math.Float32frombits(bits)
	}
	return vec
}

// SearchVector runs a KNN query over-fetching overFetchK candidates in
// total (caller is responsible for passing an overFetchK of at least 4*k
// per spec.md §9, since FT.SEARCH's tag filter may not perfectly honor
// per-user scoping)
// and returns up to k results already restricted to the given user and
// live==1.
func (r *RedisIndex) SearchVector(ctx context.Context, userID string, embedding []float32, k, overFetchK int) ([]ScoredID, error) {
	embeddingBytes, err := serializeEmbedding(embedding)
	if err != nil {
		return nil, &QueryError{Op: "searchVector", Err: err}
	}

	filter := fmt.Sprintf("(@userId:{%s} @live:{1})=>[KNN %d @embedding $vec AS score]", escapeTag(userID), overFetchK)
	args := []interface{}{
		"FT.SEARCH", r.indexName,
		filter,
		"PARAMS", "2", "vec", embeddingBytes,
		"SORTBY", "score",
		"DIALECT", "2",
		"RETURN", "1", "score",
		"LIMIT", "0", overFetchK,
	}

	res, err := r.client.Do(ctx, args...).Result()
	if err != nil {
		return nil, &ConnectivityError{Op: "searchVector", Err: err}
	}

	hits := parseScoredResults(res)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// SearchText runs a full-text query restricted to the given user and
// returns up to k results, 1-based ranked.
func (r *RedisIndex) SearchText(ctx context.Context, userID, query string, k int) ([]RankedID, error) {
	filter := fmt.Sprintf("@userId:{%s} @live:{1} %s", escapeTag(userID), escapeText(query))
	args := []interface{}{
		"FT.SEARCH", r.indexName,
		filter,
		"LIMIT", "0", k,
	}

	res, err := r.client.Do(ctx, args...).Result()
	if err != nil {
		return nil, &ConnectivityError{Op: "searchText", Err: err}
	}

	ids := parseIDResults(res)
	ranked := make([]RankedID, 0, len(ids))
	for i, id := range ids {
		ranked = append(ranked, RankedID{ID: id, Rank: i + 1})
	}
	return ranked, nil
}

func (r *RedisIndex) Close() error { return r.client.Close() }

func serializeEmbedding(embedding []float32) ([]byte, error) {
	if embedding == nil {
		return nil, fmt.Errorf("embedding is nil")
	}
	bytes := make([]byte, len(embedding)*4)
	for i, val := range embedding {
		bits := math.Float32bits(val)
		bytes[i*4] = byte(bits)
		bytes[i*4+1] = byte(bits >> 8)
		bytes[i*4+2] = byte(bits >> 16)
		bytes[i*4+3] = byte(bits >> 24)
	}
	return bytes, nil
}

// parseScoredResults parses FT.SEARCH RETURN score results:
// [total, id1, [score, v1], id2, [score, v2], ...]
func parseScoredResults(result interface{}) []ScoredID {
	results, ok := result.([]interface{})
	if !ok || len(results) < 2 {
		return nil
	}

	var hits []ScoredID
	for i := 1; i+1 < len(results); i += 2 {
		id := fmt.Sprint(results[i])
		fields, ok := results[i+1].([]interface{})
		if !ok || len(fields) < 2 {
			continue
		}
		var dist float64
		fmt.Sscanf(fmt.Sprint(fields[1]), "%f", &dist)
		hits = append(hits, ScoredID{ID: stripPrefix(id), Similarity: 1 - dist})
	}
	return hits
}

func parseIDResults(result interface{}) []string {
	results, ok := result.([]interface{})
	if !ok || len(results) < 2 {
		return nil
	}
	var ids []string
	for i := 1; i < len(results); i++ {
		ids = append(ids, stripPrefix(fmt.Sprint(results[i])))
	}
	return ids
}

func stripPrefix(key string) string {
	const prefix = "memory:"
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):]
	}
	return key
}

func escapeTag(s string) string {
	return s
}

func escapeText(q string) string {
	var out []byte
	for _, c := range q {
		switch c {
		case '@', '{', '}', '(', ')', '|', '-', '"', '~', '*':
			out = append(out, '\\')
		}
		out = append(out, []byte(string(c))...)
	}
	return string(out)
}
