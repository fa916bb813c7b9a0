package kvstore

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// go-redis/v9 ships no typed RediSearch client, so the vector index commands
// are issued through the generic Do() escape hatch the library documents for
// modules it doesn't wrap (FT.CREATE, FT.SEARCH, FT.DROPINDEX).

// VectorIndexSpec describes the HNSW+COSINE index backing C2's similarity
// search, created once at startup if it does not already exist.
type VectorIndexSpec struct {
	IndexName string
	Prefix    string // key prefix this index covers, e.g. "memory:"
	VectorDim int
}

// EnsureVectorIndex creates the index if missing. FT.CREATE on an index that
// already exists returns "Index already exists", which is treated as
// success so startup is idempotent.
func (s *Store) EnsureVectorIndex(ctx context.Context, spec VectorIndexSpec) error {
	args := []interface{}{
		"FT.CREATE", spec.IndexName,
		"ON", "HASH",
		"PREFIX", "1", spec.Prefix,
		"SCHEMA",
		"text", "TEXT",
		"created_at", "NUMERIC", "SORTABLE",
		"surprise_score", "NUMERIC", "SORTABLE",
		"perplexity", "NUMERIC", "SORTABLE",
		"session_id", "TAG",
		"embedding", "VECTOR", "HNSW", "6",
		"TYPE", "FLOAT32",
		"DIM", fmt.Sprintf("%d", spec.VectorDim),
		"DISTANCE_METRIC", "COSINE",
	}
	err := s.client.Do(ctx, args...).Err()
	if err == nil {
		return nil
	}
	if isIndexExistsErr(err) {
		return nil
	}
	return fmt.Errorf("kvstore: FT.CREATE %s: %w", spec.IndexName, err)
}

// DropVectorIndex removes the index definition (keeping the underlying hash
// keys). Dropping an index that does not exist is not an error.
func (s *Store) DropVectorIndex(ctx context.Context, indexName string) error {
	if err := s.client.Do(ctx, "FT.DROPINDEX", indexName).Err(); err != nil {
		if isUnknownIndexErr(err) {
			return nil
		}
		return fmt.Errorf("kvstore: FT.DROPINDEX %s: %w", indexName, err)
	}
	return nil
}

// VectorSearchHit is one KNN result row.
type VectorSearchHit struct {
	Key    string
	Fields map[string]string
	Score  float64 // cosine distance; lower is closer
}

// VectorSearch runs a KNN query against indexName for the nearest k vectors
// to queryVec, grounded on the FT.SEARCH KNN query syntax
// (`*=>[KNN k @field $vec AS score]`). preFilter, when non-empty, is an
// arbitrary RediSearch pre-filter expression (e.g. a TAG-field match) applied
// before the KNN ranking; empty means "match every indexed hash".
func (s *Store) VectorSearch(ctx context.Context, indexName, vectorField string, queryVec []byte, k int, preFilter string) ([]VectorSearchHit, error) {
	base := "*"
	if preFilter != "" {
		base = "(" + preFilter + ")"
	}
	query := fmt.Sprintf("%s=>[KNN %d @%s $vec AS vector_score]", base, k, vectorField)
	args := []interface{}{
		"FT.SEARCH", indexName, query,
		"PARAMS", "2", "vec", queryVec,
		"SORTBY", "vector_score",
		"DIALECT", "2",
	}
	res, err := s.client.Do(ctx, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("kvstore: FT.SEARCH %s: %w", indexName, err)
	}
	return parseSearchReply(res)
}

// parseSearchReply decodes the flat FT.SEARCH reply shape:
// [total, key1, [field, value, field, value, ...], key2, [...], ...]
func parseSearchReply(res interface{}) ([]VectorSearchHit, error) {
	arr, ok := res.([]interface{})
	if !ok || len(arr) == 0 {
		return nil, nil
	}
	asString := func(v interface{}) string {
		switch t := v.(type) {
		case string:
			return t
		case []byte:
			return string(t)
		default:
			return fmt.Sprintf("%v", t)
		}
	}
	var hits []VectorSearchHit
	for i := 1; i+1 < len(arr); i += 2 {
		key := asString(arr[i])
		fieldList, _ := arr[i+1].([]interface{})
		fields := make(map[string]string, len(fieldList)/2)
		for j := 0; j+1 < len(fieldList); j += 2 {
			fields[asString(fieldList[j])] = asString(fieldList[j+1])
		}
		hit := VectorSearchHit{Key: key, Fields: fields}
		if raw, ok := fields["vector_score"]; ok {
			var score float64
			_, _ = fmt.Sscanf(raw, "%f", &score)
			hit.Score = score
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

var tagSpecialChars = regexp.MustCompile("[,.<>{}\\[\\]\"':;!@#$%^&*()\\-+=~| ]")

// EscapeTagValue backslash-escapes RediSearch TAG-field special characters
// so a raw session id can be embedded in a FT.SEARCH TAG filter
// (`@session_id:{value}`) without being parsed as query syntax.
func EscapeTagValue(v string) string {
	return tagSpecialChars.ReplaceAllStringFunc(v, func(m string) string { return "\\" + m })
}

func isIndexExistsErr(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "index already exists")
}

func isUnknownIndexErr(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unknown index name")
}
