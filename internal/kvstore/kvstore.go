// Package kvstore wraps the single Redis deployment the orchestrator uses as
// stream, hash store, and vector index, grounded on the teacher's
// internal/orchestrator/dedupe.go (ping-on-construct, thin method wrappers)
// and internal/skills/redis_cache.go (nil-receiver tolerance, UniversalClient
// usage, debug-level logging on transient errors).
package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Store is a thin wrapper around redis.UniversalClient exposing exactly the
// operations the rest of the orchestrator needs: stream append/read/trim for
// the input pipeline (C3), hash get/set for memory records, and raw FT.*
// command passthrough for the vector index (C2).
type Store struct {
	client redis.UniversalClient
}

// New connects to addr and pings it to fail fast on misconfiguration.
func New(ctx context.Context, addr string) (*Store, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("kvstore: redis ping failed: %w", err)
	}
	return &Store{client: c}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Client exposes the raw client for callers (e.g. the metrics collector's
// sorted-set mirror) that need operations this wrapper doesn't cover.
func (s *Store) Client() redis.UniversalClient { return s.client }

// XAdd appends fields to the stream at key, returning the assigned entry ID.
// Used by the input appender (C3) on the hot, non-blocking ingest path.
func (s *Store) XAdd(ctx context.Context, key string, fields map[string]any) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: fields,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("kvstore: XADD %s: %w", key, err)
	}
	return id, nil
}

// XTrim approximately caps the stream to maxLen entries (MAXLEN ~).
func (s *Store) XTrim(ctx context.Context, key string, maxLen int64) error {
	if maxLen <= 0 {
		return nil
	}
	if err := s.client.XTrimMaxLenApprox(ctx, key, maxLen, 0).Err(); err != nil {
		return fmt.Errorf("kvstore: XTRIM %s: %w", key, err)
	}
	return nil
}

// XRead reads up to count entries from key starting strictly after lastID,
// blocking up to block for new entries. The memory worker (C3) drives its
// consume loop with this, persisting lastID externally after each batch.
func (s *Store) XRead(ctx context.Context, key, lastID string, count int64, block time.Duration) ([]redis.XMessage, error) {
	res, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{key, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("kvstore: XREAD %s: %w", key, err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return res[0].Messages, nil
}

// HSet stores a hash record, used for memory records (memory:<id>).
func (s *Store) HSet(ctx context.Context, key string, fields map[string]any) error {
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("kvstore: HSET %s: %w", key, err)
	}
	return nil
}

// HGetAll returns every field of a hash record, or an empty map if it does
// not exist.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	res, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("kvstore: HGETALL %s: %w", key, err)
	}
	return res, nil
}

// Del removes one or more keys.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("kvstore: DEL %v: %w", keys, err)
	}
	return nil
}

// Get mirrors a plain string GET, used for the persisted stream cursor
// (memory:last_id) and simple scalar config state.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("kvstore: GET %s: %w", key, err)
	}
	return val, nil
}

// Set mirrors a plain string SET with an optional TTL (ttl<=0 means no
// expiry).
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kvstore: SET %s: %w", key, err)
	}
	return nil
}

// Keys lists keys matching pattern via SCAN, used by List/archival sweeps
// that must not block Redis the way a bare KEYS command would.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Debug().Err(err).Str("pattern", pattern).Msg("kvstore_scan_error")
		return out, fmt.Errorf("kvstore: SCAN %s: %w", pattern, err)
	}
	return out, nil
}

// ZAdd appends a scored member, used by the bounded metrics ring buffer
// mirrored into Redis for cross-process visibility.
func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if err := s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("kvstore: ZADD %s: %w", key, err)
	}
	return nil
}

// ZRemRangeByRank trims a sorted set to its most recent `keep` members.
func (s *Store) ZRemRangeByRank(ctx context.Context, key string, keep int64) error {
	if err := s.client.ZRemRangeByRank(ctx, key, 0, -keep-1).Err(); err != nil {
		return fmt.Errorf("kvstore: ZREMRANGEBYRANK %s: %w", key, err)
	}
	return nil
}
