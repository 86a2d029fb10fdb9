package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// EventsChannel is the Pub/Sub channel every record is published on.
const EventsChannel = "ima:audit_events"

// DefaultRedisMaxLen caps each per-namespace record list.
const DefaultRedisMaxLen = 10000

// RecordsKey returns the list key holding a namespace's recent records.
func RecordsKey(ns int) string {
	return fmt.Sprintf("ima:ns:%d:audit", ns)
}

// RedisSink publishes records for downstream integrity evaluators and keeps
// the most recent ones per namespace.
type RedisSink struct {
	rdb    *redis.Client
	maxLen int64
}

// NewRedisSink creates a RedisSink. maxLen <= 0 uses DefaultRedisMaxLen.
func NewRedisSink(opts *redis.Options, maxLen int64) *RedisSink {
	if maxLen <= 0 {
		maxLen = DefaultRedisMaxLen
	}
	return &RedisSink{rdb: redis.NewClient(opts), maxLen: maxLen}
}

// Ping verifies Redis connectivity.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}

// Emit implements Sink. The list append, trim and publish run in one
// MULTI/EXEC transaction.
func (s *RedisSink) Emit(ctx context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	key := RecordsKey(rec.Namespace)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, b)
	pipe.LTrim(ctx, key, -s.maxLen, -1)
	pipe.Publish(ctx, EventsChannel, b)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write audit record to Redis: %w", err)
	}
	return nil
}

// Recent returns up to n of the newest records for a namespace, oldest first.
func (s *RedisSink) Recent(ctx context.Context, ns int, n int64) ([]Record, error) {
	raw, err := s.rdb.LRange(ctx, RecordsKey(ns), -n, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read audit records from Redis: %w", err)
	}
	out := make([]Record, 0, len(raw))
	for _, r := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			return nil, fmt.Errorf("decode audit record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
