package ephemeral

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cathay-lab/chatstats/internal/core/stats"
)

const scanBatchSize = 200

// takeBucketScript reads and deletes a whole counter hash in one atomic
// step, so an increment can never land between the read and the delete.
var takeBucketScript = redis.NewScript(`
local vals = redis.call('HGETALL', KEYS[1])
if #vals > 0 then
	redis.call('DEL', KEYS[1])
end
return vals
`)

// RedisStore implements Store on a Redis server.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps the given client. prefix namespaces every key and
// may be empty.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) stripPrefix(k string) string {
	return strings.TrimPrefix(k, s.prefix)
}

func eventListKey(scope string) string {
	return fmt.Sprintf("chat:%s:messages", scope)
}

// Increment atomically adds amount to the counter for key.
func (s *RedisStore) Increment(ctx context.Context, key stats.CounterKey, amount int64) (int64, error) {
	val, err := s.client.HIncrBy(ctx, s.key(key.HashKey()), key.Subject, amount).Result()
	if err != nil {
		return 0, fmt.Errorf("increment counter %s/%s: %w", key.HashKey(), key.Subject, err)
	}
	return val, nil
}

// ExpireAfter sets the TTL of the daily bucket containing key.
func (s *RedisStore) ExpireAfter(ctx context.Context, key stats.CounterKey, ttl time.Duration) error {
	if err := s.client.Expire(ctx, s.key(key.HashKey()), ttl).Err(); err != nil {
		return fmt.Errorf("expire counter bucket %s: %w", key.HashKey(), err)
	}
	return nil
}

// Get returns the live value for one key, zero if absent.
func (s *RedisStore) Get(ctx context.Context, key stats.CounterKey) (int64, error) {
	val, err := s.client.HGet(ctx, s.key(key.HashKey()), key.Subject).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get counter %s/%s: %w", key.HashKey(), key.Subject, err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("get counter %s/%s: parse %q: %w", key.HashKey(), key.Subject, val, err)
	}
	return n, nil
}

// Values returns the live subject counts of one bucket.
func (s *RedisStore) Values(ctx context.Context, bucket CounterBucket) (map[string]int64, error) {
	hashKey := stats.EncodeHashKey(bucket.Metric, bucket.Day, bucket.Scope)
	data, err := s.client.HGetAll(ctx, s.key(hashKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("read counter bucket %s: %w", hashKey, err)
	}
	return parseCounts(hashKey, data), nil
}

// ListLiveBuckets scans for every live counter hash.
func (s *RedisStore) ListLiveBuckets(ctx context.Context) ([]CounterBucket, error) {
	pattern := s.key(stats.CounterScanPattern())
	var buckets []CounterBucket

	iter := s.client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		raw := s.stripPrefix(iter.Val())
		metric, day, scope, err := stats.DecodeHashKey(raw)
		if err != nil {
			slog.Warn("[Ephemeral] Skipping malformed counter key", "key", raw, "error", err)
			continue
		}
		buckets = append(buckets, CounterBucket{Metric: metric, Day: day, Scope: scope})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan counter keys: %w", err)
	}
	return buckets, nil
}

// TakeAll atomically reads and removes the whole bucket.
func (s *RedisStore) TakeAll(ctx context.Context, bucket CounterBucket) (map[string]int64, error) {
	hashKey := stats.EncodeHashKey(bucket.Metric, bucket.Day, bucket.Scope)
	raw, err := takeBucketScript.Run(ctx, s.client, []string{s.key(hashKey)}).Result()
	if err != nil {
		return nil, fmt.Errorf("take counter bucket %s: %w", hashKey, err)
	}

	flat, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("take counter bucket %s: unexpected reply type %T", hashKey, raw)
	}

	data := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		field, fok := flat[i].(string)
		value, vok := flat[i+1].(string)
		if !fok || !vok {
			slog.Warn("[Ephemeral] Skipping malformed hash entry", "bucket", hashKey)
			continue
		}
		data[field] = value
	}
	return parseCounts(hashKey, data), nil
}

// Restore adds previously taken values back into the bucket.
func (s *RedisStore) Restore(ctx context.Context, bucket CounterBucket, values map[string]int64, ttl time.Duration) error {
	if len(values) == 0 {
		return nil
	}
	hashKey := s.key(stats.EncodeHashKey(bucket.Metric, bucket.Day, bucket.Scope))

	pipe := s.client.TxPipeline()
	for subject, count := range values {
		pipe.HIncrBy(ctx, hashKey, subject, count)
	}
	if ttl > 0 {
		pipe.Expire(ctx, hashKey, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("restore counter bucket %s: %w", hashKey, err)
	}
	return nil
}

// Append pushes one event onto the head of the scope's buffer.
func (s *RedisStore) Append(ctx context.Context, scope string, evt stats.ChatEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("append event %s: marshal: %w", evt.EventID, err)
	}
	if err := s.client.LPush(ctx, s.key(eventListKey(scope)), payload).Err(); err != nil {
		return fmt.Errorf("append event %s to scope %s: %w", evt.EventID, scope, err)
	}
	return nil
}

// Len returns the number of buffered events for a scope.
func (s *RedisStore) Len(ctx context.Context, scope string) (int64, error) {
	n, err := s.client.LLen(ctx, s.key(eventListKey(scope))).Result()
	if err != nil {
		return 0, fmt.Errorf("event buffer length for scope %s: %w", scope, err)
	}
	return n, nil
}

// All returns every buffered event for a scope, oldest first.
func (s *RedisStore) All(ctx context.Context, scope string) ([]stats.ChatEvent, error) {
	raw, err := s.client.LRange(ctx, s.key(eventListKey(scope)), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read event buffer for scope %s: %w", scope, err)
	}
	return decodeEventsOldestFirst(scope, raw), nil
}

// RangeFromTail returns events addressed from the oldest retained entry.
func (s *RedisStore) RangeFromTail(ctx context.Context, scope string, start, end int64) ([]stats.ChatEvent, error) {
	if start < 0 {
		start = 0
	}
	// The list is newest-first, so tail index i maps to list index -(i+1).
	listStart := int64(0)
	if end >= 0 {
		listStart = -(end + 1)
	}
	listEnd := -(start + 1)

	raw, err := s.client.LRange(ctx, s.key(eventListKey(scope)), listStart, listEnd).Result()
	if err != nil {
		return nil, fmt.Errorf("range event buffer for scope %s: %w", scope, err)
	}
	return decodeEventsOldestFirst(scope, raw), nil
}

// TrimToCapacity drops everything beyond the most recent capacity entries.
func (s *RedisStore) TrimToCapacity(ctx context.Context, scope string, capacity int) error {
	if capacity <= 0 {
		return nil
	}
	if err := s.client.LTrim(ctx, s.key(eventListKey(scope)), 0, int64(capacity)-1).Err(); err != nil {
		return fmt.Errorf("trim event buffer for scope %s: %w", scope, err)
	}
	return nil
}

// ListScopes enumerates every scope with a live buffer.
func (s *RedisStore) ListScopes(ctx context.Context) ([]string, error) {
	pattern := s.key("chat:*:messages")
	var scopes []string

	iter := s.client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		raw := s.stripPrefix(iter.Val())
		parts := strings.Split(raw, ":")
		if len(parts) != 3 || parts[0] != "chat" || parts[2] != "messages" || parts[1] == "" {
			slog.Warn("[Ephemeral] Skipping malformed event buffer key", "key", raw)
			continue
		}
		scopes = append(scopes, parts[1])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan event buffer keys: %w", err)
	}
	return scopes, nil
}

// Ping reports whether the Redis server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseCounts(hashKey string, data map[string]string) map[string]int64 {
	counts := make(map[string]int64, len(data))
	for subject, val := range data {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			slog.Warn("[Ephemeral] Skipping unparseable counter value",
				"bucket", hashKey, "subject", subject, "value", val)
			continue
		}
		counts[subject] = n
	}
	return counts
}

// decodeEventsOldestFirst reverses a newest-first list range into
// chronological order, dropping entries that fail to decode.
func decodeEventsOldestFirst(scope string, raw []string) []stats.ChatEvent {
	events := make([]stats.ChatEvent, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var evt stats.ChatEvent
		if err := json.Unmarshal([]byte(raw[i]), &evt); err != nil {
			slog.Warn("[Ephemeral] Skipping undecodable buffered event",
				"scope", scope, "error", err)
			continue
		}
		events = append(events, evt)
	}
	return events
}
