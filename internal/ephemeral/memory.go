package ephemeral

import (
	"context"
	"sync"
	"time"

	"github.com/cathay-lab/chatstats/internal/core/stats"
)

// MemoryStore implements Store in process memory. It backs deployments
// that run without Redis (recording keeps working on a single node) and
// the engine tests. TTLs are honored lazily: expired buckets vanish on
// next access.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryBucket
	events   map[string][]stats.ChatEvent // newest first, matching the Redis layout
	nowFn    func() time.Time
}

type memoryBucket struct {
	counts    map[string]int64
	expiresAt time.Time // zero means no TTL set yet
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*memoryBucket),
		events:   make(map[string][]stats.ChatEvent),
		nowFn:    time.Now,
	}
}

// bucketLocked returns the live bucket for hashKey, dropping it first if
// its TTL has lapsed. Callers must hold mu.
func (s *MemoryStore) bucketLocked(hashKey string) *memoryBucket {
	b, ok := s.counters[hashKey]
	if !ok {
		return nil
	}
	if !b.expiresAt.IsZero() && !s.nowFn().Before(b.expiresAt) {
		delete(s.counters, hashKey)
		return nil
	}
	return b
}

// Increment atomically adds amount to the counter for key.
func (s *MemoryStore) Increment(ctx context.Context, key stats.CounterKey, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashKey := key.HashKey()
	b := s.bucketLocked(hashKey)
	if b == nil {
		b = &memoryBucket{counts: make(map[string]int64)}
		s.counters[hashKey] = b
	}
	b.counts[key.Subject] += amount
	return b.counts[key.Subject], nil
}

// ExpireAfter sets the TTL of the daily bucket containing key.
func (s *MemoryStore) ExpireAfter(ctx context.Context, key stats.CounterKey, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b := s.bucketLocked(key.HashKey()); b != nil {
		b.expiresAt = s.nowFn().Add(ttl)
	}
	return nil
}

// Get returns the live value for one key, zero if absent.
func (s *MemoryStore) Get(ctx context.Context, key stats.CounterKey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bucketLocked(key.HashKey())
	if b == nil {
		return 0, nil
	}
	return b.counts[key.Subject], nil
}

// Values returns the live subject counts of one bucket.
func (s *MemoryStore) Values(ctx context.Context, bucket CounterBucket) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.bucketLocked(stats.EncodeHashKey(bucket.Metric, bucket.Day, bucket.Scope))
	counts := make(map[string]int64)
	if b == nil {
		return counts, nil
	}
	for subject, count := range b.counts {
		counts[subject] = count
	}
	return counts, nil
}

// ListLiveBuckets enumerates every live counter bucket.
func (s *MemoryStore) ListLiveBuckets(ctx context.Context) ([]CounterBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buckets []CounterBucket
	for hashKey := range s.counters {
		if s.bucketLocked(hashKey) == nil {
			continue
		}
		metric, day, scope, err := stats.DecodeHashKey(hashKey)
		if err != nil {
			continue
		}
		buckets = append(buckets, CounterBucket{Metric: metric, Day: day, Scope: scope})
	}
	return buckets, nil
}

// TakeAll atomically reads and removes the whole bucket.
func (s *MemoryStore) TakeAll(ctx context.Context, bucket CounterBucket) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashKey := stats.EncodeHashKey(bucket.Metric, bucket.Day, bucket.Scope)
	b := s.bucketLocked(hashKey)
	if b == nil {
		return map[string]int64{}, nil
	}
	delete(s.counters, hashKey)
	return b.counts, nil
}

// Restore adds previously taken values back into the bucket.
func (s *MemoryStore) Restore(ctx context.Context, bucket CounterBucket, values map[string]int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashKey := stats.EncodeHashKey(bucket.Metric, bucket.Day, bucket.Scope)
	b := s.bucketLocked(hashKey)
	if b == nil {
		b = &memoryBucket{counts: make(map[string]int64)}
		s.counters[hashKey] = b
	}
	for subject, count := range values {
		b.counts[subject] += count
	}
	if ttl > 0 {
		b.expiresAt = s.nowFn().Add(ttl)
	}
	return nil
}

// Append pushes one event onto the head of the scope's buffer.
func (s *MemoryStore) Append(ctx context.Context, scope string, evt stats.ChatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[scope] = append([]stats.ChatEvent{evt}, s.events[scope]...)
	return nil
}

// Len returns the number of buffered events for a scope.
func (s *MemoryStore) Len(ctx context.Context, scope string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.events[scope])), nil
}

// All returns every buffered event for a scope, oldest first.
func (s *MemoryStore) All(ctx context.Context, scope string) ([]stats.ChatEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return reverseEvents(s.events[scope]), nil
}

// RangeFromTail returns events addressed from the oldest retained entry.
func (s *MemoryStore) RangeFromTail(ctx context.Context, scope string, start, end int64) ([]stats.ChatEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.events[scope]
	n := int64(len(buf))
	if start < 0 {
		start = 0
	}
	if end < 0 || end >= n {
		end = n - 1
	}
	if n == 0 || start > end {
		return nil, nil
	}

	// Tail index i maps to slice index n-1-i in the newest-first buffer.
	events := make([]stats.ChatEvent, 0, end-start+1)
	for i := start; i <= end; i++ {
		events = append(events, buf[n-1-i])
	}
	return events, nil
}

// TrimToCapacity drops everything beyond the most recent capacity entries.
func (s *MemoryStore) TrimToCapacity(ctx context.Context, scope string, capacity int) error {
	if capacity <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if buf := s.events[scope]; len(buf) > capacity {
		s.events[scope] = append([]stats.ChatEvent(nil), buf[:capacity]...)
	}
	return nil
}

// ListScopes enumerates every scope with a live buffer.
func (s *MemoryStore) ListScopes(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scopes := make([]string, 0, len(s.events))
	for scope, buf := range s.events {
		if len(buf) > 0 {
			scopes = append(scopes, scope)
		}
	}
	return scopes, nil
}

// Ping always succeeds for the in-process store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-process store.
func (s *MemoryStore) Close() error {
	return nil
}

func reverseEvents(in []stats.ChatEvent) []stats.ChatEvent {
	out := make([]stats.ChatEvent, 0, len(in))
	for i := len(in) - 1; i >= 0; i-- {
		out = append(out, in[i])
	}
	return out
}
