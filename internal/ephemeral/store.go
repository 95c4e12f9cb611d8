// Package ephemeral is the fast write buffer in front of the durable
// aggregate store: TTL-bearing daily counters plus a bounded
// recent-message list per conversation. Two implementations exist, a
// Redis-backed one for deployments and an in-process one used when
// Redis is disabled and in tests.
package ephemeral

import (
	"context"
	"time"

	"github.com/cathay-lab/chatstats/internal/core/stats"
)

// CounterBucket identifies one live counter hash: all subjects counted
// for a (metric, day, scope).
type CounterBucket struct {
	Metric stats.Metric
	Day    stats.Day
	Scope  string
}

// CounterStore holds the not-yet-reconciled daily counters.
//
// Values only ever grow between reconciliation passes; the reconciler
// is the sole remover. Every bucket written by the recorder carries a
// TTL so abandoned buckets self-heal even if reconciliation stalls.
type CounterStore interface {
	// Increment atomically adds amount to the counter for key and
	// returns the new value. Safe under concurrent callers.
	Increment(ctx context.Context, key stats.CounterKey, amount int64) (int64, error)

	// ExpireAfter sets the TTL of the daily bucket containing key. The
	// TTL must comfortably exceed the reconciler interval so a live
	// bucket is never evicted before it can be drained.
	ExpireAfter(ctx context.Context, key stats.CounterKey, ttl time.Duration) error

	// Get returns the live value for one key, zero if absent.
	Get(ctx context.Context, key stats.CounterKey) (int64, error)

	// Values returns the live subject counts of one bucket.
	Values(ctx context.Context, bucket CounterBucket) (map[string]int64, error)

	// ListLiveBuckets enumerates every live counter bucket. Malformed
	// keys are skipped with a logged warning.
	ListLiveBuckets(ctx context.Context) ([]CounterBucket, error)

	// TakeAll atomically reads and removes the whole bucket, returning
	// what was removed. Increments landing after the take become the
	// residual the next reconciliation pass sees.
	TakeAll(ctx context.Context, bucket CounterBucket) (map[string]int64, error)

	// Restore adds previously taken values back into the bucket. Used
	// when the durable write for a taken bucket fails, so the counts are
	// retried next pass instead of lost.
	Restore(ctx context.Context, bucket CounterBucket, values map[string]int64, ttl time.Duration) error
}

// EventBuffer is the per-scope recent-message list. Newest entries sit
// at the head. The buffer is only trimmed by the reconciler, after the
// buffered events have been durably persisted.
type EventBuffer interface {
	// Append pushes one event onto the head of the scope's buffer. The
	// buffer is never trimmed here: overflow stays until the reconciler
	// has durably persisted it.
	Append(ctx context.Context, scope string, evt stats.ChatEvent) error

	// Len returns the number of buffered events for a scope.
	Len(ctx context.Context, scope string) (int64, error)

	// All returns every buffered event for a scope, oldest first.
	// Entries that fail to decode are skipped with a logged warning.
	All(ctx context.Context, scope string) ([]stats.ChatEvent, error)

	// RangeFromTail returns events addressed from the oldest retained
	// entry (index 0), oldest first. end == -1 addresses the newest.
	RangeFromTail(ctx context.Context, scope string, start, end int64) ([]stats.ChatEvent, error)

	// TrimToCapacity drops everything beyond the most recent capacity
	// entries. Capacity <= 0 leaves the buffer untouched.
	TrimToCapacity(ctx context.Context, scope string, capacity int) error

	// ListScopes enumerates every scope with a live buffer.
	ListScopes(ctx context.Context) ([]string, error)
}

// Store is the full ephemeral surface shared by the recorder, the
// reconciler and the query engine.
type Store interface {
	CounterStore
	EventBuffer

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	Close() error
}
