package storage

import (
	"context"

	"github.com/cathay-lab/chatstats/internal/core/stats"
)

// CounterDelta is one additive merge unit produced by a reconciliation
// pass: "add Count to the durable daily row and lifetime total for
// (Metric, Day, Scope, Subject)". Deltas are always applied with
// add-in-place upserts, never absolute overwrites, so re-applying a
// batch that partially failed converges instead of double-counting.
type CounterDelta struct {
	Metric  stats.Metric
	Day     stats.Day
	Scope   string
	Subject string
	Count   int64
}

// SubjectCount is one ranked row of a top-N query.
type SubjectCount struct {
	Subject string `json:"subject"`
	Count   int64  `json:"count"`
}

// AggregateStore is the durable side of the counter pipeline: per-day
// running counts plus lifetime totals per (metric, scope, subject).
type AggregateStore interface {
	// ApplyCounterDeltas upserts the daily rows and lifetime totals for
	// all deltas in a single transaction. A failure applies nothing.
	ApplyCounterDeltas(ctx context.Context, deltas []CounterDelta) error

	// SumRange sums the daily running counts over the given days for one
	// (metric, scope, subject). Missing rows count as zero.
	SumRange(ctx context.Context, metric stats.Metric, scope, subject string, days []stats.Day) (int64, error)

	// SumRangeBySubject sums the daily running counts over the given days
	// for every subject in (metric, scope).
	SumRangeBySubject(ctx context.Context, metric stats.Metric, scope string, days []stats.Day) (map[string]int64, error)

	// LifetimeTotal returns the lifetime total for one (metric, scope,
	// subject), zero if no row exists.
	LifetimeTotal(ctx context.Context, metric stats.Metric, scope, subject string) (int64, error)

	// LifetimeBySubject returns the lifetime totals for every subject in
	// (metric, scope).
	LifetimeBySubject(ctx context.Context, metric stats.Metric, scope string) (map[string]int64, error)

	// PruneDailyBefore deletes daily rows for days strictly before cutoff
	// and returns how many rows were removed. Lifetime totals and the
	// message log are never pruned.
	PruneDailyBefore(ctx context.Context, cutoff stats.Day) (int64, error)
}

// MessageLog is the durable append-only chat history, unique on
// event_id so re-delivery from the ring buffer is a no-op.
type MessageLog interface {
	// InsertMessages persists events with insert-or-ignore semantics and
	// returns how many rows were actually new.
	InsertMessages(ctx context.Context, events []stats.ChatEvent) (int, error)

	// RecentMessages returns up to limit persisted messages for a scope,
	// newest first.
	RecentMessages(ctx context.Context, scope string, limit int) ([]stats.ChatEvent, error)
}

// StatStore is the full durable surface the reconciler and query engine
// depend on.
type StatStore interface {
	AggregateStore
	MessageLog
}
