// Package reconciler drains the ephemeral counter buckets and event
// ring buffers into the durable aggregate store on a fixed period.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cathay-lab/chatstats/internal/core/stats"
	"github.com/cathay-lab/chatstats/internal/core/storage"
	"github.com/cathay-lab/chatstats/internal/ephemeral"
	"github.com/cathay-lab/chatstats/internal/recorder"
)

// Config controls one reconciler instance. Exactly one instance may run
// per deployment; horizontal scaling needs external mutual exclusion.
type Config struct {
	// BufferCapacity is the per-scope ring buffer size. Events beyond
	// the most recent BufferCapacity are persisted and trimmed each
	// pass. Zero means unbounded: everything is persisted each pass but
	// nothing is ever trimmed.
	BufferCapacity int

	// MessageTTL and CommandTTL re-arm bucket expiry when taken values
	// have to be restored after a durable-store failure.
	MessageTTL time.Duration
	CommandTTL time.Duration

	// RetentionDays prunes durable daily rows older than this many days.
	// Zero keeps them forever. Lifetime totals are never pruned.
	RetentionDays int
}

func (c Config) normalized() Config {
	n := c
	if n.BufferCapacity < 0 {
		n.BufferCapacity = 0
	}
	if n.MessageTTL <= 0 {
		n.MessageTTL = recorder.DefaultMessageTTL
	}
	if n.CommandTTL <= 0 {
		n.CommandTTL = recorder.DefaultCommandTTL
	}
	return n
}

// Reconciler merges ephemeral state into the durable store. A failure
// on one bucket or scope never aborts the pass for the others: the item
// is left in place and retried on the next period.
type Reconciler struct {
	eph   ephemeral.Store
	store storage.StatStore
	cfg   Config
	nowFn func() time.Time

	// group collapses concurrent RunPass callers onto one in-flight
	// pass, so overlapping invocations cannot interleave their merges.
	group singleflight.Group

	lastPrunedDay stats.Day
}

// New creates a reconciler between the given stores.
func New(eph ephemeral.Store, store storage.StatStore, cfg Config) *Reconciler {
	return &Reconciler{
		eph:   eph,
		store: store,
		cfg:   cfg.normalized(),
		nowFn: time.Now,
	}
}

// RunPass executes one merge-and-prune cycle. Concurrent callers share
// a single pass.
func (r *Reconciler) RunPass(ctx context.Context) error {
	_, err, _ := r.group.Do("pass", func() (interface{}, error) {
		return nil, r.pass(ctx)
	})
	return err
}

func (r *Reconciler) pass(ctx context.Context) error {
	started := r.nowFn()

	merged := r.mergeCounters(ctx)
	drained := r.drainEvents(ctx)
	r.pruneRetention(ctx)

	slog.Info("[Reconciler] Pass complete",
		"buckets_merged", merged,
		"events_drained", drained,
		"elapsed", time.Since(started),
	)
	return ctx.Err()
}

// mergeCounters moves every live counter bucket into the durable store.
//
// Each bucket is removed from the ephemeral store atomically before the
// durable write, so increments landing mid-merge become a fresh
// residual for the next pass and nothing is ever counted twice. If the
// durable write fails, the taken values are added back and the bucket
// is retried next period: delayed durability, no loss.
func (r *Reconciler) mergeCounters(ctx context.Context) int {
	buckets, err := r.eph.ListLiveBuckets(ctx)
	if err != nil {
		slog.Error("[Reconciler] Failed to enumerate counter buckets", "error", err)
		return 0
	}

	merged := 0
	for _, bucket := range buckets {
		if ctx.Err() != nil {
			return merged
		}

		values, err := r.eph.TakeAll(ctx, bucket)
		if err != nil {
			slog.Error("[Reconciler] Failed to take counter bucket",
				"metric", bucket.Metric, "day", bucket.Day, "scope", bucket.Scope, "error", err)
			continue
		}
		if len(values) == 0 {
			continue
		}

		deltas := make([]storage.CounterDelta, 0, len(values))
		for subject, count := range values {
			deltas = append(deltas, storage.CounterDelta{
				Metric:  bucket.Metric,
				Day:     bucket.Day,
				Scope:   bucket.Scope,
				Subject: subject,
				Count:   count,
			})
		}

		if err := r.store.ApplyCounterDeltas(ctx, deltas); err != nil {
			slog.Error("[Reconciler] Durable merge failed, restoring bucket",
				"metric", bucket.Metric, "day", bucket.Day, "scope", bucket.Scope, "error", err)
			// The taken values must go back even when the pass context was
			// cancelled mid-shutdown, or they are gone for good.
			restoreCtx := context.WithoutCancel(ctx)
			if rerr := r.eph.Restore(restoreCtx, bucket, values, r.ttlFor(bucket.Metric)); rerr != nil {
				slog.Error("[Reconciler] Failed to restore taken bucket, counts may be lost",
					"metric", bucket.Metric, "day", bucket.Day, "scope", bucket.Scope, "error", rerr)
			}
			continue
		}
		merged++
	}
	return merged
}

// drainEvents persists buffered chat events into the durable message
// log. In bounded mode a buffer that has grown past capacity is
// persisted in full and only then trimmed back to capacity, so every
// event reaches the log before eviction can touch it, including events
// appended between the read and the trim. Insert-or-ignore on event_id
// makes the repeated full reads harmless. Unbounded mode persists
// everything each pass and never trims.
func (r *Reconciler) drainEvents(ctx context.Context) int {
	scopes, err := r.eph.ListScopes(ctx)
	if err != nil {
		slog.Error("[Reconciler] Failed to enumerate event buffers", "error", err)
		return 0
	}

	capacity := r.cfg.BufferCapacity
	drained := 0
	for _, scope := range scopes {
		if ctx.Err() != nil {
			return drained
		}

		if capacity > 0 {
			length, err := r.eph.Len(ctx, scope)
			if err != nil {
				slog.Error("[Reconciler] Failed to read event buffer length",
					"scope", scope, "error", err)
				continue
			}
			if length <= int64(capacity) {
				continue
			}
		}

		buffered, err := r.eph.All(ctx, scope)
		if err != nil {
			slog.Error("[Reconciler] Failed to read event buffer",
				"scope", scope, "error", err)
			continue
		}
		if len(buffered) == 0 {
			continue
		}

		inserted, err := r.store.InsertMessages(ctx, buffered)
		if err != nil {
			// Buffer left untouched so the same events are retried.
			slog.Error("[Reconciler] Failed to persist buffered events",
				"scope", scope, "events", len(buffered), "error", err)
			continue
		}
		drained += inserted

		if capacity > 0 {
			if err := r.eph.TrimToCapacity(ctx, scope, capacity); err != nil {
				slog.Error("[Reconciler] Failed to trim event buffer",
					"scope", scope, "error", err)
			}
		}
	}
	return drained
}

// pruneRetention deletes aged-out daily rows, at most once per calendar day.
func (r *Reconciler) pruneRetention(ctx context.Context) {
	if r.cfg.RetentionDays <= 0 {
		return
	}

	today := stats.DayOf(r.nowFn())
	if today == r.lastPrunedDay {
		return
	}

	cutoff := stats.DayOf(r.nowFn().AddDate(0, 0, -r.cfg.RetentionDays))
	removed, err := r.store.PruneDailyBefore(ctx, cutoff)
	if err != nil {
		slog.Error("[Reconciler] Retention prune failed", "cutoff", cutoff, "error", err)
		return
	}
	r.lastPrunedDay = today
	if removed > 0 {
		slog.Info("[Reconciler] Retention prune complete", "cutoff", cutoff, "rows", removed)
	}
}

func (r *Reconciler) ttlFor(metric stats.Metric) time.Duration {
	if metric == stats.MetricCommand {
		return r.cfg.CommandTTL
	}
	return r.cfg.MessageTTL
}
