// Package query answers read requests by combining durable aggregates
// with counter values that have not been reconciled yet.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cathay-lab/chatstats/internal/core/stats"
	"github.com/cathay-lab/chatstats/internal/core/storage"
	"github.com/cathay-lab/chatstats/internal/ephemeral"
)

// Service computes hybrid reads. It never mutates either store, and a
// degraded ephemeral store only makes results temporarily low, never
// wrong after the next reconciliation.
type Service struct {
	eph   ephemeral.Store
	store storage.StatStore
	nowFn func() time.Time
}

// New creates a query service over the given stores.
func New(eph ephemeral.Store, store storage.StatStore) *Service {
	return &Service{
		eph:   eph,
		store: store,
		nowFn: time.Now,
	}
}

// Range sums counts for one subject across the given days, durable
// rows plus live counters. Missing rows on either side count as zero.
func (s *Service) Range(ctx context.Context, metric stats.Metric, scope, subject string, days []stats.Day) (int64, error) {
	if !stats.ValidMetric(metric) {
		return 0, fmt.Errorf("query range: unknown metric %q", metric)
	}

	total, err := s.store.SumRange(ctx, metric, scope, subject, days)
	if err != nil {
		return 0, fmt.Errorf("query range: %w", err)
	}

	for _, day := range days {
		key := stats.CounterKey{Metric: metric, Day: day, Scope: scope, Subject: subject}
		live, err := s.eph.Get(ctx, key)
		if err != nil {
			// Durable portion is still correct; unreconciled counts
			// reappear once the ephemeral store recovers.
			slog.Warn("[Query] Skipping live counter read",
				"metric", metric, "day", day, "scope", scope, "error", err)
			continue
		}
		total += live
	}
	return total, nil
}

// Total returns the lifetime count for one subject: the durable
// lifetime total plus every live counter bucket that mentions the
// subject, since those increments have not been folded in yet.
func (s *Service) Total(ctx context.Context, metric stats.Metric, scope, subject string) (int64, error) {
	if !stats.ValidMetric(metric) {
		return 0, fmt.Errorf("query total: unknown metric %q", metric)
	}

	total, err := s.store.LifetimeTotal(ctx, metric, scope, subject)
	if err != nil {
		return 0, fmt.Errorf("query total: %w", err)
	}

	buckets, err := s.eph.ListLiveBuckets(ctx)
	if err != nil {
		slog.Warn("[Query] Skipping live counter scan", "scope", scope, "error", err)
		return total, nil
	}
	for _, bucket := range buckets {
		if bucket.Metric != metric || bucket.Scope != scope {
			continue
		}
		key := stats.CounterKey{Metric: metric, Day: bucket.Day, Scope: scope, Subject: subject}
		live, err := s.eph.Get(ctx, key)
		if err != nil {
			slog.Warn("[Query] Skipping live counter read",
				"metric", metric, "day", bucket.Day, "scope", scope, "error", err)
			continue
		}
		total += live
	}
	return total, nil
}

// TopN ranks subjects within a scope over the given days, highest
// count first. Ties break on subject identifier so rankings are
// deterministic.
func (s *Service) TopN(ctx context.Context, metric stats.Metric, scope string, days []stats.Day, n int) ([]storage.SubjectCount, error) {
	if !stats.ValidMetric(metric) {
		return nil, fmt.Errorf("query top: unknown metric %q", metric)
	}
	if n <= 0 {
		return nil, nil
	}

	counts, err := s.store.SumRangeBySubject(ctx, metric, scope, days)
	if err != nil {
		return nil, fmt.Errorf("query top: %w", err)
	}

	for _, day := range days {
		bucket := ephemeral.CounterBucket{Metric: metric, Day: day, Scope: scope}
		live, err := s.eph.Values(ctx, bucket)
		if err != nil {
			slog.Warn("[Query] Skipping live counter bucket",
				"metric", metric, "day", day, "scope", scope, "error", err)
			continue
		}
		for subject, count := range live {
			counts[subject] += count
		}
	}

	ranked := make([]storage.SubjectCount, 0, len(counts))
	for subject, count := range counts {
		if count == 0 {
			continue
		}
		ranked = append(ranked, storage.SubjectCount{Subject: subject, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Subject < ranked[j].Subject
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked, nil
}

// PluginRanking ranks plugins by command invocations over the given days.
func (s *Service) PluginRanking(ctx context.Context, days []stats.Day, n int) ([]storage.SubjectCount, error) {
	return s.TopN(ctx, stats.MetricCommand, stats.ScopePlugins, days, n)
}

// RecentMessages returns the newest messages for a scope, newest first.
// The ring buffer is the primary source; older history beyond the
// buffer is filled in from the durable log.
func (s *Service) RecentMessages(ctx context.Context, scope string, limit int) ([]stats.ChatEvent, error) {
	if limit <= 0 {
		return nil, nil
	}

	buffered, err := s.eph.All(ctx, scope)
	if err != nil {
		slog.Warn("[Query] Falling back to durable message log", "scope", scope, "error", err)
		buffered = nil
	}

	// All returns oldest first; recent reads want the newest at the front.
	recent := make([]stats.ChatEvent, 0, limit)
	for i := len(buffered) - 1; i >= 0 && len(recent) < limit; i-- {
		recent = append(recent, buffered[i])
	}
	if len(recent) >= limit {
		return recent, nil
	}

	durable, err := s.store.RecentMessages(ctx, scope, limit)
	if err != nil {
		if len(recent) > 0 {
			slog.Warn("[Query] Skipping durable message log", "scope", scope, "error", err)
			return recent, nil
		}
		return nil, fmt.Errorf("recent messages: %w", err)
	}

	seen := make(map[string]struct{}, len(recent))
	for _, evt := range recent {
		seen[evt.EventID] = struct{}{}
	}
	for _, evt := range durable {
		if len(recent) >= limit {
			break
		}
		if _, ok := seen[evt.EventID]; ok {
			continue
		}
		recent = append(recent, evt)
	}
	return recent, nil
}

// WeekRange sums the current ISO week (Monday through today's weekday
// position, Sunday-inclusive) for one subject.
func (s *Service) WeekRange(ctx context.Context, metric stats.Metric, scope, subject string) (int64, error) {
	return s.Range(ctx, metric, scope, subject, stats.WeekDays(s.nowFn()))
}

// MonthRange sums the current calendar month to date for one subject.
func (s *Service) MonthRange(ctx context.Context, metric stats.Metric, scope, subject string) (int64, error) {
	return s.Range(ctx, metric, scope, subject, stats.MonthDays(s.nowFn()))
}
