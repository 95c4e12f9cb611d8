// Package recorder is the hot-path ingress of the stats engine: one
// call per observed chat event, writing only to the ephemeral store.
package recorder

import (
	"context"
	"log/slog"
	"time"

	"github.com/cathay-lab/chatstats/internal/core/stats"
	"github.com/cathay-lab/chatstats/internal/ephemeral"
)

// Counter TTLs. They must comfortably exceed the reconciler interval so
// a live bucket is never evicted before it can be drained; the margin
// here assumes reconciliation runs at most every few minutes.
const (
	DefaultMessageTTL = 7 * 24 * time.Hour
	DefaultCommandTTL = 30 * 24 * time.Hour
)

// Config controls what the recorder tracks.
type Config struct {
	TrackMessages   bool
	TrackCommands   bool
	SaveChatHistory bool
	MessageTTL      time.Duration
	CommandTTL      time.Duration
}

// DefaultConfig tracks everything with the default TTLs.
func DefaultConfig() Config {
	return Config{
		TrackMessages:   true,
		TrackCommands:   true,
		SaveChatHistory: true,
		MessageTTL:      DefaultMessageTTL,
		CommandTTL:      DefaultCommandTTL,
	}
}

func (c Config) normalized() Config {
	n := c
	if n.MessageTTL <= 0 {
		n.MessageTTL = DefaultMessageTTL
	}
	if n.CommandTTL <= 0 {
		n.CommandTTL = DefaultCommandTTL
	}
	return n
}

// Recorder performs the per-event increments and buffer appends.
//
// All methods are fire-and-forget: a degraded ephemeral store drops the
// increment with a logged warning and the counts undercount until the
// store recovers. Nothing here ever blocks on the durable store.
type Recorder struct {
	store ephemeral.Store
	cfg   Config
	nowFn func() time.Time
}

// New creates a recorder writing to the given ephemeral store.
func New(store ephemeral.Store, cfg Config) *Recorder {
	return &Recorder{
		store: store,
		cfg:   cfg.normalized(),
		nowFn: time.Now,
	}
}

// RecordMessage counts one chat message and buffers it for the durable
// history. The event's Scope/Subject name the conversation and author.
func (r *Recorder) RecordMessage(ctx context.Context, evt stats.ChatEvent) {
	if !r.cfg.TrackMessages {
		return
	}

	now := r.nowFn()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = now
	}
	if err := evt.Validate(); err != nil {
		slog.Warn("[Recorder] Dropping invalid message event", "error", err)
		return
	}

	day := stats.DayOf(now)

	// Per-conversation counter.
	r.increment(ctx, stats.CounterKey{
		Metric: stats.MetricMessage, Day: day, Scope: evt.Scope, Subject: evt.Subject,
	}, r.cfg.MessageTTL)

	// Cross-conversation counter, so user totals work without a scope.
	r.increment(ctx, stats.CounterKey{
		Metric: stats.MetricMessage, Day: day, Scope: stats.ScopeGlobal, Subject: evt.Subject,
	}, r.cfg.MessageTTL)

	if r.cfg.SaveChatHistory {
		if err := r.store.Append(ctx, evt.Scope, evt); err != nil {
			slog.Warn("[Recorder] Failed to buffer message event",
				"scope", evt.Scope, "event_id", evt.EventID, "error", err)
		}
	}
}

// RecordCommand counts one command invocation for both the plugin that
// handled it and the user who issued it.
func (r *Recorder) RecordCommand(ctx context.Context, subject, pluginName string) {
	if !r.cfg.TrackCommands {
		return
	}
	if subject == "" || pluginName == "" {
		slog.Warn("[Recorder] Dropping command event with empty subject or plugin",
			"subject", subject, "plugin", pluginName)
		return
	}

	day := stats.DayOf(r.nowFn())

	r.increment(ctx, stats.CounterKey{
		Metric: stats.MetricCommand, Day: day, Scope: stats.ScopePlugins, Subject: pluginName,
	}, r.cfg.CommandTTL)

	r.increment(ctx, stats.CounterKey{
		Metric: stats.MetricCommand, Day: day, Scope: stats.ScopeGlobal, Subject: subject,
	}, r.cfg.CommandTTL)
}

func (r *Recorder) increment(ctx context.Context, key stats.CounterKey, ttl time.Duration) {
	if err := key.Validate(); err != nil {
		slog.Warn("[Recorder] Dropping increment with invalid key", "error", err)
		return
	}
	if _, err := r.store.Increment(ctx, key, 1); err != nil {
		slog.Warn("[Recorder] Dropped increment, ephemeral store degraded",
			"key", key.HashKey(), "subject", key.Subject, "error", err)
		return
	}
	if err := r.store.ExpireAfter(ctx, key, ttl); err != nil {
		slog.Warn("[Recorder] Failed to refresh counter TTL",
			"key", key.HashKey(), "error", err)
	}
}
