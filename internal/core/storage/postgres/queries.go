package postgres

// SQL for the durable aggregate tables and the chat message log.
//
// Counter merges are additive deltas: every upsert adds into the stored
// count instead of overwriting it, which is what makes reconciliation
// retries safe.

const (
	// queryUpsertDailyCount adds a delta into the per-day running count.
	queryUpsertDailyCount = `
		INSERT INTO daily_counts (metric, day, scope, subject, running_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (metric, day, scope, subject)
		DO UPDATE SET
			running_count = daily_counts.running_count + EXCLUDED.running_count,
			updated_at    = EXCLUDED.updated_at
	`

	// queryUpsertLifetimeTotal adds the same delta into the lifetime total.
	queryUpsertLifetimeTotal = `
		INSERT INTO lifetime_totals (metric, scope, subject, total_count, last_sync_time)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (metric, scope, subject)
		DO UPDATE SET
			total_count    = lifetime_totals.total_count + EXCLUDED.total_count,
			last_sync_time = EXCLUDED.last_sync_time
	`

	querySumRange = `
		SELECT COALESCE(SUM(running_count), 0)
		FROM daily_counts
		WHERE metric = $1 AND scope = $2 AND subject = $3 AND day = ANY($4)
	`

	querySumRangeBySubject = `
		SELECT subject, SUM(running_count)
		FROM daily_counts
		WHERE metric = $1 AND scope = $2 AND day = ANY($3)
		GROUP BY subject
	`

	queryLifetimeTotal = `
		SELECT total_count
		FROM lifetime_totals
		WHERE metric = $1 AND scope = $2 AND subject = $3
	`

	queryLifetimeBySubject = `
		SELECT subject, total_count
		FROM lifetime_totals
		WHERE metric = $1 AND scope = $2
	`

	queryPruneDailyBefore = `DELETE FROM daily_counts WHERE day < $1`

	// queryInsertChatMessage is insert-or-ignore on event_id, so a ring
	// buffer overflow that is drained twice leaves exactly one row.
	queryInsertChatMessage = `
		INSERT INTO chat_message_log (
			event_id, scope, subject, author_name, content, raw_content, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`

	queryRecentMessages = `
		SELECT event_id, scope, subject, author_name, content, raw_content, recorded_at
		FROM chat_message_log
		WHERE scope = $1
		ORDER BY recorded_at DESC, event_id DESC
		LIMIT $2
	`
)
