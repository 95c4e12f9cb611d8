package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/cathay-lab/chatstats/internal/core/stats"
	"github.com/cathay-lab/chatstats/internal/core/storage"
)

func TestAdapter_ApplyCounterDeltas(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	deltas := []storage.CounterDelta{
		{Metric: stats.MetricMessage, Day: "2026-08-29", Scope: "g1", Subject: "u1", Count: 3},
		{Metric: stats.MetricMessage, Day: "2026-08-29", Scope: "g1", Subject: "u2", Count: 0}, // skipped
		{Metric: stats.MetricCommand, Day: "2026-08-29", Scope: "plugins", Subject: "weather", Count: 1},
	}

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta(queryUpsertDailyCount))
	mock.ExpectPrepare(regexp.QuoteMeta(queryUpsertLifetimeTotal))

	mock.ExpectExec(regexp.QuoteMeta(queryUpsertDailyCount)).
		WithArgs("msg", "2026-08-29", "g1", "u1", int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryUpsertLifetimeTotal)).
		WithArgs("msg", "g1", "u1", int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(regexp.QuoteMeta(queryUpsertDailyCount)).
		WithArgs("cmd", "2026-08-29", "plugins", "weather", int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryUpsertLifetimeTotal)).
		WithArgs("cmd", "plugins", "weather", int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectCommit()

	err := adapter.ApplyCounterDeltas(context.Background(), deltas)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_ApplyCounterDeltasEmptyIsNoop(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	require.NoError(t, adapter.ApplyCounterDeltas(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_ApplyCounterDeltasRollsBackOnFailure(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	deltas := []storage.CounterDelta{
		{Metric: stats.MetricMessage, Day: "2026-08-29", Scope: "g1", Subject: "u1", Count: 3},
	}

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta(queryUpsertDailyCount))
	mock.ExpectPrepare(regexp.QuoteMeta(queryUpsertLifetimeTotal))
	mock.ExpectExec(regexp.QuoteMeta(queryUpsertDailyCount)).
		WithArgs("msg", "2026-08-29", "g1", "u1", int64(3), sqlmock.AnyArg()).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := adapter.ApplyCounterDeltas(context.Background(), deltas)
	require.Error(t, err)
	require.ErrorContains(t, err, "daily upsert")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_SumRange(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	days := []stats.Day{"2026-08-28", "2026-08-29"}

	mock.ExpectQuery(regexp.QuoteMeta(querySumRange)).
		WithArgs("msg", "g1", "u1", pq.Array([]string{"2026-08-28", "2026-08-29"})).
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(int64(7)))

	total, err := adapter.SumRange(context.Background(), stats.MetricMessage, "g1", "u1", days)
	require.NoError(t, err)
	require.Equal(t, int64(7), total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_SumRangeEmptyDays(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	total, err := adapter.SumRange(context.Background(), stats.MetricMessage, "g1", "u1", nil)
	require.NoError(t, err)
	require.Zero(t, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_SumRangeBySubject(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(querySumRangeBySubject)).
		WithArgs("msg", "g1", pq.Array([]string{"2026-08-29"})).
		WillReturnRows(sqlmock.NewRows([]string{"subject", "total"}).
			AddRow("u1", int64(5)).
			AddRow("u2", int64(2)))

	counts, err := adapter.SumRangeBySubject(context.Background(), stats.MetricMessage, "g1", []stats.Day{"2026-08-29"})
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"u1": 5, "u2": 2}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_LifetimeTotalMissingRowIsZero(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryLifetimeTotal)).
		WithArgs("msg", "g1", "nobody").
		WillReturnError(sql.ErrNoRows)

	total, err := adapter.LifetimeTotal(context.Background(), stats.MetricMessage, "g1", "nobody")
	require.NoError(t, err)
	require.Zero(t, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_InsertMessagesCountsOnlyNewRows(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	ts := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	events := []stats.ChatEvent{
		{EventID: "e1", Scope: "g1", Subject: "u1", Content: "hi", Timestamp: ts},
		{EventID: "e1", Scope: "g1", Subject: "u1", Content: "hi", Timestamp: ts}, // redelivery
	}

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta(queryInsertChatMessage))
	mock.ExpectExec(regexp.QuoteMeta(queryInsertChatMessage)).
		WithArgs("e1", "g1", "u1", "", "hi", "", ts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryInsertChatMessage)).
		WithArgs("e1", "g1", "u1", "", "hi", "", ts).
		WillReturnResult(sqlmock.NewResult(0, 0)) // conflict, ignored
	mock.ExpectCommit()

	inserted, err := adapter.InsertMessages(context.Background(), events)
	require.NoError(t, err)
	require.Equal(t, 1, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_PruneDailyBefore(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(queryPruneDailyBefore)).
		WithArgs("2026-05-31").
		WillReturnResult(sqlmock.NewResult(0, 12))

	removed, err := adapter.PruneDailyBefore(context.Background(), "2026-05-31")
	require.NoError(t, err)
	require.Equal(t, int64(12), removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_RecentMessages(t *testing.T) {
	adapter, mock, db := newMockAdapter(t)
	defer db.Close()

	ts := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryRecentMessages)).
		WithArgs("g1", 2).
		WillReturnRows(sqlmock.NewRows([]string{
			"event_id", "scope", "subject", "author_name", "content", "raw_content", "recorded_at",
		}).
			AddRow("e2", "g1", "u2", "Bea", "later", "", ts).
			AddRow("e1", "g1", "u1", "Ada", "earlier", "", ts.Add(-time.Minute)))

	events, err := adapter.RecentMessages(context.Background(), "g1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "e2", events[0].EventID)
	require.Equal(t, "e1", events[1].EventID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdapter_CloseReturnsDBCloseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	dbCloseErr := errors.New("db close failed")

	adapter := &Adapter{
		db:                    db,
		stmtSumRange:          mustPrepareStmt(t, db, mock, querySumRange),
		stmtSumRangeBySubject: mustPrepareStmt(t, db, mock, querySumRangeBySubject),
		stmtLifetimeTotal:     mustPrepareStmt(t, db, mock, queryLifetimeTotal),
		stmtLifetimeBySubject: mustPrepareStmt(t, db, mock, queryLifetimeBySubject),
		stmtRecentMessages:    mustPrepareStmt(t, db, mock, queryRecentMessages),
	}

	mock.ExpectClose().WillReturnError(dbCloseErr)

	err = adapter.Close()
	require.Error(t, err)
	require.ErrorContains(t, err, "close database")
	require.ErrorIs(t, err, dbCloseErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	adapter := &Adapter{
		db:                    db,
		stmtSumRange:          mustPrepareStmt(t, db, mock, querySumRange),
		stmtSumRangeBySubject: mustPrepareStmt(t, db, mock, querySumRangeBySubject),
		stmtLifetimeTotal:     mustPrepareStmt(t, db, mock, queryLifetimeTotal),
		stmtLifetimeBySubject: mustPrepareStmt(t, db, mock, queryLifetimeBySubject),
		stmtRecentMessages:    mustPrepareStmt(t, db, mock, queryRecentMessages),
	}

	return adapter, mock, db
}

func mustPrepareStmt(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock, query string) *sql.Stmt {
	t.Helper()

	mock.ExpectPrepare(regexp.QuoteMeta(query))
	stmt, err := db.Prepare(query)
	require.NoError(t, err)

	return stmt
}
