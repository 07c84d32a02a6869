package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStore(mock, "")
	require.NoError(t, err)

	id := uuid.MustParse("0190a0d2-6c1e-7a3b-9c4d-5e6f708192a3")
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Hour)
	totals := RunTotals{Points: 10, Processed: 10, Stored: 30, Skipped: 8, Failed: 2}

	mock.ExpectExec("INSERT INTO ingest_runs").
		WithArgs(id, started, RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE ingest_runs").
		WithArgs(finished, RunSucceeded, 10, 10, 30, 8, 2, pgxmock.AnyArg(), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.StartRun(context.Background(), id, started))
	require.NoError(t, store.FinishRun(context.Background(), id, finished, RunSucceeded, totals, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreFinishUnknownRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStore(mock, "runs")
	require.NoError(t, err)

	id := uuid.New()
	msg := "canceled"
	mock.ExpectExec("UPDATE runs").
		WithArgs(pgxmock.AnyArg(), RunCanceled, 0, 0, 0, 0, 0, pgxmock.AnyArg(), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.FinishRun(context.Background(), id, time.Now(), RunCanceled, RunTotals{}, &msg)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreGetRunNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStore(mock, "")
	require.NoError(t, err)

	id := uuid.New()
	mock.ExpectQuery("SELECT id, started_at").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err = store.GetRun(context.Background(), id)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreStartError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStore(mock, "")
	require.NoError(t, err)

	id := uuid.New()
	mock.ExpectExec("INSERT INTO ingest_runs").
		WithArgs(id, pgxmock.AnyArg(), RunRunning).
		WillReturnError(errors.New("read-only transaction"))

	require.Error(t, store.StartRun(context.Background(), id, time.Now()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRunStoreRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRunStore(mock, "1runs")
	require.Error(t, err)
}
