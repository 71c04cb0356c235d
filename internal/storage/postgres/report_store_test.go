package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/siteaudit/internal/store"
)

func TestUpsertJobResultWritesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reports, err := NewReportStoreWithPool(mock, "")
	require.NoError(t, err)

	score := 0.87
	result := store.JobResult{
		RunID:      uuid.New(),
		JobID:      "0a1b2c3d4e",
		URL:        "https://example.com/pricing",
		Path:       "/pricing",
		Status:     "completed",
		Score:      &score,
		Attempts:   1,
		Duration:   42 * time.Second,
		FinishedAt: time.Unix(1700000000, 0).UTC(),
	}

	mock.ExpectExec("INSERT INTO audit_jobs").
		WithArgs(
			result.RunID,
			result.JobID,
			result.URL,
			result.Path,
			result.Status,
			result.Score,
			result.Attempts,
			int64(42000),
			result.Note,
			result.FinishedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, reports.UpsertJobResult(context.Background(), result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertJobResultWrapsErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reports, err := NewReportStoreWithPool(mock, "custom_jobs")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO custom_jobs").WillReturnError(errors.New("connection reset"))

	err = reports.UpsertJobResult(context.Background(), store.JobResult{JobID: "x", RunID: uuid.New()})
	require.ErrorContains(t, err, "upsert job result")
	require.Error(t, reports.UpsertJobResult(context.Background(), store.JobResult{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	reports, err := NewReportStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_jobs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, reports.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewReportStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewReportStoreWithPool(mock, "bad;name")
	require.Error(t, err)

	_, err = NewReportStore(context.Background(), ReportStoreConfig{})
	require.Error(t, err)
}
