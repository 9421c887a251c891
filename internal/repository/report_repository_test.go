package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuslib/journal-loans-api/internal/models"
)

func newReportRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
		db.Close()
	}
	return sqlxDB, mock, cleanup
}

func TestReportRepositoryCreateDefaults(t *testing.T) {
	db, mock, cleanup := newReportRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO report_jobs")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	job := &models.ReportJob{Type: models.ReportTypeOverdueLoans, Format: models.ReportFormatCSV}
	require.NoError(t, repo.Create(context.Background(), job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.ReportStatusQueued, job.Status)
	assert.False(t, job.CreatedAt.IsZero())
}

func TestReportRepositoryUpdateCoalesces(t *testing.T) {
	db, mock, cleanup := newReportRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	status := models.ReportStatusCompleted
	path := "overdue_loans.csv"
	finished := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE report_jobs SET")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Update(context.Background(), "job-1", UpdateReportJobParams{
		Status:     &status,
		FilePath:   &path,
		FinishedAt: &finished,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportRepositoryUpdateNotFound(t *testing.T) {
	db, mock, cleanup := newReportRepoMock(t)
	defer cleanup()
	repo := NewReportRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE report_jobs SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), "missing", UpdateReportJobParams{})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
