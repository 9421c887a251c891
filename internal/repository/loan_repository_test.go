package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuslib/journal-loans-api/internal/models"
	appErrors "github.com/campuslib/journal-loans-api/pkg/errors"
)

func newLoanRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
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

func activeTeacherRows(current, max int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"current_borrow", "max_borrow", "status"}).
		AddRow(current, max, "active")
}

func journalRows(available int, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"available_quantity", "status"}).
		AddRow(available, status)
}

func borrowParams() BorrowParams {
	start := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	return BorrowParams{
		TeacherID: "t-1",
		JournalID: "j-1",
		StartDate: start,
		DueDate:   start.AddDate(0, 0, 30),
	}
}

func TestLoanRepositoryBorrow(t *testing.T) {
	db, mock, cleanup := newLoanRepoMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT current_borrow, max_borrow, status FROM teachers WHERE id = $1 FOR UPDATE")).
		WithArgs("t-1").
		WillReturnRows(activeTeacherRows(1, 5))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT available_quantity, status FROM journals WHERE id = $1 FOR UPDATE")).
		WithArgs("j-1").
		WillReturnRows(journalRows(2, "available"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO loans")).
		WithArgs(sqlmock.AnyArg(), "j-1", "t-1", sqlmock.AnyArg(), sqlmock.AnyArg(), "borrowed", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE teachers SET current_borrow = current_borrow + 1")).
		WithArgs("t-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE journals")).
		WithArgs("j-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	record, err := repo.Borrow(context.Background(), borrowParams())
	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, models.LoanStatusBorrowed, record.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryBorrowKeepsCallerID(t *testing.T) {
	db, mock, cleanup := newLoanRepoMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM teachers")).WithArgs("t-1").WillReturnRows(activeTeacherRows(0, 5))
	mock.ExpectQuery(regexp.QuoteMeta("FROM journals")).WithArgs("j-1").WillReturnRows(journalRows(1, "available"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO loans")).
		WithArgs("loan-42", "j-1", "t-1", sqlmock.AnyArg(), sqlmock.AnyArg(), "borrowed", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE teachers")).WithArgs("t-1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE journals")).WithArgs("j-1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	params := borrowParams()
	params.LoanID = "loan-42"
	record, err := repo.Borrow(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "loan-42", record.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryBorrowTeacherNotFound(t *testing.T) {
	db, mock, cleanup := newLoanRepoMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM teachers")).WithArgs("t-1").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Borrow(context.Background(), borrowParams())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryBorrowQuotaExceeded(t *testing.T) {
	db, mock, cleanup := newLoanRepoMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM teachers")).WithArgs("t-1").WillReturnRows(activeTeacherRows(5, 5))
	mock.ExpectQuery(regexp.QuoteMeta("FROM journals")).WithArgs("j-1").WillReturnRows(journalRows(2, "available"))
	mock.ExpectRollback()

	_, err := repo.Borrow(context.Background(), borrowParams())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrQuotaExceeded.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryBorrowNoAvailabilityRepairsStatus(t *testing.T) {
	db, mock, cleanup := newLoanRepoMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM teachers")).WithArgs("t-1").WillReturnRows(activeTeacherRows(0, 5))
	mock.ExpectQuery(regexp.QuoteMeta("FROM journals")).WithArgs("j-1").WillReturnRows(journalRows(0, "available"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE journals SET status = 'unavailable'")).
		WithArgs("j-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	_, err := repo.Borrow(context.Background(), borrowParams())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoAvailability.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryBorrowInactiveTeacher(t *testing.T) {
	db, mock, cleanup := newLoanRepoMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	rows := sqlmock.NewRows([]string{"current_borrow", "max_borrow", "status"}).AddRow(0, 5, "inactive")
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM teachers")).WithArgs("t-1").WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("FROM journals")).WithArgs("j-1").WillReturnRows(journalRows(2, "available"))
	mock.ExpectRollback()

	_, err := repo.Borrow(context.Background(), borrowParams())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryBorrowDuplicateID(t *testing.T) {
	db, mock, cleanup := newLoanRepoMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM teachers")).WithArgs("t-1").WillReturnRows(activeTeacherRows(0, 5))
	mock.ExpectQuery(regexp.QuoteMeta("FROM journals")).WithArgs("j-1").WillReturnRows(journalRows(1, "available"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO loans")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	params := borrowParams()
	params.LoanID = "loan-dup"
	_, err := repo.Borrow(context.Background(), params)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateID.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryBorrowSerializationFailureIsTransient(t *testing.T) {
	db, mock, cleanup := newLoanRepoMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM teachers")).WithArgs("t-1").WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectRollback()

	_, err := repo.Borrow(context.Background(), borrowParams())
	require.Error(t, err)
	assert.True(t, appErrors.IsTransient(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func loanRow(id, status string, due time.Time) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "journal_id", "teacher_id", "start_date", "due_date", "return_date", "status", "created_at", "updated_at"}).
		AddRow(id, "j-1", "t-1", due.AddDate(0, 0, -30), due, nil, status, now, now)
}

func TestLoanRepositoryReturn(t *testing.T) {
	db, mock, cleanup := newLoanRepoMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	due := time.Date(2024, 2, 9, 0, 0, 0, 0, time.UTC)
	returnDate := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM loans WHERE id = $1 FOR UPDATE")).
		WithArgs("loan-1").
		WillReturnRows(loanRow("loan-1", "borrowed", due))
	mock.ExpectQuery(regexp.QuoteMeta("FROM teachers")).WithArgs("t-1").WillReturnRows(activeTeacherRows(2, 5))
	mock.ExpectQuery(regexp.QuoteMeta("FROM journals")).WithArgs("j-1").WillReturnRows(journalRows(0, "unavailable"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE loans SET status = 'returned'")).
		WithArgs("loan-1", returnDate, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE teachers SET current_borrow = current_borrow - 1")).
		WithArgs("t-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE journals SET available_quantity = available_quantity + 1, status = 'available'")).
		WithArgs("j-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	record, err := repo.Return(context.Background(), "loan-1", returnDate)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusReturned, record.Status)
	require.NotNil(t, record.ReturnDate)
	assert.Equal(t, returnDate, *record.ReturnDate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryReturnAlreadyReturned(t *testing.T) {
	db, mock, cleanup := newLoanRepoMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	due := time.Date(2024, 2, 9, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM loans WHERE id = $1 FOR UPDATE")).
		WithArgs("loan-1").
		WillReturnRows(loanRow("loan-1", "returned", due))
	mock.ExpectRollback()

	_, err := repo.Return(context.Background(), "loan-1", time.Now().UTC())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyReturned.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryExtendDueDate(t *testing.T) {
	db, mock, cleanup := newLoanRepoMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	due := time.Date(2024, 2, 9, 0, 0, 0, 0, time.UTC)
	newDue := due.AddDate(0, 0, 14)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM loans WHERE id = $1 FOR UPDATE")).
		WithArgs("loan-1").
		WillReturnRows(loanRow("loan-1", "borrowed", due))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE loans SET due_date = $2")).
		WithArgs("loan-1", newDue, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	record, err := repo.ExtendDueDate(context.Background(), "loan-1", newDue)
	require.NoError(t, err)
	assert.Equal(t, newDue, record.DueDate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryExtendRejectsRegression(t *testing.T) {
	db, mock, cleanup := newLoanRepoMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	due := time.Date(2024, 2, 9, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM loans WHERE id = $1 FOR UPDATE")).
		WithArgs("loan-1").
		WillReturnRows(loanRow("loan-1", "borrowed", due))
	mock.ExpectRollback()

	_, err := repo.ExtendDueDate(context.Background(), "loan-1", due.AddDate(0, 0, -1))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidDateOrder.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryExtendRejectsReturnedLoan(t *testing.T) {
	db, mock, cleanup := newLoanRepoMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	due := time.Date(2024, 2, 9, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM loans WHERE id = $1 FOR UPDATE")).
		WithArgs("loan-1").
		WillReturnRows(loanRow("loan-1", "returned", due))
	mock.ExpectRollback()

	_, err := repo.ExtendDueDate(context.Background(), "loan-1", due.AddDate(0, 0, 7))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyReturned.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryUpdateStatusNotFound(t *testing.T) {
	db, mock, cleanup := newLoanRepoMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE loans SET status = $2")).
		WithArgs("loan-x", "overdue", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "loan-x", models.LoanStatusOverdue)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryListOverduePredicate(t *testing.T) {
	db, mock, cleanup := newLoanRepoMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	today := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()
	detailRows := sqlmock.NewRows([]string{"id", "journal_id", "teacher_id", "start_date", "due_date", "return_date", "status", "created_at", "updated_at", "teacher_name", "journal_name"}).
		AddRow("loan-1", "j-1", "t-1", today.AddDate(0, 0, -40), today.AddDate(0, 0, -5), nil, "borrowed", now, now, "Wang", "Nature")

	// Page rows and count share the same overdue predicate.
	mock.ExpectQuery("SELECT .+ FROM \"loans\" INNER JOIN \"teachers\" .+ INNER JOIN \"journals\" .+").
		WillReturnRows(detailRows)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM \"loans\"").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	items, total, err := repo.List(context.Background(), models.LoanFilter{OverdueOn: &today})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Wang", items[0].TeacherName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoanRepositoryFindOpenByTeacher(t *testing.T) {
	db, mock, cleanup := newLoanRepoMock(t)
	defer cleanup()
	repo := NewLoanRepository(db)

	due := time.Date(2024, 2, 9, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM loans WHERE teacher_id = $1 AND status <> 'returned'")).
		WithArgs("t-1").
		WillReturnRows(loanRow("loan-1", "borrowed", due))

	records, err := repo.FindOpenByTeacher(context.Background(), "t-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "loan-1", records[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
