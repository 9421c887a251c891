package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campuslib/journal-loans-api/internal/models"
	appErrors "github.com/campuslib/journal-loans-api/pkg/errors"
)

const dialectPostgres = "postgres"

// LoanRepository owns loan records and the transactional borrow/return unit
// of work that keeps loan rows, teacher quotas and journal availability
// mutually consistent.
//
// Both mutations lock the teacher row before the journal row so concurrent
// Borrow and Return calls on the same pair cannot deadlock on each other.
type LoanRepository struct {
	db *sqlx.DB
}

// NewLoanRepository constructs a LoanRepository.
func NewLoanRepository(db *sqlx.DB) *LoanRepository {
	return &LoanRepository{db: db}
}

// BorrowParams carries the inputs for creating a loan.
type BorrowParams struct {
	LoanID    string
	TeacherID string
	JournalID string
	StartDate time.Time
	DueDate   time.Time
}

type lockedTeacher struct {
	CurrentBorrow int                  `db:"current_borrow"`
	MaxBorrow     int                  `db:"max_borrow"`
	Status        models.TeacherStatus `db:"status"`
}

type lockedJournal struct {
	AvailableQuantity int                  `db:"available_quantity"`
	Status            models.JournalStatus `db:"status"`
}

// Borrow creates a loan record and moves both counters inside one
// transaction. Precondition failures roll everything back; the one
// exception is availability, where the journal status is repaired to
// unavailable (it must already mean "zero copies") before the rejection is
// surfaced.
func (r *LoanRepository) Borrow(ctx context.Context, p BorrowParams) (loan *models.LoanRecord, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin borrow transaction: %w", mapStorageError(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var teacher lockedTeacher
	const lockTeacher = `SELECT current_borrow, max_borrow, status FROM teachers WHERE id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &teacher, lockTeacher, p.TeacherID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, fmt.Errorf("lock teacher: %w", mapStorageError(err))
	}

	var journal lockedJournal
	const lockJournal = `SELECT available_quantity, status FROM journals WHERE id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &journal, lockJournal, p.JournalID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "journal not found")
		}
		return nil, fmt.Errorf("lock journal: %w", mapStorageError(err))
	}

	if teacher.Status == models.TeacherStatusInactive {
		err = appErrors.Clone(appErrors.ErrConflict, "teacher account is inactive")
		return nil, err
	}

	if teacher.CurrentBorrow >= teacher.MaxBorrow {
		err = appErrors.Clone(appErrors.ErrQuotaExceeded, "teacher reached max concurrent loans")
		return nil, err
	}

	if journal.AvailableQuantity <= 0 {
		if journal.Status != models.JournalStatusUnavailable {
			const repair = `UPDATE journals SET status = 'unavailable', updated_at = $2 WHERE id = $1 AND available_quantity = 0`
			if _, execErr := tx.ExecContext(ctx, repair, p.JournalID, time.Now().UTC()); execErr == nil {
				_ = tx.Commit()
			} else {
				_ = tx.Rollback()
			}
		} else {
			_ = tx.Rollback()
		}
		return nil, appErrors.Clone(appErrors.ErrNoAvailability, "journal has no available copies")
	}

	now := time.Now().UTC()
	record := models.LoanRecord{
		ID:        p.LoanID,
		JournalID: p.JournalID,
		TeacherID: p.TeacherID,
		StartDate: p.StartDate,
		DueDate:   p.DueDate,
		Status:    models.LoanStatusBorrowed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	const insertLoan = `INSERT INTO loans (id, journal_id, teacher_id, start_date, due_date, status, created_at, updated_at)
		VALUES (:id, :journal_id, :teacher_id, :start_date, :due_date, :status, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertLoan, record); err != nil {
		err = mapStorageError(err)
		if appErrors.FromError(err).Code == appErrors.ErrDuplicateID.Code {
			err = appErrors.Clone(appErrors.ErrDuplicateID, "loan id already exists")
		}
		return nil, err
	}

	const bumpTeacher = `UPDATE teachers SET current_borrow = current_borrow + 1, updated_at = $2 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, bumpTeacher, p.TeacherID, now); err != nil {
		return nil, fmt.Errorf("increment teacher quota: %w", mapStorageError(err))
	}

	const takeCopy = `UPDATE journals
		SET available_quantity = available_quantity - 1,
		    status = CASE WHEN available_quantity - 1 <= 0 THEN 'unavailable' ELSE 'available' END,
		    updated_at = $2
		WHERE id = $1`
	if _, err = tx.ExecContext(ctx, takeCopy, p.JournalID, now); err != nil {
		return nil, fmt.Errorf("decrement journal availability: %w", mapStorageError(err))
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit borrow: %w", mapStorageError(err))
	}
	return &record, nil
}

// Return closes a loan and moves both counters back inside one transaction.
// A second Return on the same loan fails with ALREADY_RETURNED and changes
// nothing.
func (r *LoanRepository) Return(ctx context.Context, loanID string, returnDate time.Time) (loan *models.LoanRecord, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin return transaction: %w", mapStorageError(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var record models.LoanRecord
	const lockLoan = `SELECT id, journal_id, teacher_id, start_date, due_date, return_date, status, created_at, updated_at FROM loans WHERE id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &record, lockLoan, loanID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "loan not found")
		}
		return nil, fmt.Errorf("lock loan: %w", mapStorageError(err))
	}
	if record.Status == models.LoanStatusReturned {
		err = appErrors.Clone(appErrors.ErrAlreadyReturned, "loan already returned")
		return nil, err
	}

	// Same teacher-then-journal order as Borrow.
	var teacher lockedTeacher
	if err = tx.GetContext(ctx, &teacher, `SELECT current_borrow, max_borrow, status FROM teachers WHERE id = $1 FOR UPDATE`, record.TeacherID); err != nil {
		return nil, fmt.Errorf("lock teacher: %w", mapStorageError(err))
	}
	var journal lockedJournal
	if err = tx.GetContext(ctx, &journal, `SELECT available_quantity, status FROM journals WHERE id = $1 FOR UPDATE`, record.JournalID); err != nil {
		return nil, fmt.Errorf("lock journal: %w", mapStorageError(err))
	}

	now := time.Now().UTC()
	const closeLoan = `UPDATE loans SET status = 'returned', return_date = $2, updated_at = $3 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, closeLoan, loanID, returnDate, now); err != nil {
		return nil, fmt.Errorf("close loan: %w", mapStorageError(err))
	}

	const dropTeacher = `UPDATE teachers SET current_borrow = current_borrow - 1, updated_at = $2 WHERE id = $1 AND current_borrow > 0`
	if _, err = tx.ExecContext(ctx, dropTeacher, record.TeacherID, now); err != nil {
		return nil, fmt.Errorf("decrement teacher quota: %w", mapStorageError(err))
	}

	const freeCopy = `UPDATE journals SET available_quantity = available_quantity + 1, status = 'available', updated_at = $2 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, freeCopy, record.JournalID, now); err != nil {
		return nil, fmt.Errorf("increment journal availability: %w", mapStorageError(err))
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit return: %w", mapStorageError(err))
	}

	record.Status = models.LoanStatusReturned
	record.ReturnDate = &returnDate
	record.UpdatedAt = now
	return &record, nil
}

// ExtendDueDate pushes the due date of an open loan forward. Regressions
// are rejected and the stored date is left untouched.
func (r *LoanRepository) ExtendDueDate(ctx context.Context, loanID string, newDueDate time.Time) (loan *models.LoanRecord, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin extend transaction: %w", mapStorageError(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var record models.LoanRecord
	const lockLoan = `SELECT id, journal_id, teacher_id, start_date, due_date, return_date, status, created_at, updated_at FROM loans WHERE id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &record, lockLoan, loanID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "loan not found")
		}
		return nil, fmt.Errorf("lock loan: %w", mapStorageError(err))
	}
	if record.Status == models.LoanStatusReturned {
		err = appErrors.Clone(appErrors.ErrAlreadyReturned, "loan already returned, cannot extend")
		return nil, err
	}
	if newDueDate.Before(record.DueDate) {
		err = appErrors.Clone(appErrors.ErrInvalidDateOrder, "new due date precedes current due date")
		return nil, err
	}

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `UPDATE loans SET due_date = $2, updated_at = $3 WHERE id = $1`, loanID, newDueDate, now); err != nil {
		return nil, fmt.Errorf("extend due date: %w", mapStorageError(err))
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit extend: %w", mapStorageError(err))
	}

	record.DueDate = newDueDate
	record.UpdatedAt = now
	return &record, nil
}

// UpdateStatus overrides a loan's stored status without touching counters.
func (r *LoanRepository) UpdateStatus(ctx context.Context, loanID string, status models.LoanStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE loans SET status = $2, updated_at = $3 WHERE id = $1`, loanID, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update loan status: %w", mapStorageError(err))
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindByID fetches a loan by ID.
func (r *LoanRepository) FindByID(ctx context.Context, id string) (*models.LoanRecord, error) {
	const query = `SELECT id, journal_id, teacher_id, start_date, due_date, return_date, status, created_at, updated_at FROM loans WHERE id = $1`
	var record models.LoanRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

var loanSortColumns = map[string]string{
	"start_date": "loans.start_date",
	"due_date":   "loans.due_date",
	"status":     "loans.status",
	"created_at": "loans.created_at",
}

func loanSelect(filter models.LoanFilter) (*goqu.SelectDataset, *goqu.SelectDataset) {
	dialect := goqu.Dialect(dialectPostgres)

	conditions := make([]goqu.Expression, 0, 4)
	if filter.TeacherID != "" {
		conditions = append(conditions, goqu.Ex{"loans.teacher_id": filter.TeacherID})
	}
	if filter.JournalID != "" {
		conditions = append(conditions, goqu.Ex{"loans.journal_id": filter.JournalID})
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		conditions = append(conditions, goqu.Ex{"loans.status": statuses})
	}
	if filter.OverdueOn != nil {
		conditions = append(conditions, goqu.Or(
			goqu.Ex{"loans.status": string(models.LoanStatusOverdue)},
			goqu.And(
				goqu.Ex{"loans.status": string(models.LoanStatusBorrowed)},
				goqu.I("loans.due_date").Lt(*filter.OverdueOn),
			),
		))
	}

	rows := dialect.From("loans").
		Join(goqu.T("teachers"), goqu.On(goqu.I("loans.teacher_id").Eq(goqu.I("teachers.id")))).
		Join(goqu.T("journals"), goqu.On(goqu.I("loans.journal_id").Eq(goqu.I("journals.id")))).
		Select(
			goqu.I("loans.id"), goqu.I("loans.journal_id"), goqu.I("loans.teacher_id"),
			goqu.I("loans.start_date"), goqu.I("loans.due_date"), goqu.I("loans.return_date"),
			goqu.I("loans.status"), goqu.I("loans.created_at"), goqu.I("loans.updated_at"),
			goqu.I("teachers.name").As("teacher_name"),
			goqu.I("journals.name").As("journal_name"),
		).
		Where(conditions...)

	count := dialect.From("loans").Select(goqu.COUNT(goqu.Star())).Where(conditions...)
	return rows, count
}

// List returns loan details matching the filter along with the total count
// computed over the same predicate.
func (r *LoanRepository) List(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, int, error) {
	filter.Normalize()
	rows, count := loanSelect(filter)

	column, ok := loanSortColumns[filter.SortField]
	if !ok {
		column = "loans.created_at"
	}
	if filter.SortOrder == models.SortDesc {
		rows = rows.Order(goqu.I(column).Desc())
	} else {
		rows = rows.Order(goqu.I(column).Asc())
	}
	rows = rows.Limit(uint(filter.PageSize)).Offset(uint(filter.Offset()))

	query, args, err := rows.Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build loan list query: %w", err)
	}
	var items []models.LoanDetail
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list loans: %w", err)
	}

	countQuery, countArgs, err := count.Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build loan count query: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count loans: %w", err)
	}

	return items, total, nil
}

// Find returns loan details without paging metadata, honoring an optional
// row limit. Used by the unpaged list endpoints.
func (r *LoanRepository) Find(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, error) {
	rows, _ := loanSelect(filter)
	rows = rows.Order(goqu.I("loans.due_date").Asc())
	if filter.Limit > 0 {
		rows = rows.Limit(uint(filter.Limit))
	}

	query, args, err := rows.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build loan query: %w", err)
	}
	var items []models.LoanDetail
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("find loans: %w", err)
	}
	return items, nil
}

// FindOpenByTeacher lists a teacher's loans that still hold a copy.
func (r *LoanRepository) FindOpenByTeacher(ctx context.Context, teacherID string) ([]models.LoanRecord, error) {
	const query = `SELECT id, journal_id, teacher_id, start_date, due_date, return_date, status, created_at, updated_at
		FROM loans WHERE teacher_id = $1 AND status <> 'returned' ORDER BY due_date ASC`
	var records []models.LoanRecord
	if err := r.db.SelectContext(ctx, &records, query, teacherID); err != nil {
		return nil, fmt.Errorf("open loans by teacher: %w", err)
	}
	return records, nil
}

// FindOpenByJournal lists the open loans holding copies of a journal.
func (r *LoanRepository) FindOpenByJournal(ctx context.Context, journalID string) ([]models.LoanRecord, error) {
	const query = `SELECT id, journal_id, teacher_id, start_date, due_date, return_date, status, created_at, updated_at
		FROM loans WHERE journal_id = $1 AND status <> 'returned' ORDER BY due_date ASC`
	var records []models.LoanRecord
	if err := r.db.SelectContext(ctx, &records, query, journalID); err != nil {
		return nil, fmt.Errorf("open loans by journal: %w", err)
	}
	return records, nil
}

// FindUpcomingDue lists borrowed loans whose due date falls inside
// [today, today+windowDays], both bounds inclusive.
func (r *LoanRepository) FindUpcomingDue(ctx context.Context, today time.Time, windowDays int) ([]models.LoanDetail, error) {
	dialect := goqu.Dialect(dialectPostgres)
	rows := dialect.From("loans").
		Join(goqu.T("teachers"), goqu.On(goqu.I("loans.teacher_id").Eq(goqu.I("teachers.id")))).
		Join(goqu.T("journals"), goqu.On(goqu.I("loans.journal_id").Eq(goqu.I("journals.id")))).
		Select(
			goqu.I("loans.id"), goqu.I("loans.journal_id"), goqu.I("loans.teacher_id"),
			goqu.I("loans.start_date"), goqu.I("loans.due_date"), goqu.I("loans.return_date"),
			goqu.I("loans.status"), goqu.I("loans.created_at"), goqu.I("loans.updated_at"),
			goqu.I("teachers.name").As("teacher_name"),
			goqu.I("journals.name").As("journal_name"),
		).
		Where(
			goqu.Ex{"loans.status": string(models.LoanStatusBorrowed)},
			goqu.I("loans.due_date").Gte(today),
			goqu.I("loans.due_date").Lte(today.AddDate(0, 0, windowDays)),
		).
		Order(goqu.I("loans.due_date").Asc())

	query, args, err := rows.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build upcoming due query: %w", err)
	}
	var items []models.LoanDetail
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("upcoming due loans: %w", err)
	}
	return items, nil
}
