package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campuslib/journal-loans-api/internal/models"
)

// JournalRepository manages persistence for the journal catalogue.
type JournalRepository struct {
	db *sqlx.DB
}

// NewJournalRepository constructs a JournalRepository.
func NewJournalRepository(db *sqlx.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

const journalColumns = "id, name, issn, category, publisher, publish_date, issue_number, description, total_quantity, available_quantity, status, created_at, updated_at"

// List returns journals matching filters along with total count.
func (r *JournalRepository) List(ctx context.Context, filter models.JournalFilter) ([]models.Journal, int, error) {
	base := "FROM journals WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		search := "%" + strings.ToLower(filter.Search) + "%"
		conditions = append(conditions, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(COALESCE(publisher, '')) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, search)
	}
	if filter.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)+1))
		args = append(args, filter.Category)
	}
	if filter.ISSN != "" {
		conditions = append(conditions, fmt.Sprintf("issn = $%d", len(args)+1))
		args = append(args, filter.ISSN)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	filter.Normalize()
	allowedSorts := map[string]string{
		"name":               "name",
		"category":           "category",
		"available_quantity": "available_quantity",
		"created_at":         "created_at",
	}
	column, ok := allowedSorts[filter.SortField]
	if !ok {
		column = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", journalColumns, base, column, order, filter.PageSize, filter.Offset())
	var journals []models.Journal
	if err := r.db.SelectContext(ctx, &journals, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list journals: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count journals: %w", err)
	}

	return journals, total, nil
}

// FindByID fetches a journal by ID.
func (r *JournalRepository) FindByID(ctx context.Context, id string) (*models.Journal, error) {
	query := fmt.Sprintf("SELECT %s FROM journals WHERE id = $1", journalColumns)
	var journal models.Journal
	if err := r.db.GetContext(ctx, &journal, query, id); err != nil {
		return nil, err
	}
	return &journal, nil
}

// FindByISSN fetches a journal by ISSN.
func (r *JournalRepository) FindByISSN(ctx context.Context, issn string) (*models.Journal, error) {
	query := fmt.Sprintf("SELECT %s FROM journals WHERE issn = $1", journalColumns)
	var journal models.Journal
	if err := r.db.GetContext(ctx, &journal, query, issn); err != nil {
		return nil, err
	}
	return &journal, nil
}

// Create inserts a new journal record.
func (r *JournalRepository) Create(ctx context.Context, journal *models.Journal) error {
	if journal.ID == "" {
		journal.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if journal.CreatedAt.IsZero() {
		journal.CreatedAt = now
	}
	journal.UpdatedAt = now

	const query = `INSERT INTO journals (id, name, issn, category, publisher, publish_date, issue_number, description, total_quantity, available_quantity, status, created_at, updated_at)
		VALUES (:id, :name, :issn, :category, :publisher, :publish_date, :issue_number, :description, :total_quantity, :available_quantity, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, journal); err != nil {
		return fmt.Errorf("create journal: %w", mapStorageError(err))
	}
	return nil
}

// Update modifies catalogue metadata. The statement never touches
// total_quantity, available_quantity or status: the counters belong to
// the loan transactions and Resize, and writing a snapshot back here
// could undo a concurrent borrow's decrement.
func (r *JournalRepository) Update(ctx context.Context, journal *models.Journal) error {
	journal.UpdatedAt = time.Now().UTC()
	const query = `UPDATE journals SET name = :name, issn = :issn, category = :category, publisher = :publisher, publish_date = :publish_date, issue_number = :issue_number, description = :description, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, journal)
	if err != nil {
		return fmt.Errorf("update journal: %w", mapStorageError(err))
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Resize changes total_quantity in a single statement, shifting
// available_quantity by the same delta against the current row values so
// copies on loan stay constant even when loans commit concurrently. The
// WHERE guard refuses totals below the number of copies on loan; callers
// see sql.ErrNoRows both for that and for a missing journal.
func (r *JournalRepository) Resize(ctx context.Context, id string, newTotal int) (*models.Journal, error) {
	query := `UPDATE journals
		SET total_quantity = $2,
			available_quantity = available_quantity + ($2 - total_quantity),
			status = CASE WHEN available_quantity + ($2 - total_quantity) <= 0 THEN 'unavailable' ELSE 'available' END,
			updated_at = $3
		WHERE id = $1 AND total_quantity - available_quantity <= $2
		RETURNING ` + journalColumns
	var journal models.Journal
	if err := r.db.GetContext(ctx, &journal, query, id, newTotal, time.Now().UTC()); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("resize journal: %w", mapStorageError(err))
	}
	return &journal, nil
}

// Delete removes a journal record.
func (r *JournalRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM journals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete journal: %w", mapStorageError(err))
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// OpenLoanCount counts loans on the journal still holding a copy.
func (r *JournalRepository) OpenLoanCount(ctx context.Context, id string) (int, error) {
	const query = `SELECT COUNT(*) FROM loans WHERE journal_id = $1 AND status <> 'returned'`
	var count int
	if err := r.db.GetContext(ctx, &count, query, id); err != nil {
		return 0, fmt.Errorf("count open loans: %w", err)
	}
	return count, nil
}
