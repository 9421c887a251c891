package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campuslib/journal-loans-api/internal/models"
)

// ReportRepository persists asynchronous report jobs.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs a ReportRepository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a queued report job.
func (r *ReportRepository) Create(ctx context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = models.ReportStatusQueued
	}

	const query = `INSERT INTO report_jobs (id, type, format, status, file_path, error_message, created_at, finished_at)
		VALUES (:id, :type, :format, :status, :file_path, :error_message, :created_at, :finished_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create report job: %w", mapStorageError(err))
	}
	return nil
}

// FindByID fetches a report job.
func (r *ReportRepository) FindByID(ctx context.Context, id string) (*models.ReportJob, error) {
	const query = `SELECT id, type, format, status, file_path, error_message, created_at, finished_at FROM report_jobs WHERE id = $1`
	var job models.ReportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateReportJobParams carries the mutable job fields.
type UpdateReportJobParams struct {
	Status       *models.ReportStatus
	FilePath     *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

// Update applies the provided fields to a job.
func (r *ReportRepository) Update(ctx context.Context, id string, params UpdateReportJobParams) error {
	const query = `UPDATE report_jobs SET
		status = COALESCE($2, status),
		file_path = COALESCE($3, file_path),
		error_message = COALESCE($4, error_message),
		finished_at = COALESCE($5, finished_at)
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, params.Status, params.FilePath, params.ErrorMessage, params.FinishedAt)
	if err != nil {
		return fmt.Errorf("update report job: %w", mapStorageError(err))
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
