package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/campuslib/journal-loans-api/internal/models"
	"github.com/campuslib/journal-loans-api/internal/repository"
	appErrors "github.com/campuslib/journal-loans-api/pkg/errors"
	"github.com/campuslib/journal-loans-api/pkg/jobs"
)

type reportJobStore interface {
	Create(ctx context.Context, job *models.ReportJob) error
	FindByID(ctx context.Context, id string) (*models.ReportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type exportGenerator interface {
	Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error)
}

type tokenExporter interface {
	exportGenerator
	SignedURL(reportID, relPath string) (string, error)
	ParseToken(token string, allowExpired bool) (reportID, relPath string, expiresAt time.Time, err error)
	Open(relPath string) (*os.File, error)
	Cleanup(ttl time.Duration) ([]string, error)
}

// CreateReportRequest describes a new export request.
type CreateReportRequest struct {
	Type   string `json:"type" validate:"required,oneof=overdue_loans loan_activity"`
	Format string `json:"format" validate:"required,oneof=csv pdf"`
}

// ReportStatusResponse is the polling payload for one job.
type ReportStatusResponse struct {
	ID          string              `json:"id"`
	Type        models.ReportType   `json:"type"`
	Format      models.ReportFormat `json:"format"`
	Status      models.ReportStatus `json:"status"`
	DownloadURL *string             `json:"download_url,omitempty"`
	Error       *string             `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	FinishedAt  *time.Time          `json:"finished_at,omitempty"`
}

// ReportDownload aggregates resolved download data.
type ReportDownload struct {
	File      *os.File
	Filename  string
	Format    models.ReportFormat
	ExpiresAt time.Time
}

// ReportServiceConfig governs cleanup behaviour.
type ReportServiceConfig struct {
	ResultTTL       time.Duration
	CleanupInterval time.Duration
}

// ReportService orchestrates the report job lifecycle: queued jobs are
// picked up by the worker, rendered by the exporter, and downloaded
// through short-lived signed tokens.
type ReportService struct {
	repo     reportJobStore
	queue    jobDispatcher
	exporter tokenExporter
	logger   *zap.Logger
	cfg      ReportServiceConfig
}

// NewReportService constructs the report service.
func NewReportService(repo reportJobStore, queue jobDispatcher, exporter tokenExporter, logger *zap.Logger, cfg ReportServiceConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ReportService{
		repo:     repo,
		queue:    queue,
		exporter: exporter,
		logger:   logger,
		cfg:      cfg,
	}
}

// CreateJob persists a queued job and enqueues processing.
func (s *ReportService) CreateJob(ctx context.Context, req CreateReportRequest) (*models.ReportJob, error) {
	reportType := models.ReportType(req.Type)
	format := models.ReportFormat(req.Format)
	if reportType != models.ReportTypeOverdueLoans && reportType != models.ReportTypeLoanActivity {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported report type")
	}
	if format != models.ReportFormatCSV && format != models.ReportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported report format")
	}

	job := &models.ReportJob{
		Type:   reportType,
		Format: format,
		Status: models.ReportStatusQueued,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
		status := models.ReportStatusFailed
		msg := "failed to enqueue job"
		now := time.Now().UTC()
		_ = s.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{
			Status:       &status,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue report job")
	}
	return job, nil
}

// GetStatus exposes job metadata to clients. Completed jobs carry a fresh
// signed download URL minted from the stored file path.
func (s *ReportService) GetStatus(ctx context.Context, id string) (*ReportStatusResponse, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}

	resp := &ReportStatusResponse{
		ID:         job.ID,
		Type:       job.Type,
		Format:     job.Format,
		Status:     job.Status,
		CreatedAt:  job.CreatedAt,
		FinishedAt: job.FinishedAt,
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	if job.Status == models.ReportStatusCompleted && job.FilePath != nil {
		if url, err := s.exporter.SignedURL(job.ID, *job.FilePath); err == nil {
			resp.DownloadURL = &url
		} else {
			s.logger.Warn("failed to sign download url", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return resp, nil
}

// ResolveDownload validates the token and opens the stored export file.
func (s *ReportService) ResolveDownload(ctx context.Context, token string) (*ReportDownload, error) {
	reportID, relPath, expiresAt, err := s.exporter.ParseToken(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid or expired download token")
	}
	job, err := s.repo.FindByID(ctx, reportID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	if job.Status != models.ReportStatusCompleted || job.FilePath == nil || *job.FilePath != relPath {
		return nil, appErrors.Clone(appErrors.ErrConflict, "report not ready")
	}
	file, err := s.exporter.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ReportDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		Format:    job.Format,
		ExpiresAt: expiresAt,
	}, nil
}

// StartCleanup boots a goroutine that purges expired exports periodically.
func (s *ReportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.exporter.Cleanup(s.cfg.ResultTTL); err != nil {
					s.logger.Warn("export cleanup failed", zap.Error(err))
				}
			}
		}
	}()
}

// ReportWorker bridges queue jobs to the exporter.
type ReportWorker struct {
	repo       reportJobStore
	exporter   exportGenerator
	logger     *zap.Logger
	maxRetries int
}

// NewReportWorker constructs a worker.
func NewReportWorker(repo reportJobStore, exporter exportGenerator, maxRetries int, logger *zap.Logger) *ReportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ReportWorker{
		repo:       repo,
		exporter:   exporter,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// Handle processes one queue job. Failed generations requeue through the
// queue's retry machinery until maxRetries attempts are spent.
func (w *ReportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.FindByID(ctx, job.ID)
	if err != nil {
		return err
	}
	processing := models.ReportStatusProcessing
	if err := w.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{Status: &processing}); err != nil {
		return err
	}

	result, err := w.exporter.Generate(ctx, record)
	if err != nil {
		msg := err.Error()
		if job.Attempt >= w.maxRetries {
			failed := models.ReportStatusFailed
			now := time.Now().UTC()
			if updateErr := w.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{
				Status:       &failed,
				ErrorMessage: &msg,
				FinishedAt:   &now,
			}); updateErr != nil {
				w.logger.Warn("failed to mark job failed", zap.String("job_id", job.ID), zap.Error(updateErr))
			}
		} else {
			queued := models.ReportStatusQueued
			if updateErr := w.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{
				Status:       &queued,
				ErrorMessage: &msg,
			}); updateErr != nil {
				w.logger.Warn("failed to requeue job", zap.String("job_id", job.ID), zap.Error(updateErr))
			}
		}
		return err
	}

	completed := models.ReportStatusCompleted
	now := time.Now().UTC()
	if err := w.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{
		Status:     &completed,
		FilePath:   &result.RelativePath,
		FinishedAt: &now,
	}); err != nil {
		w.logger.Warn("failed to mark job completed", zap.String("job_id", job.ID), zap.Error(err))
		return err
	}
	w.logger.Info("report generated",
		zap.String("job_id", job.ID),
		zap.String("type", string(record.Type)),
		zap.String("file", result.RelativePath))
	return nil
}
