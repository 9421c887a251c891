package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuslib/journal-loans-api/internal/models"
	"github.com/campuslib/journal-loans-api/internal/repository"
	appErrors "github.com/campuslib/journal-loans-api/pkg/errors"
	"github.com/campuslib/journal-loans-api/pkg/jobs"
)

type reportStoreStub struct {
	jobs    map[string]models.ReportJob
	updates []repository.UpdateReportJobParams
}

func (s *reportStoreStub) Create(ctx context.Context, job *models.ReportJob) error {
	if s.jobs == nil {
		s.jobs = make(map[string]models.ReportJob)
	}
	if job.ID == "" {
		job.ID = "job-1"
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *reportStoreStub) FindByID(ctx context.Context, id string) (*models.ReportJob, error) {
	if job, ok := s.jobs[id]; ok {
		return &job, nil
	}
	return nil, sql.ErrNoRows
}

func (s *reportStoreStub) Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error {
	job, ok := s.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.updates = append(s.updates, params)
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.FilePath != nil {
		job.FilePath = params.FilePath
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	s.jobs[id] = job
	return nil
}

type dispatcherStub struct {
	enqueued []jobs.Job
	err      error
}

func (s *dispatcherStub) Enqueue(job jobs.Job) error {
	if s.err != nil {
		return s.err
	}
	s.enqueued = append(s.enqueued, job)
	return nil
}

type exporterStub struct {
	result    *ExportResult
	err       error
	generated int
}

func (s *exporterStub) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	s.generated++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func TestReportServiceCreateJobEnqueues(t *testing.T) {
	store := &reportStoreStub{}
	queue := &dispatcherStub{}
	svc := NewReportService(store, queue, nil, nil, ReportServiceConfig{})

	job, err := svc.CreateJob(context.Background(), CreateReportRequest{Type: "overdue_loans", Format: "csv"})
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusQueued, job.Status)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, job.ID, queue.enqueued[0].ID)
}

func TestReportServiceCreateJobRejectsUnknownType(t *testing.T) {
	svc := NewReportService(&reportStoreStub{}, &dispatcherStub{}, nil, nil, ReportServiceConfig{})
	_, err := svc.CreateJob(context.Background(), CreateReportRequest{Type: "popularity", Format: "csv"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReportServiceCreateJobMarksFailedOnEnqueueError(t *testing.T) {
	store := &reportStoreStub{}
	queue := &dispatcherStub{err: errors.New("queue stopped")}
	svc := NewReportService(store, queue, nil, nil, ReportServiceConfig{})

	_, err := svc.CreateJob(context.Background(), CreateReportRequest{Type: "loan_activity", Format: "pdf"})
	require.Error(t, err)
	stored := store.jobs["job-1"]
	assert.Equal(t, models.ReportStatusFailed, stored.Status)
}

func TestReportWorkerCompletesJob(t *testing.T) {
	store := &reportStoreStub{jobs: map[string]models.ReportJob{
		"job-1": {ID: "job-1", Type: models.ReportTypeOverdueLoans, Format: models.ReportFormatCSV, Status: models.ReportStatusQueued},
	}}
	exporter := &exporterStub{result: &ExportResult{RelativePath: "overdue_loans_x.csv"}}
	worker := NewReportWorker(store, exporter, 3, nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1"})
	require.NoError(t, err)
	job := store.jobs["job-1"]
	assert.Equal(t, models.ReportStatusCompleted, job.Status)
	require.NotNil(t, job.FilePath)
	assert.Equal(t, "overdue_loans_x.csv", *job.FilePath)
	require.NotNil(t, job.FinishedAt)
}

func TestReportWorkerRequeuesUntilBudgetExhausted(t *testing.T) {
	store := &reportStoreStub{jobs: map[string]models.ReportJob{
		"job-1": {ID: "job-1", Type: models.ReportTypeOverdueLoans, Format: models.ReportFormatCSV},
	}}
	exporter := &exporterStub{err: errors.New("render failed")}
	worker := NewReportWorker(store, exporter, 2, nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 0})
	require.Error(t, err)
	assert.Equal(t, models.ReportStatusQueued, store.jobs["job-1"].Status)

	err = worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 2})
	require.Error(t, err)
	job := store.jobs["job-1"]
	assert.Equal(t, models.ReportStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "render failed", *job.ErrorMessage)
}
