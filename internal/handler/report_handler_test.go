package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuslib/journal-loans-api/internal/models"
	"github.com/campuslib/journal-loans-api/internal/repository"
	"github.com/campuslib/journal-loans-api/internal/service"
	appErrors "github.com/campuslib/journal-loans-api/pkg/errors"
	"github.com/campuslib/journal-loans-api/pkg/jobs"
	"github.com/campuslib/journal-loans-api/pkg/response"
)

type reportStoreMock struct {
	job     *models.ReportJob
	findErr error
}

func (m *reportStoreMock) Create(ctx context.Context, job *models.ReportJob) error {
	job.ID = "job-1"
	job.CreatedAt = time.Now().UTC()
	m.job = job
	return nil
}

func (m *reportStoreMock) FindByID(ctx context.Context, id string) (*models.ReportJob, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.job == nil {
		return nil, sql.ErrNoRows
	}
	return m.job, nil
}

func (m *reportStoreMock) Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error {
	return nil
}

type dispatcherMock struct {
	enqueued []jobs.Job
}

func (m *dispatcherMock) Enqueue(job jobs.Job) error {
	m.enqueued = append(m.enqueued, job)
	return nil
}

type exporterMock struct {
	parseErr error
}

func (m *exporterMock) Generate(ctx context.Context, job *models.ReportJob) (*service.ExportResult, error) {
	return &service.ExportResult{RelativePath: "out.csv"}, nil
}

func (m *exporterMock) SignedURL(reportID, relPath string) (string, error) {
	return "/api/v1/reports/download/tok", nil
}

func (m *exporterMock) ParseToken(token string, allowExpired bool) (string, string, time.Time, error) {
	if m.parseErr != nil {
		return "", "", time.Time{}, m.parseErr
	}
	return "job-1", "out.csv", time.Now().Add(time.Hour), nil
}

func (m *exporterMock) Open(relPath string) (*os.File, error) {
	return nil, os.ErrNotExist
}

func (m *exporterMock) Cleanup(ttl time.Duration) ([]string, error) {
	return nil, nil
}

func newReportRouter(store *reportStoreMock, queue *dispatcherMock, exporter *exporterMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := service.NewReportService(store, queue, exporter, nil, service.ReportServiceConfig{})
	handler := NewReportHandler(svc)

	router := gin.New()
	router.POST("/reports", handler.Create)
	router.GET("/reports/:id", handler.Status)
	router.GET("/reports/download/:token", handler.Download)
	return router
}

func TestReportHandlerCreateAccepted(t *testing.T) {
	store := &reportStoreMock{}
	queue := &dispatcherMock{}
	router := newReportRouter(store, queue, &exporterMock{})

	body := bytes.NewBufferString(`{"type":"overdue_loans","format":"csv"}`)
	req, _ := http.NewRequest(http.MethodPost, "/reports", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, queue.enqueued, 1)
}

func TestReportHandlerCreateUnknownType(t *testing.T) {
	router := newReportRouter(&reportStoreMock{}, &dispatcherMock{}, &exporterMock{})

	body := bytes.NewBufferString(`{"type":"attendance","format":"csv"}`)
	req, _ := http.NewRequest(http.MethodPost, "/reports", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportHandlerStatusCompletedCarriesURL(t *testing.T) {
	path := "out.csv"
	store := &reportStoreMock{job: &models.ReportJob{
		ID:       "job-1",
		Type:     models.ReportTypeOverdueLoans,
		Format:   models.ReportFormatCSV,
		Status:   models.ReportStatusCompleted,
		FilePath: &path,
	}}
	router := newReportRouter(store, &dispatcherMock{}, &exporterMock{})

	req, _ := http.NewRequest(http.MethodGet, "/reports/job-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	data, ok := envelope.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "/api/v1/reports/download/tok", data["download_url"])
}

func TestReportHandlerStatusNotFound(t *testing.T) {
	router := newReportRouter(&reportStoreMock{}, &dispatcherMock{}, &exporterMock{})

	req, _ := http.NewRequest(http.MethodGet, "/reports/missing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, appErrors.ErrNotFound.Code, envelope.Error.Code)
}

func TestReportHandlerDownloadInvalidToken(t *testing.T) {
	exporter := &exporterMock{parseErr: appErrors.Clone(appErrors.ErrValidation, "bad token")}
	router := newReportRouter(&reportStoreMock{}, &dispatcherMock{}, exporter)

	req, _ := http.NewRequest(http.MethodGet, "/reports/download/bogus", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
