package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuslib/journal-loans-api/internal/models"
	"github.com/campuslib/journal-loans-api/internal/repository"
	"github.com/campuslib/journal-loans-api/internal/service"
	appErrors "github.com/campuslib/journal-loans-api/pkg/errors"
	"github.com/campuslib/journal-loans-api/pkg/response"
)

type loanStoreMock struct {
	borrowErr error
	returnErr error
	record    models.LoanRecord
	details   []models.LoanDetail
}

func (m *loanStoreMock) Borrow(ctx context.Context, p repository.BorrowParams) (*models.LoanRecord, error) {
	if m.borrowErr != nil {
		return nil, m.borrowErr
	}
	record := m.record
	record.TeacherID = p.TeacherID
	record.JournalID = p.JournalID
	record.StartDate = p.StartDate
	record.DueDate = p.DueDate
	return &record, nil
}

func (m *loanStoreMock) Return(ctx context.Context, loanID string, returnDate time.Time) (*models.LoanRecord, error) {
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	record := m.record
	record.ID = loanID
	record.Status = models.LoanStatusReturned
	record.ReturnDate = &returnDate
	return &record, nil
}

func (m *loanStoreMock) ExtendDueDate(ctx context.Context, loanID string, newDueDate time.Time) (*models.LoanRecord, error) {
	record := m.record
	record.ID = loanID
	record.DueDate = newDueDate
	return &record, nil
}

func (m *loanStoreMock) UpdateStatus(ctx context.Context, loanID string, status models.LoanStatus) error {
	return nil
}

func (m *loanStoreMock) FindByID(ctx context.Context, id string) (*models.LoanRecord, error) {
	record := m.record
	record.ID = id
	return &record, nil
}

func (m *loanStoreMock) List(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, int, error) {
	return m.details, len(m.details), nil
}

func (m *loanStoreMock) Find(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, error) {
	return m.details, nil
}

func (m *loanStoreMock) FindUpcomingDue(ctx context.Context, today time.Time, windowDays int) ([]models.LoanDetail, error) {
	return m.details, nil
}

type teacherExistsMock struct{}

func (teacherExistsMock) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	return &models.Teacher{ID: id, Status: models.TeacherStatusActive}, nil
}

type journalExistsMock struct{}

func (journalExistsMock) FindByID(ctx context.Context, id string) (*models.Journal, error) {
	return &models.Journal{ID: id}, nil
}

func newLoanRouter(store *loanStoreMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := service.NewLoanService(store, teacherExistsMock{}, journalExistsMock{}, nil, nil, nil, nil, service.LoanServiceConfig{})
	handler := NewLoanHandler(svc)

	router := gin.New()
	router.POST("/loans", handler.Borrow)
	router.PUT("/loans/:id/return", handler.Return)
	router.PUT("/loans/:id/extend", handler.Extend)
	router.GET("/loans/overdue", handler.ListOverdue)
	router.GET("/loans/:id", handler.Get)
	return router
}

func TestLoanHandlerBorrowCreated(t *testing.T) {
	store := &loanStoreMock{record: models.LoanRecord{ID: "loan-1", Status: models.LoanStatusBorrowed}}
	router := newLoanRouter(store)

	body := bytes.NewBufferString(`{"teacher_id":"t-1","journal_id":"j-1"}`)
	req, _ := http.NewRequest(http.MethodPost, "/loans", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Nil(t, envelope.Error)
}

func TestLoanHandlerBorrowQuotaConflict(t *testing.T) {
	store := &loanStoreMock{borrowErr: appErrors.Clone(appErrors.ErrQuotaExceeded, "teacher reached max concurrent loans")}
	router := newLoanRouter(store)

	body := bytes.NewBufferString(`{"teacher_id":"t-1","journal_id":"j-1"}`)
	req, _ := http.NewRequest(http.MethodPost, "/loans", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, appErrors.ErrQuotaExceeded.Code, envelope.Error.Code)
}

func TestLoanHandlerBorrowInvalidBody(t *testing.T) {
	router := newLoanRouter(&loanStoreMock{})

	req, _ := http.NewRequest(http.MethodPost, "/loans", bytes.NewBufferString(`{"teacher_id":`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoanHandlerReturnAlreadyReturned(t *testing.T) {
	store := &loanStoreMock{returnErr: appErrors.Clone(appErrors.ErrAlreadyReturned, "loan already returned")}
	router := newLoanRouter(store)

	req, _ := http.NewRequest(http.MethodPut, "/loans/loan-1/return", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, appErrors.ErrAlreadyReturned.Code, envelope.Error.Code)
}

func TestLoanHandlerListOverduePagination(t *testing.T) {
	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &loanStoreMock{details: []models.LoanDetail{
		{LoanRecord: models.LoanRecord{ID: "loan-1", DueDate: due, Status: models.LoanStatusBorrowed}, TeacherName: "Wang", JournalName: "Nature"},
	}}
	router := newLoanRouter(store)

	req, _ := http.NewRequest(http.MethodGet, "/loans/overdue?page=1&limit=10", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Pagination)
	assert.Equal(t, 1, envelope.Pagination.TotalCount)
	assert.False(t, envelope.Pagination.HasNext)
}
