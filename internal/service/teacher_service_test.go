package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuslib/journal-loans-api/internal/models"
	appErrors "github.com/campuslib/journal-loans-api/pkg/errors"
)

type teacherStoreStub struct {
	items       map[string]models.Teacher
	deactivated []string
}

func (s *teacherStoreStub) List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, int, error) {
	result := make([]models.Teacher, 0, len(s.items))
	for _, item := range s.items {
		result = append(result, item)
	}
	return result, len(result), nil
}

func (s *teacherStoreStub) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	if item, ok := s.items[id]; ok {
		return &item, nil
	}
	return nil, sql.ErrNoRows
}

func (s *teacherStoreStub) ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error) {
	for _, item := range s.items {
		if item.ID == excludeID {
			continue
		}
		if item.Email != nil && *item.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *teacherStoreStub) Create(ctx context.Context, teacher *models.Teacher) error {
	if s.items == nil {
		s.items = make(map[string]models.Teacher)
	}
	if teacher.ID == "" {
		teacher.ID = "t-generated"
	}
	s.items[teacher.ID] = *teacher
	return nil
}

func (s *teacherStoreStub) Update(ctx context.Context, teacher *models.Teacher) error {
	if _, ok := s.items[teacher.ID]; !ok {
		return sql.ErrNoRows
	}
	s.items[teacher.ID] = *teacher
	return nil
}

func (s *teacherStoreStub) Deactivate(ctx context.Context, id string) error {
	item, ok := s.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	item.Status = models.TeacherStatusInactive
	s.items[id] = item
	s.deactivated = append(s.deactivated, id)
	return nil
}

type teacherLoanReaderStub struct {
	open []models.LoanRecord
}

func (s teacherLoanReaderStub) FindOpenByTeacher(ctx context.Context, teacherID string) ([]models.LoanRecord, error) {
	return s.open, nil
}

func TestTeacherServiceCreateDefaultsQuota(t *testing.T) {
	store := &teacherStoreStub{}
	svc := NewTeacherService(store, teacherLoanReaderStub{}, nil, nil)

	teacher, err := svc.Create(context.Background(), CreateTeacherRequest{Name: "Wang"})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultMaxBorrow, teacher.MaxBorrow)
	assert.Equal(t, models.TeacherStatusActive, teacher.Status)
	assert.Zero(t, teacher.CurrentBorrow)
}

func TestTeacherServiceCreateRejectsDuplicateEmail(t *testing.T) {
	email := "wang@campus.edu"
	store := &teacherStoreStub{items: map[string]models.Teacher{
		"t-1": {ID: "t-1", Email: &email},
	}}
	svc := NewTeacherService(store, teacherLoanReaderStub{}, nil, nil)

	_, err := svc.Create(context.Background(), CreateTeacherRequest{Name: "Other", Email: &email})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateID.Code, appErrors.FromError(err).Code)
}

func TestTeacherServiceUpdateQuotaCeiling(t *testing.T) {
	store := &teacherStoreStub{items: map[string]models.Teacher{
		"t-1": {ID: "t-1", Name: "Wang", MaxBorrow: 5, CurrentBorrow: 3},
	}}
	svc := NewTeacherService(store, teacherLoanReaderStub{}, nil, nil)

	max := 10
	teacher, err := svc.Update(context.Background(), "t-1", UpdateTeacherRequest{MaxBorrow: &max})
	require.NoError(t, err)
	assert.Equal(t, 10, teacher.MaxBorrow)
	// current_borrow is owned by the loan engine.
	assert.Equal(t, 3, teacher.CurrentBorrow)
}

func TestTeacherServiceUpdateRefusesQuotaBelowHeldLoans(t *testing.T) {
	store := &teacherStoreStub{items: map[string]models.Teacher{
		"t-1": {ID: "t-1", Name: "Wang", MaxBorrow: 5, CurrentBorrow: 3},
	}}
	svc := NewTeacherService(store, teacherLoanReaderStub{}, nil, nil)

	max := 2
	_, err := svc.Update(context.Background(), "t-1", UpdateTeacherRequest{MaxBorrow: &max})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	// The stored ceiling is untouched.
	assert.Equal(t, 5, store.items["t-1"].MaxBorrow)
}

func TestTeacherServiceUpdateNotFound(t *testing.T) {
	svc := NewTeacherService(&teacherStoreStub{}, teacherLoanReaderStub{}, nil, nil)
	name := "Nobody"
	_, err := svc.Update(context.Background(), "missing", UpdateTeacherRequest{Name: &name})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestTeacherServiceDeactivate(t *testing.T) {
	store := &teacherStoreStub{items: map[string]models.Teacher{"t-1": {ID: "t-1"}}}
	svc := NewTeacherService(store, teacherLoanReaderStub{}, nil, nil)

	require.NoError(t, svc.Deactivate(context.Background(), "t-1"))
	assert.Equal(t, []string{"t-1"}, store.deactivated)
	assert.Equal(t, models.TeacherStatusInactive, store.items["t-1"].Status)
}

func TestTeacherServiceBorrowStatus(t *testing.T) {
	store := &teacherStoreStub{items: map[string]models.Teacher{
		"t-1": {ID: "t-1", Name: "Wang", MaxBorrow: 5, CurrentBorrow: 2},
	}}
	reader := teacherLoanReaderStub{open: []models.LoanRecord{{ID: "loan-1"}, {ID: "loan-2"}}}
	svc := NewTeacherService(store, reader, nil, nil)

	status, err := svc.BorrowStatus(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, 3, status.Remaining)
	assert.Len(t, status.OpenLoans, 2)
}
