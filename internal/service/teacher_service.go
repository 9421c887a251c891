package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campuslib/journal-loans-api/internal/models"
	appErrors "github.com/campuslib/journal-loans-api/pkg/errors"
)

type teacherStore interface {
	List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, int, error)
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
	ExistsByEmail(ctx context.Context, email string, excludeID string) (bool, error)
	Create(ctx context.Context, teacher *models.Teacher) error
	Update(ctx context.Context, teacher *models.Teacher) error
	Deactivate(ctx context.Context, id string) error
}

type teacherLoanReader interface {
	FindOpenByTeacher(ctx context.Context, teacherID string) ([]models.LoanRecord, error)
}

// CreateTeacherRequest describes a new borrower record.
type CreateTeacherRequest struct {
	Name       string  `json:"name" validate:"required,max=255"`
	Department *string `json:"department" validate:"omitempty,max=100"`
	Email      *string `json:"email" validate:"omitempty,email,max=255"`
	Phone      *string `json:"phone" validate:"omitempty,max=32"`
	MaxBorrow  int     `json:"max_borrow" validate:"omitempty,min=1,max=50"`
}

// UpdateTeacherRequest describes a borrower profile edit. current_borrow is
// owned by the loan engine and not editable here.
type UpdateTeacherRequest struct {
	Name       *string `json:"name" validate:"omitempty,max=255"`
	Department *string `json:"department" validate:"omitempty,max=100"`
	Email      *string `json:"email" validate:"omitempty,email,max=255"`
	Phone      *string `json:"phone" validate:"omitempty,max=32"`
	MaxBorrow  *int    `json:"max_borrow" validate:"omitempty,min=1,max=50"`
	Status     *string `json:"status" validate:"omitempty,oneof=active inactive"`
}

// TeacherService manages borrower records and quota ceilings.
type TeacherService struct {
	teachers  teacherStore
	loans     teacherLoanReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTeacherService constructs TeacherService.
func NewTeacherService(teachers teacherStore, loans teacherLoanReader, validate *validator.Validate, logger *zap.Logger) *TeacherService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TeacherService{teachers: teachers, loans: loans, validator: validate, logger: logger}
}

// Create adds a teacher; max_borrow falls back to the default quota.
func (s *TeacherService) Create(ctx context.Context, req CreateTeacherRequest) (*models.Teacher, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teacher payload")
	}
	if req.Email != nil && *req.Email != "" {
		exists, err := s.teachers.ExistsByEmail(ctx, *req.Email, "")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrDuplicateID, "a teacher with this email already exists")
		}
	}

	maxBorrow := req.MaxBorrow
	if maxBorrow <= 0 {
		maxBorrow = models.DefaultMaxBorrow
	}
	teacher := models.Teacher{
		Name:       strings.TrimSpace(req.Name),
		Department: req.Department,
		Email:      req.Email,
		Phone:      req.Phone,
		MaxBorrow:  maxBorrow,
		Status:     models.TeacherStatusActive,
	}
	if err := s.teachers.Create(ctx, &teacher); err != nil {
		return nil, err
	}
	s.logger.Info("teacher created", zap.String("teacher_id", teacher.ID), zap.String("name", teacher.Name))
	return &teacher, nil
}

// Update edits a teacher's profile and quota ceiling.
func (s *TeacherService) Update(ctx context.Context, id string, req UpdateTeacherRequest) (*models.Teacher, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid teacher payload")
	}
	teacher, err := s.teachers.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}

	if req.Email != nil && *req.Email != "" {
		exists, err := s.teachers.ExistsByEmail(ctx, *req.Email, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrDuplicateID, "a teacher with this email already exists")
		}
	}

	if req.Name != nil {
		teacher.Name = strings.TrimSpace(*req.Name)
	}
	if req.Department != nil {
		teacher.Department = req.Department
	}
	if req.Email != nil {
		teacher.Email = req.Email
	}
	if req.Phone != nil {
		teacher.Phone = req.Phone
	}
	if req.MaxBorrow != nil {
		if *req.MaxBorrow < teacher.CurrentBorrow {
			return nil, appErrors.Clone(appErrors.ErrConflict, "max borrow cannot drop below loans currently held")
		}
		teacher.MaxBorrow = *req.MaxBorrow
	}
	if req.Status != nil {
		teacher.Status = models.TeacherStatus(*req.Status)
	}

	if err := s.teachers.Update(ctx, teacher); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, err
	}
	return teacher, nil
}

// Get fetches one teacher.
func (s *TeacherService) Get(ctx context.Context, id string) (*models.Teacher, error) {
	teacher, err := s.teachers.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	return teacher, nil
}

// List returns teachers with pagination metadata.
func (s *TeacherService) List(ctx context.Context, filter models.TeacherFilter) ([]models.Teacher, *models.Pagination, error) {
	items, total, err := s.teachers.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list teachers")
	}
	return items, models.NewPagination(filter.PageRequest, total), nil
}

// Deactivate blocks future borrows. Open loans stay open and must still be
// returned; the record is kept for loan history.
func (s *TeacherService) Deactivate(ctx context.Context, id string) error {
	if err := s.teachers.Deactivate(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate teacher")
	}
	s.logger.Info("teacher deactivated", zap.String("teacher_id", id))
	return nil
}

// BorrowStatus summarises a teacher's quota usage with their open loans.
func (s *TeacherService) BorrowStatus(ctx context.Context, id string) (*models.TeacherBorrowStatus, error) {
	teacher, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	open, err := s.loans.FindOpenByTeacher(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list open loans")
	}
	remaining := teacher.MaxBorrow - teacher.CurrentBorrow
	if remaining < 0 {
		remaining = 0
	}
	return &models.TeacherBorrowStatus{Teacher: *teacher, OpenLoans: open, Remaining: remaining}, nil
}
