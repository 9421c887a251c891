package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campuslib/journal-loans-api/internal/models"
	"github.com/campuslib/journal-loans-api/internal/repository"
	"github.com/campuslib/journal-loans-api/pkg/duedate"
	appErrors "github.com/campuslib/journal-loans-api/pkg/errors"
)

const (
	overdueStatsCacheKey = "loans:overdue:stats"
	loanCachePattern     = "loans:*"
)

type loanStore interface {
	Borrow(ctx context.Context, p repository.BorrowParams) (*models.LoanRecord, error)
	Return(ctx context.Context, loanID string, returnDate time.Time) (*models.LoanRecord, error)
	ExtendDueDate(ctx context.Context, loanID string, newDueDate time.Time) (*models.LoanRecord, error)
	UpdateStatus(ctx context.Context, loanID string, status models.LoanStatus) error
	FindByID(ctx context.Context, id string) (*models.LoanRecord, error)
	List(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, int, error)
	Find(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, error)
	FindUpcomingDue(ctx context.Context, today time.Time, windowDays int) ([]models.LoanDetail, error)
}

type teacherExistenceReader interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

type journalExistenceReader interface {
	FindByID(ctx context.Context, id string) (*models.Journal, error)
}

type snapshotCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type lifecycleRecorder interface {
	RecordLoanOperation(op, outcome string)
	RecordCacheOperation(hit bool, duration time.Duration)
}

// BorrowRequest describes a borrow payload. Either a due date or a borrow
// duration may be given; neither falls back to the configured default days.
type BorrowRequest struct {
	LoanID     string `json:"loan_id" validate:"omitempty,max=64"`
	TeacherID  string `json:"teacher_id" validate:"required"`
	JournalID  string `json:"journal_id" validate:"required"`
	DueDate    string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	BorrowDays int    `json:"borrow_days" validate:"omitempty,min=1,max=365"`
}

// ExtendRequest describes a due-date extension payload.
type ExtendRequest struct {
	NewDueDate string `json:"new_due_date" validate:"required,datetime=2006-01-02"`
}

// UpdateLoanStatusRequest describes the administrative status override.
type UpdateLoanStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// OverdueLoan decorates a loan with its computed lateness.
type OverdueLoan struct {
	models.LoanDetail
	LateDays int `json:"late_days"`
}

// LoanServiceConfig tunes the lifecycle engine.
type LoanServiceConfig struct {
	DefaultBorrowDays int
	SoonExpireDays    int
	BorrowRetries     int
	SnapshotTTL       time.Duration
}

// LoanService is the borrowing lifecycle engine: it orchestrates the loan
// store, teacher quotas and journal availability, and derives overdue /
// upcoming-expiry views without mutating stored state on reads.
type LoanService struct {
	loans     loanStore
	teachers  teacherExistenceReader
	journals  journalExistenceReader
	cache     snapshotCache
	metrics   lifecycleRecorder
	validator *validator.Validate
	logger    *zap.Logger
	cfg       LoanServiceConfig

	now func() time.Time
}

// NewLoanService constructs LoanService.
func NewLoanService(loans loanStore, teachers teacherExistenceReader, journals journalExistenceReader, cache snapshotCache, metrics lifecycleRecorder, validate *validator.Validate, logger *zap.Logger, cfg LoanServiceConfig) *LoanService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultBorrowDays <= 0 {
		cfg.DefaultBorrowDays = 30
	}
	if cfg.SoonExpireDays < 0 {
		cfg.SoonExpireDays = duedate.DefaultSoonExpireDays
	}
	if cfg.BorrowRetries <= 0 {
		cfg.BorrowRetries = 3
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 5 * time.Minute
	}
	return &LoanService{
		loans:     loans,
		teachers:  teachers,
		journals:  journals,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       duedate.Today,
	}
}

func (s *LoanService) record(op, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordLoanOperation(op, outcome)
	}
}

func (s *LoanService) invalidateSnapshots(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, loanCachePattern); err != nil {
		s.logger.Warn("loan cache invalidation failed", zap.Error(err))
	}
}

// withRetry runs the mutation, retrying transient storage failures a
// bounded number of times. Business rejections pass through untouched.
func (s *LoanService) withRetry(ctx context.Context, op string, fn func() (*models.LoanRecord, error)) (*models.LoanRecord, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.BorrowRetries; attempt++ {
		record, err := fn()
		if err == nil {
			return record, nil
		}
		if !appErrors.IsTransient(err) {
			return nil, err
		}
		lastErr = err
		s.logger.Warn("transient storage failure, retrying",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, appErrors.Wrap(ctx.Err(), appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "operation cancelled")
		default:
		}
	}
	return nil, lastErr
}

// Borrow checks teacher existence, journal existence, quota and
// availability in that order, then commits the loan record and both
// counter moves as one unit.
func (s *LoanService) Borrow(ctx context.Context, req BorrowRequest) (*models.LoanRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid borrow payload")
	}

	today := s.now()
	var due time.Time
	switch {
	case req.DueDate != "":
		parsed, err := duedate.Parse(req.DueDate)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid due date")
		}
		due = parsed
	case req.BorrowDays > 0:
		due = duedate.From(today, req.BorrowDays)
	default:
		due = duedate.From(today, s.cfg.DefaultBorrowDays)
	}
	if due.Before(today) {
		return nil, appErrors.Clone(appErrors.ErrInvalidDateOrder, "due date precedes start date")
	}

	record, err := s.withRetry(ctx, "borrow", func() (*models.LoanRecord, error) {
		return s.loans.Borrow(ctx, repository.BorrowParams{
			LoanID:    req.LoanID,
			TeacherID: req.TeacherID,
			JournalID: req.JournalID,
			StartDate: today,
			DueDate:   due,
		})
	})
	if err != nil {
		s.record("borrow", "failure")
		return nil, err
	}

	s.record("borrow", "success")
	s.invalidateSnapshots(ctx)
	s.logger.Info("loan created",
		zap.String("loan_id", record.ID),
		zap.String("teacher_id", record.TeacherID),
		zap.String("journal_id", record.JournalID),
		zap.String("due_date", duedate.Format(record.DueDate)))
	return record, nil
}

// Return closes a loan and releases the copy and quota slot. Calling it on
// an already-returned loan fails with ALREADY_RETURNED and moves nothing.
func (s *LoanService) Return(ctx context.Context, loanID string) (*models.LoanRecord, error) {
	if strings.TrimSpace(loanID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "loan id required")
	}

	record, err := s.withRetry(ctx, "return", func() (*models.LoanRecord, error) {
		return s.loans.Return(ctx, loanID, s.now())
	})
	if err != nil {
		s.record("return", "failure")
		return nil, err
	}

	s.record("return", "success")
	s.invalidateSnapshots(ctx)
	s.logger.Info("loan returned", zap.String("loan_id", record.ID))
	return record, nil
}

// ExtendDueDate pushes an open loan's due date forward; counters stay put.
func (s *LoanService) ExtendDueDate(ctx context.Context, loanID string, req ExtendRequest) (*models.LoanRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid extend payload")
	}
	newDue, err := duedate.Parse(req.NewDueDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid due date")
	}

	record, err := s.loans.ExtendDueDate(ctx, loanID, newDue)
	if err != nil {
		return nil, err
	}
	s.invalidateSnapshots(ctx)
	return record, nil
}

// UpdateStatus is the administrative override, typically used to mark a
// loan overdue explicitly. Counters only move on Borrow and Return, so a
// status override never touches them.
func (s *LoanService) UpdateStatus(ctx context.Context, loanID string, req UpdateLoanStatusRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	status := models.LoanStatus(strings.ToLower(req.Status))
	if !status.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown loan status")
	}
	if status == models.LoanStatusReturned {
		// Returned is reachable only through Return, which also moves the
		// teacher and journal counters.
		return appErrors.Clone(appErrors.ErrConflict, "use the return operation to close a loan")
	}
	if err := s.loans.UpdateStatus(ctx, loanID, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "loan not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update loan status")
	}
	s.invalidateSnapshots(ctx)
	return nil
}

// GetLoan fetches one loan record.
func (s *LoanService) GetLoan(ctx context.Context, loanID string) (*models.LoanRecord, error) {
	record, err := s.loans.FindByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "loan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load loan")
	}
	return record, nil
}

func parseStatuses(raw string) ([]models.LoanStatus, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	statuses := make([]models.LoanStatus, 0, len(parts))
	for _, part := range parts {
		status := models.LoanStatus(strings.ToLower(strings.TrimSpace(part)))
		if status == "" {
			continue
		}
		if !status.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown loan status: "+string(status))
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// ListByTeacher returns a teacher's loans, optionally filtered by a
// comma-separated status set.
func (s *LoanService) ListByTeacher(ctx context.Context, teacherID, statusCSV string) ([]models.LoanDetail, error) {
	if _, err := s.teachers.FindByID(ctx, teacherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	statuses, err := parseStatuses(statusCSV)
	if err != nil {
		return nil, err
	}
	items, err := s.loans.Find(ctx, models.LoanFilter{TeacherID: teacherID, Statuses: statuses})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list loans")
	}
	return items, nil
}

// ListByJournal returns the loans on one journal.
func (s *LoanService) ListByJournal(ctx context.Context, journalID, statusCSV string) ([]models.LoanDetail, error) {
	if _, err := s.journals.FindByID(ctx, journalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "journal not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load journal")
	}
	statuses, err := parseStatuses(statusCSV)
	if err != nil {
		return nil, err
	}
	items, err := s.loans.Find(ctx, models.LoanFilter{JournalID: journalID, Statuses: statuses})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list loans")
	}
	return items, nil
}

// ListByStatus returns loans in any of the given states, up to limit rows.
func (s *LoanService) ListByStatus(ctx context.Context, statusCSV string, limit int) ([]models.LoanDetail, error) {
	statuses, err := parseStatuses(statusCSV)
	if err != nil {
		return nil, err
	}
	items, err := s.loans.Find(ctx, models.LoanFilter{Statuses: statuses, Limit: limit})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list loans")
	}
	return items, nil
}

// List returns loans with pagination metadata.
func (s *LoanService) List(ctx context.Context, filter models.LoanFilter) ([]models.LoanDetail, *models.Pagination, error) {
	items, total, err := s.loans.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list loans")
	}
	return items, models.NewPagination(filter.PageRequest, total), nil
}

// classifyOverdue decorates loan details with computed lateness.
func (s *LoanService) classifyOverdue(items []models.LoanDetail, today time.Time) []OverdueLoan {
	overdue := make([]OverdueLoan, 0, len(items))
	for _, item := range items {
		overdue = append(overdue, OverdueLoan{
			LoanDetail: item,
			LateDays:   duedate.OverdueDays(item.DueDate, today),
		})
	}
	return overdue
}

// ListOverdue unions loans stored as overdue with borrowed loans whose due
// date has passed. It never rewrites stored status: classification is a
// read, not a transition.
func (s *LoanService) ListOverdue(ctx context.Context) ([]OverdueLoan, error) {
	today := s.now()
	items, err := s.loans.Find(ctx, models.LoanFilter{OverdueOn: &today})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list overdue loans")
	}
	return s.classifyOverdue(items, today), nil
}

// ListOverduePaged is the paged variant of ListOverdue. The total count is
// computed over the same overdue predicate as the page rows.
func (s *LoanService) ListOverduePaged(ctx context.Context, page models.PageRequest) ([]OverdueLoan, *models.Pagination, error) {
	today := s.now()
	filter := models.LoanFilter{OverdueOn: &today, PageRequest: page}
	items, total, err := s.loans.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list overdue loans")
	}
	return s.classifyOverdue(items, today), models.NewPagination(filter.PageRequest, total), nil
}

// ListUpcomingDue returns borrowed loans due within the window, bounds
// inclusive. Non-positive windows fall back to the configured default.
func (s *LoanService) ListUpcomingDue(ctx context.Context, windowDays int) ([]models.LoanDetail, error) {
	if windowDays < 0 {
		windowDays = s.cfg.SoonExpireDays
	}
	items, err := s.loans.FindUpcomingDue(ctx, s.now(), windowDays)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list upcoming loans")
	}
	return items, nil
}

// OverdueStats returns the cached overdue snapshot, recomputing on miss.
// The boolean reports whether the snapshot came from cache.
func (s *LoanService) OverdueStats(ctx context.Context) (*models.OverdueStats, bool, error) {
	if s.cache != nil {
		var cached models.OverdueStats
		start := time.Now()
		err := s.cache.Get(ctx, overdueStatsCacheKey, &cached)
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(err == nil, time.Since(start))
		}
		if err == nil {
			return &cached, true, nil
		}
	}

	overdue, err := s.ListOverdue(ctx)
	if err != nil {
		return nil, false, err
	}
	stats := models.OverdueStats{Total: len(overdue), ComputedAt: time.Now().UTC()}
	for _, loan := range overdue {
		if loan.LateDays > stats.MaxLateDays {
			stats.MaxLateDays = loan.LateDays
		}
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, overdueStatsCacheKey, stats, s.cfg.SnapshotTTL); err != nil {
			s.logger.Warn("overdue stats cache write failed", zap.Error(err))
		}
	}
	return &stats, false, nil
}
