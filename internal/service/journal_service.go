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
	appErrors "github.com/campuslib/journal-loans-api/pkg/errors"
)

type journalStore interface {
	List(ctx context.Context, filter models.JournalFilter) ([]models.Journal, int, error)
	FindByID(ctx context.Context, id string) (*models.Journal, error)
	FindByISSN(ctx context.Context, issn string) (*models.Journal, error)
	Create(ctx context.Context, journal *models.Journal) error
	Update(ctx context.Context, journal *models.Journal) error
	Resize(ctx context.Context, id string, newTotal int) (*models.Journal, error)
	Delete(ctx context.Context, id string) error
	OpenLoanCount(ctx context.Context, id string) (int, error)
}

type journalLoanReader interface {
	FindOpenByJournal(ctx context.Context, journalID string) ([]models.LoanRecord, error)
}

// CreateJournalRequest describes a new catalogue entry.
type CreateJournalRequest struct {
	Name          string  `json:"name" validate:"required,max=255"`
	ISSN          *string `json:"issn" validate:"omitempty,max=32"`
	Category      *string `json:"category" validate:"omitempty,max=100"`
	Publisher     *string `json:"publisher" validate:"omitempty,max=255"`
	PublishDate   *string `json:"publish_date" validate:"omitempty,datetime=2006-01-02"`
	IssueNumber   *string `json:"issue_number" validate:"omitempty,max=50"`
	Description   *string `json:"description" validate:"omitempty,max=2000"`
	TotalQuantity int     `json:"total_quantity" validate:"required,min=1"`
}

// UpdateJournalRequest describes a catalogue edit. Quantity changes go
// through the capacity clamp.
type UpdateJournalRequest struct {
	Name          *string `json:"name" validate:"omitempty,max=255"`
	ISSN          *string `json:"issn" validate:"omitempty,max=32"`
	Category      *string `json:"category" validate:"omitempty,max=100"`
	Publisher     *string `json:"publisher" validate:"omitempty,max=255"`
	PublishDate   *string `json:"publish_date" validate:"omitempty,datetime=2006-01-02"`
	IssueNumber   *string `json:"issue_number" validate:"omitempty,max=50"`
	Description   *string `json:"description" validate:"omitempty,max=2000"`
	TotalQuantity *int    `json:"total_quantity" validate:"omitempty,min=0"`
}

// JournalService manages the journal catalogue. It never moves counters on
// behalf of loans; it only applies capacity edits under the clamping rule.
type JournalService struct {
	journals  journalStore
	loans     journalLoanReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewJournalService constructs JournalService.
func NewJournalService(journals journalStore, loans journalLoanReader, validate *validator.Validate, logger *zap.Logger) *JournalService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JournalService{journals: journals, loans: loans, validator: validate, logger: logger}
}

func parsePublishDate(raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", *raw)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid publish date")
	}
	return &parsed, nil
}

// journalStatusFor derives status from availability: unavailable iff zero.
func journalStatusFor(available int) models.JournalStatus {
	if available <= 0 {
		return models.JournalStatusUnavailable
	}
	return models.JournalStatusAvailable
}

// Create adds a journal with all copies available.
func (s *JournalService) Create(ctx context.Context, req CreateJournalRequest) (*models.Journal, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid journal payload")
	}
	if req.ISSN != nil && *req.ISSN != "" {
		if _, err := s.journals.FindByISSN(ctx, *req.ISSN); err == nil {
			return nil, appErrors.Clone(appErrors.ErrDuplicateID, "a journal with this ISSN already exists")
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check ISSN")
		}
	}
	publishDate, err := parsePublishDate(req.PublishDate)
	if err != nil {
		return nil, err
	}

	journal := models.Journal{
		Name:              strings.TrimSpace(req.Name),
		ISSN:              req.ISSN,
		Category:          req.Category,
		Publisher:         req.Publisher,
		PublishDate:       publishDate,
		IssueNumber:       req.IssueNumber,
		Description:       req.Description,
		TotalQuantity:     req.TotalQuantity,
		AvailableQuantity: req.TotalQuantity,
		Status:            journalStatusFor(req.TotalQuantity),
	}
	if err := s.journals.Create(ctx, &journal); err != nil {
		return nil, err
	}
	s.logger.Info("journal created", zap.String("journal_id", journal.ID), zap.String("name", journal.Name))
	return &journal, nil
}

// Update edits catalogue metadata; counters are never written from the
// read snapshot. A change to total_quantity goes through the store's
// atomic Resize, which shifts available_quantity against the current row
// values so copies on loan stay constant under concurrent borrows.
func (s *JournalService) Update(ctx context.Context, id string, req UpdateJournalRequest) (*models.Journal, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid journal payload")
	}
	journal, err := s.journals.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "journal not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load journal")
	}

	if req.Name != nil {
		journal.Name = strings.TrimSpace(*req.Name)
	}
	if req.ISSN != nil {
		journal.ISSN = req.ISSN
	}
	if req.Category != nil {
		journal.Category = req.Category
	}
	if req.Publisher != nil {
		journal.Publisher = req.Publisher
	}
	if req.PublishDate != nil {
		publishDate, err := parsePublishDate(req.PublishDate)
		if err != nil {
			return nil, err
		}
		journal.PublishDate = publishDate
	}
	if req.IssueNumber != nil {
		journal.IssueNumber = req.IssueNumber
	}
	if req.Description != nil {
		journal.Description = req.Description
	}

	if err := s.journals.Update(ctx, journal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "journal not found")
		}
		return nil, err
	}

	if req.TotalQuantity != nil {
		resized, err := s.journals.Resize(ctx, id, *req.TotalQuantity)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Guard refused or the row vanished; a re-read tells which.
				if _, findErr := s.journals.FindByID(ctx, id); findErr == nil {
					return nil, appErrors.Clone(appErrors.ErrConflict, "total quantity cannot drop below copies on loan")
				}
				return nil, appErrors.Clone(appErrors.ErrNotFound, "journal not found")
			}
			return nil, err
		}
		return resized, nil
	}
	return journal, nil
}

// Get fetches one journal.
func (s *JournalService) Get(ctx context.Context, id string) (*models.Journal, error) {
	journal, err := s.journals.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "journal not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load journal")
	}
	return journal, nil
}

// List returns journals with pagination metadata.
func (s *JournalService) List(ctx context.Context, filter models.JournalFilter) ([]models.Journal, *models.Pagination, error) {
	items, total, err := s.journals.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list journals")
	}
	return items, models.NewPagination(filter.PageRequest, total), nil
}

// Delete removes a journal. Journals with open loans are refused.
func (s *JournalService) Delete(ctx context.Context, id string) error {
	open, err := s.journals.OpenLoanCount(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count open loans")
	}
	if open > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "journal still has open loans")
	}
	if err := s.journals.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "journal not found")
		}
		return err
	}
	s.logger.Info("journal deleted", zap.String("journal_id", id))
	return nil
}

// BatchDelete removes several journals, reporting per-id failures.
func (s *JournalService) BatchDelete(ctx context.Context, ids []string) map[string]error {
	failures := make(map[string]error)
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			failures[id] = err
		}
	}
	return failures
}

// BorrowStatus summarises a journal's copy usage with its open loans.
func (s *JournalService) BorrowStatus(ctx context.Context, id string) (*models.JournalBorrowStatus, error) {
	journal, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	open, err := s.loans.FindOpenByJournal(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list open loans")
	}
	return &models.JournalBorrowStatus{Journal: *journal, OpenLoans: open}, nil
}
