package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campuslib/journal-loans-api/internal/middleware"
	"github.com/campuslib/journal-loans-api/internal/models"
	"github.com/campuslib/journal-loans-api/internal/service"
	appErrors "github.com/campuslib/journal-loans-api/pkg/errors"
	"github.com/campuslib/journal-loans-api/pkg/response"
)

// LoanHandler exposes the borrowing lifecycle endpoints.
type LoanHandler struct {
	loans *service.LoanService
}

// NewLoanHandler constructs LoanHandler.
func NewLoanHandler(loans *service.LoanService) *LoanHandler {
	return &LoanHandler{loans: loans}
}

func pageRequestFromQuery(c *gin.Context) models.PageRequest {
	var page models.PageRequest
	if value, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		page.Page = value
	}
	if value, err := strconv.Atoi(c.DefaultQuery("limit", "10")); err == nil {
		page.PageSize = value
	}
	page.SortField = c.Query("sort")
	page.SortOrder = c.Query("order")
	return page
}

// Borrow godoc
// @Summary Borrow a journal copy
// @Tags Loans
// @Accept json
// @Produce json
// @Param payload body service.BorrowRequest true "Borrow payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /loans [post]
func (h *LoanHandler) Borrow(c *gin.Context) {
	var req service.BorrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.loans.Borrow(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Return godoc
// @Summary Return a borrowed copy
// @Tags Loans
// @Produce json
// @Param id path string true "Loan ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /loans/{id}/return [put]
func (h *LoanHandler) Return(c *gin.Context) {
	record, err := h.loans.Return(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Extend godoc
// @Summary Extend a loan's due date
// @Tags Loans
// @Accept json
// @Produce json
// @Param id path string true "Loan ID"
// @Param payload body service.ExtendRequest true "Extension payload"
// @Success 200 {object} response.Envelope
// @Router /loans/{id}/extend [put]
func (h *LoanHandler) Extend(c *gin.Context) {
	var req service.ExtendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.loans.ExtendDueDate(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// UpdateStatus godoc
// @Summary Override a loan's status
// @Tags Loans
// @Accept json
// @Produce json
// @Param id path string true "Loan ID"
// @Param payload body service.UpdateLoanStatusRequest true "Status payload"
// @Success 204
// @Router /loans/{id}/status [put]
func (h *LoanHandler) UpdateStatus(c *gin.Context) {
	var req service.UpdateLoanStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.loans.UpdateStatus(c.Request.Context(), c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Get godoc
// @Summary Get one loan
// @Tags Loans
// @Produce json
// @Param id path string true "Loan ID"
// @Success 200 {object} response.Envelope
// @Router /loans/{id} [get]
func (h *LoanHandler) Get(c *gin.Context) {
	record, err := h.loans.GetLoan(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// List godoc
// @Summary List loans
// @Tags Loans
// @Produce json
// @Param teacherId query string false "Filter by teacher"
// @Param journalId query string false "Filter by journal"
// @Param status query string false "Comma-separated status filter"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /loans [get]
func (h *LoanHandler) List(c *gin.Context) {
	filter := models.LoanFilter{
		TeacherID:   c.Query("teacherId"),
		JournalID:   c.Query("journalId"),
		PageRequest: pageRequestFromQuery(c),
	}
	for _, part := range strings.Split(c.Query("status"), ",") {
		status := models.LoanStatus(strings.ToLower(strings.TrimSpace(part)))
		if status == "" {
			continue
		}
		if !status.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown loan status: "+string(status)))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	items, pagination, err := h.loans.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// ListOverdue godoc
// @Summary List overdue loans
// @Tags Loans
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /loans/overdue [get]
func (h *LoanHandler) ListOverdue(c *gin.Context) {
	items, pagination, err := h.loans.ListOverduePaged(c.Request.Context(), pageRequestFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// ListUpcoming godoc
// @Summary List loans due within a window
// @Tags Loans
// @Produce json
// @Param days query int false "Window in days, default 1"
// @Success 200 {object} response.Envelope
// @Router /loans/upcoming [get]
func (h *LoanHandler) ListUpcoming(c *gin.Context) {
	days := -1
	if value, err := strconv.Atoi(c.DefaultQuery("days", "-1")); err == nil {
		days = value
	}
	items, err := h.loans.ListUpcomingDue(c.Request.Context(), days)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// OverdueStats godoc
// @Summary Overdue statistics snapshot
// @Tags Loans
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /loans/overdue/stats [get]
func (h *LoanHandler) OverdueStats(c *gin.Context) {
	stats, fromCache, err := h.loans.OverdueStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, fromCache)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}
