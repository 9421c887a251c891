package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campuslib/journal-loans-api/internal/models"
	"github.com/campuslib/journal-loans-api/internal/service"
	appErrors "github.com/campuslib/journal-loans-api/pkg/errors"
	"github.com/campuslib/journal-loans-api/pkg/response"
)

// JournalHandler exposes catalogue endpoints.
type JournalHandler struct {
	journals *service.JournalService
	loans    *service.LoanService
}

// NewJournalHandler constructs JournalHandler.
func NewJournalHandler(journals *service.JournalService, loans *service.LoanService) *JournalHandler {
	return &JournalHandler{journals: journals, loans: loans}
}

// List godoc
// @Summary List journals
// @Tags Journals
// @Produce json
// @Param search query string false "Name or publisher search"
// @Param category query string false "Filter by category"
// @Param issn query string false "Filter by ISSN"
// @Param status query string false "Filter by availability status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /journals [get]
func (h *JournalHandler) List(c *gin.Context) {
	filter := models.JournalFilter{
		Search:      c.Query("search"),
		Category:    c.Query("category"),
		ISSN:        c.Query("issn"),
		Status:      models.JournalStatus(strings.ToLower(c.Query("status"))),
		PageRequest: pageRequestFromQuery(c),
	}
	items, pagination, err := h.journals.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get one journal
// @Tags Journals
// @Produce json
// @Param id path string true "Journal ID"
// @Success 200 {object} response.Envelope
// @Router /journals/{id} [get]
func (h *JournalHandler) Get(c *gin.Context) {
	journal, err := h.journals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, journal, nil)
}

// Create godoc
// @Summary Add a journal to the catalogue
// @Tags Journals
// @Accept json
// @Produce json
// @Param payload body service.CreateJournalRequest true "Journal payload"
// @Success 201 {object} response.Envelope
// @Router /journals [post]
func (h *JournalHandler) Create(c *gin.Context) {
	var req service.CreateJournalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	journal, err := h.journals.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, journal)
}

// Update godoc
// @Summary Edit a journal
// @Tags Journals
// @Accept json
// @Produce json
// @Param id path string true "Journal ID"
// @Param payload body service.UpdateJournalRequest true "Journal payload"
// @Success 200 {object} response.Envelope
// @Router /journals/{id} [put]
func (h *JournalHandler) Update(c *gin.Context) {
	var req service.UpdateJournalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	journal, err := h.journals.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, journal, nil)
}

// Delete godoc
// @Summary Remove a journal
// @Tags Journals
// @Produce json
// @Param id path string true "Journal ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /journals/{id} [delete]
func (h *JournalHandler) Delete(c *gin.Context) {
	if err := h.journals.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

type batchDeleteRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

// BatchDelete godoc
// @Summary Remove several journals
// @Tags Journals
// @Accept json
// @Produce json
// @Param payload body batchDeleteRequest true "Journal IDs"
// @Success 200 {object} response.Envelope
// @Router /journals/batch-delete [post]
func (h *JournalHandler) BatchDelete(c *gin.Context) {
	var req batchDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	failures := h.journals.BatchDelete(c.Request.Context(), req.IDs)
	failed := make(map[string]string, len(failures))
	for id, err := range failures {
		failed[id] = appErrors.FromError(err).Message
	}
	response.JSON(c, http.StatusOK, gin.H{
		"deleted": len(req.IDs) - len(failures),
		"failed":  failed,
	}, nil)
}

// BorrowStatus godoc
// @Summary Journal copy usage with open loans
// @Tags Journals
// @Produce json
// @Param id path string true "Journal ID"
// @Success 200 {object} response.Envelope
// @Router /journals/{id}/borrow-status [get]
func (h *JournalHandler) BorrowStatus(c *gin.Context) {
	status, err := h.journals.BorrowStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Loans godoc
// @Summary A journal's loan history
// @Tags Journals
// @Produce json
// @Param id path string true "Journal ID"
// @Param status query string false "Comma-separated status filter"
// @Success 200 {object} response.Envelope
// @Router /journals/{id}/loans [get]
func (h *JournalHandler) Loans(c *gin.Context) {
	items, err := h.loans.ListByJournal(c.Request.Context(), c.Param("id"), c.Query("status"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}
