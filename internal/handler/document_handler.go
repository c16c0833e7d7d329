package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"case-mail-router/internal/reminder"
)

func (h *Handlers) remindersAvailable(c *gin.Context) bool {
	if h.reminders == nil {
		abort(c, http.StatusServiceUnavailable, "notifier_unavailable", "Document requests require an outbound mail backend")
		return false
	}
	return true
}

// CreateDocumentRequest asks a client for a document and sends the first email
func (h *Handlers) CreateDocumentRequest(c *gin.Context) {
	if !h.remindersAvailable(c) {
		return
	}
	var req reminder.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	doc, err := h.reminders.Create(c.Request.Context(), req)
	if err != nil {
		fail(c, err, "Failed to create document request")
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// GetDocumentRequest returns a specific document request
func (h *Handlers) GetDocumentRequest(c *gin.Context) {
	doc, err := h.repo.GetDocumentRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err, "Failed to fetch document request")
		return
	}
	c.JSON(http.StatusOK, doc)
}

// MarkDocumentReceived closes a document request and stops its reminders
func (h *Handlers) MarkDocumentReceived(c *gin.Context) {
	if !h.remindersAvailable(c) {
		return
	}
	doc, err := h.reminders.MarkReceived(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err, "Failed to mark document request received")
		return
	}
	c.JSON(http.StatusOK, doc)
}
