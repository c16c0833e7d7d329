package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"case-mail-router/internal/model"
	"case-mail-router/internal/repository"
)

// IngestEmail runs one pushed message through the classification pipeline
func (h *Handlers) IngestEmail(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.pipeline.Ingest(c.Request.Context(), req.message())
	if err != nil {
		fail(c, err, "Failed to ingest email")
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// ListEmails returns a queue of emails with pagination
func (h *Handlers) ListEmails(c *gin.Context) {
	p := page(c)
	filter := repository.EmailFilter{
		State:    model.ClassificationState(c.Query("state")),
		ClientID: c.Query("client_id"),
		Page:     p,
	}
	if filter.State != "" && !filter.State.Valid() {
		badRequest(c, fmt.Errorf("unknown state %q", filter.State))
		return
	}
	if v := c.Query("include_archived"); v != "" {
		archived, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, fmt.Errorf("include_archived: %w", err))
			return
		}
		filter.IncludeArchived = archived
	}

	emails, total, err := h.repo.ListEmails(c.Request.Context(), filter)
	if err != nil {
		fail(c, err, "Failed to fetch emails")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"emails": emails,
		"pagination": gin.H{
			"page":  p.Page,
			"limit": p.Limit,
			"total": total,
		},
	})
}

// GetClassification returns the state and case links of an email
func (h *Handlers) GetClassification(c *gin.Context) {
	view, err := h.pipeline.Classification(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err, "Failed to fetch classification")
		return
	}
	c.JSON(http.StatusOK, view)
}

// ClassifyEmail assigns an email to a case by hand. Assigning an unclear email
// also backfills the sender's history into the case.
func (h *Handlers) ClassifyEmail(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	before, err := h.repo.GetEmail(ctx, c.Param("id"))
	if err != nil {
		fail(c, err, "Failed to classify email")
		return
	}

	user := actor(c, req.UserID)
	email, err := h.pipeline.Reassign(ctx, before.ID, req.CaseID, user, req.Replace)
	if err != nil {
		fail(c, err, "Failed to classify email")
		return
	}
	if before.State == model.StateUncertain {
		h.syncContacts(ctx, &model.Case{ID: req.CaseID}, []string{before.Sender}, user)
	}
	c.JSON(http.StatusOK, email)
}

// ArchiveEmail removes an email from the queues
func (h *Handlers) ArchiveEmail(c *gin.Context) {
	id := c.Param("id")
	if err := h.repo.ArchiveEmail(c.Request.Context(), id, time.Now()); err != nil {
		fail(c, err, "Failed to archive email")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Email archived successfully",
		"id":      id,
	})
}
