package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetEvents returns classification audit events with pagination
func (h *Handlers) GetEvents(c *gin.Context) {
	p := page(c)

	events, total, err := h.repo.ListEvents(c.Request.Context(), c.Query("email_id"), p)
	if err != nil {
		fail(c, err, "Failed to fetch events")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"pagination": gin.H{
			"page":  p.Page,
			"limit": p.Limit,
			"total": total,
		},
	})
}

// GetEvent returns a specific audit event
func (h *Handlers) GetEvent(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		abort(c, http.StatusBadRequest, "invalid_id", "Invalid event ID")
		return
	}

	event, err := h.repo.GetEvent(c.Request.Context(), uint(id))
	if err != nil {
		fail(c, err, "Failed to fetch event")
		return
	}
	c.JSON(http.StatusOK, event)
}
