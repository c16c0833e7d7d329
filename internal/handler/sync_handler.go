package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) syncAvailable(c *gin.Context) bool {
	if h.sync == nil {
		abort(c, http.StatusServiceUnavailable, "sync_unavailable", "History sync requires a configured mailbox")
		return false
	}
	return true
}

// TriggerHistorySync queues a history sync for a case contact. Repeating the call
// while the job is active returns the same job.
func (h *Handlers) TriggerHistorySync(c *gin.Context) {
	if !h.syncAvailable(c) {
		return
	}
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	job, created, err := h.sync.Trigger(c.Request.Context(), c.Param("id"), req.ContactEmail, actor(c, req.RequestedBy))
	if err != nil {
		fail(c, err, "Failed to trigger history sync")
		return
	}
	c.JSON(http.StatusAccepted, SyncResponse{Job: job, Created: created})
}

// GetHistorySync returns the latest job for a contact, or every job of the case
// when no contact is given
func (h *Handlers) GetHistorySync(c *gin.Context) {
	ctx := c.Request.Context()
	caseID := c.Param("id")

	contact := c.Query("contact_email")
	if contact == "" {
		if _, err := h.repo.GetCase(ctx, caseID); err != nil {
			fail(c, err, "Failed to fetch case")
			return
		}
		jobs, err := h.repo.ListSyncJobsForCase(ctx, caseID)
		if err != nil {
			fail(c, err, "Failed to fetch sync jobs")
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": jobs})
		return
	}

	if !h.syncAvailable(c) {
		return
	}
	job, err := h.sync.Status(ctx, caseID, contact)
	if err != nil {
		fail(c, err, "Failed to fetch sync job")
		return
	}
	c.JSON(http.StatusOK, job)
}
