package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StartScheduler starts the background jobs
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to start scheduler: " + err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler started successfully",
		"status":  "running",
	})
}

// StopScheduler stops the background jobs
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: "Failed to stop scheduler",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduler stopped successfully",
		"status":  "stopped",
	})
}

// RunOnce polls the mailbox, sends due reminders and queues pending syncs once
func (h *Handlers) RunOnce(c *gin.Context) {
	result := h.scheduler.RunOnce(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"message": "Scheduled jobs completed",
		"result":  result,
	})
}

// GetSchedulerStatus returns the current scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	status := "stopped"
	if h.scheduler.IsRunning() {
		status = "running"
	}

	jobs := gin.H{}
	for _, name := range h.scheduler.Jobs() {
		jobs[name] = gin.H{
			"next_run": h.scheduler.GetNextRun(name),
			"last_run": h.scheduler.GetLastRun(name),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"jobs":   jobs,
	})
}
