package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"case-mail-router/internal/historysync"
	metricsPkg "case-mail-router/internal/metrics"
	"case-mail-router/internal/model"
	"case-mail-router/internal/reminder"
	"case-mail-router/internal/repository"
	"case-mail-router/internal/scheduler"
	"case-mail-router/internal/service"
)

// Deps are the services behind the HTTP API. Sync and Reminders may be nil when
// the mailbox or the outbound mail backend is not configured.
type Deps struct {
	Repo           *repository.Repository
	Pipeline       *service.Pipeline
	Sync           *historysync.Manager
	Reminders      *reminder.Escalator
	Scheduler      *scheduler.Scheduler
	Metrics        *metricsPkg.Metrics
	Gatherer       prometheus.Gatherer
	MailboxEnabled bool
}

// Handlers contains all HTTP handlers
type Handlers struct {
	repo      *repository.Repository
	pipeline  *service.Pipeline
	sync      *historysync.Manager
	reminders *reminder.Escalator
	scheduler *scheduler.Scheduler
	metrics   *metricsPkg.Metrics
	gatherer  prometheus.Gatherer
	mailbox   bool
}

// NewHandlers creates new HTTP handlers
func NewHandlers(d Deps) *Handlers {
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handlers{
		repo:      d.Repo,
		pipeline:  d.Pipeline,
		sync:      d.Sync,
		reminders: d.Reminders,
		scheduler: d.Scheduler,
		metrics:   d.Metrics,
		gatherer:  gatherer,
		mailbox:   d.MailboxEnabled,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	{
		api.POST("/emails", h.IngestEmail)
		api.GET("/emails", h.ListEmails)
		api.GET("/emails/:id/classification", h.GetClassification)
		api.POST("/emails/:id/classify", h.ClassifyEmail)
		api.POST("/emails/:id/archive", h.ArchiveEmail)

		api.GET("/events", h.GetEvents)
		api.GET("/events/:id", h.GetEvent)

		api.POST("/clients", h.CreateClient)
		api.GET("/clients/:id", h.GetClient)

		api.POST("/cases", h.CreateCase)
		api.GET("/cases/:id", h.GetCase)
		api.PUT("/cases/:id", h.UpdateCase)
		api.POST("/cases/:id/history-sync", h.TriggerHistorySync)
		api.GET("/cases/:id/history-sync", h.GetHistorySync)

		api.POST("/document-requests", h.CreateDocumentRequest)
		api.GET("/document-requests/:id", h.GetDocumentRequest)
		api.POST("/document-requests/:id/received", h.MarkDocumentReceived)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Mailbox:   "disabled",
		Metrics:   make(map[string]string),
	}
	if h.mailbox {
		response.Mailbox = "enabled"
	}

	if err := h.repo.DB().WithContext(c.Request.Context()).Exec("SELECT 1").Error; err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	if h.scheduler != nil && h.scheduler.IsRunning() {
		response.Metrics["scheduler"] = "running"
		response.Metrics["next_poll"] = h.scheduler.GetNextRun(scheduler.JobPoll).Format(time.RFC3339)
		response.Metrics["last_poll"] = h.scheduler.GetLastRun(scheduler.JobPoll).Format(time.RFC3339)
	} else {
		response.Metrics["scheduler"] = "stopped"
	}
	if h.sync != nil && h.sync.IsRunning() {
		response.Metrics["history_sync"] = "running"
	} else {
		response.Metrics["history_sync"] = "stopped"
	}

	if response.Database == "ok" {
		if counts, err := h.repo.CountEmailsByState(c.Request.Context()); err == nil {
			for state, n := range counts {
				response.Metrics["queue_"+string(state)] = strconv.FormatInt(n, 10)
			}
		}
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

func abort(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{
		Error:   code,
		Message: message,
		Code:    status,
	})
}

// fail maps service errors onto HTTP responses
func fail(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		abort(c, http.StatusNotFound, "not_found", message+": not found")
	case errors.Is(err, reminder.ErrInvalidTransition):
		abort(c, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, historysync.ErrInvalidContact), errors.Is(err, service.ErrInvalidMessage),
		errors.Is(err, reminder.ErrInvalidRecipient):
		abort(c, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		logrus.Errorf("%s: %v", message, err)
		abort(c, http.StatusInternalServerError, "internal_error", message)
	}
}

func badRequest(c *gin.Context, err error) {
	abort(c, http.StatusBadRequest, "invalid_request", err.Error())
}

func page(c *gin.Context) repository.Page {
	p, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	return repository.Page{Page: p, Limit: limit}.Normalize()
}

// actor identifies the user behind a request, falling back to the system
func actor(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if user := c.GetHeader("X-User-ID"); user != "" {
		return user
	}
	return model.LinkedBySystem
}
