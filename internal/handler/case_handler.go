package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"case-mail-router/internal/model"
	"case-mail-router/internal/repository"
)

// CreateClient creates a new client
func (h *Handlers) CreateClient(c *gin.Context) {
	var req ClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	client := &model.Client{
		Name:         req.Name,
		Aliases:      req.Aliases,
		EmailDomains: req.EmailDomains,
	}
	if err := h.repo.CreateClient(c.Request.Context(), client); err != nil {
		fail(c, err, "Failed to create client")
		return
	}
	c.JSON(http.StatusCreated, client)
}

// GetClient returns a specific client
func (h *Handlers) GetClient(c *gin.Context) {
	client, err := h.repo.GetClient(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err, "Failed to fetch client")
		return
	}
	c.JSON(http.StatusOK, client)
}

// CreateCase creates a case and starts a history sync for each of its contacts
func (h *Handlers) CreateCase(c *gin.Context) {
	var req CaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	if !h.clientExists(c, req.ClientID) {
		return
	}

	kase := &model.Case{
		ClientID:         req.ClientID,
		Title:            req.Title,
		Keywords:         req.Keywords,
		EmailDomains:     req.EmailDomains,
		CourtFileNumbers: req.CourtFileNumbers,
		ContactEmails:    req.ContactEmails,
	}
	if err := h.repo.CreateCase(ctx, kase); err != nil {
		fail(c, err, "Failed to create case")
		return
	}

	c.JSON(http.StatusCreated, CaseResponse{
		Case:     kase,
		SyncJobs: h.syncContacts(ctx, kase, kase.ContactEmails, actor(c, "")),
	})
}

// GetCase returns a specific case
func (h *Handlers) GetCase(c *gin.Context) {
	kase, err := h.repo.GetCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err, "Failed to fetch case")
		return
	}
	c.JSON(http.StatusOK, kase)
}

// UpdateCase replaces the match keys of a case. Contacts added by the update get a
// history sync.
func (h *Handlers) UpdateCase(c *gin.Context) {
	var req CaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	kase, err := h.repo.GetCase(ctx, c.Param("id"))
	if err != nil {
		fail(c, err, "Failed to fetch case")
		return
	}
	if req.ClientID != kase.ClientID && !h.clientExists(c, req.ClientID) {
		return
	}

	known := make(map[string]struct{}, len(kase.ContactEmails))
	for _, addr := range kase.ContactEmails {
		known[addr] = struct{}{}
	}

	kase.ClientID = req.ClientID
	kase.Title = req.Title
	kase.Keywords = req.Keywords
	kase.EmailDomains = req.EmailDomains
	kase.CourtFileNumbers = req.CourtFileNumbers
	kase.ContactEmails = req.ContactEmails
	if err := h.repo.UpdateCase(ctx, kase); err != nil {
		fail(c, err, "Failed to update case")
		return
	}

	var added []string
	for _, addr := range kase.ContactEmails {
		if _, ok := known[addr]; !ok {
			added = append(added, addr)
		}
	}

	c.JSON(http.StatusOK, CaseResponse{
		Case:     kase,
		SyncJobs: h.syncContacts(ctx, kase, added, actor(c, "")),
	})
}

func (h *Handlers) clientExists(c *gin.Context, clientID string) bool {
	_, err := h.repo.GetClient(c.Request.Context(), clientID)
	if errors.Is(err, repository.ErrNotFound) {
		abort(c, http.StatusBadRequest, "invalid_client", "Client "+clientID+" does not exist")
		return false
	}
	if err != nil {
		fail(c, err, "Failed to fetch client")
		return false
	}
	return true
}

// syncContacts triggers history syncs without failing the request; a failed
// trigger can be repeated through the history-sync endpoint.
func (h *Handlers) syncContacts(ctx context.Context, kase *model.Case, contacts []string, requestedBy string) []*model.HistoricalEmailSyncJob {
	jobs := []*model.HistoricalEmailSyncJob{}
	if h.sync == nil {
		return jobs
	}
	for _, contact := range contacts {
		job, _, err := h.sync.Trigger(ctx, kase.ID, contact, requestedBy)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"case_id": kase.ID,
				"contact": contact,
			}).Warnf("Failed to trigger history sync: %v", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs
}
