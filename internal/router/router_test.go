package router

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"case-mail-router/internal/handler"
	"case-mail-router/internal/repository"
	"case-mail-router/internal/testdb"
)

func TestSetupRouter(t *testing.T) {
	h := handler.NewHandlers(handler.Deps{
		Repo:     repository.New(testdb.New(t)),
		Gatherer: prometheus.NewRegistry(),
	})
	r := SetupRouter(h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAccessLogGoesThroughLogrus(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.StandardLogger()
	out, level := logger.Out, logger.GetLevel()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.InfoLevel)
	defer func() {
		logger.SetOutput(out)
		logger.SetLevel(level)
	}()

	r := SetupRouter(handler.NewHandlers(handler.Deps{
		Repo:     repository.New(testdb.New(t)),
		Gatherer: prometheus.NewRegistry(),
	}))
	logger.SetLevel(logrus.InfoLevel)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Empty(t, buf.String())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil))
	assert.Contains(t, buf.String(), "GET /api/v1/unknown")
	assert.Contains(t, buf.String(), " 404 ")
}
