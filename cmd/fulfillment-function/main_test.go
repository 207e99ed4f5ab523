package main

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunFulfillment_BadBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	runFulfillment(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunFulfillment_MissingConfig(t *testing.T) {
	t.Setenv("FULFILLMENT_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"dryRun": true}`))
	rec := httptest.NewRecorder()

	runFulfillment(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to initialize service")
}
