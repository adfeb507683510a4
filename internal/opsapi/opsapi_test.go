package opsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caiatech/crawlcore/internal/persistence"
	"github.com/caiatech/crawlcore/internal/queue"
	"github.com/caiatech/crawlcore/internal/registry"
)

type fakeHealthStore struct {
	persistence.Store
	err error
}

func (f *fakeHealthStore) Health(ctx context.Context) error { return f.err }

func TestHealthReturnsOKWhenStoreHealthy(t *testing.T) {
	api := New(queue.New(3), registry.New(time.Hour, 0), &fakeHealthStore{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthReturns503WhenStoreUnhealthy(t *testing.T) {
	api := New(queue.New(3), registry.New(time.Hour, 0), &fakeHealthStore{err: assertError{}})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatsReflectsQueueAndRegistry(t *testing.T) {
	q := queue.New(3)
	q.Push(queue.Item{URL: "https://example.com"})
	reg := registry.New(time.Hour, 0)
	reg.MarkCrawled("https://example.com/done", nil)

	api := New(q, reg, nil)
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()

	api.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "queue")
	assert.Contains(t, body, "registry")
}

type assertError struct{}

func (assertError) Error() string { return "store unavailable" }
