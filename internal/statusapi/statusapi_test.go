package statusapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestController() *Controller {
	return &Controller{
		State: func() string { return "IDLE" },
		Snapshots: func() []SnapshotView {
			return []SnapshotView{{ID: 1, Dir: "00000000000000000001", Refcount: 0}}
		},
		Sweep: func(ctx context.Context) (bool, error) { return true, nil },
		FreeBytes: func() (uint64, error) { return 123456, nil },
	}
}

func TestStatusHandlerReportsStateCountAndFreeBytes(t *testing.T) {
	router := NewRouter(newTestController(), nopWriter{})

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"IDLE"`)
	require.Contains(t, rec.Body.String(), `"snapshot_count":1`)
	require.Contains(t, rec.Body.String(), `"free_bytes":123456`)
}

func TestSnapshotsHandlerListsRegistry(t *testing.T) {
	router := NewRouter(newTestController(), nopWriter{})

	req := httptest.NewRequest(http.MethodGet, "/v1/snapshots", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"dir":"00000000000000000001"`)
}

func TestSweepHandlerInvokesSweepAndReportsResult(t *testing.T) {
	var called bool
	c := newTestController()
	c.Sweep = func(ctx context.Context) (bool, error) {
		called = true
		return false, nil
	}
	router := NewRouter(c, nopWriter{})

	req := httptest.NewRequest(http.MethodPost, "/v1/sweep", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, called)
	require.Contains(t, rec.Body.String(), `"deleted":false`)
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	router := NewRouter(newTestController(), nopWriter{})

	req := httptest.NewRequest(http.MethodGet, "/v1/bogus", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
