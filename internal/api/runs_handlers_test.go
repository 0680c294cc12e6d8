package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit-bridge/internal/storage/memory"
	"github.com/JakeFAU/siteaudit-bridge/internal/store"
)

func seedRuns(t *testing.T) (*memory.RunStore, uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	repo := memory.NewRunStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	done := uuid.MustParse("0190b6a0-2222-7000-8000-000000000001")
	require.NoError(t, repo.StartRun(ctx, store.Run{ID: done, URL: "https://a.com", MaxPages: 5, StartedAt: base, Status: store.RunRunning}))
	require.NoError(t, repo.AddStages(ctx, done, 4))
	score := 81
	require.NoError(t, repo.CompleteRun(ctx, done, base.Add(time.Minute), store.RunSuccess, &score, nil))

	running := uuid.MustParse("0190b6a0-2222-7000-8000-000000000002")
	require.NoError(t, repo.StartRun(ctx, store.Run{ID: running, URL: "https://b.com", StartedAt: base.Add(time.Hour), Status: store.RunRunning}))
	return repo, done, running
}

func TestRunsHandlerListRuns(t *testing.T) {
	t.Parallel()

	repo, done, running := seedRuns(t)
	server := newTestServer(t, newFakeSupervisor(), withRuns(repo))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []runDTO `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	require.Equal(t, running.String(), body.Runs[0].ID)
	require.Equal(t, done.String(), body.Runs[1].ID)
	require.Equal(t, 4, body.Runs[1].Stages)
	require.Equal(t, 81, *body.Runs[1].Score)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs?status=success&limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	require.Equal(t, "success", body.Runs[0].Status)
}

func TestRunsHandlerListRunsBadQuery(t *testing.T) {
	t.Parallel()

	handler := NewRunsHandler(memory.NewRunStore(), zap.NewNop())
	for _, query := range []string{"?limit=-1", "?limit=abc", "?offset=-3", "?status=paused"} {
		rec := httptest.NewRecorder()
		handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/api/runs"+query, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestRunsHandlerGetRun(t *testing.T) {
	t.Parallel()

	repo, done, _ := seedRuns(t)
	server := newTestServer(t, newFakeSupervisor(), withRuns(repo))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/"+done.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Run runDTO `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "https://a.com", body.Run.URL)
	require.NotNil(t, body.Run.FinishedAt)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunsHandlerWithoutRepository(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newFakeSupervisor())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type brokenRepo struct {
	store.RunRepository
}

func (brokenRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, errors.New("connection reset")
}

func TestRunsHandlerRepositoryError(t *testing.T) {
	t.Parallel()

	handler := NewRunsHandler(brokenRepo{}, nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"failed to list runs"}`, rec.Body.String())
}
