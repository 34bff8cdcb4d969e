package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"instawork/internal/infra/memory"
	"instawork/internal/master"
	"instawork/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "https://work.example.com"

type testServer struct {
	mux   *http.ServeMux
	queue *memory.DelayedQueue
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	channel := memory.NewChannel()
	queue := memory.NewDelayedQueue(nil)
	retry := master.NewRetryScheduler(queue, master.DefaultRetryPolicy(), logger)

	tasks := usecase.NewTaskService(store.Tasks(), store.Workers(), store.Pools(), retry, channel, &memory.Notifier{}, time.Second, logger)
	workers := usecase.NewWorkerService(store.Workers(), store.Pools(), logger)

	mux := http.NewServeMux()
	NewHandler(tasks, workers, baseURL, logger).RegisterRoutes(mux)
	return &testServer{mux: mux, queue: queue}
}

func (s *testServer) do(t *testing.T, method, target, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set(APIKeyHeader, apiKey)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) signup(t *testing.T, id string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/workers", "", SignupRequest{ID: id})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp SignupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.APIKey)
	return resp.APIKey
}

func (s *testServer) createTask(t *testing.T, apiKey string, req CreateTaskRequest) TaskResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/tasks", apiKey, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var task TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	return task
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestSignup(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "alice")

	rec := s.do(t, http.MethodPost, "/workers", "", SignupRequest{ID: "alice"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/workers", "", SignupRequest{ID: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/workers", "", SignupRequest{ID: "a/b"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)
	key := s.signup(t, "alice")

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/me", "wrong", nil).Code)

	rec := s.do(t, http.MethodGet, "/me", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody[WorkerResponse](t, rec)
	assert.Equal(t, "alice", me.ID)
	assert.Equal(t, []string{}, me.Pools)
	assert.NotContains(t, rec.Body.String(), key)
}

func TestCreateTask(t *testing.T) {
	s := newTestServer(t)
	key := s.signup(t, "alice")

	task := s.createTask(t, key, CreateTaskRequest{Title: "Proofread", URL: "https://docs.example.com/1"})
	assert.Equal(t, "open", task.State)
	assert.Len(t, s.queue.Pending(), 1, "the first recruitment pass is queued")

	rec := s.do(t, http.MethodPost, "/api/tasks", key, CreateTaskRequest{Title: "x", URL: "not a url"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Validation failed")

	rec = s.do(t, http.MethodPost, "/api/tasks", key, CreateTaskRequest{Title: "x", URL: "https://e.com", Pool: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewBufferString("{"))
	req.Header.Set(APIKeyHeader, key)
	raw := httptest.NewRecorder()
	s.mux.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestPools(t *testing.T) {
	s := newTestServer(t)
	key := s.signup(t, "alice")

	assert.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/pools", key, PoolRequest{Name: "editors"}).Code)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/pools", key, PoolRequest{Name: "editors"}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/pools/nope/join", key, nil).Code)

	rec := s.do(t, http.MethodPost, "/pools/editors/join", key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"editors"}, decodeBody[WorkerResponse](t, rec).Pools)

	task := s.createTask(t, key, CreateTaskRequest{Title: "Proofread", URL: "https://docs.example.com/1", Pool: "editors"})
	assert.Equal(t, "editors", task.Pool)
}

func TestAcceptAndDone(t *testing.T) {
	s := newTestServer(t)
	owner := s.signup(t, "owner")
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")
	task := s.createTask(t, owner, CreateTaskRequest{Title: "Proofread", URL: "https://docs.example.com/1?page=2"})

	rec := s.do(t, http.MethodGet, "/tasks/"+task.ID, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[JobResponse](t, rec)
	assert.Equal(t, usecase.JobPreview, view.View)
	assert.Equal(t, baseURL+"/go/"+task.ID, view.AcceptURL)

	rec = s.do(t, http.MethodPost, "/go/"+task.ID, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	accepted := decodeBody[AcceptResponse](t, rec)
	assert.Equal(t, usecase.AcceptAssigned, accepted.Result)
	assert.Equal(t, "alice", accepted.Task.AssignedTo)

	submission, err := url.Parse(accepted.SubmissionURL)
	require.NoError(t, err)
	assert.Equal(t, "docs.example.com", submission.Host)
	assert.Equal(t, "2", submission.Query().Get("page"))
	assert.Equal(t, baseURL+"/done/"+task.ID, submission.Query().Get("submitURL"))

	rec = s.do(t, http.MethodPost, "/go/"+task.ID, bob, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, usecase.AcceptTaken, decodeBody[AcceptResponse](t, rec).Result)

	rec = s.do(t, http.MethodGet, "/tasks/"+task.ID, bob, nil)
	assert.Equal(t, usecase.JobTaken, decodeBody[JobResponse](t, rec).View)
	rec = s.do(t, http.MethodGet, "/tasks/"+task.ID, alice, nil)
	busy := decodeBody[JobResponse](t, rec)
	assert.Equal(t, usecase.JobBusy, busy.View)
	assert.Equal(t, accepted.SubmissionURL, busy.SubmissionURL)

	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/done/"+task.ID, bob, nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodPost, "/done/"+task.ID, alice, nil).Code)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/done/"+task.ID, alice, nil).Code)

	rec = s.do(t, http.MethodGet, "/tasks/"+task.ID, alice, nil)
	assert.Equal(t, usecase.JobReview, decodeBody[JobResponse](t, rec).View)

	rec = s.do(t, http.MethodGet, "/status", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[StatusResponse](t, rec)
	assert.Empty(t, status.Open)
	require.Len(t, status.Done, 1)
	assert.Equal(t, "completed", status.Done[0].State)
}

func TestAcceptWhileBusy(t *testing.T) {
	s := newTestServer(t)
	owner := s.signup(t, "owner")
	alice := s.signup(t, "alice")
	first := s.createTask(t, owner, CreateTaskRequest{Title: "One", URL: "https://docs.example.com/1"})
	second := s.createTask(t, owner, CreateTaskRequest{Title: "Two", URL: "https://docs.example.com/2"})

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/go/"+first.ID, alice, nil).Code)

	rec := s.do(t, http.MethodPost, "/go/"+second.ID, alice, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, usecase.AcceptBusy, decodeBody[AcceptResponse](t, rec).Result)
}

func TestUnknownTask(t *testing.T) {
	s := newTestServer(t)
	key := s.signup(t, "alice")

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/tasks/nope", key, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/go/nope", key, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/done/nope", key, nil).Code)
}
