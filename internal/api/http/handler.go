// internal/api/http/handler.go
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"instawork/internal/domain"
	"instawork/internal/master"
	"instawork/internal/metrics"
	"instawork/internal/usecase"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// APIKeyHeader carries the caller's api key.
const APIKeyHeader = "X-API-Key"

type ctxKey struct{}

// Handler serves the task and worker endpoints.
type Handler struct {
	tasks         *usecase.TaskService
	workers       *usecase.WorkerService
	publicBaseURL string
	logger        *slog.Logger
	validate      *validator.Validate
	tracer        trace.Tracer
}

// NewHandler creates a new Handler and initializes the validator.
func NewHandler(tasks *usecase.TaskService, workers *usecase.WorkerService, publicBaseURL string, logger *slog.Logger) *Handler {
	return &Handler{
		tasks:         tasks,
		workers:       workers,
		publicBaseURL: publicBaseURL,
		logger:        logger.With("component", "http-handler"),
		validate:      validator.New(),
		tracer:        otel.Tracer("instawork-api"),
	}
}

// A helper struct to capture the status code
type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RegisterRoutes registers every route on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	h.route(mux, "POST /workers", h.handleSignup)
	h.route(mux, "POST /pools", h.authenticated(h.handleCreatePool))
	h.route(mux, "POST /pools/{name}/join", h.authenticated(h.handleJoinPool))
	h.route(mux, "GET /me", h.authenticated(h.handleMe))
	h.route(mux, "POST /api/tasks", h.authenticated(h.handleCreateTask))
	h.route(mux, "GET /tasks/{id}", h.authenticated(h.handleViewTask))
	h.route(mux, "POST /go/{id}", h.authenticated(h.handleAccept))
	h.route(mux, "POST /done/{id}", h.authenticated(h.handleDone))
	h.route(mux, "GET /status", h.authenticated(h.handleStatus))
}

// route wraps a handler with a span and the request counter.
func (h *Handler) route(mux *http.ServeMux, pattern string, next http.HandlerFunc) {
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "HTTP "+pattern, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(iw, r.WithContext(ctx))

		metrics.HttpRequestsTotal.WithLabelValues(pattern, r.Method, strconv.Itoa(iw.statusCode)).Inc()
		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	}))
}

// authenticated resolves the api key header to a worker before calling next.
func (h *Handler) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		worker, err := h.workers.Authenticate(r.Context(), r.Header.Get(APIKeyHeader))
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "invalid or missing api key")
				return
			}
			h.logger.Error("failed to resolve api key", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("worker.id", worker.ID))
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, worker)))
	}
}

func callerFrom(r *http.Request) *domain.Worker {
	w, _ := r.Context().Value(ctxKey{}).(*domain.Worker)
	return w
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the caller may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	span := trace.SpanFromContext(r.Context())
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		span.SetStatus(codes.Error, "Failed to decode request body")
		span.RecordError(err)
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		span.SetStatus(codes.Error, "Validation failed")
		span.RecordError(err)
		var details []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details = append(details, "Field '"+fe.Field()+"' failed on the '"+fe.Tag()+"' tag.")
			}
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Validation failed",
			"details": details,
		})
		return false
	}
	return true
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !h.decode(w, r, &req) {
		return
	}
	worker, err := h.workers.Signup(r.Context(), req.ID)
	if err != nil {
		h.writeServiceError(w, r, "error signing up worker", err)
		return
	}
	writeJSON(w, http.StatusCreated, SignupResponse{ID: worker.ID, APIKey: worker.APIKey})
}

func (h *Handler) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	var req PoolRequest
	if !h.decode(w, r, &req) {
		return
	}
	pool, err := h.workers.CreatePool(r.Context(), req.Name, callerFrom(r).ID)
	if err != nil {
		h.writeServiceError(w, r, "error creating pool", err)
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

func (h *Handler) handleJoinPool(w http.ResponseWriter, r *http.Request) {
	worker, err := h.workers.JoinPool(r.Context(), callerFrom(r).ID, r.PathValue("name"))
	if err != nil {
		h.writeServiceError(w, r, "error joining pool", err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkerResponse(worker))
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toWorkerResponse(callerFrom(r)))
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if !h.decode(w, r, &req) {
		return
	}
	task, err := h.tasks.Create(r.Context(), req.ToNewTask(), callerFrom(r).ID)
	if err != nil && task == nil {
		h.writeServiceError(w, r, "error creating task", err)
		return
	}
	// A stored task whose first pass failed to queue is still reported as created.
	writeJSON(w, http.StatusCreated, toTaskResponse(task))
}

func (h *Handler) handleViewTask(w http.ResponseWriter, r *http.Request) {
	view, task, err := h.tasks.View(r.Context(), r.PathValue("id"), callerFrom(r).ID)
	if err != nil {
		h.writeServiceError(w, r, "error viewing task", err)
		return
	}
	resp := JobResponse{View: view, Task: toTaskResponse(task)}
	switch view {
	case usecase.JobPreview:
		resp.AcceptURL = master.AcceptURL(h.publicBaseURL, task.ID)
	case usecase.JobBusy:
		resp.SubmissionURL = h.submissionURL(task)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	result, task, err := h.tasks.Accept(r.Context(), r.PathValue("id"), callerFrom(r).ID)
	if err != nil {
		h.writeServiceError(w, r, "error accepting task", err)
		return
	}
	resp := AcceptResponse{Result: result, Task: toTaskResponse(task)}
	if result != usecase.AcceptAssigned {
		writeJSON(w, http.StatusConflict, resp)
		return
	}
	resp.SubmissionURL = h.submissionURL(task)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleDone(w http.ResponseWriter, r *http.Request) {
	ok, err := h.tasks.Complete(r.Context(), r.PathValue("id"), callerFrom(r).ID)
	if err != nil {
		h.writeServiceError(w, r, "error completing task", err)
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "task is not open for completion by this worker")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	open, done, err := h.tasks.Status(r.Context(), callerFrom(r).ID)
	if err != nil {
		h.writeServiceError(w, r, "error listing tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Open: toTaskResponses(open), Done: toTaskResponses(done)})
}

func (h *Handler) submissionURL(task *domain.Task) string {
	u, err := task.SubmissionURL(master.DoneURL(h.publicBaseURL, task.ID))
	if err != nil {
		h.logger.Warn("task url does not parse", "task_id", task.ID, "error", err)
		return task.URL
	}
	return u
}

// writeServiceError maps domain errors to status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	span := trace.SpanFromContext(r.Context())
	span.RecordError(err)

	switch {
	case errors.Is(err, domain.ErrTaskNotFound), errors.Is(err, domain.ErrPoolNotFound), errors.Is(err, domain.ErrWorkerNotFound):
		h.logger.Warn(msg, "error", err)
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrWorkerExists), errors.Is(err, domain.ErrPoolExists), domain.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		span.SetStatus(codes.Error, msg)
		h.logger.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
