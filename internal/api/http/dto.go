package http

import (
	"time"

	"instawork/internal/domain"
	"instawork/internal/usecase"
)

// SignupRequest is the DTO for registering a worker. The id comes from the
// identity layer in front of this service.
type SignupRequest struct {
	ID string `json:"id" validate:"required,min=1,max=128,excludesall=/"`
}

// SignupResponse returns the api key once, at signup.
type SignupResponse struct {
	ID     string `json:"id"`
	APIKey string `json:"api_key"`
}

// PoolRequest is the DTO for creating a pool.
type PoolRequest struct {
	Name string `json:"name" validate:"required,min=1,max=64,excludesall=/ "`
}

// CreateTaskRequest is the DTO for posting a task.
type CreateTaskRequest struct {
	Title       string `json:"title" validate:"required,min=1,max=256"`
	Description string `json:"description" validate:"max=8192"`
	URL         string `json:"url" validate:"required,url"`
	NotifyURL   string `json:"notify_url" validate:"omitempty,url"`
	Pool        string `json:"pool" validate:"omitempty,max=64,excludesall=/ "`
}

// ToNewTask converts the DTO to the service input.
func (r *CreateTaskRequest) ToNewTask() usecase.NewTask {
	return usecase.NewTask{
		Title:       r.Title,
		Description: r.Description,
		URL:         r.URL,
		NotifyURL:   r.NotifyURL,
		Pool:        r.Pool,
	}
}

// TaskResponse is the public view of a task.
type TaskResponse struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Pool        string     `json:"pool,omitempty"`
	State       string     `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func toTaskResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Pool:        t.Pool,
		State:       string(t.State()),
		CreatedAt:   t.CreatedAt,
		AssignedTo:  t.AssignedTo,
		AssignedAt:  t.AssignedAt,
		CompletedAt: t.CompletedAt,
	}
}

func toTaskResponses(tasks []*domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	return out
}

// JobResponse is what a worker sees for a task: the view, plus the link that
// applies to it.
type JobResponse struct {
	View          usecase.JobView `json:"view"`
	Task          TaskResponse    `json:"task"`
	AcceptURL     string          `json:"accept_url,omitempty"`
	SubmissionURL string          `json:"submission_url,omitempty"`
}

// AcceptResponse reports the outcome of an acceptance.
type AcceptResponse struct {
	Result        usecase.AcceptResult `json:"result"`
	Task          TaskResponse         `json:"task"`
	SubmissionURL string               `json:"submission_url,omitempty"`
}

// WorkerResponse is a worker's own profile without its api key.
type WorkerResponse struct {
	ID            string    `json:"id"`
	Pools         []string  `json:"pools"`
	CurrentTask   string    `json:"current_task,omitempty"`
	NextContactAt time.Time `json:"next_contact_at"`
}

func toWorkerResponse(w *domain.Worker) WorkerResponse {
	pools := w.Pools
	if pools == nil {
		pools = []string{}
	}
	return WorkerResponse{ID: w.ID, Pools: pools, CurrentTask: w.CurrentTask, NextContactAt: w.NextContactAt}
}

// StatusResponse lists the caller's own tasks.
type StatusResponse struct {
	Open []TaskResponse `json:"open"`
	Done []TaskResponse `json:"done"`
}
