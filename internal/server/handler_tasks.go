package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/me/wdist/internal/protocol"
	"github.com/me/wdist/pkg/model"
)

type submitResponse struct {
	TaskID   string `json:"task_id"`
	WorkerID string `json:"worker_id,omitempty"`
}

type queueResponse struct {
	Depth    int                      `json:"depth"`
	ByStatus map[model.TaskStatus]int `json:"by_status"`
}

// handleSubmitTask queues a command. worker_id is optional and names the
// worker the command is meant for.
// POST /api/v1/tasks
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req struct {
		Command  string `json:"command"`
		WorkerID string `json:"worker_id"`
	}
	if !decodeBody(w, r, reqID, &req) {
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("missing required field",
				model.FieldError{Field: "command", Message: "command is required"}))
		return
	}

	id, err := s.tasks.Submit(r.Context(), req.Command, req.WorkerID)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	if s.kick != nil {
		s.kick()
	}
	respondCreated(w, reqID, submitResponse{TaskID: id, WorkerID: req.WorkerID})
}

// handleListTasks returns live tasks, optionally filtered by status and
// worker, paginated in creation order.
// GET /api/v1/tasks
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts, err := listOptions(r)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}

	status := model.TaskStatus(strings.ToUpper(opts.Status))
	var filtered []model.Task
	for _, t := range s.tasks.List() {
		if opts.Status != "" && t.Status != status {
			continue
		}
		if opts.WorkerID != "" && t.WorkerID != opts.WorkerID {
			continue
		}
		filtered = append(filtered, t)
	}

	page := []model.Task{}
	if opts.Offset < len(filtered) {
		end := min(opts.Offset+opts.Limit, len(filtered))
		page = filtered[opts.Offset:end]
	}
	respondList(w, reqID, page, model.NewPagination(len(filtered), len(page), opts))
}

// GET /api/v1/tasks/{id}
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	task, err := s.tasks.Get(id)
	if err == nil {
		respondOK(w, reqID, task)
		return
	}

	// Fall back to the journal for tasks from earlier runs.
	if s.history != nil {
		stored, herr := s.history.GetTask(r.Context(), id)
		if herr != nil {
			respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(herr.Error()))
			return
		}
		if stored != nil {
			respondOK(w, reqID, stored)
			return
		}
	}
	respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("task", id))
}

// handleCompleteTask records a successful result for a task handed out by
// /workers/{id}/next.
// POST /api/v1/tasks/{id}/complete
func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req struct {
		Result string `json:"result"`
	}
	if !decodeBody(w, r, reqID, &req) {
		return
	}
	s.finishTask(w, r, reqID, req.Result, model.TaskStatusCompleted)
}

// POST /api/v1/tasks/{id}/fail
func (s *Server) handleFailTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req struct {
		Error string `json:"error"`
	}
	if !decodeBody(w, r, reqID, &req) {
		return
	}
	result := req.Error
	if !strings.HasPrefix(result, model.ResultErrorPrefix) {
		result = model.ResultErrorPrefix + " " + result
	}
	s.finishTask(w, r, reqID, result, model.TaskStatusFailed)
}

// finishTask stores result in the same escaped form a worker sends over
// TCP.
func (s *Server) finishTask(w http.ResponseWriter, r *http.Request, reqID, result string, status model.TaskStatus) {
	task, err := s.tasks.Finish(r.Context(), chi.URLParam(r, "id"), protocol.EscapePayload(result), status)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	if s.kick != nil {
		s.kick()
	}
	respondOK(w, reqID, task)
}

// GET /api/v1/queue
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	snap := s.status.Snapshot()
	respondOK(w, reqID, queueResponse{
		Depth:    s.tasks.QueueDepth(),
		ByStatus: snap.TasksByStatus,
	})
}

// handleHistory pages through finished tasks recorded in the journal.
// GET /api/v1/history
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.history == nil {
		respondError(w, reqID, http.StatusNotFound, &model.APIError{
			Code:    model.ErrNotFound,
			Message: "task history is not enabled",
		})
		return
	}

	opts, err := listOptions(r)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}

	tasks, total, err := s.history.ListTasks(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if tasks == nil {
		tasks = []*model.Task{}
	}
	respondList(w, reqID, tasks, model.NewPagination(total, len(tasks), opts))
}
