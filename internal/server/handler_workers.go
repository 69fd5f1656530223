package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/me/wdist/pkg/model"
)

// handleListWorkers returns every worker in registration order. The
// optional ?name= filter returns the earliest worker with that name.
// GET /api/v1/workers
func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	if name := r.URL.Query().Get("name"); name != "" {
		worker, err := s.workers.GetByName(name)
		if err != nil {
			respondServiceError(w, reqID, err)
			return
		}
		respondOK(w, reqID, []model.Worker{worker})
		return
	}

	workers := s.workers.List()
	respondList(w, reqID, workers, &model.Pagination{
		Total: len(workers),
		Limit: len(workers),
	})
}

// handleAddWorker registers a worker record that has no connection yet.
// POST /api/v1/workers
func (s *Server) handleAddWorker(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req struct {
		Name      string `json:"name"`
		ProcessID int    `json:"process_id"`
	}
	if !decodeBody(w, r, reqID, &req) {
		return
	}
	if req.Name == "" {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("missing required field",
				model.FieldError{Field: "name", Message: "name is required"}))
		return
	}

	worker, err := s.workers.Add(req.Name, req.ProcessID)
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	respondCreated(w, reqID, worker)
}

// GET /api/v1/workers/{id}
func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	worker, err := s.workers.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	respondOK(w, reqID, worker)
}

// DELETE /api/v1/workers/{id}
func (s *Server) handleRemoveWorker(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := s.workers.Remove(id); err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]string{"id": id, "removed": "true"})
}

// PUT /api/v1/workers/{id}/status
func (s *Server) handleUpdateWorkerStatus(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req struct {
		Status string `json:"status"`
	}
	if !decodeBody(w, r, reqID, &req) {
		return
	}
	if req.Status == "" {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("missing required field",
				model.FieldError{Field: "status", Message: "status is required"}))
		return
	}

	worker, err := s.workers.UpdateStatus(chi.URLParam(r, "id"), model.WorkerStatus(req.Status))
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	if worker.IsIdle() && s.kick != nil {
		s.kick()
	}
	respondOK(w, reqID, worker)
}

// handleNextTask hands the oldest pending task to an idle worker that
// polls over HTTP instead of holding a TCP connection.
// GET /api/v1/workers/{id}/next
func (s *Server) handleNextTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	task, ok, err := s.tasks.NextTask(chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondOK(w, reqID, task)
}

// GET /api/v1/workers/{id}/tasks
func (s *Server) handleWorkerTasks(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	tasks, err := s.tasks.TasksFor(chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, reqID, err)
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	respondList(w, reqID, tasks, &model.Pagination{Total: len(tasks), Limit: len(tasks)})
}
