package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/me/wdist/internal/queue"
	"github.com/me/wdist/internal/service"
	"github.com/me/wdist/pkg/model"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// requestID generates a unique request identifier.
func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

// respondOK writes a success response with the standard envelope.
func respondOK(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusOK, reqID, data, nil, nil)
}

// respondCreated writes a 201 response with the standard envelope.
func respondCreated(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusCreated, reqID, data, nil, nil)
}

// respondList writes a success response with pagination.
func respondList(w http.ResponseWriter, reqID string, data any, pg *model.Pagination) {
	respondJSON(w, http.StatusOK, reqID, data, pg, nil)
}

// respondError writes an error response with the standard envelope.
func respondError(w http.ResponseWriter, reqID string, status int, apiErr *model.APIError) {
	respondJSON(w, status, reqID, nil, nil, apiErr)
}

// respondServiceError maps an error returned by a service facade onto an
// HTTP status and API error code.
func respondServiceError(w http.ResponseWriter, reqID string, err error) {
	var transition *model.InvalidTransitionError
	switch {
	case errors.Is(err, service.ErrWorkerNotFound), errors.Is(err, queue.ErrTaskNotFound):
		respondError(w, reqID, http.StatusNotFound, &model.APIError{Code: model.ErrNotFound, Message: err.Error()})
	case errors.Is(err, service.ErrNotRunning):
		respondError(w, reqID, http.StatusServiceUnavailable, &model.APIError{Code: model.ErrUnavailable, Message: err.Error()})
	case errors.As(err, &transition),
		errors.Is(err, queue.ErrTaskTerminal),
		errors.Is(err, service.ErrConcurrentUpdate),
		errors.Is(err, service.ErrWorkerNotIdle):
		respondError(w, reqID, http.StatusConflict, &model.APIError{Code: model.ErrConflict, Message: err.Error()})
	case errors.Is(err, service.ErrEmptyCommand),
		errors.Is(err, service.ErrInvalidCommand),
		errors.Is(err, service.ErrEmptyName),
		errors.Is(err, service.ErrInvalidStatus):
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError(err.Error()))
	default:
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
	}
}

func respondJSON(w http.ResponseWriter, status int, reqID string, data any, pg *model.Pagination, apiErr *model.APIError) {
	resp := model.Response{
		RequestID:  reqID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
		Pagination: pg,
		Error:      apiErr,
	}
	if apiErr != nil {
		resp.Status = "error"
	} else {
		resp.Status = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// decodeBody decodes a JSON request body into v, writing a 400 response and
// returning false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, reqID string, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "invalid JSON body: " + err.Error(),
		})
		return false
	}
	return true
}

// listOptions reads limit, offset, status and worker_id query parameters.
func listOptions(r *http.Request) (model.ListOptions, error) {
	opts := model.DefaultListOptions()
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("limit: %w", err)
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("offset: %w", err)
		}
		opts.Offset = n
	}
	opts.Status = q.Get("status")
	opts.WorkerID = q.Get("worker_id")
	opts.Clamp()
	return opts, nil
}
