package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	endpoints := []endpointInfo{
		{"/api/v1/health", []string{"GET"}, "Server health and version"},
		{"/api/v1/status", []string{"GET"}, "Service status snapshot with worker and task counts"},
		{"/api/v1/service/start", []string{"POST"}, "Accept new task submissions"},
		{"/api/v1/service/stop", []string{"POST"}, "Reject new task submissions"},
		{"/api/v1/workers", []string{"GET", "POST"}, "Worker registry"},
		{"/api/v1/workers/{id}", []string{"GET", "DELETE"}, "Single worker; DELETE also closes its connection"},
		{"/api/v1/workers/{id}/status", []string{"PUT"}, "Administrative status change"},
		{"/api/v1/workers/{id}/tasks", []string{"GET"}, "Tasks assigned to a worker"},
		{"/api/v1/workers/{id}/next", []string{"GET"}, "Hand the next pending task to an idle worker; 204 when none"},
		{"/api/v1/tasks", []string{"GET", "POST"}, "Live tasks; POST queues a command"},
		{"/api/v1/tasks/{id}", []string{"GET"}, "Single task"},
		{"/api/v1/tasks/{id}/complete", []string{"POST"}, "Report a successful result and release the worker"},
		{"/api/v1/tasks/{id}/fail", []string{"POST"}, "Report a failure and release the worker"},
		{"/api/v1/queue", []string{"GET"}, "Pending queue depth"},
	}
	if s.history != nil {
		endpoints = append(endpoints, endpointInfo{"/api/v1/history", []string{"GET"}, "Finished tasks from the journal"})
	}
	if s.metrics != nil {
		endpoints = append(endpoints, endpointInfo{"/metrics", []string{"GET"}, "Prometheus metrics"})
	}
	respondOK(w, reqID, discoveryResponse{
		Name:        "wdist API",
		Version:     "v1",
		Description: "Worker distribution coordinator: worker registry, task queue and dispatch",
		Endpoints:   endpoints,
	})
}
