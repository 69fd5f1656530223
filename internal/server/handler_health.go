package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Service   string `json:"service"`
	History   string `json:"history"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	svc := "stopped"
	if s.status.IsRunning() {
		svc = "running"
	}
	history := "disabled"
	if s.history != nil {
		history = "sqlite"
	}
	respondOK(w, reqID, healthResponse{
		Status:    "healthy",
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Service:   svc,
		History:   history,
	})
}

// GET /api/v1/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), s.status.Snapshot())
}

// POST /api/v1/service/start
func (s *Server) handleServiceStart(w http.ResponseWriter, r *http.Request) {
	s.status.Start()
	s.logger.Info("service started")
	respondOK(w, RequestIDFromContext(r.Context()), s.status.Snapshot())
}

// POST /api/v1/service/stop
func (s *Server) handleServiceStop(w http.ResponseWriter, r *http.Request) {
	s.status.Stop()
	s.logger.Info("service stopped")
	respondOK(w, RequestIDFromContext(r.Context()), s.status.Snapshot())
}
