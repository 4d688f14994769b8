package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Services  healthServices `json:"services"`
	Sessions  int            `json:"sessions"`
}

type healthServices struct {
	Database string `json:"database"`
	Driver   string `json:"driver,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "not configured"
	if s.dbCheck != nil {
		dbStatus = "connected"
		if err := s.dbCheck(r.Context()); err != nil {
			dbStatus = "disconnected"
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  healthServices{Database: dbStatus, Driver: s.dbDriver},
		Sessions:  s.sessions.Len(),
	})
}
