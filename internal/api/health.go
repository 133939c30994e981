package api

import "net/http"

type healthResponse struct {
	Status string `json:"status"`
	Build  string `json:"build,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, healthResponse{Status: "ok", Build: s.cfg.Build})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ready != nil {
		if err := s.cfg.Ready(r.Context()); err != nil {
			s.logger.Warn(r.Context(), "readiness check failed", "error", err)
			s.respond(w, r, http.StatusServiceUnavailable, healthResponse{Status: "not ready"})
			return
		}
	}
	s.respond(w, r, http.StatusOK, healthResponse{Status: "ready"})
}
