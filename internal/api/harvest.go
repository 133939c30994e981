package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ahrav/billharvest/internal/domain/harvest"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

type controlResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

type statusResponse struct {
	Status         string  `json:"status"`
	LastProcessed  int     `json:"last_processed"`
	TotalProcessed int     `json:"total_processed"`
	ElapsedTime    string  `json:"elapsed_time,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
	RunID          string  `json:"run_id,omitempty"`
	LastOutcome    string  `json:"last_outcome,omitempty"`
	LastError      string  `json:"last_error,omitempty"`
	Message        string  `json:"message,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.countRequest(r, "start")

	id, err := s.harvest.Start(ctx)
	switch {
	case err == nil:
		s.respond(w, r, http.StatusAccepted, controlResponse{
			Status:  statusSuccess,
			Message: "harvest started",
			RunID:   id.String(),
		})
	case errors.Is(err, harvest.ErrAlreadyRunning):
		s.reject(w, r, "start", http.StatusConflict, "already_running", "harvest is already running")
	case errors.Is(err, harvest.ErrInputMissing):
		s.reject(w, r, "start", http.StatusBadRequest, "input_missing", err.Error())
	default:
		s.logger.Error(ctx, "failed to start harvest", "error", err)
		s.reject(w, r, "start", http.StatusInternalServerError, "internal", "failed to start harvest")
	}
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.countRequest(r, "pause")

	switch err := s.harvest.Pause(); {
	case err == nil:
		s.respond(w, r, http.StatusOK, controlResponse{Status: statusSuccess, Message: "harvest paused"})
	case errors.Is(err, harvest.ErrNoActiveRun):
		s.reject(w, r, "pause", http.StatusConflict, "no_active_run", "no harvest is running")
	case errors.Is(err, harvest.ErrAlreadyPaused):
		s.reject(w, r, "pause", http.StatusConflict, "already_paused", "harvest is already paused")
	case errors.Is(err, harvest.ErrAlreadyStopping):
		s.reject(w, r, "pause", http.StatusConflict, "stopping", "harvest is stopping")
	default:
		s.logger.Error(r.Context(), "failed to pause harvest", "error", err)
		s.reject(w, r, "pause", http.StatusInternalServerError, "internal", "failed to pause harvest")
	}
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.countRequest(r, "resume")

	switch err := s.harvest.Resume(); {
	case err == nil:
		s.respond(w, r, http.StatusOK, controlResponse{Status: statusSuccess, Message: "harvest resumed"})
	case errors.Is(err, harvest.ErrNoActiveRun):
		s.reject(w, r, "resume", http.StatusConflict, "no_active_run", "no harvest is running")
	case errors.Is(err, harvest.ErrNotPaused):
		s.reject(w, r, "resume", http.StatusConflict, "not_paused", "harvest is not paused")
	case errors.Is(err, harvest.ErrAlreadyStopping):
		s.reject(w, r, "resume", http.StatusConflict, "stopping", "harvest is stopping")
	default:
		s.logger.Error(r.Context(), "failed to resume harvest", "error", err)
		s.reject(w, r, "resume", http.StatusInternalServerError, "internal", "failed to resume harvest")
	}
}

// handleStop is idempotent: every outcome is a success, with a message
// describing a no-op.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.countRequest(r, "stop")

	resp := controlResponse{Status: statusSuccess, Message: "stop requested"}
	switch err := s.harvest.Stop(); {
	case err == nil:
	case errors.Is(err, harvest.ErrNoActiveRun):
		resp.Message = "no harvest is running"
	case errors.Is(err, harvest.ErrAlreadyStopping):
		resp.Message = "harvest is already stopping"
	default:
		s.logger.Error(r.Context(), "failed to stop harvest", "error", err)
		s.reject(w, r, "stop", http.StatusInternalServerError, "internal", "failed to stop harvest")
		return
	}
	s.respond(w, r, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.harvest.Status(r.Context())

	resp := statusResponse{
		Status:         snap.State.String(),
		LastProcessed:  snap.Progress.LastProcessedIndex,
		TotalProcessed: snap.Progress.TotalProcessed,
		RunID:          snap.RunID,
		LastOutcome:    string(snap.LastOutcome),
		LastError:      snap.LastError,
	}
	switch {
	case snap.State != harvest.ControlStateInactive:
		elapsed := snap.Elapsed.Round(time.Second)
		resp.ElapsedTime = elapsed.String()
		resp.ElapsedSeconds = elapsed.Seconds()
	case snap.RunID == "":
		resp.Message = "no harvest run has been started"
	default:
		resp.Message = "no harvest is running"
	}

	s.respond(w, r, http.StatusOK, resp)
}

func (s *Server) countRequest(r *http.Request, action string) {
	if s.metrics != nil {
		s.metrics.IncControlRequests(r.Context(), action)
	}
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, action string, code int, reason, msg string) {
	if s.metrics != nil {
		s.metrics.IncControlRejections(r.Context(), action, reason)
	}
	s.respond(w, r, code, controlResponse{Status: statusError, Message: msg})
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error(r.Context(), "failed to encode response", "error", err)
	}
}
