package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tender-ingest/internal/models"
	"github.com/tender-ingest/internal/types"
)

type scheduleRequest struct {
	IntervalHours int     `json:"intervalHours"`
	Portal        string  `json:"portal,omitempty"`
	Headless      *bool   `json:"headless,omitempty"`
	Workers       int     `json:"workers,omitempty"`
	MinValue      float64 `json:"minValue,omitempty"`
	MaxDaysLeft   *int    `json:"maxDaysLeft,omitempty"`
}

func (req *scheduleRequest) options() models.JobOptions {
	opts := models.JobOptions{
		Portal:      types.SourcePortal(req.Portal),
		Headless:    true,
		Workers:     req.Workers,
		MinValue:    req.MinValue,
		MaxDaysLeft: req.MaxDaysLeft,
	}
	if req.Headless != nil {
		opts.Headless = *req.Headless
	}
	return opts
}

// handleCreateSchedule handles POST /api/schedules - create a recurring ingestion
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	tenant := tenantID(r)
	if tenant == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Tenant ID required", nil)
		return
	}

	sched, err := s.scheduleService.Schedule(r.Context(), tenant, userID(r), req.IntervalHours, req.options())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, sched)
}

// handleListSchedules handles GET /api/schedules - list the tenant's active schedules
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Tenant ID required", nil)
		return
	}

	schedules, err := s.scheduleService.ListActive(r.Context(), tenant)
	if err != nil {
		s.logger.WithError(err).Error("list schedules failed")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"schedules": schedules,
		"count":     len(schedules),
	})
}

// handleUpdateSchedule handles PUT /api/schedules/:id - change interval or options
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req scheduleRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	sched, err := s.scheduleService.Update(r.Context(), id, req.IntervalHours, req.options())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, sched)
}

// handleCancelSchedule handles DELETE /api/schedules/:id - deactivate a schedule
func (s *Server) handleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.scheduleService.Cancel(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":        id,
		"cancelled": true,
	})
}

// handleRunScheduleNow handles POST /api/schedules/:id/run - fire immediately
func (s *Server) handleRunScheduleNow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	jobID, err := s.scheduleService.ExecuteNow(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"scheduleId": id,
		"jobId":      jobID,
	})
}
