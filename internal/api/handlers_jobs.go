package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tender-ingest/internal/models"
	"github.com/tender-ingest/internal/types"
)

// handleStartJob handles POST /api/jobs - trigger an ingestion run
func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Portal      string  `json:"portal,omitempty"`
		Headless    *bool   `json:"headless,omitempty"`
		Workers     int     `json:"workers,omitempty"`
		MinValue    float64 `json:"minValue,omitempty"`
		MaxDaysLeft *int    `json:"maxDaysLeft,omitempty"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	tenant := tenantID(r)
	if tenant == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Tenant ID required", nil)
		return
	}

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

	jobID, err := s.jobService.Start(r.Context(), tenant, userID(r), opts)
	if err != nil {
		s.logger.WithError(err).Warn("start job failed")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"jobId":  jobID,
		"status": string(types.JobStatusQueued),
	})
}

// handleListJobs handles GET /api/jobs - list the tenant's jobs, newest first
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Tenant ID required", nil)
		return
	}

	jobs := s.jobService.List(tenant)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetJob handles GET /api/jobs/:id - get job status
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := s.jobService.GetStatus(jobID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// handleCancelJob handles DELETE /api/jobs/:id - request cooperative cancellation
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	if !s.jobService.Cancel(jobID) {
		respondError(w, http.StatusConflict, "NOT_CANCELLABLE", "Job is not running or does not exist", map[string]interface{}{
			"jobId": jobID,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobId":     jobID,
		"cancelled": true,
	})
}

// handleJobMetrics handles GET /api/jobs/:id/metrics - live metrics for a running job
func (s *Server) handleJobMetrics(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	m := s.metrics.Get(jobID)
	if m == nil {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "No live metrics for this job", nil)
		return
	}

	respondJSON(w, http.StatusOK, m)
}

// handleRecentRuns handles GET /api/jobs/runs - historical run log, newest first
func (s *Server) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Tenant ID required", nil)
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	runs, err := s.jobLog.RecentRuns(r.Context(), tenant, limit)
	if err != nil {
		s.logger.WithError(err).Error("recent runs query failed")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleRunStats handles GET /api/jobs/stats - run counts grouped by status
func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Tenant ID required", nil)
		return
	}

	since := time.Now().AddDate(0, 0, -30)
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		t, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "since must be RFC3339", nil)
			return
		}
		since = t
	}

	stats, err := s.jobLog.RunStats(r.Context(), tenant, since)
	if err != nil {
		s.logger.WithError(err).Error("run stats query failed")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"since": since,
		"stats": stats,
	})
}
