package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tender-ingest/internal/storage"
	"github.com/tender-ingest/internal/types"
)

// handleListTenders handles GET /api/tenders - filtered listing of stored tenders
func (s *Server) handleListTenders(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Tenant ID required", nil)
		return
	}

	query := r.URL.Query()

	filter := storage.TenderFilter{
		Status:   types.TenderStatus(query.Get("status")),
		Category: types.TenderCategory(query.Get("category")),
		Portal:   types.SourcePortal(query.Get("portal")),
	}

	if minValueStr := query.Get("minValue"); minValueStr != "" {
		if v, err := strconv.ParseFloat(minValueStr, 64); err == nil && v > 0 {
			filter.MinValue = v
		}
	}

	if deadlineStr := query.Get("deadlineBefore"); deadlineStr != "" {
		if t, err := time.Parse(time.RFC3339, deadlineStr); err == nil {
			filter.DeadlineBefore = &t
		}
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			filter.Limit = l
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			filter.Offset = o
		}
	}

	tenders, err := s.tenders.List(r.Context(), tenant, filter)
	if err != nil {
		s.logger.WithError(err).Error("tender listing failed")
		respondServiceError(w, err)
		return
	}

	total, err := s.tenders.Count(r.Context(), tenant)
	if err != nil {
		s.logger.WithError(err).Error("tender count failed")
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tenders": tenders,
		"count":   len(tenders),
		"total":   total,
	})
}

// handleGetTender handles GET /api/tenders/:id - one stored tender
func (s *Server) handleGetTender(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Tenant ID required", nil)
		return
	}

	id := mux.Vars(r)["id"]

	record, err := s.tenders.GetByID(r.Context(), tenant, id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if record == nil {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "Tender not found", nil)
		return
	}

	respondJSON(w, http.StatusOK, record)
}
