package api

import "net/http"

// handleSystemMetrics handles GET /api/metrics/system - service-wide snapshot
func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.SystemSnapshot())
}

// handleActiveMetrics handles GET /api/metrics/active - per-job live metrics
func (s *Server) handleActiveMetrics(w http.ResponseWriter, r *http.Request) {
	active := s.metrics.Active()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  active,
		"count": len(active),
	})
}
