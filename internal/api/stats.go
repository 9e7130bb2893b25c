package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total       int            `json:"total"`
	ByState     map[string]int `json:"by_state"`
	ByStatus    map[string]int `json:"by_status"`
	LateResults int            `json:"late_results"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.dispatcher.Stats()

	resp := statsResponse{
		Total:    stats.Total,
		ByState:  make(map[string]int, len(stats.ByState)),
		ByStatus: make(map[string]int),
	}
	for state, n := range stats.ByState {
		resp.ByState[string(state)] = n
		resp.ByStatus[state.Status()] += n
	}

	if s.store != nil {
		late, err := s.store.CountLateResults(r.Context())
		if err != nil {
			s.logger.Error("count late results", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to get stats")
			return
		}
		resp.LateResults = late
	}

	s.writeJSON(w, http.StatusOK, resp)
}
