package api

import (
	"net/http"

	"github.com/seantiz/unitybridge/internal/invoker"
)

type toolsResponse struct {
	Tools []invoker.Tool `json:"tools"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, toolsResponse{Tools: s.dispatcher.Tools()})
}

func (s *Server) handleCheckConnection(w http.ResponseWriter, r *http.Request) {
	resp := s.dispatcher.CheckConnection(r.Context())
	status := http.StatusOK
	if !resp.Connected {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}
