package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/unitybridge/internal/dispatch"
	"github.com/seantiz/unitybridge/internal/invoker"
	"github.com/seantiz/unitybridge/internal/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// dispatchRequest is the JSON body for POST /v1/operations.
type dispatchRequest struct {
	Tool      string          `json:"tool"`
	Params    json.RawMessage `json:"params"`
	TimeoutMS int64           `json:"timeout_ms"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Tool == "" {
		s.writeError(w, http.StatusBadRequest, "tool is required")
		return
	}
	if req.TimeoutMS < 0 {
		s.writeError(w, http.StatusBadRequest, "timeout_ms must not be negative")
		return
	}

	// The wait is bounded by the operation deadline, which may exceed the
	// server write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("clear write deadline for dispatch", "error", err)
	}

	resp, err := s.dispatcher.Dispatch(r.Context(), model.Request{
		Tool:   req.Tool,
		Params: req.Params,
	}, time.Duration(req.TimeoutMS)*time.Millisecond)
	switch {
	case errors.Is(err, invoker.ErrUnknownTool), errors.Is(err, dispatch.ErrInvalidParams):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("dispatch operation", "tool", req.Tool, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "failed to dispatch operation")
		return
	}

	status := http.StatusOK
	if !resp.State.IsTerminal() {
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	resp, err := s.dispatcher.Poll(id)
	if errors.Is(err, dispatch.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	if err != nil {
		s.logger.Error("get operation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get operation")
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	s.writeJSON(w, http.StatusOK, s.dispatcher.List(limit, offset))
}

func (s *Server) handleCancelOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	resp, err := s.dispatcher.Cancel(id)
	if errors.Is(err, dispatch.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	if err != nil {
		s.logger.Error("cancel operation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel operation")
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
