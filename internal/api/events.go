package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/unitybridge/internal/dispatch"
	"github.com/seantiz/unitybridge/internal/model"
)

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	op, err := s.dispatcher.Poll(id)
	if errors.Is(err, dispatch.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "operation not found")
		return
	}
	if err != nil {
		s.logger.Error("get operation for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get operation")
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Already finished: nothing will be published.
	if op.State.IsTerminal() {
		w.WriteHeader(http.StatusOK)
		_ = writeSSEEvent(w, "done", string(op.State))
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribe on a closed topic returns a closed channel, so an operation
	// finishing between the check above and here ends the loop at once.
	ch, unsub := s.broker.Subscribe(id)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				state := "unknown"
				if final, err := s.dispatcher.Poll(id); err == nil {
					state = string(final.State)
				}
				_ = writeSSEEvent(w, "done", state)
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if err := writeSSEEvent(w, ev.Type, string(ev.Data)); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// logHistoryLine is a single log line in the history response.
type logHistoryLine struct {
	Seq       int    `json:"seq"`
	Line      string `json:"line"`
	CreatedAt string `json:"created_at"`
}

// logHistoryResponse is the JSON response for GET /v1/operations/{id}/logs.
type logHistoryResponse struct {
	OperationID string           `json:"operation_id"`
	Lines       []logHistoryLine `json:"lines"`
}

func (s *Server) handleGetLogHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.operationExists(w, id) {
		return
	}

	var logLines []model.LogLine
	if s.store != nil {
		var err error
		logLines, err = s.store.GetLogLines(r.Context(), id)
		if err != nil {
			s.logger.Error("get log lines", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to get log lines")
			return
		}
	}

	lines := make([]logHistoryLine, len(logLines))
	for i, l := range logLines {
		lines[i] = logHistoryLine{
			Seq:       l.Seq,
			Line:      l.Line,
			CreatedAt: l.CreatedAt.Format(time.RFC3339),
		}
	}

	s.writeJSON(w, http.StatusOK, logHistoryResponse{
		OperationID: id,
		Lines:       lines,
	})
}

// resultsResponse is the JSON response for GET /v1/operations/{id}/results.
type resultsResponse struct {
	OperationID string               `json:"operation_id"`
	Results     []model.ResultRecord `json:"results"`
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.operationExists(w, id) {
		return
	}

	results := []model.ResultRecord{}
	if s.store != nil {
		var err error
		results, err = s.store.GetResults(r.Context(), id)
		if err != nil {
			s.logger.Error("get results", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to get results")
			return
		}
	}

	s.writeJSON(w, http.StatusOK, resultsResponse{
		OperationID: id,
		Results:     results,
	})
}

// operationExists writes a 404 and returns false for unknown ids.
func (s *Server) operationExists(w http.ResponseWriter, id string) bool {
	if _, err := s.dispatcher.Poll(id); err != nil {
		s.writeError(w, http.StatusNotFound, "operation not found")
		return false
	}
	return true
}

// writeSSEData writes a payload as an SSE data event. Multi-line strings are
// split so that each segment gets its own "data:" prefix, as SSE requires.
func writeSSEData(w http.ResponseWriter, data string) error {
	for seg := range strings.SplitSeq(data, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	return writeSSEData(w, data)
}
