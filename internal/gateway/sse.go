// Package gateway exposes the HTTP/SSE façade over the services.
package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aleck31/aibox/pkg/models"
)

// Event names on the SSE stream.
const (
	eventStart   = "start"
	eventContent = "content"
	eventEnd     = "end"
	eventError   = "error"
)

// sseWriter frames SSE events onto an http.ResponseWriter.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter prepares the response for event streaming. It fails
// when the connection cannot flush incrementally.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported by connection")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, flusher: flusher}, nil
}

// send writes one event with a JSON payload.
func (s *sseWriter) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// start opens the stream for a session.
func (s *sseWriter) start(sessionID string) error {
	return s.send(eventStart, map[string]string{"session_id": sessionID})
}

// content forwards one normalized chunk.
func (s *sseWriter) content(chunk *models.Chunk) error {
	return s.send(eventContent, chunk)
}

// end closes the stream normally.
func (s *sseWriter) end() error {
	return s.send(eventEnd, map[string]string{"status": "complete"})
}

// fail reports a terminal error on the stream.
func (s *sseWriter) fail(msg string) error {
	return s.send(eventError, map[string]string{"error": msg})
}
