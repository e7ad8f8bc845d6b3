package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// handleLogStream streams log lines as Server-Sent Events until the client
// disconnects
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "Streaming is not supported", nil)
		return
	}

	lines, unsubscribe := s.logs.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(s.config.KeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case line := <-lines:
			if err := writeEvent(w, line); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent frames line as one SSE message; embedded newlines become
// separate data fields
func writeEvent(w http.ResponseWriter, line string) error {
	var b strings.Builder
	for _, part := range strings.Split(strings.TrimRight(line, "\n"), "\n") {
		b.WriteString("data: ")
		b.WriteString(part)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	_, err := fmt.Fprint(w, b.String())
	return err
}
