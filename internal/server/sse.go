package server

import (
	"encoding/json"
	"errors"
	"fmt"
	nethttp "net/http"
)

// sseWriter writes Server-Sent Events. Headers are sent with the first
// event, so a request that fails before producing output can still get a
// plain JSON error response.
type sseWriter struct {
	w       nethttp.ResponseWriter
	rc      *nethttp.ResponseController
	started bool
}

func newSSEWriter(w nethttp.ResponseWriter) *sseWriter {
	return &sseWriter{w: w, rc: nethttp.NewResponseController(w)}
}

func (s *sseWriter) start() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(nethttp.StatusOK)
	s.started = true
}

// Started reports whether any event has been written.
func (s *sseWriter) Started() bool {
	return s.started
}

// Send writes one event. An empty event name writes an unnamed data event.
func (s *sseWriter) Send(event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if !s.started {
		s.start()
	}
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, nethttp.ErrNotSupported) {
		return err
	}
	return nil
}
