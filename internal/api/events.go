package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/protohost/internal/build"
	"git.home.luguber.info/inful/protohost/internal/eventstore"
	ferrors "git.home.luguber.info/inful/protohost/internal/foundation/errors"
	"git.home.luguber.info/inful/protohost/internal/logfields"
)

// handleBuildEvents returns the stored events of a build as JSON, or streams
// them as Server-Sent Events when the client asks for text/event-stream.
func (s *Server) handleBuildEvents(w http.ResponseWriter, r *http.Request) {
	buildID := chi.URLParam(r, "id")
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") || r.URL.Query().Get("stream") == "true" {
		s.streamBuildEvents(w, r, buildID)
		return
	}
	events, err := s.deps.Events.GetByBuildID(r.Context(), buildID)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	if len(events) == 0 {
		s.Error(w, r, ferrors.NotFoundError("No events for build").WithContext("build_id", buildID).Build())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// streamBuildEvents replays stored events, then polls the event store for
// new ones until a terminal event arrives, the client goes away, or maxWait
// elapses.
func (s *Server) streamBuildEvents(w http.ResponseWriter, r *http.Request, buildID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.Error(w, r, ferrors.InternalError("streaming unsupported").Build())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	slog.InfoContext(r.Context(), "Build event stream opened", logfields.BuildID(buildID))

	ctx := r.Context()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	deadline := time.After(s.maxWait)

	var lastID int64
	for {
		events, err := s.deps.Events.GetSince(ctx, buildID, lastID)
		if err != nil {
			s.sendSSE(w, flusher, "error", map[string]string{"error": err.Error()})
			return
		}
		for i := range events {
			ev := &events[i]
			lastID = ev.ID
			s.sendSSE(w, flusher, ev.Type, ev)
			if isTerminal(ev) {
				slog.InfoContext(ctx, "Build event stream closed (terminal event)",
					logfields.BuildID(buildID), logfields.Event(ev.Type))
				return
			}
		}

		select {
		case <-ctx.Done():
			slog.DebugContext(ctx, "Build event stream closed (client disconnect)", logfields.BuildID(buildID))
			return
		case <-deadline:
			s.sendSSE(w, flusher, "timeout", map[string]string{"message": "No terminal event received within timeout period"})
			return
		case <-ticker.C:
		}
	}
}

func isTerminal(ev *eventstore.Event) bool {
	return ev.Type == string(build.EventSucceeded) || ev.Type == string(build.EventFailed)
}

// sendSSE writes one named event in SSE format.
func (s *Server) sendSSE(w http.ResponseWriter, f http.Flusher, name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal SSE event", logfields.Error(err))
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	f.Flush()
}
