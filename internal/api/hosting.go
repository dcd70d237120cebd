package api

import (
	"bytes"
	"net/http"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/protohost/internal/logfields"
	"git.home.luguber.info/inful/protohost/internal/observability"
)

func (s *Server) handleServePrototype(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rel := chi.URLParam(r, "*")

	f, ok := s.deps.Hosting.ServeFile(id, rel)
	if !ok {
		observability.DebugContext(r.Context(), "Prototype file not found", logfields.PrototypeID(id), logfields.Path(rel))
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "File not found"})
		return
	}
	w.Header().Set("Content-Type", f.ContentType)
	http.ServeContent(w, r, f.Path, f.ModTime, bytes.NewReader(f.Data))
}
