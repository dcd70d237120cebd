package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	ferrors "git.home.luguber.info/inful/protohost/internal/foundation/errors"
	"git.home.luguber.info/inful/protohost/internal/prototype"
)

const maxBodyBytes = 1 << 20

type createPrototypeRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	GitHubRepoURL string `json:"gitHubRepoUrl"`
}

type updatePrototypeRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryValidation, "Invalid JSON body").Build()
	}
	return nil
}

func (s *Server) handleListPrototypes(w http.ResponseWriter, r *http.Request) {
	createdBy := ""
	if r.URL.Query().Get("my") == "true" {
		createdBy = currentUser(r)
	}
	ps, err := s.deps.Prototypes.List(r.Context(), createdBy)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	out := make([]prototypeResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, toPrototypeResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPrototype(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Prototypes.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPrototypeResponse(p))
}

func (s *Server) handleCreatePrototype(w http.ResponseWriter, r *http.Request) {
	var req createPrototypeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.Error(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.GitHubRepoURL) == "" {
		s.Error(w, r, ferrors.ValidationError("Name and GitHub repository URL are required").Build())
		return
	}
	p, err := s.deps.Prototypes.Create(r.Context(), currentUser(r), prototype.CreateRequest{
		Name:        req.Name,
		Description: req.Description,
		RepoURL:     req.GitHubRepoURL,
	})
	if err != nil {
		s.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPrototypeResponse(p))
}

func (s *Server) handleUpdatePrototype(w http.ResponseWriter, r *http.Request) {
	var req updatePrototypeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.Error(w, r, err)
		return
	}
	p, err := s.deps.Prototypes.Update(r.Context(), chi.URLParam(r, "id"), currentUser(r), prototype.UpdateRequest{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		s.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPrototypeResponse(p))
}

func (s *Server) handleDeletePrototype(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Prototypes.Delete(r.Context(), chi.URLParam(r, "id"), currentUser(r)); err != nil {
		s.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRebuildPrototype(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	jobID, err := s.deps.Prototypes.Rebuild(r.Context(), id)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message":     "Rebuild triggered successfully",
		"prototypeId": id,
		"jobId":       jobID,
		"status":      "queued",
	})
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.Error(w, r, ferrors.ValidationError("limit must be a non-negative integer").Build())
			return
		}
		limit = n
	}
	recs, err := s.deps.Prototypes.History(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	out := make([]buildRecordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toBuildRecordResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetReadme(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Prototypes.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.Error(w, r, err)
		return
	}
	if p.ReadmeHTML == "" {
		s.Error(w, r, ferrors.NotFoundError("README not available").WithContext("prototype_id", p.ID).Build())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"prototypeId": p.ID, "html": p.ReadmeHTML})
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.deps.Records.GetBuildRecord(r.Context(), id)
	if err != nil {
		if errors.Is(err, prototype.ErrNotFound) {
			err = ferrors.WrapError(err, ferrors.CategoryNotFound, "Build not found").WithContext("build_id", id).Build()
		}
		s.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBuildRecordResponse(rec))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.deps.Jobs.JobSnapshot(id)
	if !ok {
		s.Error(w, r, ferrors.NotFoundError("Job not found").WithContext("job_id", id).Build())
		return
	}
	writeJSON(w, http.StatusOK, job)
}
