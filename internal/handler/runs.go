package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sakif/blitz/internal/apperror"
	"github.com/sakif/blitz/internal/model"
	"github.com/sakif/blitz/internal/repository"
)

// History is the part of service.RunService the history handlers need.
type History interface {
	Get(ctx context.Context, id string) (*model.Run, error)
	List(ctx context.Context, opts repository.ListOptions) ([]model.Run, error)
	Delete(ctx context.Context, id string) error
}

// RunHandler serves the stored run history.
type RunHandler struct {
	runs   History
	logger *slog.Logger
}

func NewRunHandler(runs History, logger *slog.Logger) *RunHandler {
	return &RunHandler{runs: runs, logger: logger}
}

// HandleList returns stored runs, newest first.
//
// HTTP: GET /api/runs?limit=20&offset=0&strategy=process&errorKind=timeout
func (h *RunHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := intParam(q.Get("offset"), "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	runs, err := h.runs.List(r.Context(), repository.ListOptions{
		Limit:     limit,
		Offset:    offset,
		Strategy:  q.Get("strategy"),
		ErrorKind: q.Get("errorKind"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, runs)
}

// HandleGet returns one stored run.
//
// HTTP: GET /api/runs/{id}
func (h *RunHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// HandleDelete removes one stored run.
//
// HTTP: DELETE /api/runs/{id} → 204 No Content
func (h *RunHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.runs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperror.ValidationFailed(name, name+" must be a non-negative integer")
	}
	return n, nil
}
