package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CMarchell/autoclips/internal/registry"
	"github.com/CMarchell/autoclips/internal/storage"
)

const defaultListLimit = 50

// NewHandler returns the read-only HTTP API over the project registry.
func NewHandler(reg *registry.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(Metrics)

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/projects", handleListProjects(reg))
	r.Get("/projects/{id}", handleGetProject(reg))
	r.Get("/projects/{id}/attempts", handleAttempts(reg))
	r.Get("/footage/recent", handleRecentFootage(reg))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleListProjects(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var status storage.Status
		if raw := r.URL.Query().Get("status"); raw != "" {
			s, err := storage.ParseStatus(raw)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			status = s
		}
		limit, err := queryInt(r, "limit", defaultListLimit)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		projects, err := reg.List(r.Context(), status, limit)
		if err != nil {
			serverError(w, r, err)
			return
		}
		views := make([]ProjectView, len(projects))
		for i, p := range projects {
			views[i] = NewProjectView(p)
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": views})
	}
}

func handleGetProject(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := reg.Inspect(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			lookupError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, NewReportView(rep))
	}
}

func handleAttempts(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history, err := reg.History(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			lookupError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"attempts": NewAttemptViews(history)})
	}
}

func handleRecentFootage(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit", 0)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		keys, err := reg.RecentFootage(r.Context(), limit)
		if err != nil {
			serverError(w, r, err)
			return
		}
		if keys == nil {
			keys = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"footage": keys})
	}
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return n, nil
}

func lookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found_error", "project %s not found", chi.URLParam(r, "id"))
		return
	}
	serverError(w, r, err)
}

func serverError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("request failed", "path", r.URL.Path, "error", err)
	httpError(w, http.StatusInternalServerError, "api_error", "internal error")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
