// Package api exposes the retrieval service over its two protocol bridges:
// loopback REST for proxy processes and CLI commands, and MCP (stdio or SSE)
// for AI coding assistants.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/engram-ai/engram/internal/domain"
	"github.com/engram-ai/engram/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1MB

// ServiceName identifies this daemon in health responses. Probes match on
// it to avoid adopting an unrelated process squatting on the port.
const ServiceName = "engram-service"

// Deps holds what the HTTP layer needs from the rest of the process.
type Deps struct {
	Service   *service.Service
	Log       *slog.Logger
	Version   string
	DataDir   string
	StartedAt time.Time
}

// NewHandler builds the REST router served by the owner process.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	r.Post("/api/contexts", handleIngest(deps))
	r.Get("/api/contexts", handleHistory(deps))
	r.Post("/api/contexts/bulk", handleIngestBulk(deps))
	r.Post("/api/search", handleSearch(deps))
	r.Get("/api/projects", handleProjects(deps))
	r.Get("/api/stats", handleStats(deps))

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := deps.Service.Health(r.Context())
		if !h.OK {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":  "unhealthy",
				"service": ServiceName,
				"message": h.Message,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "healthy",
			"service": ServiceName,
			"version": deps.Version,
		})
	}
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload service.IngestPayload
		if !decodeBody(w, r, &payload) {
			return
		}

		summary, err := deps.Service.Ingest(r.Context(), payload)
		if err != nil {
			writeError(deps.Log, w, err)
			return
		}
		writeJSON(w, http.StatusCreated, summary)
	}
}

func handleIngestBulk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payloads []service.IngestPayload
		if !decodeBody(w, r, &payloads) {
			return
		}

		summaries, err := deps.Service.IngestBatch(r.Context(), payloads)
		if err != nil {
			writeError(deps.Log, w, err)
			return
		}
		writeJSON(w, http.StatusCreated, summaries)
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload service.SearchPayload
		if !decodeBody(w, r, &payload) {
			return
		}

		resp, err := deps.Service.Search(r.Context(), payload)
		if err != nil {
			writeError(deps.Log, w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project := r.URL.Query().Get("project")
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeError(deps.Log, w, domain.Validationf("invalid limit %q", raw))
				return
			}
			limit = n
		}

		summaries, err := deps.Service.History(r.Context(), project, limit)
		if err != nil {
			writeError(deps.Log, w, err)
			return
		}
		if summaries == nil {
			summaries = []domain.Summary{}
		}
		writeJSON(w, http.StatusOK, summaries)
	}
}

func handleProjects(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := deps.Service.Projects(r.Context())
		if err != nil {
			writeError(deps.Log, w, err)
			return
		}
		if projects == nil {
			projects = []string{}
		}
		writeJSON(w, http.StatusOK, projects)
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		total, _, err := deps.Service.Count(r.Context())
		if err != nil {
			writeError(deps.Log, w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"total_contexts": total,
			"data_dir":       deps.DataDir,
			"version":        deps.Version,
			"uptime_seconds": int(time.Since(deps.StartedAt).Seconds()),
		})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "invalid request body: " + err.Error(),
			"code":  string(domain.ErrValidation),
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(log *slog.Logger, w http.ResponseWriter, err error) {
	var derr *domain.Error
	status := http.StatusInternalServerError
	code := domain.ErrOther
	if errors.As(err, &derr) {
		status = derr.HTTPStatus()
		code = derr.Kind
	}
	if status >= 500 {
		log.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"code":  string(code),
	})
}
