package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/skridlevsky/contrib-census/internal/census"
	"github.com/skridlevsky/contrib-census/internal/report"
)

// ReportHandler serves persisted census results
type ReportHandler struct {
	store *census.Store
}

// NewReportHandler creates a new report handler
func NewReportHandler(store *census.Store) *ReportHandler {
	return &ReportHandler{store: store}
}

// RunResponse is a run summary in API shape.
type RunResponse struct {
	ID         string  `json:"id"`
	Owner      string  `json:"owner"`
	Repo       string  `json:"repo"`
	Since      string  `json:"since"`
	Until      string  `json:"until"`
	Scheme     string  `json:"scheme"`
	StartedAt  string  `json:"startedAt"`
	FinishedAt *string `json:"finishedAt,omitempty"`
}

func runResponse(run *census.Run) RunResponse {
	resp := RunResponse{
		ID:        run.ID.String(),
		Owner:     run.Owner,
		Repo:      run.Repo,
		Since:     run.Since.Format(time.RFC3339),
		Until:     run.Until.Format(time.RFC3339),
		Scheme:    run.Scheme,
		StartedAt: run.StartedAt.Format(time.RFC3339),
	}
	if run.FinishedAt != nil {
		finished := run.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &finished
	}
	return resp
}

// Latest handles GET /api/report/latest?owner=X&repo=Y
func (h *ReportHandler) Latest(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	repo := r.URL.Query().Get("repo")
	if owner == "" || repo == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "owner and repo are required"})
		return
	}

	run, err := h.store.LatestRun(r.Context(), owner, repo)
	if err != nil {
		slog.Error("Failed to look up latest run", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if run == nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "no finished run for repository"})
		return
	}

	respondJSON(w, http.StatusOK, runResponse(run))
}

// runID pulls and validates the run id path parameter.
func runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid run id"})
		return uuid.Nil, false
	}
	return id, true
}

// Buckets handles GET /api/report/{runID}/buckets
func (h *ReportHandler) Buckets(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	rows, err := h.store.ListBuckets(r.Context(), id)
	if err != nil {
		slog.Error("Failed to list buckets", "run", id, "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runId":   id.String(),
		"count":   len(rows),
		"buckets": rows,
	})
}

// Bots handles GET /api/report/{runID}/bots?variant=username|behavioral
func (h *ReportHandler) Bots(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	variant := r.URL.Query().Get("variant")
	if variant == "" {
		variant = census.VariantUsername
	}
	if variant != census.VariantUsername && variant != census.VariantBehavioral {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "variant must be username or behavioral"})
		return
	}

	verdicts, err := h.store.ListBotVerdicts(r.Context(), id, variant)
	if err != nil {
		slog.Error("Failed to list bot verdicts", "run", id, "variant", variant, "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runId":   id.String(),
		"variant": variant,
		"count":   len(verdicts),
		"bots":    verdicts,
	})
}

// Summary handles GET /api/report/{runID}/summary, the per-tier statistics
// of a run's bucket report.
func (h *ReportHandler) Summary(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	rows, err := h.store.ListBuckets(r.Context(), id)
	if err != nil {
		slog.Error("Failed to summarize buckets", "run", id, "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runId": id.String(),
		"tiers": report.SummarizeTiers(rows),
	})
}

// Clusters handles GET /api/report/{runID}/clusters?method=email|profile
func (h *ReportHandler) Clusters(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	method := r.URL.Query().Get("method")
	if method == "" {
		method = "email"
	}
	if method != "email" && method != "profile" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "method must be email or profile"})
		return
	}

	clusters, err := h.store.ListClusters(r.Context(), id, method)
	if err != nil {
		slog.Error("Failed to list clusters", "run", id, "method", method, "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runId":    id.String(),
		"method":   method,
		"count":    len(clusters),
		"clusters": clusters,
	})
}

// Export handles GET /api/report/{runID}/export, streaming the tier
// report as CSV.
func (h *ReportHandler) Export(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	rows, err := h.store.ListBuckets(r.Context(), id)
	if err != nil {
		slog.Error("Failed to export buckets", "run", id, "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="census-%s.csv"`, id))
	if err := report.WriteBuckets(w, rows); err != nil {
		slog.Error("Failed to stream CSV export", "run", id, "error", err)
	}
}
