/*
handlers.go - HTTP API handlers for loaded usage data

PURPOSE:
  Read-only views over the inventory ledger, titles and metric facts.

ENDPOINTS:
  GET /api/reports?limit=                   Ledger entries
  GET /api/platforms                        Platform reference
  GET /api/titles?q=&platform=&limit=       Title search (platform by name or alias)
  GET /api/titles/{id}                      One title
  GET /api/titles/{id}/metrics              Monthly facts
  GET /api/usage?title=&year=&metric_type=  Monthly totals by title

ERROR HANDLING:
  - 400: Bad query parameter
  - 404: Unknown title or platform
  - 500: Storage errors
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cubl/counter-loader/store/sqlstore"
	"github.com/cubl/counter-loader/usage"
)

// Queries is the read side of the store.
type Queries interface {
	PlatformID(ctx context.Context, name string) (int64, bool, error)
	ListPlatforms(ctx context.Context) ([]usage.Platform, error)
	ListInventory(ctx context.Context, limit int) ([]usage.LedgerEntry, error)
	SearchTitles(ctx context.Context, f sqlstore.TitleFilter) ([]usage.TitleEntity, error)
	GetTitle(ctx context.Context, id int64) (usage.TitleEntity, error)
	MetricsForTitle(ctx context.Context, titleID int64) ([]usage.MetricFact, error)
	TitleUsage(ctx context.Context, f sqlstore.UsageFilter) ([]sqlstore.UsageRow, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  Queries
	logger *zap.Logger
}

// NewHandler creates a new handler with the given store.
func NewHandler(store Queries, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Store: store, logger: logger}
}

// =============================================================================
// INVENTORY AND PLATFORMS
// =============================================================================

// ListReports returns the inventory ledger.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	entries, err := h.Store.ListInventory(r.Context(), limit)
	if err != nil {
		h.internal(w, "Failed to list reports", err)
		return
	}
	dtos := make([]ReportDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toReportDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListPlatforms returns the platform reference.
func (h *Handler) ListPlatforms(w http.ResponseWriter, r *http.Request) {
	platforms, err := h.Store.ListPlatforms(r.Context())
	if err != nil {
		h.internal(w, "Failed to list platforms", err)
		return
	}
	dtos := make([]PlatformDTO, len(platforms))
	for i, p := range platforms {
		dtos[i] = PlatformDTO{ID: p.ID, Name: p.Name, Alias: p.Alias}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TITLES
// =============================================================================

// SearchTitles filters titles by substring and platform.
func (h *Handler) SearchTitles(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit")
	if !ok {
		return
	}
	filter := sqlstore.TitleFilter{Query: r.URL.Query().Get("q"), Limit: limit}

	if name := r.URL.Query().Get("platform"); name != "" {
		id, found, err := h.Store.PlatformID(r.Context(), name)
		if err != nil {
			h.internal(w, "Failed to resolve platform", err)
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "Platform not found", nil)
			return
		}
		filter.PlatformID = id
	}

	titles, err := h.Store.SearchTitles(r.Context(), filter)
	if err != nil {
		h.internal(w, "Failed to search titles", err)
		return
	}
	dtos := make([]TitleDTO, len(titles))
	for i, t := range titles {
		dtos[i] = toTitleDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTitle returns a single title.
func (h *Handler) GetTitle(w http.ResponseWriter, r *http.Request) {
	id, ok := titleID(w, r)
	if !ok {
		return
	}
	t, err := h.Store.GetTitle(r.Context(), id)
	if usage.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "Title not found", nil)
		return
	}
	if err != nil {
		h.internal(w, "Failed to get title", err)
		return
	}
	writeJSON(w, http.StatusOK, toTitleDTO(t))
}

// GetTitleMetrics returns the monthly facts of a title.
func (h *Handler) GetTitleMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := titleID(w, r)
	if !ok {
		return
	}
	if _, err := h.Store.GetTitle(r.Context(), id); err != nil {
		if usage.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Title not found", nil)
			return
		}
		h.internal(w, "Failed to get title", err)
		return
	}

	facts, err := h.Store.MetricsForTitle(r.Context(), id)
	if err != nil {
		h.internal(w, "Failed to list metrics", err)
		return
	}
	dtos := make([]MetricDTO, len(facts))
	for i, f := range facts {
		dtos[i] = toMetricDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// USAGE
// =============================================================================

// GetUsage returns monthly totals summed across publisher spellings of a title.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	year, ok := intParam(w, r, "year")
	if !ok {
		return
	}
	filter := sqlstore.UsageFilter{Title: r.URL.Query().Get("title"), Year: year}
	if name := r.URL.Query().Get("metric_type"); name != "" {
		mt, ok := usage.ParseMetricType(name)
		if !ok {
			writeError(w, http.StatusBadRequest, "Unknown metric_type", name)
			return
		}
		filter.MetricType = mt
	}

	rows, err := h.Store.TitleUsage(r.Context(), filter)
	if err != nil {
		h.internal(w, "Failed to aggregate usage", err)
		return
	}
	dtos := make([]UsageDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toUsageDTO(row)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func titleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid title id", chi.URLParam(r, "id"))
		return 0, false
	}
	return id, true
}

// intParam reads an optional non-negative integer query parameter; absent is 0.
func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "Invalid "+name, v)
		return 0, false
	}
	return n, true
}

func (h *Handler) internal(w http.ResponseWriter, message string, err error) {
	h.logger.Error(message, zap.Error(err))
	writeError(w, http.StatusInternalServerError, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, details any) {
	resp := ErrorResponse{Error: message}
	if err, ok := details.(error); ok {
		if err != nil {
			resp.Details = err.Error()
		}
	} else if details != nil {
		resp.Details = details
	}
	writeJSON(w, status, resp)
}
