package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/crimestats/crimestats/internal/cache"
	"github.com/crimestats/crimestats/internal/dataset"
	"github.com/crimestats/crimestats/internal/errors"
	"github.com/crimestats/crimestats/internal/source"
	"github.com/crimestats/crimestats/pkg/types"
)

const (
	// ExportPrefix is the base name of downloaded extracts.
	ExportPrefix = "filtered_crime_data"

	csvContentType  = "text/csv; charset=utf-8"
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// DashboardHandler answers the dashboard's data queries against one
// dataset. The dataset is fetched through the cache on every request, so a
// rewritten source is picked up without a restart.
type DashboardHandler struct {
	cache      *cache.DatasetCache
	src        source.Source
	dateFormat types.DateFormat
	logger     zerolog.Logger
}

// NewDashboardHandler creates a handler serving src.
func NewDashboardHandler(c *cache.DatasetCache, src source.Source, df types.DateFormat, logger zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{
		cache:      c,
		src:        src,
		dateFormat: df,
		logger:     logger,
	}
}

// Register mounts the dashboard routes on mux, each wrapped by mw.
func (h *DashboardHandler) Register(mux *http.ServeMux, mw func(http.Handler) http.Handler) {
	routes := map[string]http.HandlerFunc{
		"GET /v1/suburbs":      h.handleSuburbs,
		"GET /v1/offences":     h.handleOffences,
		"GET /v1/summary":      h.handleSummary,
		"GET /v1/monthly":      h.handleMonthly,
		"GET /v1/distribution": h.handleDistribution,
		"GET /v1/trends":       h.handleTrends,
		"GET /v1/heatmap":      h.handleHeatmap,
		"GET /v1/export.csv":   h.handleExportCSV,
		"GET /v1/export.xlsx":  h.handleExportXLSX,
		"GET /v1/cache":        h.handleCacheStats,
	}
	for pattern, fn := range routes {
		mux.Handle(pattern, mw(fn))
	}
}

func (h *DashboardHandler) load(ctx context.Context, src source.Source) (*dataset.Dataset, error) {
	d, err := dataset.Load(ctx, src, h.dateFormat)
	if err != nil {
		return nil, err
	}
	h.logger.Info().Str("source", src.Name()).Int("rows", d.Len()).Msg("loaded dataset")
	return d, nil
}

// dataset returns the cached dataset narrowed to the request's selection.
func (h *DashboardHandler) dataset(r *http.Request) (*dataset.Dataset, dataset.Selection, error) {
	d, err := h.cache.Get(r.Context(), h.src, h.load)
	if err != nil {
		return nil, dataset.Selection{}, err
	}
	sel := selectionFrom(r.URL.Query())
	return d.Filter(sel), sel, nil
}

func selectionFrom(q url.Values) dataset.Selection {
	return dataset.Selection{
		Suburb: q.Get("suburb"),
		Level1: q.Get("level1"),
		Level2: q.Get("level2"),
		Level3: q.Get("level3"),
	}
}

// SuburbsResponse lists the suburbs available for selection.
type SuburbsResponse struct {
	Suburbs []string `json:"suburbs"`
}

func (h *DashboardHandler) handleSuburbs(w http.ResponseWriter, r *http.Request) {
	d, err := h.cache.Get(r.Context(), h.src, h.load)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuburbsResponse{
		Suburbs: append([]string{dataset.AllData}, d.Suburbs()...),
	})
}

// OffencesResponse holds the cascading offence option lists.
type OffencesResponse struct {
	Level1 []string `json:"level1"`
	Level2 []string `json:"level2"`
	Level3 []string `json:"level3"`
}

func (h *DashboardHandler) handleOffences(w http.ResponseWriter, r *http.Request) {
	d, err := h.cache.Get(r.Context(), h.src, h.load)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, OffencesResponse{
		Level1: d.Level1Options(),
		Level2: d.Level2Options(q.Get("level1")),
		Level3: d.Level3Options(q.Get("level2")),
	})
}

// SummaryResponse is the headline figures for a selection.
type SummaryResponse struct {
	Selection dataset.Selection `json:"selection"`
	Rows      int               `json:"rows"`
	dataset.Summary
}

func (h *DashboardHandler) handleSummary(w http.ResponseWriter, r *http.Request) {
	d, sel, err := h.dataset(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SummaryResponse{
		Selection: sel,
		Rows:      d.Len(),
		Summary:   d.Summary(),
	})
}

func (h *DashboardHandler) handleMonthly(w http.ResponseWriter, r *http.Request) {
	d, _, err := h.dataset(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d.MonthlySeries())
}

func (h *DashboardHandler) handleDistribution(w http.ResponseWriter, r *http.Request) {
	level := 3
	if raw := r.URL.Query().Get("level"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid level %q", raw), GetRequestID(r.Context()))
			return
		}
		level = n
	}

	d, _, err := h.dataset(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	dist, err := d.Distribution(level)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), GetRequestID(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, dist)
}

// handleTrends compares suburbs, so it always covers the whole dataset and
// ignores the selection.
func (h *DashboardHandler) handleTrends(w http.ResponseWriter, r *http.Request) {
	d, err := h.cache.Get(r.Context(), h.src, h.load)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d.SuburbTrends())
}

func (h *DashboardHandler) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	d, _, err := h.dataset(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Heatmap())
}

func (h *DashboardHandler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, ".csv", csvContentType, (*dataset.Dataset).ExportCSV)
}

func (h *DashboardHandler) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, ".xlsx", xlsxContentType, (*dataset.Dataset).ExportXLSX)
}

type exportFunc func(d *dataset.Dataset, w io.Writer, df types.DateFormat) error

// export renders the selection into memory first so a failed render still
// produces a proper error response.
func (h *DashboardHandler) export(w http.ResponseWriter, r *http.Request, ext, contentType string, render exportFunc) {
	d, sel, err := h.dataset(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := render(d, &buf, h.dateFormat); err != nil {
		writeFailure(w, r, errors.Wrap(errors.ErrCategoryInternal, errors.CodeUnexpected, "export failed", err))
		return
	}

	filename := dataset.ExportFilename(ExportPrefix, sel.Suburb, ext)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// CacheResponse reports dataset cache effectiveness.
type CacheResponse struct {
	cache.Snapshot
	HitRate float64 `json:"hit_rate"`
}

func (h *DashboardHandler) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CacheResponse{
		Snapshot: h.cache.Metrics(),
		HitRate:  h.cache.HitRate(),
	})
}
