package http

import (
	"net/http"

	"github.com/rs/zerolog"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Dataset string `json:"dataset,omitempty"`
}

// RouterConfig holds the handlers and middleware mounted by NewRouter.
type RouterConfig struct {
	Dashboard *DashboardHandler
	Merge     *MergeHandler
	Logger    zerolog.Logger

	// Outer middleware applied before the default chain, e.g. in-flight tracking
	Outer []func(http.Handler) http.Handler
}

// NewRouter builds the API mux. Health checks bypass the middleware chain.
func NewRouter(cfg RouterConfig) http.Handler {
	outer := append([]func(http.Handler) http.Handler{}, cfg.Outer...)
	mw := ChainMiddleware(append(outer, DefaultMiddleware(cfg.Logger))...)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "healthy", Service: "crimestats"}
		if cfg.Dashboard != nil {
			resp.Dataset = cfg.Dashboard.src.Name()
		}
		writeJSON(w, http.StatusOK, resp)
	})
	if cfg.Dashboard != nil {
		cfg.Dashboard.Register(mux, mw)
	}
	if cfg.Merge != nil {
		mux.Handle("/v1/merge", mw(cfg.Merge))
	}
	return mux
}
