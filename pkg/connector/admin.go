// Copyright 2024-2026 Aiku AI

package connector

import (
	"net/http"

	"github.com/rs/zerolog/hlog"
	"go.mau.fi/util/exhttp"
	"go.mau.fi/util/requestlog"
)

type healthResponse struct {
	Status  string         `json:"status"`
	IRC     bool           `json:"irc"`
	Discord bool           `json:"discord"`
	Queues  map[string]int `json:"queues"`
}

type statusResponse struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// AdminHandler returns the admin API router: health, Prometheus metrics and
// a rate-limited reload trigger.
func (c *Connector) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", c.handleHealth)
	if c.metrics != nil {
		mux.Handle("GET /metrics", c.metrics.Handler())
	}
	mux.Handle("POST /api/reload", exhttp.ApplyMiddleware(
		http.HandlerFunc(c.handleReload),
		hlog.NewHandler(c.log.With().Str("component", "admin_api").Logger()),
		requestlog.AccessLogger(requestlog.Options{Recover: true}),
	))
	return exhttp.HandleErrors(exhttp.ErrorBodies{
		NotFound:         []byte(`{"error":"not found"}`),
		MethodNotAllowed: []byte(`{"error":"method not allowed"}`),
	})(mux)
}

func (c *Connector) handleHealth(w http.ResponseWriter, _ *http.Request) {
	exhttp.WriteJSONResponse(w, http.StatusOK, c.health())
}

func (c *Connector) handleReload(w http.ResponseWriter, r *http.Request) {
	if !c.reloadLimiter.Allow() {
		if c.metrics != nil {
			c.metrics.incRateLimited()
		}
		exhttp.WriteJSONResponse(w, http.StatusTooManyRequests, statusResponse{Error: "too many reload requests"})
		return
	}
	hlog.FromRequest(r).Info().Str("remote_addr", r.RemoteAddr).Msg("Config reload requested")
	if err := c.Reload(r.Context()); err != nil {
		exhttp.WriteJSONResponse(w, http.StatusInternalServerError, statusResponse{Error: err.Error()})
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, statusResponse{Status: "reloaded"})
}
