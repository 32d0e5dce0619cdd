package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/roniherschmann/go-views/internal/config"
	"github.com/roniherschmann/go-views/internal/core"
	"github.com/roniherschmann/go-views/internal/ledger"
	"github.com/roniherschmann/go-views/internal/metrics"
)

type Router struct {
	svc     *core.Service
	limiter *rateLimiter
	proxies trustedProxies
}

// NewRouter builds the public handler. ws serves the live feed and may be nil.
func NewRouter(cfg config.Config, svc *core.Service, ws http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	// Logging middleware
	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", dur).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	api := &Router{
		svc:     svc,
		limiter: newRateLimiter(cfg.RateRPS, cfg.RateBurst),
		proxies: parseTrustedProxies(cfg.TrustedProxies),
	}

	r.MethodFunc(http.MethodGet, "/healthz", api.handleHealth)
	r.MethodFunc(http.MethodGet, "/readyz", api.handleReady)

	// Metrics
	r.MethodFunc(http.MethodGet, "/metrics", metrics.Handler)

	// Counted endpoints
	r.Group(func(r chi.Router) {
		r.Use(api.rateLimit)
		r.MethodFunc(http.MethodGet, "/", api.handlePage)
		r.MethodFunc(http.MethodPost, "/api/v1/views", api.handleRecord)
	})
	r.MethodFunc(http.MethodGet, "/api/v1/views", api.handleStats)

	if ws != nil {
		r.MethodFunc(http.MethodGet, "/ws", ws)
	}
	return r
}

func (rt *Router) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rt.limiter.Allow(rt.proxies.clientIP(r)) {
			metrics.RateLimited.Inc()
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rt *Router) handlePage(w http.ResponseWriter, r *http.Request) {
	v, err := rt.svc.View(r.Context(), rt.proxies.clientIP(r), r.UserAgent())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Int64("total_views", v.TotalViews).Msg("record view")
	}

	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, newPageData(v, err)); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("render page")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

type errorResp struct {
	Error      string `json:"error"`
	TotalViews int64  `json:"total_views"`
	IsNew      bool   `json:"is_new"`
}

func (rt *Router) handleRecord(w http.ResponseWriter, r *http.Request) {
	v, err := rt.svc.View(r.Context(), rt.proxies.clientIP(r), r.UserAgent())
	switch {
	case errors.Is(err, ledger.ErrNotDurable):
		hlog.FromRequest(r).Error().Err(err).Msg("record view")
		writeJSON(w, errorResp{Error: "view not persisted", TotalViews: v.TotalViews}, http.StatusServiceUnavailable)
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Msg("record view")
		writeJSON(w, errorResp{Error: "internal error", TotalViews: v.TotalViews}, http.StatusInternalServerError)
	default:
		writeJSON(w, v, http.StatusOK)
	}
}

func (rt *Router) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, rt.svc.Stats(), http.StatusOK)
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (rt *Router) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := rt.svc.Ready(ctx); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("store not ready")
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
