package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shehryarbajwa/rostersync/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes. Every session route is served both
// at the root and under /v1. debug may be nil.
func (h *Handler) SetupRoutes(debug http.HandlerFunc, rateLimiter *ratelimit.Limiter, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	limit := RateLimitMiddleware(rateLimiter)

	for _, prefix := range []string{"", "/v1"} {
		// Endpoints that start or drive a login are rate limited.
		r.Handle(prefix+"/perform-sync", limit(http.HandlerFunc(h.StartSession))).Methods("GET", "POST", "OPTIONS")
		r.Handle(prefix+"/submit-otp", limit(http.HandlerFunc(h.SubmitOTP))).Methods("POST", "OPTIONS")
		r.Handle(prefix+"/collect", limit(http.HandlerFunc(h.Collect))).Methods("POST", "OPTIONS")

		// Polled by the frontend, not rate limited.
		r.HandleFunc(prefix+"/screenshot/{session_id}", h.Screenshot).Methods("GET")
		r.HandleFunc(prefix+"/sessions/{session_id}", h.Status).Methods("GET")
		if debug != nil {
			r.HandleFunc(prefix+"/sessions/{session_id}/ws", debug).Methods("GET")
		}
	}

	r.HandleFunc("/healthz", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	r.Use(loggingMiddleware)
	r.Use(corsMiddleware)

	return r
}
