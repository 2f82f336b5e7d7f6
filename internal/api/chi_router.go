// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sun129129/abtest-mlflow/internal/logging"
	"github.com/sun129129/abtest-mlflow/internal/metrics"
)

// RouterConfig holds the HTTP surface configuration.
type RouterConfig struct {
	// Rate limiting per client IP.
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// RequestTimeout bounds a single request.
	RequestTimeout time.Duration

	// CORSAllowedOrigins is empty by default; the service is same-origin
	// unless explicitly opened up.
	CORSAllowedOrigins []string
}

// DefaultRouterConfig returns a safe default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
		RequestTimeout:    30 * time.Second,
	}
}

// Setup wires the prediction API onto a chi router.
func Setup(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	}))
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	r.Use(requestMetrics)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Post("/predict", h.Predict)
		r.Post("/bulk_predict", h.BulkPredict)
	})

	return r
}

// requestMetrics records request counts, latency and in-flight gauge,
// and logs each request at debug level.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.TrackActiveRequest(true)
		defer metrics.TrackActiveRequest(false)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordAPIRequest(r.Method, r.URL.Path, strconv.Itoa(status), duration)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Msg("Request served")
	})
}
