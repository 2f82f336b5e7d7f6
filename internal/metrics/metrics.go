// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

// Package metrics provides Prometheus instrumentation for the prediction
// service and the batch pipeline: HTTP latency and throughput, per-policy
// prediction counts and score distributions, model load state, training
// durations and database query performance. Metrics are exposed at
// /metrics in Prometheus text format. All recording functions are safe
// for concurrent use.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests served by the prediction service",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// Routing Metrics
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total predictions served, by assigned policy",
		},
		[]string{"policy"},
	)

	PredictionScores = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prediction_score",
			Help:    "Distribution of predicted CTR probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"policy"},
	)

	BulkBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bulk_predict_batch_size",
			Help:    "Row counts of bulk prediction batches",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	// Model Metrics
	ModelLoadedInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "model_loaded_info",
			Help: "Set to 1 for the currently loaded registered model version",
		},
		[]string{"name", "version"},
	)

	TrainingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "policy_training_duration_seconds",
			Help:    "Policy training duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"policy"},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)
)

// RecordAPIRequest records one served HTTP request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordPrediction records one routed prediction.
func RecordPrediction(policy string, score float64) {
	PredictionsTotal.WithLabelValues(policy).Inc()
	PredictionScores.WithLabelValues(policy).Observe(score)
}

// RecordTraining records a completed policy training.
func RecordTraining(policy string, duration time.Duration) {
	TrainingDuration.WithLabelValues(policy).Observe(duration.Seconds())
}

// RecordDBQuery records a database query metric.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// TrackActiveRequest tracks in-flight API requests.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
