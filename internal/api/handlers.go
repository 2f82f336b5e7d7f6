// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

// Package api exposes the policy router over HTTP: a health probe, a
// single-request prediction endpoint and a bulk endpoint with assignment
// ratios and per-policy mean scores. Handlers only read immutable loaded
// state, so they are safe under concurrent requests without locking.
package api

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/sun129129/abtest-mlflow/internal/logging"
	"github.com/sun129129/abtest-mlflow/internal/metrics"
	"github.com/sun129129/abtest-mlflow/internal/router"
	"github.com/sun129129/abtest-mlflow/internal/validation"
)

// Handler serves the prediction API. All fields are read-only after
// construction.
type Handler struct {
	router      *router.Router
	modelURI    string
	trackingDir string
}

// NewHandler creates a Handler around a loaded router.
func NewHandler(rt *router.Router, modelURI, trackingDir string) *Handler {
	return &Handler{router: rt, modelURI: modelURI, trackingDir: trackingDir}
}

// Health reports readiness and the serving configuration.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		ModelURI:    h.modelURI,
		TrackingDir: h.trackingDir,
		RoutingRule: h.router.RuleName(),
	})
}

// Predict validates one request, routes it and returns the assigned
// policy with its score.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON", err)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		respondAPIError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
		return
	}

	resp := h.predictOne(req)
	respondJSON(w, http.StatusOK, resp)
}

// BulkPredict applies the per-request logic over a batch and aggregates
// assignment ratios and per-policy mean scores. An empty batch or an
// all-one-policy batch reports the absent arm's mean as null.
func (h *Handler) BulkPredict(w http.ResponseWriter, r *http.Request) {
	var reqs []PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not a valid JSON array", err)
		return
	}
	for i := range reqs {
		if verr := validation.ValidateStruct(&reqs[i]); verr != nil {
			apiErr := verr.ToAPIError()
			respondAPIError(w, http.StatusBadRequest, apiErr.Code,
				fmt.Sprintf("request %d: %s", i, apiErr.Message), apiErr.Details)
			return
		}
	}
	metrics.BulkBatchSize.Observe(float64(len(reqs)))

	rows := make([]PredictResponse, len(reqs))
	var sumA, sumB float64
	var countA, countB int
	for i, req := range reqs {
		rows[i] = h.predictOne(req)
		switch router.PolicyLabel(rows[i].AssignedPolicy) {
		case router.PolicyA:
			sumA += rows[i].Score
			countA++
		case router.PolicyB:
			sumB += rows[i].Score
			countB++
		}
	}

	summary := BulkSummary{}
	if total := len(rows); total > 0 {
		summary.PolicyARatio = float64(countA) / float64(total)
		summary.PolicyBRatio = float64(countB) / float64(total)
	}
	if countA > 0 {
		mean := sumA / float64(countA)
		summary.PolicyAMeanScore = &mean
	}
	if countB > 0 {
		mean := sumB / float64(countB)
		summary.PolicyBMeanScore = &mean
	}

	respondJSON(w, http.StatusOK, BulkResponse{Summary: summary, Rows: rows})
}

// predictOne routes a validated request.
func (h *Handler) predictOne(req PredictRequest) PredictResponse {
	assignment := h.router.Route(*req.UserID, *req.MovieID)
	metrics.RecordPrediction(string(assignment.Policy), assignment.Score)
	return PredictResponse{
		UserID:         *req.UserID,
		MovieID:        *req.MovieID,
		AssignedPolicy: string(assignment.Policy),
		Score:          assignment.Score,
		Label:          req.Label,
	}
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(v)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondError sends an error response, logging the underlying cause.
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", code).Err(err).Msg("API error")
		// Per contract, server errors carry the causing message.
		if status >= http.StatusInternalServerError {
			message = fmt.Sprintf("%s: %s", message, err.Error())
		}
	}
	respondAPIError(w, status, code, message, nil)
}

func respondAPIError(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	respondJSON(w, status, errorResponse{Error: &APIError{
		Code:    code,
		Message: message,
		Details: details,
	}})
}
