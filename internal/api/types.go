// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package api

// PredictRequest is one scoring request. UserID and MovieID are pointers
// so that a missing field is distinguishable from a zero id.
type PredictRequest struct {
	UserID  *int `json:"userId" validate:"required,min=0"`
	MovieID *int `json:"movieId" validate:"required,min=0"`
	Label   *int `json:"label,omitempty" validate:"omitempty,oneof=0 1"`
}

// PredictResponse is the canonical per-request result.
type PredictResponse struct {
	UserID         int     `json:"userId"`
	MovieID        int     `json:"movieId"`
	AssignedPolicy string  `json:"assignedPolicy"`
	Score          float64 `json:"score"`
	Label          *int    `json:"label,omitempty"`
}

// BulkSummary aggregates a bulk batch. Mean scores are pointers so an
// arm with no assignments reports null instead of NaN.
type BulkSummary struct {
	PolicyARatio     float64  `json:"policyA_ratio"`
	PolicyBRatio     float64  `json:"policyB_ratio"`
	PolicyAMeanScore *float64 `json:"policyA_mean_score"`
	PolicyBMeanScore *float64 `json:"policyB_mean_score"`
}

// BulkResponse is the bulk prediction result.
type BulkResponse struct {
	Summary BulkSummary       `json:"summary"`
	Rows    []PredictResponse `json:"rows"`
}

// HealthResponse reports service readiness and the serving configuration.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelURI    string `json:"model_uri"`
	TrackingDir string `json:"tracking_dir"`
	RoutingRule string `json:"routing_rule"`
}

// APIError is the error payload shape.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// errorResponse wraps an APIError for transport.
type errorResponse struct {
	Error *APIError `json:"error"`
}
