// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

package restapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error codes the server attaches to structured error bodies.
const (
	CodeValidation    = "validation_failed"
	CodeQuotaExceeded = "quota_exceeded"
	CodeFeatureLocked = "feature_locked"
)

// APIError is a non-2xx response from the server. StatusCode is always set;
// Code and Message are populated when the body carries a structured error
// envelope ({"error":{"code":...,"message":...}}).
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// Terminal reports whether this error should never be retried automatically:
// the request is understood and rejected, so repeating it cannot succeed.
// Auth (401), timeout (408) and throttling (429) responses stay retryable.
func (e *APIError) Terminal() bool {
	switch e.Code {
	case CodeValidation, CodeQuotaExceeded, CodeFeatureLocked:
		return true
	}
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newAPIError decodes a failed response body, tolerating non-JSON bodies.
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Message: string(body)}
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}
