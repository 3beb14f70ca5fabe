// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides text-generation backends used to explain analysis
// results and answer follow-up questions.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// GenerationParams holds optional sampling parameters. Nil means provider default.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient generates text from a single prompt.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// =============================================================================
// Error Classification
// =============================================================================

// ErrorClass groups provider failures by how a caller should react.
type ErrorClass int

const (
	// ClassUnknown is any failure without a recognizable status.
	ClassUnknown ErrorClass = iota

	// ClassNotFound means the requested model does not exist for this key.
	ClassNotFound

	// ClassAuth means the key was rejected.
	ClassAuth

	// ClassRateLimited means the provider throttled the request.
	ClassRateLimited

	// ClassUnavailable is a 5xx or transport failure.
	ClassUnavailable

	// ClassBadRequest is any other 4xx.
	ClassBadRequest
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNotFound:
		return "not_found"
	case ClassAuth:
		return "auth"
	case ClassRateLimited:
		return "rate_limited"
	case ClassUnavailable:
		return "unavailable"
	case ClassBadRequest:
		return "bad_request"
	default:
		return "unknown"
	}
}

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("provider returned no text")

// APIError is a provider failure with its HTTP status.
type APIError struct {
	Provider   string
	Model      string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s (%s): status %d: %v", e.Provider, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Class maps the status code to an ErrorClass.
func (e *APIError) Class() ErrorClass {
	return classForStatus(e.StatusCode)
}

// Classify returns the ErrorClass of err. Errors that are not *APIError are
// ClassUnknown.
func Classify(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class()
	}
	return ClassUnknown
}

func classForStatus(code int) ErrorClass {
	switch {
	case code == http.StatusNotFound:
		return ClassNotFound
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ClassAuth
	case code == http.StatusTooManyRequests:
		return ClassRateLimited
	case code >= 500:
		return ClassUnavailable
	case code >= 400:
		return ClassBadRequest
	default:
		return ClassUnknown
	}
}
