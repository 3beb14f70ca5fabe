// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collaborators

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/AleutianAI/inocula/services/llm"
)

// Kind classifies a collaborator failure.
type Kind string

const (
	KindUnavailable Kind = "unavailable"
	KindTimeout     Kind = "timeout"
	KindCanceled    Kind = "canceled"
	KindBadResponse Kind = "bad_response"
	KindAuth        Kind = "auth"
	KindRateLimited Kind = "rate_limited"
	KindNotFound    Kind = "not_found"
	KindPanic       Kind = "panic"
)

// ErrBadResponse marks a response that arrived but could not be used.
var ErrBadResponse = errors.New("unusable collaborator response")

// Error is a classified collaborator failure.
type Error struct {
	Collaborator string
	Kind         Kind
	Err          error
}

func (e *Error) Error() string {
	return fmt.Sprintf("collaborator %s: %s: %v", e.Collaborator, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx HTTP answer from a collaborator endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// Classify wraps err as an *Error for the named collaborator.
// An err that already is an *Error is returned unchanged.
func Classify(name string, err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Collaborator: name, Kind: kindOf(err), Err: err}
}

func kindOf(err error) Kind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrBadResponse), errors.Is(err, llm.ErrEmptyResponse):
		return KindBadResponse
	}

	var se *StatusError
	if errors.As(err, &se) {
		return kindForStatus(se.StatusCode)
	}

	switch llm.Classify(err) {
	case llm.ClassNotFound:
		return KindNotFound
	case llm.ClassAuth:
		return KindAuth
	case llm.ClassRateLimited:
		return KindRateLimited
	case llm.ClassBadRequest:
		return KindBadResponse
	case llm.ClassUnavailable:
		return KindUnavailable
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindUnavailable
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code >= 500:
		return KindUnavailable
	default:
		return KindBadResponse
	}
}
