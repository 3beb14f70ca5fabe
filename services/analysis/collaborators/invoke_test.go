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
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/inocula/services/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu    sync.Mutex
	names []string
	kinds []Kind
}

func (r *recordingObserver) ObserveCollaborator(name string, kind Kind, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	r.kinds = append(r.kinds, kind)
}

func TestInvoke_Success(t *testing.T) {
	obs := &recordingObserver{}

	got, cerr := Invoke(context.Background(), Guard{Observer: obs}, "toxicity",
		func(ctx context.Context) (float64, error) { return 0.4, nil })

	assert.Nil(t, cerr)
	assert.Equal(t, 0.4, got)
	assert.Equal(t, []string{"toxicity"}, obs.names)
	assert.Equal(t, []Kind{""}, obs.kinds)
}

func TestInvoke_TimeoutIsClassified(t *testing.T) {
	// Arrange
	g := Guard{Timeout: 20 * time.Millisecond}

	// Act
	_, cerr := Invoke(context.Background(), g, "fact_lookup",
		func(ctx context.Context) (*Fact, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	// Assert
	require.NotNil(t, cerr)
	assert.Equal(t, KindTimeout, cerr.Kind)
	assert.Equal(t, "fact_lookup", cerr.Collaborator)
}

func TestInvoke_PanicRecovered(t *testing.T) {
	obs := &recordingObserver{}

	got, cerr := Invoke(context.Background(), Guard{Observer: obs}, "emotion",
		func(ctx context.Context) (map[string]float64, error) {
			panic("model exploded")
		})

	require.NotNil(t, cerr)
	assert.Nil(t, got)
	assert.Equal(t, KindPanic, cerr.Kind)
	assert.Equal(t, []Kind{KindPanic}, obs.kinds)
}

func TestInvoke_ParentCancelIsCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, cerr := Invoke(ctx, Guard{Timeout: time.Second}, "x",
		func(ctx context.Context) (int, error) { return 0, ctx.Err() })

	require.NotNil(t, cerr)
	assert.Equal(t, KindCanceled, cerr.Kind)
}

func TestClassify_Kinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"canceled", context.Canceled, KindCanceled},
		{"bad response", ErrBadResponse, KindBadResponse},
		{"empty generation", llm.ErrEmptyResponse, KindBadResponse},
		{"status 401", &StatusError{StatusCode: http.StatusUnauthorized}, KindAuth},
		{"status 404", &StatusError{StatusCode: http.StatusNotFound}, KindNotFound},
		{"status 429", &StatusError{StatusCode: http.StatusTooManyRequests}, KindRateLimited},
		{"status 502", &StatusError{StatusCode: http.StatusBadGateway}, KindUnavailable},
		{"status 422", &StatusError{StatusCode: http.StatusUnprocessableEntity}, KindBadResponse},
		{"llm auth", &llm.APIError{Provider: "p", StatusCode: 403, Err: errors.New("x")}, KindAuth},
		{"llm missing model", &llm.APIError{Provider: "p", StatusCode: 404, Err: errors.New("x")}, KindNotFound},
		{"plain", errors.New("connection refused"), KindUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("c", tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassify_NilAndAlreadyClassified(t *testing.T) {
	assert.Nil(t, Classify("c", nil))

	orig := &Error{Collaborator: "inner", Kind: KindAuth, Err: errors.New("x")}
	assert.Same(t, orig, Classify("outer", orig))
}
