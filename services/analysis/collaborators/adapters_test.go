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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/inocula/pkg/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Hugging Face
// =============================================================================

func newHFTestClient(t *testing.T, handler http.HandlerFunc) *HFClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewHFClient(HFConfig{
		BaseURL:         srv.URL,
		Token:           secrets.FromString("hf", "hf-token"),
		RetryMaxElapsed: 2 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestHFClient_Toxicity(t *testing.T) {
	c := newHFTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+defaultToxicityModel, r.URL.Path)
		assert.Equal(t, "Bearer hf-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[[{"label":"toxic","score":0.9},{"label":"insult","score":0.2}]]`))
	})

	p, err := c.Toxicity(context.Background(), "you people are awful")

	require.NoError(t, err)
	assert.InDelta(t, 0.9, p, 1e-9)
}

func TestHFClient_ToxicityMissingLabelIsZero(t *testing.T) {
	c := newHFTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"label":"insult","score":0.7}]`))
	})

	p, err := c.Toxicity(context.Background(), "x")

	require.NoError(t, err)
	assert.Zero(t, p)
}

func TestHFClient_EmotionsLowercased(t *testing.T) {
	c := newHFTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[[{"label":"Anger","score":0.7},{"label":"fear","score":0.65},{"label":"joy","score":0.01}]]`))
	})

	got, err := c.Emotions(context.Background(), "x")

	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"anger": 0.7, "fear": 0.65, "joy": 0.01}, got)
}

func TestHFClient_RankSortsDescending(t *testing.T) {
	// Arrange
	var payload struct {
		Inputs     string `json:"inputs"`
		Parameters struct {
			CandidateLabels []string `json:"candidate_labels"`
		} `json:"parameters"`
	}
	c := newHFTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_, _ = w.Write([]byte(`{"labels":["b","a","c"],"scores":[0.2,0.7,0.1]}`))
	})

	// Act
	got, err := c.Rank(context.Background(), "text", []string{"a", "b", "c"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, payload.Parameters.CandidateLabels)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Label)
	assert.Equal(t, 0.7, got[0].Confidence)
	assert.Equal(t, "c", got[2].Label)
}

func TestHFClient_RankMismatchedIsBadResponse(t *testing.T) {
	c := newHFTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"labels":["a","b"],"scores":[0.9]}`))
	})

	_, err := c.Rank(context.Background(), "text", []string{"a", "b"})

	require.Error(t, err)
	assert.Equal(t, KindBadResponse, Classify("fallacy", err).Kind)
}

func TestHFClient_RetriesModelLoading(t *testing.T) {
	var calls atomic.Int32
	c := newHFTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"Model is currently loading","estimated_time":1}`))
			return
		}
		_, _ = w.Write([]byte(`[[{"label":"toxic","score":0.1}]]`))
	})

	p, err := c.Toxicity(context.Background(), "x")

	require.NoError(t, err)
	assert.InDelta(t, 0.1, p, 1e-9)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHFClient_AuthFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newHFTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Emotions(context.Background(), "x")

	require.Error(t, err)
	assert.Equal(t, KindAuth, Classify("emotion", err).Kind)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHFClient_OversizedResponseIsBadResponse(t *testing.T) {
	// Arrange: a body past the read cap.
	var calls atomic.Int32
	c := newHFTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[[{"label":"toxic","score":0.9}`))
		_, _ = w.Write([]byte(strings.Repeat(" ", maxResponseBytes)))
	})

	// Act
	_, err := c.Toxicity(context.Background(), "x")

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadResponse)
	assert.Equal(t, KindBadResponse, Classify("toxicity", err).Kind)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReadBody_AtLimit(t *testing.T) {
	body, err := readBody(strings.NewReader(strings.Repeat("a", maxResponseBytes)))
	require.NoError(t, err)
	assert.Len(t, body, maxResponseBytes)

	_, err = readBody(strings.NewReader(strings.Repeat("a", maxResponseBytes+1)))
	assert.ErrorIs(t, err, ErrBadResponse)
}

// =============================================================================
// Wikipedia
// =============================================================================

func newWikiServer(t *testing.T, searchBody, summaryBody string, summaryStatus int) *WikipediaLookup {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/w/api.php", func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "ProjectInocula/1.0"))
		assert.Equal(t, "search", r.URL.Query().Get("list"))
		_, _ = w.Write([]byte(searchBody))
	})
	mux.HandleFunc("/api/rest_v1/page/summary/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(summaryStatus)
		_, _ = w.Write([]byte(summaryBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewWikipediaLookup(WikipediaConfig{
		APIURL:  srv.URL + "/w/api.php",
		RESTURL: srv.URL + "/api/rest_v1",
	})
}

func TestWikipediaLookup_Found(t *testing.T) {
	w := newWikiServer(t,
		`{"query":{"search":[{"title":"Moon"}]}}`,
		`{"title":"Moon","extract":"The Moon is Earth's only natural satellite.","content_urls":{"desktop":{"page":"https://en.wikipedia.org/wiki/Moon"}}}`,
		http.StatusOK)

	fact, err := w.Lookup(context.Background(), "The moon is made of green cheese.")

	require.NoError(t, err)
	require.NotNil(t, fact)
	assert.Equal(t, "Wikipedia", fact.Source)
	assert.Equal(t, "Moon", fact.Title)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Moon", fact.SourceURL)
	assert.Contains(t, fact.Summary, "natural satellite")
}

func TestWikipediaLookup_NoHits(t *testing.T) {
	w := newWikiServer(t, `{"query":{"search":[]}}`, ``, http.StatusOK)

	fact, err := w.Lookup(context.Background(), "zzqqxx")

	require.NoError(t, err)
	assert.Nil(t, fact)
}

func TestWikipediaLookup_EmptyExtract(t *testing.T) {
	w := newWikiServer(t, `{"query":{"search":[{"title":"X"}]}}`, `{"title":"X","extract":""}`, http.StatusOK)

	fact, err := w.Lookup(context.Background(), "x")

	require.NoError(t, err)
	assert.Nil(t, fact)
}

func TestWikipediaLookup_SummaryFailure(t *testing.T) {
	w := newWikiServer(t, `{"query":{"search":[{"title":"X"}]}}`, `oops`, http.StatusBadGateway)

	_, err := w.Lookup(context.Background(), "x")

	require.Error(t, err)
	assert.Equal(t, KindUnavailable, Classify("fact_lookup", err).Kind)
}
