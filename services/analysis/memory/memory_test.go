// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/inocula/services/analysis/collaborators"
	"github.com/AleutianAI/inocula/services/analysis/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func seededIndex(t *testing.T) *FlatIndex {
	t.Helper()
	idx := NewFlatIndex(NewHashingEmbedder(0))
	require.NoError(t, Load(context.Background(), idx, DefaultSeeds))
	return idx
}

type failingMemory struct{ err error }

func (f failingMemory) Query(context.Context, string) (*Match, error) { return nil, f.err }
func (f failingMemory) Add(context.Context, string, string) error     { return f.err }

// =============================================================================
// Embedding helpers
// =============================================================================

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestSquaredL2(t *testing.T) {
	assert.InDelta(t, 2.0, SquaredL2([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Zero(t, SquaredL2([]float32{0.5, 0.5}, []float32{0.5, 0.5}))
}

func TestHashingEmbedder_Deterministic(t *testing.T) {
	e := NewHashingEmbedder(64)

	a, err := e.Embed(context.Background(), "Drinking bleach cures viruses.")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "drinking BLEACH cures viruses")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.InDelta(t, 0, SquaredL2(a, b), 1e-6, "case and punctuation are ignored")
}

// =============================================================================
// FlatIndex
// =============================================================================

func TestFlatIndex_EmptyReturnsNil(t *testing.T) {
	idx := NewFlatIndex(NewHashingEmbedder(0))

	m, err := idx.Query(context.Background(), "anything")

	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestFlatIndex_ExactRepeatIsNearest(t *testing.T) {
	idx := seededIndex(t)

	m, err := idx.Query(context.Background(), "The moon is made of green cheese.")

	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "Debunked Fact: Moon is rock.", m.Label)
	assert.InDelta(t, 0, m.Distance, 1e-5)
	assert.Equal(t, ClaimID("The moon is made of green cheese."), m.ID)
}

func TestFlatIndex_AddSameTextReplacesLabel(t *testing.T) {
	idx := seededIndex(t)

	require.NoError(t, idx.Add(context.Background(), "Drinking bleach cures viruses.", "Updated"))

	assert.Equal(t, len(DefaultSeeds), idx.Len())
	m, err := idx.Query(context.Background(), "Drinking bleach cures viruses.")
	require.NoError(t, err)
	assert.Equal(t, "Updated", m.Label)
}

func TestFlatIndex_RejectsEmptyText(t *testing.T) {
	idx := NewFlatIndex(NewHashingEmbedder(0))
	assert.Error(t, idx.Add(context.Background(), "", "label"))
}

// =============================================================================
// Gate
// =============================================================================

func TestGate_HitOnKnownClaim(t *testing.T) {
	// Arrange
	gate := NewGate(seededIndex(t), GateConfig{})
	s := state.New("The moon is made of green cheese.")

	// Act
	decision, partial, cerr := gate.Decide(context.Background(), s.Snapshot())

	// Assert
	assert.Nil(t, cerr)
	assert.Equal(t, RouteMemoryHit, decision)
	require.NoError(t, s.Merge(state.WriterGate, partial))
	assert.True(t, s.IsMemoryHit)
	assert.Equal(t, 0, s.TrustScore)
	assert.Equal(t, "Debunked Fact: Moon is rock.", s.MemoryContext)
	assert.Equal(t, []string{HistoricalMatchReason}, s.Reasons)
}

func TestGate_UnrelatedTextIsFullScan(t *testing.T) {
	gate := NewGate(seededIndex(t), GateConfig{})
	s := state.New("Quarterly earnings rose four percent on strong retail demand.")

	decision, partial, cerr := gate.Decide(context.Background(), s.Snapshot())

	assert.Nil(t, cerr)
	assert.Equal(t, RouteFullScan, decision)
	assert.True(t, partial.IsEmpty())
}

func TestGate_ThresholdIsExclusive(t *testing.T) {
	// Distance 0 against a threshold that is effectively zero never matches.
	gate := NewGate(seededIndex(t), GateConfig{Threshold: 1e-12})
	s := state.New("Bananas are actually radioactive fish.")

	decision, _, _ := gate.Decide(context.Background(), s.Snapshot())

	assert.Equal(t, RouteFullScan, decision)
}

func TestGate_MemoryFailureFallsBackToFullScan(t *testing.T) {
	gate := NewGate(failingMemory{err: errors.New("index offline")}, GateConfig{})

	decision, partial, cerr := gate.Decide(context.Background(), state.New("x").Snapshot())

	assert.Equal(t, RouteFullScan, decision)
	assert.True(t, partial.IsEmpty())
	require.NotNil(t, cerr)
	assert.Equal(t, collaborators.KindUnavailable, cerr.Kind)
	assert.Equal(t, "similarity_memory", cerr.Collaborator)
}

func TestGate_NilMemoryIsFullScan(t *testing.T) {
	gate := NewGate(nil, GateConfig{})

	decision, partial, cerr := gate.Decide(context.Background(), state.New("x").Snapshot())

	assert.Equal(t, RouteFullScan, decision)
	assert.True(t, partial.IsEmpty())
	assert.Nil(t, cerr)
	assert.Equal(t, DefaultThreshold, gate.Threshold())
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "full_scan", RouteFullScan.String())
	assert.Equal(t, "memory_hit", RouteMemoryHit.String())
	assert.Equal(t, "Decision(0)", Decision(0).String())
}

func TestLoad_StopsOnError(t *testing.T) {
	err := Load(context.Background(), failingMemory{err: errors.New("boom")}, DefaultSeeds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "The moon is made of green cheese.")
}

// =============================================================================
// Weaviate helpers
// =============================================================================

func TestClaimSchema_UsesSquaredL2(t *testing.T) {
	class := ClaimSchema()

	assert.Equal(t, ClaimClass, class.Class)
	assert.Equal(t, "none", class.Vectorizer)
	cfg, ok := class.VectorIndexConfig.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "l2-squared", cfg["distance"])
}

func TestParseGraphQL_Claims(t *testing.T) {
	resp := &models.GraphQLResponse{Data: map[string]models.JSONObject{
		"Get": map[string]interface{}{
			"DebunkedClaim": []interface{}{
				map[string]interface{}{
					"text":  "t",
					"label": "l",
					"_additional": map[string]interface{}{
						"id":       "abc",
						"distance": 0.25,
					},
				},
			},
		},
	}}

	parsed, err := parseGraphQL[claimQueryResponse](resp)

	require.NoError(t, err)
	require.Len(t, parsed.Get.DebunkedClaim, 1)
	hit := parsed.Get.DebunkedClaim[0]
	assert.Equal(t, "l", hit.Label)
	require.NotNil(t, hit.Additional.Distance)
	assert.InDelta(t, 0.25, *hit.Additional.Distance, 1e-6)
}

func TestParseGraphQL_Errors(t *testing.T) {
	_, err := parseGraphQL[claimQueryResponse](nil)
	assert.Error(t, err)

	_, err = parseGraphQL[claimQueryResponse](&models.GraphQLResponse{
		Errors: []*models.GraphQLError{{Message: "no such class"}},
	})
	assert.ErrorContains(t, err, "no such class")
}
