// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	s := New("hello")

	assert.Equal(t, "hello", s.InputText)
	assert.Equal(t, 100, s.TrustScore)
	assert.Empty(t, s.Reasons)
	assert.NotNil(t, s.Reasons)
	assert.Empty(t, s.DetectedEmotions)
	assert.Empty(t, s.Metadata)
	assert.False(t, s.IsMemoryHit)
	assert.Empty(t, s.Explanation)
}

func TestMerge_ReasonsAppendInOrder(t *testing.T) {
	// Arrange
	s := New("x")
	batches := [][]string{
		{"a"},
		nil,
		{"b", "c"},
		{},
		{"d"},
	}

	// Act
	for _, b := range batches {
		require.NoError(t, s.Merge(WriterStage, Partial{Reasons: b}))
	}

	// Assert
	assert.Equal(t, []string{"a", "b", "c", "d"}, s.Reasons)
}

func TestMerge_ReasonsNeverDeduplicated(t *testing.T) {
	s := New("x")

	require.NoError(t, s.Merge(WriterStage, Partial{Reasons: []string{"same"}}))
	require.NoError(t, s.Merge(WriterStage, Partial{Reasons: []string{"same"}}))

	assert.Equal(t, []string{"same", "same"}, s.Reasons)
}

func TestMerge_TrustScoreClamped(t *testing.T) {
	tests := []struct {
		name  string
		input int
		want  int
	}{
		{"negative", -40, 0},
		{"zero", 0, 0},
		{"mid", 55, 55},
		{"max", 100, 100},
		{"over", 130, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("x")
			require.NoError(t, s.Merge(WriterStage, Partial{TrustScore: Some(tt.input)}))
			assert.Equal(t, tt.want, s.TrustScore)
		})
	}
}

func TestMerge_AbsentFieldsUntouched(t *testing.T) {
	// Arrange
	s := New("x")
	require.NoError(t, s.Merge(WriterStage, Partial{
		TrustScore:       Some(70),
		DetectedEmotions: Some([]string{"anger"}),
		Metadata:         Some(map[string]string{"k": "v"}),
	}))

	// Act
	require.NoError(t, s.Merge(WriterStage, Partial{Reasons: []string{"r"}}))

	// Assert
	assert.Equal(t, 70, s.TrustScore)
	assert.Equal(t, []string{"anger"}, s.DetectedEmotions)
	assert.Equal(t, map[string]string{"k": "v"}, s.Metadata)
}

func TestMerge_MetadataReplacedWhole(t *testing.T) {
	s := New("x")
	require.NoError(t, s.Merge(WriterStage, Partial{Metadata: Some(map[string]string{"a": "1", "b": "2"})}))

	require.NoError(t, s.Merge(WriterStage, Partial{Metadata: Some(map[string]string{"c": "3"})}))

	assert.Equal(t, map[string]string{"c": "3"}, s.Metadata)
}

func TestMerge_EmotionsOverwriteWithEmpty(t *testing.T) {
	s := New("x")
	require.NoError(t, s.Merge(WriterStage, Partial{DetectedEmotions: Some([]string{"fear"})}))

	require.NoError(t, s.Merge(WriterStage, Partial{DetectedEmotions: Some([]string(nil))}))

	assert.NotNil(t, s.DetectedEmotions)
	assert.Empty(t, s.DetectedEmotions)
}

func TestMerge_OwnershipEnforced(t *testing.T) {
	tests := []struct {
		name   string
		writer Writer
		p      Partial
	}{
		{"stage sets memory hit", WriterStage, Partial{IsMemoryHit: Some(true)}},
		{"stage sets memory context", WriterStage, Partial{MemoryContext: Some("label")}},
		{"stage sets explanation", WriterStage, Partial{Explanation: Some("text")}},
		{"terminal sets metadata", WriterTerminal, Partial{Metadata: Some(map[string]string{})}},
		{"gate sets emotions", WriterGate, Partial{DetectedEmotions: Some([]string{"fear"})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New("x")
			before := s.Snapshot()

			err := s.Merge(tt.writer, tt.p)

			require.ErrorIs(t, err, ErrFieldNotWritable)
			assert.Equal(t, before, s.Snapshot())
		})
	}
}

func TestMerge_RejectedPartialAppliesNothing(t *testing.T) {
	s := New("x")

	err := s.Merge(WriterStage, Partial{
		TrustScore:  Some(10),
		Reasons:     []string{"r"},
		Explanation: Some("not mine"),
	})

	require.Error(t, err)
	assert.Equal(t, 100, s.TrustScore)
	assert.Empty(t, s.Reasons)
}

func TestSnapshot_IsolatedFromState(t *testing.T) {
	// Arrange
	s := New("x")
	require.NoError(t, s.Merge(WriterStage, Partial{
		Reasons:  []string{"a"},
		Metadata: Some(map[string]string{"k": "v"}),
	}))

	// Act
	snap := s.Snapshot()
	snap.Reasons[0] = "mutated"
	snap.Metadata["k"] = "mutated"
	snap.TrustScore = 1

	// Assert
	assert.Equal(t, []string{"a"}, s.Reasons)
	assert.Equal(t, "v", s.Metadata["k"])
	assert.Equal(t, 100, s.TrustScore)
}

func TestPartial_IsEmpty(t *testing.T) {
	assert.True(t, Partial{}.IsEmpty())
	assert.True(t, Partial{Reasons: []string{}}.IsEmpty())
	assert.False(t, Partial{TrustScore: Some(0)}.IsEmpty())
	assert.False(t, Partial{Reasons: []string{"r"}}.IsEmpty())
}

func TestValidatePolicies(t *testing.T) {
	t.Run("declared table is valid", func(t *testing.T) {
		assert.NoError(t, validatePolicies(policies))
	})

	t.Run("missing field", func(t *testing.T) {
		table := map[Field]FieldPolicy{}
		for k, v := range policies {
			table[k] = v
		}
		delete(table, FieldMetadata)

		assert.Error(t, validatePolicies(table))
	})

	t.Run("append on scalar", func(t *testing.T) {
		table := map[Field]FieldPolicy{}
		for k, v := range policies {
			table[k] = v
		}
		table[FieldTrustScore] = FieldPolicy{Merge: MergeAppend, Writers: Writers(WriterStage)}

		assert.Error(t, validatePolicies(table))
	})

	t.Run("no writers", func(t *testing.T) {
		table := map[Field]FieldPolicy{}
		for k, v := range policies {
			table[k] = v
		}
		table[FieldExplanation] = FieldPolicy{Merge: MergeOverwrite}

		assert.Error(t, validatePolicies(table))
	})
}
