// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package state defines the record that flows through the analysis pipeline.
//
// A State is owned by exactly one job worker for the lifetime of the job.
// Stages never touch it directly: they receive a Snapshot and return a
// Partial, which the executor folds back in with Merge. Every field carries
// a declared merge policy and a declared set of writers (see policy.go).
package state

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// InitialTrustScore is the score every job starts from.
const InitialTrustScore = 100

const (
	minTrustScore = 0
	maxTrustScore = 100
)

// ErrFieldNotWritable is returned when a writer supplies a field it does not own.
var ErrFieldNotWritable = errors.New("field not writable by this writer")

// State is the analysis record for one job.
//
// Fields are exported for reading; all writes go through Merge.
type State struct {
	InputText        string            `json:"input_text"`
	TrustScore       int               `json:"trust_score"`
	Reasons          []string          `json:"reasons"`
	DetectedEmotions []string          `json:"detected_emotions"`
	Explanation      string            `json:"explanation"`
	Metadata         map[string]string `json:"metadata"`
	IsMemoryHit      bool              `json:"is_memory_hit"`
	MemoryContext    string            `json:"memory_context,omitempty"`
}

// New creates the state for a freshly started job.
func New(inputText string) *State {
	return &State{
		InputText:        inputText,
		TrustScore:       InitialTrustScore,
		Reasons:          []string{},
		DetectedEmotions: []string{},
		Metadata:         map[string]string{},
	}
}

// Opt is an optional field value in a Partial. The zero value means "absent".
type Opt[T any] struct {
	value T
	set   bool
}

// Some returns a present Opt holding v.
func Some[T any](v T) Opt[T] {
	return Opt[T]{value: v, set: true}
}

// Get returns the value and whether it is present.
func (o Opt[T]) Get() (T, bool) {
	return o.value, o.set
}

// IsSet reports whether the option carries a value.
func (o Opt[T]) IsSet() bool {
	return o.set
}

// Partial is the update a single stage contributes.
//
// Absent fields leave the state untouched. Reasons are appended, so a nil or
// empty slice is a no-op.
type Partial struct {
	TrustScore       Opt[int]
	Reasons          []string
	DetectedEmotions Opt[[]string]
	Explanation      Opt[string]
	Metadata         Opt[map[string]string]
	IsMemoryHit      Opt[bool]
	MemoryContext    Opt[string]
}

// IsEmpty reports whether applying p would change nothing.
func (p Partial) IsEmpty() bool {
	return len(p.Reasons) == 0 &&
		!p.TrustScore.IsSet() &&
		!p.DetectedEmotions.IsSet() &&
		!p.Explanation.IsSet() &&
		!p.Metadata.IsSet() &&
		!p.IsMemoryHit.IsSet() &&
		!p.MemoryContext.IsSet()
}

// Fields lists the fields the partial carries, in declaration order.
func (p Partial) Fields() []Field {
	var out []Field
	if p.TrustScore.IsSet() {
		out = append(out, FieldTrustScore)
	}
	if len(p.Reasons) > 0 {
		out = append(out, FieldReasons)
	}
	if p.DetectedEmotions.IsSet() {
		out = append(out, FieldDetectedEmotions)
	}
	if p.Explanation.IsSet() {
		out = append(out, FieldExplanation)
	}
	if p.Metadata.IsSet() {
		out = append(out, FieldMetadata)
	}
	if p.IsMemoryHit.IsSet() {
		out = append(out, FieldIsMemoryHit)
	}
	if p.MemoryContext.IsSet() {
		out = append(out, FieldMemoryContext)
	}
	return out
}

// Merge folds a stage's partial update into the state.
//
// Description:
//
//	Ownership is checked for every field first, so a rejected partial leaves
//	the state unchanged. The field's declared policy then decides between
//	append and overwrite. TrustScore is clamped to [0,100] after the write.
//
// Inputs:
//
//	writer - The role of the stage that produced p.
//	p - The partial update.
//
// Outputs:
//
//	error - ErrFieldNotWritable (wrapped) if writer does not own a field in p.
func (s *State) Merge(writer Writer, p Partial) error {
	for _, f := range p.Fields() {
		if !PolicyFor(f).Writers.Allows(writer) {
			return fmt.Errorf("%w: %s cannot write %s", ErrFieldNotWritable, writer, f)
		}
	}

	if v, ok := p.TrustScore.Get(); ok {
		s.TrustScore = ClampScore(v)
	}
	if len(p.Reasons) > 0 {
		s.Reasons = mergeStrings(FieldReasons, s.Reasons, p.Reasons)
	}
	if v, ok := p.DetectedEmotions.Get(); ok {
		s.DetectedEmotions = mergeStrings(FieldDetectedEmotions, s.DetectedEmotions, v)
	}
	if v, ok := p.Explanation.Get(); ok {
		s.Explanation = v
	}
	if v, ok := p.Metadata.Get(); ok {
		s.Metadata = maps.Clone(v)
		if s.Metadata == nil {
			s.Metadata = map[string]string{}
		}
	}
	if v, ok := p.IsMemoryHit.Get(); ok {
		s.IsMemoryHit = v
	}
	if v, ok := p.MemoryContext.Get(); ok {
		s.MemoryContext = v
	}
	return nil
}

// Snapshot returns a deep copy of the state for a stage to read.
func (s *State) Snapshot() State {
	out := *s
	out.Reasons = slices.Clone(s.Reasons)
	out.DetectedEmotions = slices.Clone(s.DetectedEmotions)
	out.Metadata = maps.Clone(s.Metadata)
	return out
}

// ClampScore bounds a score to [0,100].
func ClampScore(v int) int {
	return min(max(v, minTrustScore), maxTrustScore)
}

// mergeStrings applies the declared policy of a sequence field.
func mergeStrings(f Field, cur, next []string) []string {
	switch PolicyFor(f).Merge {
	case MergeAppend:
		return append(cur, next...)
	case MergeOverwrite:
		if next == nil {
			return []string{}
		}
		return slices.Clone(next)
	default:
		panic(fmt.Sprintf("state: field %s has no merge policy", f))
	}
}
