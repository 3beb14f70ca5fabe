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

import "fmt"

// =============================================================================
// Fields
// =============================================================================

// Field names a mergeable State field.
type Field string

const (
	FieldTrustScore       Field = "trust_score"
	FieldReasons          Field = "reasons"
	FieldDetectedEmotions Field = "detected_emotions"
	FieldExplanation      Field = "explanation"
	FieldMetadata         Field = "metadata"
	FieldIsMemoryHit      Field = "is_memory_hit"
	FieldMemoryContext    Field = "memory_context"
)

// AllFields lists every mergeable field. InputText is immutable and absent.
var AllFields = []Field{
	FieldTrustScore,
	FieldReasons,
	FieldDetectedEmotions,
	FieldExplanation,
	FieldMetadata,
	FieldIsMemoryHit,
	FieldMemoryContext,
}

// =============================================================================
// Merge Policy
// =============================================================================

// MergePolicy decides how a partial value combines with the current one.
type MergePolicy int

const (
	// MergeOverwrite replaces the current value. Maps are replaced whole.
	MergeOverwrite MergePolicy = iota + 1

	// MergeAppend concatenates onto the current sequence, preserving order.
	MergeAppend
)

func (m MergePolicy) String() string {
	switch m {
	case MergeOverwrite:
		return "overwrite"
	case MergeAppend:
		return "append"
	default:
		return fmt.Sprintf("MergePolicy(%d)", int(m))
	}
}

// Writer identifies the role of the component producing a Partial.
type Writer uint8

const (
	// WriterGate is the similarity-memory gate.
	WriterGate Writer = 1 << iota

	// WriterStage is any non-terminal analysis stage.
	WriterStage

	// WriterTerminal is the explain stage.
	WriterTerminal
)

func (w Writer) String() string {
	switch w {
	case WriterGate:
		return "gate"
	case WriterStage:
		return "stage"
	case WriterTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("Writer(%d)", uint8(w))
	}
}

// WriterSet is a set of writers allowed to touch a field.
type WriterSet uint8

// Writers builds a WriterSet.
func Writers(ws ...Writer) WriterSet {
	var set WriterSet
	for _, w := range ws {
		set |= WriterSet(w)
	}
	return set
}

// Allows reports whether w is in the set.
func (s WriterSet) Allows(w Writer) bool {
	return s&WriterSet(w) != 0
}

// FieldPolicy is the declared merge behavior of one field.
type FieldPolicy struct {
	Merge   MergePolicy
	Writers WriterSet
}

// policies is the single declaration of how every field merges.
//
// The terminal stage may overwrite the score (fact-check override) and append
// reasons. Only the gate writes the memory fields.
var policies = map[Field]FieldPolicy{
	FieldTrustScore:       {Merge: MergeOverwrite, Writers: Writers(WriterGate, WriterStage, WriterTerminal)},
	FieldReasons:          {Merge: MergeAppend, Writers: Writers(WriterGate, WriterStage, WriterTerminal)},
	FieldDetectedEmotions: {Merge: MergeOverwrite, Writers: Writers(WriterStage)},
	FieldExplanation:      {Merge: MergeOverwrite, Writers: Writers(WriterTerminal)},
	FieldMetadata:         {Merge: MergeOverwrite, Writers: Writers(WriterStage)},
	FieldIsMemoryHit:      {Merge: MergeOverwrite, Writers: Writers(WriterGate)},
	FieldMemoryContext:    {Merge: MergeOverwrite, Writers: Writers(WriterGate)},
}

// sequenceFields may use MergeAppend; every other field must overwrite.
var sequenceFields = map[Field]bool{
	FieldReasons:          true,
	FieldDetectedEmotions: true,
}

func init() {
	if err := validatePolicies(policies); err != nil {
		panic(err)
	}
}

// validatePolicies checks that every field has exactly one usable policy.
func validatePolicies(table map[Field]FieldPolicy) error {
	if len(table) != len(AllFields) {
		return fmt.Errorf("state: merge policy table has %d entries, want %d", len(table), len(AllFields))
	}
	for _, f := range AllFields {
		p, ok := table[f]
		if !ok {
			return fmt.Errorf("state: field %s has no merge policy", f)
		}
		switch p.Merge {
		case MergeOverwrite:
		case MergeAppend:
			if !sequenceFields[f] {
				return fmt.Errorf("state: field %s is not a sequence and cannot append", f)
			}
		default:
			return fmt.Errorf("state: field %s has unknown merge policy %s", f, p.Merge)
		}
		if p.Writers == 0 {
			return fmt.Errorf("state: field %s has no writers", f)
		}
	}
	return nil
}

// PolicyFor returns the declared policy of f.
func PolicyFor(f Field) FieldPolicy {
	return policies[f]
}
