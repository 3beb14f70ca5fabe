// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/AleutianAI/inocula/services/analysis/collaborators"
	"github.com/AleutianAI/inocula/services/analysis/pipeline"
	"github.com/AleutianAI/inocula/services/analysis/state"
)

// Metadata keys written by Verify and read by Explain.
const (
	MetaVerificationSummary = "verification_summary"
	MetaVerificationLink    = "verification_link"
	MetaVerificationSource  = "verification_source"
)

const (
	verifyQueryChars  = 150
	explainInputChars = 300
)

// Prefix returns the first chunk of text no longer than limit runes, cut on
// paragraph, line or word boundaries where possible.
func Prefix(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) <= limit {
		return text
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(limit),
		textsplitter.WithChunkOverlap(0),
		textsplitter.WithLenFunc(func(s string) int { return len([]rune(s)) }),
	)
	chunks, err := splitter.SplitText(text)
	first := text
	if err == nil && len(chunks) > 0 {
		first = chunks[0]
	}
	// A single word longer than limit survives splitting intact.
	if r := []rune(first); len(r) > limit {
		first = string(r[:limit])
	}
	return strings.TrimSpace(first)
}

// Verify looks up neutral background facts. It never changes the score.
type Verify struct {
	lookup  collaborators.FactLookup
	guard   collaborators.Guard
	timeout time.Duration
}

// NewVerify creates the verify stage.
func NewVerify(lookup collaborators.FactLookup, guard collaborators.Guard, timeout time.Duration) *Verify {
	return &Verify{lookup: lookup, guard: guard, timeout: timeout}
}

func (v *Verify) Name() pipeline.StageName { return pipeline.StageVerify }
func (v *Verify) Role() state.Writer       { return state.WriterStage }
func (v *Verify) Timeout() time.Duration   { return v.timeout }

// Run implements pipeline.Stage.
func (v *Verify) Run(ctx context.Context, snap state.State) (pipeline.Outcome, error) {
	query := Prefix(snap.InputText, verifyQueryChars)
	fact, cerr := collaborators.Invoke(ctx, v.guard, "fact_lookup",
		func(ctx context.Context) (*collaborators.Fact, error) {
			return v.lookup.Lookup(ctx, query)
		})
	if cerr != nil {
		return pipeline.Outcome{Degraded: []*collaborators.Error{cerr}}, nil
	}
	if fact == nil || strings.TrimSpace(fact.Summary) == "" {
		return pipeline.Outcome{}, nil
	}

	source := fact.Source
	if source == "" {
		source = "Reference"
	}
	return pipeline.Outcome{Partial: state.Partial{
		Reasons: []string{fmt.Sprintf("Factual Context Found: %s ('%s')", source, fact.Title)},
		Metadata: state.Some(map[string]string{
			MetaVerificationSummary: fmt.Sprintf("%s summary for '%s': %s", source, fact.Title, fact.Summary),
			MetaVerificationLink:    fact.SourceURL,
			MetaVerificationSource:  source,
		}),
	}}, nil
}
