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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/inocula/services/analysis/collaborators"
	"github.com/AleutianAI/inocula/services/analysis/pipeline"
	"github.com/AleutianAI/inocula/services/analysis/state"
	"github.com/AleutianAI/inocula/services/llm"
)

// ExplainMode selects what the generator is asked for.
type ExplainMode string

const (
	// ModeSentence asks for a short plain-language explanation.
	ModeSentence ExplainMode = "sentence"

	// ModeAdjudicate asks for a JSON verdict that may zero the score.
	ModeAdjudicate ExplainMode = "adjudicate"
)

// OverrideReason is appended when the generator judges the text false.
const OverrideReason = "Fact Check Override: content contradicts verified context."

// Explain is the terminal stage. It always produces an explanation.
type Explain struct {
	generator llm.LLMClient
	mode      ExplainMode
	guard     collaborators.Guard
	timeout   time.Duration
}

// NewExplain creates the explain stage. A nil generator always uses the
// templated fallback; an empty mode means ModeSentence.
func NewExplain(gen llm.LLMClient, mode ExplainMode, guard collaborators.Guard, timeout time.Duration) *Explain {
	if mode == "" {
		mode = ModeSentence
	}
	return &Explain{generator: gen, mode: mode, guard: guard, timeout: timeout}
}

func (e *Explain) Name() pipeline.StageName { return pipeline.StageExplain }
func (e *Explain) Role() state.Writer       { return state.WriterTerminal }
func (e *Explain) Timeout() time.Duration   { return e.timeout }

// Run implements pipeline.Stage.
func (e *Explain) Run(ctx context.Context, snap state.State) (pipeline.Outcome, error) {
	if e.generator == nil {
		return pipeline.Outcome{Partial: state.Partial{Explanation: state.Some(FallbackExplanation(snap))}}, nil
	}

	prompt := BuildExplainPrompt(snap, e.mode)
	temp := float32(0.2)
	raw, cerr := collaborators.Invoke(ctx, e.guard, "generator",
		func(ctx context.Context) (string, error) {
			return e.generator.Generate(ctx, prompt, llm.GenerationParams{Temperature: &temp})
		})
	if cerr != nil {
		return pipeline.Outcome{
			Partial:  state.Partial{Explanation: state.Some(FallbackExplanation(snap))},
			Degraded: []*collaborators.Error{cerr},
		}, nil
	}

	if e.mode == ModeAdjudicate {
		return e.adjudicate(snap, raw), nil
	}

	text := cleanExplanation(raw)
	if text == "" {
		text = FallbackExplanation(snap)
	}
	return pipeline.Outcome{Partial: state.Partial{Explanation: state.Some(text)}}, nil
}

type verdict struct {
	FinalScore  *int   `json:"final_score"`
	Explanation string `json:"explanation"`
}

// adjudicate applies a JSON verdict. Only a final_score of exactly 0 against
// a non-zero running score overrides; other scores are ignored.
func (e *Explain) adjudicate(snap state.State, raw string) pipeline.Outcome {
	var v verdict
	if err := json.Unmarshal([]byte(stripFences(raw)), &v); err != nil {
		cerr := collaborators.Classify("generator", fmt.Errorf("%w: %v", collaborators.ErrBadResponse, err))
		return pipeline.Outcome{
			Partial:  state.Partial{Explanation: state.Some(FallbackExplanation(snap))},
			Degraded: []*collaborators.Error{cerr},
		}
	}

	text := cleanExplanation(v.Explanation)
	if text == "" {
		text = FallbackExplanation(snap)
	}
	out := state.Partial{Explanation: state.Some(text)}
	if v.FinalScore != nil && *v.FinalScore == 0 && snap.TrustScore != 0 {
		out.TrustScore = state.Some(0)
		out.Reasons = []string{OverrideReason}
	}
	return pipeline.Outcome{Partial: out}
}

// BuildExplainPrompt renders the synthesis request for a state.
func BuildExplainPrompt(snap state.State, mode ExplainMode) string {
	var b strings.Builder
	b.WriteString("As a professional Misinformation Analyst, review these scan results:\n\n")
	fmt.Fprintf(&b, "- Content: %q\n", Prefix(snap.InputText, explainInputChars))
	fmt.Fprintf(&b, "- Score: %d/100\n", snap.TrustScore)
	fmt.Fprintf(&b, "- Factors: %s\n", strings.Join(snap.Reasons, ", "))
	fmt.Fprintf(&b, "- Emotions: %s\n", strings.Join(snap.DetectedEmotions, ", "))
	if snap.IsMemoryHit {
		fmt.Fprintf(&b, "- Known verdict: %s\n", snap.MemoryContext)
	}
	if ctx := snap.Metadata[MetaVerificationSummary]; ctx != "" {
		fmt.Fprintf(&b, "- Verified context: %s\n", ctx)
	}

	b.WriteString("\nGuidelines:\n")
	b.WriteString("- Score > 70: Be reassuring but objective.\n")
	b.WriteString("- 40-70: Start with 'Caution:' and explain why.\n")
	b.WriteString("- < 40: Start with 'High Risk:' and be direct about manipulation.\n")
	b.WriteString("- Do NOT use any markdown formatting or stars (*).\n")

	switch mode {
	case ModeAdjudicate:
		b.WriteString("\nTask: Decide whether the content is factually false given the verified context. ")
		b.WriteString(`Answer only with JSON: {"final_score": <0 if false, otherwise the current score>, "explanation": "<one sentence>"}`)
	default:
		b.WriteString("\nTask: Explain the verdict to the user in one sentence.")
	}
	return b.String()
}

// FallbackExplanation is the deterministic explanation used when the
// generator is unavailable.
func FallbackExplanation(snap state.State) string {
	switch {
	case snap.IsMemoryHit && snap.MemoryContext != "":
		return fmt.Sprintf("High Risk: This claim matches a previously debunked narrative (%s).", snap.MemoryContext)
	case snap.TrustScore > 70:
		return "Low Risk: No strong manipulation signals were found, but it is still worth checking the original source."
	case snap.TrustScore >= 40:
		return "Caution: This content shows some warning signs. Review the factors below before sharing it."
	default:
		return "High Risk: This content shows strong signs of manipulation or misinformation. Verify it with trusted sources before sharing."
	}
}

func cleanExplanation(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "*", ""))
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
