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
	"math"
	"strings"
	"time"

	"github.com/AleutianAI/inocula/services/analysis/collaborators"
	"github.com/AleutianAI/inocula/services/analysis/pipeline"
	"github.com/AleutianAI/inocula/services/analysis/state"
)

const (
	// EmotionDeduction is subtracted per triggering emotion.
	EmotionDeduction = 15

	// FallacyDeduction is subtracted when a logical flaw is found.
	FallacyDeduction = 25

	// NeutralFallacyLabel is the label that means "no flaw".
	NeutralFallacyLabel = "Logical Reasoning"

	noToxicityReason = "Initial scan: Content does not show immediate toxic patterns."
)

// TriggerEmotions are checked in this order.
var TriggerEmotions = []string{"anger", "fear"}

// FallacyLabels is the fixed label set offered to the ranker.
var FallacyLabels = []string{
	"Slippery Slope (Doomsday prediction)",
	"Personal Attack (Ad Hominem)",
	"Extreme Exaggeration",
	NeutralFallacyLabel,
	"Fear Mongering",
}

func percent(p float64) int {
	return int(math.Round(p * 100))
}

// =============================================================================
// detect
// =============================================================================

// Detect scores toxicity. Its score replaces the running score.
type Detect struct {
	classifier collaborators.ToxicityClassifier
	tuning     *Tuning
	guard      collaborators.Guard
	timeout    time.Duration
}

// NewDetect creates the detect stage.
func NewDetect(c collaborators.ToxicityClassifier, tuning *Tuning, guard collaborators.Guard, timeout time.Duration) *Detect {
	return &Detect{classifier: c, tuning: tuning, guard: guard, timeout: timeout}
}

func (d *Detect) Name() pipeline.StageName { return pipeline.StageDetect }
func (d *Detect) Role() state.Writer       { return state.WriterStage }
func (d *Detect) Timeout() time.Duration   { return d.timeout }

// Run implements pipeline.Stage.
func (d *Detect) Run(ctx context.Context, snap state.State) (pipeline.Outcome, error) {
	p, cerr := collaborators.Invoke(ctx, d.guard, "toxicity",
		func(ctx context.Context) (float64, error) {
			return d.classifier.Toxicity(ctx, snap.InputText)
		})
	if cerr != nil {
		return pipeline.Outcome{Degraded: []*collaborators.Error{cerr}}, nil
	}

	pct := percent(p)
	reason := noToxicityReason
	if p > d.tuning.Load().Toxicity {
		reason = fmt.Sprintf("High toxicity detected (Level: %d%%)", pct)
	}
	return pipeline.Outcome{Partial: state.Partial{
		TrustScore: state.Some(state.InitialTrustScore - pct),
		Reasons:    []string{reason},
	}}, nil
}

// =============================================================================
// analyze
// =============================================================================

// Analyze looks for anger and fear. Each hit subtracts EmotionDeduction from
// the current score.
type Analyze struct {
	classifier collaborators.EmotionClassifier
	tuning     *Tuning
	guard      collaborators.Guard
	timeout    time.Duration
}

// NewAnalyze creates the analyze stage.
func NewAnalyze(c collaborators.EmotionClassifier, tuning *Tuning, guard collaborators.Guard, timeout time.Duration) *Analyze {
	return &Analyze{classifier: c, tuning: tuning, guard: guard, timeout: timeout}
}

func (a *Analyze) Name() pipeline.StageName { return pipeline.StageAnalyze }
func (a *Analyze) Role() state.Writer       { return state.WriterStage }
func (a *Analyze) Timeout() time.Duration   { return a.timeout }

// Run implements pipeline.Stage.
func (a *Analyze) Run(ctx context.Context, snap state.State) (pipeline.Outcome, error) {
	scores, cerr := collaborators.Invoke(ctx, a.guard, "emotion",
		func(ctx context.Context) (map[string]float64, error) {
			return a.classifier.Emotions(ctx, snap.InputText)
		})
	if cerr != nil {
		return pipeline.Outcome{Degraded: []*collaborators.Error{cerr}}, nil
	}

	threshold := a.tuning.Load().Emotion
	found := []string{}
	var reasons []string
	for _, emotion := range TriggerEmotions {
		conf, ok := scores[emotion]
		if !ok || conf <= threshold {
			continue
		}
		found = append(found, emotion)
		reasons = append(reasons, fmt.Sprintf("Psychological trigger detected: %s (Confidence: %d%%)",
			strings.ToUpper(emotion), percent(conf)))
	}

	out := state.Partial{
		DetectedEmotions: state.Some(found),
		Reasons:          reasons,
	}
	if len(found) > 0 {
		out.TrustScore = state.Some(snap.TrustScore - EmotionDeduction*len(found))
	}
	return pipeline.Outcome{Partial: out}, nil
}

// =============================================================================
// assess-fallacy
// =============================================================================

// AssessFallacy ranks the fixed fallacy labels and penalizes a confident
// non-neutral winner.
type AssessFallacy struct {
	ranker  collaborators.FallacyRanker
	tuning  *Tuning
	guard   collaborators.Guard
	timeout time.Duration
}

// NewAssessFallacy creates the assess-fallacy stage.
func NewAssessFallacy(r collaborators.FallacyRanker, tuning *Tuning, guard collaborators.Guard, timeout time.Duration) *AssessFallacy {
	return &AssessFallacy{ranker: r, tuning: tuning, guard: guard, timeout: timeout}
}

func (f *AssessFallacy) Name() pipeline.StageName { return pipeline.StageAssessFallacy }
func (f *AssessFallacy) Role() state.Writer       { return state.WriterStage }
func (f *AssessFallacy) Timeout() time.Duration   { return f.timeout }

// Run implements pipeline.Stage.
func (f *AssessFallacy) Run(ctx context.Context, snap state.State) (pipeline.Outcome, error) {
	ranked, cerr := collaborators.Invoke(ctx, f.guard, "fallacy",
		func(ctx context.Context) ([]collaborators.Ranked, error) {
			return f.ranker.Rank(ctx, snap.InputText, FallacyLabels)
		})
	if cerr != nil {
		return pipeline.Outcome{Degraded: []*collaborators.Error{cerr}}, nil
	}
	if len(ranked) == 0 {
		return pipeline.Outcome{}, nil
	}

	top := ranked[0]
	if top.Label == NeutralFallacyLabel || top.Confidence <= f.tuning.Load().Fallacy {
		return pipeline.Outcome{}, nil
	}
	return pipeline.Outcome{Partial: state.Partial{
		TrustScore: state.Some(snap.TrustScore - FallacyDeduction),
		Reasons:    []string{"Logical Flaw: " + top.Label},
	}}, nil
}
