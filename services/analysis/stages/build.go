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
	"errors"
	"log/slog"
	"time"

	"github.com/AleutianAI/inocula/services/analysis/collaborators"
	"github.com/AleutianAI/inocula/services/analysis/memory"
	"github.com/AleutianAI/inocula/services/analysis/pipeline"
	"github.com/AleutianAI/inocula/services/llm"
)

// Deps are the collaborators the stages call. They are constructed once at
// startup and shared by every job.
type Deps struct {
	Memory    memory.Memory
	Facts     collaborators.FactLookup
	Toxicity  collaborators.ToxicityClassifier
	Emotions  collaborators.EmotionClassifier
	Fallacies collaborators.FallacyRanker
	Generator llm.LLMClient
}

// Options tune the assembled pipeline.
type Options struct {
	MemoryThreshold float64
	Tuning          *Tuning
	ExplainMode     ExplainMode

	// CallTimeout bounds each collaborator call.
	CallTimeout time.Duration

	// StageTimeout bounds each stage.
	StageTimeout time.Duration

	Observer collaborators.Observer
	Logger   *slog.Logger
}

// NewExecutor assembles the standard topology over deps.
func NewExecutor(deps Deps, opts Options) (*pipeline.Executor, error) {
	var missing []error
	if deps.Facts == nil {
		missing = append(missing, errors.New("fact lookup is required"))
	}
	if deps.Toxicity == nil {
		missing = append(missing, errors.New("toxicity classifier is required"))
	}
	if deps.Emotions == nil {
		missing = append(missing, errors.New("emotion classifier is required"))
	}
	if deps.Fallacies == nil {
		missing = append(missing, errors.New("fallacy ranker is required"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, errors.Join(pipeline.ErrInvalidConfig, err)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tuning == nil {
		opts.Tuning = NewTuning(DefaultThresholds())
	}
	guard := collaborators.Guard{Timeout: opts.CallTimeout, Logger: opts.Logger, Observer: opts.Observer}

	gate := memory.NewGate(deps.Memory, memory.GateConfig{
		Threshold: opts.MemoryThreshold,
		Guard:     guard,
		Logger:    opts.Logger,
	})

	return pipeline.New(pipeline.Config{
		Gate: gate,
		Stages: []pipeline.Stage{
			NewVerify(deps.Facts, guard, opts.StageTimeout),
			NewDetect(deps.Toxicity, opts.Tuning, guard, opts.StageTimeout),
			NewAnalyze(deps.Emotions, opts.Tuning, guard, opts.StageTimeout),
			NewAssessFallacy(deps.Fallacies, opts.Tuning, guard, opts.StageTimeout),
		},
		Terminal: NewExplain(deps.Generator, opts.ExplainMode, guard, opts.StageTimeout),
		Logger:   opts.Logger,
	})
}
