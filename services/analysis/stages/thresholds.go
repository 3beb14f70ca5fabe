// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stages implements the analysis steps run by the pipeline.
//
// Scoring is mixed on purpose. detect replaces the score with its own
// reading; analyze and assess-fallacy subtract from whatever the score is
// when they run; the gate pins it to zero. Reordering stages changes
// results.
package stages

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Thresholds are the confidence cut-offs used by the stages.
type Thresholds struct {
	// Toxicity above which detect reports high toxicity.
	Toxicity float64 `yaml:"toxicity" json:"toxicity"`

	// Emotion above which anger or fear counts as a trigger.
	Emotion float64 `yaml:"emotion" json:"emotion"`

	// Fallacy above which a non-neutral top label counts as a flaw.
	Fallacy float64 `yaml:"fallacy" json:"fallacy"`
}

// DefaultThresholds returns the values the service ships with.
func DefaultThresholds() Thresholds {
	return Thresholds{Toxicity: 0.5, Emotion: 0.6, Fallacy: 0.3}
}

// Validate checks every threshold lies in [0,1].
func (t Thresholds) Validate() error {
	var errs []error
	check := func(name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s threshold %v outside [0,1]", name, v))
		}
	}
	check("toxicity", t.Toxicity)
	check("emotion", t.Emotion)
	check("fallacy", t.Fallacy)
	return errors.Join(errs...)
}

// Tuning holds the live thresholds. Stages read it on every run so a
// config reload takes effect on the next job.
type Tuning struct {
	p atomic.Pointer[Thresholds]
}

// NewTuning returns a Tuning holding t.
func NewTuning(t Thresholds) *Tuning {
	tu := &Tuning{}
	tu.p.Store(&t)
	return tu
}

// Load returns the current thresholds. A nil Tuning yields the defaults.
func (tu *Tuning) Load() Thresholds {
	if tu == nil {
		return DefaultThresholds()
	}
	if t := tu.p.Load(); t != nil {
		return *t
	}
	return DefaultThresholds()
}

// Store replaces the thresholds after validating them.
func (tu *Tuning) Store(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	tu.p.Store(&t)
	return nil
}
