// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs one job's text through the gate and the fixed
// sequence of analysis stages.
//
// # Topology
//
//	gate --memory_hit--> explain
//	gate --full_scan---> verify -> detect -> analyze -> assess-fallacy -> explain
//
// Stages execute strictly one after another on a private state. Each stage
// reads a snapshot and returns a partial update, which the executor merges
// under the stage's writer role.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/inocula/services/analysis/collaborators"
	"github.com/AleutianAI/inocula/services/analysis/memory"
	"github.com/AleutianAI/inocula/services/analysis/state"
)

// StageName identifies a stage in logs, metrics and results.
type StageName string

const (
	StageGate          StageName = "gate"
	StageVerify        StageName = "verify"
	StageDetect        StageName = "detect"
	StageAnalyze       StageName = "analyze"
	StageAssessFallacy StageName = "assess-fallacy"
	StageExplain       StageName = "explain"
)

// DefaultStageTimeout bounds a stage that does not set its own.
const DefaultStageTimeout = 90 * time.Second

var (
	// ErrUnknownRoute is returned when the gate yields an undeclared decision.
	ErrUnknownRoute = errors.New("unknown routing decision")

	// ErrStageTimeout is returned when a stage outlives its timeout.
	ErrStageTimeout = errors.New("stage timed out")

	// ErrInvalidConfig is returned by New for an unusable stage layout.
	ErrInvalidConfig = errors.New("invalid pipeline configuration")
)

// Outcome is what a stage contributes.
type Outcome struct {
	// Partial is merged into the job state under the stage's role.
	Partial state.Partial

	// Degraded lists collaborator calls that failed and were absorbed.
	Degraded []*collaborators.Error
}

// Stage is one step of the analysis.
//
// Run must treat snap as read-only input and report everything it wants to
// change through the returned Outcome. A returned error is not a
// collaborator failure: it fails the whole job.
type Stage interface {
	Name() StageName
	Role() state.Writer
	Timeout() time.Duration
	Run(ctx context.Context, snap state.State) (Outcome, error)
}

// Router is the gate. It is consulted once per job before any stage runs.
type Router interface {
	Decide(ctx context.Context, snap state.State) (memory.Decision, state.Partial, *collaborators.Error)
}

// StageError reports the stage that failed a job.
type StageError struct {
	Stage StageName
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
