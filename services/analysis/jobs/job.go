// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jobs runs analyses asynchronously on a bounded worker pool and
// persists each finished job exactly once.
package jobs

import (
	"errors"
	"slices"
	"time"

	"github.com/AleutianAI/inocula/services/analysis/collaborators"
	"github.com/AleutianAI/inocula/services/analysis/pipeline"
	"github.com/AleutianAI/inocula/services/analysis/records"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrJobNotFound is returned for an unknown or expired job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidText is returned by Submit for empty or oversized input.
	ErrInvalidText = errors.New("invalid text")

	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("job queue is full")

	// ErrJobTimeout marks a job that exceeded its execution budget.
	ErrJobTimeout = errors.New("job timed out")

	// ErrJobPanic marks a job whose pipeline panicked.
	ErrJobPanic = errors.New("job panicked")

	// ErrClosed is returned by Submit after Stop.
	ErrClosed = errors.New("job manager is stopped")

	// ErrInterrupted marks a job that was queued or running when its
	// manager stopped.
	ErrInterrupted = errors.New("job interrupted by shutdown")
)

// =============================================================================
// Job
// =============================================================================

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// SaveStatus describes the persistence of a succeeded job's record.
type SaveStatus string

const (
	SaveNone   SaveStatus = ""
	SaveSaved  SaveStatus = "saved"
	SaveFailed SaveStatus = "failed"
)

// DegradedCall is a collaborator failure the job absorbed.
type DegradedCall struct {
	Collaborator string `json:"collaborator"`
	Kind         string `json:"kind"`
	Message      string `json:"message"`
}

// Job is the stored form of one submission. Status returns copies of it.
type Job struct {
	ID         string    `json:"job_id"`
	Text       string    `json:"text"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	Result   *records.Result `json:"result,omitempty"`
	Route    string          `json:"route,omitempty"`
	Visited  []string        `json:"visited,omitempty"`
	Degraded []DegradedCall  `json:"degraded,omitempty"`
	Error    string          `json:"error,omitempty"`

	RecordID   string     `json:"record_id,omitempty"`
	SaveStatus SaveStatus `json:"save_status,omitempty"`
	SaveError  string     `json:"save_error,omitempty"`
}

// Duration is the wall time between start and finish, or zero.
func (j Job) Duration() time.Duration {
	if j.StartedAt.IsZero() || j.FinishedAt.IsZero() {
		return 0
	}
	return j.FinishedAt.Sub(j.StartedAt)
}

func (j Job) clone() Job {
	c := j
	if j.Result != nil {
		r := *j.Result
		r.Reasons = slices.Clone(j.Result.Reasons)
		r.DetectedEmotions = slices.Clone(j.Result.DetectedEmotions)
		c.Result = &r
	}
	c.Visited = slices.Clone(j.Visited)
	c.Degraded = slices.Clone(j.Degraded)
	return c
}

// applyResult copies a pipeline result onto a succeeded job.
func (j *Job) applyResult(res *pipeline.Result) {
	r := records.ResultFromState(res.State)
	j.Result = &r
	j.Route = res.Route.String()
	j.Visited = make([]string, 0, len(res.Visited))
	for _, v := range res.Visited {
		j.Visited = append(j.Visited, string(v))
	}
	j.Degraded = degradedCalls(res.Degraded)
}

func degradedCalls(errs []*collaborators.Error) []DegradedCall {
	if len(errs) == 0 {
		return nil
	}
	out := make([]DegradedCall, 0, len(errs))
	for _, e := range errs {
		msg := ""
		if e.Err != nil {
			msg = e.Err.Error()
		}
		out = append(out, DegradedCall{Collaborator: e.Collaborator, Kind: string(e.Kind), Message: msg})
	}
	return out
}
