// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/inocula/services/analysis/collaborators"
	"github.com/AleutianAI/inocula/services/analysis/memory"
	"github.com/AleutianAI/inocula/services/analysis/state"
)

var (
	tracer = otel.Tracer("inocula.pipeline")
	meter  = otel.Meter("inocula.pipeline")
)

// Config wires an Executor.
type Config struct {
	// Gate decides the route. Required.
	Gate Router

	// Stages is the full-scan path in execution order, without the terminal.
	Stages []Stage

	// Terminal runs last on every route. Required; must have the terminal role.
	Terminal Stage

	Logger *slog.Logger
}

// Result is the outcome of one pipeline run.
type Result struct {
	State    state.State
	Route    memory.Decision
	Visited  []StageName
	Degraded []*collaborators.Error

	StageDurations map[StageName]time.Duration
	Duration       time.Duration
}

// Executor runs the gate and the stages for one job at a time per call.
//
// Thread Safety:
//
//	Safe for concurrent use. Each Run owns its own state.
type Executor struct {
	gate     Router
	stages   []Stage
	terminal Stage
	logger   *slog.Logger

	metricsOnce   sync.Once
	stageLatency  metric.Float64Histogram
	stageDegraded metric.Int64Counter
	stageFailures metric.Int64Counter
	routes        metric.Int64Counter
}

// New validates cfg and builds an Executor.
//
// Description:
//
//	Checks that the gate and terminal are present, that stage names are
//	unique, that the terminal holds the terminal role and that no other
//	stage does.
//
// Outputs:
//
//	*Executor - The executor.
//	error - Wrapped ErrInvalidConfig on a bad layout.
func New(cfg Config) (*Executor, error) {
	if cfg.Gate == nil {
		return nil, fmt.Errorf("%w: gate is required", ErrInvalidConfig)
	}
	if cfg.Terminal == nil {
		return nil, fmt.Errorf("%w: terminal stage is required", ErrInvalidConfig)
	}
	if cfg.Terminal.Role() != state.WriterTerminal {
		return nil, fmt.Errorf("%w: terminal stage %s has role %s", ErrInvalidConfig, cfg.Terminal.Name(), cfg.Terminal.Role())
	}

	seen := map[StageName]bool{StageGate: true, cfg.Terminal.Name(): true}
	for _, s := range cfg.Stages {
		if s == nil {
			return nil, fmt.Errorf("%w: nil stage", ErrInvalidConfig)
		}
		if seen[s.Name()] {
			return nil, fmt.Errorf("%w: duplicate stage %s", ErrInvalidConfig, s.Name())
		}
		if s.Role() == state.WriterTerminal {
			return nil, fmt.Errorf("%w: only the last stage may be terminal, got %s", ErrInvalidConfig, s.Name())
		}
		seen[s.Name()] = true
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Executor{
		gate:     cfg.Gate,
		stages:   append([]Stage(nil), cfg.Stages...),
		terminal: cfg.Terminal,
		logger:   cfg.Logger,
	}, nil
}

func (e *Executor) initMetrics() {
	e.metricsOnce.Do(func() {
		var initErrors []string
		var err error

		e.stageLatency, err = meter.Float64Histogram("inocula_stage_duration_seconds",
			metric.WithDescription("Time spent in each analysis stage"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_latency: "+err.Error())
		}

		e.stageDegraded, err = meter.Int64Counter("inocula_stage_degraded_total",
			metric.WithDescription("Stage runs that absorbed a collaborator failure"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_degraded: "+err.Error())
		}

		e.stageFailures, err = meter.Int64Counter("inocula_stage_failure_total",
			metric.WithDescription("Stage runs that failed the job"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_failures: "+err.Error())
		}

		e.routes, err = meter.Int64Counter("inocula_route_total",
			metric.WithDescription("Gate routing decisions"),
		)
		if err != nil {
			initErrors = append(initErrors, "routes: "+err.Error())
		}

		if len(initErrors) > 0 {
			e.logger.Error("failed to initialize some pipeline metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// path returns the stages to run after the gate for a decision.
func (e *Executor) path(d memory.Decision) ([]Stage, error) {
	switch d {
	case memory.RouteMemoryHit:
		return []Stage{e.terminal}, nil
	case memory.RouteFullScan:
		out := make([]Stage, 0, len(e.stages)+1)
		out = append(out, e.stages...)
		return append(out, e.terminal), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoute, d)
	}
}

// Run analyzes one text.
//
// Description:
//
//	Creates a fresh state, consults the gate, merges its partial, then runs
//	the stages of the chosen route in order. Collaborator failures are
//	collected in Result.Degraded. Any other stage error, a rejected merge
//	or a cancelled context stops the run.
//
// Inputs:
//
//	ctx - Job context. Its deadline bounds the whole run.
//	text - The input text.
//
// Outputs:
//
//	*Result - Final state and trace of the run. Never nil on success.
//	error - *StageError, ErrUnknownRoute or the context error.
func (e *Executor) Run(ctx context.Context, text string) (*Result, error) {
	e.initMetrics()

	ctx, span := tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(attribute.Int("pipeline.input_len", len(text))),
	)
	defer span.End()

	start := time.Now()
	st := state.New(text)
	res := &Result{StageDurations: make(map[StageName]time.Duration)}

	decision, partial, cerr := e.gate.Decide(ctx, st.Snapshot())
	res.Visited = append(res.Visited, StageGate)
	res.StageDurations[StageGate] = time.Since(start)
	if cerr != nil {
		res.Degraded = append(res.Degraded, cerr)
		e.countDegraded(ctx, StageGate)
	}

	steps, err := e.path(decision)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := st.Merge(state.WriterGate, partial); err != nil {
		serr := &StageError{Stage: StageGate, Err: err}
		span.RecordError(serr)
		span.SetStatus(codes.Error, serr.Error())
		return nil, serr
	}
	res.Route = decision
	span.SetAttributes(attribute.String("pipeline.route", decision.String()))
	if e.routes != nil {
		e.routes.Add(ctx, 1, metric.WithAttributes(attribute.String("route", decision.String())))
	}

	for _, stage := range steps {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "context canceled")
			return nil, err
		}

		stageStart := time.Now()
		outcome, err := e.runStage(ctx, stage, st.Snapshot())
		res.StageDurations[stage.Name()] = time.Since(stageStart)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		if err := st.Merge(stage.Role(), outcome.Partial); err != nil {
			serr := &StageError{Stage: stage.Name(), Err: err}
			span.RecordError(serr)
			span.SetStatus(codes.Error, serr.Error())
			return nil, serr
		}
		res.Visited = append(res.Visited, stage.Name())
		if len(outcome.Degraded) > 0 {
			res.Degraded = append(res.Degraded, outcome.Degraded...)
			e.countDegraded(ctx, stage.Name())
		}
	}

	res.State = st.Snapshot()
	res.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("pipeline.trust_score", res.State.TrustScore),
		attribute.Int("pipeline.degraded", len(res.Degraded)),
	)
	span.SetStatus(codes.Ok, "")

	e.logger.Info("pipeline completed",
		slog.String("route", decision.String()),
		slog.Int("trust_score", res.State.TrustScore),
		slog.Int("degraded", len(res.Degraded)),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// runStage executes one stage with its own span and timeout.
func (e *Executor) runStage(ctx context.Context, stage Stage, snap state.State) (Outcome, error) {
	name := string(stage.Name())
	ctx, span := tracer.Start(ctx, "stage."+name,
		trace.WithAttributes(attribute.String("pipeline.stage", name)),
	)
	defer span.End()

	timeout := stage.Timeout()
	if timeout <= 0 {
		timeout = DefaultStageTimeout
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	outcome, err := stage.Run(stageCtx, snap)
	duration := time.Since(start)

	if e.stageLatency != nil {
		e.stageLatency.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("stage", name)),
		)
	}

	if err != nil {
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", ErrStageTimeout, err)
		}
		if e.stageFailures != nil {
			e.stageFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", name)))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("stage failed",
			slog.String("stage", name),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return Outcome{}, &StageError{Stage: stage.Name(), Err: err}
	}

	for _, d := range outcome.Degraded {
		span.AddEvent("collaborator_degraded", trace.WithAttributes(
			attribute.String("collaborator", d.Collaborator),
			attribute.String("kind", string(d.Kind)),
		))
	}
	span.SetStatus(codes.Ok, "")
	e.logger.Debug("stage completed",
		slog.String("stage", name),
		slog.Duration("duration", duration),
		slog.Int("reasons", len(outcome.Partial.Reasons)),
	)
	return outcome, nil
}

func (e *Executor) countDegraded(ctx context.Context, stage StageName) {
	if e.stageDegraded != nil {
		e.stageDegraded.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", string(stage))))
	}
}
