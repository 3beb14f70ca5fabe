// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry installs the global OpenTelemetry tracer and meter
// providers used by the pipeline, the memory index and the HTTP layer.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/inocula/pkg/config"
)

// Version is stamped into the service resource.
var Version = "dev"

// ErrUnknownExporter is returned for an exporter name Init does not know.
var ErrUnknownExporter = errors.New("unknown exporter")

// ShutdownFunc flushes and stops every provider Init installed.
type ShutdownFunc func(context.Context) error

// Init installs the tracer and meter providers selected by cfg and the
// W3C trace-context propagator. Prometheus metrics are registered on reg so
// that they are served next to the service's own collectors.
//
// The returned shutdown is never nil, even on error.
func Init(ctx context.Context, cfg config.TelemetryConfig, reg prometheus.Registerer) (ShutdownFunc, error) {
	var closers []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i](ctx))
		}
		return errors.Join(errs...)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(Version),
		semconv.DeploymentEnvironmentKey.String(cfg.Environment),
	))
	if err != nil {
		return shutdown, fmt.Errorf("build resource: %w", err)
	}

	if cfg.TraceExporter != "none" {
		tp, closeConn, err := newTracerProvider(ctx, cfg, res)
		if err != nil {
			return shutdown, fmt.Errorf("init tracer: %w", err)
		}
		otel.SetTracerProvider(tp)
		closers = append(closers, closeConn, tp.Shutdown)
	}

	if cfg.MetricExporter != "none" {
		mp, err := newMeterProvider(cfg, res, reg)
		if err != nil {
			return shutdown, fmt.Errorf("init meter: %w", err)
		}
		otel.SetMeterProvider(mp)
		closers = append(closers, mp.Shutdown)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return shutdown, nil
}

func newTracerProvider(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	var exporter sdktrace.SpanExporter
	switch cfg.TraceExporter {
	case "otlp":
		conn, err := grpc.NewClient(cfg.OTLPEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, noop, fmt.Errorf("dial collector %s: %w", cfg.OTLPEndpoint, err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			_ = conn.Close()
			return nil, noop, fmt.Errorf("create otlp exporter: %w", err)
		}
		exporter = exp
		noop = func(context.Context) error { return conn.Close() }

	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, noop, fmt.Errorf("create stdout exporter: %w", err)
		}
		exporter = exp

	default:
		return nil, noop, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	return tp, noop, nil
}

func newMeterProvider(cfg config.TelemetryConfig, res *resource.Resource, reg prometheus.Registerer) (*metric.MeterProvider, error) {
	switch cfg.MetricExporter {
	case "prometheus":
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		return metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(exporter)), nil

	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(metric.NewPeriodicReader(exporter)),
		), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.MetricExporter)
	}
}
