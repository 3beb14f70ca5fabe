// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability defines the Prometheus collectors of the analysis
// service.
//
// # Usage
//
//	m := observability.NewMetrics(prometheus.DefaultRegisterer)
//	jobsCfg.Observers = append(jobsCfg.Observers, m)
//	stageOpts.Observer = m
//	router.Use(m.Middleware())
//
// Tests pass a private prometheus.NewRegistry() so collectors never clash.
package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/inocula/services/analysis/collaborators"
	"github.com/AleutianAI/inocula/services/analysis/jobs"
)

const metricsNamespace = "inocula"

const (
	jobsSubsystem          = "jobs"
	collaboratorsSubsystem = "collaborators"
	httpSubsystem          = "http"
	quickSubsystem         = "quick_scan"
)

// Save outcomes used as the "result" label of records_saved_total.
const (
	SaveInserted = "inserted"
	SaveExisting = "existing"
	SaveFailed   = "failed"
)

// Metrics holds every collector. It implements jobs.Observer and
// collaborators.Observer.
type Metrics struct {
	// TransitionsTotal counts job status changes by target status.
	TransitionsTotal *prometheus.CounterVec

	// JobDurationSeconds observes terminal jobs by final status and route.
	JobDurationSeconds *prometheus.HistogramVec

	// RecordsSavedTotal counts persistence attempts by outcome.
	RecordsSavedTotal *prometheus.CounterVec

	// DegradedJobsTotal counts succeeded jobs that absorbed a collaborator failure.
	DegradedJobsTotal prometheus.Counter

	CollaboratorCallsTotal    *prometheus.CounterVec
	CollaboratorLatencySecond *prometheus.HistogramVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPDurationSeconds *prometheus.HistogramVec
	RateLimitedTotal    prometheus.Counter

	// QuickScansTotal counts quick scans by outcome (complete, detailed_pending).
	QuickScansTotal *prometheus.CounterVec

	reg prometheus.Registerer
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: jobsSubsystem,
				Name:      "transitions_total",
				Help:      "Job status transitions by target status",
			},
			[]string{"status"},
		),
		JobDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: jobsSubsystem,
				Name:      "duration_seconds",
				Help:      "Wall time of finished jobs",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status", "route"},
		),
		RecordsSavedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: jobsSubsystem,
				Name:      "records_saved_total",
				Help:      "Analysis record persistence attempts by outcome",
			},
			[]string{"result"},
		),
		DegradedJobsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: jobsSubsystem,
				Name:      "degraded_total",
				Help:      "Succeeded jobs with at least one failed collaborator call",
			},
		),
		CollaboratorCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: collaboratorsSubsystem,
				Name:      "calls_total",
				Help:      "Collaborator calls by collaborator and failure kind (ok on success)",
			},
			[]string{"collaborator", "kind"},
		),
		CollaboratorLatencySecond: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: collaboratorsSubsystem,
				Name:      "call_duration_seconds",
				Help:      "Collaborator call latency",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"collaborator"},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "requests_total",
				Help:      "HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),
		HTTPDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		RateLimitedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "rate_limited_total",
				Help:      "Submissions rejected by the intake limiter",
			},
		),
		QuickScansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: quickSubsystem,
				Name:      "total",
				Help:      "Quick scans by outcome",
			},
			[]string{"outcome"},
		),
		reg: reg,
	}
}

// RegisterQueueDepth exposes depth as the jobs_queue_depth gauge.
func (m *Metrics) RegisterQueueDepth(depth func() int) {
	promauto.With(m.reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: jobsSubsystem,
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker",
		},
		func() float64 { return float64(depth()) },
	)
}

// JobTransition implements jobs.Observer.
func (m *Metrics) JobTransition(job jobs.Job, _ jobs.Status) {
	m.TransitionsTotal.WithLabelValues(string(job.Status)).Inc()
	if !job.Status.Terminal() {
		return
	}
	route := job.Route
	if route == "" {
		route = "none"
	}
	if d := job.Duration(); d > 0 {
		m.JobDurationSeconds.WithLabelValues(string(job.Status), route).Observe(d.Seconds())
	}
	if job.Status == jobs.StatusSucceeded && len(job.Degraded) > 0 {
		m.DegradedJobsTotal.Inc()
	}
}

// JobSaved implements jobs.Observer.
func (m *Metrics) JobSaved(job jobs.Job, inserted bool) {
	switch {
	case job.SaveStatus == jobs.SaveFailed:
		m.RecordsSavedTotal.WithLabelValues(SaveFailed).Inc()
	case inserted:
		m.RecordsSavedTotal.WithLabelValues(SaveInserted).Inc()
	default:
		m.RecordsSavedTotal.WithLabelValues(SaveExisting).Inc()
	}
}

// ObserveCollaborator implements collaborators.Observer.
func (m *Metrics) ObserveCollaborator(name string, kind collaborators.Kind, d time.Duration) {
	label := string(kind)
	if label == "" {
		label = "ok"
	}
	m.CollaboratorCallsTotal.WithLabelValues(name, label).Inc()
	m.CollaboratorLatencySecond.WithLabelValues(name).Observe(d.Seconds())
}

// ObserveQuickScan counts one quick scan by its response status.
func (m *Metrics) ObserveQuickScan(outcome string) {
	m.QuickScansTotal.WithLabelValues(outcome).Inc()
}

// Middleware records request counts and latency under the matched route
// template, so /v1/analyze/:job_id stays one series.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDurationSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

var (
	_ jobs.Observer          = (*Metrics)(nil)
	_ collaborators.Observer = (*Metrics)(nil)
)
