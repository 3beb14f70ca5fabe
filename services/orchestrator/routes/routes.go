// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes registers the HTTP endpoints of the analysis service.
package routes

import (
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/inocula/services/analysis/memory"
	"github.com/AleutianAI/inocula/services/analysis/records"
	"github.com/AleutianAI/inocula/services/analysis/rules"
	"github.com/AleutianAI/inocula/services/orchestrator/handlers"
	"github.com/AleutianAI/inocula/services/orchestrator/middleware"
	"github.com/AleutianAI/inocula/services/orchestrator/observability"
)

// Deps are the components behind the endpoints.
//
// Trends, Metrics, Limiter and Gatherer are optional; their routes or
// middleware are skipped when nil.
type Deps struct {
	Jobs    handlers.JobService
	Rules   *rules.Engine
	Records records.Store
	Reports handlers.ReportStore
	Chat    handlers.Asker
	Memory  memory.Memory

	Trends   handlers.TrendReader
	Metrics  *observability.Metrics
	Limiter  *rate.Limiter
	Gatherer prometheus.Gatherer

	StreamInterval time.Duration
}

// SetupRoutes registers every endpoint on router.
//
// # Routes
//
//	GET  /health
//	GET  /metrics
//	POST /v1/analyze                      submit (rate limited)
//	POST /v1/analyze/quick                quick scan (rate limited)
//	GET  /v1/analyze/:job_id              poll
//	GET  /v1/analyze/:job_id/ws           status stream
//	POST /v1/chat                         follow-up question
//	GET  /v1/records                      history
//	GET  /v1/records/:record_id
//	POST /v1/records/:record_id/reports   file a report
//	GET  /v1/reports
//	PUT  /v1/reports/:report_id           move a report
//	GET  /v1/analytics
//	POST /v1/memory                       add a debunked claim
//	GET  /v1/memory                       nearest claim to ?text=
//	GET  /v1/trends                       hourly mean scores
func SetupRoutes(router *gin.Engine, d Deps) {
	if d.Metrics != nil {
		router.Use(d.Metrics.Middleware())
	}

	router.GET("/health", handlers.HealthCheck)
	if d.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	var intake []gin.HandlerFunc
	if d.Limiter != nil {
		var onReject func()
		if d.Metrics != nil {
			onReject = d.Metrics.RateLimitedTotal.Inc
		}
		intake = append(intake, middleware.RateLimit(d.Limiter, onReject))
	}

	var quickObs handlers.QuickScanObserver
	if d.Metrics != nil {
		quickObs = d.Metrics
	}

	v1 := router.Group("/v1")
	{
		analyze := v1.Group("/analyze")
		{
			analyze.POST("", append(slices.Clip(intake), handlers.HandleSubmit(d.Jobs))...)
			analyze.POST("/quick", append(slices.Clip(intake), handlers.HandleQuickScan(d.Rules, d.Jobs, d.Records, quickObs))...)
			analyze.GET("/:job_id", handlers.HandleStatus(d.Jobs))
			analyze.GET("/:job_id/ws", handlers.HandleStatusStream(d.Jobs, d.StreamInterval))
		}

		v1.POST("/chat", handlers.HandleChat(d.Chat))

		recs := v1.Group("/records")
		{
			recs.GET("", handlers.ListRecords(d.Records))
			recs.GET("/:record_id", handlers.GetRecord(d.Records))
			recs.POST("/:record_id/reports", handlers.CreateReport(d.Records, d.Reports))
		}

		v1.GET("/reports", handlers.ListReports(d.Reports))
		v1.PUT("/reports/:report_id", handlers.UpdateReportStatus(d.Reports))
		v1.GET("/analytics", handlers.GetAnalytics(d.Reports))

		v1.POST("/memory", handlers.AddMemory(d.Memory))
		v1.GET("/memory", handlers.QueryMemory(d.Memory))

		if d.Trends != nil {
			v1.GET("/trends", handlers.GetTrends(d.Trends))
		}
	}
}
