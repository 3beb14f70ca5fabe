// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP endpoints of the analysis service.
//
// Each constructor takes the narrow dependency it needs and returns a
// gin.HandlerFunc. Errors are translated to status codes in one place,
// writeError, so every endpoint answers the same way for the same failure.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/inocula/services/analysis/chat"
	"github.com/AleutianAI/inocula/services/analysis/jobs"
	"github.com/AleutianAI/inocula/services/analysis/records"
	"github.com/AleutianAI/inocula/services/analysis/reports"
	"github.com/AleutianAI/inocula/services/analysis/trends"
	"github.com/AleutianAI/inocula/services/orchestrator/datatypes"
)

// JobService submits and polls analysis jobs. *jobs.Manager implements it.
type JobService interface {
	Submit(ctx context.Context, text string) (string, error)
	Status(ctx context.Context, id string) (jobs.Job, error)
}

// ReportStore is the moderation store. *reports.Store implements it.
type ReportStore interface {
	Create(ctx context.Context, recordID, comment string) (*reports.Report, error)
	UpdateStatus(ctx context.Context, reportID string, to reports.Status) (*reports.Report, error)
	List(ctx context.Context, status reports.Status, limit int) ([]reports.Report, error)
	Analytics(ctx context.Context) (*reports.Analytics, error)
}

// Asker answers follow-up questions. *chat.Service implements it.
type Asker interface {
	Ask(ctx context.Context, recordID, question string) (chat.Answer, error)
}

// TrendReader reads aggregated scores. *trends.Sink implements it.
type TrendReader interface {
	Hourly(ctx context.Context, window time.Duration) ([]trends.Bucket, error)
}

// QuickScanObserver counts quick scan outcomes. May be nil.
type QuickScanObserver interface {
	ObserveQuickScan(outcome string)
}

// writeError maps err to a status code and writes an ErrorResponse.
//
// Client errors echo the error text. Anything unrecognized is logged and
// answered with a generic 500 so storage details do not leak.
func writeError(c *gin.Context, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		slog.Error("Request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(code, datatypes.ErrorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound),
		errors.Is(err, records.ErrNotFound),
		errors.Is(err, reports.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrInvalidText),
		errors.Is(err, chat.ErrEmptyQuestion),
		errors.Is(err, reports.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, reports.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrQueueFull),
		errors.Is(err, jobs.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// bindJSON decodes and validates the body into req, answering 400 on
// failure. It reports whether the handler should continue.
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
		return false
	}
	if err := datatypes.Validate(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
		return false
	}
	return true
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
