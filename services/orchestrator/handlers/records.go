// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/inocula/services/analysis/records"
	"github.com/AleutianAI/inocula/services/analysis/reports"
	"github.com/AleutianAI/inocula/services/orchestrator/datatypes"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// listLimit reads ?limit=, clamped to [1, maxListLimit].
func listLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return min(n, maxListLimit)
}

// ListRecords returns persisted analyses, newest first.
func ListRecords(store records.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		recs, err := store.List(c.Request.Context(), listLimit(c))
		if err != nil {
			writeError(c, err)
			return
		}
		if recs == nil {
			recs = []records.Record{}
		}
		c.JSON(http.StatusOK, gin.H{"records": recs})
	}
}

// GetRecord returns one persisted analysis.
func GetRecord(store records.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := store.Get(c.Request.Context(), c.Param("record_id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// =============================================================================
// Reports
// =============================================================================

// CreateReport files a user report against an existing record.
func CreateReport(recs records.Store, store ReportStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ReportRequest
		if !bindJSON(c, &req) {
			return
		}
		ctx := c.Request.Context()
		recordID := c.Param("record_id")
		if _, err := recs.Get(ctx, recordID); err != nil {
			writeError(c, err)
			return
		}
		rep, err := store.Create(ctx, recordID, req.Comment)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, rep)
	}
}

// UpdateReportStatus moves a report to escalated or resolved. Moves the
// workflow does not allow are answered with 409.
func UpdateReportStatus(store ReportStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ReportStatusRequest
		if !bindJSON(c, &req) {
			return
		}
		status, err := req.ParsedStatus()
		if err != nil {
			writeError(c, err)
			return
		}
		rep, err := store.UpdateStatus(c.Request.Context(), c.Param("report_id"), status)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rep)
	}
}

// ListReports returns reports newest first, optionally filtered by ?status=.
func ListReports(store ReportStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var status reports.Status
		if raw := c.Query("status"); raw != "" {
			st, err := reports.ParseStatus(raw)
			if err != nil {
				writeError(c, err)
				return
			}
			status = st
		}
		list, err := store.List(c.Request.Context(), status, listLimit(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reports": list})
	}
}

// GetAnalytics returns report counts per status and per day.
func GetAnalytics(store ReportStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := store.Analytics(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, a)
	}
}
