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
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/inocula/services/analysis/memory"
	"github.com/AleutianAI/inocula/services/orchestrator/datatypes"
)

// AddMemory records an adjudicated claim so later submissions of similar
// text short-circuit to the stored verdict.
func AddMemory(mem memory.Memory) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.MemoryRequest
		if !bindJSON(c, &req) {
			return
		}
		if err := mem.Add(c.Request.Context(), req.Text, req.Label); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"id":    memory.ClaimID(req.Text),
			"text":  req.Text,
			"label": req.Label,
		})
	}
}

// QueryMemory returns the nearest known claim to ?text=, or 404 when the
// memory is empty.
func QueryMemory(mem memory.Memory) gin.HandlerFunc {
	return func(c *gin.Context) {
		text := c.Query("text")
		if text == "" {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "text is required"})
			return
		}
		m, err := mem.Query(c.Request.Context(), text)
		if err != nil {
			writeError(c, err)
			return
		}
		if m == nil {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "memory is empty"})
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

// GetTrends returns hourly mean trust scores over ?window= (default 24h,
// capped at 30 days).
func GetTrends(reader TrendReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		window := 24 * time.Hour
		if raw := c.Query("window"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "window must be a positive duration such as 6h"})
				return
			}
			window = min(d, 30*24*time.Hour)
		}
		buckets, err := reader.Hourly(c.Request.Context(), window)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"window": window.String(), "buckets": buckets})
	}
}
