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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/inocula/services/analysis/jobs"
	"github.com/AleutianAI/inocula/services/analysis/records"
	"github.com/AleutianAI/inocula/services/analysis/rules"
	"github.com/AleutianAI/inocula/services/orchestrator/datatypes"
)

// HandleSubmit accepts text for full analysis and answers 202 with the job id.
//
// # Description
//
// Submission never waits for the pipeline: the job is queued and the
// caller polls GET /v1/analyze/:job_id or subscribes to its websocket.
//
// # Outputs
//
//   - 202 SubmitResponse
//   - 400 blank or oversized text
//   - 503 queue full or shutting down
func HandleSubmit(svc JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AnalyzeRequest
		if !bindJSON(c, &req) {
			return
		}
		id, err := svc.Submit(c.Request.Context(), req.Text)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, datatypes.SubmitResponse{JobID: id, Status: jobs.StatusPending})
	}
}

// HandleStatus returns the job snapshot. Polling a succeeded job persists its
// record the first time; later polls return the same record id.
func HandleStatus(svc JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := svc.Status(c.Request.Context(), c.Param("job_id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// HandleQuickScan scores text with the heuristic rules and answers at once.
//
// # Description
//
// A score inside the uncertain band also queues a full analysis: the
// response then has status detailed_pending, the job id, and an extra
// reason saying so. If that submission fails the quick verdict is still
// returned with status quick_analysis_complete.
//
// Every verdict is saved to history with its quick scan status. A failed
// save is logged and the verdict is returned without a record id.
func HandleQuickScan(engine *rules.Engine, svc JobService, recs records.Store, obs QuickScanObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AnalyzeRequest
		if !bindJSON(c, &req) {
			return
		}

		res := engine.Scan(req.Text)
		resp := datatypes.QuickScanResponse{
			Status:  rules.StatusComplete,
			Score:   res.Score,
			Reasons: res.Reasons,
		}

		if res.Uncertain {
			id, err := svc.Submit(c.Request.Context(), req.Text)
			if err != nil {
				slog.Warn("Quick scan could not queue detailed analysis", "score", res.Score, "error", err)
			} else {
				resp.Status = rules.StatusDetailedPending
				resp.JobID = id
				resp.Reasons = append(resp.Reasons, rules.UncertainReason)
			}
		}

		if recs != nil {
			rec := records.NewQuick(req.Text, resp.Status, resp.Score, resp.Reasons, resp.JobID)
			if _, _, err := recs.InsertOnce(c.Request.Context(), rec); err != nil {
				slog.Error("Failed to save quick scan", "status", resp.Status, "error", err)
			} else {
				resp.RecordID = rec.RecordID
			}
		}

		if obs != nil {
			obs.ObserveQuickScan(resp.Status)
		}
		c.JSON(http.StatusOK, resp)
	}
}
