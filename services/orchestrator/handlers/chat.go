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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/inocula/services/orchestrator/datatypes"
)

// HandleChat answers a follow-up question about a persisted analysis.
//
// A generator failure is not an HTTP error: the fixed apology is returned
// with degraded set. An unknown record is a 404.
func HandleChat(asker Asker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ChatRequest
		if !bindJSON(c, &req) {
			return
		}
		ans, err := asker.Ask(c.Request.Context(), req.RecordID, req.Question)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.ChatResponse{
			RecordID: ans.RecordID,
			Answer:   ans.Answer,
			Degraded: ans.Degraded != nil,
		})
	}
}
