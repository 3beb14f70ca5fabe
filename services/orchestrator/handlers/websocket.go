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
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/inocula/services/analysis/jobs"
	"github.com/AleutianAI/inocula/services/orchestrator/datatypes"
)

// DefaultStreamInterval is how often a status stream re-reads its job.
const DefaultStreamInterval = 500 * time.Millisecond

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
}

// HandleStatusStream pushes job snapshots over a websocket until the job is
// terminal.
//
// # Description
//
// An unknown job id is answered with a plain 404 before the upgrade. After
// the upgrade a snapshot is sent on every status change, the last one being
// the terminal snapshot with the persisted record id. The server then closes
// the socket with a normal closure. Each re-read goes through Status, so a
// stream counts as a poll for persistence.
//
// # Limitations
//
//   - Changes between two reads collapse into one message.
//   - Messages from the client are read and discarded.
func HandleStatusStream(svc JobService, interval time.Duration) gin.HandlerFunc {
	if interval <= 0 {
		interval = DefaultStreamInterval
	}
	return func(c *gin.Context) {
		id := c.Param("job_id")
		ctx := c.Request.Context()

		job, err := svc.Status(ctx, id)
		if err != nil {
			writeError(c, err)
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("Failed to upgrade status stream", "job_id", id, "error", err)
			return
		}
		defer ws.Close()

		// Reading is required to process control frames and notice a
		// client that went away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := ws.NextReader(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var sent jobs.Status
		for {
			if job.Status != sent {
				if err := writeJSON(ws, job); err != nil {
					return
				}
				sent = job.Status
			}
			if job.Status.Terminal() {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
					time.Now().Add(wsWriteTimeout))
				return
			}

			select {
			case <-gone:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			job, err = svc.Status(ctx, id)
			if err != nil {
				_ = writeJSON(ws, datatypes.ErrorResponse{Error: err.Error()})
				return
			}
		}
	}
}

func writeJSON(ws *websocket.Conn, v any) error {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := ws.WriteJSON(v); err != nil {
		slog.Warn("Failed to write status stream message", "error", err)
		return err
	}
	return nil
}
