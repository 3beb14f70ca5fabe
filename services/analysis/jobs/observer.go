// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jobs

import "log/slog"

// Observer is told about every status transition and persistence attempt.
// Calls happen on the goroutine that made the change, after the store
// committed it, so implementations must not block.
type Observer interface {
	JobTransition(job Job, from Status)
	JobSaved(job Job, inserted bool)
}

type observers struct {
	list   []Observer
	logger *slog.Logger
}

func (o observers) transition(job Job, from Status) {
	for _, obs := range o.list {
		o.safe(func() { obs.JobTransition(job, from) })
	}
}

func (o observers) saved(job Job, inserted bool) {
	for _, obs := range o.list {
		o.safe(func() { obs.JobSaved(job, inserted) })
	}
}

// safe keeps a faulty observer from taking down a worker.
func (o observers) safe(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("job observer panicked", slog.Any("panic", r))
		}
	}()
	fn()
}
