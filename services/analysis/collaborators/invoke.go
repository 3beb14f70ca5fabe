// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collaborators

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Observer receives the outcome of every guarded call. Kind is empty on success.
type Observer interface {
	ObserveCollaborator(name string, kind Kind, duration time.Duration)
}

// Guard is the call policy shared by all collaborator calls of a stage.
type Guard struct {
	// Timeout bounds one call. Zero means the caller's deadline only.
	Timeout time.Duration

	Logger   *slog.Logger
	Observer Observer
}

// Invoke runs fn under g and classifies any failure.
//
// Description:
//
//	Applies g.Timeout, recovers a panic inside fn as KindPanic and maps the
//	returned error with Classify. The failure is logged at warn level. The
//	zero T is returned alongside any *Error.
//
// Inputs:
//
//	ctx - Parent context; its cancellation is honored.
//	g - Call policy.
//	name - Collaborator name used in logs, metrics and the error.
//	fn - The actual call.
//
// Outputs:
//
//	T - fn's result on success.
//	*Error - nil on success.
func Invoke[T any](ctx context.Context, g Guard, name string, fn func(ctx context.Context) (T, error)) (result T, cerr *Error) {
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}

	callCtx := ctx
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			cerr = &Error{Collaborator: name, Kind: KindPanic, Err: fmt.Errorf("panic: %v", r)}
		}

		var kind Kind
		if cerr != nil {
			kind = cerr.Kind
			logger.Warn("Collaborator call failed",
				"collaborator", name,
				"kind", string(cerr.Kind),
				"duration_ms", time.Since(start).Milliseconds(),
				"error", cerr.Err)
		}
		if g.Observer != nil {
			g.Observer.ObserveCollaborator(name, kind, time.Since(start))
		}
	}()

	out, err := fn(callCtx)
	if err != nil {
		// A deadline on callCtx that the parent does not share is our own timeout.
		if callCtx.Err() != nil && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		var zero T
		return zero, Classify(name, err)
	}
	return out, nil
}
