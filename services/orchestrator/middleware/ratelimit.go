// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware holds gin middleware of the analysis service.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/inocula/services/orchestrator/datatypes"
)

// RateLimit rejects requests beyond limiter's budget with 429.
//
// # Description
//
// One limiter is shared by every route the middleware is attached to, so it
// bounds the total intake rate rather than a per-client rate. A rejected
// request gets a Retry-After header with the whole seconds until a token is
// available, and onReject (if non-nil) is called.
func RateLimit(limiter *rate.Limiter, onReject func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		r := limiter.Reserve()
		if !r.OK() {
			reject(c, time.Second, onReject)
			return
		}
		if delay := r.Delay(); delay > 0 {
			r.Cancel()
			reject(c, delay, onReject)
			return
		}
		c.Next()
	}
}

func reject(c *gin.Context, wait time.Duration, onReject func()) {
	if onReject != nil {
		onReject()
	}
	secs := int(math.Ceil(wait.Seconds()))
	c.Header("Retry-After", strconv.Itoa(max(secs, 1)))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, datatypes.ErrorResponse{Error: "too many requests"})
}

// NewLimiter builds a limiter for perSecond sustained requests. A zero rate
// returns nil, meaning no limit.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
}
