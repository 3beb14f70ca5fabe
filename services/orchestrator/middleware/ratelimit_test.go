// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimit_RejectsBeyondBurst(t *testing.T) {
	// Arrange
	rejected := 0
	router := gin.New()
	router.Use(RateLimit(rate.NewLimiter(rate.Every(time.Hour), 2), func() { rejected++ }))
	router.POST("/v1/analyze", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	// Act
	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for range 3 {
		last = httptest.NewRecorder()
		router.ServeHTTP(last, httptest.NewRequest(http.MethodPost, "/v1/analyze", nil))
		codes = append(codes, last.Code)
	}

	// Assert
	assert.Equal(t, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 1, rejected)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"too many requests"}`, last.Body.String())
}

func TestRateLimit_ZeroBurstLimiter(t *testing.T) {
	router := gin.New()
	router.Use(RateLimit(rate.NewLimiter(1, 0), nil))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, NewLimiter(0, 10))

	l := NewLimiter(5, 0)
	if assert.NotNil(t, l) {
		assert.Equal(t, 1, l.Burst())
		assert.Equal(t, rate.Limit(5), l.Limit())
	}
}
