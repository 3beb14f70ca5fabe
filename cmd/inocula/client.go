// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/inocula/services/analysis/jobs"
	"github.com/AleutianAI/inocula/services/analysis/memory"
	"github.com/AleutianAI/inocula/services/analysis/records"
	"github.com/AleutianAI/inocula/services/orchestrator/datatypes"
)

// pollInterval is used when the status stream is unavailable.
const pollInterval = 500 * time.Millisecond

// apiError is a non-2xx answer from the orchestrator.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// apiClient talks to the orchestrator's /v1 API.
type apiClient struct {
	base       string
	httpClient *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base:       strings.TrimSuffix(base, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		var e datatypes.ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *apiClient) Submit(ctx context.Context, text string) (datatypes.SubmitResponse, error) {
	var out datatypes.SubmitResponse
	err := c.do(ctx, http.MethodPost, "/v1/analyze", datatypes.AnalyzeRequest{Text: text}, &out)
	return out, err
}

func (c *apiClient) QuickScan(ctx context.Context, text string) (datatypes.QuickScanResponse, error) {
	var out datatypes.QuickScanResponse
	err := c.do(ctx, http.MethodPost, "/v1/analyze/quick", datatypes.AnalyzeRequest{Text: text}, &out)
	return out, err
}

func (c *apiClient) Job(ctx context.Context, id string) (jobs.Job, error) {
	var out jobs.Job
	err := c.do(ctx, http.MethodGet, "/v1/analyze/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Wait blocks until job id reaches a terminal status. It follows the
// websocket stream and falls back to polling when the stream cannot be
// opened. The final snapshot is always fetched with a plain GET so that the
// server persists the record.
func (c *apiClient) Wait(ctx context.Context, id string) (jobs.Job, error) {
	if err := c.stream(ctx, id); err != nil {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			job, err := c.Job(ctx, id)
			if err != nil {
				return jobs.Job{}, err
			}
			if job.Status.Terminal() {
				return job, nil
			}
			select {
			case <-ctx.Done():
				return jobs.Job{}, ctx.Err()
			case <-ticker.C:
			}
		}
	}
	return c.Job(ctx, id)
}

// stream returns nil once the server reports a terminal status.
func (c *apiClient) stream(ctx context.Context, id string) error {
	u, err := url.Parse(c.base + "/v1/analyze/" + url.PathEscape(id) + "/ws")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var job jobs.Job
		if err := conn.ReadJSON(&job); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if job.Status.Terminal() {
			return nil
		}
	}
}

func (c *apiClient) AddMemory(ctx context.Context, text, label string) error {
	return c.do(ctx, http.MethodPost, "/v1/memory", datatypes.MemoryRequest{Text: text, Label: label}, nil)
}

func (c *apiClient) QueryMemory(ctx context.Context, text string) (memory.Match, error) {
	var out memory.Match
	err := c.do(ctx, http.MethodGet, "/v1/memory?text="+url.QueryEscape(text), nil, &out)
	return out, err
}

func (c *apiClient) Records(ctx context.Context, limit int) ([]records.Record, error) {
	var out struct {
		Records []records.Record `json:"records"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/records?limit="+strconv.Itoa(limit), nil, &out)
	return out.Records, err
}

func (c *apiClient) Chat(ctx context.Context, recordID, question string) (datatypes.ChatResponse, error) {
	var out datatypes.ChatResponse
	err := c.do(ctx, http.MethodPost, "/v1/chat", datatypes.ChatRequest{RecordID: recordID, Question: question}, &out)
	return out, err
}
