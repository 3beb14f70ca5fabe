// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trends records finished jobs as InfluxDB time series and reads
// aggregate trust-score trends back.
package trends

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/inocula/services/analysis/jobs"
)

// Config describes the InfluxDB target.
type Config struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"-"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`

	// Measurement defaults to "analysis_jobs".
	Measurement string `yaml:"measurement"`

	BufferSize    int           `yaml:"buffer_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) applyDefaults() {
	if c.Measurement == "" {
		c.Measurement = "analysis_jobs"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Bucket is one aggregation window.
type Bucket struct {
	Time      time.Time `json:"time"`
	MeanScore float64   `json:"mean_score"`
}

// Sink is a jobs.Observer that writes one point per finished job.
//
// Points are buffered and written by Run. When the buffer is full new
// points are dropped and counted.
type Sink struct {
	writer api.WriteAPIBlocking
	reader api.QueryAPI
	cfg    Config
	points chan *write.Point

	dropped atomic.Int64
}

// NewSink creates a Sink over the given APIs. reader may be nil, in which
// case Hourly fails.
func NewSink(writer api.WriteAPIBlocking, reader api.QueryAPI, cfg Config) *Sink {
	cfg.applyDefaults()
	return &Sink{
		writer: writer,
		reader: reader,
		cfg:    cfg,
		points: make(chan *write.Point, cfg.BufferSize),
	}
}

// Dial connects to InfluxDB and returns a Sink and a function that closes
// the client.
func Dial(cfg Config) (*Sink, func(), error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, nil, fmt.Errorf("trends: url, org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	sink := NewSink(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), client.QueryAPI(cfg.Org), cfg)
	return sink, client.Close, nil
}

// Dropped is the number of points lost to a full buffer.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// JobTransition implements jobs.Observer. Only terminal transitions are
// recorded.
func (s *Sink) JobTransition(job jobs.Job, _ jobs.Status) {
	if !job.Status.Terminal() {
		return
	}
	p := s.point(job)
	select {
	case s.points <- p:
	default:
		s.dropped.Add(1)
	}
}

// JobSaved implements jobs.Observer. Persistence is not a trend signal.
func (s *Sink) JobSaved(jobs.Job, bool) {}

func (s *Sink) point(job jobs.Job) *write.Point {
	route := job.Route
	if route == "" {
		route = "none"
	}
	tags := map[string]string{
		"status":   string(job.Status),
		"route":    route,
		"degraded": strconv.FormatBool(len(job.Degraded) > 0),
	}
	fields := map[string]interface{}{
		"duration_ms": job.Duration().Milliseconds(),
	}
	if job.Result != nil {
		fields["trust_score"] = job.Result.Score
		fields["reasons"] = len(job.Result.Reasons)
	}
	ts := job.FinishedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return influxdb2.NewPoint(s.cfg.Measurement, tags, fields, ts)
}

// Run writes buffered points until ctx is done, then flushes what is left.
func (s *Sink) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*write.Point, 0, s.cfg.BatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := s.writer.WritePoint(ctx, batch...); err != nil {
			s.cfg.Logger.Error("failed to write trend points", "count", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case p := <-s.points:
					batch = append(batch, p)
				default:
					break drain
				}
			}
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			flush(drainCtx)
			cancel()
			return nil
		case p := <-s.points:
			batch = append(batch, p)
			if len(batch) >= s.cfg.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

// HourlyQuery renders the Flux query behind Hourly.
func (s *Sink) HourlyQuery(window time.Duration) string {
	hours := int(window.Hours())
	if hours < 1 {
		hours = 1
	}
	return fmt.Sprintf(`
		from(bucket: %q)
		  |> range(start: -%dh)
		  |> filter(fn: (r) => r._measurement == %q and r._field == "trust_score" and r.status == "succeeded")
		  |> group()
		  |> aggregateWindow(every: 1h, fn: mean, createEmpty: false)
		  |> sort(columns: ["_time"], desc: false)
	`, s.cfg.Bucket, hours, s.cfg.Measurement)
}

// Hourly returns the mean trust score per hour over the last window.
func (s *Sink) Hourly(ctx context.Context, window time.Duration) ([]Bucket, error) {
	if s.reader == nil {
		return nil, fmt.Errorf("trends: no query API configured")
	}
	result, err := s.reader.Query(ctx, s.HourlyQuery(window))
	if err != nil {
		return nil, fmt.Errorf("trends: query failed: %w", err)
	}
	out := make([]Bucket, 0)
	if result == nil {
		return out, nil
	}
	defer result.Close()
	for result.Next() {
		if b, ok := bucketFromRecord(result.Record()); ok {
			out = append(out, b)
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("trends: read result: %w", err)
	}
	return out, nil
}

func bucketFromRecord(rec *query.FluxRecord) (Bucket, bool) {
	switch v := rec.Value().(type) {
	case float64:
		return Bucket{Time: rec.Time(), MeanScore: v}, true
	case int64:
		return Bucket{Time: rec.Time(), MeanScore: float64(v)}, true
	default:
		return Bucket{}, false
	}
}

var _ jobs.Observer = (*Sink)(nil)
