// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive exports analysis records as JSON Lines, locally or to a
// Google Cloud Storage bucket.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/inocula/services/analysis/records"
)

// WriteJSONL writes one record per line and returns the number written.
func WriteJSONL(w io.Writer, recs []records.Record) (int, error) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return i, fmt.Errorf("encode record %s: %w", rec.RecordID, err)
		}
	}
	return len(recs), nil
}

// ObjectName is the default export object name for t.
func ObjectName(prefix string, t time.Time) string {
	return path.Join(prefix, "records-"+t.UTC().Format("20060102T150405Z")+".jsonl")
}

// ExportFile writes recs to a local file, replacing it.
func ExportFile(localPath string, recs []records.Record) (int, error) {
	f, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file %s: %w", localPath, err)
	}
	n, werr := WriteJSONL(f, recs)
	if cerr := f.Close(); werr == nil && cerr != nil {
		werr = fmt.Errorf("failed to close export file %s: %w", localPath, cerr)
	}
	return n, werr
}

// GCSConfig selects the bucket and credentials.
type GCSConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`

	// CredentialsFile is a service account key. Empty uses application
	// default credentials.
	CredentialsFile string `yaml:"credentials_file"`

	// Endpoint overrides the API endpoint, for emulators. Authentication is
	// disabled when set.
	Endpoint string `yaml:"endpoint"`
}

type objectOpener func(ctx context.Context, bucket, object string) io.WriteCloser

// GCSExporter uploads record exports to a bucket.
type GCSExporter struct {
	cfg    GCSConfig
	client *storage.Client
	open   objectOpener
	now    func() time.Time
}

// NewGCSExporter creates a storage client for cfg.
func NewGCSExporter(ctx context.Context, cfg GCSConfig) (*GCSExporter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	var opts []option.ClientOption
	switch {
	case cfg.Endpoint != "":
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	case cfg.CredentialsFile != "":
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at path %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	e := newExporter(cfg, func(ctx context.Context, bucket, object string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = "application/x-ndjson"
		w.CacheControl = "no-cache, no-store, must-revalidate"
		return w
	})
	e.client = client
	return e, nil
}

func newExporter(cfg GCSConfig, open objectOpener) *GCSExporter {
	return &GCSExporter{cfg: cfg, open: open, now: time.Now}
}

// Export uploads recs as one JSONL object and returns its gs:// URI.
func (e *GCSExporter) Export(ctx context.Context, recs []records.Record) (string, error) {
	object := ObjectName(e.cfg.Prefix, e.now())
	w := e.open(ctx, e.cfg.Bucket, object)
	n, err := WriteJSONL(w, recs)
	if err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to upload to gs://%s/%s: %w", e.cfg.Bucket, object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer for %s: %w", object, err)
	}
	uri := fmt.Sprintf("gs://%s/%s", e.cfg.Bucket, object)
	slog.Info("records exported", "uri", uri, "count", n)
	return uri, nil
}

// Close releases the storage client.
func (e *GCSExporter) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}
