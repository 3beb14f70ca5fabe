// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads inocula.yaml, applies defaults and environment
// overrides, and watches the file so stage thresholds can be tuned without a
// restart.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/inocula/pkg/logging"
	"github.com/AleutianAI/inocula/services/analysis/archive"
	"github.com/AleutianAI/inocula/services/analysis/jobs"
	"github.com/AleutianAI/inocula/services/analysis/memory"
	"github.com/AleutianAI/inocula/services/analysis/stages"
	"github.com/AleutianAI/inocula/services/analysis/trends"
	"github.com/AleutianAI/inocula/services/llm"
)

// DefaultPath is used when neither a flag nor INOCULA_CONFIG names a file.
const DefaultPath = "inocula.yaml"

// Memory backends.
const (
	MemoryFlat     = "flat"
	MemoryWeaviate = "weaviate"
)

// Embedding providers.
const (
	EmbedderHashing = "hashing"
	EmbedderService = "service"
	EmbedderOpenAI  = "openai"
	EmbedderGemini  = "gemini"
)

// Config is the full service configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       logging.Config      `yaml:"logging"`
	Storage       StorageConfig       `yaml:"storage"`
	Jobs          jobs.Config         `yaml:"jobs"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Memory        MemoryConfig        `yaml:"memory"`
	Collaborators CollaboratorsConfig `yaml:"collaborators"`
	Generator     llm.Config          `yaml:"generator"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`

	// Trends is disabled when URL is empty.
	Trends trends.Config `yaml:"trends"`

	// Archive is disabled when Bucket is empty.
	Archive archive.GCSConfig `yaml:"archive"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RateLimit is the sustained number of submissions per second accepted
	// on the analyze endpoints. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// StorageConfig locates the embedded database.
type StorageConfig struct {
	// Path is the badger directory. Empty keeps everything in memory.
	Path string `yaml:"path"`

	// PersistJobs keeps job state in badger instead of process memory.
	PersistJobs bool `yaml:"persist_jobs"`
}

// PipelineConfig tunes the stages.
type PipelineConfig struct {
	StageTimeout time.Duration      `yaml:"stage_timeout"`
	CallTimeout  time.Duration      `yaml:"call_timeout"`
	ExplainMode  stages.ExplainMode `yaml:"explain_mode"`
	Thresholds   stages.Thresholds  `yaml:"thresholds"`
}

// MemoryConfig selects the similarity memory.
type MemoryConfig struct {
	Backend     string  `yaml:"backend"`
	WeaviateURL string  `yaml:"weaviate_url"`
	Threshold   float64 `yaml:"threshold"`

	Embedder      string `yaml:"embedder"`
	EmbedderURL   string `yaml:"embedder_url"`
	EmbedderModel string `yaml:"embedder_model"`
	HashingDim    int    `yaml:"hashing_dim"`

	// Seeds are loaded at startup. Nil loads memory.DefaultSeeds; an empty
	// list loads nothing.
	Seeds []memory.Seed `yaml:"seeds"`
}

// CollaboratorsConfig points at the classifier and fact-lookup services.
type CollaboratorsConfig struct {
	HFBaseURL     string        `yaml:"hf_base_url"`
	ToxicityModel string        `yaml:"toxicity_model"`
	EmotionModel  string        `yaml:"emotion_model"`
	ZeroShotModel string        `yaml:"zero_shot_model"`
	HFRetryMax    time.Duration `yaml:"hf_retry_max"`

	WikipediaAPIURL  string `yaml:"wikipedia_api_url"`
	WikipediaRESTURL string `yaml:"wikipedia_rest_url"`
}

// TelemetryConfig selects the OpenTelemetry exporters.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`

	// TraceExporter is otlp, stdout or none.
	TraceExporter string `yaml:"trace_exporter"`

	// MetricExporter is prometheus, stdout or none. The prometheus exporter
	// publishes pipeline metrics on /metrics next to the service collectors.
	MetricExporter string `yaml:"metric_exporter"`

	// OTLPEndpoint is the collector's gRPC host:port.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Load reads path and returns the resulting configuration.
//
// # Description
//
// A missing file is not an error: the defaults plus environment overrides
// are returned. Unknown keys are rejected so that typos do not silently
// fall back to defaults.
//
// # Outputs
//
//   - Config: defaults applied, overrides applied, validated
//   - error: unreadable file, bad YAML or failed validation
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if cfg, err = Parse(data); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg = applyConfigDefaults(applyEnv(cfg, os.LookupEnv))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML without applying defaults.
func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Path resolves the config file location from a flag value and INOCULA_CONFIG.
func Path(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("INOCULA_CONFIG"); env != "" {
		return env
	}
	return DefaultPath
}

// applyConfigDefaults fills every zero field.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":12210"
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst <= 0 {
		cfg.Server.RateBurst = max(1, int(cfg.Server.RateLimit))
	}
	if cfg.Logging.Service == "" {
		cfg.Logging.Service = "inocula"
	}

	def := jobs.DefaultConfig()
	if cfg.Jobs.Workers <= 0 {
		cfg.Jobs.Workers = def.Workers
	}
	if cfg.Jobs.QueueSize <= 0 {
		cfg.Jobs.QueueSize = def.QueueSize
	}
	if cfg.Jobs.JobTimeout <= 0 {
		cfg.Jobs.JobTimeout = def.JobTimeout
	}
	if cfg.Jobs.MaxTextBytes <= 0 {
		cfg.Jobs.MaxTextBytes = def.MaxTextBytes
	}
	if cfg.Jobs.PersistMode == "" {
		cfg.Jobs.PersistMode = def.PersistMode
	}
	if cfg.Jobs.Retention <= 0 {
		cfg.Jobs.Retention = def.Retention
	}
	if cfg.Jobs.SweepInterval <= 0 {
		cfg.Jobs.SweepInterval = def.SweepInterval
	}

	if cfg.Pipeline.StageTimeout <= 0 {
		cfg.Pipeline.StageTimeout = 90 * time.Second
	}
	if cfg.Pipeline.CallTimeout <= 0 {
		cfg.Pipeline.CallTimeout = 30 * time.Second
	}
	if cfg.Pipeline.ExplainMode == "" {
		cfg.Pipeline.ExplainMode = stages.ModeSentence
	}
	if cfg.Pipeline.Thresholds == (stages.Thresholds{}) {
		cfg.Pipeline.Thresholds = stages.DefaultThresholds()
	}

	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = MemoryFlat
	}
	if cfg.Memory.Threshold <= 0 {
		cfg.Memory.Threshold = memory.DefaultThreshold
	}
	if cfg.Memory.Embedder == "" {
		cfg.Memory.Embedder = EmbedderHashing
	}
	if cfg.Memory.HashingDim <= 0 {
		cfg.Memory.HashingDim = 384
	}
	if cfg.Memory.Seeds == nil {
		cfg.Memory.Seeds = memory.DefaultSeeds
	}

	if cfg.Generator.Backend == "" {
		cfg.Generator.Backend = llm.BackendGemini
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "inocula-orchestrator"
	}
	if cfg.Telemetry.Environment == "" {
		cfg.Telemetry.Environment = "development"
	}
	if cfg.Telemetry.TraceExporter == "" {
		cfg.Telemetry.TraceExporter = "none"
		if cfg.Telemetry.OTLPEndpoint != "" {
			cfg.Telemetry.TraceExporter = "otlp"
		}
	}
	if cfg.Telemetry.MetricExporter == "" {
		cfg.Telemetry.MetricExporter = "prometheus"
	}
	return cfg
}

// applyEnv overlays INOCULA_* variables. lookup is os.LookupEnv outside tests.
func applyEnv(cfg Config, lookup func(string) (string, bool)) Config {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("INOCULA_ADDR", &cfg.Server.Addr)
	str("INOCULA_LOG_LEVEL", &cfg.Logging.Level)
	str("INOCULA_DATA_DIR", &cfg.Storage.Path)
	str("INOCULA_MEMORY_BACKEND", &cfg.Memory.Backend)
	str("INOCULA_WEAVIATE_URL", &cfg.Memory.WeaviateURL)
	str("INOCULA_EMBEDDER", &cfg.Memory.Embedder)
	str("INOCULA_EMBEDDER_URL", &cfg.Memory.EmbedderURL)
	str("INOCULA_GENERATOR_BACKEND", &cfg.Generator.Backend)
	str("INOCULA_GENERATOR_BASE_URL", &cfg.Generator.BaseURL)
	str("INOCULA_HF_BASE_URL", &cfg.Collaborators.HFBaseURL)
	str("INOCULA_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	str("INOCULA_INFLUX_URL", &cfg.Trends.URL)
	str("INOCULA_INFLUX_ORG", &cfg.Trends.Org)
	str("INOCULA_INFLUX_BUCKET", &cfg.Trends.Bucket)
	str("INOCULA_GCS_BUCKET", &cfg.Archive.Bucket)
	num("INOCULA_WORKERS", &cfg.Jobs.Workers)
	num("INOCULA_QUEUE_SIZE", &cfg.Jobs.QueueSize)

	if v, ok := lookup("INOCULA_GENERATOR_MODELS"); ok && v != "" {
		cfg.Generator.Models = splitList(v)
	}
	if v, ok := lookup("INOCULA_PERSIST_MODE"); ok && v != "" {
		cfg.Jobs.PersistMode = jobs.PersistMode(v)
	}
	return cfg
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if err := c.Pipeline.Thresholds.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Pipeline.ExplainMode {
	case stages.ModeSentence, stages.ModeAdjudicate:
	default:
		errs = append(errs, fmt.Errorf("unknown explain_mode %q", c.Pipeline.ExplainMode))
	}
	switch c.Jobs.PersistMode {
	case jobs.PersistOnPoll, jobs.PersistOnCompletion:
	default:
		errs = append(errs, fmt.Errorf("unknown persist_mode %q", c.Jobs.PersistMode))
	}
	switch c.Memory.Backend {
	case MemoryFlat:
	case MemoryWeaviate:
		if c.Memory.WeaviateURL == "" {
			errs = append(errs, errors.New("memory.weaviate_url is required for the weaviate backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown memory backend %q", c.Memory.Backend))
	}
	switch c.Memory.Embedder {
	case EmbedderHashing, EmbedderOpenAI, EmbedderGemini:
	case EmbedderService:
		if c.Memory.EmbedderURL == "" {
			errs = append(errs, errors.New("memory.embedder_url is required for the service embedder"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown embedder %q", c.Memory.Embedder))
	}
	if c.Memory.Threshold > 4 {
		errs = append(errs, fmt.Errorf("memory.threshold %v exceeds the squared-L2 range of unit vectors", c.Memory.Threshold))
	}
	switch c.Telemetry.TraceExporter {
	case "none", "stdout":
	case "otlp":
		if c.Telemetry.OTLPEndpoint == "" {
			errs = append(errs, errors.New("telemetry.otlp_endpoint is required for the otlp exporter"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown trace exporter %q", c.Telemetry.TraceExporter))
	}
	switch c.Telemetry.MetricExporter {
	case "none", "stdout", "prometheus":
	default:
		errs = append(errs, fmt.Errorf("unknown metric exporter %q", c.Telemetry.MetricExporter))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	return errors.Join(errs...)
}

// Secret sources. Each key is read from the environment first and then from
// the mounted file.
type SecretSource struct {
	Name string
	Env  string
	File string
}

// GeneratorKey returns where the API key for the configured backend lives.
// Ollama needs none.
func (c Config) GeneratorKey() (SecretSource, bool) {
	switch c.Generator.Backend {
	case llm.BackendOpenAI:
		return SecretSource{"openai_api_key", "OPENAI_API_KEY", "/run/secrets/openai_api_key"}, true
	case llm.BackendAnthropic, "claude":
		return SecretSource{"anthropic_api_key", "ANTHROPIC_API_KEY", "/run/secrets/anthropic_api_key"}, true
	case llm.BackendOllama:
		return SecretSource{}, false
	default:
		return SecretSource{"gemini_api_key", "GEMINI_API_KEY", "/run/secrets/gemini_api_key"}, true
	}
}

// EmbedderKey returns where the API key for the configured embedder lives.
func (c Config) EmbedderKey() (SecretSource, bool) {
	switch c.Memory.Embedder {
	case EmbedderOpenAI:
		return SecretSource{"openai_api_key", "OPENAI_API_KEY", "/run/secrets/openai_api_key"}, true
	case EmbedderGemini:
		return SecretSource{"gemini_api_key", "GEMINI_API_KEY", "/run/secrets/gemini_api_key"}, true
	default:
		return SecretSource{}, false
	}
}

// Well-known secret sources.
var (
	HFToken     = SecretSource{"hf_token", "HF_TOKEN", "/run/secrets/hf_token"}
	InfluxToken = SecretSource{"influx_token", "INFLUX_TOKEN", "/run/secrets/influx_token"}
)
