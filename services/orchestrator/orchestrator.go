// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the analysis service: storage, similarity
// memory, collaborators, the stage graph, the job manager and the HTTP API.
//
// # Usage
//
//	cfg, err := config.Load(config.Path(""))
//	if err != nil {
//	    return err
//	}
//	svc, err := orchestrator.New(ctx, cfg, orchestrator.Options{})
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/inocula/pkg/config"
	"github.com/AleutianAI/inocula/pkg/secrets"
	"github.com/AleutianAI/inocula/services/analysis/chat"
	"github.com/AleutianAI/inocula/services/analysis/collaborators"
	"github.com/AleutianAI/inocula/services/analysis/jobs"
	"github.com/AleutianAI/inocula/services/analysis/memory"
	"github.com/AleutianAI/inocula/services/analysis/records"
	"github.com/AleutianAI/inocula/services/analysis/reports"
	"github.com/AleutianAI/inocula/services/analysis/rules"
	"github.com/AleutianAI/inocula/services/analysis/stages"
	"github.com/AleutianAI/inocula/services/analysis/trends"
	"github.com/AleutianAI/inocula/services/llm"
	"github.com/AleutianAI/inocula/services/orchestrator/middleware"
	"github.com/AleutianAI/inocula/services/orchestrator/observability"
	"github.com/AleutianAI/inocula/services/orchestrator/routes"
	"github.com/AleutianAI/inocula/services/orchestrator/telemetry"
	store "github.com/AleutianAI/inocula/services/storage/badger"
)

// Service is a fully wired analysis service.
//
// # Thread Safety
//
// Run must be called at most once. Close is safe to call more than once and
// is called by Run on return.
type Service interface {
	// Run starts the workers, the trend sink, the config watcher and the
	// HTTP server, and blocks until ctx is cancelled or one of them fails.
	Run(ctx context.Context) error

	// Router returns the gin engine, for tests.
	Router() *gin.Engine

	// Close releases the database, telemetry providers and clients.
	Close() error
}

// Options adjust how New wires the service.
type Options struct {
	// ConfigPath enables hot reload of stage thresholds when set.
	ConfigPath string

	// Registry receives the service's collectors. Nil creates a fresh one
	// with the Go and process collectors.
	Registry *prometheus.Registry

	// Deps overrides individual collaborators. Nil fields are built from
	// the configuration.
	Deps *stages.Deps

	Logger *slog.Logger
}

type orchestrator struct {
	cfg    config.Config
	opts   Options
	logger *slog.Logger

	registry *prometheus.Registry
	metrics  *observability.Metrics
	tuning   *stages.Tuning

	db      *store.DB
	memory  memory.Memory
	deps    stages.Deps
	manager *jobs.Manager
	trends  *trends.Sink
	router  *gin.Engine
	reports *reports.Store
	records records.Store

	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

// New validates cfg and builds every component. On error everything built
// so far is released.
func New(ctx context.Context, cfg config.Config, opts Options) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := &orchestrator{
		cfg:      cfg,
		opts:     opts,
		logger:   opts.Logger,
		registry: opts.Registry,
		tuning:   stages.NewTuning(cfg.Pipeline.Thresholds),
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	if opts.Deps != nil {
		o.deps = *opts.Deps
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"telemetry", o.initTelemetry},
		{"storage", o.initStorage},
		{"memory", o.initMemory},
		{"collaborators", o.initCollaborators},
		{"generator", o.initGenerator},
		{"trends", o.initTrends},
		{"jobs", o.initJobs},
		{"router", o.initRouter},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			_ = o.Close()
			return nil, fmt.Errorf("init %s: %w", step.name, err)
		}
	}
	return o, nil
}

func (o *orchestrator) Router() *gin.Engine {
	return o.router
}

func (o *orchestrator) Close() error {
	o.closeOnce.Do(func() {
		var errs []error
		for i := len(o.closers) - 1; i >= 0; i-- {
			errs = append(errs, o.closers[i]())
		}
		o.closeErr = errors.Join(errs...)
	})
	return o.closeErr
}

func (o *orchestrator) onClose(fn func() error) {
	o.closers = append(o.closers, fn)
}

func (o *orchestrator) initTelemetry(ctx context.Context) error {
	o.metrics = observability.NewMetrics(o.registry)

	shutdown, err := telemetry.Init(ctx, o.cfg.Telemetry, o.registry)
	o.onClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})
	return err
}

func (o *orchestrator) initStorage(_ context.Context) error {
	var (
		db  *store.DB
		err error
	)
	if o.cfg.Storage.Path == "" {
		o.logger.Warn("No storage path configured, records are kept in memory only")
		db, err = store.OpenInMemory()
	} else {
		sc := store.DefaultConfig(o.cfg.Storage.Path)
		sc.Logger = o.logger
		db, err = store.Open(sc)
	}
	if err != nil {
		return err
	}
	o.db = db
	o.onClose(db.Close)

	o.records = records.NewBadgerStore(db)
	o.reports = reports.NewStore(db)
	return nil
}

func (o *orchestrator) initMemory(ctx context.Context) error {
	if o.deps.Memory != nil {
		o.memory = o.deps.Memory
		return nil
	}

	embedder, err := o.newEmbedder(ctx)
	if err != nil {
		return err
	}

	var mem memory.Memory
	switch o.cfg.Memory.Backend {
	case config.MemoryWeaviate:
		client, err := memory.NewWeaviateClient(o.cfg.Memory.WeaviateURL)
		if err != nil {
			return err
		}
		idx, err := memory.NewWeaviateIndex(ctx, client, embedder, o.logger)
		if err != nil {
			return err
		}
		mem = idx
	default:
		mem = memory.NewFlatIndex(embedder)
	}

	if err := memory.Load(ctx, mem, o.cfg.Memory.Seeds); err != nil {
		return fmt.Errorf("load seeds: %w", err)
	}
	o.logger.Info("Similarity memory ready",
		"backend", o.cfg.Memory.Backend,
		"embedder", o.cfg.Memory.Embedder,
		"seeds", len(o.cfg.Memory.Seeds),
	)
	o.memory = mem
	o.deps.Memory = mem
	return nil
}

func (o *orchestrator) newEmbedder(ctx context.Context) (memory.Embedder, error) {
	mc := o.cfg.Memory
	switch mc.Embedder {
	case config.EmbedderService:
		return memory.NewServiceEmbedder(mc.EmbedderURL), nil
	case config.EmbedderOpenAI, config.EmbedderGemini:
		src, _ := o.cfg.EmbedderKey()
		key, err := secrets.Load(src.Name, src.Env, src.File)
		if err != nil {
			return nil, err
		}
		if mc.Embedder == config.EmbedderOpenAI {
			return memory.NewOpenAIEmbedder(key, mc.EmbedderModel)
		}
		return memory.NewGeminiEmbedder(ctx, key, mc.EmbedderModel)
	default:
		return memory.NewHashingEmbedder(mc.HashingDim), nil
	}
}

func (o *orchestrator) initCollaborators(_ context.Context) error {
	cc := o.cfg.Collaborators

	if o.deps.Facts == nil {
		o.deps.Facts = collaborators.NewWikipediaLookup(collaborators.WikipediaConfig{
			APIURL:  cc.WikipediaAPIURL,
			RESTURL: cc.WikipediaRESTURL,
		})
	}

	if o.deps.Toxicity != nil && o.deps.Emotions != nil && o.deps.Fallacies != nil {
		return nil
	}
	token, err := secrets.Load(config.HFToken.Name, config.HFToken.Env, config.HFToken.File)
	if err != nil {
		o.logger.Info("No Hugging Face token found, calling the inference API anonymously")
	}
	hf, err := collaborators.NewHFClient(collaborators.HFConfig{
		BaseURL:         cc.HFBaseURL,
		Token:           token,
		ToxicityModel:   cc.ToxicityModel,
		EmotionModel:    cc.EmotionModel,
		ZeroShotModel:   cc.ZeroShotModel,
		RetryMaxElapsed: cc.HFRetryMax,
	})
	if err != nil {
		return err
	}
	if o.deps.Toxicity == nil {
		o.deps.Toxicity = hf
	}
	if o.deps.Emotions == nil {
		o.deps.Emotions = hf
	}
	if o.deps.Fallacies == nil {
		o.deps.Fallacies = hf
	}
	return nil
}

// initGenerator never fails: without a generator the explain stage and chat
// fall back to their fixed texts.
func (o *orchestrator) initGenerator(ctx context.Context) error {
	if o.deps.Generator != nil {
		return nil
	}
	gc := o.cfg.Generator
	if src, ok := o.cfg.GeneratorKey(); ok {
		key, err := secrets.Load(src.Name, src.Env, src.File)
		if err != nil {
			o.logger.Warn("Generator API key not found, explanations are disabled",
				"backend", gc.Backend, "error", err)
			return nil
		}
		gc.APIKey = key
	}
	chain, err := llm.New(ctx, gc, o.logger)
	if err != nil {
		o.logger.Warn("Failed to create generator, explanations are disabled",
			"backend", gc.Backend, "error", err)
		return nil
	}
	o.deps.Generator = chain
	return nil
}

func (o *orchestrator) initTrends(_ context.Context) error {
	tc := o.cfg.Trends
	if tc.URL == "" {
		return nil
	}
	if key, err := secrets.Load(config.InfluxToken.Name, config.InfluxToken.Env, config.InfluxToken.File); err == nil {
		token, err := key.Reveal()
		if err != nil {
			return err
		}
		tc.Token = token
	}
	tc.Logger = o.logger
	sink, closeClient, err := trends.Dial(tc)
	if err != nil {
		return err
	}
	o.onClose(func() error { closeClient(); return nil })
	o.trends = sink
	return nil
}

func (o *orchestrator) initJobs(_ context.Context) error {
	executor, err := stages.NewExecutor(o.deps, stages.Options{
		MemoryThreshold: o.cfg.Memory.Threshold,
		Tuning:          o.tuning,
		ExplainMode:     o.cfg.Pipeline.ExplainMode,
		CallTimeout:     o.cfg.Pipeline.CallTimeout,
		StageTimeout:    o.cfg.Pipeline.StageTimeout,
		Observer:        o.metrics,
		Logger:          o.logger,
	})
	if err != nil {
		return err
	}

	var js jobs.Store = jobs.NewMemoryStore()
	if o.cfg.Storage.PersistJobs {
		js = jobs.NewBadgerStore(o.db, o.cfg.Jobs.Retention)
	}

	jc := o.cfg.Jobs
	jc.Logger = o.logger
	jc.Observers = append(jc.Observers, o.metrics)
	if o.trends != nil {
		jc.Observers = append(jc.Observers, o.trends)
	}
	manager, err := jobs.NewManager(executor, js, o.records, jc)
	if err != nil {
		return err
	}
	o.metrics.RegisterQueueDepth(manager.QueueDepth)
	o.manager = manager
	return nil
}

func (o *orchestrator) initRouter(_ context.Context) error {
	engine, err := rules.NewEngine()
	if err != nil {
		return err
	}

	guard := collaborators.Guard{
		Timeout:  o.cfg.Pipeline.CallTimeout,
		Logger:   o.logger,
		Observer: o.metrics,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(o.cfg.Telemetry.ServiceName))

	deps := routes.Deps{
		Jobs:     o.manager,
		Rules:    engine,
		Records:  o.records,
		Reports:  o.reports,
		Chat:     chat.NewService(o.records, o.deps.Generator, guard),
		Memory:   o.memory,
		Metrics:  o.metrics,
		Limiter:  middleware.NewLimiter(o.cfg.Server.RateLimit, o.cfg.Server.RateBurst),
		Gatherer: o.registry,
	}
	if o.trends != nil {
		deps.Trends = o.trends
	}
	routes.SetupRoutes(router, deps)
	o.router = router
	return nil
}

func (o *orchestrator) Run(ctx context.Context) error {
	defer o.Close()

	ln, err := net.Listen("tcp", o.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", o.cfg.Server.Addr, err)
	}
	srv := &http.Server{
		Handler:           o.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := o.manager.Start(gctx); err != nil {
		_ = ln.Close()
		return err
	}

	if o.trends != nil {
		g.Go(func() error { return o.trends.Run(gctx) })
	}

	if o.opts.ConfigPath != "" {
		g.Go(func() error {
			err := config.Watch(gctx, o.opts.ConfigPath, config.DefaultDebounce,
				config.ApplyThresholds(o.tuning, o.logger), o.logger)
			if err != nil {
				o.logger.Warn("Config hot reload disabled", "path", o.opts.ConfigPath, "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		o.logger.Info("Starting server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		o.logger.Info("Shutting down", "timeout", o.cfg.Server.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), o.cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), o.manager.Stop(shutdownCtx))
	})

	return g.Wait()
}
