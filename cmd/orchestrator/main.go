// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator runs the Inocula analysis service.
//
// Configuration is read from the file named by -config, INOCULA_CONFIG or
// ./inocula.yaml, in that order. A missing file means defaults plus
// environment overrides.
//
// # Usage
//
//	go build -o orchestrator ./cmd/orchestrator
//	./orchestrator -config /etc/inocula/inocula.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/inocula/pkg/config"
	"github.com/AleutianAI/inocula/pkg/logging"
	"github.com/AleutianAI/inocula/pkg/secrets"
	"github.com/AleutianAI/inocula/services/orchestrator"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "", "path to inocula.yaml")
	flag.Parse()

	path := config.Path(*configFlag)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logs, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logs.Close()
	logger := logs.Slog()
	slog.SetDefault(logger)

	secrets.Init()
	defer secrets.Purge()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting orchestrator",
		"config", path,
		"addr", cfg.Server.Addr,
		"memory_backend", cfg.Memory.Backend,
		"generator_backend", cfg.Generator.Backend,
		"persist_mode", cfg.Jobs.PersistMode,
	)

	svc, err := orchestrator.New(ctx, cfg, orchestrator.Options{
		ConfigPath: path,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}
