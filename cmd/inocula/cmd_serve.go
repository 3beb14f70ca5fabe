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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/inocula/pkg/config"
	"github.com/AleutianAI/inocula/pkg/logging"
	"github.com/AleutianAI/inocula/pkg/secrets"
	"github.com/AleutianAI/inocula/services/orchestrator"
)

func newServeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis service in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.Path(opts.configPath)
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

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			svc, err := orchestrator.New(ctx, cfg, orchestrator.Options{ConfigPath: path, Logger: logger})
			if err != nil {
				return err
			}
			return svc.Run(ctx)
		},
	}
}
