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
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:12210"

// cliOptions are the persistent flags shared by every subcommand.
type cliOptions struct {
	configPath string
	server     string
	jsonOut    bool
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "inocula",
		Short: "Score text for misinformation signals",
		Long: `inocula submits text to the analysis service and prints the trust score,
the reasons behind it and a short explanation.`,
		SilenceUsage: true,
	}

	server := os.Getenv("INOCULA_SERVER")
	if server == "" {
		server = defaultServer
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to inocula.yaml (default $INOCULA_CONFIG or ./inocula.yaml)")
	flags.StringVar(&opts.server, "server", server, "orchestrator base URL")
	flags.BoolVar(&opts.jsonOut, "json", false, "print raw JSON instead of formatted output")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "how long to wait for the server")

	root.AddCommand(
		newServeCmd(opts),
		newAnalyzeCmd(opts),
		newMemoryCmd(opts),
		newRecordsCmd(opts),
		newChatCmd(opts),
	)
	return root
}
