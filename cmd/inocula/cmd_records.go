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
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/inocula/pkg/config"
	"github.com/AleutianAI/inocula/services/analysis/archive"
)

func newRecordsCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Browse and export persisted analyses",
	}

	var listLimit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List analyses, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			recs, err := newAPIClient(opts.server).Records(ctx, listLimit)
			if err != nil {
				return err
			}
			return newPrinter(cmd.OutOrStdout(), opts.jsonOut).Records(recs)
		},
	}
	list.Flags().IntVarP(&listLimit, "limit", "n", 20, "number of records to show")

	var (
		exportLimit int
		outPath     string
		toBucket    bool
	)
	export := &cobra.Command{
		Use:   "export",
		Short: "Export analyses as JSON lines to a file or the configured bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (outPath == "") == !toBucket {
				return errors.New("choose exactly one of --out or --gcs")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			recs, err := newAPIClient(opts.server).Records(ctx, exportLimit)
			if err != nil {
				return err
			}

			if outPath != "" {
				n, err := archive.ExportFile(outPath, recs)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s\n", n, outPath)
				return nil
			}

			cfg, err := config.Load(config.Path(opts.configPath))
			if err != nil {
				return err
			}
			exp, err := archive.NewGCSExporter(ctx, cfg.Archive)
			if err != nil {
				return err
			}
			defer exp.Close()
			uri, err := exp.Export(ctx, recs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s\n", len(recs), uri)
			return nil
		},
	}
	export.Flags().IntVarP(&exportLimit, "limit", "n", 500, "number of records to export")
	export.Flags().StringVarP(&outPath, "out", "o", "", "write to this local file")
	export.Flags().BoolVar(&toBucket, "gcs", false, "upload to the bucket configured under archive")

	cmd.AddCommand(list, export)
	return cmd
}
