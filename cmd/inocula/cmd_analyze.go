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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/inocula/services/analysis/rules"
	"github.com/AleutianAI/inocula/services/orchestrator/datatypes"
)

func newAnalyzeCmd(opts *cliOptions) *cobra.Command {
	var quick, offline, noWait bool

	cmd := &cobra.Command{
		Use:   "analyze [text]",
		Short: "Analyze text; reads stdin when no text is given",
		Example: `  inocula analyze "Doctors HATE this one SHOCKING secret!!!"
  curl -s https://example.com/article.txt | inocula analyze --quick`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout(), opts.jsonOut)

			if offline {
				engine, err := rules.NewEngine()
				if err != nil {
					return err
				}
				res := engine.Scan(text)
				return p.Quick(datatypes.QuickScanResponse{
					Status:  rules.StatusComplete,
					Score:   res.Score,
					Reasons: res.Reasons,
				})
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			client := newAPIClient(opts.server)

			var jobID string
			if quick {
				resp, err := client.QuickScan(ctx, text)
				if err != nil {
					return err
				}
				if err := p.Quick(resp); err != nil {
					return err
				}
				jobID = resp.JobID
			} else {
				resp, err := client.Submit(ctx, text)
				if err != nil {
					return err
				}
				jobID = resp.JobID
			}

			if jobID == "" {
				return nil
			}
			if noWait {
				p.println(jobID)
				return nil
			}
			job, err := client.Wait(ctx, jobID)
			if err != nil {
				return err
			}
			return p.Job(job)
		},
	}

	cmd.Flags().BoolVar(&quick, "quick", false, "run the heuristic quick scan first; deep analysis only when uncertain")
	cmd.Flags().BoolVar(&offline, "offline", false, "score locally with the quick-scan rules, without a server")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "print the job id instead of waiting for the result")
	return cmd
}
