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
	"fmt"

	"github.com/spf13/cobra"
)

func newMemoryCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Manage the memory of debunked claims",
	}

	var label string
	add := &cobra.Command{
		Use:   "add [claim]",
		Short: "Add a debunked claim with its verdict label",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			if err := newAPIClient(opts.server).AddMemory(ctx, text, label); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Claim added.")
			return nil
		},
	}
	add.Flags().StringVar(&label, "label", "", "verdict shown when the claim matches (required)")
	_ = add.MarkFlagRequired("label")

	query := &cobra.Command{
		Use:   "query [text]",
		Short: "Show the known claim nearest to text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			m, err := newAPIClient(opts.server).QueryMemory(ctx, text)
			if err != nil {
				return err
			}
			return newPrinter(cmd.OutOrStdout(), opts.jsonOut).Match(m)
		},
	}

	cmd.AddCommand(add, query)
	return cmd
}
