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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/inocula/services/orchestrator/datatypes"
)

// questionSource yields follow-up questions until io.EOF.
type questionSource interface {
	Next() (string, error)
}

// promptSource asks on the terminal.
type promptSource struct{}

func (promptSource) Next() (string, error) {
	var q string
	err := huh.NewInput().
		Title("Ask about this analysis").
		Description("Empty line or Ctrl+C to quit").
		CharLimit(datatypes.MaxQuestionLength).
		Value(&q).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(q) == "" {
		return "", io.EOF
	}
	return q, nil
}

// lineSource reads one question per line, for piped input.
type lineSource struct {
	sc *bufio.Scanner
}

func (s lineSource) Next() (string, error) {
	for s.sc.Scan() {
		if q := strings.TrimSpace(s.sc.Text()); q != "" {
			return q, nil
		}
	}
	if err := s.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func newQuestionSource(stdin io.Reader) questionSource {
	if f, ok := stdin.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return promptSource{}
	}
	return lineSource{sc: bufio.NewScanner(stdin)}
}

func newChatCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <record_id> [question]",
		Short: "Ask follow-up questions about a persisted analysis",
		Long: `chat answers questions about one analysis. With a question argument it
answers once; otherwise it prompts on the terminal or reads one question per
line from stdin.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			recordID := args[0]
			client := newAPIClient(opts.server)
			p := newPrinter(cmd.OutOrStdout(), opts.jsonOut)

			ask := func(q string) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				defer cancel()
				resp, err := client.Chat(ctx, recordID, q)
				if err != nil {
					return err
				}
				return p.Answer(resp)
			}

			if len(args) == 2 {
				return ask(args[1])
			}

			src := newQuestionSource(cmd.InOrStdin())
			for {
				q, err := src.Next()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return fmt.Errorf("read question: %w", err)
				}
				if err := ask(q); err != nil {
					return err
				}
			}
		},
	}
}
