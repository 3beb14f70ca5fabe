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
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

var errNoText = errors.New("no text given: pass it as an argument or on stdin")

// maxStdinBytes bounds text read from stdin.
const maxStdinBytes = 1 << 20

// readText returns args[0] or, without arguments, everything on stdin.
func readText(stdin io.Reader, args []string) (string, error) {
	var text string
	if len(args) > 0 {
		text = args[0]
	} else {
		data, err := io.ReadAll(io.LimitReader(stdin, maxStdinBytes))
		if err != nil {
			return "", err
		}
		text = string(data)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errNoText
	}
	return text, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
