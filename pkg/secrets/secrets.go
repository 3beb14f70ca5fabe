// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secrets keeps provider API keys sealed in memguard enclaves.
//
// Keys are read once at startup (environment first, then a mounted secret
// file) and sealed immediately. A key is only decrypted when a client is
// constructed and the plaintext buffer is destroyed right after.
package secrets

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// ErrNotFound is returned when neither the variable nor the file yields a key.
var ErrNotFound = errors.New("secret not found")

// minMlockLimitKB is the locked-memory budget a handful of sealed keys needs.
const minMlockLimitKB = 256

var initOnce sync.Once

// Init installs memguard's interrupt handler and logs the mlock budget.
// It is safe to call more than once.
func Init() {
	initOnce.Do(func() {
		memguard.CatchInterrupt()

		var rlimit unix.Rlimit
		if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
			slog.Warn("Could not determine mlock limit", "error", err)
			return
		}
		if rlimit.Cur == unix.RLIM_INFINITY {
			return
		}
		if limitKB := int64(rlimit.Cur / 1024); limitKB < minMlockLimitKB {
			slog.Warn("mlock limit is low, sealed secrets may fail to allocate",
				"current_limit_kb", limitKB,
				"required_kb", minMlockLimitKB,
			)
		}
	})
}

// Purge wipes every sealed secret. Call once at shutdown.
func Purge() {
	memguard.Purge()
}

// Secret is a sealed API key.
type Secret struct {
	name    string
	enclave *memguard.Enclave
}

// Load reads a key from envVar, falling back to secretPath.
//
// Inputs:
//
//	name - Human-readable name used in logs and errors.
//	envVar - Environment variable to check first. May be empty.
//	secretPath - Mounted secret file (e.g. /run/secrets/openai_api_key). May be empty.
//
// Outputs:
//
//	*Secret - The sealed key.
//	error - ErrNotFound (wrapped) when no source yields a non-empty key.
func Load(name, envVar, secretPath string) (*Secret, error) {
	Init()

	var raw []byte
	if envVar != "" {
		if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
			raw = []byte(v)
		}
	}
	if raw == nil && secretPath != "" {
		if content, err := os.ReadFile(secretPath); err == nil {
			if v := strings.TrimSpace(string(content)); v != "" {
				raw = []byte(v)
				slog.Info("Read secret from mounted file", "secret", name, "path", secretPath)
			}
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	return &Secret{name: name, enclave: memguard.NewEnclave(raw)}, nil
}

// FromString seals a key that was supplied directly (flags, config, tests).
func FromString(name, value string) *Secret {
	Init()
	return &Secret{name: name, enclave: memguard.NewEnclave([]byte(value))}
}

// Name returns the secret's name.
func (s *Secret) Name() string {
	return s.name
}

// Reveal decrypts the key and returns it as a string.
//
// The returned string lives in ordinary memory; callers hand it straight to
// an SDK constructor and drop it.
func (s *Secret) Reveal() (string, error) {
	if s == nil || s.enclave == nil {
		return "", fmt.Errorf("%w: nil secret", ErrNotFound)
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open secret %s: %w", s.name, err)
	}
	defer buf.Destroy()
	return strings.Clone(buf.String()), nil
}
