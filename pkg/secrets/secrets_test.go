// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("INOCULA_TEST_KEY", "  sk-env  ")

	s, err := Load("test", "INOCULA_TEST_KEY", "")
	require.NoError(t, err)

	got, err := s.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "sk-env", got)
	assert.Equal(t, "test", s.Name())
}

func TestLoad_FromFileWhenEnvEmpty(t *testing.T) {
	// Arrange
	t.Setenv("INOCULA_TEST_KEY", "")
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte("sk-file\n"), 0600))

	// Act
	s, err := Load("test", "INOCULA_TEST_KEY", path)

	// Assert
	require.NoError(t, err)
	got, err := s.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "sk-file", got)
}

func TestLoad_NotFound(t *testing.T) {
	t.Setenv("INOCULA_TEST_KEY", "")

	_, err := Load("test", "INOCULA_TEST_KEY", filepath.Join(t.TempDir(), "missing"))

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReveal_Repeatable(t *testing.T) {
	s := FromString("test", "abc")

	first, err := s.Reveal()
	require.NoError(t, err)
	second, err := s.Reveal()
	require.NoError(t, err)

	assert.Equal(t, "abc", first)
	assert.Equal(t, first, second)
}

func TestReveal_NilSecret(t *testing.T) {
	var s *Secret

	_, err := s.Reveal()

	assert.ErrorIs(t, err, ErrNotFound)
}
