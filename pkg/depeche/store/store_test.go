// Copyright 2022 Chainguard, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesAllFourRoots(t *testing.T) {
	home := filepath.Join(t.TempDir(), "depeche-home")
	s, err := New(context.Background(), home)
	require.NoError(t, err)

	for _, dir := range []string{s.Repositories, s.Work, s.Roots, s.Tmp} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestSafeRemoveRefusesPathWithoutSentinel(t *testing.T) {
	home := filepath.Join(t.TempDir(), "depeche-home")
	s, err := New(context.Background(), home)
	require.NoError(t, err)

	other := filepath.Join(t.TempDir(), "other")
	require.NoError(t, os.MkdirAll(other, 0o755))

	require.NoError(t, s.SafeRemove(context.Background(), other))
	_, statErr := os.Stat(other)
	assert.NoError(t, statErr, "path lacking the sentinel substring must survive")
}

func TestSafeRemoveRefusesPathOutsideCacheRoot(t *testing.T) {
	home := filepath.Join(t.TempDir(), "depeche-home")
	s, err := New(context.Background(), home)
	require.NoError(t, err)

	outside := filepath.Join(t.TempDir(), "depeche-elsewhere")
	require.NoError(t, os.MkdirAll(outside, 0o755))

	require.NoError(t, s.SafeRemove(context.Background(), outside))
	_, statErr := os.Stat(outside)
	assert.NoError(t, statErr)
}

func TestSafeRemoveDeletesWithinCacheRoot(t *testing.T) {
	home := filepath.Join(t.TempDir(), "depeche-home")
	s, err := New(context.Background(), home)
	require.NoError(t, err)

	target := filepath.Join(s.Tmp, "abc123")
	require.NoError(t, os.MkdirAll(target, 0o755))

	require.NoError(t, s.SafeRemove(context.Background(), target))
	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr))
}

func TestEnsureDirIdempotent(t *testing.T) {
	home := filepath.Join(t.TempDir(), "depeche-home")
	s, err := New(context.Background(), home)
	require.NoError(t, err)

	path := filepath.Join(s.Roots, "x")
	require.NoError(t, s.EnsureDir(context.Background(), path))
	require.NoError(t, s.EnsureDir(context.Background(), path))
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.MkdirAll(empty, 0o755))
	assert.False(t, Exists(empty))
	assert.False(t, Exists(filepath.Join(dir, "missing")))

	nonEmpty := filepath.Join(dir, "full")
	require.NoError(t, os.MkdirAll(nonEmpty, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nonEmpty, "f"), []byte("x"), 0o644))
	assert.True(t, Exists(nonEmpty))
}

func TestPathExists(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.MkdirAll(empty, 0o755))

	// Unlike Exists, PathExists is true for an empty directory: this is
	// the distinction an install root with no build-installed files
	// depends on.
	assert.True(t, PathExists(empty))
	assert.False(t, Exists(empty))
	assert.False(t, PathExists(filepath.Join(dir, "missing")))
}
