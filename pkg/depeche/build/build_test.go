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

package build

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/isode/depeche/pkg/depeche/derrors"
	"github.com/isode/depeche/pkg/depeche/graph"
	"github.com/isode/depeche/pkg/depeche/identity"
	"github.com/isode/depeche/pkg/depeche/manifest"
	"github.com/isode/depeche/pkg/depeche/store"
	"github.com/isode/depeche/pkg/depeche/vars"
	"github.com/isode/depeche/pkg/depeche/vcs"
)

func newUpstreamRepo(t *testing.T, dir string, files map[string]string) string {
	t.Helper()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)
	for name, contents := range files {
		full := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(contents), 0o644))
		_, err := wt.Add(name)
		require.NoError(t, err)
	}

	sig := &object.Signature{Name: "test", Email: "test@example.test", When: time.Unix(0, 0)}
	hash, err := wt.Commit("initial", &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)
	return hash.String()
}

func newTestBuilder(t *testing.T) (*Builder, *store.Store) {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(ctx, filepath.Join(t.TempDir(), "depeche-home"))
	require.NoError(t, err)
	a := vcs.New(s)
	return New(s, a, map[string]string{"TOOLCHAIN": "gcc"}, false), s
}

func TestInstallRunsRecipeAndPublishesRoot(t *testing.T) {
	ctx := context.Background()
	upstream := filepath.Join(t.TempDir(), "upstream")
	rev := newUpstreamRepo(t, upstream, map[string]string{"depeche.json": "{}"})

	b, _ := newTestBuilder(t)

	def := &graph.Definition{
		Kind:     graph.GitKind,
		Name:     "Lib",
		Source:   upstream,
		Revision: rev,
		BuildSteps: []manifest.Step{
			{Command: []string{"sh", "-c", "touch %%INSTALL_ROOT%%/marker"}},
		},
	}
	root := &graph.Definition{Kind: graph.RootKind, Name: "root project", Children: []*graph.Definition{def}}

	require.NoError(t, b.Install(ctx, root))
	require.NotEmpty(t, def.Root)
	require.True(t, store.Exists(def.Root))

	_, err := os.Stat(filepath.Join(def.Root, "marker"))
	require.NoError(t, err)
}

func TestInstallIsIdempotent(t *testing.T) {
	ctx := context.Background()
	upstream := filepath.Join(t.TempDir(), "upstream")
	rev := newUpstreamRepo(t, upstream, map[string]string{"depeche.json": "{}"})

	b, _ := newTestBuilder(t)
	def := &graph.Definition{
		Kind:     graph.GitKind,
		Name:     "Lib",
		Source:   upstream,
		Revision: rev,
		BuildSteps: []manifest.Step{
			{Command: []string{"sh", "-c", "touch %%INSTALL_ROOT%%/marker"}},
		},
	}
	root := &graph.Definition{Kind: graph.RootKind, Children: []*graph.Definition{def}}

	require.NoError(t, b.Install(ctx, root))
	firstRoot := def.Root

	def.Root = ""
	require.NoError(t, b.Install(ctx, root))
	require.Equal(t, firstRoot, def.Root)
}

// TestInstallWithEmptyRecipeIsIdempotent covers §8's "empty recipe" build
// idempotence scenario: a recipe with no steps leaves INSTALL_ROOT created
// but empty (installOne creates it before running any step), so the
// cache-hit check on a second run must gate on plain existence, not on the directory being non-empty. To prove
// the second run never re-fetches, the upstream bare clone is deleted
// before the second Install call: if the cache check fell through to
// EnsureRepository/CheckoutSubtree, this would fail.
func TestInstallWithEmptyRecipeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	upstream := filepath.Join(t.TempDir(), "upstream")
	rev := newUpstreamRepo(t, upstream, map[string]string{"depeche.json": "{}"})

	b, s := newTestBuilder(t)
	def := &graph.Definition{
		Kind:     graph.GitKind,
		Name:     "Lib",
		Source:   upstream,
		Revision: rev,
	}
	root := &graph.Definition{Kind: graph.RootKind, Children: []*graph.Definition{def}}

	require.NoError(t, b.Install(ctx, root))
	firstRoot := def.Root
	require.NotEmpty(t, firstRoot)
	require.True(t, store.PathExists(firstRoot))

	entries, err := os.ReadDir(firstRoot)
	require.NoError(t, err)
	require.Empty(t, entries)

	bareDir := identity.RepositoryCachePath(s.Repositories, upstream)
	require.NoError(t, os.RemoveAll(bareDir))

	def.Root = ""
	require.NoError(t, b.Install(ctx, root))
	require.Equal(t, firstRoot, def.Root)
}

func TestInstallUnsubstitutedTokenRemovesInstallRoot(t *testing.T) {
	ctx := context.Background()
	upstream := filepath.Join(t.TempDir(), "upstream")
	rev := newUpstreamRepo(t, upstream, map[string]string{"depeche.json": "{}"})

	b, s := newTestBuilder(t)
	def := &graph.Definition{
		Kind:     graph.GitKind,
		Name:     "Lib",
		Source:   upstream,
		Revision: rev,
		BuildSteps: []manifest.Step{
			{Command: []string{"sh", "-c", "echo %%MISSING%%"}},
		},
	}
	root := &graph.Definition{Kind: graph.RootKind, Children: []*graph.Definition{def}}

	err := b.Install(ctx, root)
	require.Error(t, err)
	var derr *derrors.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, derrors.UnsubstitutedToken, derr.Kind)
	require.Empty(t, def.Root)

	assembled, err := vars.Assemble(s, def, b.sidecar)
	require.NoError(t, err)
	require.False(t, store.PathExists(assembled.InstallRoot))
}

func TestInstallMissingRevisionFails(t *testing.T) {
	ctx := context.Background()
	upstream := filepath.Join(t.TempDir(), "upstream")
	newUpstreamRepo(t, upstream, map[string]string{"depeche.json": "{}"})

	b, _ := newTestBuilder(t)
	def := &graph.Definition{Kind: graph.GitKind, Name: "Lib", Source: upstream}
	root := &graph.Definition{Kind: graph.RootKind, Children: []*graph.Definition{def}}

	err := b.Install(ctx, root)
	require.Error(t, err)
	var derr *derrors.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, derrors.MissingRevision, derr.Kind)
}

func TestInstallFailingCommandRemovesInstallRoot(t *testing.T) {
	ctx := context.Background()
	upstream := filepath.Join(t.TempDir(), "upstream")
	rev := newUpstreamRepo(t, upstream, map[string]string{"depeche.json": "{}"})

	b, s := newTestBuilder(t)
	def := &graph.Definition{
		Kind:     graph.GitKind,
		Name:     "Lib",
		Source:   upstream,
		Revision: rev,
		BuildSteps: []manifest.Step{
			{Command: []string{"sh", "-c", "exit 1"}},
		},
	}
	root := &graph.Definition{Kind: graph.RootKind, Children: []*graph.Definition{def}}

	err := b.Install(ctx, root)
	require.Error(t, err)
	var derr *derrors.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, derrors.BuildFailure, derr.Kind)

	assembled, err := vars.Assemble(s, def, b.sidecar)
	require.NoError(t, err)
	require.False(t, store.PathExists(assembled.InstallRoot))
}

func TestExpandRecipeHonorsCondition(t *testing.T) {
	steps := []manifest.Step{
		{
			Commands:  []manifest.Step{{Command: []string{"echo", "gcc-only"}}},
			Condition: `TOOLCHAIN == "gcc"`,
		},
		{
			Commands:  []manifest.Step{{Command: []string{"echo", "clang-only"}}},
			Condition: `TOOLCHAIN == "clang"`,
		},
	}
	commands, err := expandRecipe(steps, map[string]string{"TOOLCHAIN": "gcc", "FULL_INSTALL": "True"})
	require.NoError(t, err)
	require.Len(t, commands, 1)
	require.Equal(t, []string{"echo", "gcc-only"}, commands[0].tokens)
}

func TestSubstituteRejectsUnknownToken(t *testing.T) {
	_, err := substitute("%%MISSING%%", map[string]string{"A": "1"})
	require.Error(t, err)
}
