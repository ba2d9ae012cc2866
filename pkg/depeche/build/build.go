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

// Package build walks a Definition tree bottom-up, materializing each
// non-root dependency's source into a transient workspace, expanding and
// running its recipe with variable substitution, and publishing the
// result as a cache-keyed install root.
package build

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"

	"github.com/isode/depeche/pkg/depeche/cond"
	"github.com/isode/depeche/pkg/depeche/derrors"
	"github.com/isode/depeche/pkg/depeche/graph"
	"github.com/isode/depeche/pkg/depeche/identity"
	"github.com/isode/depeche/pkg/depeche/manifest"
	"github.com/isode/depeche/pkg/depeche/store"
	"github.com/isode/depeche/pkg/depeche/vars"
	"github.com/isode/depeche/pkg/depeche/vcs"
)

// builtins are excluded from a conditional group's evaluation environment,
// per §4.7: a condition reasons about dependency roots and neededVariables,
// not about the two names the Variable Environment adds on its own.
var builtins = map[string]bool{"FULL_INSTALL": true, "INSTALL_ROOT": true}

// Builder installs a Definition tree.
type Builder struct {
	store   *store.Store
	adapter *vcs.Adapter
	sidecar map[string]string
	keep    bool
}

// New returns a Builder. sidecar is the resolved environment map
// neededVariables are looked up against; keep mirrors the --keep flag
// (fail rather than clobber an existing tmp/<id>/ workspace).
func New(s *store.Store, a *vcs.Adapter, sidecar map[string]string, keep bool) *Builder {
	return &Builder{store: s, adapter: a, sidecar: sidecar, keep: keep}
}

// Install walks def post-order, building every non-root child before its
// parent. It is idempotent: a Definition whose install root already
// exists is left untouched and no recipe steps run.
func (b *Builder) Install(ctx context.Context, def *graph.Definition) error {
	for _, child := range def.Children {
		if err := b.Install(ctx, child); err != nil {
			return err
		}
	}

	if def.Kind == graph.RootKind || def.Kind == graph.FileKind {
		return nil
	}
	return b.installOne(ctx, def)
}

func (b *Builder) installOne(ctx context.Context, def *graph.Definition) error {
	log := clog.FromContext(ctx)

	assembled, err := vars.Assemble(b.store, def, b.sidecar)
	if err != nil {
		return err
	}

	if store.PathExists(assembled.InstallRoot) {
		log.Debugf("%s already installed at %s", def.Name, assembled.InstallRoot)
		def.Root = assembled.InstallRoot
		return nil
	}

	if err := b.adapter.EnsureRepository(ctx, def.Source); err != nil {
		return err
	}
	if def.Revision == "" {
		return derrors.New(derrors.MissingRevision, "install", def.Name, fmt.Errorf("no version defined"))
	}

	buildPath := identity.BuildPath(b.store.Tmp, assembled.InstallRoot)
	if store.PathExists(buildPath) {
		if b.keep {
			return derrors.New(derrors.CacheCollision, "install", def.Name, fmt.Errorf("build workspace %s already exists and --keep forbids overwriting it", buildPath))
		}
		if err := b.store.SafeRemove(ctx, buildPath); err != nil {
			return err
		}
	}
	if err := b.store.EnsureDir(ctx, buildPath); err != nil {
		return err
	}

	bareDir := identity.RepositoryCachePath(b.store.Repositories, def.Source)
	if err := b.adapter.CheckoutSubtree(ctx, bareDir, buildPath, def.Revision, nil); err != nil {
		return err
	}

	if err := b.store.EnsureDir(ctx, assembled.InstallRoot); err != nil {
		return err
	}

	commands, err := expandRecipe(def.BuildSteps, assembled.Vars)
	if err != nil {
		_ = b.store.SafeRemove(ctx, assembled.InstallRoot)
		return err
	}

	for _, c := range commands {
		if err := b.run(ctx, def.Name, c, buildPath, assembled.Vars); err != nil {
			_ = b.store.SafeRemove(ctx, assembled.InstallRoot)
			return err
		}
	}

	if err := b.store.SafeRemove(ctx, buildPath); err != nil {
		return err
	}

	def.Root = assembled.InstallRoot
	log.Infof("installed %s at %s", def.Name, assembled.InstallRoot)
	return nil
}

// command is one expanded recipe entry ready for token substitution.
type command struct {
	tokens []string
	path   string
}

// expandRecipe flattens steps into an ordered command list, evaluating any
// conditional group's condition against vars (with builtins excluded) and
// dropping its nested commands when falsy.
func expandRecipe(steps []manifest.Step, varsMap map[string]string) ([]command, error) {
	var out []command
	for i, step := range steps {
		switch {
		case step.IsPlain():
			out = append(out, command{tokens: step.Command, path: step.Path})
		case step.IsGroup():
			include := true
			if step.Condition != "" {
				truthy, err := cond.Eval(step.Condition, withoutBuiltins(varsMap))
				if err != nil {
					return nil, err
				}
				include = truthy
			}
			if !include {
				continue
			}
			nested, err := expandRecipe(step.Commands, varsMap)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		default:
			return nil, derrors.New(derrors.ManifestParse, "expand recipe", fmt.Sprintf("buildSteps[%d]", i), fmt.Errorf("unsupported build step"))
		}
	}
	return out, nil
}

func withoutBuiltins(varsMap map[string]string) map[string]string {
	out := make(map[string]string, len(varsMap))
	for k, v := range varsMap {
		if builtins[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// run substitutes %%NAME%% tokens against varsMap and executes the
// resulting command with cwd rooted at buildPath (or buildPath/c.path)
// and an environment of the process environment overlaid with varsMap.
func (b *Builder) run(ctx context.Context, defName string, c command, buildPath string, varsMap map[string]string) error {
	tokens := make([]string, len(c.tokens))
	for i, tok := range c.tokens {
		substituted, err := substitute(tok, varsMap)
		if err != nil {
			return err
		}
		tokens[i] = substituted
	}
	if len(tokens) == 0 {
		return derrors.New(derrors.ManifestParse, "run recipe step", defName, fmt.Errorf("empty command"))
	}

	dir := buildPath
	if c.path != "" {
		dir = filepath.Join(buildPath, c.path)
	}

	clog.FromContext(ctx).Debugf("%s: running %v in %s", defName, tokens, dir)

	cmd := exec.CommandContext(ctx, tokens[0], tokens[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), envPairs(varsMap)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return derrors.New(derrors.BuildFailure, "run recipe step", defName, fmt.Errorf("%v (cwd=%s): %w", tokens, dir, err))
	}
	return nil
}

func envPairs(varsMap map[string]string) []string {
	pairs := make([]string, 0, len(varsMap))
	for k, v := range varsMap {
		pairs = append(pairs, k+"="+v)
	}
	return pairs
}

// substitute replaces every %%NAME%% occurrence in tok with vars[NAME].
// Any remaining "%%" after substitution is an unsubstituted parameter.
func substitute(tok string, varsMap map[string]string) (string, error) {
	out := tok
	for k, v := range varsMap {
		out = strings.ReplaceAll(out, "%%"+k+"%%", v)
	}
	if strings.Contains(out, "%%") {
		return "", derrors.New(derrors.UnsubstitutedToken, "substitute recipe token", tok, fmt.Errorf("unsubstituted parameter remains in %q", out))
	}
	return out, nil
}
