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

// Package vcs wraps github.com/go-git/go-git/v5 in the three operations
// depeche's resolver needs: ensure a repository is cached locally (bare
// clone plus a working checkout reachable as the "work" remote), fetch a
// cached repository's origin, and materialize a specific revision's tree
// (optionally restricted to a subset of paths) into an arbitrary
// destination directory.
package vcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/filesystem"
	billyosfs "github.com/go-git/go-billy/v5/osfs"

	"github.com/isode/depeche/pkg/depeche/derrors"
	"github.com/isode/depeche/pkg/depeche/identity"
	"github.com/isode/depeche/pkg/depeche/store"
)

// originFetchRefSpec mirrors all upstream branches into refs/remotes/origin/*
// on the bare cache, matching the original tool's
// `git config remote.origin.fetch +refs/heads/*:refs/remotes/origin/*`.
const originFetchRefSpec = config.RefSpec("+refs/heads/*:refs/remotes/origin/*")

// Adapter is the VCS Adapter of the specification: stateful only in its
// process-local fetch memoization (§5 "Memoization").
type Adapter struct {
	store *store.Store

	mu      sync.Mutex
	updated map[string]bool
}

// New returns an Adapter backed by s.
func New(s *store.Store) *Adapter {
	return &Adapter{store: s, updated: make(map[string]bool)}
}

// EnsureRepository guarantees a bare clone of source exists under the
// Adapter's repositories root, paired with a non-bare working checkout
// under the work root that the bare clone can reach as remote "work". If
// the bare cache already exists, this fetches the "work" remote and
// returns — see the specification's design note on this fetching
// unconditionally rather than being memoized like origin fetches are.
func (a *Adapter) EnsureRepository(ctx context.Context, source string) error {
	log := clog.FromContext(ctx)
	bareDir := identity.RepositoryCachePath(a.store.Repositories, source)

	if store.Exists(bareDir) {
		log.Debugf("found cached repository for %s at %s", source, bareDir)
		repo, err := git.PlainOpen(bareDir)
		if err != nil {
			return derrors.New(derrors.VCSFailure, "open cached repository", bareDir, err)
		}
		if err := fetchRemote(repo, "work"); err != nil {
			return derrors.New(derrors.VCSFailure, "fetch work remote", bareDir, err)
		}
		return nil
	}

	log.Infof("cloning %s into %s", source, bareDir)
	workDir := identity.RepositoryWorkingPath(a.store.Work, source)

	if err := a.cloneRepositoryPair(ctx, source, bareDir, workDir); err != nil {
		_ = a.store.SafeRemove(ctx, bareDir)
		_ = a.store.SafeRemove(ctx, workDir)
		return derrors.New(derrors.VCSFailure, "clone", source, err)
	}
	return nil
}

func (a *Adapter) cloneRepositoryPair(ctx context.Context, source, bareDir, workDir string) error {
	bareRepo, err := git.PlainClone(bareDir, true, &git.CloneOptions{URL: source})
	if err != nil {
		return fmt.Errorf("bare clone: %w", err)
	}

	cfg, err := bareRepo.Config()
	if err != nil {
		return fmt.Errorf("read bare clone config: %w", err)
	}
	if rc, ok := cfg.Remotes["origin"]; ok {
		rc.Fetch = []config.RefSpec{originFetchRefSpec}
	}
	if err := bareRepo.SetConfig(cfg); err != nil {
		return fmt.Errorf("configure origin fetch refspec: %w", err)
	}

	if _, err := git.PlainClone(workDir, false, &git.CloneOptions{URL: source}); err != nil {
		return fmt.Errorf("working clone: %w", err)
	}

	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return fmt.Errorf("resolve working clone path: %w", err)
	}
	if _, err := bareRepo.CreateRemote(&config.RemoteConfig{
		Name: "work",
		URLs: []string{absWorkDir},
	}); err != nil {
		return fmt.Errorf("add work remote: %w", err)
	}

	clog.FromContext(ctx).Debugf("cloned %s: bare=%s work=%s", source, bareDir, workDir)
	return nil
}

// UpdateRepositoryForPath fetches origin in the repository at path, at
// most once per process run (the memoization described in §5).
func (a *Adapter) UpdateRepositoryForPath(ctx context.Context, path string) error {
	a.mu.Lock()
	if a.updated[path] {
		a.mu.Unlock()
		return nil
	}
	a.updated[path] = true
	a.mu.Unlock()

	clog.FromContext(ctx).Debugf("updating repository in %s", path)
	repo, err := git.PlainOpen(path)
	if err != nil {
		return derrors.New(derrors.VCSFailure, "open repository", path, err)
	}
	if err := fetchRemote(repo, "origin"); err != nil {
		return derrors.New(derrors.VCSFailure, "fetch origin", path, err)
	}
	return nil
}

func fetchRemote(repo *git.Repository, remoteName string) error {
	err := repo.Fetch(&git.FetchOptions{RemoteName: remoteName})
	if err == nil || err == git.NoErrAlreadyUpToDate || err == transport.ErrEmptyRemoteRepository {
		return nil
	}
	return err
}

// CheckoutSubtree materializes revision's tree from the bare cache at
// bareDir into destination. When paths is non-empty, only those
// repository-relative paths are left behind in destination; otherwise the
// full tree is checked out. On failure it updates the origin remote and
// retries exactly once before giving up, per §4.3.
func (a *Adapter) CheckoutSubtree(ctx context.Context, bareDir, destination, revision string, paths []string) error {
	return a.checkoutSubtree(ctx, bareDir, destination, revision, paths, true)
}

func (a *Adapter) checkoutSubtree(ctx context.Context, bareDir, destination, revision string, paths []string, allowRetry bool) error {
	log := clog.FromContext(ctx)
	log.Debugf("checking out subtree of %s in %s at %s", bareDir, destination, revision)

	err := checkoutOnce(bareDir, destination, revision, paths)
	if err == nil {
		return nil
	}

	if !allowRetry {
		_ = a.store.SafeRemove(ctx, destination)
		return derrors.New(derrors.VCSFailure, "checkout", destination, fmt.Errorf("%s at %s: %w", bareDir, revision, err))
	}

	log.Infof("checkout of %s failed, updating repository first: %v", bareDir, err)
	if uerr := a.UpdateRepositoryForPath(ctx, bareDir); uerr != nil {
		_ = a.store.SafeRemove(ctx, destination)
		return derrors.New(derrors.VCSFailure, "checkout", destination, err)
	}
	return a.checkoutSubtree(ctx, bareDir, destination, revision, paths, false)
}

// checkoutOnce opens the bare repository's object store with destination
// (or, for a path-restricted checkout, a scratch directory) bound as its
// detached worktree, resolves revision, and checks it out.
func checkoutOnce(bareDir, destination, revision string, paths []string) error {
	if len(paths) == 0 {
		return checkoutInto(bareDir, destination, revision)
	}

	scratch := destination + ".checkout-tmp"
	defer os.RemoveAll(scratch)
	if err := os.RemoveAll(scratch); err != nil {
		return err
	}
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return err
	}
	if err := checkoutInto(bareDir, scratch, revision); err != nil {
		return err
	}
	for _, p := range paths {
		if err := copyFile(filepath.Join(scratch, p), filepath.Join(destination, p)); err != nil {
			return fmt.Errorf("extracting %s: %w", p, err)
		}
	}
	return nil
}

func checkoutInto(bareDir, worktreeDir, revision string) error {
	if err := os.MkdirAll(worktreeDir, 0o755); err != nil {
		return err
	}

	storer := filesystem.NewStorage(billyosfs.New(bareDir), cache.NewObjectLRUDefault())
	repo, err := git.Open(storer, billyosfs.New(worktreeDir))
	if err != nil {
		return fmt.Errorf("open bare repository: %w", err)
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return fmt.Errorf("resolve revision %s: %w", revision, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return fmt.Errorf("checkout %s: %w", hash, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
