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

// Package store owns the four on-disk roots depeche's cache is built from,
// and the only two mutating primitives every other package uses to touch
// them: a safe create-if-absent and a guarded recursive delete.
package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"

	"github.com/isode/depeche/pkg/depeche/derrors"
)

const defaultHomeDirName = ".depeche"

// Store holds the four cache roots rooted at DEPECHE_HOME.
type Store struct {
	Home         string
	Repositories string
	Work         string
	Roots        string
	Tmp          string
}

// New resolves home (DEPECHE_HOME, or ~/.depeche when home is empty) into a
// Store and creates any of its four roots that don't already exist. Create
// failures are logged but don't abort construction: later use will fail
// naturally against a missing directory.
func New(ctx context.Context, home string) (*Store, error) {
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, derrors.New(derrors.FilesystemFailure, "resolve home directory", "", err)
		}
		home = filepath.Join(userHome, defaultHomeDirName)
	}

	s := &Store{
		Home:         home,
		Repositories: filepath.Join(home, "repositories"),
		Work:         filepath.Join(home, "work"),
		Roots:        filepath.Join(home, "roots"),
		Tmp:          filepath.Join(home, "tmp"),
	}

	log := clog.FromContext(ctx)
	for _, root := range []string{s.Repositories, s.Work, s.Roots, s.Tmp} {
		if err := s.EnsureDir(ctx, root); err != nil {
			log.Errorf("failed creating or testing %s: %v", root, err)
		}
	}
	return s, nil
}

// EnsureDir creates path (and its parents) if it doesn't already exist.
// Idempotent: a pre-existing directory is not an error.
func (s *Store) EnsureDir(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return derrors.New(derrors.FilesystemFailure, "stat", path, err)
	}

	clog.FromContext(ctx).Debugf("creating %s", path)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return derrors.New(derrors.FilesystemFailure, "mkdir", path, err)
	}
	return nil
}

// SafeRemove recursively deletes path, but refuses to do so unless path's
// string form contains the literal substring "depeche" AND path lies under
// the resolved cache root. Either check failing logs the refusal and
// leaves the filesystem untouched; this is depeche's sole defensive
// barrier against a path-computation bug destroying user data (see §3 of
// the specification this module implements).
func (s *Store) SafeRemove(ctx context.Context, path string) error {
	log := clog.FromContext(ctx)

	if !strings.Contains(path, "depeche") {
		log.Errorf("refusing to remove %s: path does not contain \"depeche\"", path)
		return nil
	}

	if rel, err := filepath.Rel(s.Home, path); err != nil || strings.HasPrefix(rel, "..") {
		log.Errorf("refusing to remove %s: path is not under cache root %s", path, s.Home)
		return nil
	}

	log.Infof("removing directory %s", path)
	if err := os.RemoveAll(path); err != nil {
		return derrors.New(derrors.FilesystemFailure, "remove", path, err)
	}
	return nil
}

// Exists reports whether path exists and is non-empty. Used where a cache
// directory is only meaningful once something has been written into it,
// e.g. the VCS adapter's bare-clone check.
func Exists(path string) bool {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false
	}
	return len(entries) > 0
}

// PathExists reports whether path exists at all, regardless of whether a
// directory is empty. This is the check the builder gates an install
// root's cache hit on (spec §4.7 step 2: "If INSTALL_ROOT exists..."), since
// a recipe that installs nothing still leaves a populated-but-empty root
// behind that must still be recognized as built.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// RepositoryCacheDirs lists the directory names currently cached under
// Repositories, for --master's fetch-everything sweep.
func (s *Store) RepositoryCacheDirs() ([]string, error) {
	entries, err := os.ReadDir(s.Repositories)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, derrors.New(derrors.FilesystemFailure, "list", s.Repositories, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, filepath.Join(s.Repositories, e.Name()))
		}
	}
	return names, nil
}
