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

// Package graph expands a root manifest into the rooted tree of
// Definitions the builder walks bottom-up: for each dependency reference
// it fetches (or reads) that dependency's own manifest and recurses,
// propagating the root's dependencyVersions pins unchanged.
package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"

	"github.com/isode/depeche/pkg/depeche/derrors"
	"github.com/isode/depeche/pkg/depeche/identity"
	"github.com/isode/depeche/pkg/depeche/manifest"
	"github.com/isode/depeche/pkg/depeche/store"
	"github.com/isode/depeche/pkg/depeche/vcs"
)

// Kind distinguishes how a Definition was reached, which in turn decides
// whether the builder treats it as something to install.
type Kind int

const (
	// RootKind is the top-level project: never built, only traversed.
	RootKind Kind = iota
	// GitKind is a VCS dependency pinned to a revision: built.
	GitKind
	// FileKind is a local manifest snippet: has no source or revision of
	// its own, so it is expanded for its children but never built itself
	// (see the specification's resolution of the file-dependency
	// ambiguity it inherited from the original implementation).
	FileKind
)

// Definition is one resolved node of the dependency tree, a tree of
// pointers reachable from the node Expand returns. It is built in one
// recursive pass; after Expand returns, only its Root field changes (the
// builder sets it once the Definition is installed).
type Definition struct {
	Kind            Kind
	Name            string
	SourceKey       string
	Source          string
	Revision        string
	BuildSteps      []manifest.Step
	NeededVariables []string
	Children        []*Definition

	// Root is non-zero only for built (GitKind) Definitions, set by the
	// builder once installed; consumed by the CMake emitter and parent
	// Definitions' variable environments.
	Root string
}

// Expand parses rootManifestPath and recursively resolves every transitive
// dependency reference into a Definition tree rooted at the returned node.
func Expand(ctx context.Context, s *store.Store, a *vcs.Adapter, rootManifestPath string) (*Definition, error) {
	doc, err := manifest.Load("root project", rootManifestPath)
	if err != nil {
		return nil, err
	}

	root := &Definition{
		Kind:            RootKind,
		Name:            "root project",
		BuildSteps:      doc.BuildSteps,
		NeededVariables: doc.NeededVariables,
	}

	versions := doc.DependencyVersions
	if versions == nil {
		versions = map[string]string{}
	}

	for _, dep := range doc.Dependencies {
		child, err := resolveDependency(ctx, s, a, dep, versions)
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, child)
	}

	return root, nil
}

func resolveDependency(ctx context.Context, s *store.Store, a *vcs.Adapter, dep manifest.DependencyRef, versions map[string]string) (*Definition, error) {
	switch dep.SourceType {
	case "file":
		return resolveFileDependency(ctx, s, a, dep, versions)
	default: // "git", validated by manifest.Parse
		return resolveGitDependency(ctx, s, a, dep, versions)
	}
}

func resolveGitDependency(ctx context.Context, s *store.Store, a *vcs.Adapter, dep manifest.DependencyRef, versions map[string]string) (*Definition, error) {
	log := clog.FromContext(ctx)
	revision, ok := versions[dep.Source]
	if !ok || revision == "" {
		return nil, derrors.New(derrors.MissingRevision, "resolve dependency", dep.Name, fmt.Errorf("no pinned revision for %s in dependencyVersions", dep.Source))
	}

	log.Debugf("resolving git dependency %s (%s @ %s)", dep.Name, dep.Source, revision)
	if err := a.EnsureRepository(ctx, dep.Source); err != nil {
		return nil, err
	}

	cachedDir := identity.ManifestCachePath(s.Roots, dep.Source, revision)
	if err := s.EnsureDir(ctx, cachedDir); err != nil {
		return nil, err
	}

	cachedFile := filepath.Join(cachedDir, "depeche.json")
	if _, err := os.Stat(cachedFile); os.IsNotExist(err) {
		bareDir := identity.RepositoryCachePath(s.Repositories, dep.Source)
		if err := a.CheckoutSubtree(ctx, bareDir, cachedDir, revision, []string{"depeche.json"}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, derrors.New(derrors.FilesystemFailure, "stat", cachedFile, err)
	}

	return buildDefinition(ctx, s, a, dep.Name, cachedFile, GitKind, dep.Source, revision, versions)
}

func resolveFileDependency(ctx context.Context, s *store.Store, a *vcs.Adapter, dep manifest.DependencyRef, versions map[string]string) (*Definition, error) {
	log := clog.FromContext(ctx)
	contents, err := os.ReadFile(dep.Source)
	if err != nil {
		return nil, derrors.New(derrors.ManifestParse, "read file dependency", dep.Source, err)
	}

	id := identity.EncodeString(string(contents))
	log.Debugf("resolving file dependency %s (%s, id=%s)", dep.Name, dep.Source, id)
	cachedDir := identity.FileManifestCachePath(s.Roots, id)
	if err := s.EnsureDir(ctx, cachedDir); err != nil {
		return nil, err
	}

	cachedFile := filepath.Join(cachedDir, "depeche.json")
	if _, err := os.Stat(cachedFile); os.IsNotExist(err) {
		if err := os.WriteFile(cachedFile, contents, 0o644); err != nil {
			return nil, derrors.New(derrors.FilesystemFailure, "cache file dependency", cachedFile, err)
		}
	} else if err != nil {
		return nil, derrors.New(derrors.FilesystemFailure, "stat", cachedFile, err)
	}

	return buildDefinition(ctx, s, a, dep.Name, cachedFile, FileKind, id, "", versions)
}

// buildDefinition loads the manifest at manifestPath and recurses into its
// own dependencies, threading versions unchanged (per §4.5's version-pin
// propagation rule). A non-root manifest that declares its own non-empty
// dependencyVersions is rejected: Open Question (a) is resolved in favor
// of forbidding child-level pins outright rather than silently ignoring
// them.
func buildDefinition(ctx context.Context, s *store.Store, a *vcs.Adapter, name, manifestPath string, kind Kind, sourceKey, revision string, versions map[string]string) (*Definition, error) {
	doc, err := manifest.Load(name, manifestPath)
	if err != nil {
		return nil, err
	}
	if len(doc.DependencyVersions) > 0 {
		return nil, derrors.New(derrors.ManifestParse, "load manifest", manifestPath,
			fmt.Errorf("%s declares dependencyVersions, but pins are fixed by the root manifest", name))
	}

	def := &Definition{
		Kind:            kind,
		Name:            name,
		SourceKey:       sourceKey,
		Source:          sourceKey,
		Revision:        revision,
		BuildSteps:      doc.BuildSteps,
		NeededVariables: doc.NeededVariables,
	}
	if doc.Source != "" {
		def.Source = doc.Source
	}

	for _, dep := range doc.Dependencies {
		child, err := resolveDependency(ctx, s, a, dep, versions)
		if err != nil {
			return nil, err
		}
		def.Children = append(def.Children, child)
	}
	return def, nil
}

// DependencyRoots returns {uppercase(childName)+"_ROOT": childInstallRoot}
// for each directly built (GitKind) child — file-dependency children
// contribute no root of their own.
func DependencyRoots(def *Definition) map[string]string {
	roots := make(map[string]string, len(def.Children))
	for _, child := range def.Children {
		if child.Kind != GitKind {
			continue
		}
		roots[uppercaseRootName(child.Name)] = child.Root
	}
	return roots
}

func uppercaseRootName(name string) string {
	upper := make([]byte, 0, len(name)+5)
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = append(upper, c)
	}
	return string(upper) + "_ROOT"
}
