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

// Package cli wires depeche's command-line flags to the resolver and
// builder pipeline, in the same Flags-struct-plus-addFlags shape the
// teacher's build command uses.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/isode/depeche/internal/envfile"
	"github.com/isode/depeche/pkg/depeche/build"
	"github.com/isode/depeche/pkg/depeche/cmake"
	"github.com/isode/depeche/pkg/depeche/graph"
	"github.com/isode/depeche/pkg/depeche/identity"
	"github.com/isode/depeche/pkg/depeche/store"
	"github.com/isode/depeche/pkg/depeche/vcs"
)

// Flags holds depeche's parsed command-line flags.
type Flags struct {
	File        string
	CMakeFile   string
	Environment string
	Verbose     bool
	Quiet       bool
	Master      bool
	Keep        bool
	CacheDirURL string
	WorkDirURL  string
}

// addFlags registers all depeche flags to fs, mirroring the teacher's
// addBuildFlags(fs *pflag.FlagSet, flags *BuildFlags) shape.
func addFlags(fs *pflag.FlagSet, flags *Flags) {
	fs.StringVarP(&flags.File, "file", "f", "depeche.json", "root manifest path")
	fs.StringVarP(&flags.CMakeFile, "cmake-file", "c", "CMakeLists-depeche.txt", "generated CMake include path")
	fs.StringVarP(&flags.Environment, "environment", "e", "", "path to a sidecar JSON map of environment variables")
	fs.BoolVarP(&flags.Verbose, "verbose", "v", false, "debug logging")
	fs.BoolVarP(&flags.Quiet, "quiet", "q", false, "errors only")
	fs.BoolVarP(&flags.Master, "master", "m", false, "before resolving, fetch origin in every cached bare repository")
	fs.BoolVarP(&flags.Keep, "keep", "k", false, "fail rather than delete an existing tmp/<id>/ workspace")
	fs.StringVar(&flags.CacheDirURL, "cache_dir", "", "print the cache path a URL would map to and exit without building")
	fs.StringVarP(&flags.WorkDirURL, "work_dir", "w", "", "print the working-checkout path a URL would map to and exit without building")
}

// Command returns the depeche cobra command.
func Command() *cobra.Command {
	flags := &Flags{}

	cmd := &cobra.Command{
		Use:   "depeche",
		Short: "Resolve and build a manifest's external source dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := withLogger(cmd.Context(), flags)
			return Run(ctx, flags)
		},
	}
	addFlags(cmd.Flags(), flags)
	return cmd
}

func withLogger(ctx context.Context, flags *Flags) context.Context {
	level := slog.LevelInfo
	switch {
	case flags.Quiet:
		level = slog.LevelError
	case flags.Verbose:
		level = slog.LevelDebug
	}
	logger := clog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return clog.WithLogger(ctx, logger)
}

// Run executes the resolve-build-emit pipeline for the given flags; it is
// the independently testable entry point the RunE closure calls into.
func Run(ctx context.Context, flags *Flags) error {
	log := clog.FromContext(ctx)

	if flags.CacheDirURL != "" {
		s, err := store.New(ctx, os.Getenv("DEPECHE_HOME"))
		if err != nil {
			return err
		}
		fmt.Println(identity.RepositoryCachePath(s.Repositories, flags.CacheDirURL))
		return nil
	}
	if flags.WorkDirURL != "" {
		s, err := store.New(ctx, os.Getenv("DEPECHE_HOME"))
		if err != nil {
			return err
		}
		fmt.Println(identity.RepositoryWorkingPath(s.Work, flags.WorkDirURL))
		return nil
	}

	s, err := store.New(ctx, os.Getenv("DEPECHE_HOME"))
	if err != nil {
		return err
	}
	adapter := vcs.New(s)

	if flags.Master {
		if err := prefetchAllRepositories(ctx, s, adapter); err != nil {
			return err
		}
	}

	sidecar, err := envfile.Load(flags.Environment)
	if err != nil {
		return err
	}

	log.Infof("expanding dependency graph from %s", flags.File)
	root, err := graph.Expand(ctx, s, adapter, flags.File)
	if err != nil {
		return err
	}

	builder := build.New(s, adapter, sidecar, flags.Keep)
	if err := builder.Install(ctx, root); err != nil {
		return err
	}

	log.Infof("writing %s", flags.CMakeFile)
	return cmake.Write(flags.CMakeFile, root)
}

// prefetchAllRepositories implements --master: fetch origin in every
// already-cached bare repository before resolution begins.
func prefetchAllRepositories(ctx context.Context, s *store.Store, adapter *vcs.Adapter) error {
	dirs, err := s.RepositoryCacheDirs()
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		if err := adapter.UpdateRepositoryForPath(ctx, dir); err != nil {
			return err
		}
	}
	return nil
}
