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

// Package manifest reads and validates a depeche.json document. Unknown
// fields are ignored; shape errors surface with file provenance.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/isode/depeche/pkg/depeche/derrors"
)

// DependencyRef is one entry of a manifest's dependencies list.
type DependencyRef struct {
	Name       string `json:"name"`
	SourceType string `json:"sourceType"`
	Source     string `json:"source"`
}

// Step is one element of buildSteps: either a plain command or a
// conditional group. Exactly one of Command or Commands is populated.
type Step struct {
	// Plain step fields.
	Command []string `json:"command,omitempty"`
	Path    string   `json:"path,omitempty"`

	// Conditional group fields.
	Commands  []Step `json:"commands,omitempty"`
	Condition string `json:"condition,omitempty"`
}

// IsPlain reports whether s is a plain {command, path?} step.
func (s Step) IsPlain() bool { return s.Command != nil }

// IsGroup reports whether s is a {commands, condition?} conditional group.
func (s Step) IsGroup() bool { return s.Commands != nil }

// Document is the parsed shape of a depeche.json file.
type Document struct {
	Source             string            `json:"source,omitempty"`
	DependencyVersions map[string]string `json:"dependencyVersions,omitempty"`
	Dependencies       []DependencyRef   `json:"dependencies,omitempty"`
	BuildSteps         []Step            `json:"buildSteps,omitempty"`
	NeededVariables    []string          `json:"neededVariables,omitempty"`
}

// Load reads and parses path. name identifies the Definition being loaded,
// for error messages only.
func Load(name, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, derrors.New(derrors.ManifestParse, "read manifest", path, fmt.Errorf("%s: %w", name, err))
	}
	return Parse(name, path, data)
}

// Parse decodes data as a depeche.json document, validating shape.
func Parse(name, path string, data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, derrors.New(derrors.ManifestParse, "parse manifest", path, fmt.Errorf("%s: %w", name, err))
	}

	for i, dep := range doc.Dependencies {
		if dep.Name == "" {
			return nil, derrors.New(derrors.ManifestParse, "validate manifest", path,
				fmt.Errorf("%s: dependencies[%d] missing required field \"name\"", name, i))
		}
		if dep.SourceType == "" {
			doc.Dependencies[i].SourceType = "git"
		} else if dep.SourceType != "git" && dep.SourceType != "file" {
			return nil, derrors.New(derrors.ManifestParse, "validate manifest", path,
				fmt.Errorf("%s: dependencies[%d] (%s) has unsupported sourceType %q", name, i, dep.Name, dep.SourceType))
		}
	}

	for i, step := range doc.BuildSteps {
		if step.IsPlain() == step.IsGroup() {
			return nil, derrors.New(derrors.ManifestParse, "validate manifest", path,
				fmt.Errorf("%s: buildSteps[%d] is neither a plain step nor a conditional group", name, i))
		}
	}

	return &doc, nil
}
