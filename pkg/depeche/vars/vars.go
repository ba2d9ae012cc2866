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

// Package vars assembles the per-Definition Variable Map a recipe's
// %%NAME%% tokens and condition expressions are resolved against, and
// derives the variable fingerprint that participates in a Definition's
// install-root path.
package vars

import (
	"fmt"

	"github.com/isode/depeche/pkg/depeche/derrors"
	"github.com/isode/depeche/pkg/depeche/graph"
	"github.com/isode/depeche/pkg/depeche/identity"
	"github.com/isode/depeche/pkg/depeche/store"
)

// Assembled is the result of resolving one Definition's Variable Map.
type Assembled struct {
	// Vars is the full map, including INSTALL_ROOT.
	Vars map[string]string
	// Fingerprint is the sha1 of the canonical serialization of Vars as
	// it stood immediately before INSTALL_ROOT was added.
	Fingerprint string
	// InstallRoot is the computed install-root path, also present as
	// Vars["INSTALL_ROOT"].
	InstallRoot string
}

// Assemble builds def's Variable Map: dependency roots of its direct
// children, its declared neededVariables resolved against sidecar, the
// FULL_INSTALL built-in, and finally INSTALL_ROOT (added after the
// fingerprint is taken, so INSTALL_ROOT's own value never perturbs the
// fingerprint it participates in computing).
func Assemble(s *store.Store, def *graph.Definition, sidecar map[string]string) (*Assembled, error) {
	vars := graph.DependencyRoots(def)

	for _, name := range def.NeededVariables {
		v, ok := sidecar[name]
		if !ok {
			return nil, derrors.New(derrors.MissingVariable, "assemble variable map", def.Name, fmt.Errorf("neededVariables entry %q has no value in the environment", name))
		}
		vars[name] = v
	}

	vars["FULL_INSTALL"] = "True"

	fingerprint := identity.VarsFingerprint(vars)
	installRoot := identity.RootPath(s.Roots, def.SourceKey, def.Revision, fingerprint)
	vars["INSTALL_ROOT"] = installRoot

	return &Assembled{Vars: vars, Fingerprint: fingerprint, InstallRoot: installRoot}, nil
}
