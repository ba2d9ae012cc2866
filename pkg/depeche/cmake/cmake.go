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

// Package cmake writes the generated CMake include file exporting each
// direct dependency's install root and prepending it to CMAKE_MODULE_PATH.
package cmake

import (
	"fmt"
	"os"
	"strings"

	"github.com/isode/depeche/pkg/depeche/derrors"
	"github.com/isode/depeche/pkg/depeche/graph"
)

// Write renders root's direct dependencies into path: a SET(...) line per
// dependency, then a list(INSERT CMAKE_MODULE_PATH 0 ...) line per
// dependency, in the order produced by orderedRoots.
func Write(path string, root *graph.Definition) error {
	deps := orderedRoots(root)

	var sb strings.Builder
	for _, d := range deps {
		fmt.Fprintf(&sb, "SET(%s_ROOT %s)\n", strings.ToUpper(d.Name), d.Root)
	}
	for _, d := range deps {
		fmt.Fprintf(&sb, "list(INSERT CMAKE_MODULE_PATH 0 %q)\n", d.Root)
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return derrors.New(derrors.FilesystemFailure, "write cmake include", path, err)
	}
	return nil
}

// orderedRoots returns root's built direct children (file dependencies
// contribute no root and are excluded), in declaration order except that
// the first dependency whose uppercased name contains "CMAKE" is moved to
// the front: since list(INSERT CMAKE_MODULE_PATH 0 ...) repeatedly
// prepends, emitting that entry first leaves it last in the final search
// order.
func orderedRoots(root *graph.Definition) []*graph.Definition {
	var deps []*graph.Definition
	for _, child := range root.Children {
		if child.Kind != graph.GitKind {
			continue
		}
		deps = append(deps, child)
	}

	for i, d := range deps {
		if strings.Contains(strings.ToUpper(d.Name), "CMAKE") {
			hoisted := make([]*graph.Definition, 0, len(deps))
			hoisted = append(hoisted, d)
			hoisted = append(hoisted, deps[:i]...)
			hoisted = append(hoisted, deps[i+1:]...)
			return hoisted
		}
	}
	return deps
}
