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

// Package envfile loads the sidecar environment map a manifest's
// neededVariables are resolved against, optionally overlaid with a local
// ".depeche.env" file so a developer can pin ambient toolchain variables
// without editing the checked-in sidecar.
package envfile

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/isode/depeche/pkg/depeche/derrors"
)

// localOverrideFile is looked up relative to the current working directory,
// the same way the teacher's pkg/config/config.go resolves a local
// godotenv-backed vars file.
const localOverrideFile = ".depeche.env"

// Load reads sidecarPath (a JSON object of string keys to string values;
// "" means no --environment flag was given, so the sidecar contributes
// nothing) and merges localOverrideFile underneath it: sidecar values win
// on key collision.
func Load(sidecarPath string) (map[string]string, error) {
	merged := map[string]string{}

	if local, err := godotenv.Read(localOverrideFile); err == nil {
		for k, v := range local {
			merged[k] = v
		}
	} else if !os.IsNotExist(err) {
		return nil, derrors.New(derrors.ManifestParse, "read local environment overrides", localOverrideFile, err)
	}

	if sidecarPath == "" {
		return merged, nil
	}

	data, err := os.ReadFile(sidecarPath)
	if err != nil {
		return nil, derrors.New(derrors.ManifestParse, "read sidecar environment", sidecarPath, err)
	}

	var sidecar map[string]string
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return nil, derrors.New(derrors.ManifestParse, "parse sidecar environment", sidecarPath, fmt.Errorf("expected a flat JSON object of strings: %w", err))
	}
	for k, v := range sidecar {
		merged[k] = v
	}
	return merged, nil
}
