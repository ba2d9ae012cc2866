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

// Package identity maps arbitrary byte sequences (repository URLs,
// serialized variable maps, file contents) to the fixed-length hex
// identifiers depeche uses to name cache directories, and composes the
// cache paths built from those identifiers.
package identity

import (
	"crypto/sha1" //nolint:gosec // content-addressing only, not a security boundary
	"encoding/hex"
	"path/filepath"
	"sort"
	"strings"
)

// Encode returns the 40-character lowercase hex SHA-1 digest of b.
func Encode(b []byte) string {
	sum := sha1.Sum(b) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// EncodeString is Encode over the UTF-8 bytes of s.
func EncodeString(s string) string {
	return Encode([]byte(s))
}

// RepositoryCachePath returns the bare-clone cache directory for source
// under the repositories root.
func RepositoryCachePath(repositoriesRoot, source string) string {
	return filepath.Join(repositoriesRoot, EncodeString(source))
}

// RepositoryWorkingPath returns the non-bare working-checkout directory for
// source under the work root.
func RepositoryWorkingPath(workRoot, source string) string {
	return filepath.Join(workRoot, EncodeString(source))
}

// ManifestCachePath returns the per-revision manifest cache directory for a
// dependency identified by sourceKey, under the roots root.
func ManifestCachePath(rootsRoot, sourceKey, revision string) string {
	return filepath.Join(rootsRoot, EncodeString(sourceKey), revision)
}

// FileManifestCachePath returns the cache directory for a file dependency,
// keyed by the sha1 of its manifest contents.
func FileManifestCachePath(rootsRoot, contentsHash string) string {
	return filepath.Join(rootsRoot, contentsHash)
}

// RootPath returns the install-root directory for a dependency, encoding
// source identity, pinned revision, and variable fingerprint.
func RootPath(rootsRoot, sourceKey, revision, varsHash string) string {
	return filepath.Join(rootsRoot, EncodeString(sourceKey), revision, varsHash)
}

// BuildPath returns the transient build workspace for a given install root.
func BuildPath(tmpRoot, installRoot string) string {
	return filepath.Join(tmpRoot, EncodeString(installRoot))
}

// SerializeVars renders vars as the canonical byte sequence used to compute
// the variable fingerprint: keys sorted ascending, each rendered as
// "key-/-value" and concatenated without separators.
func SerializeVars(vars map[string]string) []byte {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("-/-")
		sb.WriteString(vars[k])
	}
	return []byte(sb.String())
}

// VarsFingerprint is Encode(SerializeVars(vars)).
func VarsFingerprint(vars map[string]string) string {
	return Encode(SerializeVars(vars))
}
