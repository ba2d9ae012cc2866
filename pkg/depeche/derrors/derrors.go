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

// Package derrors defines the error kinds surfaced across depeche's
// resolver and builder pipeline.
package derrors

import "fmt"

// Kind classifies a depeche error for callers that want to branch on it
// with errors.As, without parsing the message.
type Kind string

const (
	ManifestParse      Kind = "manifest_parse"
	MissingVariable    Kind = "missing_variable"
	MissingRevision    Kind = "missing_revision"
	VCSFailure         Kind = "vcs_failure"
	BuildFailure       Kind = "build_failure"
	UnsubstitutedToken Kind = "unsubstituted_token"
	FilesystemFailure  Kind = "filesystem_failure"
	CacheCollision     Kind = "cache_collision"
)

// Error is a depeche operation failure: what was being done (Op), what it
// was being done to (Target), and the underlying cause.
type Error struct {
	Kind   Kind
	Op     string
	Target string
	Err    error
}

func (e *Error) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error, wrapping err (which may be nil, for kinds that
// are raised without an underlying cause).
func New(kind Kind, op, target string, err error) *Error {
	return &Error{Kind: kind, Op: op, Target: target, Err: err}
}
