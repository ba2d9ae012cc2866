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

package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isode/depeche/pkg/depeche/derrors"
)

func TestParseEmptyManifest(t *testing.T) {
	doc, err := Parse("root project", "depeche.json", []byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, doc.Dependencies)
	assert.Empty(t, doc.BuildSteps)
}

func TestParseDefaultsSourceTypeToGit(t *testing.T) {
	doc, err := Parse("root project", "depeche.json", []byte(`{
		"dependencies": [{"name": "Lib", "source": "https://example.test/lib.git"}]
	}`))
	require.NoError(t, err)
	require.Len(t, doc.Dependencies, 1)
	assert.Equal(t, "git", doc.Dependencies[0].SourceType)
}

func TestParseRejectsMissingName(t *testing.T) {
	_, err := Parse("root project", "depeche.json", []byte(`{
		"dependencies": [{"source": "https://example.test/lib.git"}]
	}`))
	require.Error(t, err)
	var derr *derrors.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, derrors.ManifestParse, derr.Kind)
}

func TestParseRejectsUnsupportedSourceType(t *testing.T) {
	_, err := Parse("root project", "depeche.json", []byte(`{
		"dependencies": [{"name": "Lib", "sourceType": "svn", "source": "x"}]
	}`))
	require.Error(t, err)
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	_, err := Parse("root project", "depeche.json", []byte(`not json`))
	require.Error(t, err)
	var derr *derrors.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, derrors.ManifestParse, derr.Kind)
}

func TestParseRejectsAmbiguousBuildStep(t *testing.T) {
	_, err := Parse("root project", "depeche.json", []byte(`{
		"buildSteps": [{"command": ["make"], "commands": [{"command": ["x"]}]}]
	}`))
	require.Error(t, err)
}

func TestParseConditionalGroup(t *testing.T) {
	doc, err := Parse("root project", "depeche.json", []byte(`{
		"buildSteps": [{"condition": "TOOLCHAIN == \"gcc\"", "commands": [{"command": ["make"]}]}]
	}`))
	require.NoError(t, err)
	require.Len(t, doc.BuildSteps, 1)
	assert.True(t, doc.BuildSteps[0].IsGroup())
	assert.False(t, doc.BuildSteps[0].IsPlain())
}
