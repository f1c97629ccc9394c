// Copyright 2025 Tom Barlow
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

package run

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/promptflow/internal/cli"
	"github.com/tombee/promptflow/internal/config"
)

func TestOpenRunStore_Memory(t *testing.T) {
	env := &cli.Environment{Config: &config.Config{Run: config.RunConfig{Backend: "memory"}}}

	store, err := openRunStore(env)
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestOpenRunStore_SQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	env := &cli.Environment{Config: &config.Config{Run: config.RunConfig{Backend: "sqlite", SQLitePath: dbPath}}}

	store, err := openRunStore(env)
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestOpenRunStore_UnknownBackend(t *testing.T) {
	env := &cli.Environment{Config: &config.Config{Run: config.RunConfig{Backend: "carrier-pigeon"}}}

	_, err := openRunStore(env)
	assert.Error(t, err)
}
