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

package localstorage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultIgnorePatterns are the glob patterns excluded from a flow
// snapshot by default, matching the original's PromptflowIgnoreFile
// defaults (the authoring tool's own cache/VCS directories, never flow
// content).
var DefaultIgnorePatterns = []string{
	".promptflow/**",
	".git/**",
	"__pycache__/**",
	"*.pyc",
}

// DumpSnapshot copies flowDir into the run's snapshot folder, skipping
// any relative path matching a pattern in ignore (in addition to
// DefaultIgnorePatterns), then overwrites the copied flow.dag.yaml with
// dagPath -- the variant-resolved definition actually executed, so the
// snapshot reflects what ran rather than what was authored.
func (s *Storage) DumpSnapshot(flowDir, dagPath string, ignore []string) error {
	patterns := append(append([]string{}, DefaultIgnorePatterns...), ignore...)

	err := filepath.WalkDir(flowDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(flowDir, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if matchesAny(patterns, filepath.ToSlash(rel)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		dest := filepath.Join(s.snapshotDir, rel)
		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}
		return copyFile(path, dest)
	})
	if err != nil {
		return fmt.Errorf("localstorage: dumping snapshot from %s: %w", flowDir, err)
	}

	return copyFile(dagPath, s.dagPath)
}

// LoadDAG returns the snapshotted flow definition's raw contents.
func (s *Storage) LoadDAG() ([]byte, error) {
	return os.ReadFile(s.dagPath)
}

func matchesAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
