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

// Package localstorage implements the durable on-disk layout for one
// batch run: a snapshot of the flow directory, per-line and per-node
// artifact files, run metrics, and an optional exception record. It is
// the Go rendering of original_source's LocalStorageOperations.
package localstorage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// LineNumberWidth is the zero-padding width used for block and
// reduce-node artifact filenames, matching LocalStorageOperations.LINE_NUMBER_WIDTH.
const LineNumberWidth = 9

// BatchSize is the number of lines grouped into one flow_artifacts
// block file, matching the original's LOCAL_STORAGE_BATCH_SIZE.
const BatchSize = 25

// Filenames used directly under the run's output path, matching
// LocalStorageFilenames in the original.
const (
	filenameMeta      = "meta.json"
	filenameMetrics   = "metrics.json"
	filenameException = "exception.json"
	filenameInputs    = "inputs.jsonl"
	filenameOutputs   = "outputs.jsonl"
	filenameLog       = "log"
	filenameDAG       = "flow.dag.yaml"
	snapshotDirName   = "snapshot"
)

// Storage is the local storage root for one batch run, rooted at
// outputPath.
type Storage struct {
	path   string
	logger *slog.Logger

	snapshotDir  string
	dagPath      string
	outputsDir   string
	outputsPath  string
	nodeInfosDir string
	runInfosDir  string

	metaPath      string
	metricsPath   string
	exceptionPath string
	inputsPath    string
	sdkOutputPath string
	logPath       string
}

// New prepares the on-disk layout rooted at outputPath, creating every
// directory the layout needs and writing meta.json. It does not dump
// the flow snapshot; call DumpSnapshot separately once the flow
// directory to copy is known.
func New(outputPath string, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Storage{path: outputPath, logger: logger}
	if err := prepareFolder(s.path); err != nil {
		return nil, err
	}

	s.snapshotDir = filepath.Join(s.path, snapshotDirName)
	if err := prepareFolder(s.snapshotDir); err != nil {
		return nil, err
	}
	s.dagPath = filepath.Join(s.snapshotDir, filenameDAG)

	s.outputsDir = filepath.Join(s.path, "flow_outputs")
	if err := prepareFolder(s.outputsDir); err != nil {
		return nil, err
	}
	s.outputsPath = filepath.Join(s.outputsDir, "output.jsonl")

	s.nodeInfosDir = filepath.Join(s.path, "node_artifacts")
	if err := prepareFolder(s.nodeInfosDir); err != nil {
		return nil, err
	}
	s.runInfosDir = filepath.Join(s.path, "flow_artifacts")
	if err := prepareFolder(s.runInfosDir); err != nil {
		return nil, err
	}

	s.metaPath = filepath.Join(s.path, filenameMeta)
	s.metricsPath = filepath.Join(s.path, filenameMetrics)
	s.exceptionPath = filepath.Join(s.path, filenameException)
	s.inputsPath = filepath.Join(s.path, filenameInputs)
	s.sdkOutputPath = filepath.Join(s.path, filenameOutputs)
	s.logPath = filepath.Join(s.path, filenameLog)

	if err := s.dumpMeta(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the run's output root.
func (s *Storage) Path() string { return s.path }

// LogPath returns the path of the run's combined log file.
func (s *Storage) LogPath() string { return s.logPath }

func (s *Storage) dumpMeta() error {
	return writeJSONFile(s.metaPath, map[string]interface{}{"batch_size": BatchSize})
}

func prepareFolder(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("localstorage: preparing folder %s: %w", path, err)
	}
	return nil
}

func writeJSONFile(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("localstorage: marshaling %s: %w", path, err)
	}
	return os.WriteFile(path, data, 0o644)
}
