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

// Package run holds the "run" command group: create and show, the two
// in-scope operator commands for executing a batch and inspecting its
// local storage, named in SPEC_FULL.md's CLI surface.
package run

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tombee/promptflow/internal/cli"
	"github.com/tombee/promptflow/pkg/batch"
	"github.com/tombee/promptflow/pkg/localstorage"
	pfrun "github.com/tombee/promptflow/pkg/run"
)

const dataAlias = "data"

// NewCreateCommand creates the "run create" command: execute a batch
// of lines read from a JSONL data file against a flow.
func NewCreateCommand(flags *cli.GlobalFlags) *cobra.Command {
	var (
		dataFile    string
		outputDir   string
		mappings    []string
		concurrency int
		lineTimeout string
		name        string
	)

	cmd := &cobra.Command{
		Use:   "create <flow-path>",
		Short: "Execute a batch run against a data file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flowFile := cli.DefaultFlowFile(args[0])

			lines, err := readJSONL(dataFile)
			if err != nil {
				return &cli.ExitError{Code: cli.ExitMissingInput, Message: "reading data file", Cause: err}
			}

			mapping, err := parseMapping(mappings)
			if err != nil {
				return &cli.ExitError{Code: cli.ExitMissingInput, Message: "parsing --mapping", Cause: err}
			}

			var timeout time.Duration
			if lineTimeout != "" {
				timeout, err = time.ParseDuration(lineTimeout)
				if err != nil {
					return &cli.ExitError{Code: cli.ExitMissingInput, Message: "parsing --line-timeout", Cause: err}
				}
			}

			ctx := cmd.Context()
			env, err := cli.NewEnvironment(ctx, flags)
			if err != nil {
				return err
			}
			defer env.Close(ctx)

			if concurrency == 0 {
				concurrency = env.Config.Engine.Concurrency
			}
			if timeout == 0 {
				timeout = env.Config.Engine.LineTimeout
			}

			exec, def, err := env.LoadExecutor(flowFile, concurrency)
			if err != nil {
				return err
			}

			runID := uuid.NewString()
			if outputDir == "" {
				outputDir = env.Config.RunsDir + "/" + runID
			}
			storage, err := localstorage.New(outputDir, env.Logger)
			if err != nil {
				return fmt.Errorf("preparing run storage: %w", err)
			}
			if err := storage.DumpSnapshot(flowDirOf(flowFile), flowFile, nil); err != nil {
				env.Logger.Warn("failed to snapshot flow directory", "error", err)
			}

			engine := batch.NewEngine(def, exec, storage.PersistNodeRun, env.Logger, batch.EngineConfig{
				Concurrency: concurrency,
				LineTimeout: timeout,
				Heartbeat:   env.Config.Engine.Heartbeat,
			})

			aliases := map[string][]map[string]interface{}{dataAlias: lines}
			result, runErr := engine.Run(ctx, runID, aliases, mapping)

			store, storeErr := openRunStore(env)
			if storeErr != nil {
				env.Logger.Warn("failed to open run store", "error", storeErr)
			}

			if result != nil {
				if persistErr := storage.PersistResult(result, lines); persistErr != nil {
					env.Logger.Warn("failed to persist result", "error", persistErr)
				}
				if persistErr := storage.DumpException(runErr, result); persistErr != nil {
					env.Logger.Warn("failed to persist exception", "error", persistErr)
				}
				if store != nil {
					recordRun(ctx, store, runID, name, flowFile, outputDir, result)
				}
			}

			if runErr != nil {
				return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: "batch run failed", Cause: runErr}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "run %s completed: %d/%d lines succeeded, output at %s\n",
				runID, result.CompletedLines, result.Total, outputDir)
			if result.Error != nil {
				return &cli.ExitError{Code: cli.ExitExecutionFailed, Message: result.Error.Error()}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dataFile, "data", "", "JSONL file with batch input lines (required)")
	cmd.Flags().StringVar(&outputDir, "output", "", "Run output directory (default: runs_dir/<run-id>)")
	cmd.Flags().StringSliceVar(&mappings, "mapping", nil, "Input mapping in name=expression format, e.g. question=${data.question}")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Line concurrency (default: from config)")
	cmd.Flags().StringVar(&lineTimeout, "line-timeout", "", "Per-line timeout, e.g. 30s (default: from config)")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable name for the run record")
	cmd.MarkFlagRequired("data")

	return cmd
}

func recordRun(ctx context.Context, store pfrun.Store, runID, name, flowPath, outputPath string, result *batch.Result) {
	r := &pfrun.Run{
		ID:         runID,
		Name:       name,
		FlowPath:   flowPath,
		Status:     pfrun.Status(result.Status),
		OutputPath: outputPath,
		BatchSize:  result.Total,
		Completed:  result.CompletedLines,
		Failed:     result.FailedLines,
		CreatedAt:  result.Started,
		UpdatedAt:  result.Finished,
	}
	if result.Error != nil {
		r.Error = result.Error.Error()
	}
	if err := store.Create(ctx, r); err != nil {
		return
	}
}

func readJSONL(path string) ([]map[string]interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var record map[string]interface{}
		if err := json.Unmarshal([]byte(text), &record); err != nil {
			return nil, fmt.Errorf("parsing line %d: %w", len(lines)+1, err)
		}
		lines = append(lines, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func parseMapping(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --mapping %q, expected name=expression", pair)
		}
		out[key] = value
	}
	return out, nil
}

func flowDirOf(flowFile string) string {
	return filepath.Dir(flowFile)
}
