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

package batch

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/tombee/promptflow/pkg/flow"
)

// EngineConfig configures one Engine.
type EngineConfig struct {
	Concurrency int
	LineTimeout time.Duration
	Heartbeat   time.Duration
}

// Engine is the top-level batch run orchestrator: it turns a flow
// definition and a set of raw input aliases into a Result by driving the
// Batch Input Processor, the Line Execution Pool, and the flow
// Executor's per-line and aggregation execution in sequence. It is
// grounded on the original implementation's batch/__init__.py, a thin
// orchestration entry point over the same three stages, and on
// internal/daemon/runner/runner.go's Runner shape (a struct wrapping an
// executor/backend pair exposing one Run-like entry point).
type Engine struct {
	def     *flow.Definition
	exec    *flow.Executor
	persist flow.PersistFunc
	logger  *slog.Logger
	cfg     EngineConfig
}

// NewEngine builds an Engine around an already-loaded flow Executor.
func NewEngine(def *flow.Definition, exec *flow.Executor, persist flow.PersistFunc, logger *slog.Logger, cfg EngineConfig) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{def: def, exec: exec, persist: persist, logger: logger, cfg: cfg}
}

// Run validates and merges aliases into per-line inputs via the Batch
// Input Processor, executes every line through the Line Execution Pool,
// then runs the flow's aggregation nodes (if any) once across every
// successful line's collected values, and returns the composed Result.
//
// A failure in input mapping is a batch-level error (nothing ran); a
// failure within an individual line is recorded on that line's LineResult
// and does not stop the rest of the batch, matching the original
// implementation's contract.
func (e *Engine) Run(ctx context.Context, runID string, aliases map[string][]map[string]interface{}, inputsMapping map[string]string) (*Result, error) {
	processor := NewInputsProcessor(e.def.Inputs, inputsMapping)
	lines, err := processor.Process(aliases)
	if err != nil {
		return nil, err
	}

	result := &Result{RunID: runID, Status: StatusRunning, Total: len(lines), Started: time.Now()}

	startMethodFromEnv(os.LookupEnv, e.logger)

	pool := NewPool(e.exec, runID, e.persist, e.logger, PoolConfig{
		Concurrency: e.cfg.Concurrency,
		LineTimeout: e.cfg.LineTimeout,
		Heartbeat:   e.cfg.Heartbeat,
	})
	result.Lines = pool.Run(ctx, lines)
	result.summarize()

	flowInputsLists, aggregationInputs := collectAggregationInputs(e.def, lines, result.Lines)
	aggRuns, err := e.exec.ExecAggregation(ctx, runID, flowInputsLists, aggregationInputs)
	if err != nil {
		e.logger.Warn("aggregation failed", "run_id", runID, "error", err)
	} else {
		result.AggregationRuns = aggRuns
	}

	result.Finished = time.Now()
	result.Status = StatusCompleted
	return result, nil
}

// collectAggregationInputs gathers, across every line that did not fail,
// each flow input's list of per-line values (flowInputsLists, keyed by
// flow input name) and each non-aggregation node's list of per-line
// output values (aggregationInputs, keyed by node name) -- both exposed
// to aggregation nodes under ${inputs.<name>}, since the aggregation
// subgraph's Context carries no other nodes' per-line results directly.
func collectAggregationInputs(def *flow.Definition, lineInputs []map[string]interface{}, results []flow.LineResult) (map[string]interface{}, map[string]interface{}) {
	flowInputsLists := make(map[string]interface{}, len(def.Inputs))
	for name := range def.Inputs {
		values := make([]interface{}, 0, len(lineInputs))
		for _, line := range lineInputs {
			values = append(values, line[name])
		}
		flowInputsLists[name] = values
	}

	aggregationInputs := make(map[string]interface{}, len(def.Nodes))
	for _, node := range def.Nodes {
		if node.Aggregation {
			continue
		}
		values := make([]interface{}, 0, len(results))
		for _, r := range results {
			if r.NodeRuns == nil {
				values = append(values, nil)
				continue
			}
			if info, ok := r.NodeRuns[node.Name]; ok {
				values = append(values, info.Output)
			} else {
				values = append(values, nil)
			}
		}
		aggregationInputs[node.Name] = values
	}
	return flowInputsLists, aggregationInputs
}
