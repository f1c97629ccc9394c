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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tombee/promptflow/pkg/batch"
	"github.com/tombee/promptflow/pkg/flow"
)

// nodeRunRecord is the on-disk shape of one node_artifacts/*.jsonl line,
// the Go rendering of the original's NodeRunRecord dataclass.
type nodeRunRecord struct {
	NodeName  string          `json:"NodeName"`
	Line      int             `json:"line_number"`
	RunInfo   json.RawMessage `json:"run_info"`
	StartTime string          `json:"start_time"`
	EndTime   string          `json:"end_time"`
	Status    string          `json:"status"`
}

// lineRunRecord is the on-disk shape of one flow_artifacts/*.jsonl line.
type lineRunRecord struct {
	Line      int             `json:"line_number"`
	RunInfo   json.RawMessage `json:"run_info"`
	StartTime string          `json:"start_time"`
	EndTime   string          `json:"end_time"`
	Status    string          `json:"status"`
}

// PersistNodeRun writes one node's run record to
// node_artifacts/<node>/<line>.jsonl. info.Index nil (an aggregation
// node's single run) is recorded at line 0, matching the original's
// "reduce nodes write to 000000000.jsonl" convention -- the one target
// filename multiple code paths can race to write, so it alone is
// written under a file lock.
func (s *Storage) PersistNodeRun(info *flow.NodeRunInfo) error {
	nodeDir := filepath.Join(s.nodeInfosDir, info.Node)
	if err := prepareFolder(nodeDir); err != nil {
		return err
	}

	line := 0
	if info.Index != nil {
		line = *info.Index
	}
	filename := fmt.Sprintf("%0*d.jsonl", LineNumberWidth, line)
	path := filepath.Join(nodeDir, filename)

	runInfo, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("localstorage: marshaling node run info: %w", err)
	}
	record := nodeRunRecord{
		NodeName:  info.Node,
		Line:      line,
		RunInfo:   runInfo,
		StartTime: info.StartTime.Format(timeLayout),
		EndTime:   info.EndTime.Format(timeLayout),
		Status:    string(info.Status),
	}

	if info.Index == nil {
		return s.writeLockedJSONLine(path, record)
	}
	return writeJSONLine(path, record)
}

// PersistFlowRun writes one line's run record to the block file
// flow_artifacts/<lo>_<hi>.jsonl, where [lo, hi] is the BatchSize-sized
// range containing the line's index. Only terminal flow run infos are
// persisted -- a line still in flight has nothing durable to record
// yet, matching the original's "is_terminated" guard.
func (s *Storage) PersistFlowRun(info *flow.FlowRunInfo) error {
	if !info.Status.IsTerminated() {
		return nil
	}

	line := 0
	if info.Index != nil {
		line = *info.Index
	}
	lower := (line / BatchSize) * BatchSize
	upper := lower + BatchSize - 1
	filename := fmt.Sprintf("%0*d_%0*d.jsonl", LineNumberWidth, lower, LineNumberWidth, upper)
	path := filepath.Join(s.runInfosDir, filename)

	runInfo, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("localstorage: marshaling flow run info: %w", err)
	}
	record := lineRunRecord{
		Line:      line,
		RunInfo:   runInfo,
		StartTime: info.StartTime.Format(timeLayout),
		EndTime:   info.EndTime.Format(timeLayout),
		Status:    string(info.Status),
	}

	if BatchSize > 1 {
		return s.writeLockedJSONLine(path, record)
	}
	return writeJSONLine(path, record)
}

// PersistResult dumps the inputs/outputs tables and metrics for a
// finished batch, then persists each line's FlowRunInfo and NodeRunInfo
// records. inputs holds each line's resolved inputs, aligned by index
// with result.Lines.
func (s *Storage) PersistResult(result *batch.Result, inputs []map[string]interface{}) error {
	if result == nil {
		return nil
	}

	if err := s.dumpInputsAndOutputs(result, inputs); err != nil {
		return err
	}
	if err := writeJSONFile(s.metricsPath, batchMetrics(result)); err != nil {
		return err
	}

	for i, line := range result.Lines {
		flowInfo := buildFlowRunInfo(result.RunID, i, line)
		if err := s.PersistFlowRun(flowInfo); err != nil {
			return err
		}
		for _, nodeRun := range line.NodeRuns {
			if err := s.PersistNodeRun(nodeRun); err != nil {
				return err
			}
		}
	}
	for _, nodeRun := range result.AggregationRuns {
		if err := s.PersistNodeRun(nodeRun); err != nil {
			return err
		}
	}
	return nil
}

// DumpException writes exception.json describing why a batch failed --
// either a batch-level error (input mapping failure before any line
// ran) or a summary of the first failing line, matching the original's
// "don't write the file at all when nothing failed" contract.
func (s *Storage) DumpException(batchErr error, result *batch.Result) error {
	var message string
	switch {
	case batchErr != nil:
		message = batchErr.Error()
	case result != nil && result.Error != nil:
		message = result.Error.Error()
	default:
		return nil
	}

	payload := map[string]interface{}{"message": message}
	if result != nil && result.Error != nil {
		payload["failed_lines"] = result.Error.FailedLines
		payload["total_lines"] = result.Error.TotalLines
		payload["line_errors"] = result.Error.Lines
	}
	return writeJSONFile(s.exceptionPath, payload)
}

// LoadException reads exception.json, returning an empty map if the
// file is absent -- a batch with no failures never writes it.
func (s *Storage) LoadException() (map[string]interface{}, error) {
	data, err := os.ReadFile(s.exceptionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]interface{}{}, nil
		}
		return nil, fmt.Errorf("localstorage: reading exception.json: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("localstorage: parsing exception.json: %w", err)
	}
	return out, nil
}

// LoadMetrics reads metrics.json.
func (s *Storage) LoadMetrics() (map[string]interface{}, error) {
	data, err := os.ReadFile(s.metricsPath)
	if err != nil {
		return nil, fmt.Errorf("localstorage: reading metrics.json: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("localstorage: parsing metrics.json: %w", err)
	}
	return out, nil
}

func batchMetrics(result *batch.Result) map[string]interface{} {
	return map[string]interface{}{
		"total_lines":      result.Total,
		"completed_lines":  result.CompletedLines,
		"failed_lines":     result.FailedLines,
		"duration_seconds": result.Duration().Seconds(),
	}
}

func buildFlowRunInfo(runID string, index int, line flow.LineResult) *flow.FlowRunInfo {
	idx := index
	status := flow.StatusCompleted
	var errDetail map[string]interface{}
	if line.Err != nil {
		status = flow.StatusFailed
		errDetail = map[string]interface{}{"message": line.Err.Error()}
	}
	return &flow.FlowRunInfo{
		RunID:       runID,
		Status:      status,
		ErrorDetail: errDetail,
		Output:      line.Output,
		Index:       &idx,
		NodeRuns:    line.NodeRuns,
	}
}

const timeLayout = "2006-01-02T15:04:05.000000"

func writeJSONLine(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *Storage) writeLockedJSONLine(path string, v interface{}) error {
	lockPath := path + ".lock"
	lock, err := acquireFileLock(lockPath)
	if err != nil {
		return err
	}
	defer lock.release()

	return writeJSONLine(path, v)
}
