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
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tombee/promptflow/pkg/batch"
)

// failedOutputPlaceholder is written into a failed line's output cells
// when the tabular outputs view is padded, matching the original's
// literal "(Failed)" fill value.
const failedOutputPlaceholder = "(Failed)"

// dumpInputsAndOutputs writes inputs.jsonl and outputs.jsonl: one JSON
// object per line, in line-index order, with every failed line's
// output padded with failedOutputPlaceholder so both files align on
// line count.
func (s *Storage) dumpInputsAndOutputs(result *batch.Result, inputs []map[string]interface{}) error {
	inFile, err := os.Create(s.inputsPath)
	if err != nil {
		return fmt.Errorf("localstorage: creating inputs.jsonl: %w", err)
	}
	defer inFile.Close()
	inWriter := bufio.NewWriter(inFile)

	outFile, err := os.Create(s.sdkOutputPath)
	if err != nil {
		return fmt.Errorf("localstorage: creating outputs.jsonl: %w", err)
	}
	defer outFile.Close()
	outWriter := bufio.NewWriter(outFile)

	for i, line := range result.Lines {
		var record map[string]interface{}
		if i < len(inputs) {
			record = inputs[i]
		} else {
			record = map[string]interface{}{}
		}
		if err := writeJSONLLine(inWriter, withLineNumber(record, i)); err != nil {
			return err
		}

		output := line.Output
		if output == nil || line.Err != nil {
			output = map[string]interface{}{"output": failedOutputPlaceholder}
		}
		if err := writeJSONLLine(outWriter, withLineNumber(output, i)); err != nil {
			return err
		}
	}

	if err := inWriter.Flush(); err != nil {
		return err
	}
	return outWriter.Flush()
}

func withLineNumber(record map[string]interface{}, line int) map[string]interface{} {
	out := make(map[string]interface{}, len(record)+1)
	for k, v := range record {
		out[k] = v
	}
	out["line_number"] = line
	return out
}

func writeJSONLLine(w *bufio.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

// LoadDetail returns every persisted flow run and node run record,
// collected from the flow_artifacts and node_artifacts directories --
// the fallback path the original takes when no consolidated
// detail.json is present, which this module never writes.
func (s *Storage) LoadDetail() (map[string][]json.RawMessage, error) {
	flowRuns, err := loadJSONLObjects(s.runInfosDir, "run_info")
	if err != nil {
		return nil, err
	}
	var nodeRuns []json.RawMessage
	nodeDirs, err := os.ReadDir(s.nodeInfosDir)
	if err != nil {
		if os.IsNotExist(err) {
			nodeDirs = nil
		} else {
			return nil, fmt.Errorf("localstorage: reading node_artifacts: %w", err)
		}
	}
	for _, dir := range nodeDirs {
		if !dir.IsDir() {
			continue
		}
		nodeDirPath := filepath.Join(s.nodeInfosDir, dir.Name())
		runs, err := loadJSONLObjects(nodeDirPath, "run_info")
		if err != nil {
			return nil, err
		}
		nodeRuns = append(nodeRuns, runs...)
	}
	return map[string][]json.RawMessage{"flow_runs": flowRuns, "node_runs": nodeRuns}, nil
}

// loadJSONLObjects reads the "field" key out of every *.jsonl file in
// dir, sorted by filename, skipping any non-.jsonl entry -- matching
// the original's "skip multimedia files in the same folder" guard.
func loadJSONLObjects(dir, field string) ([]json.RawMessage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("localstorage: reading %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".jsonl") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]json.RawMessage, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("localstorage: reading %s: %w", name, err)
		}
		var record map[string]json.RawMessage
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("localstorage: parsing %s: %w", name, err)
		}
		if v, ok := record[field]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}
