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

// Package batch validates and merges batch run inputs, drives per-line
// execution across a bounded worker pool, and assembles the resulting
// BatchResult.
package batch

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tombee/promptflow/pkg/errors"
	"github.com/tombee/promptflow/pkg/flow"
)

// reservedLineNumberKey is the mapping key the original implementation
// silently drops rather than rejects -- callers commonly carry it through
// from a previous merge step.
const reservedLineNumberKey = "line_number"

// InputsProcessor validates a batch run's inputs_mapping against a flow's
// declared inputs and merges the run's named alias record lists into one
// ordered list of per-line input maps. It is grounded on
// BatchInputsProcessor in original_source's
// executor/_result.py-adjacent batch input handling, specifically the
// behavior captured in
// tests/executor/unittests/batch/test_batch_inputs_processor.py.
type InputsProcessor struct {
	flowInputs map[string]flow.InputDefinition
	mapping    map[string]string
}

// NewInputsProcessor builds a processor for one flow definition and its
// configured inputs_mapping (may be nil or empty, in which case a mapping
// is auto-generated per flow input).
func NewInputsProcessor(flowInputs map[string]flow.InputDefinition, mapping map[string]string) *InputsProcessor {
	return &InputsProcessor{flowInputs: flowInputs, mapping: mapping}
}

// Process merges aliases by line number and resolves the effective
// inputs_mapping against each merged line, returning an ascending
// line-number-ordered list of per-line input maps ready to pass to
// Executor.ExecLine.
//
// aliases holds each named input source ("data", "baseline", a parent
// run's "run" outputs, ...) as a list of records.
func (p *InputsProcessor) Process(aliases map[string][]map[string]interface{}) ([]map[string]interface{}, error) {
	for key, records := range aliases {
		if len(records) == 0 {
			return nil, &errors.UserError{Message: fmt.Sprintf(
				"The input for batch run is incorrect. Input from key '%s' is an empty list, which means we cannot generate a single line input for the flow run. Please rectify the input and try again.",
				key,
			)}
		}
	}

	merged, err := mergeInputDictsByLine(aliases)
	if err != nil {
		return nil, err
	}

	effectiveMapping, err := p.effectiveMapping()
	if err != nil {
		return nil, err
	}

	lines := make([]map[string]interface{}, 0, len(merged))
	for _, line := range merged {
		resolved, err := applyInputsMapping(line, effectiveMapping)
		if err != nil {
			return nil, err
		}
		if v, ok := line[reservedLineNumberKey]; ok {
			resolved[reservedLineNumberKey] = v
		}
		lines = append(lines, resolved)
	}
	return lines, nil
}

// effectiveMapping auto-generates a `${data.name}` entry for every flow
// input that the configured mapping leaves unmapped and that has no
// declared default. It is an error for p.mapping to be nil and for the
// flow to declare no inputs at all to auto-generate from -- reaching
// that state means the flow has required inputs that nothing, including
// auto-generation, can satisfy.
func (p *InputsProcessor) effectiveMapping() (map[string]string, error) {
	out := make(map[string]string, len(p.mapping)+len(p.flowInputs))
	for k, v := range p.mapping {
		if k == reservedLineNumberKey {
			continue
		}
		out[k] = v
	}

	for name, def := range p.flowInputs {
		if _, mapped := out[name]; mapped {
			continue
		}
		if def.Default != nil {
			continue
		}
		out[name] = fmt.Sprintf("${data.%s}", name)
	}

	if p.mapping == nil && len(p.flowInputs) == 0 {
		return nil, &errors.SystemError{Message: "The input for batch run is incorrect. Please make sure to set up a proper input mapping before proceeding. If you need additional help, feel free to contact support for further assistance."}
	}
	return out, nil
}

// applyInputsMapping resolves each `${alias.path...}` expression in
// mapping against line, a merged per-line record whose top-level keys are
// alias names (e.g. "data", "baseline") mapping to that alias's record for
// this line. A literal value (not a `${...}` reference) passes through
// unchanged.
//
// Resolution tries the shortest alias prefix first and treats everything
// after it as one flat (possibly dotted) key into that alias's record, so
// a shorter, more specific input key always wins over a longer dotted key
// that could also match -- grounded on test_apply_inputs_mapping's
// "shorter input key has higher priority" fixture.
func applyInputsMapping(line map[string]interface{}, mapping map[string]string) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(mapping))
	var unresolved []string

	for key, expr := range mapping {
		if key == reservedLineNumberKey {
			continue
		}
		path, isRef := referencePath(expr)
		if !isRef {
			result[key] = expr
			continue
		}
		v, ok := resolveAliasPath(line, path)
		if !ok {
			unresolved = append(unresolved, expr)
			continue
		}
		result[key] = v
	}

	if len(unresolved) > 0 {
		sort.Strings(unresolved)
		return nil, &errors.InputMappingError{
			Expression: strings.Join(unresolved, ", "),
			Reason:     "please make sure your input mapping keys and values match your YAML input section and input data",
		}
	}
	return result, nil
}

// referencePath reports whether expr is a `${...}` reference and, if so,
// its inner dotted path.
func referencePath(expr string) (string, bool) {
	if !strings.HasPrefix(expr, "${") || !strings.HasSuffix(expr, "}") {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(expr, "${"), "}"), true
}

// resolveAliasPath walks path's dot-separated components, trying the
// shortest leading prefix as an alias name first and the remainder as one
// flat key into that alias's record. Falls back to treating the whole
// path as a single top-level key.
func resolveAliasPath(line map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	for i := 1; i < len(parts); i++ {
		alias := strings.Join(parts[:i], ".")
		record, ok := line[alias].(map[string]interface{})
		if !ok {
			continue
		}
		rest := strings.Join(parts[i:], ".")
		if v, ok := record[rest]; ok {
			return v, true
		}
	}
	if v, ok := line[path]; ok {
		return v, true
	}
	return nil, false
}

// mergeInputDictsByLine aligns each alias's record list into one merged
// list of per-line dicts, keyed by an injected top-level "line_number".
//
// An alias whose records all carry an explicit numeric "line_number"
// field is aligned by that field; otherwise its records are aligned by
// position (index == line number), and the "all-or-nothing" rule means a
// partial declaration within one alias (some records tagged, some not) is
// treated as no declaration at all for that alias.
//
// The merged result's line numbers are the intersection of every alias's
// available line numbers. If no alias declares an explicit line number,
// every alias must have the same length, or this is an InputMappingError
// naming each alias's length.
func mergeInputDictsByLine(aliases map[string][]map[string]interface{}) ([]map[string]interface{}, error) {
	type resolvedAlias struct {
		name   string
		byLine map[int]map[string]interface{}
	}

	resolved := make([]resolvedAlias, 0, len(aliases))
	lengths := make(map[string]int, len(aliases))
	anyExplicit := false

	for name, records := range aliases {
		lengths[name] = len(records)
		if byLine, ok := explicitLineNumbers(records); ok {
			resolved = append(resolved, resolvedAlias{name: name, byLine: byLine})
			anyExplicit = true
			continue
		}
		byLine := make(map[int]map[string]interface{}, len(records))
		for i, r := range records {
			byLine[i] = r
		}
		resolved = append(resolved, resolvedAlias{name: name, byLine: byLine})
	}

	if !anyExplicit {
		first := -1
		for _, l := range lengths {
			if first == -1 {
				first = l
				continue
			}
			if l != first {
				return nil, &errors.InputMappingError{
					Reason: fmt.Sprintf("Line numbers are not aligned. Some lists have dictionaries missing the 'line_number' key, and the lengths of these lists are different. List lengths are: %s. Please make sure these lists have the same length or add 'line_number' key to each dictionary.", formatLengths(lengths)),
				}
			}
		}
	}

	var common map[int]bool
	for _, a := range resolved {
		if common == nil {
			common = make(map[int]bool, len(a.byLine))
			for ln := range a.byLine {
				common[ln] = true
			}
			continue
		}
		for ln := range common {
			if _, ok := a.byLine[ln]; !ok {
				delete(common, ln)
			}
		}
	}

	lineNumbers := make([]int, 0, len(common))
	for ln := range common {
		lineNumbers = append(lineNumbers, ln)
	}
	sort.Ints(lineNumbers)

	merged := make([]map[string]interface{}, 0, len(lineNumbers))
	for _, ln := range lineNumbers {
		line := map[string]interface{}{reservedLineNumberKey: ln}
		for _, a := range resolved {
			line[a.name] = a.byLine[ln]
		}
		merged = append(merged, line)
	}
	return merged, nil
}

// explicitLineNumbers returns a line_number -> record map if every record
// carries a numeric "line_number" field, and false otherwise.
func explicitLineNumbers(records []map[string]interface{}) (map[int]map[string]interface{}, bool) {
	out := make(map[int]map[string]interface{}, len(records))
	for _, r := range records {
		raw, ok := r[reservedLineNumberKey]
		if !ok {
			return nil, false
		}
		n, ok := toInt(raw)
		if !ok {
			return nil, false
		}
		out[n] = r
	}
	return out, true
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

func formatLengths(lengths map[string]int) string {
	names := make([]string, 0, len(lengths))
	for name := range lengths {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("'%s': %d", name, lengths[name]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
