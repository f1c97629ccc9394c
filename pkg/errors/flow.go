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

package errors

import "fmt"

// UserError represents a failure attributable to the flow author or caller:
// an invalid flow definition, bad input mapping, a missing connection, or a
// tool raising an exception that is itself user-attributable.
type UserError struct {
	// Node is the node name the error occurred in, if any.
	Node string

	// Line is the batch line number the error occurred on, if applicable.
	Line int

	// Message is the human-readable error description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *UserError) Error() string {
	switch {
	case e.Node != "" && e.Line > 0:
		return fmt.Sprintf("line %d, node %s: %s", e.Line, e.Node, e.Message)
	case e.Node != "":
		return fmt.Sprintf("node %s: %s", e.Node, e.Message)
	default:
		return e.Message
	}
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *UserError) Unwrap() error {
	return e.Cause
}

// SystemError represents an internal invariant violation: something the
// engine itself should never produce, as opposed to a mistake in the flow
// definition or the tool's own logic.
type SystemError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *SystemError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *SystemError) Unwrap() error {
	return e.Cause
}

// ToolExecutionError wraps an exception raised by a tool's own invocation,
// attributing it to the node and module that ran it.
type ToolExecutionError struct {
	Node   string
	Module string
	Cause  error
}

// Error implements the error interface.
func (e *ToolExecutionError) Error() string {
	if e.Module != "" {
		return fmt.Sprintf("tool execution failed in node %q (%s): %v", e.Node, e.Module, e.Cause)
	}
	return fmt.Sprintf("tool execution failed in node %q: %v", e.Node, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ToolExecutionError) Unwrap() error {
	return e.Cause
}

// ResolveToolError wraps a failure to load or bind a node's tool (missing
// tool name, unresolvable connection, bad signature). It inherits the
// classification of its inner cause rather than adding one of its own.
type ResolveToolError struct {
	Node  string
	Cause error
}

// Error implements the error interface.
func (e *ResolveToolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tool load failed in %q: %v", e.Node, e.Cause)
	}
	return fmt.Sprintf("tool load failed in %q", e.Node)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ResolveToolError) Unwrap() error {
	return e.Cause
}

// LineTimeoutError marks a single batch line as having exceeded its
// execution timeout. The message format is part of this module's external
// contract and must not change.
type LineTimeoutError struct {
	Line    int
	Timeout float64 // seconds
}

// Error implements the error interface.
func (e *LineTimeoutError) Error() string {
	return fmt.Sprintf("Line %d execution timeout for exceeding %v seconds", e.Line, e.Timeout)
}

// LineError records one line's failure inside a BulkRunError's additional
// detail list.
type LineError struct {
	Line    int    `json:"line_number"`
	Message string `json:"message"`
}

// BulkRunError summarizes a batch run in which at least one line failed.
// It is written to a run's exception.json and surfaced from Run.Get.
type BulkRunError struct {
	FailedLines int
	TotalLines  int
	// FirstError is the error message of the first line to fail, used as
	// this error's own top-level message.
	FirstError string
	// Lines holds every individual line failure.
	Lines []LineError
}

// Error implements the error interface.
func (e *BulkRunError) Error() string {
	return fmt.Sprintf("%d/%d lines failed, first error: %s", e.FailedLines, e.TotalLines, e.FirstError)
}

// InputMappingError marks a batch input-mapping expression that could not
// be resolved against any known alias.
type InputMappingError struct {
	Expression string
	Reason     string
}

// Error implements the error interface.
func (e *InputMappingError) Error() string {
	return fmt.Sprintf("cannot resolve input mapping expression %q: %s", e.Expression, e.Reason)
}

// RunExistsError is returned when creating a run whose name is already in use.
type RunExistsError struct {
	Name string
}

// Error implements the error interface.
func (e *RunExistsError) Error() string {
	return fmt.Sprintf("run already exists: %s", e.Name)
}

// RunNotFoundError is returned when a run name cannot be resolved, including
// when resolving a parent run reference.
type RunNotFoundError struct {
	Name string
}

// Error implements the error interface.
func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("run not found: %s", e.Name)
}
