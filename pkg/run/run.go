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

// Package run persists PromptFlow batch run records: metadata about one
// invocation of a flow (its flow path, inputs, status, and output
// location) independent of the run's own line-by-line artifacts, which
// live under pkg/localstorage.
//
// The package follows the teacher's segregated-interface backend idiom:
// Store composes RunStore (the minimal create/get/update contract) with
// RunLister (listing and deletion), so a caller that only needs to
// record and look up runs can depend on RunStore alone.
package run

import "time"

// Status is a run's top-level lifecycle state, mirroring batch.Status
// without importing pkg/batch -- run persistence is a leaf package the
// engine writes to, not the other way around.
type Status string

const (
	StatusRunning         Status = "Running"
	StatusCompleted       Status = "Completed"
	StatusFailed          Status = "Failed"
	StatusCancelRequested Status = "CancelRequested"
	StatusCanceled        Status = "Canceled"
)

// Run is one durable record of a flow invocation.
type Run struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	FlowPath  string `json:"flow_path"`
	VariantID string `json:"variant_id,omitempty"`

	Status Status `json:"status"`

	Inputs        map[string]any    `json:"inputs,omitempty"`
	InputsMapping map[string]string `json:"inputs_mapping,omitempty"`
	OutputPath    string            `json:"output_path,omitempty"`

	BatchSize int `json:"batch_size"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`

	Error string `json:"error,omitempty"`

	// ParentRunID names the run this one resumed or branched from --
	// PromptFlow supports chaining a run's outputs into the next run's
	// inputs_mapping via an alias named "run".
	ParentRunID string `json:"parent_run_id,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Filter narrows a List call.
type Filter struct {
	Status   Status
	FlowPath string
	Limit    int
	Offset   int
}
