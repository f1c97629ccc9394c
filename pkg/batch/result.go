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
	"time"

	"github.com/tombee/promptflow/internal/metrics"
	"github.com/tombee/promptflow/pkg/errors"
	"github.com/tombee/promptflow/pkg/flow"
)

// Status is a batch run's top-level lifecycle state, the batch-level
// counterpart to flow.Status.
type Status string

const (
	StatusRunning         Status = "Running"
	StatusCompleted       Status = "Completed"
	StatusFailed          Status = "Failed"
	StatusCancelRequested Status = "CancelRequested"
	StatusCanceled        Status = "Canceled"
)

// Result summarizes one batch run: per-line outcomes, aggregate counts, and
// the aggregation subgraph's node runs (if the flow declares any
// aggregation nodes). A batch is Completed even when individual lines
// fail -- FailedLines/Error report that without aborting the other
// lines, matching the original implementation's "a line failure does not
// fail the batch" contract.
type Result struct {
	RunID    string
	Status   Status
	Total    int
	Started  time.Time
	Finished time.Time

	// Lines holds every line's LineResult, ordered by line index.
	Lines []flow.LineResult

	// CompletedLines and FailedLines partition len(Lines).
	CompletedLines int
	FailedLines    int

	// Error summarizes the batch's line failures, nil if every line
	// succeeded.
	Error *errors.BulkRunError

	// AggregationRuns holds the aggregation subgraph's NodeRunInfo, keyed
	// by node name, if the flow declares any aggregation nodes.
	AggregationRuns map[string]*flow.NodeRunInfo
}

// Duration returns the batch's total wall-clock duration.
func (r *Result) Duration() time.Duration {
	if r.Finished.IsZero() || r.Started.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// summarize fills CompletedLines, FailedLines, and Error from Lines.
func (r *Result) summarize() {
	var lineErrors []errors.LineError
	for _, line := range r.Lines {
		if line.Err != nil {
			r.FailedLines++
			metrics.RecordLineCompleted("failed")
			lineErrors = append(lineErrors, errors.LineError{
				Line:    indexOf(line),
				Message: line.Err.Error(),
			})
			continue
		}
		r.CompletedLines++
		metrics.RecordLineCompleted("completed")
	}
	if len(lineErrors) == 0 {
		return
	}
	r.Error = &errors.BulkRunError{
		FailedLines: r.FailedLines,
		TotalLines:  r.Total,
		FirstError:  lineErrors[0].Message,
		Lines:       lineErrors,
	}
}
