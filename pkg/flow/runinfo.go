// Package flow implements the DAG-based prompt/tool orchestration engine:
// flow definition parsing, dependency scheduling, per-node caching, call
// tracing, and single-line execution. Batch-level concerns (input
// mapping, worker pools across many lines) live in pkg/batch.
package flow

import "time"

// Status is a node or flow run's lifecycle state.
type Status string

const (
	StatusNotStarted      Status = "NotStarted"
	StatusPreparing       Status = "Preparing"
	StatusRunning         Status = "Running"
	StatusCompleted       Status = "Completed"
	StatusFailed          Status = "Failed"
	StatusBypassed        Status = "Bypassed"
	StatusCanceled        Status = "Canceled"
	StatusCancelRequested Status = "CancelRequested"
)

// IsTerminated reports whether status is one a node or flow run will not
// transition out of.
func (s Status) IsTerminated() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBypassed, StatusCanceled:
		return true
	default:
		return false
	}
}

// APICall records one tool invocation nested inside a node's execution,
// as captured by the Tracer.
type APICall struct {
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Output    any            `json:"output,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Error     string         `json:"error,omitempty"`
	Children  []APICall      `json:"children,omitempty"`
}

// CacheInfo records the outcome of a node's cache lookup.
type CacheInfo struct {
	HashID       string `json:"hash_id,omitempty"`
	Hit          bool   `json:"hit"`
	CachedRunID  string `json:"cached_run_id,omitempty"`
	CachedFlowID string `json:"cached_flow_run_id,omitempty"`
}

// NodeRunInfo is the record of one node's execution on one line,
// the Go rendering of the original RunInfo dataclass.
type NodeRunInfo struct {
	Node         string         `json:"node"`
	FlowRunID    string         `json:"flow_run_id"`
	RunID        string         `json:"run_id"`
	Status       Status         `json:"status"`
	Inputs       map[string]any `json:"inputs"`
	Output       any            `json:"output"`
	Metrics      map[string]any `json:"metrics,omitempty"`
	Error        error          `json:"-"`
	ErrorDetail  map[string]any `json:"error,omitempty"`
	ParentRunID  string         `json:"parent_run_id"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time"`
	Index        *int           `json:"index,omitempty"`
	APICalls     []APICall      `json:"api_calls,omitempty"`
	VariantID    string         `json:"variant_id,omitempty"`
	CachedRunID  string         `json:"cached_run_id,omitempty"`
	CachedFlowID string         `json:"cached_flow_run_id,omitempty"`
	Logs         map[string]string `json:"logs,omitempty"`
	SystemMetrics map[string]any `json:"system_metrics,omitempty"`
	Result       any            `json:"result,omitempty"`
}

// ToMap implements exprx.NodeOutputConverter. It exposes "output" for
// ${node.output...} references and "inputs" for ${node.inputs.x}
// aggregation references, plus "status" so bypass-propagation conditions
// can inspect an upstream node's disposition.
func (n *NodeRunInfo) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"output": n.Output,
		"inputs": n.Inputs,
		"status": string(n.Status),
	}
}

// Duration returns the node's execution duration, or zero if it has not
// completed.
func (n *NodeRunInfo) Duration() time.Duration {
	if n.EndTime.IsZero() || n.StartTime.IsZero() {
		return 0
	}
	return n.EndTime.Sub(n.StartTime)
}

// FlowRunInfo is the record of one full line's execution across every
// node in the flow, the Go rendering of the original FlowRunInfo
// dataclass.
type FlowRunInfo struct {
	RunID         string            `json:"run_id"`
	Status        Status            `json:"status"`
	Error         error             `json:"-"`
	ErrorDetail   map[string]any    `json:"error,omitempty"`
	Inputs        map[string]any    `json:"inputs"`
	Output        map[string]any    `json:"output"`
	Metrics       map[string]any    `json:"metrics,omitempty"`
	ParentRunID   string            `json:"parent_run_id"`
	RootRunID     string            `json:"root_run_id"`
	SourceRunID   string            `json:"source_run_id"`
	FlowID        string            `json:"flow_id"`
	StartTime     time.Time         `json:"start_time"`
	EndTime       time.Time         `json:"end_time"`
	Index         *int              `json:"index,omitempty"`
	APICalls      []APICall         `json:"api_calls,omitempty"`
	VariantID     string            `json:"variant_id,omitempty"`
	Name          string            `json:"name,omitempty"`
	Description   string            `json:"description,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	SystemMetrics map[string]any    `json:"system_metrics,omitempty"`
	Result        any               `json:"result,omitempty"`

	// NodeRuns holds every node's NodeRunInfo for this line, keyed by node
	// name, populated as the DAG executes.
	NodeRuns map[string]*NodeRunInfo `json:"node_runs,omitempty"`
}

// Duration returns the line's total execution duration, or zero if it
// has not completed.
func (f *FlowRunInfo) Duration() time.Duration {
	if f.EndTime.IsZero() || f.StartTime.IsZero() {
		return 0
	}
	return f.EndTime.Sub(f.StartTime)
}
