package flow

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/promptflow/internal/metrics"
)

// PersistFunc writes a completed or bypassed NodeRunInfo to durable
// storage (local run folder, database row, ...). RunTracker calls it
// from PersistNodeRun and never treats its failure as fatal to the run
// itself, mirroring original_source's FlowExecutionContext which logs
// and continues when persistence fails.
type PersistFunc func(info *NodeRunInfo) error

// RunTracker records the lifecycle of every node run within one flow
// run: start, input capture, completion/failure, bypass, and
// persistence. It is grounded on original_source's RunTracker as used
// by FlowExecutionContext.invoke_tool (start_node_run / set_inputs /
// end_run / bypass_node_run / persist_node_run), adapted from a
// thread-local-aware registry to an explicit, mutex-guarded Go type
// with no implicit per-goroutine state.
type RunTracker struct {
	mu      sync.Mutex
	flowID  string
	runID   string
	persist PersistFunc
	logger  *slog.Logger
	runs    map[string]*NodeRunInfo
}

// NewRunTracker creates a RunTracker for one flow run. persist may be
// nil, in which case PersistNodeRun is a no-op.
func NewRunTracker(flowID, runID string, persist PersistFunc, logger *slog.Logger) *RunTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunTracker{
		flowID:  flowID,
		runID:   runID,
		persist: persist,
		logger:  logger,
		runs:    make(map[string]*NodeRunInfo),
	}
}

// NodeRunID derives the run ID for one node's execution. Aggregation
// nodes get a stable per-flow-run ID (they run once per flow run, not
// per line); per-line nodes are keyed by line index; a line-less
// (single-node test) invocation gets a fresh uuid suffix each time so
// repeated test/--watch runs of the same node under the same flow run
// ID never collide.
func (rt *RunTracker) NodeRunID(node string, aggregation bool, line *int) string {
	if aggregation {
		return fmt.Sprintf("%s_%s_reduce", rt.runID, node)
	}
	if line == nil {
		return fmt.Sprintf("%s_%s_%s", rt.runID, node, uuid.NewString())
	}
	return fmt.Sprintf("%s_%s_%d", rt.runID, node, *line)
}

// StartNodeRun registers a new in-flight NodeRunInfo for node and
// returns it. The caller fills in Inputs via SetInputs once resolved.
func (rt *RunTracker) StartNodeRun(node, nodeRunID, parentRunID string, line *int, variantID string) *NodeRunInfo {
	info := &NodeRunInfo{
		Node:        node,
		FlowRunID:   rt.runID,
		RunID:       nodeRunID,
		ParentRunID: parentRunID,
		Status:      StatusRunning,
		StartTime:   time.Now(),
		Index:       line,
		VariantID:   variantID,
	}

	rt.mu.Lock()
	rt.runs[nodeRunID] = info
	rt.mu.Unlock()

	return info
}

// SetInputs records a node run's resolved inputs, once available.
func (rt *RunTracker) SetInputs(nodeRunID string, inputs map[string]interface{}) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if info, ok := rt.runs[nodeRunID]; ok {
		info.Inputs = inputs
	}
}

// EndRun marks a node run complete (err == nil) or failed, recording
// its output/error, API call trace, and end time.
func (rt *RunTracker) EndRun(nodeRunID string, output interface{}, apiCalls []APICall, err error) *NodeRunInfo {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	info, ok := rt.runs[nodeRunID]
	if !ok {
		return nil
	}

	info.EndTime = time.Now()
	info.APICalls = apiCalls
	if err != nil {
		info.Status = StatusFailed
		info.Error = err
		info.ErrorDetail = map[string]any{"message": err.Error()}
	} else {
		info.Status = StatusCompleted
		info.Output = output
	}
	metrics.RecordNodeDuration(info.Node, info.Duration().Seconds())
	return info
}

// BypassNodeRun records a node that was skipped because its Activate
// condition evaluated to false.
func (rt *RunTracker) BypassNodeRun(node, nodeRunID, parentRunID string, line *int, variantID string) *NodeRunInfo {
	now := time.Now()
	info := &NodeRunInfo{
		Node:        node,
		FlowRunID:   rt.runID,
		RunID:       nodeRunID,
		ParentRunID: parentRunID,
		Status:      StatusBypassed,
		StartTime:   now,
		EndTime:     now,
		Index:       line,
		VariantID:   variantID,
	}

	rt.mu.Lock()
	rt.runs[nodeRunID] = info
	rt.mu.Unlock()

	return info
}

// ApplyCacheHit marks a node run as satisfied by a cached result, so
// the run's lineage to the originating run is preserved.
func (rt *RunTracker) ApplyCacheHit(nodeRunID string, result CacheResult) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	info, ok := rt.runs[nodeRunID]
	if !ok {
		return
	}
	info.CachedRunID = result.CachedRunID
	info.CachedFlowID = result.CachedFlowID
	info.Output = result.Output
	info.Status = StatusCompleted
	info.EndTime = time.Now()
}

// PersistNodeRun writes the run to durable storage. A persistence
// failure is logged and swallowed, not propagated, matching
// original_source's deliberate choice that persistence is never on the
// critical path of run correctness.
func (rt *RunTracker) PersistNodeRun(info *NodeRunInfo) {
	if rt.persist == nil || info == nil {
		return
	}
	if err := rt.persist(info); err != nil {
		rt.logger.Warn("failed to persist node run", "run_id", info.RunID, "node", info.Node, "error", err)
		metrics.RecordPersistenceError("PersistNodeRun", "io_error")
	}
}

// Get returns the tracked NodeRunInfo for a node run ID, if any.
func (rt *RunTracker) Get(nodeRunID string) (*NodeRunInfo, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	info, ok := rt.runs[nodeRunID]
	return info, ok
}

// All returns every tracked NodeRunInfo, in no particular order.
func (rt *RunTracker) All() []*NodeRunInfo {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]*NodeRunInfo, 0, len(rt.runs))
	for _, info := range rt.runs {
		out = append(out, info)
	}
	return out
}
