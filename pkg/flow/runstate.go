package flow

import (
	"sync"

	"github.com/tombee/promptflow/pkg/exprx"
)

// RunState tracks one line's progress through a Graph: which nodes have
// completed or been bypassed, and which are newly ready to run. It is
// the mutable counterpart to the immutable Graph, so a single Graph can
// back many concurrent lines.
type RunState struct {
	mu sync.Mutex

	graph *Graph

	completed map[string]*NodeRunInfo
	dispatched map[string]bool
	pending    map[string]bool
}

// NewRunState creates a RunState for one line's execution against graph.
func NewRunState(graph *Graph) *RunState {
	pending := make(map[string]bool)
	for _, name := range graph.NodeNames() {
		pending[name] = true
	}
	return &RunState{
		graph:      graph,
		completed:  make(map[string]*NodeRunInfo),
		dispatched: make(map[string]bool),
		pending:    pending,
	}
}

// PopReadyNodes returns every pending, non-dispatched node whose
// dependencies have all completed (normally or via bypass), and marks
// them dispatched so a subsequent call won't return them again.
func (s *RunState) PopReadyNodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ready []string
	for name := range s.pending {
		if s.dispatched[name] {
			continue
		}
		if s.depsSatisfied(name) {
			ready = append(ready, name)
			s.dispatched[name] = true
		}
	}
	return ready
}

// PopBypassableNodes evaluates every pending node's activation condition
// that can be evaluated given what has completed so far (i.e. every
// node its condition references has itself completed or been bypassed)
// and returns the names of those whose condition evaluated false. A
// node with no activation condition of its own is still bypassable if
// any of its dependencies was itself bypassed -- bypass status
// propagates down the DAG to dependents that have no condition
// deciding otherwise, matching original_source's DAGManager behavior.
// The caller is expected to mark each returned name Bypassed via
// Complete.
func (s *RunState) PopBypassableNodes(evaluator *exprx.ConditionEvaluator) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bypassable []string
	for name := range s.pending {
		if s.dispatched[name] {
			continue
		}
		if !s.depsSatisfied(name) {
			continue
		}
		node := s.graph.def.Node(name)
		if node != nil && node.Activate != nil && node.Activate.When != "" {
			ctx := s.buildContextLocked()
			ok, err := evaluator.Evaluate(node.Activate.When, ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				bypassable = append(bypassable, name)
				s.dispatched[name] = true
			}
			continue
		}
		if s.anyDependencyBypassedLocked(name) {
			bypassable = append(bypassable, name)
			s.dispatched[name] = true
		}
	}
	return bypassable, nil
}

// depsSatisfied reports whether every dependency of name has completed
// (including bypassed). Caller must hold s.mu.
func (s *RunState) depsSatisfied(name string) bool {
	for _, dep := range s.graph.Dependencies(name) {
		if _, ok := s.completed[dep]; !ok {
			return false
		}
	}
	return true
}

// anyDependencyBypassedLocked reports whether any dependency of name
// was itself bypassed rather than completed normally. Caller must hold
// s.mu and must already know depsSatisfied(name).
func (s *RunState) anyDependencyBypassedLocked(name string) bool {
	for _, dep := range s.graph.Dependencies(name) {
		if info, ok := s.completed[dep]; ok && info.Status == StatusBypassed {
			return true
		}
	}
	return false
}

// buildContextLocked assembles an exprx.Context from completed nodes.
// Caller must hold s.mu.
func (s *RunState) buildContextLocked() exprx.Context {
	results := make(map[string]exprx.NodeOutputConverter, len(s.completed))
	for name, info := range s.completed {
		results[name] = info
	}
	return exprx.BuildContext(nil, results)
}

// Complete records a node's final NodeRunInfo (Completed, Failed, or
// Bypassed) and removes it from the pending set.
func (s *RunState) Complete(name string, info *NodeRunInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[name] = info
	delete(s.pending, name)
}

// Completed returns the NodeRunInfo for name if it has finished, and
// whether it was found.
func (s *RunState) Completed(name string) (*NodeRunInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.completed[name]
	return info, ok
}

// AllCompleted returns every node's NodeRunInfo recorded so far, keyed
// by node name.
func (s *RunState) AllCompleted() map[string]*NodeRunInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*NodeRunInfo, len(s.completed))
	for name, info := range s.completed {
		out[name] = info
	}
	return out
}

// IsDone reports whether every node in the graph has completed.
func (s *RunState) IsDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) == 0
}

// GetNodeValidInputs resolves node's raw Inputs against the current
// completed-node context using resolver, returning the concrete values
// to pass to its tool. Dependencies not yet completed are a caller
// error — this must only be invoked once PopReadyNodes has returned the
// node.
func (s *RunState) GetNodeValidInputs(name string, flowInputs map[string]interface{}, resolver *exprx.Resolver) (map[string]interface{}, error) {
	s.mu.Lock()
	node := s.graph.def.Node(name)
	ctx := s.buildContextLocked()
	s.mu.Unlock()

	ctx["inputs"] = flowInputs
	if node == nil {
		return nil, nil
	}
	return resolver.ResolveMap(node.Inputs, ctx)
}

// AggregationInputsContext builds the Context an aggregation node sees:
// every other node's output plus, for each node whose result fed a
// regular (non-aggregation) per-line execution, the per-line inputs
// that produced it — enabling ${node.inputs.x} aggregation references.
func (s *RunState) AggregationInputsContext(flowInputs map[string]interface{}) exprx.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := s.buildContextLocked()
	ctx["inputs"] = flowInputs
	return ctx
}
