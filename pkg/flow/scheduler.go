package flow

import (
	"context"
	"fmt"

	"github.com/tombee/promptflow/internal/metrics"
	"github.com/tombee/promptflow/pkg/errors"
	"github.com/tombee/promptflow/pkg/exprx"
	"github.com/tombee/promptflow/pkg/tools"
)

// DefaultConcurrencyFlow is the maximum number of nodes run
// concurrently within one line, regardless of what the caller
// requests. Grounded on original_source's
// _flow_nodes_scheduler.DEFAULT_CONCURRENCY_FLOW.
const DefaultConcurrencyFlow = 16

// Scheduler drives one line's nodes through a Graph/RunState to
// completion: bypassing nodes whose activation condition is false,
// dispatching ready nodes onto a bounded pool of goroutines, and
// collecting each node's NodeOutcome as it finishes. It is grounded on
// original_source's FlowNodesScheduler, which does the same dispatch
// loop (pop_bypassable_nodes / pop_ready_nodes / wait for
// FIRST_COMPLETED) over a ThreadPoolExecutor; the Go rendering
// replaces the thread pool and futures.wait with a semaphore-bounded
// goroutine pool and a results channel, and replaces the original's
// exception-propagation with the explicit NodeOutcome tagged union.
type Scheduler struct {
	def         *Definition
	graph       *Graph
	registry    *tools.Registry
	tracer      *Tracer
	runTracker  *RunTracker
	cache       *CacheManager
	resolver    *exprx.Resolver
	conditions  *exprx.ConditionEvaluator
	concurrency int
	flowRunID   string
	line        *int
	variantID   string

	// allowGeneratorOutput controls what a StreamingTool-backed node's
	// output looks like once the tool finishes: a *LazyOutput replaying
	// its chunks when true, or the chunks materialized into a plain
	// value when false. Non-streaming tools are unaffected either way.
	allowGeneratorOutput bool
}

// NewScheduler creates a Scheduler for one line's execution. concurrency
// is clamped to (0, DefaultConcurrencyFlow]; a non-positive value
// defaults to DefaultConcurrencyFlow.
func NewScheduler(def *Definition, graph *Graph, registry *tools.Registry, tracer *Tracer, runTracker *RunTracker, cache *CacheManager, resolver *exprx.Resolver, conditions *exprx.ConditionEvaluator, flowRunID string, concurrency int, line *int, variantID string, allowGeneratorOutput bool) *Scheduler {
	if concurrency <= 0 || concurrency > DefaultConcurrencyFlow {
		concurrency = DefaultConcurrencyFlow
	}
	return &Scheduler{
		def:                  def,
		graph:                graph,
		registry:             registry,
		tracer:               tracer,
		runTracker:           runTracker,
		cache:                cache,
		resolver:             resolver,
		conditions:           conditions,
		concurrency:          concurrency,
		flowRunID:            flowRunID,
		line:                 line,
		variantID:            variantID,
		allowGeneratorOutput: allowGeneratorOutput,
	}
}

// parentRunID matches original_source's
// FlowExecutionContext._prepare_node_run parent_run_id derivation.
func (s *Scheduler) parentRunID() string {
	if s.line == nil {
		return s.flowRunID
	}
	return fmt.Sprintf("%s_%d", s.flowRunID, *s.line)
}

// Run executes every node in the graph against flowInputs, returning
// the completed RunState on success. It returns the first node error
// encountered, after every already-dispatched node has finished (a
// node cannot be canceled mid-flight, only prevented from starting --
// the same limitation original_source documents for its own
// ThreadPoolExecutor-based scheduler).
func (s *Scheduler) Run(ctx context.Context, state *RunState, flowInputs map[string]interface{}) (*RunState, error) {
	sem := make(chan struct{}, s.concurrency)
	results := make(chan NodeOutcome)
	inFlight := 0

	dispatch := func() error {
		for {
			bypassable, err := state.PopBypassableNodes(s.conditions)
			if err != nil {
				return err
			}
			if len(bypassable) == 0 {
				break
			}
			for _, name := range bypassable {
				s.recordBypass(state, name)
			}
		}

		for _, name := range state.PopReadyNodes() {
			inFlight++
			sem <- struct{}{}
			go func(node string) {
				defer func() { <-sem }()
				results <- s.execNode(ctx, state, flowInputs, node)
			}(name)
		}
		return nil
	}

	if err := dispatch(); err != nil {
		return nil, err
	}

	for !state.IsDone() {
		if inFlight == 0 {
			return nil, &errors.SystemError{Message: "no nodes are ready for execution, but the flow is not completed"}
		}

		outcome := <-results
		inFlight--

		info := s.applyOutcome(outcome)
		state.Complete(outcome.Node, info)
		s.runTracker.PersistNodeRun(info)

		if outcome.Kind == OutcomeFailed {
			for inFlight > 0 {
				<-results
				inFlight--
			}
			return nil, outcome.Err
		}

		if err := dispatch(); err != nil {
			return nil, err
		}
	}

	return state, nil
}

func (s *Scheduler) recordBypass(state *RunState, name string) {
	nodeRunID := s.runTracker.NodeRunID(name, false, s.line)
	info := s.runTracker.BypassNodeRun(name, nodeRunID, s.parentRunID(), s.line, s.variantID)
	state.Complete(name, info)
	s.runTracker.PersistNodeRun(info)
}

// execNode resolves a node's inputs, checks the cache, invokes its
// tool if needed, and returns the resulting NodeOutcome. It never
// panics on a tool error -- Failed(node, err) carries it back to Run.
func (s *Scheduler) execNode(ctx context.Context, state *RunState, flowInputs map[string]interface{}, name string) NodeOutcome {
	node := s.def.Node(name)
	if node == nil {
		return Failed(name, &errors.SystemError{Message: fmt.Sprintf("scheduler dispatched unknown node %q", name)})
	}

	nodeRunID := s.runTracker.NodeRunID(name, node.Aggregation, s.line)
	parentRunID := s.parentRunID()
	runInfo := s.runTracker.StartNodeRun(name, nodeRunID, parentRunID, s.line, s.variantID)

	inputs, err := state.GetNodeValidInputs(name, flowInputs, s.resolver)
	if err != nil {
		outcome := Failed(name, &errors.UserError{Node: name, Message: "failed to resolve node inputs", Cause: err})
		outcome.RunID = nodeRunID
		return outcome
	}
	s.runTracker.SetInputs(nodeRunID, inputs)
	runInfo.Inputs = inputs

	if node.EnableCache && !node.Aggregation && s.cache != nil {
		hashID, err := HashID(s.flowRunID, name, inputs)
		if err == nil {
			if result, err := s.cache.Get(hashID); err == nil && result.Hit {
				s.runTracker.ApplyCacheHit(nodeRunID, result)
				outcome := Success(name, result.Output, nil)
				outcome.RunID = nodeRunID
				return outcome
			}
		}
	}

	ctx, _ = s.tracer.Push(ctx, name, node.Source, string(node.Type), inputs)

	var output interface{}
	var toolErr error
	if s.registry.SupportsStreaming(node.Source) {
		var chunks <-chan tools.ToolChunk
		chunks, toolErr = s.registry.ExecuteStream(ctx, node.Source, inputs, nodeRunID)
		if toolErr == nil {
			output, toolErr = s.tracer.PopStream(ctx, name, chunks, s.allowGeneratorOutput)
		} else {
			s.tracer.Pop(ctx, name, nil, toolErr)
		}
	} else {
		output, toolErr = s.registry.Execute(ctx, node.Source, inputs)
		s.tracer.Pop(ctx, name, output, toolErr)
	}
	calls := s.tracer.CallsForNode(name)

	if toolErr != nil {
		return NodeOutcome{Kind: OutcomeFailed, Node: name, RunID: nodeRunID, APICalls: calls, Err: &errors.ToolExecutionError{Node: name, Module: node.Source, Cause: toolErr}}
	}

	if node.EnableCache && !node.Aggregation && s.cache != nil {
		if hashID, err := HashID(s.flowRunID, name, inputs); err == nil {
			if putErr := s.cache.Put(hashID, s.flowRunID, nodeRunID, output); putErr != nil {
				metrics.RecordPersistenceError("CachePut", "io_error")
			}
		}
	}

	outcome := Success(name, output, calls)
	outcome.RunID = nodeRunID
	return outcome
}

// applyOutcome folds a NodeOutcome into the node's NodeRunInfo via
// RunTracker.EndRun. It reuses the RunID execNode already stamped onto
// the outcome rather than recomputing one -- NodeRunID mints a fresh
// uuid for the line-less (single-node test) case on every call, so
// calling it a second time here would never find the StartNodeRun
// entry it's supposed to close out.
func (s *Scheduler) applyOutcome(outcome NodeOutcome) *NodeRunInfo {
	var output interface{}
	var err error
	switch outcome.Kind {
	case OutcomeSuccess:
		output = outcome.Output
	case OutcomeFailed:
		err = outcome.Err
	}
	return s.runTracker.EndRun(outcome.RunID, output, outcome.APICalls, err)
}
