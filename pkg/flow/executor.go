package flow

import (
	"context"
	"fmt"
	"log/slog"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tombee/promptflow/pkg/errors"
	"github.com/tombee/promptflow/pkg/exprx"
	"github.com/tombee/promptflow/pkg/tools"
)

// LineNumberKey is the reserved output key auto-injected into every
// line's composed output, carrying the line's index within the batch.
const LineNumberKey = "line_number"

// LineResult is the outcome of executing one line of a flow: its
// composed outputs (flow Outputs resolved against the line's node
// results), the per-node run records, and an error if the line failed
// outright (as opposed to an individual node being bypassed, which is
// not an error).
type LineResult struct {
	Index      *int
	Output     map[string]interface{}
	NodeRuns   map[string]*NodeRunInfo
	Err        error
}

// Executor loads a flow definition and drives it: per-line execution
// through the Scheduler, aggregation-node execution across a batch's
// collected values, and single-node execution for the test/debug path.
// It is grounded on original_source's FlowExecutionContext (per-node
// cache/trace/run-tracker sequencing, now performed inside Scheduler)
// together with the teacher's pkg/workflow/executor.go Execute/
// executeStep top-level dispatch shape (default handling, output
// post-processing), generalized here from one step to one DAG line.
type Executor struct {
	def         *Definition
	graph       *Graph
	registry    *tools.Registry
	cache       *CacheManager
	resolver    *exprx.Resolver
	conditions  *exprx.ConditionEvaluator
	otelTracer  oteltrace.Tracer
	redactor    *tools.Redactor
	logger      *slog.Logger
	concurrency int
}

// NewExecutor loads and validates a flow definition, building its
// dependency graph up front so every ExecLine call reuses it. otel may
// be nil, in which case spans are created against a no-op tracer.
func NewExecutor(def *Definition, registry *tools.Registry, cache *CacheManager, otel oteltrace.Tracer, logger *slog.Logger, concurrency int) (*Executor, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	graph, err := BuildGraph(def)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if otel == nil {
		otel = noop.NewTracerProvider().Tracer("promptflow")
	}
	return &Executor{
		def:         def,
		graph:       graph,
		registry:    registry,
		cache:       cache,
		resolver:    exprx.NewResolver(),
		conditions:  exprx.NewConditionEvaluator(),
		otelTracer:  otel,
		redactor:    tools.NewRedactor(),
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// ValidateInputs type-checks inputs against the flow's declared input
// schema, applying declared defaults and rejecting missing required
// inputs. Unknown extra inputs are tolerated (logged, not rejected) --
// a caller passing through an upstream run's full output map should
// not need to pre-filter it.
func (e *Executor) ValidateInputs(inputs map[string]interface{}) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(e.def.Inputs))
	for name, def := range e.def.Inputs {
		if v, ok := inputs[name]; ok {
			resolved[name] = v
			continue
		}
		if def.Default != nil {
			resolved[name] = def.Default
			continue
		}
		return nil, &errors.UserError{Message: fmt.Sprintf("missing required flow input %q", name)}
	}
	for name, v := range inputs {
		if _, declared := e.def.Inputs[name]; !declared {
			resolved[name] = v
			e.logger.Debug("flow input not declared in schema, passing through", "input", name)
		}
	}
	return resolved, nil
}

// ExecLine runs every non-aggregation node of the flow for one line of
// input and composes the flow's declared Outputs from the resulting
// node values. Aggregation nodes are skipped here; they run once per
// batch via ExecAggregation. allowGeneratorOutput controls what a
// StreamingTool-backed node's output looks like in the composed
// result: a *LazyOutput replaying the tool's chunks when true, or the
// chunks materialized into a plain value (the same shape a
// non-streaming tool would have produced) when false.
func (e *Executor) ExecLine(ctx context.Context, runID string, inputs map[string]interface{}, index *int, persist PersistFunc, allowGeneratorOutput bool) LineResult {
	resolved, err := e.ValidateInputs(inputs)
	if err != nil {
		return LineResult{Index: index, Err: err}
	}

	tracer := NewTracer(runID, e.redactor, e.otelTracer)
	runTracker := NewRunTracker(runID, runID, persist, e.logger)
	lineDef, lineGraph := e.lineDef(), e.lineGraph()
	state := NewRunState(lineGraph)

	sched := NewScheduler(lineDef, lineGraph, e.registry, tracer, runTracker, e.cache, e.resolver, e.conditions, runID, e.concurrency, index, "", allowGeneratorOutput)

	finalState, err := sched.Run(ctx, state, resolved)
	if err != nil {
		return LineResult{Index: index, Err: err, NodeRuns: runsOrNil(state)}
	}

	output := e.composeOutputs(finalState, resolved)
	output[LineNumberKey] = indexValue(index)

	return LineResult{Index: index, Output: output, NodeRuns: finalState.AllCompleted()}
}

// ExecAggregation runs every aggregation node once across a batch's
// collected per-line inputs and outputs. aggregationInputs holds, per
// node name, the across-all-lines values that node's own inputs
// resolved to on each line (so ${node.inputs.x} aggregation references
// can see every line's value, not just the current one).
func (e *Executor) ExecAggregation(ctx context.Context, runID string, flowInputsLists map[string]interface{}, aggregationInputs map[string]interface{}) (map[string]*NodeRunInfo, error) {
	aggDef := e.aggregationDef()
	if len(aggDef.Nodes) == 0 {
		return nil, nil
	}

	graph, err := BuildGraph(aggDef)
	if err != nil {
		return nil, err
	}

	tracer := NewTracer(runID, e.redactor, e.otelTracer)
	runTracker := NewRunTracker(runID, runID, nil, e.logger)
	state := NewRunState(graph)

	sched := NewScheduler(aggDef, graph, e.registry, tracer, runTracker, e.cache, e.resolver, e.conditions, runID, e.concurrency, nil, "", false)

	lineInputs := map[string]interface{}{}
	for k, v := range flowInputsLists {
		lineInputs[k] = v
	}
	for k, v := range aggregationInputs {
		lineInputs[k] = v
	}

	finalState, err := sched.Run(ctx, state, lineInputs)
	if err != nil {
		return nil, err
	}
	return finalState.AllCompleted(), nil
}

// LoadAndExecNode runs a single node in isolation, bypassing the
// scheduler entirely -- the test/debug path for iterating on one
// node's tool without running the whole flow.
func (e *Executor) LoadAndExecNode(ctx context.Context, nodeName string, inputs map[string]interface{}) (map[string]interface{}, error) {
	node := e.def.Node(nodeName)
	if node == nil {
		return nil, &errors.UserError{Node: nodeName, Message: "no such node in this flow"}
	}
	resolved, err := exprx.NewResolver().ResolveMap(node.Inputs, exprx.BuildContext(inputs, nil))
	if err != nil {
		return nil, &errors.UserError{Node: nodeName, Message: "failed to resolve node inputs", Cause: err}
	}
	for k, v := range inputs {
		resolved[k] = v
	}
	output, err := e.registry.Execute(ctx, node.Source, resolved)
	if err != nil {
		return nil, &errors.ToolExecutionError{Node: nodeName, Module: node.Source, Cause: err}
	}
	return output, nil
}

// composeOutputs resolves the flow's declared Outputs against the
// line's completed node results. A reference into a bypassed node
// resolves to nil rather than erroring -- Non-goal-adjacent behavior
// carried from the spec's bypass-propagation semantics.
func (e *Executor) composeOutputs(state *RunState, flowInputs map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(e.def.Outputs))
	ctx := state.AggregationInputsContext(flowInputs)
	for name, def := range e.def.Outputs {
		v, err := e.resolver.Resolve(def.Reference, ctx)
		if err != nil {
			out[name] = nil
			continue
		}
		out[name] = v
	}
	return out
}

// lineDef returns the subset of the flow definition's nodes that run
// per-line (excludes aggregation nodes).
func (e *Executor) lineDef() *Definition {
	filtered := *e.def
	nodes := make([]NodeDefinition, 0, len(e.def.Nodes))
	for _, n := range e.def.Nodes {
		if !n.Aggregation {
			nodes = append(nodes, n)
		}
	}
	filtered.Nodes = nodes
	return &filtered
}

func (e *Executor) lineGraph() *Graph {
	graph, err := BuildGraph(e.lineDef())
	if err != nil {
		// lineDef is a strict subset of an already-validated Definition
		// (Validate/BuildGraph ran once in NewExecutor); a cycle cannot
		// appear here that wasn't already rejected at load time.
		panic(fmt.Sprintf("flow: unexpected graph error on line subset: %v", err))
	}
	return graph
}

// aggregationDef returns the subset of the flow definition's nodes
// that are aggregation nodes.
func (e *Executor) aggregationDef() *Definition {
	filtered := *e.def
	nodes := make([]NodeDefinition, 0)
	for _, n := range e.def.Nodes {
		if n.Aggregation {
			nodes = append(nodes, n)
		}
	}
	filtered.Nodes = nodes
	return &filtered
}

func runsOrNil(state *RunState) map[string]*NodeRunInfo {
	if state == nil {
		return nil
	}
	return state.AllCompleted()
}

func indexValue(index *int) interface{} {
	if index == nil {
		return nil
	}
	return *index
}
