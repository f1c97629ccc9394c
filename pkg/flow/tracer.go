package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/tombee/promptflow/pkg/tools"
)

// Tracer records the nested call structure of one line's execution: a
// root entry per node, and for each node's tool invocation, the nested
// tool/child calls it makes. It is grounded on original_source's
// tracer.py push/pop stack discipline, but threaded explicitly through
// a context.Context instead of a thread-local/contextvar singleton --
// this module has no implicit per-goroutine state.
type Tracer struct {
	mu       sync.Mutex
	runID    string
	redactor *tools.Redactor
	otel     oteltrace.Tracer
	roots    []rootCall
	stacks   map[string][]*APICall
}

// rootCall pairs a root-level APICall with the node that produced it,
// so CallsForNode can partition the tracer's accumulated roots by node.
type rootCall struct {
	node string
	call *APICall
}

// NewTracer creates a Tracer for one line's run, scrubbing secrets from
// recorded inputs/outputs via redactor before they are ever persisted
// or exported.
func NewTracer(runID string, redactor *tools.Redactor, otelTracer oteltrace.Tracer) *Tracer {
	return &Tracer{
		runID:    runID,
		redactor: redactor,
		otel:     otelTracer,
		stacks:   make(map[string][]*APICall),
	}
}

// Push starts a new trace entry for a tool invocation and opens a
// matching OTel span. It returns the updated context (carrying the
// span) and the APICall to later pass to Pop. If a call is already
// open for this node, the new entry nests under it; otherwise it
// becomes a root entry for the node.
func (t *Tracer) Push(ctx context.Context, node, name, callType string, inputs map[string]interface{}) (context.Context, *APICall) {
	ctx, span := t.otel.Start(ctx, fmt.Sprintf("%s/%s", node, name),
		oteltrace.WithAttributes(
			attribute.String("promptflow.node", node),
			attribute.String("promptflow.call_type", callType),
		),
	)

	call := &APICall{
		Name:      name,
		Type:      callType,
		Inputs:    t.scrub(inputs),
		StartTime: time.Now(),
	}

	t.mu.Lock()
	stack := t.stacks[node]
	if len(stack) == 0 {
		t.roots = append(t.roots, rootCall{node: node, call: call})
	} else {
		parent := stack[len(stack)-1]
		parent.Children = append(parent.Children, *call)
		call = &parent.Children[len(parent.Children)-1]
	}
	t.stacks[node] = append(stack, call)
	t.mu.Unlock()

	return ctx, call
}

// Pop closes the most recently pushed call for node, recording its
// output or error and ending its OTel span.
func (t *Tracer) Pop(ctx context.Context, node string, output interface{}, err error) {
	span := oteltrace.SpanFromContext(ctx)

	t.mu.Lock()
	stack := t.stacks[node]
	if len(stack) == 0 {
		t.mu.Unlock()
		return
	}
	call := stack[len(stack)-1]
	t.stacks[node] = stack[:len(stack)-1]
	t.mu.Unlock()

	call.EndTime = time.Now()
	if output != nil {
		call.Output = t.scrubValue(output)
	}
	if err != nil {
		call.Error = t.redactor.Redact(err.Error())
		span.SetStatus(codes.Error, call.Error)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// PopStream closes the most recently pushed call for node by draining a
// StreamingTool's chunk channel to completion, recording the
// materialized output (and error, if the final chunk carried one) the
// same way Pop does for a non-streaming call. If allowGeneratorOutput
// is set, the returned output is a *LazyOutput replaying the collected
// chunks instead of the bare materialized value -- the tee point
// original_source's GeneratorProxy occupies, rendered here as
// buffer-then-replay since the tool has already finished producing
// chunks by the time this method can return anything at all.
func (t *Tracer) PopStream(ctx context.Context, node string, chunks <-chan tools.ToolChunk, allowGeneratorOutput bool) (interface{}, error) {
	span := oteltrace.SpanFromContext(ctx)

	t.mu.Lock()
	stack := t.stacks[node]
	if len(stack) == 0 {
		t.mu.Unlock()
		return nil, nil
	}
	call := stack[len(stack)-1]
	t.stacks[node] = stack[:len(stack)-1]
	t.mu.Unlock()

	var collected []tools.ToolChunk
	var finalErr error
	for chunk := range chunks {
		collected = append(collected, chunk)
		if chunk.IsFinal {
			finalErr = chunk.Error
		}
	}

	materialized := materializeChunks(collected)

	call.EndTime = time.Now()
	call.Output = t.scrubValue(materialized)
	if finalErr != nil {
		call.Error = t.redactor.Redact(finalErr.Error())
		span.SetStatus(codes.Error, call.Error)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	if finalErr != nil {
		return nil, finalErr
	}
	if allowGeneratorOutput {
		return NewLazyOutput(collected), nil
	}
	return materialized, nil
}

// Calls returns every root-level APICall recorded so far, across every
// node.
func (t *Tracer) Calls() []APICall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]APICall, len(t.roots))
	for i, c := range t.roots {
		out[i] = *c.call
	}
	return out
}

// CallsForNode returns the root-level calls recorded under a single
// node, clearing them from the tracer so a subsequent node's calls
// don't get mixed in (the tracer is shared for the whole line, but
// NodeRunInfo.APICalls is scoped to one node).
func (t *Tracer) CallsForNode(node string) []APICall {
	t.mu.Lock()
	defer t.mu.Unlock()
	var matched []APICall
	rest := t.roots[:0:0]
	for _, c := range t.roots {
		if c.node == node {
			matched = append(matched, *c.call)
		} else {
			rest = append(rest, c)
		}
	}
	t.roots = rest
	return matched
}

func (t *Tracer) scrub(inputs map[string]interface{}) map[string]interface{} {
	if inputs == nil || t.redactor == nil {
		return inputs
	}
	scrubbed := make(map[string]interface{}, len(inputs))
	for k, v := range inputs {
		scrubbed[k] = t.scrubValue(v)
	}
	return scrubbed
}

func (t *Tracer) scrubValue(v interface{}) interface{} {
	if t.redactor == nil {
		return v
	}
	if s, ok := v.(string); ok {
		return t.redactor.Redact(s)
	}
	return v
}
