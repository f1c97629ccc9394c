package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/tombee/promptflow/pkg/exprx"
	"github.com/tombee/promptflow/pkg/tools"
	noop "go.opentelemetry.io/otel/trace/noop"
)

type funcTool struct {
	name string
	fn   func(inputs map[string]interface{}) (map[string]interface{}, error)
}

func (t *funcTool) Name() string        { return t.name }
func (t *funcTool) Description() string { return "" }
func (t *funcTool) Schema() *tools.Schema {
	return &tools.Schema{Inputs: &tools.ParameterSchema{Type: "object"}, Outputs: &tools.ParameterSchema{Type: "object"}}
}
func (t *funcTool) Execute(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	return t.fn(inputs)
}

func newTestScheduler(t *testing.T, def *Definition, registry *tools.Registry) (*Scheduler, *RunState) {
	t.Helper()
	return newTestSchedulerStreaming(t, def, registry, false)
}

func newTestSchedulerStreaming(t *testing.T, def *Definition, registry *tools.Registry, allowGeneratorOutput bool) (*Scheduler, *RunState) {
	t.Helper()
	graph, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	tracer := NewTracer("run-1", tools.NewRedactor(), noop.NewTracerProvider().Tracer("test"))
	runTracker := NewRunTracker("flow-1", "run-1", nil, nil)
	cache := NewCacheManager(t.TempDir(), nil)
	sched := NewScheduler(def, graph, registry, tracer, runTracker, cache, exprx.NewResolver(), exprx.NewConditionEvaluator(), "run-1", 4, nil, "", allowGeneratorOutput)
	return sched, NewRunState(graph)
}

// streamingTool is a minimal tools.StreamingTool for exercising the
// scheduler's streaming/lazy-output path without a real provider.
type streamingTool struct {
	name   string
	chunks []tools.ToolChunk
}

func (s *streamingTool) Name() string        { return s.name }
func (s *streamingTool) Description() string { return "" }
func (s *streamingTool) Schema() *tools.Schema {
	return &tools.Schema{Inputs: &tools.ParameterSchema{Type: "object"}, Outputs: &tools.ParameterSchema{Type: "object"}}
}
func (s *streamingTool) Execute(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error) {
	return materializeChunks(s.chunks).(map[string]interface{}), nil
}
func (s *streamingTool) ExecuteStream(ctx context.Context, inputs map[string]interface{}) (<-chan tools.ToolChunk, error) {
	out := make(chan tools.ToolChunk, len(s.chunks))
	for _, c := range s.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func TestScheduler_RunsDependencyChain(t *testing.T) {
	def, err := ParseDefinition([]byte(`
nodes:
  - name: classify
    source: classifier
    inputs:
      topic: ${inputs.topic}
  - name: route
    source: router
    inputs:
      category: ${classify.output.category}
`))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}

	registry := tools.NewRegistry()
	registry.Register(&funcTool{name: "classifier", fn: func(inputs map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"category": "billing"}, nil
	}})
	registry.Register(&funcTool{name: "router", fn: func(inputs map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"queue": inputs["category"]}, nil
	}})

	sched, state := newTestScheduler(t, def, registry)
	result, err := sched.Run(context.Background(), state, map[string]interface{}{"topic": "refund"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	route, ok := result.Completed("route")
	if !ok {
		t.Fatalf("expected route to complete")
	}
	output, ok := route.Output.(map[string]interface{})
	if !ok || output["queue"] != "billing" {
		t.Fatalf("expected route output to carry classify's category, got %+v", route.Output)
	}
}

func TestScheduler_BypassesNodeOnFalseCondition(t *testing.T) {
	def, err := ParseDefinition([]byte(`
nodes:
  - name: classify
    source: classifier
  - name: escalate
    source: escalator
    activate:
      when: classify.output.category == "urgent"
`))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}

	registry := tools.NewRegistry()
	registry.Register(&funcTool{name: "classifier", fn: func(inputs map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"category": "billing"}, nil
	}})
	registry.Register(&funcTool{name: "escalator", fn: func(inputs map[string]interface{}) (map[string]interface{}, error) {
		t.Fatalf("escalator should not run when bypassed")
		return nil, nil
	}})

	sched, state := newTestScheduler(t, def, registry)
	result, err := sched.Run(context.Background(), state, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	escalate, ok := result.Completed("escalate")
	if !ok || escalate.Status != StatusBypassed {
		t.Fatalf("expected escalate to be bypassed, got %+v", escalate)
	}
}

func TestScheduler_PropagatesBypassToDependentWithNoCondition(t *testing.T) {
	def, err := ParseDefinition([]byte(`
nodes:
  - name: classify
    source: classifier
  - name: escalate
    source: escalator
    activate:
      when: classify.output.category == "urgent"
  - name: notify
    source: notifier
    inputs:
      ticket: ${escalate.output.ticket}
`))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}

	registry := tools.NewRegistry()
	registry.Register(&funcTool{name: "classifier", fn: func(inputs map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"category": "billing"}, nil
	}})
	registry.Register(&funcTool{name: "escalator", fn: func(inputs map[string]interface{}) (map[string]interface{}, error) {
		t.Fatalf("escalator should not run when bypassed")
		return nil, nil
	}})
	registry.Register(&funcTool{name: "notifier", fn: func(inputs map[string]interface{}) (map[string]interface{}, error) {
		t.Fatalf("notify should not run, it depends solely on bypassed escalate")
		return nil, nil
	}})

	sched, state := newTestScheduler(t, def, registry)
	result, err := sched.Run(context.Background(), state, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	escalate, ok := result.Completed("escalate")
	if !ok || escalate.Status != StatusBypassed {
		t.Fatalf("expected escalate to be bypassed, got %+v", escalate)
	}
	notify, ok := result.Completed("notify")
	if !ok || notify.Status != StatusBypassed {
		t.Fatalf("expected notify to inherit bypass status from escalate, got %+v", notify)
	}
}

func TestScheduler_MaterializesStreamingOutputByDefault(t *testing.T) {
	def, err := ParseDefinition([]byte(`
nodes:
  - name: generate
    source: generator
`))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}

	registry := tools.NewRegistry()
	registry.Register(&streamingTool{name: "generator", chunks: []tools.ToolChunk{
		{Data: "hello "},
		{Data: "world", IsFinal: true, Result: map[string]interface{}{"text": "hello world"}},
	}})

	sched, state := newTestSchedulerStreaming(t, def, registry, false)
	result, err := sched.Run(context.Background(), state, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	generate, ok := result.Completed("generate")
	if !ok {
		t.Fatalf("expected generate to complete")
	}
	if _, isLazy := generate.Output.(*LazyOutput); isLazy {
		t.Fatalf("expected materialized output, got *LazyOutput")
	}
	output, ok := generate.Output.(map[string]interface{})
	if !ok || output["text"] != "hello world" {
		t.Fatalf("expected materialized output from final chunk's Result, got %+v", generate.Output)
	}
}

func TestScheduler_ExposesLazyOutputWhenAllowed(t *testing.T) {
	def, err := ParseDefinition([]byte(`
nodes:
  - name: generate
    source: generator
`))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}

	registry := tools.NewRegistry()
	registry.Register(&streamingTool{name: "generator", chunks: []tools.ToolChunk{
		{Data: "hello "},
		{Data: "world", IsFinal: true, Result: map[string]interface{}{"text": "hello world"}},
	}})

	sched, state := newTestSchedulerStreaming(t, def, registry, true)
	result, err := sched.Run(context.Background(), state, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	generate, ok := result.Completed("generate")
	if !ok {
		t.Fatalf("expected generate to complete")
	}
	lazy, ok := generate.Output.(*LazyOutput)
	if !ok {
		t.Fatalf("expected *LazyOutput when allowGeneratorOutput is set, got %T", generate.Output)
	}

	var seen []string
	for chunk := range lazy.Stream() {
		seen = append(seen, chunk.Data)
	}
	if len(seen) != 2 || seen[0] != "hello " || seen[1] != "world" {
		t.Fatalf("expected replayed chunks in order, got %v", seen)
	}

	materialized, ok := lazy.Materialize().(map[string]interface{})
	if !ok || materialized["text"] != "hello world" {
		t.Fatalf("expected Materialize to return the final chunk's Result, got %+v", lazy.Materialize())
	}
}

func TestScheduler_LineLessRunsGetDistinctNodeRunIDs(t *testing.T) {
	def, err := ParseDefinition([]byte(`
nodes:
  - name: classify
    source: classifier
`))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}

	registry := tools.NewRegistry()
	registry.Register(&funcTool{name: "classifier", fn: func(inputs map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"category": "billing"}, nil
	}})

	graph, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	tracer := NewTracer("run-1", tools.NewRedactor(), noop.NewTracerProvider().Tracer("test"))
	runTracker := NewRunTracker("flow-1", "run-1", nil, nil)
	cache := NewCacheManager(t.TempDir(), nil)
	sched := NewScheduler(def, graph, registry, tracer, runTracker, cache, exprx.NewResolver(), exprx.NewConditionEvaluator(), "run-1", 4, nil, "", false)

	result, err := sched.Run(context.Background(), NewRunState(graph), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	classify, ok := result.Completed("classify")
	if !ok {
		t.Fatalf("expected classify to complete")
	}
	if classify.RunID == "" || classify.RunID == "run-1_classify" {
		t.Fatalf("expected a uuid-suffixed run ID for the line-less test path, got %q", classify.RunID)
	}
	if classify.Status != StatusCompleted {
		t.Fatalf("expected classify to complete successfully, got %+v", classify)
	}

	second, err := sched.Run(context.Background(), NewRunState(graph), nil)
	if err != nil {
		t.Fatalf("Run (second): %v", err)
	}
	classifyAgain, ok := second.Completed("classify")
	if !ok {
		t.Fatalf("expected classify to complete on the second run")
	}
	if classifyAgain.RunID == classify.RunID {
		t.Fatalf("expected repeated line-less runs to produce distinct node run IDs, got the same ID twice: %q", classify.RunID)
	}
}

func TestScheduler_PropagatesToolError(t *testing.T) {
	def, err := ParseDefinition([]byte(`
nodes:
  - name: classify
    source: classifier
`))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}

	registry := tools.NewRegistry()
	registry.Register(&funcTool{name: "classifier", fn: func(inputs map[string]interface{}) (map[string]interface{}, error) {
		return nil, errors.New("boom")
	}})

	sched, state := newTestScheduler(t, def, registry)
	_, err = sched.Run(context.Background(), state, nil)
	if err == nil {
		t.Fatalf("expected scheduler to surface tool error")
	}
}

func TestScheduler_CachesNodeResult(t *testing.T) {
	def, err := ParseDefinition([]byte(`
nodes:
  - name: classify
    source: classifier
    enable_cache: true
    inputs:
      topic: ${inputs.topic}
`))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}

	calls := 0
	registry := tools.NewRegistry()
	registry.Register(&funcTool{name: "classifier", fn: func(inputs map[string]interface{}) (map[string]interface{}, error) {
		calls++
		return map[string]interface{}{"category": "billing"}, nil
	}})

	graph, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	tracer := NewTracer("run-1", tools.NewRedactor(), noop.NewTracerProvider().Tracer("test"))
	cacheDir := t.TempDir()

	run := func(runID string) {
		runTracker := NewRunTracker("flow-1", runID, nil, nil)
		cache := NewCacheManager(cacheDir, nil)
		sched := NewScheduler(def, graph, registry, tracer, runTracker, cache, exprx.NewResolver(), exprx.NewConditionEvaluator(), "flow-1", 4, nil, "", false)
		if _, err := sched.Run(context.Background(), NewRunState(graph), map[string]interface{}{"topic": "refund"}); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}

	run("run-1")
	run("run-2")

	if calls != 1 {
		t.Fatalf("expected classifier to run once due to caching, ran %d times", calls)
	}
}
