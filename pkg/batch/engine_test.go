package batch

import (
	"context"
	"testing"

	"github.com/tombee/promptflow/pkg/flow"
	"github.com/tombee/promptflow/pkg/tools"
)

func TestEngine_RunComposesBatchResult(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&stubTool{name: "classifier", fn: func(inputs map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"category": inputs["topic"]}, nil
	}})
	registry.Register(&stubTool{name: "summarizer", fn: func(inputs map[string]interface{}) (map[string]interface{}, error) {
		topics, _ := inputs["topics"].([]interface{})
		return map[string]interface{}{"count": len(topics)}, nil
	}})

	def, err := flow.ParseDefinition([]byte(`
inputs:
  topic:
    type: string
nodes:
  - name: classify
    source: classifier
    inputs:
      topic: ${inputs.topic}
  - name: summarize
    source: summarizer
    aggregation: true
    inputs:
      topics: ${inputs.topic}
outputs:
  category:
    type: string
    reference: ${classify.output.category}
`))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}

	exec, err := flow.NewExecutor(def, registry, flow.NewCacheManager(t.TempDir(), nil), nil, nil, 4)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	engine := NewEngine(def, exec, nil, nil, EngineConfig{Concurrency: 2})

	aliases := map[string][]map[string]interface{}{
		"data": {
			{"topic": "refund"},
			{"topic": "billing"},
		},
	}

	result, err := engine.Run(context.Background(), "batch-1", aliases, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Total != 2 || result.CompletedLines != 2 || result.FailedLines != 0 {
		t.Fatalf("expected 2 completed lines, got %+v", result)
	}
	if result.Error != nil {
		t.Fatalf("expected no batch error, got %+v", result.Error)
	}
	if result.AggregationRuns == nil {
		t.Fatalf("expected aggregation node runs to be recorded")
	}
	summarize, ok := result.AggregationRuns["summarize"]
	if !ok {
		t.Fatalf("expected summarize aggregation run, got %+v", result.AggregationRuns)
	}
	output, ok := summarize.Output.(map[string]interface{})
	if !ok || output["count"] != 2 {
		t.Fatalf("expected aggregation to see both lines' topics, got %+v", summarize.Output)
	}
}

func TestEngine_RunFailsBatchOnInputMappingError(t *testing.T) {
	registry := tools.NewRegistry()
	def, err := flow.ParseDefinition([]byte(`
nodes:
  - name: noop
    source: noop
`))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}
	exec, err := flow.NewExecutor(def, registry, flow.NewCacheManager(t.TempDir(), nil), nil, nil, 4)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	engine := NewEngine(def, exec, nil, nil, EngineConfig{})

	_, err = engine.Run(context.Background(), "batch-1", map[string][]map[string]interface{}{
		"data": {},
	}, nil)
	if err == nil {
		t.Fatalf("expected empty alias list to fail the batch before any line runs")
	}
}
