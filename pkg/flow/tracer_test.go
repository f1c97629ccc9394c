package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	noop "go.opentelemetry.io/otel/trace/noop"

	"github.com/tombee/promptflow/pkg/tools"
)

func TestTracer_PushPopRecordsCall(t *testing.T) {
	tr := NewTracer("run-1", tools.NewRedactor(), noop.NewTracerProvider().Tracer("test"))

	ctx, call := tr.Push(context.Background(), "classify", "classifier.run", "tool", map[string]interface{}{"topic": "billing"})
	require.NotNil(t, call)
	tr.Pop(ctx, "classify", map[string]interface{}{"category": "billing"}, nil)

	calls := tr.CallsForNode("classify")
	require.Len(t, calls, 1)
	assert.Equal(t, "classifier.run", calls[0].Name)
	assert.NotZero(t, calls[0].EndTime)
	assert.Empty(t, calls[0].Error)
}

func TestTracer_NestedCalls(t *testing.T) {
	tr := NewTracer("run-1", tools.NewRedactor(), noop.NewTracerProvider().Tracer("test"))

	ctx, _ := tr.Push(context.Background(), "classify", "outer", "tool", nil)
	ctx2, _ := tr.Push(ctx, "classify", "inner", "tool", nil)
	tr.Pop(ctx2, "classify", "inner result", nil)
	tr.Pop(ctx, "classify", "outer result", nil)

	calls := tr.CallsForNode("classify")
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Children, 1)
	assert.Equal(t, "inner", calls[0].Children[0].Name)
}

func TestTracer_RecordsError(t *testing.T) {
	tr := NewTracer("run-1", tools.NewRedactor(), noop.NewTracerProvider().Tracer("test"))

	ctx, _ := tr.Push(context.Background(), "classify", "classifier.run", "tool", nil)
	tr.Pop(ctx, "classify", nil, errors.New("boom"))

	calls := tr.CallsForNode("classify")
	require.Len(t, calls, 1)
	assert.Equal(t, "boom", calls[0].Error)
}

func TestTracer_CallsForNodeIsScopedPerNode(t *testing.T) {
	tr := NewTracer("run-1", tools.NewRedactor(), noop.NewTracerProvider().Tracer("test"))

	ctxA, _ := tr.Push(context.Background(), "classify", "a", "tool", nil)
	tr.Pop(ctxA, "classify", nil, nil)
	ctxB, _ := tr.Push(context.Background(), "route", "b", "tool", nil)
	tr.Pop(ctxB, "route", nil, nil)

	classifyCalls := tr.CallsForNode("classify")
	require.Len(t, classifyCalls, 1)
	assert.Equal(t, "a", classifyCalls[0].Name)

	routeCalls := tr.CallsForNode("route")
	require.Len(t, routeCalls, 1)
	assert.Equal(t, "b", routeCalls[0].Name)
}
