package exprx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionEvaluator_Comparison(t *testing.T) {
	e := NewConditionEvaluator()
	ctx := Context{
		"inputs": map[string]interface{}{
			"threshold": 80,
		},
		"classify": map[string]interface{}{
			"output": map[string]interface{}{
				"score": 95,
			},
		},
	}

	tests := []struct {
		name string
		cond string
		want bool
	}{
		{"node output compared to input", `classify.output.score > inputs.threshold`, true},
		{"node output below input", `classify.output.score < inputs.threshold`, false},
		{"has function", `has(["security", "perf"], "security")`, true},
		{"length function", `length(["a", "b"]) == 2`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(tt.cond, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConditionEvaluator_EmptyConditionIsTrue(t *testing.T) {
	e := NewConditionEvaluator()
	got, err := e.Evaluate("", Context{})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestConditionEvaluator_Caching(t *testing.T) {
	e := NewConditionEvaluator()
	ctx := Context{"inputs": map[string]interface{}{"x": true}}

	_, err := e.Evaluate(`inputs.x == true`, ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, e.CacheSize())

	_, err = e.Evaluate(`inputs.x == true`, ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, e.CacheSize())

	_, err = e.Evaluate(`inputs.x == false`, ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, e.CacheSize())

	e.ClearCache()
	assert.Equal(t, 0, e.CacheSize())
}

func TestConditionEvaluator_Errors(t *testing.T) {
	e := NewConditionEvaluator()

	_, err := e.Evaluate(`inputs.x ==`, Context{})
	require.Error(t, err)

	_, err = e.Evaluate(`"not a bool"`, Context{})
	require.Error(t, err)
}

func TestConditionEvaluator_BypassPropagation(t *testing.T) {
	e := NewConditionEvaluator()
	ctx := Context{
		"upstream": map[string]interface{}{
			"output": nil,
			"status": "Bypassed",
		},
	}

	got, err := e.Evaluate(`upstream.status != "Bypassed"`, ctx)
	require.NoError(t, err)
	assert.False(t, got)
}
