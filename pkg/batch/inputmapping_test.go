package batch

import (
	"testing"

	"github.com/tombee/promptflow/pkg/errors"
	"github.com/tombee/promptflow/pkg/flow"
)

func TestMergeInputDictsByLine_PositionalAlignment(t *testing.T) {
	aliases := map[string][]map[string]interface{}{
		"data": {
			{"question": "q1", "answer": "ans1"},
			{"question": "q2", "answer": "ans2"},
		},
		"output": {
			{"answer": "output_ans1"},
			{"answer": "output_ans2"},
		},
	}

	merged, err := mergeInputDictsByLine(aliases)
	if err != nil {
		t.Fatalf("mergeInputDictsByLine: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged lines, got %d: %+v", len(merged), merged)
	}
	if merged[0]["line_number"] != 0 || merged[1]["line_number"] != 1 {
		t.Fatalf("expected positional line numbers 0,1, got %+v", merged)
	}
	data1 := merged[1]["data"].(map[string]interface{})
	if data1["question"] != "q2" {
		t.Fatalf("expected line 1 to carry data[1], got %+v", data1)
	}
}

func TestMergeInputDictsByLine_ExplicitLineNumberIntersection(t *testing.T) {
	aliases := map[string][]map[string]interface{}{
		"data": {
			{"question": "q1", "answer": "ans1"},
			{"question": "q2", "answer": "ans2"},
		},
		"output": {
			{"answer": "output_ans2", "line_number": 1},
		},
	}

	merged, err := mergeInputDictsByLine(aliases)
	if err != nil {
		t.Fatalf("mergeInputDictsByLine: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("expected intersection to produce exactly 1 line, got %+v", merged)
	}
	if merged[0]["line_number"] != 1 {
		t.Fatalf("expected the surviving line to be line_number 1, got %+v", merged[0])
	}
	data := merged[0]["data"].(map[string]interface{})
	if data["question"] != "q2" {
		t.Fatalf("expected line 1's data to be data[1], got %+v", data)
	}
	output := merged[0]["output"].(map[string]interface{})
	if output["line_number"] != 1 {
		t.Fatalf("expected output's own record to retain its embedded line_number, got %+v", output)
	}
}

func TestMergeInputDictsByLine_LengthMismatchErrors(t *testing.T) {
	aliases := map[string][]map[string]interface{}{
		"data":     {{"question": "q1"}, {"question": "q2"}},
		"baseline": {{"answer": "a1"}},
	}

	_, err := mergeInputDictsByLine(aliases)
	if err == nil {
		t.Fatalf("expected length mismatch without line_number alignment to error")
	}
	mapErr, ok := err.(*errors.InputMappingError)
	if !ok {
		t.Fatalf("expected *errors.InputMappingError, got %T: %v", err, err)
	}
	if mapErr.Reason == "" {
		t.Fatalf("expected a reason naming the mismatched lengths")
	}
}

func TestInputsProcessor_EmptyAliasListErrors(t *testing.T) {
	p := NewInputsProcessor(nil, map[string]string{})
	_, err := p.Process(map[string][]map[string]interface{}{
		"data": {},
	})
	if err == nil {
		t.Fatalf("expected empty alias list to error")
	}
}

func TestInputsProcessor_AutoGeneratesMappingForUnmappedInputs(t *testing.T) {
	flowInputs := map[string]flow.InputDefinition{
		"question": {},
		"chat_history": {Default: []interface{}{}},
	}
	p := NewInputsProcessor(flowInputs, nil)

	lines, err := p.Process(map[string][]map[string]interface{}{
		"data": {
			{"question": "what is the capital of France"},
		},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %+v", lines)
	}
	if lines[0]["question"] != "what is the capital of France" {
		t.Fatalf("expected auto-generated ${data.question} mapping to resolve, got %+v", lines[0])
	}
	if _, ok := lines[0]["chat_history"]; ok {
		t.Fatalf("expected input with a declared default to be skipped by auto-generation, got %+v", lines[0])
	}
}

func TestApplyInputsMapping_ShorterKeyHasHigherPriority(t *testing.T) {
	line := map[string]interface{}{
		"data.test": map[string]interface{}{
			"question": "longer input key has lower priority",
		},
		"data": map[string]interface{}{
			"test.question": "shorter input key has higher priority",
		},
	}

	result, err := applyInputsMapping(line, map[string]string{"question": "${data.test.question}"})
	if err != nil {
		t.Fatalf("applyInputsMapping: %v", err)
	}
	if result["question"] != "shorter input key has higher priority" {
		t.Fatalf("expected the shorter alias prefix to win, got %+v", result)
	}
}

func TestApplyInputsMapping_OnlyLongerKeyPresent(t *testing.T) {
	line := map[string]interface{}{
		"data.test": map[string]interface{}{
			"question": "longer input key has lower priority",
		},
	}

	result, err := applyInputsMapping(line, map[string]string{"question": "${data.test.question}"})
	if err != nil {
		t.Fatalf("applyInputsMapping: %v", err)
	}
	if result["question"] != "longer input key has lower priority" {
		t.Fatalf("expected fallback to the longer alias prefix, got %+v", result)
	}
}

func TestApplyInputsMapping_UnresolvableExpressionErrors(t *testing.T) {
	line := map[string]interface{}{
		"data": map[string]interface{}{"question": "q"},
	}

	_, err := applyInputsMapping(line, map[string]string{"answer": "${baseline.answer}"})
	if err == nil {
		t.Fatalf("expected unresolvable mapping expression to error")
	}
	if _, ok := err.(*errors.InputMappingError); !ok {
		t.Fatalf("expected *errors.InputMappingError, got %T", err)
	}
}

func TestApplyInputsMapping_LiteralValuePassesThrough(t *testing.T) {
	result, err := applyInputsMapping(map[string]interface{}{}, map[string]string{"deployment_name": "gpt-4"})
	if err != nil {
		t.Fatalf("applyInputsMapping: %v", err)
	}
	if result["deployment_name"] != "gpt-4" {
		t.Fatalf("expected literal mapping value to pass through, got %+v", result)
	}
}

func TestApplyInputsMapping_ReservedLineNumberKeyIgnored(t *testing.T) {
	result, err := applyInputsMapping(map[string]interface{}{}, map[string]string{"line_number": "${data.line_number}"})
	if err != nil {
		t.Fatalf("applyInputsMapping: %v", err)
	}
	if _, ok := result["line_number"]; ok {
		t.Fatalf("expected reserved line_number mapping key to be silently ignored, got %+v", result)
	}
}
