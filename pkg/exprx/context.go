// Package exprx evaluates the two expression surfaces a flow run needs:
// boolean activation/bypass conditions, and `${...}` node-reference
// substitution inside node inputs. Both are built on expr-lang/expr,
// adapted from the teacher's workflow condition evaluator.
package exprx

// NodeOutputConverter exposes a completed node's output (and, for
// aggregation nodes, its per-line inputs) as a plain map, the same way the
// teacher's StepOutputConverter decouples the expression layer from the
// flow package to avoid an import cycle.
type NodeOutputConverter interface {
	ToMap() map[string]interface{}
}

// Context is the flat namespace exposed to both evaluators: "inputs" for
// the flow's own inputs, and one entry per node name for that node's
// result. A node entry is itself a map with "output" and, for nodes
// reachable from an aggregation node, "inputs" (the per-line values that
// fed it, for ${node.inputs.x} aggregation references).
type Context map[string]interface{}

// BuildContext assembles an evaluation Context from flow inputs and the
// set of node results completed so far.
func BuildContext(inputs map[string]interface{}, nodeResults map[string]NodeOutputConverter) Context {
	ctx := make(Context, len(nodeResults)+1)

	if inputs != nil {
		ctx["inputs"] = inputs
	} else {
		ctx["inputs"] = map[string]interface{}{}
	}

	for name, converter := range nodeResults {
		if converter == nil {
			continue
		}
		ctx[name] = converter.ToMap()
	}

	return ctx
}

// asEvalEnv returns a plain map[string]interface{} copy of ctx merged with
// the shared function set, suitable to pass to expr.Run.
func (c Context) asEvalEnv() map[string]interface{} {
	env := make(map[string]interface{}, len(c)+3)
	for k, v := range c {
		env[k] = v
	}
	for k, v := range sharedFunctions() {
		env[k] = v
	}
	return env
}
