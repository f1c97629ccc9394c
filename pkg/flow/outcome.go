package flow

// OutcomeKind discriminates the three ways a node's execution can
// conclude. Go has no exceptions, so where original_source relies on
// raising/catching UserError vs SystemError vs plain success,
// NodeOutcome carries that distinction explicitly as data.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeBypassed
	OutcomeFailed
)

// NodeOutcome is the tagged-union result of running or bypassing one
// node: exactly one of Output (success), BypassReason (bypassed), or
// Err (failed) is meaningful, selected by Kind. The scheduler and
// executor branch on Kind rather than on type-asserting an error, so a
// bypass is never mistaken for a failure or vice versa.
type NodeOutcome struct {
	Kind         OutcomeKind
	Node         string
	RunID        string
	Output       interface{}
	APICalls     []APICall
	BypassReason string
	Err          error
}

// Success builds a NodeOutcome for a node that ran to completion.
func Success(node string, output interface{}, apiCalls []APICall) NodeOutcome {
	return NodeOutcome{Kind: OutcomeSuccess, Node: node, Output: output, APICalls: apiCalls}
}

// Bypassed builds a NodeOutcome for a node skipped by its activate
// condition.
func Bypassed(node, reason string) NodeOutcome {
	return NodeOutcome{Kind: OutcomeBypassed, Node: node, BypassReason: reason}
}

// Failed builds a NodeOutcome for a node whose execution returned an
// error.
func Failed(node string, err error) NodeOutcome {
	return NodeOutcome{Kind: OutcomeFailed, Node: node, Err: err}
}
