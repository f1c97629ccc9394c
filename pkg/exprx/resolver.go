package exprx

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/promptflow/pkg/errors"
)

// referencePattern matches a single ${...} reference. The body is an
// expr-lang path expression evaluated against a Context, e.g.
// "inputs.topic", "classify.output", "classify.output.category",
// "classify.inputs.topic" (the last form is only valid when classify was
// reached through an aggregation node, see pkg/flow's DAG manager).
var referencePattern = regexp.MustCompile(`\$\{([^{}]+)\}`)

// Resolver substitutes ${...} node-reference expressions found in a
// node's raw input values with the values they point to in a flow
// Context. Unlike ConditionEvaluator it does not coerce its result to
// bool: a reference may resolve to a string, number, list, or map.
type Resolver struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// NewResolver creates a new, empty reference resolver.
func NewResolver() *Resolver {
	return &Resolver{
		cache: make(map[string]*vm.Program),
	}
}

// References returns every reference body (without the surrounding
// "${" "}") found in s, in order of first appearance, deduplicated.
func References(s string) []string {
	matches := referencePattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	var refs []string
	for _, m := range matches {
		ref := strings.TrimSpace(m[1])
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	return refs
}

// Resolve evaluates a raw input value against ctx, substituting any
// ${...} references it contains. Non-string values pass through
// unchanged. A string that is *exactly* one reference (nothing else in
// the string) resolves to the referenced value's native type, so that
// e.g. "${inputs.items}" can still produce a list or map rather than a
// stringified rendering of one. A string containing a reference among
// other text is rendered by substituting each reference's string form
// in place.
func (r *Resolver) Resolve(value interface{}, ctx Context) (interface{}, error) {
	s, ok := value.(string)
	if !ok {
		return value, nil
	}

	matches := referencePattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		ref := strings.TrimSpace(s[matches[0][2]:matches[0][3]])
		return r.eval(ref, ctx)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end, refStart, refEnd := m[0], m[1], m[2], m[3]
		b.WriteString(s[last:start])
		ref := strings.TrimSpace(s[refStart:refEnd])
		val, err := r.eval(ref, ctx)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "%v", val)
		last = end
	}
	b.WriteString(s[last:])

	return b.String(), nil
}

// ResolveMap applies Resolve to every value in a shallow map, returning a
// new map. Used for a node's `inputs` block and an aggregation node's
// merged line inputs.
func (r *Resolver) ResolveMap(values map[string]interface{}, ctx Context) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(values))
	for k, v := range values {
		rv, err := r.Resolve(v, ctx)
		if err != nil {
			return nil, &errors.UserError{
				Message: fmt.Sprintf("input %q: %s", k, err.Error()),
				Cause:   err,
			}
		}
		resolved[k] = rv
	}
	return resolved, nil
}

func (r *Resolver) eval(ref string, ctx Context) (interface{}, error) {
	program, err := r.compile(ref)
	if err != nil {
		return nil, &errors.UserError{
			Message: fmt.Sprintf("invalid reference \"${%s}\": %s", ref, err.Error()),
			Cause:   err,
		}
	}

	result, err := expr.Run(program, ctx.asEvalEnv())
	if err != nil {
		return nil, &errors.UserError{
			Message: fmt.Sprintf("cannot resolve reference \"${%s}\": %s", ref, err.Error()),
			Cause:   err,
		}
	}

	return result, nil
}

func (r *Resolver) compile(ref string) (*vm.Program, error) {
	r.mu.RLock()
	if prog, ok := r.cache[ref]; ok {
		r.mu.RUnlock()
		return prog, nil
	}
	r.mu.RUnlock()

	env := sharedFunctions()

	prog, err := expr.Compile(ref, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[ref] = prog
	r.mu.Unlock()

	return prog, nil
}

// ClearCache clears the compiled-expression cache. Used in tests.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	r.cache = make(map[string]*vm.Program)
	r.mu.Unlock()
}
