package exprx

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/promptflow/pkg/errors"
)

// ConditionEvaluator evaluates a node's activate_config.when/bypass
// condition against a flow Context. It caches compiled expressions,
// since the same condition string is re-evaluated on every line of a
// batch run.
type ConditionEvaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// NewConditionEvaluator creates a new, empty condition evaluator.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate evaluates condition against ctx and returns its boolean result.
// An empty condition is defined to always be true (no gating).
func (e *ConditionEvaluator) Evaluate(condition string, ctx Context) (bool, error) {
	if condition == "" {
		return true, nil
	}

	program, err := e.compile(condition)
	if err != nil {
		return false, &errors.UserError{
			Message: fmt.Sprintf("failed to compile condition %q: %s", condition, err.Error()),
			Cause:   err,
		}
	}

	result, err := expr.Run(program, ctx.asEvalEnv())
	if err != nil {
		return false, &errors.UserError{
			Message: fmt.Sprintf("condition %q failed to evaluate: %s", condition, err.Error()),
			Cause:   err,
		}
	}

	boolResult, ok := result.(bool)
	if !ok {
		return false, &errors.UserError{
			Message: fmt.Sprintf("condition %q must return a boolean, got %T (%v)", condition, result, result),
		}
	}

	return boolResult, nil
}

func (e *ConditionEvaluator) compile(condition string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[condition]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	env := sharedFunctions()

	prog, err := expr.Compile(condition,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[condition] = prog
	e.mu.Unlock()

	return prog, nil
}

// ClearCache clears the compiled-expression cache. Used in tests.
func (e *ConditionEvaluator) ClearCache() {
	e.mu.Lock()
	e.cache = make(map[string]*vm.Program)
	e.mu.Unlock()
}

// CacheSize reports the number of compiled expressions currently cached.
func (e *ConditionEvaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
