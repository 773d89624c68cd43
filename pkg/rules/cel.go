package rules

import (
	"fmt"

	celgo "github.com/google/cel-go/cel"

	"github.com/petrijr/statebox/pkg/api"
)

// CELRule is a boolean CEL expression type-checked once and evaluated
// against every candidate value, which is bound to "value".
type CELRule[T any] struct {
	expression string
	program    celgo.Program
}

// CEL compiles expression into a validator. The expression must be
// boolean-typed (or dynamically typed).
func CEL[T any](expression string) (*CELRule[T], error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}
	env, err := celgo.NewEnv(
		celgo.Variable("value", celgo.DynType),
		celgo.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, &RuleError{Engine: "cel", Expression: expression, Err: err}
	}

	ast, issues := env.Parse(expression)
	if issues != nil && issues.Err() != nil {
		return nil, &RuleError{Engine: "cel", Expression: expression, Err: issues.Err()}
	}
	checked, issues := env.Check(ast)
	if issues != nil && issues.Err() != nil {
		return nil, &RuleError{Engine: "cel", Expression: expression, Err: issues.Err()}
	}
	if out := checked.OutputType(); !out.IsExactType(celgo.BoolType) && !out.IsExactType(celgo.DynType) {
		return nil, &RuleError{Engine: "cel", Expression: expression, Err: fmt.Errorf("result type %s is not bool", out)}
	}

	prg, err := env.Program(checked)
	if err != nil {
		return nil, &RuleError{Engine: "cel", Expression: expression, Err: err}
	}
	return &CELRule[T]{expression: expression, program: prg}, nil
}

// MustCEL is like CEL but panics on a compile error.
func MustCEL[T any](expression string) *CELRule[T] {
	r, err := CEL[T](expression)
	if err != nil {
		panic(err)
	}
	return r
}

// Expression returns the source of the rule.
func (r *CELRule[T]) Expression() string {
	return r.expression
}

// Validate implements api.Validator.
func (r *CELRule[T]) Validate(value T) error {
	nv, err := normalize(value)
	if err != nil {
		return &RuleError{Engine: "cel", Expression: r.expression, Err: err}
	}
	out, _, err := r.program.Eval(map[string]any{"value": nv})
	if err != nil {
		return &RuleError{Engine: "cel", Expression: r.expression, Err: err}
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return &RuleError{Engine: "cel", Expression: r.expression, Err: fmt.Errorf("result %T is not a bool", out.Value())}
	}
	if !ok {
		return rejected("cel", r.expression)
	}
	return nil
}

var _ api.Validator[int] = (*CELRule[int])(nil)
