package rules

import (
	"fmt"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"github.com/petrijr/statebox/pkg/api"
)

// ExprRule is a boolean expr-lang expression compiled once and evaluated
// against every candidate value.
//
// The candidate is bound to "value". When it is an object (a struct or a
// map), its top-level fields are also bound by their JSON names, so
// `age >= 18` and `value.age >= 18` are equivalent.
type ExprRule[T any] struct {
	expression string
	program    *exprvm.Program
}

// Expr compiles expression into a validator.
func Expr[T any](expression string) (*ExprRule[T], error) {
	if expression == "" {
		return nil, ErrEmptyExpression
	}
	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
		exprlang.AsBool(),
	)
	if err != nil {
		return nil, &RuleError{Engine: "expr", Expression: expression, Err: err}
	}
	return &ExprRule[T]{expression: expression, program: program}, nil
}

// MustExpr is like Expr but panics on a compile error.
func MustExpr[T any](expression string) *ExprRule[T] {
	r, err := Expr[T](expression)
	if err != nil {
		panic(err)
	}
	return r
}

// Expression returns the source of the rule.
func (r *ExprRule[T]) Expression() string {
	return r.expression
}

// Validate implements api.Validator.
func (r *ExprRule[T]) Validate(value T) error {
	env, err := bindings(value)
	if err != nil {
		return &RuleError{Engine: "expr", Expression: r.expression, Err: err}
	}
	out, err := exprlang.Run(r.program, env)
	if err != nil {
		return &RuleError{Engine: "expr", Expression: r.expression, Err: err}
	}
	ok, isBool := out.(bool)
	if !isBool {
		return &RuleError{Engine: "expr", Expression: r.expression, Err: fmt.Errorf("result %T is not a bool", out)}
	}
	if !ok {
		return rejected("expr", r.expression)
	}
	return nil
}

var _ api.Validator[int] = (*ExprRule[int])(nil)
