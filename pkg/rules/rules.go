// Package rules provides validators for container values: adapters for
// schema-style parsers and compiled expression rules (expr-lang and CEL).
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/petrijr/statebox/pkg/api"
)

// ErrEmptyExpression is returned when a rule is compiled from "".
var ErrEmptyExpression = errors.New("rules: expression must not be empty")

// Parser validates by parsing. Invalid input is reported by returning an
// error or by panicking.
type Parser[T any] interface {
	Parse(v T) (T, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc[T any] func(v T) (T, error)

func (f ParserFunc[T]) Parse(v T) (T, error) {
	return f(v)
}

// Issue is one problem reported by a SafeParser.
type Issue struct {
	Path    string
	Message string
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// Result is the outcome of SafeParse.
type Result struct {
	Success bool
	Issues  []Issue
}

// SafeParser reports the outcome of parsing as a Result and never fails
// through an error or a panic.
type SafeParser[T any] interface {
	SafeParse(v T) Result
}

// SafeParserFunc adapts a function to SafeParser.
type SafeParserFunc[T any] func(v T) Result

func (f SafeParserFunc[T]) SafeParse(v T) Result {
	return f(v)
}

// IssuesError carries the issues of a failed SafeParse. It matches
// api.ErrValidationFailed.
type IssuesError struct {
	Issues []Issue
}

func (e *IssuesError) Error() string {
	if len(e.Issues) == 0 {
		return api.ErrValidationFailed.Error()
	}
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return strings.Join(parts, "; ")
}

func (e *IssuesError) Is(target error) bool {
	return target == api.ErrValidationFailed
}

// FromParser adapts p to a Validator. The parsed result is discarded; only
// success matters. A panic in p is reported as a validation error carrying
// the panic message.
func FromParser[T any](p Parser[T]) api.Validator[T] {
	return api.Check[T](func(v T) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", api.ErrValidationFailed, r)
			}
		}()
		if _, err := p.Parse(v); err != nil {
			return err
		}
		return nil
	})
}

// FromSafeParser adapts p to a Validator.
func FromSafeParser[T any](p SafeParser[T]) api.Validator[T] {
	return api.Check[T](func(v T) error {
		res := p.SafeParse(v)
		if res.Success {
			return nil
		}
		return &IssuesError{Issues: res.Issues}
	})
}

// RuleError reports a rule that rejected a value or failed to evaluate.
type RuleError struct {
	Engine     string
	Expression string
	Err        error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rules: %s %q: %v", e.Engine, e.Expression, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

func rejected(engine, expression string) error {
	return &RuleError{Engine: engine, Expression: expression, Err: api.ErrValidationFailed}
}

// normalize turns v into a value both rule engines understand: scalars pass
// through, everything else is round-tripped through JSON so struct fields
// are addressed by their JSON names.
func normalize(v any) (any, error) {
	switch v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// bindings returns the variables visible to an expression: "value" plus,
// for object values, each top-level field.
func bindings(v any) (map[string]any, error) {
	nv, err := normalize(v)
	if err != nil {
		return nil, err
	}
	env := map[string]any{}
	if fields, ok := nv.(map[string]any); ok {
		for k, f := range fields {
			env[k] = f
		}
	}
	env["value"] = nv
	return env, nil
}
