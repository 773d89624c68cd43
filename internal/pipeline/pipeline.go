// Package pipeline runs candidate values through the ordered transform chain,
// the short-circuiting validator chain and the optional distinct check.
package pipeline

import (
	"errors"
	"reflect"

	"github.com/petrijr/statebox/pkg/api"
)

// Pipeline is immutable after construction and safe for concurrent use as
// long as its transforms and validators are.
type Pipeline[T any] struct {
	transforms []api.Transform[T]
	validators []api.Validator[T]
	distinct   bool
	equal      func(a, b T) bool
}

// New builds a pipeline from opts. A nil equal falls back to DeepEqual.
func New[T any](transforms []api.Transform[T], validators []api.Validator[T], distinct bool, equal func(a, b T) bool) *Pipeline[T] {
	if equal == nil {
		equal = DeepEqual[T]
	}
	return &Pipeline[T]{
		transforms: append([]api.Transform[T](nil), transforms...),
		validators: append([]api.Validator[T](nil), validators...),
		distinct:   distinct,
		equal:      equal,
	}
}

// Transform applies every transform left to right.
func (p *Pipeline[T]) Transform(v T) (T, error) {
	for _, fn := range p.transforms {
		next, err := safeTransform(fn, v)
		if err != nil {
			var zero T
			if errors.Is(err, api.ErrFilterFailed) {
				return zero, &api.Error{Kind: api.KindFilter, Err: err}
			}
			return zero, &api.Error{Kind: api.KindTransform, Err: err}
		}
		v = next
	}
	return v, nil
}

// Validate evaluates validators in order and stops at the first failure.
func (p *Pipeline[T]) Validate(v T) error {
	for _, val := range p.validators {
		if err := safeValidate(val, v); err != nil {
			return &api.Error{Kind: api.KindValidation, Err: err}
		}
	}
	return nil
}

// Equal reports structural equality under the pipeline's strategy.
func (p *Pipeline[T]) Equal(a, b T) bool {
	return p.equal(a, b)
}

// Run transforms and validates raw, then applies the distinct check against
// current. ok is false when the candidate must be silently dropped.
func (p *Pipeline[T]) Run(raw, current T) (out T, ok bool, err error) {
	out, err = p.Transform(raw)
	if err != nil {
		return out, false, err
	}
	if err := p.Validate(out); err != nil {
		var zero T
		return zero, false, err
	}
	if p.distinct && p.equal(out, current) {
		return out, false, nil
	}
	return out, true, nil
}

func safeTransform[T any](fn api.Transform[T], v T) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &api.PanicError{Value: r}
		}
	}()
	return fn(v)
}

func safeValidate[T any](val api.Validator[T], v T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &api.PanicError{Value: r}
		}
	}()
	return val.Validate(v)
}

// DeepEqual is the default structural equality: reflect.DeepEqual semantics,
// which terminate on cyclic values and never serialize.
func DeepEqual[T any](a, b T) bool {
	return reflect.DeepEqual(a, b)
}
