package statebox

import (
	"cmp"

	"github.com/petrijr/statebox/pkg/api"
)

// Pipe composes transforms left to right into one. The first error stops
// the chain.
func Pipe[T any](fns ...Transform[T]) Transform[T] {
	return func(v T) (T, error) {
		for _, fn := range fns {
			next, err := fn(v)
			if err != nil {
				return next, err
			}
			v = next
		}
		return v, nil
	}
}

// If applies then when cond holds and otherwise else. A nil branch passes
// the value through.
func If[T any](cond func(T) bool, then, otherwise Transform[T]) Transform[T] {
	return func(v T) (T, error) {
		branch := otherwise
		if cond(v) {
			branch = then
		}
		if branch == nil {
			return v, nil
		}
		return branch(v)
	}
}

// Switch dispatches to the branch named by selector. Unknown names use
// fallback; a nil fallback passes the value through.
func Switch[T any](selector func(T) string, branches map[string]Transform[T], fallback Transform[T]) Transform[T] {
	return func(v T) (T, error) {
		if branch, ok := branches[selector(v)]; ok && branch != nil {
			return branch(v)
		}
		if fallback == nil {
			return v, nil
		}
		return fallback(v)
	}
}

// Clamp limits ordered values to [lo, hi].
func Clamp[T cmp.Ordered](lo, hi T) Transform[T] {
	if hi < lo {
		lo, hi = hi, lo
	}
	return func(v T) (T, error) {
		return min(max(v, lo), hi), nil
	}
}

// Filter rejects values for which pred is false with ErrFilterFailed.
func Filter[T any](pred func(T) bool) Transform[T] {
	return api.Filter(pred)
}

// Func lifts an infallible function into a Transform.
func Func[T any](fn func(T) T) Transform[T] {
	return func(v T) (T, error) {
		return fn(v), nil
	}
}
