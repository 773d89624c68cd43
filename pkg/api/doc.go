// Package api contains the contracts shared by the statebox container engine,
// its storage backends and the higher-level statebox package.
//
// Most users interact with the statebox package, which re-exports selected
// types and helpers from this package. The api package is intended for custom
// storage backends, timers, validators and observers.
//
// # Concepts
//
//   - Container: a reactive value with get/set/update/undo/redo/reset,
//     subscriptions and teardown.
//   - Options and Config: the frozen set of behaviors a container is built
//     with. Config holds the type-agnostic part that survives Map.
//   - Transform and Validator: the value pipeline every candidate passes
//     through before it may commit.
//   - Storage, ChangeFeed and Timer: collaborators the engine consumes for
//     durable state, external change notification and debounce scheduling.
//   - Observer: lifecycle callbacks for logging and metrics.
//
// # Errors
//
// Every failure raised by the engine is an *Error carrying a Kind. The
// package-level sentinels (ErrValidationFailed, ErrPersistence, ...) match
// through errors.Is, so callers never need to type-assert.
package api
