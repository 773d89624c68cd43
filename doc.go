// Package statebox provides reactive value containers for Go.
//
// A container holds one value of any type and notifies subscribers when it
// changes. Every write passes through a small, configurable pipeline before
// it is committed, and the committed value can optionally be debounced,
// recorded for undo/redo, persisted, and kept in sync with other views of
// the same storage.
//
// # Core Concepts
//
//  1. Container
//  2. Pipeline (transforms, validators, distinct)
//  3. History
//  4. Storage and change feeds
//  5. Bundle and LoopRunner
//
// # Container
//
// A Container is created with New, MustNew or the fluent Builder:
//
//	count := statebox.Of(0).
//	    Transform(statebox.Clamp(0, 100)).
//	    Distinct().
//	    History(50).
//	    MustBuild()
//
//	unsubscribe := count.Subscribe(func(v int) { fmt.Println(v) })
//	_ = count.Set(42)
//	count.Undo()
//
// Subscribe delivers the current value immediately and every committed value
// after that, in commit order. Subscribers run outside the container's lock,
// so a subscriber may call Set; the nested commit is delivered after the
// current round. A panicking subscriber is reported to the error handlers and
// does not stop the others.
//
// # Pipeline
//
// Set runs transforms in order, then validators in order until the first
// failure, then the distinct check. A failure leaves the container untouched
// and is both returned and dispatched to OnError handlers as an *Error whose
// Kind tells which stage failed.
//
// Validators can be plain predicates, Check functions, or expressions
// compiled by pkg/rules (expr-lang or CEL). FromConfig builds a container
// from a YAML document loaded with pkg/config.
//
// # History
//
// With history enabled, every commit is recorded. Undo and Redo move through
// the history without re-running the pipeline; a new Set clears the redo
// stack. HistorySize bounds both stacks.
//
// # Storage
//
// Setting a storage key persists every commit and loads the stored value on
// construction. Values are encoded as JSON; cyclic references are written as
// a marker instead of failing, and values JSON cannot represent fall back to
// Options.Fallback. Backends:
//
//   - Memory (standalone or a shared MemoryArea of tabs)
//   - SQLite
//   - Postgres
//   - Redis
//   - MongoDB
//
// Backends that implement ChangeFeed deliver writes made elsewhere; the
// container applies them without writing them back. The feed is held only
// while the container has subscribers.
//
// # Bundle and LoopRunner
//
// Bundle wires many containers to one storage, logger and metrics collector
// and destroys them together. LoopRunner runs a single event loop whose timer
// containers can share, so debounced commits and application code run on one
// goroutine.
//
// For runnable programs, see the /examples directory.
package statebox
