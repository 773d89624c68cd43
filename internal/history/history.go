// Package history implements the bounded undo/redo stacks over committed
// values.
package history

// Manager holds history (oldest first) and the redo stack. It is not safe
// for concurrent use; the container serializes access.
//
// A size of zero means unbounded.
type Manager[T any] struct {
	size    int
	entries []T
	redo    []T
}

// New returns a Manager whose history is [baseline].
func New[T any](size int, baseline T) *Manager[T] {
	return &Manager[T]{
		size:    size,
		entries: []T{baseline},
	}
}

// Size returns the configured bound.
func (m *Manager[T]) Size() int {
	return m.size
}

// Push records a new commit and clears the redo stack.
func (m *Manager[T]) Push(v T) {
	m.entries = m.bound(append(m.entries, v))
	m.redo = nil
}

// Undo moves the newest entry onto the redo stack and returns the entry that
// becomes current. ok is false when fewer than two entries exist.
func (m *Manager[T]) Undo() (current T, ok bool) {
	if len(m.entries) <= 1 {
		return current, false
	}
	last := m.entries[len(m.entries)-1]
	m.entries = m.entries[:len(m.entries)-1]
	m.redo = m.bound(append(m.redo, last))
	return m.entries[len(m.entries)-1], true
}

// Redo re-appends the most recently undone value and returns it.
func (m *Manager[T]) Redo() (current T, ok bool) {
	if len(m.redo) == 0 {
		return current, false
	}
	v := m.redo[len(m.redo)-1]
	m.redo = m.redo[:len(m.redo)-1]
	m.entries = m.bound(append(m.entries, v))
	return v, true
}

// Reset collapses history to [v] and clears the redo stack.
func (m *Manager[T]) Reset(v T) {
	m.entries = []T{v}
	m.redo = nil
}

// Replace swaps in a persisted or synced history, keeping only the newest
// size entries. An empty slice leaves history untouched. The redo stack is
// not modified.
func (m *Manager[T]) Replace(values []T) {
	if len(values) == 0 {
		return
	}
	m.entries = m.bound(append([]T(nil), values...))
}

// ClearRedo drops the redo stack.
func (m *Manager[T]) ClearRedo() {
	m.redo = nil
}

// Clear empties both stacks. Used by teardown only; a cleared manager
// reports no undo and no redo.
func (m *Manager[T]) Clear() {
	m.entries = nil
	m.redo = nil
}

// Values returns a copy of history, oldest first.
func (m *Manager[T]) Values() []T {
	return append([]T(nil), m.entries...)
}

// RedoValues returns a copy of the redo stack, oldest first.
func (m *Manager[T]) RedoValues() []T {
	return append([]T(nil), m.redo...)
}

func (m *Manager[T]) Len() int {
	return len(m.entries)
}

func (m *Manager[T]) RedoLen() int {
	return len(m.redo)
}

func (m *Manager[T]) CanUndo() bool {
	return len(m.entries) > 1
}

func (m *Manager[T]) CanRedo() bool {
	return len(m.redo) > 0
}

func (m *Manager[T]) bound(s []T) []T {
	if m.size <= 0 || len(s) <= m.size {
		return s
	}
	// Copy so the dropped prefix can be collected.
	return append([]T(nil), s[len(s)-m.size:]...)
}
