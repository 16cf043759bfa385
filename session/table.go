package session

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDuplicateID indicates an insert for an id that already has a live entry.
	ErrDuplicateID = errors.New("session: duplicate id")
	// ErrNotFound indicates no live entry exists for an id.
	ErrNotFound = errors.New("session: not found")
)

// Table is a keyed set of live sessions guarded by its own mutex. The lock
// is held only for a single map operation.
type Table[T any] struct {
	name string

	mu      sync.Mutex
	entries map[string]T
}

// NewTable returns an empty table. name only appears in error messages.
func NewTable[T any](name string) *Table[T] {
	return &Table[T]{
		name:    name,
		entries: make(map[string]T),
	}
}

// Insert adds entry under id. It never overwrites a live entry.
func (t *Table[T]) Insert(id string, entry T) error {
	if id == "" {
		return fmt.Errorf("session: %s id is required", t.name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[id]; exists {
		return fmt.Errorf("%w: %s %q", ErrDuplicateID, t.name, id)
	}
	t.entries[id] = entry
	return nil
}

// Take removes and returns the entry for id.
func (t *Table[T]) Take(id string) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.entries[id]
	if !exists {
		var zero T
		return zero, fmt.Errorf("%w: %s %q", ErrNotFound, t.name, id)
	}
	delete(t.entries, id)
	return entry, nil
}

// RemoveIf deletes the entry for id only when match accepts it, so a
// finished session cannot remove a newer session that reused its id.
func (t *Table[T]) RemoveIf(id string, match func(T) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.entries[id]
	if !exists || !match(entry) {
		return false
	}
	delete(t.entries, id)
	return true
}

// Get returns a copy of the entry for id without removing it.
func (t *Table[T]) Get(id string) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.entries[id]
	return entry, exists
}

// Update applies fn to the live entry for id in place.
func (t *Table[T]) Update(id string, fn func(*T)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.entries[id]
	if !exists {
		return fmt.Errorf("%w: %s %q", ErrNotFound, t.name, id)
	}
	fn(&entry)
	t.entries[id] = entry
	return nil
}

// Len returns the number of live entries.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
