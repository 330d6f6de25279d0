// Package registry implements the process-scoped, keyed hand-off table the
// window operator uses to let its PRE and POST halves reach a coordinator
// neither of them owns, without introducing a cyclic reference between
// them: POST constructs the coordinator and registers it under a key both
// halves share; PRE resolves it once and removes the entry.
package registry

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Key identifies one registered hand-off. Keys are produced by New and are
// shared out-of-band between the two sides of a hand-off (e.g. embedded in
// both PRE and POST at operator-factory time).
type Key uuid.UUID

// New generates a fresh, random Key.
func New() Key {
	return Key(uuid.New())
}

func (k Key) String() string {
	return uuid.UUID(k).String()
}

// Registry is a generic, concurrency-safe keyed table supporting exactly
// the single hand-off pattern the window operator needs: Put once, Resolve
// exactly once (which also erases the entry).
type Registry[T any] struct {
	mu    sync.Mutex
	items map[Key]T
}

// NewRegistry constructs an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{items: make(map[Key]T)}
}

// Put registers value under key. It panics if key is already registered,
// since that would indicate two hand-offs racing on the same key, a
// construction-time programming error rather than a runtime condition.
func (r *Registry[T]) Put(key Key, value T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[key]; ok {
		panic(fmt.Sprintf("registry: key %s already registered", key))
	}
	r.items[key] = value
}

// Resolve looks up and removes the entry for key, reporting whether it was
// present. A second Resolve for the same key returns the zero value and
// false, enforcing single hand-off.
func (r *Registry[T]) Resolve(key Key) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[key]
	if ok {
		delete(r.items, key)
	}
	return v, ok
}
