// Package registry implements a mark-and-sweep key/value store. Removal is a
// soft delete that hides the entry from readers; the entry is only dropped by
// the next sweep.
package registry

import (
	"fmt"
	"sync"

	"github.com/bnema/skyrelay/internal/domain"
)

type entry[T any] struct {
	alive bool
	value T
}

type Registry[T any] struct {
	mu           sync.Mutex
	entries      map[string]*entry[T]
	order        []string
	sweepPending bool
}

func New[T any]() *Registry[T] {
	return &Registry[T]{entries: map[string]*entry[T]{}}
}

// Add stores value under key. A dead entry for the same key is replaced.
func (r *Registry[T]) Add(key string, value T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[key]; ok {
		if existing.alive {
			return fmt.Errorf("%w: %q", domain.ErrDuplicateKey, key)
		}
		existing.alive = true
		existing.value = value
		return nil
	}

	r.entries[key] = &entry[T]{alive: true, value: value}
	r.order = append(r.order, key)
	return nil
}

func (r *Registry[T]) Get(key string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok && e.alive {
		return e.value, true
	}

	var zero T
	return zero, false
}

func (r *Registry[T]) MarkDead(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownKey, key)
	}

	e.alive = false
	r.sweepPending = true
	return nil
}

// TryGC removes every dead entry when a sweep is pending and returns how many
// entries were removed.
func (r *Registry[T]) TryGC() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.sweepPending {
		return 0
	}

	removed := 0
	kept := r.order[:0]
	for _, key := range r.order {
		if r.entries[key].alive {
			kept = append(kept, key)
			continue
		}
		delete(r.entries, key)
		removed++
	}
	r.order = kept
	r.sweepPending = false

	return removed
}

// Live returns the live values in insertion order.
func (r *Registry[T]) Live() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, 0, len(r.order))
	for _, key := range r.order {
		if e := r.entries[key]; e.alive {
			out = append(out, e.value)
		}
	}
	return out
}

// Len counts entries including dead ones that have not been swept yet.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
