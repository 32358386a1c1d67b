// Package registry implements the C4 registries: hot-reloadable,
// priority-ordered collections of rules, enrichment loaders, and
// notification receivers, loaded from plug-in files watched on disk.
package registry

import (
	"sort"
	"sync/atomic"
)

// Registrable is the constraint satisfied by every entry a Registry can
// hold: a stable identifier and a priority used for ordering (§4.4,
// "ordered by descending priority, ties broken by stable id").
type Registrable interface {
	ID() string
	Priority() int
}

// Registry is a generic, hot-reloadable, priority-ordered snapshot
// container. Writers replace the whole slice pointer atomically so GetAll
// never blocks a concurrent reload (§4.4).
type Registry[T Registrable] struct {
	snapshot atomic.Pointer[[]T]
}

// New creates an empty Registry.
func New[T Registrable]() *Registry[T] {
	r := &Registry[T]{}
	empty := make([]T, 0)
	r.snapshot.Store(&empty)
	return r
}

// GetAll returns every registered entry, sorted by descending Priority with
// ties broken by ascending ID (§4.4's "tuple comparison").
func (r *Registry[T]) GetAll() []T {
	current := *r.snapshot.Load()
	out := make([]T, len(current))
	copy(out, current)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority() != out[j].Priority() {
			return out[i].Priority() > out[j].Priority()
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// Replace installs a fresh snapshot, discarding whatever was previously
// registered. Used for a full reload where no by-file bookkeeping applies
// (e.g. tests, or a single-file registry).
func (r *Registry[T]) Replace(entries []T) {
	next := make([]T, len(entries))
	copy(next, entries)
	r.snapshot.Store(&next)
}

// ReplaceSource atomically replaces every entry previously tagged with
// source, with the entries now produced by reloading that same source
// (§4.4: "a reload can replace exactly the entries it produced, nothing
// else"). taggedSource reports the source an entry was loaded from; entries
// not produced by source are preserved unchanged.
func ReplaceSource[T Registrable](r *Registry[T], source string, taggedSource func(T) string, fresh []T) {
	current := *r.snapshot.Load()
	next := make([]T, 0, len(current)+len(fresh))
	for _, entry := range current {
		if taggedSource(entry) != source {
			next = append(next, entry)
		}
	}
	next = append(next, fresh...)
	r.snapshot.Store(&next)
}

// Len reports the number of currently registered entries.
func (r *Registry[T]) Len() int {
	return len(*r.snapshot.Load())
}
