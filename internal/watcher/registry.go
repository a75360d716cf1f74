package watcher

import (
	"fmt"
	"sort"
	"sync"

	"breakwatch/internal/ladder"
)

// Registry tracks the live watchers. It is the shared view the command
// surface and the reconciliation monitor read; watchers themselves never
// touch each other.
type Registry struct {
	mu       sync.Mutex
	watchers map[string]*Watcher
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{watchers: make(map[string]*Watcher)}
}

// Add registers a watcher under its id.
func (r *Registry) Add(w *Watcher) {
	r.mu.Lock()
	r.watchers[w.ID] = w
	r.mu.Unlock()
}

// Get looks a watcher up by id.
func (r *Registry) Get(id string) (*Watcher, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watchers[id]
	return w, ok
}

// Remove drops a watcher from the registry. The watcher itself is not
// stopped; callers cancel it first.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.watchers, id)
	r.mu.Unlock()
}

// Cancel requests a stop on the watcher with the given id.
func (r *Registry) Cancel(id string) error {
	w, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("watcher %s not found", id)
	}
	w.Cancel()
	return nil
}

// Snapshots returns a stable-ordered view of every tracked watcher.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	ws := make([]*Watcher, 0, len(r.watchers))
	for _, w := range r.watchers {
		ws = append(ws, w)
	}
	r.mu.Unlock()

	snaps := make([]Snapshot, 0, len(ws))
	for _, w := range ws {
		snaps = append(snaps, w.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps
}

// Ladders returns a snapshot of every active ladder, for reconciliation.
func (r *Registry) Ladders() []ladder.Snapshot {
	r.mu.Lock()
	ws := make([]*Watcher, 0, len(r.watchers))
	for _, w := range r.watchers {
		ws = append(ws, w)
	}
	r.mu.Unlock()

	var out []ladder.Snapshot
	for _, w := range ws {
		if ls, ok := w.LadderSnapshot(); ok {
			out = append(out, ls)
		}
	}
	return out
}

// Len reports the number of tracked watchers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watchers)
}
