package blueprint

import (
	"encoding/json"
	"sort"
	"sync"

	"blueprint-sync/internal/crdt"

	"github.com/rs/zerolog/log"
)

/*
LEARNING: PROJECTIONS

A projection turns one shared map into an ordered slice for the canvas:

  map observer fires → decode every value → sort by id → notify listeners

Listeners run synchronously inside the document's transaction, right
after the change that triggered them, so they always see the state the
write produced. They must not write to the document themselves.
*/

// Listener receives the full refreshed collection after every change
type Listener[T any] func(items []T)

type projection[T any] struct {
	m  *crdt.Map
	id func(T) string

	mu        sync.RWMutex
	items     []T
	listeners []listenerEntry[T]
	nextID    int
	detached  bool

	unobserve func()
}

type listenerEntry[T any] struct {
	id int
	fn Listener[T]
}

func newProjection[T any](m *crdt.Map, id func(T) string) *projection[T] {
	p := &projection[T]{m: m, id: id}
	p.items = p.decode()
	p.unobserve = m.Observe(func(*crdt.MapEvent) { p.refresh() })
	return p
}

func (p *projection[T]) decode() []T {
	return decodeAll(p.m, p.id)
}

// decodeAll reads the whole map sorted by id; values that are null or do
// not decode are skipped
func decodeAll[T any](m *crdt.Map, id func(T) string) []T {
	entries := m.Entries()
	out := make([]T, 0, len(entries))
	for key, raw := range entries {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			log.Warn().Err(err).Str("map", m.Name()).Str("key", key).Msg("⚠️  Skipping undecodable record")
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return id(out[i]) < id(out[j]) })
	return out
}

func (p *projection[T]) refresh() {
	items := p.decode()

	p.mu.Lock()
	p.items = items
	listeners := make([]Listener[T], len(p.listeners))
	for i, l := range p.listeners {
		listeners[i] = l.fn
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(clone(items))
	}
}

func (p *projection[T]) snapshot() []T {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return clone(p.items)
}

func (p *projection[T]) subscribe(fn Listener[T]) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := p.nextID
	p.listeners = append(p.listeners, listenerEntry[T]{id: id, fn: fn})

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		for i, l := range p.listeners {
			if l.id == id {
				p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
				return
			}
		}
	}
}

func (p *projection[T]) attached() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.detached
}

// detach stops following the map; the last snapshot stays readable
func (p *projection[T]) detach() {
	p.mu.Lock()
	if p.detached {
		p.mu.Unlock()
		return
	}
	p.detached = true
	p.listeners = nil
	p.mu.Unlock()
	p.unobserve()
}

func clone[T any](items []T) []T {
	out := make([]T, len(items))
	copy(out, items)
	return out
}
