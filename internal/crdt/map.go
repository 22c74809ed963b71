package crdt

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Action describes what happened to a key within one transaction
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// KeyChange is the net effect of a transaction on one key
type KeyChange struct {
	Action   Action
	OldValue json.RawMessage // nil when the key did not exist before
	NewValue json.RawMessage // nil when the key no longer exists
}

// MapEvent is delivered to map observers after each transaction touching the map
type MapEvent struct {
	Map     string
	Origin  any
	Local   bool
	Changes map[string]KeyChange
}

// MapObserver receives map events
type MapObserver func(evt *MapEvent)

// Map is a replicated string-keyed map of JSON values
type Map struct {
	doc       *Doc
	name      string
	entries   map[string]Op // guarded by doc.mu; includes tombstones
	observers handlerList[MapObserver]
}

func newMap(doc *Doc, name string) *Map {
	return &Map{
		doc:     doc,
		name:    name,
		entries: make(map[string]Op),
	}
}

// Name returns the map name within its document
func (m *Map) Name() string {
	return m.name
}

// Doc returns the owning document
func (m *Map) Doc() *Doc {
	return m.doc
}

// GetRaw returns the stored JSON for key
func (m *Map) GetRaw(key string) (json.RawMessage, bool) {
	m.doc.mu.RLock()
	defer m.doc.mu.RUnlock()

	op, ok := m.entries[key]
	if !ok || op.Deleted {
		return nil, false
	}
	return op.Value, true
}

// Get decodes the value stored under key into out
func (m *Map) Get(key string, out any) (bool, error) {
	raw, ok := m.GetRaw(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("failed to decode %s[%s]: %w", m.name, key, err)
	}
	return true, nil
}

// Has reports whether key holds a live value
func (m *Map) Has(key string) bool {
	_, ok := m.GetRaw(key)
	return ok
}

// Keys returns the live keys in sorted order
func (m *Map) Keys() []string {
	m.doc.mu.RLock()
	defer m.doc.mu.RUnlock()

	keys := make([]string, 0, len(m.entries))
	for k, op := range m.entries {
		if !op.Deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Entries returns a copy of the live contents
func (m *Map) Entries() map[string]json.RawMessage {
	m.doc.mu.RLock()
	defer m.doc.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(m.entries))
	for k, op := range m.entries {
		if !op.Deleted {
			out[k] = op.Value
		}
	}
	return out
}

// Len returns the number of live keys
func (m *Map) Len() int {
	m.doc.mu.RLock()
	defer m.doc.mu.RUnlock()

	n := 0
	for _, op := range m.entries {
		if !op.Deleted {
			n++
		}
	}
	return n
}

// Set writes value under key in its own local transaction
func (m *Map) Set(key string, value any) error {
	return m.doc.Transact(nil, func(tx *Transaction) {
		_ = tx.Set(m, key, value)
	})
}

// Delete removes key in its own local transaction
func (m *Map) Delete(key string) error {
	return m.doc.Transact(nil, func(tx *Transaction) {
		tx.Delete(m, key)
	})
}

// Observe registers fn for every transaction that changes this map
func (m *Map) Observe(fn MapObserver) func() {
	return m.observers.add(fn)
}

func (m *Map) notify(evt *MapEvent) {
	for _, fn := range m.observers.snapshot() {
		fn(evt)
	}
}
