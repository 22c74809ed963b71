package crdt

import (
	"encoding/json"
	"fmt"
)

// Transaction groups writes so observers and peers see them as one change
type Transaction struct {
	doc    *Doc
	origin any
	local  bool

	ops     []Op
	covered map[string]seqRanges // remote ranges merged by this transaction
	touched []*Map
	changes map[*Map]map[string]*pendingChange
	err     error
}

type pendingChange struct {
	oldLive bool
	old     json.RawMessage
	newLive bool
	new     json.RawMessage
}

func newTransaction(doc *Doc, origin any, local bool) *Transaction {
	return &Transaction{
		doc:     doc,
		origin:  origin,
		local:   local,
		changes: make(map[*Map]map[string]*pendingChange),
	}
}

// Origin returns the value passed to Transact
func (tx *Transaction) Origin() any {
	return tx.origin
}

// Set writes value under key. The value is stored as JSON.
func (tx *Transaction) Set(m *Map, key string, value any) error {
	if m.doc != tx.doc {
		return tx.fail(fmt.Errorf("map %q belongs to another document", m.name))
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return tx.fail(fmt.Errorf("failed to encode %s[%s]: %w", m.name, key, err))
	}

	d := tx.doc
	d.mu.Lock()
	d.clock++
	d.seq++
	op := Op{Map: m.name, Key: key, Value: raw, Client: d.clientID, Seq: d.seq, Clock: d.clock}
	d.observeLocked(op.Client, Span{op.Seq, op.Seq})
	prev, existed := m.entries[key]
	m.entries[key] = op
	d.mu.Unlock()

	tx.record(m, op, prev, existed)
	return nil
}

// Delete tombstones key. Deleting a missing key does nothing.
func (tx *Transaction) Delete(m *Map, key string) {
	if m.doc != tx.doc {
		tx.fail(fmt.Errorf("map %q belongs to another document", m.name))
		return
	}

	d := tx.doc
	d.mu.Lock()
	prev, existed := m.entries[key]
	if !existed || prev.Deleted {
		d.mu.Unlock()
		return
	}
	d.clock++
	d.seq++
	op := Op{Map: m.name, Key: key, Deleted: true, Client: d.clientID, Seq: d.seq, Clock: d.clock}
	d.observeLocked(op.Client, Span{op.Seq, op.Seq})
	m.entries[key] = op
	d.mu.Unlock()

	tx.record(m, op, prev, existed)
}

// integrate merges a foreign op under the LWW rule
func (tx *Transaction) integrate(op Op) {
	d := tx.doc
	d.mu.Lock()
	m, ok := d.maps[op.Map]
	if !ok {
		m = newMap(d, op.Map)
		d.maps[op.Map] = m
	}
	if op.Clock > d.clock {
		d.clock = op.Clock
	}
	if op.Client == d.clientID && op.Seq > d.seq {
		d.seq = op.Seq
	}
	d.observeLocked(op.Client, Span{op.Seq, op.Seq})
	tx.addCovered(op.Client, Span{op.Seq, op.Seq})

	prev, existed := m.entries[op.Key]
	if existed && !op.wins(prev) {
		d.mu.Unlock()
		return
	}
	m.entries[op.Key] = op
	d.mu.Unlock()

	tx.record(m, op, prev, existed)
}

// cover marks a range as seen without carrying ops of its own
func (tx *Transaction) cover(client string, span Span) {
	d := tx.doc
	d.mu.Lock()
	if client == d.clientID && span[1] > d.seq {
		d.seq = span[1]
	}
	d.observeLocked(client, span)
	d.mu.Unlock()
	tx.addCovered(client, span)
}

func (tx *Transaction) addCovered(client string, span Span) {
	if tx.covered == nil {
		tx.covered = make(map[string]seqRanges)
	}
	tx.covered[client] = tx.covered[client].add(span)
}

// covers is what this transaction tells persistence and peers it merged.
// Local writes carry their own seqs.
func (tx *Transaction) covers() map[string][]Span {
	if len(tx.covered) == 0 {
		return nil
	}
	out := make(map[string][]Span, len(tx.covered))
	for client, r := range tx.covered {
		out[client] = r
	}
	return out
}

func (tx *Transaction) record(m *Map, op Op, prev Op, existed bool) {
	tx.ops = append(tx.ops, op)

	keys, ok := tx.changes[m]
	if !ok {
		keys = make(map[string]*pendingChange)
		tx.changes[m] = keys
		tx.touched = append(tx.touched, m)
	}

	pc, ok := keys[op.Key]
	if !ok {
		pc = &pendingChange{oldLive: existed && !prev.Deleted}
		if pc.oldLive {
			pc.old = prev.Value
		}
		keys[op.Key] = pc
	}
	pc.newLive = !op.Deleted
	pc.new = nil
	if pc.newLive {
		pc.new = op.Value
	}
}

func (tx *Transaction) fail(err error) error {
	if tx.err == nil {
		tx.err = err
	}
	return err
}

// TransactionEvent summarizes a committed transaction
type TransactionEvent struct {
	Origin  any
	Local   bool
	Changes map[string]map[string]KeyChange // map name -> key -> change
}

func (tx *Transaction) event() *TransactionEvent {
	evt := &TransactionEvent{
		Origin:  tx.origin,
		Local:   tx.local,
		Changes: make(map[string]map[string]KeyChange, len(tx.changes)),
	}
	for m, keys := range tx.changes {
		out := make(map[string]KeyChange, len(keys))
		for key, pc := range keys {
			switch {
			case !pc.oldLive && pc.newLive:
				out[key] = KeyChange{Action: ActionAdd, NewValue: pc.new}
			case pc.oldLive && !pc.newLive:
				out[key] = KeyChange{Action: ActionDelete, OldValue: pc.old}
			case pc.oldLive && pc.newLive:
				out[key] = KeyChange{Action: ActionUpdate, OldValue: pc.old, NewValue: pc.new}
			}
		}
		if len(out) > 0 {
			evt.Changes[m.name] = out
		}
	}
	return evt
}
