package crdt

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

/*
LEARNING: SHARED DOCUMENT

A Doc is a set of named last-writer-wins maps replicated between peers.

Locking:
- txMu serializes transactions and the observer dispatch that follows them,
  so listeners always see the document exactly as the transaction left it.
- mu guards the map contents and clocks. It is released before observers
  run, so observers may read (Get/Entries) but must NOT call Transact or
  ApplyUpdate on the same document.
*/

// ErrDestroyed is returned when a destroyed document is mutated
var ErrDestroyed = errors.New("crdt: document destroyed")

// Doc is a replicated document holding named maps
type Doc struct {
	clientID string
	logger   zerolog.Logger

	txMu sync.Mutex

	mu        sync.RWMutex
	seq       uint64
	clock     uint64
	maps      map[string]*Map
	seen      map[string]seqRanges
	destroyed bool

	updateHandlers  handlerList[UpdateHandler]
	afterTxHandlers handlerList[AfterTransactionHandler]
}

// UpdateHandler receives the encoded ops of every committed transaction
type UpdateHandler func(update []byte, origin any)

// AfterTransactionHandler receives a summary of every committed transaction
type AfterTransactionHandler func(evt *TransactionEvent)

// Option configures a Doc
type Option func(*Doc)

// WithClientID fixes the replica id (random by default)
func WithClientID(id string) Option {
	return func(d *Doc) { d.clientID = id }
}

// WithLogger sets the document logger
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Doc) { d.logger = logger }
}

// NewDoc creates an empty document
func NewDoc(opts ...Option) *Doc {
	d := &Doc{
		clientID: uuid.NewString(),
		logger:   log.Logger,
		maps:     make(map[string]*Map),
		seen:     make(map[string]seqRanges),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With().Str("client", d.clientID).Logger()
	return d
}

// ClientID returns the replica id used for local writes
func (d *Doc) ClientID() string {
	return d.clientID
}

// Map returns the named map, creating it on first access
func (d *Doc) Map(name string) *Map {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, ok := d.maps[name]
	if !ok {
		m = newMap(d, name)
		d.maps[name] = m
	}
	return m
}

// Transact runs fn as one atomic change. Observers, after-transaction and
// update handlers fire once, synchronously, before Transact returns.
func (d *Doc) Transact(origin any, fn func(tx *Transaction)) error {
	return d.transact(origin, true, fn)
}

func (d *Doc) transact(origin any, local bool, fn func(tx *Transaction)) error {
	d.txMu.Lock()
	defer d.txMu.Unlock()

	if d.isDestroyed() {
		return ErrDestroyed
	}

	tx := newTransaction(d, origin, local)
	fn(tx)
	// writes applied before a failed Set are still committed
	return errors.Join(tx.err, d.commit(tx))
}

func (d *Doc) commit(tx *Transaction) error {
	if len(tx.ops) == 0 {
		return nil
	}

	evt := tx.event()
	for _, m := range tx.touched {
		changes := evt.Changes[m.name]
		if len(changes) == 0 {
			continue
		}
		m.notify(&MapEvent{Map: m.name, Origin: tx.origin, Local: tx.local, Changes: changes})
	}

	for _, h := range d.afterTxHandlers.snapshot() {
		h(evt)
	}

	ops := make([]Op, len(tx.ops))
	copy(ops, tx.ops)
	update, err := EncodeUpdate(Update{Ops: ops, Covers: tx.covers()})
	if err != nil {
		return err
	}
	for _, h := range d.updateHandlers.snapshot() {
		h(update, tx.origin)
	}
	return nil
}

// ApplyUpdate merges a remote or replayed update. origin is passed to
// handlers so bindings can skip their own writes.
func (d *Doc) ApplyUpdate(update []byte, origin any) error {
	u, err := DecodeUpdate(update)
	if err != nil {
		return err
	}
	return d.transact(origin, false, func(tx *Transaction) {
		for _, op := range u.Ops {
			tx.integrate(op)
		}
		for client, spans := range u.Covers {
			for _, span := range spans {
				tx.cover(client, span)
			}
		}
	})
}

// OnUpdate registers an update handler. Call the returned func to remove it.
func (d *Doc) OnUpdate(h UpdateHandler) func() {
	return d.updateHandlers.add(h)
}

// OnAfterTransaction registers a transaction handler
func (d *Doc) OnAfterTransaction(h AfterTransactionHandler) func() {
	return d.afterTxHandlers.add(h)
}

// StateVector returns, per client, the sequence up to which every op is known
func (d *Doc) StateVector() StateVector {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sv := make(StateVector, len(d.seen))
	for client, r := range d.seen {
		if w := r.watermark(); w > 0 {
			sv[client] = w
		}
	}
	return sv
}

func (d *Doc) observeLocked(client string, span Span) {
	d.seen[client] = d.seen[client].add(span)
}

// EncodeStateVector serializes the current state vector
func (d *Doc) EncodeStateVector() ([]byte, error) {
	return EncodeStateVector(d.StateVector())
}

// EncodeStateAsUpdate returns every live entry and tombstone the holder of
// encodedSV has not seen, covering every range this document knows past
// that vector. A nil vector yields the full state.
func (d *Doc) EncodeStateAsUpdate(encodedSV []byte) ([]byte, error) {
	sv, err := DecodeStateVector(encodedSV)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	var ops []Op
	for _, m := range d.maps {
		for _, op := range m.entries {
			if op.Seq > sv[op.Client] {
				ops = append(ops, op)
			}
		}
	}
	covers := make(map[string][]Span)
	for client, r := range d.seen {
		if spans := r.above(sv[client]); len(spans) > 0 {
			covers[client] = spans
		}
	}
	d.mu.RUnlock()

	sortOps(ops)
	u := Update{Ops: ops}
	if len(covers) > 0 {
		u.Covers = covers
	}
	return EncodeUpdate(u)
}

// Destroy drops every handler and observer. Later mutations fail with
// ErrDestroyed; reads keep returning the last state.
func (d *Doc) Destroy() {
	d.txMu.Lock()
	defer d.txMu.Unlock()

	d.mu.Lock()
	d.destroyed = true
	maps := make([]*Map, 0, len(d.maps))
	for _, m := range d.maps {
		maps = append(maps, m)
	}
	d.mu.Unlock()

	for _, m := range maps {
		m.observers.clear()
	}
	d.updateHandlers.clear()
	d.afterTxHandlers.clear()
	d.logger.Debug().Msg("document destroyed")
}

func (d *Doc) isDestroyed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.destroyed
}

// handlerList is an ordered set of callbacks with stable unsubscribe
type handlerList[T any] struct {
	mu     sync.Mutex
	nextID int
	items  []handlerEntry[T]
}

type handlerEntry[T any] struct {
	id int
	fn T
}

func (l *handlerList[T]) add(fn T) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	l.items = append(l.items, handlerEntry[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, item := range l.items {
				if item.id == id {
					l.items = append(l.items[:i:i], l.items[i+1:]...)
					return
				}
			}
		})
	}
}

func (l *handlerList[T]) snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]T, len(l.items))
	for i, item := range l.items {
		out[i] = item.fn
	}
	return out
}

func (l *handlerList[T]) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = nil
}
