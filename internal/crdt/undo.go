package crdt

import (
	"encoding/json"
	"sync"
	"time"
)

/*
LEARNING: UNDO OVER A REPLICATED MAP

The undo manager records, per tracked transaction, the value every changed
key had before and after. Undo writes the "before" values back in a new
transaction; that transaction is itself recorded on the redo stack, so redo
is just "undo the undo".

Only local transactions whose origin is tracked are recorded: remote edits
from other peers are never undone by this replica.
*/

// UndoOptions configures an UndoManager
type UndoOptions struct {
	// Capacity bounds the undo stack. Oldest entries are dropped first.
	Capacity int
	// CaptureTimeout merges changes made within this window into one step.
	// Zero records every transaction as its own step.
	CaptureTimeout time.Duration
	// TrackedOrigins lists transaction origins to record. Defaults to {nil}.
	TrackedOrigins []any
}

// DefaultUndoCapacity is used when UndoOptions.Capacity is zero
const DefaultUndoCapacity = 100

// UndoManager tracks changes to one map of one document
type UndoManager struct {
	doc     *Doc
	m       *Map
	opts    UndoOptions
	tracked map[any]struct{}

	mu         sync.Mutex
	undoStack  []*undoItem
	redoStack  []*undoItem
	lastChange time.Time

	unsubscribe func()
}

type undoItem struct {
	// key -> value before the change (nil: key was absent)
	before map[string]json.RawMessage
}

type undoOrigin struct {
	um   *UndoManager
	redo bool
}

// NewUndoManager starts tracking m
func NewUndoManager(m *Map, opts UndoOptions) *UndoManager {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultUndoCapacity
	}
	if len(opts.TrackedOrigins) == 0 {
		opts.TrackedOrigins = []any{nil}
	}

	um := &UndoManager{
		doc:     m.doc,
		m:       m,
		opts:    opts,
		tracked: make(map[any]struct{}, len(opts.TrackedOrigins)),
	}
	for _, o := range opts.TrackedOrigins {
		um.tracked[o] = struct{}{}
	}
	um.unsubscribe = m.doc.OnAfterTransaction(um.afterTransaction)
	return um
}

func (um *UndoManager) afterTransaction(evt *TransactionEvent) {
	changes := evt.Changes[um.m.name]
	if len(changes) == 0 {
		return
	}

	item := &undoItem{before: make(map[string]json.RawMessage, len(changes))}
	for key, c := range changes {
		item.before[key] = c.OldValue
	}

	um.mu.Lock()
	defer um.mu.Unlock()

	if origin, ok := evt.Origin.(undoOrigin); ok && origin.um == um {
		if origin.redo {
			um.undoStack = um.push(um.undoStack, item)
		} else {
			um.redoStack = um.push(um.redoStack, item)
		}
		return
	}

	if !evt.Local {
		return
	}
	if _, ok := um.tracked[evt.Origin]; !ok {
		return
	}

	now := time.Now()
	if um.opts.CaptureTimeout > 0 && len(um.undoStack) > 0 && now.Sub(um.lastChange) < um.opts.CaptureTimeout {
		top := um.undoStack[len(um.undoStack)-1]
		for key, before := range item.before {
			if _, seen := top.before[key]; !seen {
				top.before[key] = before
			}
		}
	} else {
		um.undoStack = um.push(um.undoStack, item)
	}
	um.lastChange = now
	um.redoStack = nil
}

func (um *UndoManager) push(stack []*undoItem, item *undoItem) []*undoItem {
	stack = append(stack, item)
	if len(stack) > um.opts.Capacity {
		stack = stack[len(stack)-um.opts.Capacity:]
	}
	return stack
}

// Undo reverts the most recent tracked change. It reports whether anything
// was reverted.
func (um *UndoManager) Undo() (bool, error) {
	return um.pop(false)
}

// Redo reapplies the most recently undone change
func (um *UndoManager) Redo() (bool, error) {
	return um.pop(true)
}

func (um *UndoManager) pop(redo bool) (bool, error) {
	um.mu.Lock()
	stack := &um.undoStack
	if redo {
		stack = &um.redoStack
	}
	if len(*stack) == 0 {
		um.mu.Unlock()
		return false, nil
	}
	item := (*stack)[len(*stack)-1]
	*stack = (*stack)[:len(*stack)-1]
	// the next tracked change must not merge into an undone step
	um.lastChange = time.Time{}
	um.mu.Unlock()

	err := um.doc.Transact(undoOrigin{um: um, redo: redo}, func(tx *Transaction) {
		for key, before := range item.before {
			if before == nil {
				tx.Delete(um.m, key)
				continue
			}
			_ = tx.Set(um.m, key, before)
		}
	})
	return err == nil, err
}

// CanUndo reports whether Undo would do anything
func (um *UndoManager) CanUndo() bool {
	um.mu.Lock()
	defer um.mu.Unlock()
	return len(um.undoStack) > 0
}

// CanRedo reports whether Redo would do anything
func (um *UndoManager) CanRedo() bool {
	um.mu.Lock()
	defer um.mu.Unlock()
	return len(um.redoStack) > 0
}

// Clear empties both stacks
func (um *UndoManager) Clear() {
	um.mu.Lock()
	defer um.mu.Unlock()
	um.undoStack = nil
	um.redoStack = nil
}

// Destroy clears history and stops tracking
func (um *UndoManager) Destroy() {
	um.unsubscribe()
	um.Clear()
}
