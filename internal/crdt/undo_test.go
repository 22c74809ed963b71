package crdt

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestUndoRedoInverseLaw(t *testing.T) {
	d := NewDoc(WithClientID("a"))
	nodes := d.Map("nodes")
	_ = nodes.Set("base", 0)

	um := NewUndoManager(nodes, UndoOptions{})
	before := contents(d, "nodes")

	// M1..Mk: adds, updates and deletes
	_ = nodes.Set("n1", 1)
	_ = nodes.Set("n2", 2)
	_ = nodes.Set("n1", 10)
	_ = nodes.Delete("base")
	_ = d.Transact(nil, func(tx *Transaction) {
		_ = tx.Set(nodes, "n3", 3)
		tx.Delete(nodes, "n2")
	})
	after := contents(d, "nodes")
	k := 5

	for i := 0; i < k; i++ {
		ok, err := um.Undo()
		assert.Equal(t, nil, err)
		assert.Equal(t, true, ok)
	}
	if !reflect.DeepEqual(before, contents(d, "nodes")) {
		t.Fatalf("undo did not restore initial state: %v vs %v", before, contents(d, "nodes"))
	}
	assert.Equal(t, false, um.CanUndo())

	for i := 0; i < k; i++ {
		ok, err := um.Redo()
		assert.Equal(t, nil, err)
		assert.Equal(t, true, ok)
	}
	if !reflect.DeepEqual(after, contents(d, "nodes")) {
		t.Fatalf("redo did not restore final state: %v vs %v", after, contents(d, "nodes"))
	}
	assert.Equal(t, false, um.CanRedo())
}

func TestUndoOnEmptyStackIsNoop(t *testing.T) {
	d := NewDoc()
	um := NewUndoManager(d.Map("nodes"), UndoOptions{})

	ok, err := um.Undo()
	assert.Equal(t, nil, err)
	assert.Equal(t, false, ok)

	ok, err = um.Redo()
	assert.Equal(t, nil, err)
	assert.Equal(t, false, ok)
}

func TestNewChangeClearsRedo(t *testing.T) {
	d := NewDoc()
	nodes := d.Map("nodes")
	um := NewUndoManager(nodes, UndoOptions{})

	_ = nodes.Set("n1", 1)
	_, _ = um.Undo()
	assert.Equal(t, true, um.CanRedo())

	_ = nodes.Set("n2", 2)
	assert.Equal(t, false, um.CanRedo())
}

func TestUndoIgnoresRemoteAndUntrackedChanges(t *testing.T) {
	a := NewDoc(WithClientID("a"))
	b := NewDoc(WithClientID("b"))
	updates := collect(t, b)

	um := NewUndoManager(a.Map("nodes"), UndoOptions{})

	_ = b.Map("nodes").Set("remote", 1)
	assert.Equal(t, nil, a.ApplyUpdate((*updates)[0], "peer"))
	_ = a.Map("edges").Set("e1", 1)
	_ = a.Transact("replay", func(tx *Transaction) {
		_ = tx.Set(a.Map("nodes"), "untracked", 1)
	})

	assert.Equal(t, false, um.CanUndo())
}

func TestUndoCapacity(t *testing.T) {
	d := NewDoc()
	nodes := d.Map("nodes")
	um := NewUndoManager(nodes, UndoOptions{Capacity: 3})

	for i := 0; i < 5; i++ {
		_ = nodes.Set(fmt.Sprintf("n%d", i), i)
	}

	undone := 0
	for um.CanUndo() {
		_, _ = um.Undo()
		undone++
	}
	assert.Equal(t, 3, undone)
	assert.Equal(t, []string{"n0", "n1"}, nodes.Keys())
}

func TestUndoCaptureTimeoutMerges(t *testing.T) {
	d := NewDoc()
	nodes := d.Map("nodes")
	um := NewUndoManager(nodes, UndoOptions{CaptureTimeout: time.Hour})

	_ = nodes.Set("n1", 1)
	_ = nodes.Set("n1", 2)
	_ = nodes.Set("n2", 3)

	ok, _ := um.Undo()
	assert.Equal(t, true, ok)
	assert.Equal(t, 0, nodes.Len())
	assert.Equal(t, false, um.CanUndo())
}

func TestUndoDestroyStopsTracking(t *testing.T) {
	d := NewDoc()
	nodes := d.Map("nodes")
	um := NewUndoManager(nodes, UndoOptions{})

	_ = nodes.Set("n1", 1)
	um.Destroy()
	_ = nodes.Set("n2", 2)

	assert.Equal(t, false, um.CanUndo())
}
