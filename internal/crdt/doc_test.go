package crdt

import (
	"encoding/json"
	"errors"
	"fmt"
	mathrand "math/rand"
	"reflect"
	"testing"

	"github.com/go-playground/assert/v2"
)

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// collect records every update a document emits
func collect(t *testing.T, d *Doc) *[][]byte {
	t.Helper()
	var updates [][]byte
	d.OnUpdate(func(update []byte, origin any) {
		updates = append(updates, update)
	})
	return &updates
}

func contents(d *Doc, name string) map[string]string {
	out := map[string]string{}
	for k, v := range d.Map(name).Entries() {
		out[k] = string(v)
	}
	return out
}

func TestSetGetDelete(t *testing.T) {
	d := NewDoc(WithClientID("a"))
	nodes := d.Map("nodes")

	assert.Equal(t, nil, nodes.Set("n1", point{X: 1, Y: 2}))

	var p point
	ok, err := nodes.Get("n1", &p)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, ok)
	assert.Equal(t, point{X: 1, Y: 2}, p)

	assert.Equal(t, nil, nodes.Delete("n1"))
	assert.Equal(t, false, nodes.Has("n1"))
	assert.Equal(t, 0, nodes.Len())

	// deleting a missing key emits nothing
	updates := collect(t, d)
	assert.Equal(t, nil, nodes.Delete("missing"))
	assert.Equal(t, 0, len(*updates))
}

func TestObserversFireBeforeTransactReturns(t *testing.T) {
	d := NewDoc(WithClientID("a"))
	nodes := d.Map("nodes")
	edges := d.Map("edges")

	var events []*MapEvent
	nodes.Observe(func(evt *MapEvent) {
		// reads from inside an observer see the committed state
		assert.Equal(t, false, edges.Has("e1"))
		events = append(events, evt)
	})

	assert.Equal(t, nil, nodes.Set("n1", point{}))
	assert.Equal(t, nil, edges.Set("e1", "x"))
	err := d.Transact(nil, func(tx *Transaction) {
		tx.Delete(nodes, "n1")
		tx.Delete(edges, "e1")
	})
	assert.Equal(t, nil, err)

	assert.Equal(t, 2, len(events))
	assert.Equal(t, ActionAdd, events[0].Changes["n1"].Action)
	assert.Equal(t, ActionDelete, events[1].Changes["n1"].Action)
	assert.Equal(t, true, events[1].Local)
}

func TestSetThenDeleteInOneTransactionIsNoChange(t *testing.T) {
	d := NewDoc(WithClientID("a"))
	nodes := d.Map("nodes")

	fired := 0
	nodes.Observe(func(evt *MapEvent) { fired++ })

	err := d.Transact(nil, func(tx *Transaction) {
		_ = tx.Set(nodes, "n1", 1)
		tx.Delete(nodes, "n1")
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, fired)
	assert.Equal(t, false, nodes.Has("n1"))
}

func TestUnsubscribe(t *testing.T) {
	d := NewDoc()
	nodes := d.Map("nodes")

	fired := 0
	unsubscribe := nodes.Observe(func(evt *MapEvent) { fired++ })
	_ = nodes.Set("a", 1)
	unsubscribe()
	unsubscribe()
	_ = nodes.Set("b", 2)
	assert.Equal(t, 1, fired)
}

func TestApplyUpdateIsIdempotent(t *testing.T) {
	a := NewDoc(WithClientID("a"))
	b := NewDoc(WithClientID("b"))
	updates := collect(t, a)

	_ = a.Map("nodes").Set("n1", point{X: 5})
	assert.Equal(t, 1, len(*updates))

	bUpdates := collect(t, b)
	assert.Equal(t, nil, b.ApplyUpdate((*updates)[0], "remote"))
	assert.Equal(t, nil, b.ApplyUpdate((*updates)[0], "remote"))

	// only the first application changed anything
	assert.Equal(t, 1, len(*bUpdates))
	assert.Equal(t, contents(a, "nodes"), contents(b, "nodes"))
}

func TestConcurrentSameKeyConvergesToOneValue(t *testing.T) {
	a := NewDoc(WithClientID("a"))
	b := NewDoc(WithClientID("b"))
	aUpdates := collect(t, a)
	bUpdates := collect(t, b)

	_ = a.Map("nodes").Set("n1", "from-a")
	_ = b.Map("nodes").Set("n1", "from-b")

	assert.Equal(t, nil, a.ApplyUpdate((*bUpdates)[0], "remote"))
	assert.Equal(t, nil, b.ApplyUpdate((*aUpdates)[0], "remote"))

	assert.Equal(t, contents(a, "nodes"), contents(b, "nodes"))
	// equal clocks: higher client id wins
	assert.Equal(t, `"from-b"`, contents(a, "nodes")["n1"])
}

func TestDeleteWinsOverOlderSet(t *testing.T) {
	a := NewDoc(WithClientID("a"))
	b := NewDoc(WithClientID("b"))
	aUpdates := collect(t, a)

	_ = a.Map("nodes").Set("n1", 1)
	assert.Equal(t, nil, b.ApplyUpdate((*aUpdates)[0], nil))

	bUpdates := collect(t, b)
	_ = b.Map("nodes").Delete("n1")
	assert.Equal(t, nil, a.ApplyUpdate((*bUpdates)[0], nil))

	assert.Equal(t, false, a.Map("nodes").Has("n1"))
}

func TestConvergenceUnderAnyInterleaving(t *testing.T) {
	for seed := int64(0); seed < 25; seed++ {
		rng := mathrand.New(mathrand.NewSource(seed))

		a := NewDoc(WithClientID("peer-a"))
		b := NewDoc(WithClientID("peer-b"))
		aUpdates := collect(t, a)
		bUpdates := collect(t, b)

		for i := 0; i < 40; i++ {
			d := a
			if rng.Intn(2) == 1 {
				d = b
			}
			mapName := []string{"nodes", "edges"}[rng.Intn(2)]
			key := fmt.Sprintf("k%d", rng.Intn(6))
			if rng.Intn(4) == 0 {
				_ = d.Map(mapName).Delete(key)
			} else {
				_ = d.Map(mapName).Set(key, rng.Intn(1000))
			}
		}

		fromA := append([][]byte(nil), *aUpdates...)
		fromB := append([][]byte(nil), *bUpdates...)
		rng.Shuffle(len(fromA), func(i, j int) { fromA[i], fromA[j] = fromA[j], fromA[i] })
		rng.Shuffle(len(fromB), func(i, j int) { fromB[i], fromB[j] = fromB[j], fromB[i] })

		for _, u := range fromB {
			assert.Equal(t, nil, a.ApplyUpdate(u, "remote"))
		}
		for _, u := range fromA {
			assert.Equal(t, nil, b.ApplyUpdate(u, "remote"))
		}

		for _, name := range []string{"nodes", "edges"} {
			if !reflect.DeepEqual(contents(a, name), contents(b, name)) {
				t.Fatalf("seed %d: %s diverged: %v vs %v", seed, name, contents(a, name), contents(b, name))
			}
		}
	}
}

func TestStateVectorSync(t *testing.T) {
	a := NewDoc(WithClientID("a"))
	b := NewDoc(WithClientID("b"))

	_ = a.Map("nodes").Set("n1", 1)
	_ = a.Map("nodes").Set("n2", 2)
	_ = a.Map("nodes").Delete("n1")
	_ = b.Map("edges").Set("e1", "x")

	// step 1: b sends its vector; step 2: a answers with what b lacks
	svB, err := b.EncodeStateVector()
	assert.Equal(t, nil, err)
	diff, err := a.EncodeStateAsUpdate(svB)
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, b.ApplyUpdate(diff, "sync"))

	svA, _ := a.EncodeStateVector()
	diff, _ = b.EncodeStateAsUpdate(svA)
	u, _ := DecodeUpdate(diff)
	// a already has everything except b's own write
	assert.Equal(t, 1, len(u.Ops))
	assert.Equal(t, nil, a.ApplyUpdate(diff, "sync"))

	assert.Equal(t, contents(a, "nodes"), contents(b, "nodes"))
	assert.Equal(t, contents(a, "edges"), contents(b, "edges"))
	assert.Equal(t, []string{"n2"}, b.Map("nodes").Keys())
}

func TestMergeUpdates(t *testing.T) {
	a := NewDoc(WithClientID("a"))
	updates := collect(t, a)
	_ = a.Map("nodes").Set("n1", 1)
	_ = a.Map("nodes").Set("n1", 2)
	_ = a.Map("nodes").Set("n2", 3)

	merged, err := MergeUpdates(*updates...)
	assert.Equal(t, nil, err)
	u, _ := DecodeUpdate(merged)
	assert.Equal(t, 2, len(u.Ops))

	b := NewDoc(WithClientID("b"))
	assert.Equal(t, nil, b.ApplyUpdate(merged, nil))
	assert.Equal(t, contents(a, "nodes"), contents(b, "nodes"))
}

func TestReplayOwnUpdatesAdvancesSequence(t *testing.T) {
	first := NewDoc(WithClientID("same"))
	updates := collect(t, first)
	_ = first.Map("nodes").Set("n1", 1)

	second := NewDoc(WithClientID("same"))
	assert.Equal(t, nil, second.ApplyUpdate((*updates)[0], nil))
	_ = second.Map("nodes").Set("n2", 2)

	assert.Equal(t, uint64(2), second.StateVector()["same"])
}

func TestDestroyedDocRejectsWrites(t *testing.T) {
	d := NewDoc()
	_ = d.Map("nodes").Set("n1", 1)
	d.Destroy()

	err := d.Map("nodes").Set("n2", 2)
	assert.Equal(t, true, errors.Is(err, ErrDestroyed))
	assert.Equal(t, true, d.Map("nodes").Has("n1"))
}

func TestSetUnencodableValue(t *testing.T) {
	d := NewDoc()
	err := d.Map("nodes").Set("bad", func() {})
	assert.NotEqual(t, nil, err)
	assert.Equal(t, false, d.Map("nodes").Has("bad"))
}

func TestDecodeGarbageUpdate(t *testing.T) {
	d := NewDoc()
	err := d.ApplyUpdate([]byte("not json"), nil)
	assert.NotEqual(t, nil, err)

	var syntaxErr *json.SyntaxError
	assert.Equal(t, true, errors.As(err, &syntaxErr))
}

func TestLaterOpDoesNotHideMissingEarlierOp(t *testing.T) {
	c := NewDoc(WithClientID("c"))
	updates := collect(t, c)
	_ = c.Map("nodes").Set("offline-edit", 1) // seq 1, never delivered
	_ = c.Map("nodes").Set("live-edit", 2)    // seq 2

	b := NewDoc(WithClientID("b"))
	assert.Equal(t, nil, b.ApplyUpdate((*updates)[1], nil))
	assert.Equal(t, uint64(0), b.StateVector()["c"])

	svB, _ := b.EncodeStateVector()
	diff, err := c.EncodeStateAsUpdate(svB)
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, b.ApplyUpdate(diff, "sync"))

	assert.Equal(t, []string{"live-edit", "offline-edit"}, b.Map("nodes").Keys())
	assert.Equal(t, uint64(2), b.StateVector()["c"])
}

func TestCoversFillSupersededSequence(t *testing.T) {
	c := NewDoc(WithClientID("c"))
	updates := collect(t, c)
	_ = c.Map("nodes").Set("n1", 1)
	_ = c.Map("nodes").Set("n1", 2)

	// seq 1 was overwritten, so no update will ever carry it again
	b := NewDoc(WithClientID("b"))
	assert.Equal(t, nil, b.ApplyUpdate((*updates)[1], nil))
	assert.Equal(t, uint64(0), b.StateVector()["c"])

	svB, _ := b.EncodeStateVector()
	diff, _ := c.EncodeStateAsUpdate(svB)
	assert.Equal(t, nil, b.ApplyUpdate(diff, "sync"))
	assert.Equal(t, uint64(2), b.StateVector()["c"])

	svB, _ = b.EncodeStateVector()
	diff, _ = c.EncodeStateAsUpdate(svB)
	u, _ := DecodeUpdate(diff)
	assert.Equal(t, 0, len(u.Ops))
}

func TestMergeUpdatesKeepsCoverage(t *testing.T) {
	a := NewDoc(WithClientID("a"))
	updates := collect(t, a)
	_ = a.Map("nodes").Set("n1", 1)
	_ = a.Map("nodes").Set("n1", 2)
	_ = a.Map("nodes").Set("n2", 3)

	merged, err := MergeUpdates(*updates...)
	assert.Equal(t, nil, err)

	b := NewDoc(WithClientID("b"))
	assert.Equal(t, nil, b.ApplyUpdate(merged, nil))
	assert.Equal(t, uint64(3), b.StateVector()["a"])
}

func TestRemoteUpdateEventCarriesCoverage(t *testing.T) {
	a := NewDoc(WithClientID("a"))
	_ = a.Map("nodes").Set("n1", 1)
	_ = a.Map("nodes").Set("n1", 2)
	full, _ := a.EncodeStateAsUpdate(nil)

	b := NewDoc(WithClientID("b"))
	stored := collect(t, b)
	assert.Equal(t, nil, b.ApplyUpdate(full, "remote"))

	// replaying what b emitted restores b's knowledge, not just its contents
	c := NewDoc(WithClientID("c"))
	assert.Equal(t, nil, c.ApplyUpdate((*stored)[0], nil))
	assert.Equal(t, uint64(2), c.StateVector()["a"])
}

func TestSeqRanges(t *testing.T) {
	var r seqRanges
	r = r.add(Span{3, 3})
	assert.Equal(t, uint64(0), r.watermark())
	r = r.add(Span{5, 6})
	r = r.add(Span{1, 2})
	assert.Equal(t, uint64(3), r.watermark())
	assert.Equal(t, []Span{{1, 3}, {5, 6}}, []Span(r))

	r = r.add(Span{4, 4})
	assert.Equal(t, uint64(6), r.watermark())
	assert.Equal(t, []Span{{5, 6}}, r.above(4))
	assert.Equal(t, 0, len(r.above(6)))
}
